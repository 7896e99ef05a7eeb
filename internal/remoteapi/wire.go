package remoteapi

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Wire format: both directions carry a stream of self-delimiting CBOR
// maps. A reply echoes the request id. Oneshot requests get no reply.
type request struct {
	ID     uint32        `cbor:"id"`
	Client int32         `cbor:"client"`
	Func   string        `cbor:"func"`
	OpMode int32         `cbor:"opmode"`
	Args   []interface{} `cbor:"args"`
}

type reply struct {
	ID  uint32            `cbor:"id"`
	Ret int32             `cbor:"ret"`
	Out []cbor.RawMessage `cbor:"out"`
}

// Request and Reply are the exported views used by servers and test doubles.
type Request struct {
	ID     uint32            `cbor:"id"`
	Client int32             `cbor:"client"`
	Func   string            `cbor:"func"`
	OpMode int32             `cbor:"opmode"`
	Args   []cbor.RawMessage `cbor:"args"`
}

type Reply struct {
	ID  uint32        `cbor:"id"`
	Ret int32         `cbor:"ret"`
	Out []interface{} `cbor:"out"`
}

// conn is one framed connection. Calls on it are serialized.
type conn struct {
	mu       sync.Mutex
	nc       net.Conn
	enc      *cbor.Encoder
	dec      *cbor.Decoder
	seq      uint32
	serverID int32
	broken   bool
}

func newConn(nc net.Conn) *conn {
	return &conn{
		nc:  nc,
		enc: cbor.NewEncoder(nc),
		dec: cbor.NewDecoder(nc),
	}
}

func (cn *conn) roundTrip(ctx context.Context, timeout time.Duration, req request, outs ...interface{}) ReturnCode {
	cn.mu.Lock()
	defer cn.mu.Unlock()

	if cn.broken {
		return ReturnLocalError
	}

	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if timeout > 0 {
		if d := time.Now().Add(timeout); deadline.IsZero() || d.Before(deadline) {
			deadline = d
		}
	}
	if err := cn.nc.SetDeadline(deadline); err != nil {
		return cn.fail(err)
	}
	stop := context.AfterFunc(ctx, func() {
		cn.nc.SetDeadline(time.Now())
	})
	defer stop()

	cn.seq++
	req.ID = cn.seq
	if err := cn.enc.Encode(req); err != nil {
		return cn.fail(err)
	}
	if OpMode(req.OpMode) == OpModeOneshot {
		return ReturnNoValue
	}

	var rep reply
	if err := cn.dec.Decode(&rep); err != nil {
		return cn.fail(err)
	}
	if rep.ID != req.ID {
		cn.broken = true
		return ReturnLocalError
	}

	code := ReturnCode(rep.Ret)
	if !code.OK() {
		return code
	}
	if len(rep.Out) < len(outs) {
		return ReturnLocalError
	}
	for i, out := range outs {
		if err := cbor.Unmarshal(rep.Out[i], out); err != nil {
			return ReturnLocalError
		}
	}
	return ReturnOK
}

// fail marks the stream unusable; a half-read message cannot be resynced.
func (cn *conn) fail(err error) ReturnCode {
	cn.broken = true
	if isTimeout(err) {
		return ReturnTimeout
	}
	return ReturnLocalError
}

func (cn *conn) close() error {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	cn.broken = true
	return cn.nc.Close()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// ReadRequest decodes the next request from a server-side stream.
func ReadRequest(dec *cbor.Decoder) (*Request, error) {
	var req Request
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	return &req, nil
}
