package remoteapi

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// handlerFunc answers one request; returning false sends no reply.
type handlerFunc func(req *Request) (Reply, bool)

type testServer struct {
	ln   net.Listener
	mu   sync.Mutex
	seen []string
}

func startServer(t *testing.T, handle handlerFunc) (*testServer, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &testServer{ln: ln}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serve(c, handle)
		}
	}()
	return srv, ln.Addr().(*net.TCPAddr).Port
}

func (s *testServer) serve(c net.Conn, handle handlerFunc) {
	defer c.Close()
	dec := cbor.NewDecoder(c)
	enc := cbor.NewEncoder(c)
	for {
		req, err := ReadRequest(dec)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.seen = append(s.seen, req.Func)
		s.mu.Unlock()

		if OpMode(req.OpMode) == OpModeOneshot {
			continue
		}
		rep, ok := handle(req)
		if !ok {
			continue
		}
		rep.ID = req.ID
		if err := enc.Encode(rep); err != nil {
			return
		}
	}
}

func (s *testServer) Seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

func simHandler(req *Request) (Reply, bool) {
	switch req.Func {
	case "simxStart":
		return Reply{Out: []interface{}{int32(7)}}, true
	case "simxGetObjectHandle":
		var name string
		if err := cbor.Unmarshal(req.Args[0], &name); err != nil || name != "body" {
			return Reply{Ret: int32(ReturnRemoteError)}, true
		}
		return Reply{Out: []interface{}{int32(42)}}, true
	case "simxGetObjectVelocity":
		return Reply{Out: []interface{}{
			[]float32{1, 2, 3},
			[]float32{4, 5, 6},
		}}, true
	case "simxReadForceSensor":
		return Reply{Out: []interface{}{uint8(1), []float32{0, 0, 9.8}, []float32{0, 0, 0}}}, true
	case "simxGetObjects":
		return Reply{Out: []interface{}{[]int32{10, 11, 12}}}, true
	case "simxGetPingTime":
		return Reply{}, false
	default:
		return Reply{}, true
	}
}

func TestClientStartAndCalls(t *testing.T) {
	_, port := startServer(t, simHandler)
	ctx := context.Background()
	c := NewClient()

	id, err := c.Start(ctx, "127.0.0.1", port, DefaultStartOptions())
	require.NoError(t, err)
	assert.True(t, c.Connected(id))

	h, code := c.GetObjectHandle(ctx, id, "body", Blocking)
	require.Equal(t, ReturnOK, code)
	assert.Equal(t, Handle(42), h)

	_, code = c.GetObjectHandle(ctx, id, "missing", Blocking)
	assert.Equal(t, ReturnRemoteError, code)

	lin, ang, code := c.GetObjectVelocity(ctx, id, h, Blocking)
	require.Equal(t, ReturnOK, code)
	assert.Equal(t, Vec3{1, 2, 3}, lin)
	assert.Equal(t, Vec3{4, 5, 6}, ang)

	state, force, _, code := c.ReadForceSensor(ctx, id, h, Blocking)
	require.Equal(t, ReturnOK, code)
	assert.True(t, state.NotReady())
	assert.Equal(t, Vec3{0, 0, 9.8}, force)

	handles, code := c.GetObjects(ctx, id, ObjectTypeAll, Blocking)
	require.Equal(t, ReturnOK, code)
	assert.Equal(t, []Handle{10, 11, 12}, handles)

	assert.Equal(t, ReturnOK, c.StartSimulation(ctx, id, Blocking))
	assert.Equal(t, ReturnOK, c.Synchronous(ctx, id, true))
	assert.Equal(t, ReturnOK, c.SynchronousTrigger(ctx, id))
}

func TestClientOneshotHasNoReply(t *testing.T) {
	srv, port := startServer(t, simHandler)
	ctx := context.Background()
	c := NewClient()

	id, err := c.Start(ctx, "127.0.0.1", port, DefaultStartOptions())
	require.NoError(t, err)

	assert.Equal(t, ReturnNoValue, c.AddStatusbarMessage(ctx, id, "hello", OpModeOneshot))

	// the stream stays aligned after a reply-less request
	h, code := c.GetObjectHandle(ctx, id, "body", Blocking)
	require.Equal(t, ReturnOK, code)
	assert.Equal(t, Handle(42), h)

	assert.Contains(t, srv.Seen(), "simxAddStatusbarMessage")
}

func TestClientStartRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	c := NewClient()
	id, err := c.Start(context.Background(), "127.0.0.1", port, DefaultStartOptions())
	assert.Error(t, err)
	assert.Equal(t, NoClient, id)
}

func TestClientHandshakeRejected(t *testing.T) {
	_, port := startServer(t, func(req *Request) (Reply, bool) {
		return Reply{Ret: int32(ReturnInitializeError)}, true
	})

	c := NewClient()
	id, err := c.Start(context.Background(), "127.0.0.1", port, DefaultStartOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCallFailed)
	assert.Equal(t, NoClient, id)
}

func TestClientUnknownClientID(t *testing.T) {
	c := NewClient()
	_, code := c.GetObjectHandle(context.Background(), ClientID(99), "body", Blocking)
	assert.Equal(t, ReturnLocalError, code)
}

func TestClientFinish(t *testing.T) {
	srv, port := startServer(t, simHandler)
	ctx := context.Background()
	c := NewClient()

	a, err := c.Start(ctx, "127.0.0.1", port, DefaultStartOptions())
	require.NoError(t, err)
	b, err := c.Start(ctx, "127.0.0.1", port, DefaultStartOptions())
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	c.Finish(ctx, a)
	assert.False(t, c.Connected(a))
	assert.True(t, c.Connected(b))
	assert.Equal(t, ReturnLocalError, c.StartSimulation(ctx, a, Blocking))

	c.Finish(ctx, AllClients)
	assert.False(t, c.Connected(b))

	assert.Eventually(t, func() bool {
		n := 0
		for _, fn := range srv.Seen() {
			if fn == "simxFinish" {
				n++
			}
		}
		return n == 2
	}, time.Second, 10*time.Millisecond)
}

func TestClientCallTimeout(t *testing.T) {
	_, port := startServer(t, simHandler)
	ctx := context.Background()
	c := NewClient(WithCallTimeout(50 * time.Millisecond))

	id, err := c.Start(ctx, "127.0.0.1", port, DefaultStartOptions())
	require.NoError(t, err)

	_, code := c.GetPingTime(ctx, id)
	assert.Equal(t, ReturnTimeout, code)

	// a timed out stream is not reused
	assert.Equal(t, ReturnLocalError, c.StartSimulation(ctx, id, Blocking))
}

func TestClientObserver(t *testing.T) {
	_, port := startServer(t, simHandler)
	ctx := context.Background()

	var mu sync.Mutex
	seen := map[string]ReturnCode{}
	c := NewClient(WithObserver(func(fn string, code ReturnCode, elapsed time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		seen[fn] = code
	}))

	id, err := c.Start(ctx, "127.0.0.1", port, DefaultStartOptions())
	require.NoError(t, err)
	c.GetObjectHandle(ctx, id, "nope", Blocking)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ReturnOK, seen["simxStart"])
	assert.Equal(t, ReturnRemoteError, seen["simxGetObjectHandle"])
}

func TestClientDialerError(t *testing.T) {
	boom := errors.New("boom")
	c := NewClient(WithDialer(func(ctx context.Context, network, address string) (net.Conn, error) {
		return nil, boom
	}))
	_, err := c.Start(context.Background(), "127.0.0.1", 19997, DefaultStartOptions())
	assert.ErrorIs(t, err, boom)
}
