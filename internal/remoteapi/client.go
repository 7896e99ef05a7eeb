package remoteapi

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// DialFunc opens the transport to a remote API server.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Client is the TCP implementation of API. One Client may hold several
// connections, each identified by the ClientID returned from Start.
type Client struct {
	mu          sync.Mutex
	conns       map[ClientID]*conn
	nextID      ClientID
	dial        DialFunc
	observer    CallObserver
	callTimeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDialer replaces the TCP dialer.
func WithDialer(dial DialFunc) ClientOption {
	return func(c *Client) {
		c.dial = dial
	}
}

// WithObserver installs a hook called after every remote call.
func WithObserver(obs CallObserver) ClientOption {
	return func(c *Client) {
		c.observer = obs
	}
}

// WithCallTimeout bounds each call. Zero leaves calls bounded only by ctx.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.callTimeout = d
	}
}

// NewClient creates a client with no open connections.
func NewClient(opts ...ClientOption) *Client {
	var d net.Dialer
	c := &Client{
		conns: make(map[ClientID]*conn),
		dial:  d.DialContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ API = (*Client)(nil)

// Start dials address:port and performs the hello exchange.
func (c *Client) Start(ctx context.Context, address string, port int, opts StartOptions) (ClientID, error) {
	began := time.Now()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	addr := net.JoinHostPort(address, strconv.Itoa(port))
	nc, err := c.dial(ctx, "tcp", addr)
	if err != nil {
		c.observe("simxStart", ReturnLocalError, began)
		return NoClient, fmt.Errorf("remoteapi: connect %s: %w", addr, err)
	}

	cn := newConn(nc)
	var serverID int32
	code := cn.roundTrip(ctx, 0, request{
		Client: int32(NoClient),
		Func:   "simxStart",
		OpMode: int32(Blocking),
		Args:   []interface{}{opts.CommThreadCycle.Milliseconds()},
	}, &serverID)
	c.observe("simxStart", code, began)
	if !code.OK() {
		nc.Close()
		return NoClient, fmt.Errorf("remoteapi: handshake with %s: %w", addr, CheckCall("simxStart", code))
	}
	cn.serverID = serverID

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.conns[id] = cn
	c.mu.Unlock()

	return id, nil
}

// Finish sends a oneshot goodbye and closes the connection.
func (c *Client) Finish(ctx context.Context, client ClientID) {
	c.mu.Lock()
	var closing []*conn
	if client == AllClients {
		for id, cn := range c.conns {
			closing = append(closing, cn)
			delete(c.conns, id)
		}
	} else if cn, ok := c.conns[client]; ok {
		closing = append(closing, cn)
		delete(c.conns, client)
	}
	c.mu.Unlock()

	for _, cn := range closing {
		cn.roundTrip(ctx, c.callTimeout, request{
			Client: cn.serverID,
			Func:   "simxFinish",
			OpMode: int32(OpModeOneshot),
		})
		cn.close()
	}
}

// Connected reports whether client refers to an open connection.
func (c *Client) Connected(client ClientID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.conns[client]
	return ok
}

func (c *Client) call(ctx context.Context, client ClientID, fn string, mode OpMode, args []interface{}, outs ...interface{}) ReturnCode {
	began := time.Now()

	c.mu.Lock()
	cn, ok := c.conns[client]
	c.mu.Unlock()
	if !ok {
		c.observe(fn, ReturnLocalError, began)
		return ReturnLocalError
	}

	code := cn.roundTrip(ctx, c.callTimeout, request{
		Client: cn.serverID,
		Func:   fn,
		OpMode: int32(mode),
		Args:   args,
	}, outs...)
	c.observe(fn, code, began)
	return code
}

func (c *Client) observe(fn string, code ReturnCode, began time.Time) {
	if c.observer != nil {
		c.observer(fn, code, time.Since(began))
	}
}

func (c *Client) GetObjects(ctx context.Context, client ClientID, objectType ObjectType, mode OpMode) ([]Handle, ReturnCode) {
	var handles []Handle
	code := c.call(ctx, client, "simxGetObjects", mode, []interface{}{int32(objectType)}, &handles)
	return handles, code
}

func (c *Client) AddStatusbarMessage(ctx context.Context, client ClientID, message string, mode OpMode) ReturnCode {
	return c.call(ctx, client, "simxAddStatusbarMessage", mode, []interface{}{message})
}

func (c *Client) LoadScene(ctx context.Context, client ClientID, path string, options uint8, mode OpMode) ReturnCode {
	return c.call(ctx, client, "simxLoadScene", mode, []interface{}{path, options})
}

func (c *Client) GetObjectHandle(ctx context.Context, client ClientID, name string, mode OpMode) (Handle, ReturnCode) {
	var h Handle
	code := c.call(ctx, client, "simxGetObjectHandle", mode, []interface{}{name}, &h)
	return h, code
}

func (c *Client) GetObjectPosition(ctx context.Context, client ClientID, object, relativeTo Handle, mode OpMode) (Vec3, ReturnCode) {
	var v Vec3
	code := c.call(ctx, client, "simxGetObjectPosition", mode, []interface{}{int32(object), int32(relativeTo)}, &v)
	return v, code
}

func (c *Client) GetObjectOrientation(ctx context.Context, client ClientID, object, relativeTo Handle, mode OpMode) (Vec3, ReturnCode) {
	var v Vec3
	code := c.call(ctx, client, "simxGetObjectOrientation", mode, []interface{}{int32(object), int32(relativeTo)}, &v)
	return v, code
}

func (c *Client) GetObjectVelocity(ctx context.Context, client ClientID, object Handle, mode OpMode) (Vec3, Vec3, ReturnCode) {
	var linear, angular Vec3
	code := c.call(ctx, client, "simxGetObjectVelocity", mode, []interface{}{int32(object)}, &linear, &angular)
	return linear, angular, code
}

func (c *Client) ReadForceSensor(ctx context.Context, client ClientID, sensor Handle, mode OpMode) (ForceSensorState, Vec3, Vec3, ReturnCode) {
	var (
		state         ForceSensorState
		force, torque Vec3
	)
	code := c.call(ctx, client, "simxReadForceSensor", mode, []interface{}{int32(sensor)}, &state, &force, &torque)
	return state, force, torque, code
}

func (c *Client) Synchronous(ctx context.Context, client ClientID, enable bool) ReturnCode {
	return c.call(ctx, client, "simxSynchronous", Blocking, []interface{}{enable})
}

func (c *Client) SynchronousTrigger(ctx context.Context, client ClientID) ReturnCode {
	return c.call(ctx, client, "simxSynchronousTrigger", Blocking, nil)
}

func (c *Client) StartSimulation(ctx context.Context, client ClientID, mode OpMode) ReturnCode {
	return c.call(ctx, client, "simxStartSimulation", mode, nil)
}

func (c *Client) StopSimulation(ctx context.Context, client ClientID, mode OpMode) ReturnCode {
	return c.call(ctx, client, "simxStopSimulation", mode, nil)
}

func (c *Client) GetPingTime(ctx context.Context, client ClientID) (time.Duration, ReturnCode) {
	var ms int32
	code := c.call(ctx, client, "simxGetPingTime", Blocking, nil, &ms)
	return time.Duration(ms) * time.Millisecond, code
}
