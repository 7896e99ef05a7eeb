// Package session ties one simulator process to one remote API connection.
//
// A Session is started once and ended once:
//
//	s, _ := session.New(cfg, remoteapi.NewClient())
//	if err := s.Start(ctx); err != nil { ... }
//	defer s.End(ctx)
//	s.LoadScene(ctx, "/scenes/body_joint_wheel.ttt")
//	body, _ := s.ObjectByName(ctx, "body")
//	pos, _ := body.Position(ctx, nil)
//
// Every remote call made through the session carries the connection id
// obtained at Start. A non-ok return code is an error wrapping
// remoteapi.ErrCallFailed; LoadScene and Object.ReadForceSensor are the
// two calls that report failure or absence without an error.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/vrepper/internal/launcher"
	"github.com/psantana5/vrepper/internal/logging"
	"github.com/psantana5/vrepper/internal/metrics"
	"github.com/psantana5/vrepper/internal/remoteapi"
	"github.com/psantana5/vrepper/internal/retry"
	"github.com/psantana5/vrepper/internal/tracing"
)

type state int

const (
	stateNew state = iota
	stateStarting
	stateStarted
	stateEnding
	stateEnded
)

func (s state) String() string {
	switch s {
	case stateNew:
		return "new"
	case stateStarting:
		return "starting"
	case stateStarted:
		return "started"
	case stateEnding:
		return "ending"
	case stateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

var errNoClient = errors.New("session: server returned no client id")

// Session is one simulator instance plus its remote API connection.
type Session struct {
	cfg     Config
	api     remoteapi.API
	proc    launcher.Process
	log     *logging.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	rng     *rand.Rand

	mu          sync.Mutex
	state       state
	clientID    remoteapi.ClientID
	attempts    int
	objectCount int
	exitCode    int
	startedAt   time.Time
	endedAt     time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// WithProcess replaces the launcher built from the config.
func WithProcess(p launcher.Process) Option {
	return func(s *Session) {
		s.proc = p
	}
}

// WithRand sets the source used to pick a random port.
func WithRand(r *rand.Rand) Option {
	return func(s *Session) {
		s.rng = r
	}
}

// WithMetrics records connect attempts, steps and the exit code.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Session) {
		s.tracer = t
	}
}

// New builds a session that is not started. The simulator process is
// created from cfg unless WithProcess is given.
func New(cfg Config, api remoteapi.API, opts ...Option) (*Session, error) {
	s := &Session{
		cfg:      cfg,
		api:      api,
		log:      logging.Discard(),
		tracer:   otel.Tracer("github.com/psantana5/vrepper/internal/session"),
		clientID: remoteapi.NoClient,
		exitCode: -1,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.cfg.Port == 0 {
		if s.rng == nil {
			s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		s.cfg.Port = RandomPort(s.rng)
	}
	if s.cfg.Host == "" {
		s.cfg.Host = "127.0.0.1"
	}
	s.log = s.log.Component("session").WithField("port", s.cfg.Port)

	if s.proc == nil {
		exe := s.cfg.Executable
		if exe == "" {
			var err error
			if exe, err = launcher.DefaultExecutable(runtime.GOOS); err != nil {
				return nil, err
			}
		}
		s.cfg.Executable = exe
		s.proc = launcher.New(launcher.Args(exe, s.cfg.Port, s.cfg.Launch), launcher.WithLogger(s.log))
	}

	s.log.Info("session created", logging.Fields{"os": runtime.GOOS})
	return s, nil
}

// Port is the remote API port of the simulator.
func (s *Session) Port() int { return s.cfg.Port }

// Config returns the effective configuration, port included.
func (s *Session) Config() Config { return s.cfg }

// API is the underlying remote API, for calls the session does not wrap.
// Pass ClientID() as their first argument.
func (s *Session) API() remoteapi.API { return s.api }

// Process is the simulator process.
func (s *Session) Process() launcher.Process { return s.proc }

// ClientID is the connection id, or remoteapi.NoClient when not connected.
func (s *Session) ClientID() remoteapi.ClientID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

// Start launches the simulator and connects to it. It fails without side
// effects if the session was already started or ended. When every
// handshake fails the process is torn down and the session is ended for good.
func (s *Session) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	switch s.state {
	case stateStarting, stateStarted:
		s.mu.Unlock()
		return ErrAlreadyStarted
	case stateEnding, stateEnded:
		s.mu.Unlock()
		return ErrEnded
	}
	s.state = stateStarting
	s.startedAt = time.Now()
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "session.Start", trace.WithAttributes(attribute.Int("port", s.cfg.Port)))
	defer func() { tracing.End(span, err) }()

	s.log.Info("starting an instance of the simulator")
	if err := s.proc.Start(); err != nil {
		s.finish(stateEnded, remoteapi.NoClient)
		return fmt.Errorf("session: %w", err)
	}

	id, err := s.connect(ctx)
	if err != nil {
		attempts := s.Attempts()
		s.log.Error("giving up on the simulator", logging.Fields{"attempts": attempts, "error": err})
		s.teardown(ctx, remoteapi.NoClient)
		return fmt.Errorf("%w after %d attempts: %w", ErrConnect, attempts, err)
	}
	s.log.Info("connected to remote API server", logging.Fields{"client_id": id})

	handles, code := s.api.GetObjects(ctx, id, remoteapi.ObjectTypeAll, remoteapi.Blocking)
	if err := remoteapi.CheckCall("simxGetObjects", code); err != nil {
		s.teardown(ctx, id)
		return fmt.Errorf("session: liveness check: %w", err)
	}
	s.log.Info("number of objects in the scene", logging.Fields{"objects": len(handles)})

	code = s.api.AddStatusbarMessage(ctx, id, s.cfg.StatusMessage, remoteapi.OpModeOneshot)
	s.log.Debug("status bar message sent", logging.Fields{"ret": code})

	s.mu.Lock()
	s.objectCount = len(handles)
	s.mu.Unlock()
	s.finish(stateStarted, id)

	span.SetAttributes(attribute.Int("attempts", s.Attempts()), attribute.Int("objects", len(handles)))
	s.log.Info("simulator started, remote API connection created, everything seems to be ready")
	return nil
}

// connect runs the handshake loop: RetryCap+1 attempts, each bounded by
// AttemptTimeout.
func (s *Session) connect(ctx context.Context) (remoteapi.ClientID, error) {
	id := remoteapi.NoClient
	opts := remoteapi.StartOptions{
		Timeout:         s.cfg.AttemptTimeout,
		CommThreadCycle: s.cfg.CommThreadCycle,
	}

	policy := retry.DefaultConfig()
	policy.MaxRetries = s.cfg.RetryCap
	policy.OnRetry = func(attempt int, err error) {
		s.log.Debug("handshake failed", logging.Fields{"retry": attempt, "error": err})
	}

	attempts, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		s.metrics.ConnectAttempt()
		s.log.Info("trying to connect to server", logging.Fields{"retry": attempt - 1})

		cid, err := s.api.Start(ctx, s.cfg.Host, s.cfg.Port, opts)
		if err != nil {
			return err
		}
		if cid == remoteapi.NoClient {
			return errNoClient
		}
		id = cid
		return nil
	})

	s.mu.Lock()
	s.attempts = attempts
	s.mu.Unlock()
	return id, err
}

// teardown closes the connection if any, then ends the process.
func (s *Session) teardown(ctx context.Context, id remoteapi.ClientID) {
	if id != remoteapi.NoClient {
		s.api.Finish(ctx, id)
	}
	code, err := s.proc.End()
	if err != nil {
		s.log.Warn("process teardown failed", logging.Fields{"error": err})
	} else {
		s.metrics.SetExitCode(code)
	}

	s.mu.Lock()
	s.exitCode = code
	s.mu.Unlock()
	s.finish(stateEnded, remoteapi.NoClient)
}

func (s *Session) finish(st state, id remoteapi.ClientID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	s.clientID = id
	if st == stateEnded {
		s.endedAt = time.Now()
	}
}

// End closes the connection and tears the simulator down. Ending a session
// that was never started returns ErrNotStarted, and one whose Start is
// still running returns ErrStarting; ending twice is a no-op.
func (s *Session) End(ctx context.Context) error {
	s.mu.Lock()
	st, id := s.state, s.clientID
	if st == stateStarted {
		s.state = stateEnding
	}
	s.mu.Unlock()

	switch st {
	case stateNew:
		return ErrNotStarted
	case stateStarting:
		return ErrStarting
	case stateEnding, stateEnded:
		return nil
	}

	_, span := s.tracer.Start(ctx, "session.End")
	defer span.End()

	s.log.Info("shutting things down")
	s.teardown(ctx, id)
	s.log.Info("everything shut down", logging.Fields{"retcode": s.ExitCode()})
	return nil
}

// client returns the connection id for a forwarded call.
func (s *Session) client() (remoteapi.ClientID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateStarted {
		return remoteapi.NoClient, ErrNotStarted
	}
	return s.clientID, nil
}

// LoadScene loads a scene file resolved on the server side. Failure is
// logged and reported as false.
func (s *Session) LoadScene(ctx context.Context, path string) bool {
	s.log.Info("loading scene", logging.Fields{"path": path})
	id, err := s.client()
	if err != nil {
		s.log.Warn("scene loading failure", logging.Fields{"error": err})
		return false
	}

	code := s.api.LoadScene(ctx, id, path, 0, remoteapi.Blocking)
	if !code.OK() {
		s.log.Warn("scene loading failure", logging.Fields{"ret": code})
		return false
	}
	s.log.Info("scene successfully loaded")
	return true
}

// ObjectHandle resolves a scene object name.
func (s *Session) ObjectHandle(ctx context.Context, name string) (remoteapi.Handle, error) {
	id, err := s.client()
	if err != nil {
		return 0, err
	}
	h, code := s.api.GetObjectHandle(ctx, id, name, remoteapi.Blocking)
	if err := remoteapi.CheckCall("simxGetObjectHandle", code); err != nil {
		return 0, fmt.Errorf("object %q: %w", name, err)
	}
	return h, nil
}

// ObjectByHandle wraps a handle obtained from this session.
func (s *Session) ObjectByHandle(h remoteapi.Handle) *Object {
	return &Object{session: s, handle: h}
}

// ObjectByName resolves name and wraps the handle.
func (s *Session) ObjectByName(ctx context.Context, name string) (*Object, error) {
	h, err := s.ObjectHandle(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.ObjectByHandle(h), nil
}

// Objects lists the handles of all objects of the given type.
func (s *Session) Objects(ctx context.Context, objectType remoteapi.ObjectType) ([]remoteapi.Handle, error) {
	id, err := s.client()
	if err != nil {
		return nil, err
	}
	handles, code := s.api.GetObjects(ctx, id, objectType, remoteapi.Blocking)
	if err := remoteapi.CheckCall("simxGetObjects", code); err != nil {
		return nil, err
	}
	return handles, nil
}

// Synchronous switches synchronous stepping on or off.
func (s *Session) Synchronous(ctx context.Context, enable bool) error {
	id, err := s.client()
	if err != nil {
		return err
	}
	return remoteapi.CheckCall("simxSynchronous", s.api.Synchronous(ctx, id, enable))
}

// SynchronousTrigger advances the simulation by one step.
func (s *Session) SynchronousTrigger(ctx context.Context) error {
	id, err := s.client()
	if err != nil {
		return err
	}
	if err := remoteapi.CheckCall("simxSynchronousTrigger", s.api.SynchronousTrigger(ctx, id)); err != nil {
		return err
	}
	s.metrics.Step()
	return nil
}

// StartSimulation starts the simulation in blocking mode.
func (s *Session) StartSimulation(ctx context.Context) error {
	id, err := s.client()
	if err != nil {
		return err
	}
	return remoteapi.CheckCall("simxStartSimulation", s.api.StartSimulation(ctx, id, remoteapi.Blocking))
}

// StopSimulation stops the simulation and resets the scene.
func (s *Session) StopSimulation(ctx context.Context) error {
	id, err := s.client()
	if err != nil {
		return err
	}
	return remoteapi.CheckCall("simxStopSimulation", s.api.StopSimulation(ctx, id, remoteapi.Blocking))
}

// PingTime measures one round-trip to the server.
func (s *Session) PingTime(ctx context.Context) (time.Duration, error) {
	id, err := s.client()
	if err != nil {
		return 0, err
	}
	d, code := s.api.GetPingTime(ctx, id)
	if err := remoteapi.CheckCall("simxGetPingTime", code); err != nil {
		return 0, err
	}
	return d, nil
}

// StatusMessage shows msg in the simulator's status bar without waiting.
// The return code is passed through unchecked.
func (s *Session) StatusMessage(ctx context.Context, msg string) remoteapi.ReturnCode {
	id, err := s.client()
	if err != nil {
		return remoteapi.ReturnLocalError
	}
	return s.api.AddStatusbarMessage(ctx, id, msg, remoteapi.OpModeOneshot)
}

// Attempts is the number of handshakes made by Start.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// ExitCode is the simulator's exit code once ended, -1 before.
func (s *Session) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// Status is a point-in-time view of the session.
type Status struct {
	State     string             `json:"state"`
	Host      string             `json:"host"`
	Port      int                `json:"port"`
	ClientID  remoteapi.ClientID `json:"client_id"`
	PID       int                `json:"pid"`
	Attempts  int                `json:"connect_attempts"`
	Objects   int                `json:"objects"`
	ExitCode  int                `json:"exit_code"`
	StartedAt time.Time          `json:"started_at,omitempty"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
}

// Snapshot returns the current status without any remote call.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:     s.state.String(),
		Host:      s.cfg.Host,
		Port:      s.cfg.Port,
		ClientID:  s.clientID,
		PID:       s.proc.PID(),
		Attempts:  s.attempts,
		Objects:   s.objectCount,
		ExitCode:  s.exitCode,
		StartedAt: s.startedAt,
		EndedAt:   s.endedAt,
	}
}

// Started reports whether Start succeeded and End has not run.
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateStarted
}
