// Package driver runs a scene in synchronous mode for a fixed number of
// steps and samples the pose of a set of tracked objects after each step.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/psantana5/vrepper/internal/logging"
	"github.com/psantana5/vrepper/internal/remoteapi"
	"github.com/psantana5/vrepper/internal/session"
	"github.com/psantana5/vrepper/internal/tracing"
)

var (
	// ErrSceneLoad is returned when the scene could not be loaded.
	ErrSceneLoad = errors.New("driver: scene loading failure")
	// ErrNoSteps is returned for a non-positive step count.
	ErrNoSteps = errors.New("driver: steps must be positive")
)

// Config describes one run.
type Config struct {
	// Scene is loaded before stepping. Empty keeps the current scene.
	Scene string
	// Objects are the names of the objects sampled after each step.
	Objects []string
	Steps   int
	// StepInterval is the minimum wall time between two steps. Zero
	// steps as fast as the simulator answers.
	StepInterval time.Duration
}

// DefaultConfig is the body/wheel demo: 100 steps, 10 ms apart.
func DefaultConfig() Config {
	return Config{
		Scene:        "scenes/body_joint_wheel.ttt",
		Objects:      []string{"body", "wheel"},
		Steps:        100,
		StepInterval: 10 * time.Millisecond,
	}
}

// Sample is the pose of one tracked object after one step.
type Sample struct {
	Step        int              `json:"step"`
	Object      string           `json:"object"`
	Handle      remoteapi.Handle `json:"handle"`
	Position    remoteapi.Vec3   `json:"position"`
	Orientation remoteapi.Vec3   `json:"orientation"`
	Elapsed     time.Duration    `json:"elapsed"`
}

// SampleFunc receives every sample as it is taken. An error aborts the run.
type SampleFunc func(ctx context.Context, s Sample) error

// Trace is the outcome of a run.
type Trace struct {
	Scene     string
	Handles   map[string]remoteapi.Handle
	Steps     int
	Samples   []Sample
	StartedAt time.Time
	EndedAt   time.Time
}

// Duration is the wall time of the stepping loop.
func (t *Trace) Duration() time.Duration {
	return t.EndedAt.Sub(t.StartedAt)
}

// Series returns one coordinate (0=x, 1=y, 2=z) of an object's position
// or orientation over the recorded steps.
func (t *Trace) Series(object string, orientation bool, axis int) []float64 {
	var out []float64
	for _, s := range t.Samples {
		if s.Object != object {
			continue
		}
		v := s.Position
		if orientation {
			v = s.Orientation
		}
		out = append(out, float64(v[axis]))
	}
	return out
}

// Driver steps a started session.
type Driver struct {
	sess     *session.Session
	log      *logging.Logger
	onSample SampleFunc
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Driver) {
		d.log = l
	}
}

// WithSampleFunc streams samples out while the run progresses.
func WithSampleFunc(fn SampleFunc) Option {
	return func(d *Driver) {
		d.onSample = fn
	}
}

// New creates a driver for sess.
func New(sess *session.Session, opts ...Option) *Driver {
	d := &Driver{sess: sess, log: logging.Discard()}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.Component("driver")
	return d
}

// Run is New(sess, opts...).Run(ctx, cfg).
func Run(ctx context.Context, sess *session.Session, cfg Config, opts ...Option) (*Trace, error) {
	return New(sess, opts...).Run(ctx, cfg)
}

// Run loads the scene, resolves the tracked objects and steps the
// simulation cfg.Steps times. The simulation is stopped and synchronous
// mode turned off before returning, also when a step fails. A partial
// trace is returned with the error.
func (d *Driver) Run(ctx context.Context, cfg Config) (trace *Trace, err error) {
	if cfg.Steps <= 0 {
		return nil, ErrNoSteps
	}

	ctx, span := tracing.Start(ctx, "driver", "driver.Run",
		attribute.String("scene", cfg.Scene), attribute.Int("steps", cfg.Steps))
	defer func() { tracing.End(span, err) }()

	if cfg.Scene != "" && !d.sess.LoadScene(ctx, cfg.Scene) {
		return nil, fmt.Errorf("%w: %s", ErrSceneLoad, cfg.Scene)
	}

	trace = &Trace{Scene: cfg.Scene, Handles: make(map[string]remoteapi.Handle, len(cfg.Objects))}
	tracked := make([]*session.Object, len(cfg.Objects))
	for i, name := range cfg.Objects {
		obj, err := d.sess.ObjectByName(ctx, name)
		if err != nil {
			return nil, err
		}
		tracked[i] = obj
		trace.Handles[name] = obj.Handle()
		d.log.Info("tracking object", logging.Fields{"name": name, "handle": obj.Handle()})
	}

	if err := d.sess.Synchronous(ctx, true); err != nil {
		return nil, err
	}
	if err := d.sess.StartSimulation(ctx); err != nil {
		d.restore(ctx, false)
		return nil, err
	}

	limit := rate.Inf
	if cfg.StepInterval > 0 {
		limit = rate.Every(cfg.StepInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	trace.StartedAt = time.Now()
	err = d.loop(ctx, cfg, limiter, tracked, trace)
	trace.EndedAt = time.Now()

	if rerr := d.restore(ctx, true); err == nil {
		err = rerr
	}
	span.SetAttributes(attribute.Int("steps_done", trace.Steps))
	if err != nil {
		return trace, err
	}
	d.log.Info("simulation ended", logging.Fields{"steps": trace.Steps, "duration": trace.Duration().String()})
	return trace, nil
}

func (d *Driver) loop(ctx context.Context, cfg Config, limiter *rate.Limiter, tracked []*session.Object, trace *Trace) error {
	for step := 0; step < cfg.Steps; step++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("driver: step %d: %w", step, err)
		}
		d.log.Debug("simulation step", logging.Fields{"step": step})

		if err := d.sess.SynchronousTrigger(ctx); err != nil {
			return fmt.Errorf("driver: step %d: %w", step, err)
		}
		trace.Steps++

		for i, obj := range tracked {
			pos, err := obj.Position(ctx, nil)
			if err != nil {
				return fmt.Errorf("driver: step %d %s: %w", step, cfg.Objects[i], err)
			}
			ornt, err := obj.Orientation(ctx, nil)
			if err != nil {
				return fmt.Errorf("driver: step %d %s: %w", step, cfg.Objects[i], err)
			}

			s := Sample{
				Step:        step,
				Object:      cfg.Objects[i],
				Handle:      obj.Handle(),
				Position:    pos,
				Orientation: ornt,
				Elapsed:     time.Since(trace.StartedAt),
			}
			trace.Samples = append(trace.Samples, s)
			if d.onSample != nil {
				if err := d.onSample(ctx, s); err != nil {
					return fmt.Errorf("driver: record step %d: %w", step, err)
				}
			}
		}
	}
	return nil
}

// restore stops the simulation if it was started and leaves synchronous
// mode. It runs on a context detached from cancellation so an interrupted
// run still resets the scene.
func (d *Driver) restore(ctx context.Context, stop bool) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	if stop {
		if err := d.sess.StopSimulation(ctx); err != nil {
			d.log.Warn("stopping the simulation failed", logging.Fields{"error": err})
			errs = append(errs, err)
		}
	}
	if err := d.sess.Synchronous(ctx, false); err != nil {
		d.log.Warn("leaving synchronous mode failed", logging.Fields{"error": err})
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
