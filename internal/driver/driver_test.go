package driver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/psantana5/vrepper/internal/launcher"
	"github.com/psantana5/vrepper/internal/remoteapi"
	"github.com/psantana5/vrepper/internal/remoteapi/fakeapi"
	"github.com/psantana5/vrepper/internal/session"
)

type nopProcess struct{ started bool }

func (p *nopProcess) Start() error { p.started = true; return nil }
func (p *nopProcess) End() (int, error) {
	if !p.started {
		return -1, launcher.ErrNotStarted
	}
	return 0, nil
}
func (p *nopProcess) PID() int { return 1 }

func demoSim() *fakeapi.Sim {
	sim := fakeapi.New()
	sim.AddObject(fakeapi.Object{Name: "body", Linear: remoteapi.Vec3{1, 0, 0}})
	sim.AddObject(fakeapi.Object{Name: "wheel", Angular: remoteapi.Vec3{0, 0, 10}})
	return sim
}

func startSession(t *testing.T, sim *fakeapi.Sim) *session.Session {
	t.Helper()
	cfg := session.DefaultConfig()
	cfg.Port = 19997
	s, err := session.New(cfg, sim, session.WithProcess(&nopProcess{}))
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.End(context.Background()) })
	return s
}

func fastConfig(steps int) Config {
	cfg := DefaultConfig()
	cfg.Steps = steps
	cfg.StepInterval = 0
	return cfg
}

func TestRunSamplesEveryStep(t *testing.T) {
	sim := demoSim()
	s := startSession(t, sim)

	var streamed int
	trace, err := Run(context.Background(), s, fastConfig(100), WithSampleFunc(func(ctx context.Context, smp Sample) error {
		streamed++
		return nil
	}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if trace.Steps != 100 || sim.Steps() != 100 {
		t.Errorf("steps: trace=%d sim=%d", trace.Steps, sim.Steps())
	}
	if len(trace.Samples) != 200 || streamed != 200 {
		t.Errorf("expected 200 samples, got %d (streamed %d)", len(trace.Samples), streamed)
	}
	if sim.Scene() != DefaultConfig().Scene {
		t.Errorf("scene not loaded: %q", sim.Scene())
	}
	if sim.Running() || sim.IsSynchronous() {
		t.Error("simulation should be stopped and asynchronous after the run")
	}

	xs := trace.Series("body", false, 0)
	if len(xs) != 100 {
		t.Fatalf("body series has %d points", len(xs))
	}
	if xs[0] < 0.009 || xs[0] > 0.011 || xs[99] < 0.99 || xs[99] > 1.01 {
		t.Errorf("unexpected body x: first=%v last=%v", xs[0], xs[99])
	}
	yaw := trace.Series("wheel", true, 2)
	if yaw[99] < 9.9 || yaw[99] > 10.1 {
		t.Errorf("unexpected wheel yaw %v", yaw[99])
	}
	if trace.Handles["body"] == trace.Handles["wheel"] {
		t.Error("tracked handles should differ")
	}
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(sim *fakeapi.Sim, cfg *Config)
		wantErr error
		steps   int
	}{
		{
			name:    "zero steps",
			setup:   func(sim *fakeapi.Sim, cfg *Config) { cfg.Steps = 0 },
			wantErr: ErrNoSteps,
		},
		{
			name: "scene load",
			setup: func(sim *fakeapi.Sim, cfg *Config) {
				sim.Codes["simxLoadScene"] = remoteapi.ReturnRemoteError
			},
			wantErr: ErrSceneLoad,
		},
		{
			name:    "unknown object",
			setup:   func(sim *fakeapi.Sim, cfg *Config) { cfg.Objects = []string{"body", "ghost"} },
			wantErr: remoteapi.ErrCallFailed,
		},
		{
			name: "trigger",
			setup: func(sim *fakeapi.Sim, cfg *Config) {
				sim.Codes["simxSynchronousTrigger"] = remoteapi.ReturnTimeout
			},
			wantErr: remoteapi.ErrCallFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := demoSim()
			s := startSession(t, sim)
			cfg := fastConfig(10)
			tt.setup(sim, &cfg)

			_, err := Run(context.Background(), s, cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if sim.Running() || sim.IsSynchronous() {
				t.Error("scene left running after a failed run")
			}
		})
	}
}

func TestRunSampleFuncAborts(t *testing.T) {
	sim := demoSim()
	s := startSession(t, sim)
	boom := errors.New("disk full")

	trace, err := Run(context.Background(), s, fastConfig(10), WithSampleFunc(func(ctx context.Context, smp Sample) error {
		if smp.Step == 3 {
			return boom
		}
		return nil
	}))
	if !errors.Is(err, boom) {
		t.Fatalf("expected sink error, got %v", err)
	}
	if trace == nil || trace.Steps != 4 {
		t.Fatalf("expected a partial trace of 4 steps, got %+v", trace)
	}
	if sim.Running() {
		t.Error("simulation not stopped")
	}
}

func TestRunCancelled(t *testing.T) {
	sim := demoSim()
	s := startSession(t, sim)

	cfg := fastConfig(1000)
	cfg.StepInterval = 5 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	trace, err := Run(ctx, s, cfg)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if trace.Steps >= 1000 {
		t.Errorf("run was not interrupted: %d steps", trace.Steps)
	}
	if sim.Running() || sim.IsSynchronous() {
		t.Error("scene not reset after cancellation")
	}
}

func TestRunPacing(t *testing.T) {
	s := startSession(t, demoSim())
	cfg := fastConfig(5)
	cfg.StepInterval = 10 * time.Millisecond

	trace, err := Run(context.Background(), s, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// first token is immediate, four more waits follow
	if d := trace.Duration(); d < 35*time.Millisecond {
		t.Errorf("steps not paced: %v", d)
	}
}
