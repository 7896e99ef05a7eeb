package cmd

import (
	"context"
	"time"

	"github.com/psantana5/vrepper/internal/launcher"
	"github.com/psantana5/vrepper/internal/logging"
	"github.com/psantana5/vrepper/internal/metrics"
	"github.com/psantana5/vrepper/internal/remoteapi"
	"github.com/psantana5/vrepper/internal/remoteapi/fakeapi"
	"github.com/psantana5/vrepper/internal/session"
	"github.com/psantana5/vrepper/internal/shutdown"
	"github.com/psantana5/vrepper/internal/statusserver"
	"github.com/psantana5/vrepper/internal/tracing"
)

const statsInterval = time.Second

// dryRun replaces the simulator with fakeapi, set by --dry-run.
var dryRun bool

// simEnv is what a simulator-driving command needs. Cleanup is
// registered on mgr in start order so it runs in reverse.
type simEnv struct {
	mgr     *shutdown.Manager
	metrics *metrics.Metrics
	sess    *session.Session
}

// startSession sets up tracing, metrics and the optional status server,
// then launches and connects to a simulator. checks gate the server's
// /ready endpoint.
func startSession(ctx context.Context, mgr *shutdown.Manager, checks map[string]statusserver.Pinger) (*simEnv, error) {
	provider, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Enabled:        cfg.Tracing.Enabled,
	}, log)
	if err != nil {
		return nil, err
	}
	mgr.Register("tracing", provider.Shutdown)

	m := metrics.New()
	opts := []session.Option{session.WithLogger(log), session.WithMetrics(m)}
	var api remoteapi.API
	if dryRun {
		sim, proc := dryRunSim(append(append([]string(nil), cfg.Driver.Objects...), objectNames...))
		api = sim
		opts = append(opts, session.WithProcess(proc))
		log.Info("dry run, no simulator is launched")
	} else {
		api = remoteapi.NewClient(remoteapi.WithObserver(m.ObserveCall))
	}

	sess, err := session.New(cfg.Session(), api, opts...)
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Addr != "" {
		srv := statusserver.New(cfg.Metrics.Addr, sess, m, log)
		for name, c := range checks {
			srv.AddCheck(name, c)
		}
		if _, err := srv.Start(); err != nil {
			return nil, err
		}
		mgr.Register("status server", srv.Shutdown)
	}

	if err := sess.Start(ctx); err != nil {
		return nil, err
	}
	mgr.Register("session", sess.End)

	if src, ok := sess.Process().(launcher.StatsSource); ok {
		monCtx, cancel := context.WithCancel(context.Background())
		mgr.Register("process monitor", func(context.Context) error { cancel(); return nil })
		go launcher.Monitor(monCtx, src, statsInterval, func(st launcher.Stats) {
			m.SetProcessStats(st.CPUPercent, st.RSSBytes)
			log.Debug("simulator process", logging.Fields{"pid": st.PID, "cpu": st.CPUPercent, "rss": st.RSSBytes})
		})
	}

	return &simEnv{mgr: mgr, metrics: m, sess: sess}, nil
}

// dryRunSim stands in for the simulator. Each named object moves along x
// at 1 m/s and spins about z, the i-th one at i+1 rad/s.
func dryRunSim(objects []string) (*fakeapi.Sim, *fakeapi.Process) {
	sim := fakeapi.New()
	seen := make(map[string]bool, len(objects))
	for _, name := range objects {
		if seen[name] {
			continue
		}
		seen[name] = true
		sim.AddObject(fakeapi.Object{
			Name:    name,
			Linear:  remoteapi.Vec3{1, 0, 0},
			Angular: remoteapi.Vec3{0, 0, float32(len(seen))},
		})
	}
	return sim, fakeapi.NewProcess()
}
