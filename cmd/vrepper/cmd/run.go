package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/vrepper/internal/driver"
	"github.com/psantana5/vrepper/internal/launcher"
	"github.com/psantana5/vrepper/internal/logging"
	"github.com/psantana5/vrepper/internal/recorder"
	"github.com/psantana5/vrepper/internal/report"
	"github.com/psantana5/vrepper/internal/shutdown"
	"github.com/psantana5/vrepper/internal/statusserver"
)

var (
	runPlot        []string
	runShowEvents  bool
	runDumpMetrics bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Launch a simulator, step a scene and record object poses",
	Long: `Starts a simulator instance, loads the scene, enables synchronous mode and
triggers the configured number of steps, sampling the position and orientation
of every tracked object after each step. The simulator is shut down afterwards.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.String("scene", "", "scene file to load, resolved by the simulator")
	f.StringSlice("objects", nil, "names of the objects to track")
	f.Int("steps", 0, "number of synchronous steps")
	f.Duration("interval", 0, "minimum wall time between steps")
	f.Duration("linger", 0, "keep the simulator up this long after the run")
	f.Int("port", 0, "remote API port (default random in 19999-20998)")
	f.String("executable", "", "simulator executable")
	f.Bool("headless", false, "run the simulator without a GUI")
	f.String("record", "", "record the run into this SQLite file")
	f.StringSliceVar(&runPlot, "plot", nil, "plot a series after the run, e.g. body, body:position:x, wheel:orientation:z")
	f.BoolVar(&runShowEvents, "events", false, "print the simulator process lifecycle")
	f.BoolVar(&runDumpMetrics, "dump-metrics", false, "print the metrics registry after the run")
	f.BoolVar(&dryRun, "dry-run", false, "drive an in-memory stand-in instead of launching the simulator")

	bindFlag(runCmd, "scene", "driver.scene")
	bindFlag(runCmd, "objects", "driver.objects")
	bindFlag(runCmd, "steps", "driver.steps")
	bindFlag(runCmd, "interval", "driver.step_interval")
	bindFlag(runCmd, "linger", "driver.linger")
	bindFlag(runCmd, "port", "simulator.port")
	bindFlag(runCmd, "executable", "simulator.executable")
	bindFlag(runCmd, "headless", "simulator.headless")
	bindFlag(runCmd, "record", "recorder.dsn")
}

func runRun(cmd *cobra.Command, args []string) error {
	plots, err := parsePlots(runPlot)
	if err != nil {
		return err
	}

	mgr := shutdown.New(30*time.Second, log)
	defer mgr.Shutdown()
	ctx, stop := mgr.NotifyContext(cmd.Context())
	defer stop()

	var store *recorder.Store
	checks := map[string]statusserver.Pinger{}
	if cfg.Recorder.DSN != "" {
		store, err = recorder.Open(ctx, cfg.Recorder)
		if err != nil {
			return err
		}
		mgr.Register("recorder", shutdown.CloseResource(store))
		checks["recorder"] = store
	}

	began := time.Now()
	env, err := startSession(ctx, mgr, checks)
	if err != nil {
		return err
	}
	sess := env.sess

	var runID string
	opts := []driver.Option{driver.WithLogger(log)}
	if store != nil {
		run, err := store.BeginRun(ctx, sess.Port(), cfg.Driver.Scene)
		if err != nil {
			return err
		}
		runID = run.ID
		opts = append(opts, driver.WithSampleFunc(store.Sink(runID)))
	}

	trace, runErr := driver.Run(ctx, sess, cfg.DriverRun(), opts...)
	if runErr != nil {
		log.Error("run failed", logging.Fields{"error": runErr})
	}

	if runErr == nil && cfg.Driver.Linger > 0 {
		log.Info("lingering before shutdown", logging.Fields{"for": cfg.Driver.Linger.String()})
		select {
		case <-time.After(cfg.Driver.Linger):
		case <-ctx.Done():
		}
	}

	if err := sess.End(context.WithoutCancel(ctx)); err != nil {
		log.Warn("ending session", logging.Fields{"error": err})
	}

	steps := 0
	samples := 0
	if trace != nil {
		steps = trace.Steps
		samples = len(trace.Samples)
	}
	if store != nil {
		if err := store.FinishRun(context.WithoutCancel(ctx), runID, sess.ExitCode(), steps); err != nil {
			log.Warn("finishing recorded run", logging.Fields{"error": err})
		}
	}

	result := report.NewResult(runID, cfg.Driver.Scene, sess.Port(), sess.Process().PID(), sess.ExitCode(), began, time.Now())
	result.ConnectAttempts = sess.Attempts()
	result.Steps = steps
	result.Samples = samples
	if inst, ok := sess.Process().(*launcher.Instance); ok {
		result.ExitReason = string(inst.ExitReason())
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}
	result.LogSummary(log)

	if err := printResult(result); err != nil {
		return err
	}
	if trace != nil {
		for _, p := range plots {
			graph, err := report.Plot(trace, p)
			if err != nil {
				log.Warn("plot", logging.Fields{"error": err})
				continue
			}
			fmt.Println(graph)
			fmt.Println()
		}
	}
	if inst, ok := sess.Process().(*launcher.Instance); ok && runShowEvents {
		if err := inst.WriteReport(os.Stdout); err != nil {
			return err
		}
	}
	if runDumpMetrics {
		if err := env.metrics.WriteText(os.Stdout); err != nil {
			return err
		}
	}
	return runErr
}

func printResult(r *report.Result) error {
	if IsJSONOutput() {
		out, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}
	return r.WriteTable(os.Stdout)
}

// parsePlots reads object[:position|orientation][:x|y|z] specs.
func parsePlots(specs []string) ([]report.PlotOptions, error) {
	var out []report.PlotOptions
	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		if parts[0] == "" || len(parts) > 3 {
			return nil, fmt.Errorf("bad plot spec %q", spec)
		}
		p := report.PlotOptions{Object: parts[0]}
		if len(parts) > 1 {
			switch parts[1] {
			case "position", "pos":
			case "orientation", "ori":
				p.Orientation = true
			default:
				return nil, fmt.Errorf("bad plot spec %q: %q is not position or orientation", spec, parts[1])
			}
		}
		if len(parts) > 2 {
			axis := strings.Index("xyz", parts[2])
			if len(parts[2]) != 1 || axis < 0 {
				return nil, fmt.Errorf("bad plot spec %q: axis must be x, y or z", spec)
			}
			p.Axis = axis
		}
		out = append(out, p)
	}
	return out, nil
}
