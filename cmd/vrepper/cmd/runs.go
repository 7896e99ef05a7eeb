package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/vrepper/internal/driver"
	"github.com/psantana5/vrepper/internal/recorder"
	"github.com/psantana5/vrepper/internal/report"
)

var (
	runsLimit int
	runsPlot  []string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one recorded run and plot its samples",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)

	runsCmd.PersistentFlags().String("db", "", "recorder database (default from config)")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs, 0 for all")
	runsShowCmd.Flags().StringSliceVar(&runsPlot, "plot", nil, "plot a series, e.g. body:position:x")

	bindFlag(runsListCmd, "db", "recorder.dsn")
	bindFlag(runsShowCmd, "db", "recorder.dsn")
}

func openStore(cmd *cobra.Command) (*recorder.Store, error) {
	if cfg.Recorder.DSN == "" {
		return nil, fmt.Errorf("no recorder database configured, use --db or recorder.dsn")
	}
	return recorder.Open(cmd.Context(), cfg.Recorder)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Runs(cmd.Context(), runsLimit)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		out, err := json.MarshalIndent(runs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Run", "Started", "Port", "Scene", "Steps", "Exit", "Duration")
	for _, r := range runs {
		duration := "running"
		if r.Finished() {
			duration = r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		table.Append(
			r.ID,
			r.StartedAt.Local().Format(time.RFC3339),
			fmt.Sprintf("%d", r.Port),
			r.Scene,
			fmt.Sprintf("%d", r.Steps),
			fmt.Sprintf("%d", r.ExitCode),
			duration,
		)
	}
	table.Render()
	fmt.Printf("\nTotal: %d runs\n", len(runs))
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	plots, err := parsePlots(runsPlot)
	if err != nil {
		return err
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.GetRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	samples, err := store.Samples(cmd.Context(), run.ID)
	if err != nil {
		return err
	}

	result := report.NewResult(run.ID, run.Scene, run.Port, 0, run.ExitCode, run.StartedAt, run.EndedAt)
	if !run.Finished() {
		result.Duration = 0
		result.Error = "run did not finish"
	}
	result.Steps = run.Steps
	result.Samples = len(samples)
	if err := printResult(result); err != nil {
		return err
	}

	trace := &driver.Trace{Scene: run.Scene, Steps: run.Steps, Samples: samples}
	for _, p := range plots {
		graph, err := report.Plot(trace, p)
		if err != nil {
			return err
		}
		fmt.Println()
		fmt.Println(graph)
	}
	return nil
}
