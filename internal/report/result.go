package report

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/psantana5/vrepper/internal/launcher"
	"github.com/psantana5/vrepper/internal/logging"
)

// Result is the outcome of one run. Set once at the end, never changed.
type Result struct {
	RunID    string `json:"run_id,omitempty"`
	Scene    string `json:"scene"`
	Port     int    `json:"port"`
	PID      int    `json:"pid"`
	ExitCode int    `json:"exit_code"`

	// ExitReason is the launcher's classification of the exit, when known.
	// "terminated" means the simulator was stopped on purpose, so its
	// signal exit code still counts as clean.
	ExitReason string `json:"exit_reason,omitempty"`

	ConnectAttempts int `json:"connect_attempts"`
	Steps           int `json:"steps"`
	Samples         int `json:"samples"`

	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration_ns"`

	// Error is the reason the run stopped early, empty on success.
	Error string `json:"error,omitempty"`
}

// NewResult creates an immutable result
func NewResult(runID, scene string, port, pid, exitCode int, startTime, endTime time.Time) *Result {
	return &Result{
		RunID:     runID,
		Scene:     scene,
		Port:      port,
		PID:       pid,
		ExitCode:  exitCode,
		StartTime: startTime,
		EndTime:   endTime,
		Duration:  endTime.Sub(startTime),
	}
}

// OK reports whether the run completed and the simulator exited cleanly.
func (r *Result) OK() bool {
	if r.Error != "" {
		return false
	}
	return r.ExitCode == 0 || r.ExitReason == string(launcher.ExitReasonTerminated)
}

// Status is "ok" or "failed".
func (r *Result) Status() string {
	if r.OK() {
		return "ok"
	}
	return "failed"
}

// LogSummary emits the one-line summary of the run.
func (r *Result) LogSummary(log *logging.Logger) {
	fields := logging.Fields{
		"run_id":   r.RunID,
		"port":     r.Port,
		"pid":      r.PID,
		"attempts": r.ConnectAttempts,
		"steps":    r.Steps,
		"runtime":  fmt.Sprintf("%.2fs", r.Duration.Seconds()),
		"exit":     r.ExitCode,
	}
	if r.Error != "" {
		fields["reason"] = r.Error
		log.Warn(fmt.Sprintf("RUN %s | %s", r.RunID, r.Status()), fields)
		return
	}
	log.Info(fmt.Sprintf("RUN %s | %s", r.RunID, r.Status()), fields)
}

// WriteTable renders the result as a two-column table.
func (r *Result) WriteTable(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")

	rows := [][]string{
		{"Run", r.RunID},
		{"Status", r.Status()},
		{"Scene", r.Scene},
		{"Port", fmt.Sprintf("%d", r.Port)},
		{"PID", fmt.Sprintf("%d", r.PID)},
		{"Connect attempts", fmt.Sprintf("%d", r.ConnectAttempts)},
		{"Steps", fmt.Sprintf("%d", r.Steps)},
		{"Samples", fmt.Sprintf("%d", r.Samples)},
		{"Duration", r.Duration.Round(time.Millisecond).String()},
		{"Exit code", fmt.Sprintf("%d", r.ExitCode)},
	}
	if r.ExitReason != "" {
		rows = append(rows, []string{"Exit reason", r.ExitReason})
	}
	if r.Error != "" {
		rows = append(rows, []string{"Error", r.Error})
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
