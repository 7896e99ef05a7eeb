package launcher

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// LifecycleState represents the simulator process lifecycle state
type LifecycleState string

const (
	StateStarting  LifecycleState = "starting"
	StateRunning   LifecycleState = "running"
	StateStopping  LifecycleState = "stopping"
	StateCompleted LifecycleState = "completed"
	StateFailed    LifecycleState = "failed"
	StateKilled    LifecycleState = "killed"
)

// ExitReason describes why the simulator terminated
type ExitReason string

const (
	ExitReasonNone       ExitReason = ""
	ExitReasonSuccess    ExitReason = "success"    // Exit code 0
	ExitReasonError      ExitReason = "error"      // Exit code != 0
	ExitReasonSignal     ExitReason = "signal"     // Killed by a signal we did not send
	ExitReasonTerminated ExitReason = "terminated" // Stopped by End
	ExitReasonUnknown    ExitReason = "unknown"
)

// LifecycleEvent represents a lifecycle state change
type LifecycleEvent struct {
	PID        int            `json:"pid"`
	State      LifecycleState `json:"state"`
	Timestamp  time.Time      `json:"timestamp"`
	ExitCode   int            `json:"exit_code,omitempty"`
	ExitReason ExitReason     `json:"exit_reason,omitempty"`
	Signal     string         `json:"signal,omitempty"`
	Message    string         `json:"message,omitempty"`
}

// DetermineExitReason classifies a finished process. terminated is true
// when End sent the stop signal itself.
func DetermineExitReason(state *os.ProcessState, terminated bool) ExitReason {
	if state == nil {
		return ExitReasonUnknown
	}
	if state.Exited() {
		if state.ExitCode() == 0 {
			return ExitReasonSuccess
		}
		if terminated {
			return ExitReasonTerminated
		}
		return ExitReasonError
	}
	if _, ok := signalOf(state); ok {
		if terminated {
			return ExitReasonTerminated
		}
		return ExitReasonSignal
	}
	return ExitReasonUnknown
}

// ExitCode is the exit status of state, or minus the signal number when
// a signal ended the process (-15 after SIGTERM).
func ExitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if sig, ok := signalOf(state); ok {
		if n, ok := sig.(syscall.Signal); ok {
			return -int(n)
		}
	}
	return state.ExitCode()
}

// SignalName returns a printable name for the signal that ended state.
func SignalName(state *os.ProcessState) string {
	sig, ok := signalOf(state)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%v", sig)
}

// IsSuccess returns true if the exit represents success
func (r ExitReason) IsSuccess() bool {
	return r == ExitReasonSuccess || r == ExitReasonTerminated
}
