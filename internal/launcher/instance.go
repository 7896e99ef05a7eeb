// Package launcher starts and stops the simulator executable.
package launcher

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/psantana5/vrepper/internal/logging"
)

var (
	ErrNoArgs         = errors.New("launcher: empty argument vector")
	ErrNotStarted     = errors.New("launcher: process not started")
	ErrAlreadyStarted = errors.New("launcher: process already started")
)

// Process is what a session needs from a launched simulator.
type Process interface {
	Start() error
	End() (int, error)
	PID() int
}

// Instance owns one simulator subprocess.
type Instance struct {
	args   []string
	log    *logging.Logger
	stdout io.Writer
	stderr io.Writer

	mu         sync.Mutex
	cmd        *exec.Cmd
	done       chan struct{}
	terminated bool
	ended      bool
	startedAt  time.Time

	// written by the reaper before done is closed
	state    *os.ProcessState
	waitErr  error
	exitedAt time.Time

	eventsMu sync.Mutex
	events   []LifecycleEvent
}

var _ Process = (*Instance)(nil)

// Option configures an Instance.
type Option func(*Instance)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(i *Instance) {
		i.log = l
	}
}

// WithOutput redirects the simulator's stdout and stderr.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(i *Instance) {
		i.stdout = stdout
		i.stderr = stderr
	}
}

// New creates an instance that is not started yet.
func New(args []string, opts ...Option) *Instance {
	i := &Instance{
		args:   append([]string(nil), args...),
		log:    logging.Discard(),
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(i)
	}
	i.log = i.log.Component("launcher")
	return i
}

// Args returns the argument vector.
func (i *Instance) Args() []string {
	return append([]string(nil), i.args...)
}

// Start spawns the process. A spawn failure is returned as is, wrapped.
func (i *Instance) Start() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(i.args) == 0 {
		return ErrNoArgs
	}
	if i.cmd != nil {
		return ErrAlreadyStarted
	}

	i.log.Info("starting simulator", logging.Fields{"args": i.args})
	i.emit(LifecycleEvent{State: StateStarting, Message: "spawning simulator process"})

	cmd := exec.Command(i.args[0], i.args[1:]...)
	detach(cmd)
	cmd.Stdout = i.stdout
	cmd.Stderr = i.stderr

	if err := cmd.Start(); err != nil {
		i.emit(LifecycleEvent{State: StateFailed, Message: fmt.Sprintf("failed to start: %v", err)})
		return fmt.Errorf("failed to start simulator: %w", err)
	}

	i.cmd = cmd
	i.done = make(chan struct{})
	i.startedAt = time.Now()
	go i.reap()

	pid := cmd.Process.Pid
	i.log.Info("simulator started", logging.Fields{"pid": pid})
	i.emit(LifecycleEvent{PID: pid, State: StateRunning, Message: fmt.Sprintf("PID %d started", pid)})
	return nil
}

// reap waits for the child so End can poll without blocking.
func (i *Instance) reap() {
	err := i.cmd.Wait()
	i.state = i.cmd.ProcessState
	i.waitErr = err
	i.exitedAt = time.Now()

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		i.log.Warn("wait failed", logging.Fields{"error": err})
	}
	close(i.done)
}

// Exited reports whether the process has already terminated.
func (i *Instance) Exited() bool {
	i.mu.Lock()
	done := i.done
	i.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// End stops the process if it is still running and returns its exit code.
// If the process already exited, the recorded exit code is reused.
// Calling End again returns the same code.
func (i *Instance) End() (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cmd == nil {
		return -1, ErrNotStarted
	}
	if i.ended {
		return ExitCode(i.state), nil
	}

	i.log.Info("terminating simulator", logging.Fields{"pid": i.cmd.Process.Pid})

	select {
	case <-i.done:
		i.log.Debug("simulator already exited")
	default:
		i.terminated = true
		i.emit(LifecycleEvent{PID: i.cmd.Process.Pid, State: StateStopping, Message: "sending terminate signal"})
		if err := terminate(i.cmd.Process); err != nil {
			i.log.Warn("terminate signal failed", logging.Fields{"error": err})
		}
		<-i.done
	}
	i.ended = true

	code := ExitCode(i.state)
	reason := DetermineExitReason(i.state, i.terminated)
	ev := LifecycleEvent{
		PID:        i.cmd.Process.Pid,
		State:      StateCompleted,
		ExitCode:   code,
		ExitReason: reason,
		Signal:     SignalName(i.state),
		Message:    fmt.Sprintf("exited with code %d", code),
	}
	switch {
	case ev.Signal != "":
		ev.State = StateKilled
		ev.Message = fmt.Sprintf("killed by %s", ev.Signal)
	case !reason.IsSuccess():
		ev.State = StateFailed
	}
	i.emit(ev)

	i.log.Info("simulator exited", logging.Fields{
		"retcode":  code,
		"reason":   reason,
		"duration": fmt.Sprintf("%.1fs", i.exitedAt.Sub(i.startedAt).Seconds()),
	})
	return code, nil
}

// PID returns the process id, or 0 before Start.
func (i *Instance) PID() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cmd == nil || i.cmd.Process == nil {
		return 0
	}
	return i.cmd.Process.Pid
}

// ExitReason is known once End returned.
func (i *Instance) ExitReason() ExitReason {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.ended {
		return ExitReasonNone
	}
	return DetermineExitReason(i.state, i.terminated)
}

// Uptime is the time the process ran, or has been running so far.
func (i *Instance) Uptime() time.Duration {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.startedAt.IsZero() {
		return 0
	}
	if i.ended {
		return i.exitedAt.Sub(i.startedAt)
	}
	return time.Since(i.startedAt)
}

func (i *Instance) emit(ev LifecycleEvent) {
	ev.Timestamp = time.Now()
	i.eventsMu.Lock()
	i.events = append(i.events, ev)
	i.eventsMu.Unlock()
}

// Events returns all lifecycle events
func (i *Instance) Events() []LifecycleEvent {
	i.eventsMu.Lock()
	defer i.eventsMu.Unlock()
	return append([]LifecycleEvent(nil), i.events...)
}

// WriteReport writes a summary of the process lifecycle
func (i *Instance) WriteReport(out io.Writer) error {
	fmt.Fprintf(out, "=== Simulator Process ===\n")
	fmt.Fprintf(out, "Args: %v\n", i.args)
	fmt.Fprintf(out, "PID: %d\n", i.PID())
	fmt.Fprintf(out, "Uptime: %.2fs\n", i.Uptime().Seconds())
	fmt.Fprintf(out, "Exit Reason: %s\n", i.ExitReason())
	fmt.Fprintf(out, "\nLifecycle Events:\n")
	for _, event := range i.Events() {
		fmt.Fprintf(out, "  [%s] %s: %s\n",
			event.Timestamp.Format("15:04:05"), event.State, event.Message)
	}
	return nil
}
