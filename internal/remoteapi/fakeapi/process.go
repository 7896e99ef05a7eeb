package fakeapi

import (
	"errors"
	"sync"
)

var (
	errProcessNotStarted = errors.New("fakeapi: process not started")
	errProcessStarted    = errors.New("fakeapi: process already started")
)

// Process satisfies launcher.Process without running anything.
type Process struct {
	mu      sync.Mutex
	started bool
	ended   bool

	// ExitCode is what End reports.
	ExitCode int
}

// NewProcess returns a process that exits with code 0.
func NewProcess() *Process {
	return &Process{}
}

func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errProcessStarted
	}
	p.started = true
	return nil
}

func (p *Process) End() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return -1, errProcessNotStarted
	}
	p.ended = true
	return p.ExitCode, nil
}

// PID is always 0.
func (p *Process) PID() int { return 0 }

// Ended reports whether End ran.
func (p *Process) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ended
}
