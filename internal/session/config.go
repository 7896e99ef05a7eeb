package session

import (
	"math/rand"
	"time"

	"github.com/psantana5/vrepper/internal/launcher"
)

// Random ports are drawn from [PortRangeStart, PortRangeStart+PortRangeSize).
// Collisions between parallel sessions are possible, only less likely.
const (
	PortRangeStart = 19999
	PortRangeSize  = 1000
)

// Config is everything a session needs to launch and reach a simulator.
type Config struct {
	Host string
	// Port 0 picks a random port.
	Port int
	// Executable empty uses the platform default install path.
	Executable string
	Launch     launcher.Options

	// RetryCap is the number of retries after the first handshake.
	RetryCap        int
	AttemptTimeout  time.Duration
	CommThreadCycle time.Duration

	// StatusMessage is sent once after connecting.
	StatusMessage string
}

// DefaultConfig returns the stock connection policy.
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Launch:          launcher.DefaultOptions(),
		RetryCap:        15,
		AttemptTimeout:  1000 * time.Millisecond,
		CommThreadCycle: 5 * time.Millisecond,
		StatusMessage:   "(vrepper)Hello V-REP!",
	}
}

// RandomPort draws a port from the session port range.
func RandomPort(r *rand.Rand) int {
	return PortRangeStart + r.Intn(PortRangeSize)
}
