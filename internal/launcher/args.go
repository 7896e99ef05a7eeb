package launcher

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedOS is returned when no default install path is known.
var ErrUnsupportedOS = errors.New("launcher: current OS not supported, set the simulator executable explicitly")

// Default install locations of the education edition.
var defaultExecutables = map[string]string{
	"windows": "C:/Program Files/V-REP3/V-REP_PRO_EDU/vrep",
	"darwin":  "/Users/chia/V-REP_PRO_EDU/vrep.app/Contents/MacOS/vrep",
}

// DefaultExecutable returns the install path for goos.
func DefaultExecutable(goos string) (string, error) {
	path, ok := defaultExecutables[goos]
	if !ok {
		return "", fmt.Errorf("%w (%s)", ErrUnsupportedOS, goos)
	}
	return path, nil
}

// Options are the launch flags of the simulator.
type Options struct {
	// Debug turns on the remote API server's debug console.
	Debug bool
	// PreEnableSync starts the server with synchronous mode allowed.
	PreEnableSync bool
	// Headless runs without a GUI.
	Headless bool
	// Extra is appended verbatim.
	Extra []string
}

// DefaultOptions matches the session default: no debug, sync pre-enabled.
func DefaultOptions() Options {
	return Options{PreEnableSync: true}
}

// Args builds the argument vector, e.g.
//
//	vrep -gREMOTEAPISERVERSERVICE_19997_FALSE_TRUE
func Args(executable string, port int, opts Options) []string {
	args := []string{executable}
	if opts.Headless {
		args = append(args, "-h")
	}
	args = append(args, fmt.Sprintf("-gREMOTEAPISERVERSERVICE_%d_%s_%s",
		port, flag(opts.Debug), flag(opts.PreEnableSync)))
	return append(args, opts.Extra...)
}

func flag(b bool) string {
	return strings.ToUpper(fmt.Sprint(b))
}
