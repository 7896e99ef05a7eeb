//go:build windows

package launcher

import (
	"os"
	"os/exec"
)

func detach(cmd *exec.Cmd) {}

// terminate has no graceful variant on Windows.
func terminate(p *os.Process) error {
	return p.Kill()
}

func signalOf(state *os.ProcessState) (os.Signal, bool) {
	return nil, false
}
