//go:build unix

package launcher

import (
	"os"
	"os/exec"
	"syscall"
)

// detach puts the simulator in its own process group so a Ctrl-C aimed
// at the driver does not reach it before End runs.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}
}

func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

func signalOf(state *os.ProcessState) (os.Signal, bool) {
	if state == nil {
		return nil, false
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return nil, false
	}
	return ws.Signal(), true
}
