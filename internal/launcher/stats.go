package launcher

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
)

// Stats is a resource sample of the simulator process.
type Stats struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Threads    int32   `json:"threads"`
}

// Stats samples the running process.
func (i *Instance) Stats() (Stats, error) {
	pid := i.PID()
	if pid == 0 || i.Exited() {
		return Stats{}, ErrNotStarted
	}
	return SampleProcess(pid)
}

// SampleProcess reads CPU, memory and thread count of pid.
func SampleProcess(pid int) (Stats, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return Stats{}, fmt.Errorf("launcher: inspect pid %d: %w", pid, err)
	}

	st := Stats{PID: pid}
	if cpu, err := p.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		st.RSSBytes = mem.RSS
	}
	if n, err := p.NumThreads(); err == nil {
		st.Threads = n
	}
	return st, nil
}
