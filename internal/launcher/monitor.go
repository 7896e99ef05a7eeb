package launcher

import (
	"context"
	"time"
)

// StatsSource is a process that can be sampled.
type StatsSource interface {
	Stats() (Stats, error)
}

// Monitor samples src every interval and passes each sample to fn until
// ctx is done or the process is gone. It blocks; run it in a goroutine.
func Monitor(ctx context.Context, src StatsSource, interval time.Duration, fn func(Stats)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st, err := src.Stats()
			if err != nil {
				return
			}
			fn(st)
		}
	}
}
