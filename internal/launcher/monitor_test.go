package launcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingSource struct {
	calls  atomic.Int32
	failAt int32
}

func (c *countingSource) Stats() (Stats, error) {
	n := c.calls.Add(1)
	if c.failAt > 0 && n >= c.failAt {
		return Stats{}, errors.New("gone")
	}
	return Stats{PID: 7, RSSBytes: uint64(n)}, nil
}

func TestMonitorStopsWhenProcessIsGone(t *testing.T) {
	src := &countingSource{failAt: 4}
	var got []Stats

	done := make(chan struct{})
	go func() {
		Monitor(context.Background(), src, time.Millisecond, func(st Stats) { got = append(got, st) })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop after a failed sample")
	}
	if len(got) != 3 || got[2].RSSBytes != 3 {
		t.Errorf("unexpected samples %+v", got)
	}
}

func TestMonitorStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Monitor(ctx, &countingSource{}, time.Millisecond, func(Stats) {})
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor ignored cancellation")
	}
}
