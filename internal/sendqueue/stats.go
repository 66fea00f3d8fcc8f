package sendqueue

import "sync/atomic"

// Stats accumulates send-side counters using atomics, since they are
// updated by the worker goroutine and read concurrently by Socket.Stats.
type Stats struct {
	SendBatch      atomic.Uint64
	SendDrop       atomic.Uint64
	SendFail       atomic.Uint64
	QueueFull      atomic.Uint64
	SendTotalDelay atomic.Int64 // nanoseconds, summed
}

// AvgSendDelaySeconds returns the mean enqueue-to-sent delay in seconds.
func (s *Stats) AvgSendDelaySeconds() float64 {
	n := s.SendBatch.Load()
	if n == 0 {
		return 0
	}
	return float64(s.SendTotalDelay.Load()) / float64(n) / 1e9
}
