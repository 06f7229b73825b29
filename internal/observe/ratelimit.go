package observe

import "sync/atomic"

// LogSampler throttles log lines for high-frequency events such as media
// frames. It allows the first Head occurrences and then one out of every
// Every after that, so startup behaviour stays visible without flooding the
// log at 50 frames per second.
//
// The zero value allows everything; use [NewLogSampler] for the standard
// head-then-sampled behaviour. Safe for concurrent use.
type LogSampler struct {
	head  uint64
	every uint64
	seen  atomic.Uint64
}

// NewLogSampler returns a sampler that allows the first head occurrences and
// then every every-th one. every must be at least 1.
func NewLogSampler(head, every uint64) *LogSampler {
	if every == 0 {
		every = 1
	}
	return &LogSampler{head: head, every: every}
}

// Allow reports whether this occurrence should be logged and returns the
// 1-based occurrence number for inclusion in the log line.
func (s *LogSampler) Allow() (bool, uint64) {
	n := s.seen.Add(1)
	if s.every == 0 {
		return true, n
	}
	if n <= s.head {
		return true, n
	}
	return (n-s.head)%s.every == 0, n
}

// Count returns the total number of occurrences seen so far.
func (s *LogSampler) Count() uint64 {
	return s.seen.Load()
}
