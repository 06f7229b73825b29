package bridge

// Default submit thresholds. They adapt at runtime from observed success
// rate and latency, within the bounds enforced by adjust.
const (
	defaultMinIntervalMs = 2000
	defaultMaxIntervalMs = 5000
	defaultMinChunks     = 10
	defaultOptimalChunks = 25
	defaultMaxBytes      = 1 << 20

	adjustEvery = 10
)

// thresholds governs when buffered audio is submitted for transcription.
type thresholds struct {
	minIntervalMs int
	maxIntervalMs int
	minChunks     int
	optimalChunks int
	maxBytes      int
}

func defaultThresholds() thresholds {
	return thresholds{
		minIntervalMs: defaultMinIntervalMs,
		maxIntervalMs: defaultMaxIntervalMs,
		minChunks:     defaultMinChunks,
		optimalChunks: defaultOptimalChunks,
		maxBytes:      defaultMaxBytes,
	}
}

// submitStats tracks submission outcomes between threshold adjustments.
type submitStats struct {
	successes   int
	failures    int
	sinceAdjust int

	// avgResponseMs is a running mean over successful submissions.
	avgResponseMs float64
}

func (s *submitStats) recordSuccess(latencyMs float64) {
	s.successes++
	s.sinceAdjust++
	n := float64(s.successes)
	s.avgResponseMs += (latencyMs - s.avgResponseMs) / n
}

func (s *submitStats) recordFailure() {
	s.failures++
	s.sinceAdjust++
}

func (s *submitStats) successRate() float64 {
	total := s.successes + s.failures
	if total == 0 {
		return 1
	}
	return float64(s.successes) / float64(total)
}

// adjust retunes the thresholds from the stats gathered since the last
// adjustment. High success with fast responses tightens the submit cadence
// for lower latency; a degraded provider backs the cadence off.
func (t *thresholds) adjust(stats *submitStats) {
	rate := stats.successRate()
	switch {
	case rate > 0.95:
		if stats.avgResponseMs < 1000 {
			t.minIntervalMs = max(t.minIntervalMs-200, 1000)
			t.optimalChunks = max(t.optimalChunks-2, 15)
		} else {
			t.minIntervalMs = min(t.minIntervalMs+200, 3000)
		}
	case rate < 0.80:
		t.minIntervalMs = min(t.minIntervalMs+500, 4000)
		t.optimalChunks = min(t.optimalChunks+5, 40)
	}
	stats.sinceAdjust = 0
}
