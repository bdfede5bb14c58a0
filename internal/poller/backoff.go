package poller

import "time"

// retrySchedule sets how long the poller stays idle after consecutive failed
// polls. The first wait is one poll interval; each further failure
// multiplies it by Growth until Ceiling. Spread moves a wait by up to that
// fraction in either direction.
type retrySchedule struct {
	First   time.Duration
	Growth  float64
	Spread  float64
	Ceiling time.Duration
}

var defaultSchedule = retrySchedule{
	First:   3 * time.Second,
	Growth:  2,
	Spread:  0.1,
	Ceiling: time.Minute,
}

// delay returns the wait after the given number of consecutive failures.
// sample is uniform in [0,1).
func (s retrySchedule) delay(failures int, sample float64) time.Duration {
	wait := s.First
	if wait <= 0 {
		wait = defaultSchedule.First
	}
	growth := s.Growth
	if growth <= 1 {
		growth = defaultSchedule.Growth
	}
	limit := s.ceiling()

	for n := 1; n < failures && wait < limit; n++ {
		wait = time.Duration(float64(wait) * growth)
	}
	if s.Spread > 0 {
		spread := min(s.Spread, 1)
		wait = time.Duration(float64(wait) * (1 + spread*(2*sample-1)))
	}
	return min(wait, limit)
}

// ceiling is the longest the poller ever waits between attempts.
func (s retrySchedule) ceiling() time.Duration {
	if s.Ceiling > 0 {
		return s.Ceiling
	}
	return defaultSchedule.Ceiling
}
