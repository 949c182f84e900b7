package clock

import "time"

// Clock abstracts time so polling loops can be driven deterministically
// in tests instead of sleeping wall-clock.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// New returns a Clock backed by the system clock.
func New() Clock {
	return realClock{}
}
