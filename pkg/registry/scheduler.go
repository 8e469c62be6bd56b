package registry

import "time"

// Scheduler abstracts the single re-armed timer behind the typing sweep so
// tests can drive it with a simulated clock.
type Scheduler interface {
	// After runs fn once after d and returns a cancel function.
	After(d time.Duration, fn func()) (cancel func())
}

type realScheduler struct{}

func (realScheduler) After(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// NewScheduler returns the wall-clock Scheduler.
func NewScheduler() Scheduler { return realScheduler{} }
