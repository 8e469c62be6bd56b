package registry

import (
	"sync"
	"testing"
	"time"

	"chatsync/pkg/storage"
)

// fakeClock is a manually advanced clock for deterministic TTL tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeScheduler records the single armed timer instead of running it.
type fakeScheduler struct {
	mu    sync.Mutex
	d     time.Duration
	fn    func()
	armed bool
	arms  int
}

func (s *fakeScheduler) After(d time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d, s.fn, s.armed = d, fn, true
	s.arms++
	return func() {
		s.mu.Lock()
		s.armed = false
		s.mu.Unlock()
	}
}

func (s *fakeScheduler) pending() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d, s.armed
}

// fire runs the armed callback, as the wall-clock timer would.
func (s *fakeScheduler) fire(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	fn, armed := s.fn, s.armed
	s.armed = false
	s.mu.Unlock()
	if !armed || fn == nil {
		t.Fatal("no sweep timer armed")
	}
	fn()
}

func newTestRegistry(t *testing.T, mutate func(*Options)) (*Registry, *storage.Memory) {
	t.Helper()
	st := storage.NewMemory()
	opts := Options{Storage: st}
	if mutate != nil {
		mutate(&opts)
	}
	r := New(opts)
	r.Hydrate()
	r.SetIdentity("user_self", "Self", "")
	t.Cleanup(r.Close)
	return r, st
}

func part(id, name string) map[string]any {
	return map[string]any{"id": id, "name": name}
}
