package engine

import (
	"context"
	"sync"
)

// Serial runs dispatched functions one at a time on the goroutine that
// calls Run. Passing its Dispatch to SchedulerConfig keeps scheduled
// requests, and every reply the bus delivers for them, on that goroutine,
// which is what single-owner subscribers such as a presenter require.
type Serial struct {
	queue chan func()
	done  chan struct{}
	once  sync.Once
}

func NewSerial() *Serial {
	return &Serial{queue: make(chan func()), done: make(chan struct{})}
}

// Dispatch hands fn to Run and returns once it has run. fn is dropped when
// Run has already returned.
func (s *Serial) Dispatch(fn func()) {
	finished := make(chan struct{})
	select {
	case s.queue <- func() { defer close(finished); fn() }:
		<-finished
	case <-s.done:
	}
}

// Run executes dispatched functions until ctx is done. It must be called
// at most once.
func (s *Serial) Run(ctx context.Context) {
	defer s.once.Do(func() { close(s.done) })
	for {
		select {
		case fn := <-s.queue:
			fn()
		case <-ctx.Done():
			return
		}
	}
}
