package replay

import "sync"

// Scheduler runs block loads. The engine never blocks on a load; it hands the
// read to a Scheduler and is resumed by the load's completion callback.
type Scheduler interface {
	Go(fn func())
}

// GoroutineScheduler runs each task on its own goroutine.
type GoroutineScheduler struct {
	wg sync.WaitGroup
}

// Go starts fn on a new goroutine.
func (s *GoroutineScheduler) Go(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Wait blocks until every task started so far has returned.
func (s *GoroutineScheduler) Wait() {
	s.wg.Wait()
}

// InlineScheduler runs tasks synchronously on the caller's goroutine.
type InlineScheduler struct{}

// Go runs fn before returning.
func (InlineScheduler) Go(fn func()) { fn() }

// ManualScheduler queues tasks until RunPending or RunNext is called.
// Tests use it to hold a load in flight while the session changes.
type ManualScheduler struct {
	mu    sync.Mutex
	queue []func()
}

// Go queues fn.
func (s *ManualScheduler) Go(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, fn)
}

// Pending returns the number of queued tasks.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// RunNext runs the oldest queued task. It reports false if none was queued.
func (s *ManualScheduler) RunNext() bool {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return false
	}
	fn := s.queue[0]
	s.queue = s.queue[1:]
	s.mu.Unlock()

	fn()
	return true
}

// RunPending runs queued tasks, including ones queued while running, until
// the queue is empty. It returns the number of tasks run.
func (s *ManualScheduler) RunPending() int {
	n := 0
	for s.RunNext() {
		n++
	}
	return n
}
