package pipeline

import "sync/atomic"

// runLock provides non-blocking lock semantics using atomic operations, so a
// second run request fails fast instead of queueing behind the first.
type runLock struct {
	state atomic.Int32 // 0 = idle, 1 = running
}

func (l *runLock) tryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// release must only be called by the goroutine that acquired the lock.
func (l *runLock) release() {
	l.state.Store(0)
}

func (l *runLock) busy() bool {
	return l.state.Load() == 1
}
