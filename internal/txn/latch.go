package txn

import (
	"sync"
	"time"

	"pkt.systems/rentald/internal/clock"
)

// Latch is a single-shot completion gate. The escalation timer waits on it;
// applying a decision completes it, which makes the waiting continuation
// observe completion and skip its broadcast.
type Latch struct {
	once sync.Once
	done chan struct{}
}

// NewLatch returns an uncompleted latch.
func NewLatch() *Latch {
	return &Latch{done: make(chan struct{})}
}

// Complete releases every current and future waiter. Safe to call more
// than once.
func (l *Latch) Complete() {
	l.once.Do(func() { close(l.done) })
}

// Completed reports whether Complete has been called.
func (l *Latch) Completed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the latch completes or d elapses on clk. It returns
// true on completion and false on timeout.
func (l *Latch) Wait(clk clock.Clock, d time.Duration) bool {
	select {
	case <-l.done:
		return true
	case <-clk.After(d):
		// Completion wins if both raced.
		return l.Completed()
	}
}
