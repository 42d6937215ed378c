package app

import (
	"sync"
	"time"
)

// coalescer folds bursts of re-evaluation requests into single firings: a
// trigger arriving while one is already pending is absorbed. The channel has
// capacity one, so an unconsumed firing also absorbs later ones.
type coalescer struct {
	delay time.Duration

	mu      sync.Mutex
	pending bool

	C chan struct{}
}

func newCoalescer(delay time.Duration) *coalescer {
	return &coalescer{delay: delay, C: make(chan struct{}, 1)}
}

// Trigger requests a firing after the delay. No-op while one is pending.
func (c *coalescer) Trigger() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending {
		return
	}
	c.pending = true
	time.AfterFunc(c.delay, func() {
		c.mu.Lock()
		c.pending = false
		c.mu.Unlock()
		select {
		case c.C <- struct{}{}:
		default:
		}
	})
}
