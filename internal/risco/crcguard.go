package risco

import (
	"sync"
	"time"
)

// crcGuard counts CRC failures, forgetting them once window passes without a
// new one.
type crcGuard struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	count  int
	last   time.Time
	now    func() time.Time
}

func newCRCGuard(limit int, window time.Duration) *crcGuard {
	return &crcGuard{limit: limit, window: window, now: time.Now}
}

// Fail records one failure and reports whether the limit is exceeded.
func (g *crcGuard) Fail() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if !g.last.IsZero() && now.Sub(g.last) >= g.window {
		g.count = 0
	}
	g.last = now
	g.count++
	return g.count > g.limit
}

func (g *crcGuard) Reset() {
	g.mu.Lock()
	g.count = 0
	g.last = time.Time{}
	g.mu.Unlock()
}

func (g *crcGuard) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.last.IsZero() && g.now().Sub(g.last) >= g.window {
		return 0
	}
	return g.count
}
