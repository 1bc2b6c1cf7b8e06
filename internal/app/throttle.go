package app

import (
	"sync"
	"time"

	"github.com/dkeye/airboard/internal/core"
)

const DefaultThrottleInterval = 100 * time.Millisecond

// Throttle decimates landmark results per participant: a result passes only
// when strictly more than interval has elapsed since the last one that passed.
// Discarded results are gone, nothing is queued.
type Throttle struct {
	mu       sync.Mutex
	lastEmit map[core.SessionID]time.Time
	interval time.Duration
}

func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		interval = DefaultThrottleInterval
	}
	return &Throttle{
		lastEmit: make(map[core.SessionID]time.Time),
		interval: interval,
	}
}

func (t *Throttle) Interval() time.Duration { return t.interval }

// Allow decides for a result with hands entries observed at now.
// Empty results never pass and do not touch the timestamp.
func (t *Throttle) Allow(sid core.SessionID, now time.Time, hands int) bool {
	if hands == 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.lastEmit[sid]; ok && now.Sub(last) <= t.interval {
		return false
	}
	t.lastEmit[sid] = now
	return true
}

func (t *Throttle) Forget(sid core.SessionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastEmit, sid)
}
