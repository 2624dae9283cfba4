package upstream

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultMinInterval spaces consecutive upstream calls across all jobs.
	DefaultMinInterval = 2 * time.Second

	// Cooldown bounds applied to upstream Retry-After hints.
	minCooldown = 1 * time.Second
	maxCooldown = 10 * time.Minute
)

// Gate serializes access to the upstream API. Every caller waits for the
// minimum spacing since the last call, plus any active cooldown set after a
// rate-limit response. One gate is shared by all jobs and the refresher.
type Gate struct {
	mu          sync.Mutex
	minInterval time.Duration
	lastCall    time.Time
	cooldownEnd time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewGate(minInterval time.Duration) *Gate {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Gate{
		minInterval: minInterval,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// Wait blocks until the caller may issue an upstream request, or until ctx is
// done. Concurrent callers that wake together race for the slot; losers loop
// and wait out another interval, so the spacing holds across all jobs.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		now := g.now()
		wakeAt := g.lastCall.Add(g.minInterval)
		if g.cooldownEnd.After(wakeAt) {
			wakeAt = g.cooldownEnd
		}
		if !wakeAt.After(now) {
			g.lastCall = now
			g.mu.Unlock()
			return nil
		}
		g.mu.Unlock()

		if err := g.sleep(ctx, wakeAt.Sub(now)); err != nil {
			return err
		}
	}
}

// Cooldown pauses all upstream traffic for d, clamped to [1s, 10m]. Called
// after a rate-limit response so in-flight jobs back off together.
func (g *Gate) Cooldown(d time.Duration) {
	if d < minCooldown {
		d = minCooldown
	}
	if d > maxCooldown {
		d = maxCooldown
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	end := g.now().Add(d)
	if end.After(g.cooldownEnd) {
		g.cooldownEnd = end
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
