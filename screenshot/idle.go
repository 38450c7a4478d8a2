package screenshot

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"
)

const minIdlePoll = 10 * time.Millisecond

// idleTracker counts in-flight requests of one tab from CDP network events.
type idleTracker struct {
	mu           sync.RWMutex
	inflight     map[network.RequestID]struct{}
	lastActivity time.Time
	logger       *zap.Logger
}

func newIdleTracker(logger *zap.Logger) *idleTracker {
	return &idleTracker{
		inflight: make(map[network.RequestID]struct{}),
		logger:   logger,
	}
}

// handleEvent is registered with chromedp.ListenTarget.
func (t *idleTracker) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.started(e.RequestID)
	case *network.EventLoadingFinished:
		t.finished(e.RequestID)
	case *network.EventLoadingFailed:
		t.finished(e.RequestID)
	}
}

func (t *idleTracker) started(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[id] = struct{}{}
	t.lastActivity = time.Now()
}

func (t *idleTracker) finished(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, id)
	t.lastActivity = time.Now()
}

func (t *idleTracker) snapshot() (int, time.Time) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.inflight), t.lastActivity
}

// Wait blocks until no request has been in flight for the quiet period.
// It returns ctx.Err() when the context ends first.
func (t *idleTracker) Wait(ctx context.Context, quiet time.Duration) error {
	poll := quiet / 2
	if poll < minIdlePoll {
		poll = minIdlePoll
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	quietSince := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count, last := t.snapshot()
			if count > 0 {
				quietSince = time.Now()
				t.logger.Debug("Waiting for network idle", zap.Int("inflight_requests", count))
				continue
			}
			if last.After(quietSince) {
				quietSince = last
			}
			if time.Since(quietSince) >= quiet {
				return nil
			}
		}
	}
}
