package screenshot

import (
	"context"
	"errors"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pagecapture/config"
)

func TestScrollState_Next(t *testing.T) {
	s := ScrollState{LastHeight: 1000}

	s = s.Next(1000)
	assert.Equal(t, ScrollState{LastHeight: 1000, Stable: 1}, s)
	s = s.Next(1000)
	assert.Equal(t, ScrollState{LastHeight: 1000, Stable: 2}, s)

	s = s.Next(1500)
	assert.Equal(t, ScrollState{LastHeight: 1500, Stable: 0}, s, "growth resets the run")

	s = s.Next(1200)
	assert.Equal(t, ScrollState{LastHeight: 1200, Stable: 0}, s, "any change resets the run")
}

func TestScrollState_Converged(t *testing.T) {
	s := ScrollState{}
	for i := 0; i < 4; i++ {
		s = s.Next(0)
		assert.False(t, s.Converged(5))
	}
	s = s.Next(0)
	assert.True(t, s.Converged(5))
}

func newTestRevealer(t *testing.T, maxScrolls, maxIterations int) (*ScrollRevealer, *noSleep) {
	sleeper := &noSleep{}
	s := NewScrollRevealer(config.ScrollConfig{
		Enabled:            true,
		Step:               500,
		DelayMs:            300,
		MaxScrolls:         maxScrolls,
		MaxIterations:      maxIterations,
		WaitForContent:     true,
		ContentIdleTimeout: time.Second,
		Timeout:            5 * time.Second,
	}, config.NormalizeConfig{
		ResetSettle: time.Second,
		RetrySettle: 500 * time.Millisecond,
	}, 10*time.Millisecond, zaptest.NewLogger(t))
	s.sleep = sleeper.sleep
	return s, sleeper
}

// growingHeights returns heights that grow for the first n measurements
// after the initial one and then stay flat.
func growingHeights(page *fakePage, n int) evalHandler {
	measured := 0
	return func([]json.RawMessage) (any, error) {
		h := int64(1000 + 400*min(measured, n))
		measured++
		return h, nil
	}
}

func TestReveal_StopsAfterStableRun(t *testing.T) {
	s, _ := newTestRevealer(t, 5, 500)
	page := newFakePage()
	page.on("height", growingHeights(page, 3))

	step := s.Reveal(context.Background(), page)
	assert.Equal(t, StepOK, step.Status)
	// Three growing scrolls, then five without growth.
	assert.Len(t, page.callsOf("scrollBy"), 3+5)
	assert.Len(t, page.callsOf("height"), 1+3+5)
}

func TestReveal_DoesNotStopWhileGrowing(t *testing.T) {
	s, _ := newTestRevealer(t, 2, 500)
	page := newFakePage()
	page.on("height", growingHeights(page, 10))

	step := s.Reveal(context.Background(), page)
	assert.Equal(t, StepOK, step.Status)
	assert.GreaterOrEqual(t, len(page.callsOf("scrollBy")), 10+2)
}

func TestReveal_IterationCeiling(t *testing.T) {
	s, _ := newTestRevealer(t, 3, 20)
	page := newFakePage()
	page.on("height", growingHeights(page, 1<<20))

	step := s.Reveal(context.Background(), page)
	require.Equal(t, StepDegraded, step.Status)
	assert.ErrorIs(t, step.Err, errScrollCeiling)
	assert.Len(t, page.callsOf("scrollBy"), 20)
	assert.Equal(t, []string{"reset false"}, page.callsOf("reset"), "still returns to the top")
	assert.Empty(t, page.callsOf("origin"))
	assert.Zero(t, page.scrollY)
}

func TestReveal_TimeBudget(t *testing.T) {
	s, _ := newTestRevealer(t, 3, 1<<30)
	s.cfg.Timeout = 50 * time.Millisecond
	page := newFakePage()
	grow := growingHeights(page, 1<<30)
	page.on("height", func(args []json.RawMessage) (any, error) {
		time.Sleep(2 * time.Millisecond)
		return grow(args)
	})

	start := time.Now()
	step := s.Reveal(context.Background(), page)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Equal(t, StepDegraded, step.Status, "%v", step.Err)
	assert.ErrorIs(t, step.Err, errScrollBudget)
	assert.NotEmpty(t, page.callsOf("scrollBy"))
	assert.Equal(t, []string{"reset false"}, page.callsOf("reset"), "still returns to the top")
	assert.Zero(t, page.scrollY)
}

func TestReveal_CallerDeadlineFails(t *testing.T) {
	s, _ := newTestRevealer(t, 3, 1<<30)
	page := newFakePage()
	page.on("height", growingHeights(page, 1<<30))

	ctx, cancel := context.WithCancel(context.Background())
	page.on("scrollBy", func([]json.RawMessage) (any, error) {
		cancel()
		return true, nil
	})

	step := s.Reveal(ctx, page)
	assert.Equal(t, StepFailed, step.Status)
	assert.ErrorIs(t, step.Err, context.Canceled)
}

func TestReveal_ReturnsToOrigin(t *testing.T) {
	s, sleeper := newTestRevealer(t, 2, 500)
	page := newFakePage()

	step := s.Reveal(context.Background(), page)
	require.Equal(t, StepOK, step.Status)

	assert.Zero(t, page.scrollY)
	assert.Equal(t, []string{"reset false"}, page.callsOf("reset"))
	// Two scroll delays, then the reset settle; no retry needed.
	assert.Equal(t, []time.Duration{300 * time.Millisecond, 300 * time.Millisecond, time.Second}, sleeper.pauses)
}

func TestReveal_RetriesResetWhenOffsetsRemain(t *testing.T) {
	s, sleeper := newTestRevealer(t, 1, 500)
	page := newFakePage()
	resets := 0
	page.on("reset", func(args []json.RawMessage) (any, error) {
		resets++
		// Smooth scrolling swallows the first reset.
		if resets > 1 {
			page.scrollY = 0
		}
		return true, nil
	})

	step := s.Reveal(context.Background(), page)
	require.Equal(t, StepOK, step.Status)
	assert.Equal(t, []string{"reset false", "reset true"}, page.callsOf("reset"), "retry dispatches a scroll event")
	assert.Zero(t, page.scrollY)
	assert.Equal(t, 500*time.Millisecond, sleeper.pauses[len(sleeper.pauses)-1])
}

func TestReveal_EvaluationErrorDegrades(t *testing.T) {
	s, _ := newTestRevealer(t, 5, 500)
	page := newFakePage()
	page.on("scrollBy", func([]json.RawMessage) (any, error) {
		page.scrollY += 500
		return nil, errors.New("Execution context was destroyed")
	})

	step := s.Reveal(context.Background(), page)
	assert.Equal(t, StepDegraded, step.Status)
	assert.NotEmpty(t, page.callsOf("origin"))
	assert.Zero(t, page.scrollY)
}

func TestReveal_IdleTimeoutIgnored(t *testing.T) {
	s, _ := newTestRevealer(t, 2, 500)
	page := newFakePage()
	page.idleErr = context.DeadlineExceeded

	step := s.Reveal(context.Background(), page)
	assert.Equal(t, StepOK, step.Status)
	assert.Len(t, page.callsOf("idle"), 2)
}
