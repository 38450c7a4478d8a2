package screenshot

import (
	"context"
	"errors"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// visibleSelectors answers visibility probes from a mutable set.
func visibleSelectors(visible map[string]int) evalHandler {
	return func(args []json.RawMessage) (any, error) {
		var sel string
		if err := json.Unmarshal(args[0], &sel); err != nil {
			return nil, err
		}
		n, ok := visible[sel]
		if !ok {
			return false, nil
		}
		// n counts the remaining probes that still see the element; -1 never clears.
		if n == 0 {
			return false, nil
		}
		if n > 0 {
			visible[sel] = n - 1
		}
		return true, nil
	}
}

func TestQuiescence_NothingToWaitFor(t *testing.T) {
	sleeper := &noSleep{}
	q := newTestQuiescence(t, sleeper)
	page := newFakePage()

	step := q.Wait(context.Background(), page, 2*time.Second)
	assert.Equal(t, StepOK, step.Status)
	assert.Equal(t, []time.Duration{2 * time.Second, 500 * time.Millisecond}, sleeper.pauses)
	assert.Len(t, page.callsOf("visible"), 5, "every indicator probed once")
	assert.Equal(t, "idle", page.calls[0], "network idle comes first")
}

func TestQuiescence_WaitsForFirstVisibleIndicator(t *testing.T) {
	q := newTestQuiescence(t, &noSleep{})
	visible := map[string]int{".el-loading-mask": 3, ".loading": -1}
	page := newFakePage().on("visible", visibleSelectors(visible))

	step := q.Wait(context.Background(), page, 0)
	assert.Equal(t, StepOK, step.Status)

	calls := page.callsOf("visible")
	for _, c := range calls {
		assert.NotContains(t, c, `".loading"`, "probing stops once an indicator clears")
	}
	assert.Equal(t, 0, visible[".el-loading-mask"])
}

func TestQuiescence_StuckIndicatorDegrades(t *testing.T) {
	q := newTestQuiescence(t, &noSleep{})
	page := newFakePage().on("visible", visibleSelectors(map[string]int{`[v-loading="true"]`: -1}))

	start := time.Now()
	step := q.Wait(context.Background(), page, 0)
	assert.Equal(t, StepDegraded, step.Status)
	assert.ErrorIs(t, step.Err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	// Remaining indicators are still probed after a timeout.
	assert.NotEmpty(t, page.callsOf(`visible ".loading"`))
}

func TestQuiescence_NetworkTimeoutDegrades(t *testing.T) {
	sleeper := &noSleep{}
	q := newTestQuiescence(t, sleeper)
	page := newFakePage()
	page.idleErr = context.DeadlineExceeded

	step := q.Wait(context.Background(), page, time.Second)
	assert.Equal(t, StepDegraded, step.Status)
	assert.Equal(t, []time.Duration{time.Second, 500 * time.Millisecond}, sleeper.pauses, "delay and settle still happen")
}

func TestQuiescence_ProbeErrorsIgnored(t *testing.T) {
	q := newTestQuiescence(t, &noSleep{})
	page := newFakePage().on("visible", func([]json.RawMessage) (any, error) {
		return nil, errors.New("Execution context was destroyed")
	})

	step := q.Wait(context.Background(), page, 0)
	assert.Equal(t, StepOK, step.Status)
}

func TestQuiescence_CanceledContextFails(t *testing.T) {
	q := newTestQuiescence(t, &noSleep{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	step := q.Wait(ctx, newFakePage(), time.Second)
	require.Equal(t, StepFailed, step.Status)
	assert.ErrorIs(t, step.Err, context.Canceled)
}
