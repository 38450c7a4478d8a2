package screenshot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pagecapture/config"
)

const (
	stepNormalize = "normalize"
	stepRestore   = "restore"

	hiddenMarker = "data-pagecapture-hidden"
)

// ScrollOffsets are the three vertical scroll positions a page reports.
type ScrollOffsets struct {
	Window   float64 `json:"window"`
	Document float64 `json:"document"`
	Body     float64 `json:"body"`
}

// IsOrigin reports whether every offset is zero.
func (o ScrollOffsets) IsOrigin() bool {
	return o.Window == 0 && o.Document == 0 && o.Body == 0
}

type resetConfig struct {
	settle      time.Duration
	retrySettle time.Duration
}

// resetToOrigin forces the scroll position to the top, waits, and forces it
// once more if any offset is still nonzero. The retry always dispatches a
// scroll event.
func resetToOrigin(ctx context.Context, page Page, cfg resetConfig, dispatch bool, sleep sleepFunc) error {
	if err := evalCall(ctx, page, nil, resetScrollJS, dispatch); err != nil {
		return fmt.Errorf("reset scroll: %w", err)
	}
	if err := sleep(ctx, cfg.settle); err != nil {
		return err
	}

	offsets, err := readOffsets(ctx, page)
	if err != nil {
		return err
	}
	if offsets.IsOrigin() {
		return nil
	}

	if err := evalCall(ctx, page, nil, resetScrollJS, true); err != nil {
		return fmt.Errorf("reset scroll: %w", err)
	}
	return sleep(ctx, cfg.retrySettle)
}

func readOffsets(ctx context.Context, page Page) (ScrollOffsets, error) {
	var offsets ScrollOffsets
	if err := evalCall(ctx, page, &offsets, scrollOffsetsJS); err != nil {
		return ScrollOffsets{}, fmt.Errorf("read scroll offsets: %w", err)
	}
	return offsets, nil
}

// Normalizer puts the page into a deterministic state right before the
// screenshot and undoes its element hiding afterwards.
type Normalizer struct {
	cfg    config.NormalizeConfig
	logger *zap.Logger
	sleep  sleepFunc
}

// NewNormalizer creates a normalizer.
func NewNormalizer(cfg config.NormalizeConfig, logger *zap.Logger) *Normalizer {
	return &Normalizer{
		cfg:    cfg,
		logger: logger.Named("normalize"),
		sleep:  sleepCtx,
	}
}

type hideArgs struct {
	Marker string `json:"marker"`
	Band   int    `json:"band"`
}

// Prepare resets the scroll position and, when enabled, hides fixed and
// sticky elements within the top band.
func (n *Normalizer) Prepare(ctx context.Context, page Page) StepResult {
	reset := resetConfig{settle: n.cfg.ResetSettle, retrySettle: n.cfg.RetrySettle}
	if err := resetToOrigin(ctx, page, reset, true, n.sleep); err != nil {
		if ctx.Err() != nil {
			return StepResult{Step: stepNormalize, Status: StepFailed, Err: ctx.Err()}
		}
		n.logger.Warn("Scroll reset failed before capture", zap.Error(err))
		return degradedStep(stepNormalize, err)
	}

	if !n.cfg.HideFixedElements {
		return okStep(stepNormalize)
	}

	var hidden int
	if err := evalCall(ctx, page, &hidden, hideFixedJS, hideArgs{Marker: hiddenMarker, Band: n.cfg.TopBand}); err != nil {
		if ctx.Err() != nil {
			return StepResult{Step: stepNormalize, Status: StepFailed, Err: ctx.Err()}
		}
		n.logger.Warn("Hiding fixed elements failed", zap.Error(err))
		return degradedStep(stepNormalize, fmt.Errorf("hide fixed elements: %w", err))
	}
	if hidden > 0 {
		n.logger.Debug("Hid fixed elements", zap.Int("count", hidden))
		if err := n.sleep(ctx, n.cfg.HideSettle); err != nil {
			return StepResult{Step: stepNormalize, Status: StepFailed, Err: err}
		}
	}
	return okStep(stepNormalize)
}

// Restore shows the elements Prepare hid. It only touches elements Prepare
// tagged, so it is safe to call when nothing was hidden or more than once.
func (n *Normalizer) Restore(ctx context.Context, page Page) StepResult {
	if !n.cfg.HideFixedElements {
		return skippedStep(stepRestore)
	}

	var restored int
	if err := evalCall(ctx, page, &restored, restoreFixedJS, hiddenMarker); err != nil {
		n.logger.Debug("Restoring fixed elements failed", zap.Error(err))
		return degradedStep(stepRestore, fmt.Errorf("restore fixed elements: %w", err))
	}
	return okStep(stepRestore)
}
