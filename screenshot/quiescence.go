package screenshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pagecapture/config"
)

const stepQuiescence = "quiescence"

// Quiescence waits for a page to finish an asynchronous update: network
// idle, a fixed delay, then any visible busy indicator going away.
type Quiescence struct {
	cfg    config.WaitConfig
	logger *zap.Logger
	sleep  sleepFunc
}

// NewQuiescence creates a detector from the wait configuration.
func NewQuiescence(cfg config.WaitConfig, logger *zap.Logger) *Quiescence {
	return &Quiescence{
		cfg:    cfg,
		logger: logger.Named("quiescence"),
		sleep:  sleepCtx,
	}
}

// Wait blocks until the page looks settled. delay is the pause after network
// idle (longer after a click than after navigation). Timeouts degrade the
// step and never fail it; only the end of ctx does.
func (q *Quiescence) Wait(ctx context.Context, page Page, delay time.Duration) StepResult {
	var degraded error

	idleCtx, cancel := context.WithTimeout(ctx, q.cfg.NetworkTimeout)
	err := page.WaitNetworkIdle(idleCtx, q.cfg.NetworkQuiet)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return StepResult{Step: stepQuiescence, Status: StepFailed, Err: ctx.Err()}
		}
		q.logger.Warn("Network did not go idle, continuing", zap.Duration("timeout", q.cfg.NetworkTimeout), zap.Error(err))
		degraded = fmt.Errorf("network idle: %w", err)
	}

	if err := q.sleep(ctx, delay); err != nil {
		return StepResult{Step: stepQuiescence, Status: StepFailed, Err: err}
	}

	if err := q.waitIndicators(ctx, page); err != nil {
		if ctx.Err() != nil {
			return StepResult{Step: stepQuiescence, Status: StepFailed, Err: ctx.Err()}
		}
		q.logger.Warn("Loading indicator did not clear, continuing", zap.Error(err))
		degraded = errors.Join(degraded, err)
	}

	if err := q.sleep(ctx, q.cfg.Settle); err != nil {
		return StepResult{Step: stepQuiescence, Status: StepFailed, Err: err}
	}

	if degraded != nil {
		return degradedStep(stepQuiescence, degraded)
	}
	return okStep(stepQuiescence)
}

// waitIndicators probes the busy indicators in order. The first one that
// clears ends the probing; one that stays visible past its timeout is
// reported and the remaining indicators are still probed.
func (q *Quiescence) waitIndicators(ctx context.Context, page Page) error {
	var errs error
	for _, sel := range q.cfg.IndicatorSelectors {
		visible, err := q.isVisible(ctx, page, sel, q.cfg.IndicatorProbe)
		if err != nil || !visible {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		q.logger.Info("Loading indicator detected, waiting for it to clear", zap.String("selector", sel))
		if err := q.waitHidden(ctx, page, sel); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = errors.Join(errs, fmt.Errorf("indicator %s: %w", sel, err))
			continue
		}
		q.logger.Info("Loading indicator cleared", zap.String("selector", sel))
		break
	}
	return errs
}

func (q *Quiescence) isVisible(ctx context.Context, page Page, sel string, timeout time.Duration) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var visible bool
	if err := evalCall(probeCtx, page, &visible, isVisibleJS, sel); err != nil {
		return false, err
	}
	return visible, nil
}

// waitHidden polls until sel is no longer visible or the indicator timeout
// passes.
func (q *Quiescence) waitHidden(ctx context.Context, page Page, sel string) error {
	waitCtx, cancel := context.WithTimeout(ctx, q.cfg.IndicatorTimeout)
	defer cancel()

	ticker := time.NewTicker(q.cfg.IndicatorPoll)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return waitCtx.Err()
		case <-ticker.C:
			visible, err := q.isVisible(waitCtx, page, sel, q.cfg.IndicatorProbe)
			if err != nil {
				if waitCtx.Err() != nil {
					return waitCtx.Err()
				}
				q.logger.Debug("Indicator probe failed", zap.String("selector", sel), zap.Error(err))
				continue
			}
			if !visible {
				return nil
			}
		}
	}
}
