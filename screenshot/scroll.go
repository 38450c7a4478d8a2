package screenshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pagecapture/config"
)

const stepScroll = "scroll"

// errScrollCeiling is reported when the page kept growing until the
// iteration ceiling.
var errScrollCeiling = errors.New("scroll iteration ceiling reached before height settled")

// errScrollBudget is reported when the page kept growing until the scroll
// time budget ran out.
var errScrollBudget = errors.New("scroll time budget spent before height settled")

// ScrollState tracks height convergence of the reveal loop.
type ScrollState struct {
	LastHeight int64
	Stable     int
}

// Next returns the state after observing height h. An unchanged height
// extends the stable run; any change restarts it from h.
func (s ScrollState) Next(h int64) ScrollState {
	if h == s.LastHeight {
		return ScrollState{LastHeight: s.LastHeight, Stable: s.Stable + 1}
	}
	return ScrollState{LastHeight: h}
}

// Converged reports whether max consecutive scrolls saw no growth.
func (s ScrollState) Converged(max int) bool {
	return s.Stable >= max
}

// ScrollRevealer scrolls down in steps until the page stops growing, then
// returns to the top.
type ScrollRevealer struct {
	cfg    config.ScrollConfig
	reset  resetConfig
	quiet  time.Duration
	logger *zap.Logger
	sleep  sleepFunc
}

// NewScrollRevealer creates a revealer. quiet is the network quiet window
// used while waiting for lazy content.
func NewScrollRevealer(cfg config.ScrollConfig, norm config.NormalizeConfig, quiet time.Duration, logger *zap.Logger) *ScrollRevealer {
	return &ScrollRevealer{
		cfg:    cfg,
		reset:  resetConfig{settle: norm.ResetSettle, retrySettle: norm.RetrySettle},
		quiet:  quiet,
		logger: logger.Named("scroll"),
		sleep:  sleepCtx,
	}
}

// Reveal runs the scroll loop and the return to origin. Errors degrade the
// step; the origin reset is attempted regardless. A page still growing at
// the iteration ceiling or the end of the time budget is captured as far as
// it was revealed.
func (s *ScrollRevealer) Reveal(ctx context.Context, page Page) StepResult {
	scrollCtx, cancel := s.budget(ctx)
	iterations, err := s.scrollUntilStable(scrollCtx, page)
	spent := err != nil && scrollCtx.Err() != nil && ctx.Err() == nil
	cancel()
	if spent {
		err = fmt.Errorf("%w after %s", errScrollBudget, s.cfg.Timeout)
	}

	stoppedEarly := errors.Is(err, errScrollCeiling) || errors.Is(err, errScrollBudget)
	if err == nil || stoppedEarly {
		rerr := resetToOrigin(ctx, page, s.reset, false, s.sleep)
		switch {
		case rerr != nil:
			err = errors.Join(err, rerr)
		case stoppedEarly:
			s.logger.Warn("Page still growing, capturing what was revealed", zap.Int("iterations", iterations), zap.Error(err))
			return degradedStep(stepScroll, err)
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return StepResult{Step: stepScroll, Status: StepFailed, Err: ctx.Err()}
		}
		s.logger.Warn("Error while scrolling, returning to top", zap.Int("iterations", iterations), zap.Error(err))
		if rerr := evalCall(ctx, page, nil, scrollToOriginJS); rerr != nil {
			s.logger.Debug("Fallback scroll to origin failed", zap.Error(rerr))
		}
		return degradedStep(stepScroll, err)
	}

	s.logger.Debug("Scroll reveal finished", zap.Int("iterations", iterations))
	return okStep(stepScroll)
}

// budget bounds the scroll loop by the configured timeout.
func (s *ScrollRevealer) budget(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

func (s *ScrollRevealer) scrollUntilStable(ctx context.Context, page Page) (int, error) {
	var height int64
	if err := evalCall(ctx, page, &height, bodyScrollHeightJS); err != nil {
		return 0, fmt.Errorf("measure height: %w", err)
	}
	state := ScrollState{LastHeight: height}

	for i := 1; ; i++ {
		if i > s.cfg.MaxIterations {
			return i - 1, errScrollCeiling
		}

		if err := evalCall(ctx, page, nil, scrollByJS, s.cfg.Step); err != nil {
			return i, fmt.Errorf("scroll: %w", err)
		}
		if err := s.sleep(ctx, s.cfg.Delay()); err != nil {
			return i, err
		}
		if s.cfg.WaitForContent {
			idleCtx, cancel := context.WithTimeout(ctx, s.cfg.ContentIdleTimeout)
			// A timeout here only means the page is still busy.
			_ = page.WaitNetworkIdle(idleCtx, s.quiet)
			cancel()
			if ctx.Err() != nil {
				return i, ctx.Err()
			}
		}
		if err := evalCall(ctx, page, &height, bodyScrollHeightJS); err != nil {
			return i, fmt.Errorf("measure height: %w", err)
		}

		state = state.Next(height)
		if state.Converged(s.cfg.MaxScrolls) {
			return i, nil
		}
	}
}
