package screenshot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pagecapture/config"
)

const (
	stepButton = "button"

	// buttonMarker tags the element a probe found, so the click hits exactly
	// that element even when the query matches several.
	buttonMarker = "data-pagecapture-target"
)

// ButtonMatch is a resolved button: which query matched and the selector
// that now addresses the element.
type ButtonMatch struct {
	Index    int
	Query    Query
	Selector string
}

// ButtonResolver finds and clicks the first visible button among the
// synthesized queries.
type ButtonResolver struct {
	queries      []Query
	probeTimeout time.Duration
	clickTimeout time.Duration
	actionDelay  time.Duration
	quiescence   *Quiescence
	logger       *zap.Logger
	newToken     func() string
}

// NewButtonResolver builds the query list from the configured labels.
func NewButtonResolver(cfg config.ButtonConfig, actionDelay time.Duration, quiescence *Quiescence, logger *zap.Logger) *ButtonResolver {
	return &ButtonResolver{
		queries:      Synthesize(cfg.Labels),
		probeTimeout: cfg.ProbeTimeout,
		clickTimeout: cfg.ClickTimeout,
		actionDelay:  actionDelay,
		quiescence:   quiescence,
		logger:       logger.Named("button"),
		newToken:     uuid.NewString,
	}
}

// Queries returns the candidate queries in priority order.
func (r *ButtonResolver) Queries() []Query {
	return r.queries
}

type probeArgs struct {
	CSS    string `json:"css"`
	Text   string `json:"text"`
	Marker string `json:"marker"`
	Token  string `json:"token"`
}

// Resolve probes the queries in order and returns the first whose first
// matching element is visible. A probe that errors or times out counts as
// no match.
func (r *ButtonResolver) Resolve(ctx context.Context, page Page) (ButtonMatch, bool) {
	token := r.newToken()
	for i, q := range r.queries {
		if ctx.Err() != nil {
			return ButtonMatch{}, false
		}

		args := probeArgs{CSS: q.CSS, Marker: buttonMarker, Token: token}
		if q.Kind == QueryCSSWithText {
			args.Text = q.Text
		}

		probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
		var visible bool
		err := evalCall(probeCtx, page, &visible, probeElementJS, args)
		cancel()
		if err != nil {
			r.logger.Debug("Button probe failed", zap.Stringer("query", q), zap.Error(err))
			continue
		}
		if visible {
			return ButtonMatch{
				Index:    i,
				Query:    q,
				Selector: fmt.Sprintf(`[%s="%s"]`, buttonMarker, token),
			}, true
		}
	}
	return ButtonMatch{}, false
}

// Run performs the button action: resolve, click, wait for the page to
// settle. Nothing here fails the capture; a click or wait problem is
// reported as degraded.
func (r *ButtonResolver) Run(ctx context.Context, page Page) StepResult {
	if len(r.queries) == 0 {
		return skippedStep(stepButton)
	}

	match, ok := r.Resolve(ctx, page)
	if !ok {
		if ctx.Err() != nil {
			return StepResult{Step: stepButton, Status: StepFailed, Err: ctx.Err()}
		}
		r.logger.Debug("No visible button matched")
		return skippedStep(stepButton)
	}

	r.logger.Info("Clicking button", zap.Stringer("query", match.Query), zap.Int("candidate", match.Index))
	clickCtx, cancel := context.WithTimeout(ctx, r.clickTimeout)
	err := page.Click(clickCtx, match.Selector)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return StepResult{Step: stepButton, Status: StepFailed, Err: ctx.Err()}
		}
		r.logger.Warn("Button click failed, continuing without it", zap.Stringer("query", match.Query), zap.Error(err))
		return degradedStep(stepButton, fmt.Errorf("click %s: %w", match.Query, err))
	}

	wait := r.quiescence.Wait(ctx, page, r.actionDelay)
	switch wait.Status {
	case StepFailed:
		return StepResult{Step: stepButton, Status: StepFailed, Err: wait.Err}
	case StepDegraded:
		return degradedStep(stepButton, wait.Err)
	}
	r.logger.Info("Button action completed", zap.Stringer("query", match.Query))
	return okStep(stepButton)
}
