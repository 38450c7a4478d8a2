package screenshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"pagecapture/config"
)

const (
	stepNavigate = "navigate"
	stepLoad     = "load"
	stepSize     = "size"
	stepSettle   = "settle"
)

// Screenshoter captures every page at every viewport, one tab per capture.
type Screenshoter struct {
	cfg        config.Config
	opener     Opener
	runDir     string
	quiescence *Quiescence
	buttons    *ButtonResolver
	scroller   *ScrollRevealer
	normalizer *Normalizer
	logger     *zap.Logger
	sleep      sleepFunc

	mu      sync.Mutex
	claimed map[string]bool
}

// NewScreenshoter creates a Screenshoter writing under runDir.
func NewScreenshoter(cfg config.Config, opener Opener, runDir string, logger *zap.Logger) *Screenshoter {
	logger = logger.Named("screenshot")
	quiescence := NewQuiescence(cfg.Wait, logger)
	return &Screenshoter{
		cfg:        cfg,
		opener:     opener,
		runDir:     runDir,
		quiescence: quiescence,
		buttons:    NewButtonResolver(cfg.Buttons, cfg.Wait.ActionDelay, quiescence, logger),
		scroller:   NewScrollRevealer(cfg.Scroll, cfg.Normalize, cfg.Wait.NetworkQuiet, logger),
		normalizer: NewNormalizer(cfg.Normalize, logger),
		logger:     logger,
		sleep:      sleepCtx,
		claimed:    make(map[string]bool),
	}
}

// RunDirectory returns the directory a run writes into: the output root,
// or a timestamped folder below it.
func RunDirectory(out config.OutputConfig, now time.Time) string {
	if !out.Timestamped {
		return out.Dir
	}
	return filepath.Join(out.Dir, now.Format("20060102-150405"))
}

// OutputPath returns where the capture of page at viewport is written.
// Auto captures land in the "auto" folder through their label.
func (s *Screenshoter) OutputPath(page config.PageTarget, vp config.Viewport) string {
	return filepath.Join(s.runDir, sanitizeFilename(vp.Label), sanitizeFilename(page.Name)+"."+s.cfg.Output.Format)
}

// claimPath reserves the output path for one capture. Pages whose names
// sanitize to the same file get a numeric suffix instead of overwriting an
// earlier capture of the run.
func (s *Screenshoter) claimPath(path string, logger *zap.Logger) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	unique := path
	if s.claimed[path] {
		ext := filepath.Ext(path)
		base := strings.TrimSuffix(path, ext)
		for n := 2; s.claimed[unique]; n++ {
			unique = fmt.Sprintf("%s-%d%s", base, n, ext)
		}
		logger.Warn("Output file name already used in this run, adding a suffix",
			zap.String("path", path), zap.String("unique_path", unique))
	}
	s.claimed[unique] = true
	return unique
}

// CaptureAll processes viewports in order and, for each, every page in
// order. A failed capture never stops the batch; only the end of ctx does.
func (s *Screenshoter) CaptureAll(ctx context.Context, pages []config.PageTarget) []CaptureResult {
	results := make([]CaptureResult, 0, len(pages)*len(s.cfg.Viewports))
	for _, vp := range s.cfg.Viewports {
		s.logger.Info("Starting viewport", zap.String("viewport", vp.Label), zap.Int("pages", len(pages)))
		for _, page := range pages {
			if ctx.Err() != nil {
				s.logger.Warn("Capture interrupted", zap.Error(ctx.Err()))
				return results
			}
			results = append(results, s.Capture(ctx, page, vp))
		}
		s.logger.Info("Viewport done", zap.String("viewport", vp.Label))
	}
	return results
}

// Capture takes one screenshot. Errors are reported in the result.
func (s *Screenshoter) Capture(ctx context.Context, target config.PageTarget, vp config.Viewport) CaptureResult {
	res := CaptureResult{Page: target, Viewport: vp}
	logger := s.logger.With(zap.String("viewport", vp.Label), zap.String("page", target.Name))
	logger.Info("Capturing page")

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Capture.PageTimeout)
	defer cancel()

	if err := s.capture(ctx, target, vp, &res, logger); err != nil {
		res.Status = StatusFailed
		res.Err = err
		logger.Error("Capture failed", zap.Error(err))
		return res
	}

	res.Status = StatusCaptured
	for _, step := range res.Degraded() {
		logger.Warn("Step degraded", zap.String("step", step.Step), zap.Error(step.Err))
	}
	logger.Info("Saved screenshot", zap.String("path", res.Path), zap.Stringer("size", res.Size))
	return res
}

func (s *Screenshoter) capture(ctx context.Context, target config.PageTarget, vp config.Viewport, res *CaptureResult, logger *zap.Logger) error {
	page, err := s.opener.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("open tab: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			logger.Debug("Closing tab failed", zap.Error(err))
		}
	}()

	// record keeps the step and turns a context-ended step into an error.
	record := func(step StepResult) error {
		res.Steps = append(res.Steps, step)
		if step.Status == StepFailed {
			return fmt.Errorf("%s: %w", step.Step, step.Err)
		}
		return nil
	}

	url := config.BuildURL(target.URL, s.cfg.BaseURL)
	navCtx, navCancel := context.WithTimeout(ctx, s.cfg.Capture.NavigationTimeout)
	err = page.Navigate(navCtx, url)
	navCancel()
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	res.Steps = append(res.Steps, okStep(stepNavigate))

	if err := record(s.load(ctx, page)); err != nil {
		return err
	}
	if err := record(s.buttons.Run(ctx, page)); err != nil {
		return err
	}

	scroll := skippedStep(stepScroll)
	if s.cfg.Scroll.Enabled {
		scroll = s.scroller.Reveal(ctx, page)
	}
	if err := record(scroll); err != nil {
		return err
	}

	size, err := s.resolveSize(ctx, page, vp)
	if err != nil {
		return fmt.Errorf("%s: %w", stepSize, err)
	}
	res.Size = size
	res.Steps = append(res.Steps, okStep(stepSize))
	if vp.IsAuto() {
		logger.Info("Using measured size", zap.Stringer("size", size))
	}

	if err := s.sleep(ctx, s.cfg.Capture.PreCaptureDelay); err != nil {
		return fmt.Errorf("%s: %w", stepSettle, err)
	}
	if err := record(s.load(ctx, page)); err != nil {
		return err
	}
	if err := record(s.normalizer.Prepare(ctx, page)); err != nil {
		return err
	}

	buf, err := page.CaptureFullPage(ctx, s.quality())
	res.Steps = append(res.Steps, s.normalizer.Restore(ctx, page))
	if err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}

	path := s.claimPath(s.OutputPath(target, vp), logger)
	if err := writeFile(path, buf); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	res.Path = path
	return nil
}

func (s *Screenshoter) load(ctx context.Context, page Page) StepResult {
	step := s.quiescence.Wait(ctx, page, s.cfg.Wait.LoadDelay)
	step.Step = stepLoad
	return step
}

// resolveSize applies the viewport: measured for auto, configured otherwise.
func (s *Screenshoter) resolveSize(ctx context.Context, page Page, vp config.Viewport) (Size, error) {
	size := Size{Width: vp.Width, Height: vp.Height}
	if vp.IsAuto() {
		var err error
		if size, err = EstimateSize(ctx, page); err != nil {
			return Size{}, err
		}
	}
	if err := page.SetViewport(ctx, size.Width, size.Height); err != nil {
		return Size{}, fmt.Errorf("set viewport %s: %w", size, err)
	}
	return size, nil
}

// quality maps the output settings to a screenshot quality. 100 means PNG,
// so JPEG is capped just below it.
func (s *Screenshoter) quality() int {
	if s.cfg.Output.Format != "jpeg" {
		return 100
	}
	if s.cfg.Output.Quality >= 100 {
		return 99
	}
	return s.cfg.Output.Quality
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
