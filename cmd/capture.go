package cmd

import (
	"context"
	"errors"
	"fmt"
	neturl "net/url"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"pagecapture/auth"
	"pagecapture/config"
	"pagecapture/logging"
	"pagecapture/screenshot"
)

const cookieLogName = "cookies.log"

// runCapture is the whole capture run: configuration, browser, optional
// login, then every page at every viewport. Individual capture failures are
// reported in the summary and do not fail the run.
func runCapture(ctx context.Context, v *viper.Viper, opts *captureOptions) error {
	cfg, err := loadConfig(v, opts)
	if err != nil {
		logging.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "pagecapture"})
		return err
	}
	logging.InitializeLogger(cfg.Logger)
	logger := logging.GetLogger().With(zap.String("run_id", uuid.NewString()))

	pages, err := resolvePages(cfg, opts)
	if err != nil {
		return err
	}

	labels := make([]string, len(cfg.Viewports))
	for i, vp := range cfg.Viewports {
		labels[i] = vp.Label
	}
	logger.Info("Starting pagecapture",
		zap.String("version", Version),
		zap.String("base_url", cfg.BaseURL),
		zap.Int("pages", len(pages)),
		zap.Strings("viewports", labels),
	)

	runDir := screenshot.RunDirectory(cfg.Output, time.Now())
	if err := config.EnsureOutputDir(runDir); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	browser, err := screenshot.StartBrowser(ctx, cfg.Browser, logger)
	if err != nil {
		return err
	}
	defer browser.Close()

	if err := browser.Preload(ctx, cfg.Session, cfg.BaseURL); err != nil {
		return fmt.Errorf("failed to preload session: %w", err)
	}

	cookieLog := filepath.Join(runDir, cookieLogName)
	switch {
	case cfg.LoginEnabled():
		if err := login(ctx, cfg, browser, cookieLog, logger); err != nil {
			return err
		}
	case cfg.Login.Required:
		logger.Warn("Login required but credentials or login path are missing, continuing without login")
	}

	s := screenshot.NewScreenshoter(cfg, browser, runDir, logger)
	results := s.CaptureAll(ctx, pages)

	summary := screenshot.Summarize(results)
	logger.Info("Capture finished",
		zap.String("output", runDir),
		zap.Int("captured", summary.Captured),
		zap.Int("failed", summary.Failed),
		zap.Int("degraded", summary.Degraded),
	)
	for _, r := range results {
		if r.Status == screenshot.StatusFailed {
			logger.Warn("Failed capture", zap.String("page", r.Page.Name), zap.String("viewport", r.Viewport.Label), zap.Error(r.Err))
		}
	}
	return ctx.Err()
}

// loadConfig resolves the configuration. A run given only --url or --urls
// may omit the base URL; it is then taken from the first URL.
func loadConfig(v *viper.Viper, opts *captureOptions) (config.Config, error) {
	cfg, err := config.Load(v, opts.configFile)
	if err == nil || !errors.Is(err, config.ErrMissingBaseURL) {
		return cfg, err
	}

	first := opts.url
	if first == "" && len(opts.urls) > 0 {
		first = opts.urls[0]
	}
	origin := originOf(first)
	if origin == "" {
		return config.Config{}, err
	}
	v.Set("base_url", origin)
	return config.FromViper(v)
}

// resolvePages picks the pages to capture: --url, then --urls, then the page
// list file.
func resolvePages(cfg config.Config, opts *captureOptions) ([]config.PageTarget, error) {
	switch {
	case opts.url != "":
		return config.PagesFromURLs([]string{opts.url}, opts.name)
	case len(opts.urls) > 0:
		return config.PagesFromURLs(opts.urls, "")
	default:
		return config.LoadPages(cfg.PageList)
	}
}

func login(ctx context.Context, cfg config.Config, browser *screenshot.Browser, cookieLog string, logger *zap.Logger) error {
	var source auth.OTPSource
	if cfg.OTP.Required && cfg.OTP.UseFile {
		source = auth.NewFileOTPSource(cfg.OTP, logger)
	}

	page, err := browser.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer page.Close()

	dumpCookies(ctx, cfg, browser, cookieLog, "Before login", logger)
	if err := auth.NewFormAuthenticator(cfg, source, logger).Login(ctx, page); err != nil {
		return err
	}
	dumpCookies(ctx, cfg, browser, cookieLog, "After login", logger)
	return nil
}

func dumpCookies(ctx context.Context, cfg config.Config, browser *screenshot.Browser, path, stage string, logger *zap.Logger) {
	if !cfg.Session.DumpCookies {
		return
	}
	if err := browser.DumpCookies(ctx, path, stage); err != nil {
		logger.Warn("Failed to dump cookies", zap.String("stage", stage), zap.Error(err))
	}
}

// originOf returns scheme://host of an absolute URL, or "".
func originOf(rawURL string) string {
	u, err := neturl.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
