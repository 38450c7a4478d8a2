package screenshot

import (
	"context"
	"fmt"
	neturl "net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"pagecapture/config"
)

// cookieLifetime is the expiry given to preset session cookies.
const cookieLifetime = 180 * 24 * time.Hour

// chromePage is a chromedp tab.
type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
	idle   *idleTracker
}

func (b *Browser) newChromePage(ctx context.Context) (*chromePage, error) {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	p := &chromePage{
		ctx:    tabCtx,
		cancel: cancel,
		idle:   newIdleTracker(b.logger.Named("idle")),
	}
	chromedp.ListenTarget(tabCtx, p.idle.handleEvent)

	// The first Run creates the target and must use the tab context itself.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	return p, nil
}

// run executes actions on the tab, bounded by ctx as well as the tab.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) Evaluate(ctx context.Context, script string, res any) error {
	return p.run(ctx, chromedp.Evaluate(script, res))
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *chromePage) SendKeys(ctx context.Context, selector, text string) error {
	return p.run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (p *chromePage) WaitVisible(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *chromePage) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	return p.idle.Wait(ctx, quiet)
}

func (p *chromePage) SetViewport(ctx context.Context, width, height int64) error {
	return p.run(ctx, emulation.SetDeviceMetricsOverride(width, height, 1, false))
}

// CaptureFullPage takes a screenshot of the whole document. Quality 100
// yields PNG, anything lower JPEG.
func (p *chromePage) CaptureFullPage(ctx context.Context, quality int) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, quality)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close closes the tab and waits for the target to go away.
func (p *chromePage) Close() error {
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	return err
}

// Preload applies preset cookies and localStorage entries to the shared
// browser context. localStorage is per origin, so the base URL is loaded
// first.
func (b *Browser) Preload(ctx context.Context, session config.SessionConfig, baseURL string) error {
	if len(session.Cookies) == 0 && len(session.LocalStorage) == 0 {
		return nil
	}

	p, err := b.newChromePage(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	if len(session.Cookies) > 0 {
		b.logger.Info("Setting session cookies", zap.Int("count", len(session.Cookies)))
		if err := p.run(ctx, setCookiesAction(session.Cookies, hostOf(baseURL))); err != nil {
			return fmt.Errorf("failed to set cookies: %w", err)
		}
	}

	if len(session.LocalStorage) > 0 {
		b.logger.Info("Setting localStorage items", zap.Int("count", len(session.LocalStorage)))
		items := make([]map[string]string, 0, len(session.LocalStorage))
		for _, item := range session.LocalStorage {
			items = append(items, map[string]string{"key": item.Key, "value": item.Value})
		}
		if err := p.Navigate(ctx, baseURL); err != nil {
			return fmt.Errorf("failed to load %s for localStorage: %w", baseURL, err)
		}
		var n int
		if err := evalCall(ctx, p, &n, setLocalStorageJS, items); err != nil {
			return fmt.Errorf("failed to set localStorage: %w", err)
		}
	}
	return nil
}

func setCookiesAction(cookies []config.Cookie, defaultDomain string) chromedp.ActionFunc {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		expr := cdp.TimeSinceEpoch(time.Now().Add(cookieLifetime))
		for _, cookie := range cookies {
			domain := cookie.Domain
			if domain == "" {
				domain = defaultDomain
			}
			path := cookie.Path
			if path == "" {
				path = "/"
			}
			err := network.SetCookie(cookie.Name, cookie.Value).
				WithExpires(&expr).
				WithDomain(domain).
				WithPath(path).
				WithHTTPOnly(cookie.HTTPOnly).
				WithSecure(cookie.Secure).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("cookie %s: %w", cookie.Name, err)
			}
		}
		return nil
	})
}

// DumpCookies appends the browser's current cookies to path under a stage
// heading.
func (b *Browser) DumpCookies(ctx context.Context, path, stage string) error {
	p, err := b.newChromePage(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	var cookies []*network.Cookie
	err = p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return fmt.Errorf("failed to read cookies: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString(formatCookies(stage, time.Now(), cookies)); err != nil {
		return err
	}
	b.logger.Info("Saved cookies to log file", zap.Int("count", len(cookies)), zap.String("path", path), zap.String("stage", stage))
	return nil
}

func formatCookies(stage string, at time.Time, cookies []*network.Cookie) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n\n========== %s ==========\n", stage))
	sb.WriteString(fmt.Sprintf("Timestamp: %s\n", at.Format("2006-01-02 15:04:05.000")))
	sb.WriteString(fmt.Sprintf("Current cookies (%d):\n", len(cookies)))
	sb.WriteString("----------------------------------------\n")
	for i, c := range cookies {
		sb.WriteString(fmt.Sprintf("Cookie #%d:\n", i+1))
		sb.WriteString(fmt.Sprintf("  Name: %s\n", c.Name))
		sb.WriteString(fmt.Sprintf("  Value: %s\n", c.Value))
		sb.WriteString(fmt.Sprintf("  Domain: %s\n", c.Domain))
		sb.WriteString(fmt.Sprintf("  Path: %s\n", c.Path))
		sb.WriteString(fmt.Sprintf("  Expires: %s\n", time.Unix(int64(c.Expires), 0).UTC()))
		sb.WriteString(fmt.Sprintf("  HttpOnly: %t\n", c.HTTPOnly))
		sb.WriteString(fmt.Sprintf("  Secure: %t\n", c.Secure))
		sb.WriteString(fmt.Sprintf("  Session: %t\n", c.Session))
		sb.WriteString("----------------------------------------\n")
	}
	return sb.String()
}

// hostOf returns the host name of a URL without port, or "" if it does not
// parse.
func hostOf(rawURL string) string {
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
