package screenshot

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pagecapture/config"
)

func TestHostOf(t *testing.T) {
	assert.Equal(t, "app.example.com", hostOf("https://app.example.com:8443/login"))
	assert.Equal(t, "127.0.0.1", hostOf("http://127.0.0.1:5173"))
	assert.Empty(t, hostOf("://bad"))
}

func TestFormatCookies(t *testing.T) {
	at := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	out := formatCookies("After login", at, []*network.Cookie{
		{Name: "KEYCLOAK_SESSION", Value: "abc", Domain: "sso.example.com", Path: "/", HTTPOnly: true, Secure: true},
	})

	assert.Contains(t, out, "========== After login ==========")
	assert.Contains(t, out, "Timestamp: 2024-03-05 14:07:09.000")
	assert.Contains(t, out, "Current cookies (1):")
	assert.Contains(t, out, "  Name: KEYCLOAK_SESSION\n")
	assert.Contains(t, out, "  HttpOnly: true\n")
}

const fixtureHTML = `<!DOCTYPE html>
<html>
<head>
<style>
	body { margin: 0; font-family: sans-serif; }
	header { position: fixed; top: 0; left: 0; right: 0; height: 60px; background: #335; color: #fff; }
	main { padding-top: 80px; }
	.block { height: 900px; border-bottom: 1px solid #ccc; }
	#panel { height: 300px; overflow: auto; }
	#panel .inner { height: 4000px; }
</style>
</head>
<body>
<header>Reports</header>
<main>
	<button style="display:none">Load more</button>
	<button class="elp-button" onclick="window.loaded = true">Load more</button>
	<div id="panel"><div class="inner">panel</div></div>
	<div id="feed"><div class="block">1</div></div>
</main>
<script>
	var appended = 0;
	window.addEventListener('scroll', function () {
		if (appended >= 3) return;
		if (window.innerHeight + window.scrollY < document.body.scrollHeight - 100) return;
		appended++;
		var div = document.createElement('div');
		div.className = 'block';
		div.textContent = String(appended + 1);
		document.getElementById('feed').appendChild(div);
	});
</script>
</body>
</html>`

func fixtureServer(t *testing.T) *httptest.Server {
	r := chi.NewRouter()
	r.Get("/reports", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(fixtureHTML))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func startTestBrowser(t *testing.T) *Browser {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	execPath, err := findChromeExecutable()
	if err != nil {
		t.Skip("Chrome not available")
	}

	b, err := StartBrowser(context.Background(), config.BrowserConfig{
		Headless:     true,
		ExecPath:     execPath,
		WindowWidth:  1280,
		WindowHeight: 800,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func browserTestConfig(dir, baseURL string, viewports ...config.Viewport) config.Config {
	cfg := testConfig(dir, viewports...)
	cfg.BaseURL = baseURL
	cfg.Capture.PreCaptureDelay = 100 * time.Millisecond
	cfg.Wait.NetworkQuiet = 50 * time.Millisecond
	cfg.Wait.NetworkTimeout = 2 * time.Second
	cfg.Wait.LoadDelay = 100 * time.Millisecond
	cfg.Wait.ActionDelay = 100 * time.Millisecond
	cfg.Wait.Settle = 50 * time.Millisecond
	cfg.Buttons.Labels = []string{"Load more"}
	cfg.Scroll.DelayMs = 50
	cfg.Scroll.MaxScrolls = 3
	cfg.Scroll.ContentIdleTimeout = 200 * time.Millisecond
	cfg.Normalize.ResetSettle = 50 * time.Millisecond
	cfg.Normalize.RetrySettle = 50 * time.Millisecond
	cfg.Normalize.HideSettle = 50 * time.Millisecond
	return cfg
}

func TestChrome_CaptureAll(t *testing.T) {
	b := startTestBrowser(t)
	srv := fixtureServer(t)
	dir := t.TempDir()

	cfg := browserTestConfig(dir, srv.URL, config.AutoViewport(), config.ViewportForWidth(800))
	s := NewScreenshoter(cfg, b, dir, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	results := s.CaptureAll(ctx, []config.PageTarget{{Name: "reports", URL: "/reports"}})
	require.Len(t, results, 2)

	for _, r := range results {
		require.Equal(t, StatusCaptured, r.Status, "%s: %v", r.Viewport.Label, r.Err)
		data, err := os.ReadFile(r.Path)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")), "%s is a PNG", r.Path)
	}
	assert.Equal(t, filepath.Join(dir, "auto", "reports.png"), results[0].Path)
	assert.GreaterOrEqual(t, results[0].Size.Height, int64(4000), "auto size covers the scrollable panel")
	assert.Equal(t, Size{Width: 800, Height: 800}, results[1].Size)
}

func TestChrome_ResolveFirstVisibleCandidate(t *testing.T) {
	b := startTestBrowser(t)
	srv := fixtureServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	page, err := b.NewPage(ctx)
	require.NoError(t, err)
	defer page.Close()
	require.NoError(t, page.Navigate(ctx, srv.URL+"/reports"))

	cfg := browserTestConfig(t.TempDir(), srv.URL)
	q := NewQuiescence(cfg.Wait, zap.NewNop())
	r := NewButtonResolver(cfg.Buttons, cfg.Wait.ActionDelay, q, zap.NewNop())

	match, ok := r.Resolve(ctx, page)
	require.True(t, ok)
	// The bare button query hits the hidden button first and is rejected.
	assert.Equal(t, 1, match.Index)

	require.Equal(t, StepOK, r.Run(ctx, page).Status)
	var loaded bool
	require.NoError(t, page.Evaluate(ctx, `window.loaded === true`, &loaded))
	assert.True(t, loaded)
}

func TestChrome_NormalizeAndReveal(t *testing.T) {
	b := startTestBrowser(t)
	srv := fixtureServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	page, err := b.NewPage(ctx)
	require.NoError(t, err)
	defer page.Close()
	require.NoError(t, page.Navigate(ctx, srv.URL+"/reports"))

	cfg := browserTestConfig(t.TempDir(), srv.URL)
	var before int64
	require.NoError(t, evalCall(ctx, page, &before, bodyScrollHeightJS))

	scroller := NewScrollRevealer(cfg.Scroll, cfg.Normalize, cfg.Wait.NetworkQuiet, zap.NewNop())
	require.Equal(t, StepOK, scroller.Reveal(ctx, page).Status)

	var after int64
	require.NoError(t, evalCall(ctx, page, &after, bodyScrollHeightJS))
	assert.Greater(t, after, before, "lazy content was revealed")

	require.NoError(t, evalCall(ctx, page, nil, scrollByJS, 1500))
	n := NewNormalizer(cfg.Normalize, zap.NewNop())
	require.Equal(t, StepOK, n.Prepare(ctx, page).Status)

	offsets, err := readOffsets(ctx, page)
	require.NoError(t, err)
	assert.True(t, offsets.IsOrigin(), "offsets %+v", offsets)

	var display string
	require.NoError(t, page.Evaluate(ctx, `getComputedStyle(document.querySelector('header')).display`, &display))
	assert.Equal(t, "none", display)

	require.Equal(t, StepOK, n.Restore(ctx, page).Status)
	require.Equal(t, StepOK, n.Restore(ctx, page).Status)
	require.NoError(t, page.Evaluate(ctx, `getComputedStyle(document.querySelector('header')).display`, &display))
	assert.Equal(t, "block", display)
}

func TestChrome_SessionPreload(t *testing.T) {
	b := startTestBrowser(t)
	srv := fixtureServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	err := b.Preload(ctx, config.SessionConfig{
		Cookies:      []config.Cookie{{Name: "session", Value: "s3cr3t"}},
		LocalStorage: []config.LocalStorage{{Key: "locale", Value: "en-GB"}},
	}, srv.URL)
	require.NoError(t, err)

	page, err := b.NewPage(ctx)
	require.NoError(t, err)
	defer page.Close()
	require.NoError(t, page.Navigate(ctx, srv.URL+"/reports"))

	var locale string
	require.NoError(t, page.Evaluate(ctx, `localStorage.getItem('locale')`, &locale))
	assert.Equal(t, "en-GB", locale)

	path := filepath.Join(t.TempDir(), "cookies.log")
	require.NoError(t, b.DumpCookies(ctx, path, "Before login"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "Name: session"), string(data))
}
