package screenshot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"pagecapture/config"
)

const (
	dockerContainerName = "pagecapture-chrome"
	dockerImage         = "browserless/chrome"
	dockerDebugURL      = "http://localhost:9222"
)

// findChromeExecutable attempts to locate the Chrome executable on the system
func findChromeExecutable() (string, error) {
	// Common locations based on OS
	var paths []string
	switch runtime.GOOS {
	case "darwin":
		paths = []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Google Chrome Canary.app/Contents/MacOS/Google Chrome Canary",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "windows":
		paths = []string{
			filepath.Join(os.Getenv("ProgramFiles"), "Google/Chrome/Application/chrome.exe"),
			filepath.Join(os.Getenv("ProgramFiles(x86)"), "Google/Chrome/Application/chrome.exe"),
			filepath.Join(os.Getenv("LocalAppData"), "Google/Chrome/Application/chrome.exe"),
		}
	case "linux":
		paths = []string{
			"/usr/bin/google-chrome",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
		}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	// Try finding in PATH
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("could not find Chrome executable")
}

// startDockerChrome starts a Chrome container and waits for its debugging
// endpoint. started is false when a running container was reused.
func startDockerChrome(ctx context.Context, logger *zap.Logger) (url string, started bool, err error) {
	if _, err := exec.LookPath("docker"); err != nil {
		return "", false, fmt.Errorf("docker not installed: %w", err)
	}

	output, err := exec.CommandContext(ctx, "docker", "ps", "-q", "-f", "name="+dockerContainerName, "-f", "status=running").Output()
	if err != nil {
		return "", false, fmt.Errorf("failed to check for running chrome container: %w", err)
	}
	if len(output) > 0 {
		logger.Info("Using existing Chrome container", zap.String("container", dockerContainerName))
		return dockerDebugURL, false, nil
	}

	logger.Info("Starting Chrome container...", zap.String("image", dockerImage))
	cmd := exec.CommandContext(ctx, "docker", "run", "-d", "--rm", "--name", dockerContainerName, "-p", "9222:9222", dockerImage)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", false, fmt.Errorf("failed to start chrome container: %w, output: %s", err, string(output))
	}

	logger.Info("Waiting for Chrome container to be ready...")
	if err := waitDebugEndpoint(ctx, dockerDebugURL, 10, time.Second); err != nil {
		stopDockerChrome(logger)
		return "", false, err
	}
	logger.Info("Chrome container is ready")
	return dockerDebugURL, true, nil
}

// waitDebugEndpoint polls /json/version until it reports a websocket URL.
func waitDebugEndpoint(ctx context.Context, base string, attempts int, interval time.Duration) error {
	client := &http.Client{Timeout: interval}
	for i := 0; i < attempts; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/json/version", nil)
		if err != nil {
			return err
		}
		if resp, err := client.Do(req); err == nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if strings.Contains(string(body), "webSocketDebuggerUrl") {
				return nil
			}
		}
		if err := sleepCtx(ctx, interval); err != nil {
			return err
		}
	}
	return fmt.Errorf("chrome container started but not responding")
}

// stopDockerChrome stops the container started by startDockerChrome.
func stopDockerChrome(logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Stopping Chrome Docker container...")
	if err := exec.CommandContext(ctx, "docker", "stop", dockerContainerName).Run(); err != nil {
		logger.Warn("Failed to stop Chrome container", zap.Error(err))
		return
	}
	logger.Info("Chrome Docker container stopped")
}

// Browser owns one Chrome instance and the browser context shared by every
// tab, so cookies set by the login flow apply to all captures.
type Browser struct {
	logger        *zap.Logger
	browserCtx    context.Context
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc
	dockerStarted bool
}

// StartBrowser connects to or launches Chrome. Priority: configured remote
// endpoint, local executable (configured or discovered), Docker container,
// then chromedp's own lookup.
func StartBrowser(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Browser, error) {
	logger = logger.Named("browser")
	b := &Browser{logger: logger}

	var allocCtx context.Context
	switch {
	case cfg.RemoteURL != "":
		logger.Info("Using remote Chrome", zap.String("url", cfg.RemoteURL))
		allocCtx, b.cancelAlloc = chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	default:
		opts := execAllocatorOptions(cfg)
		execPath := cfg.ExecPath
		if execPath == "" {
			if found, err := findChromeExecutable(); err == nil {
				execPath = found
			} else {
				logger.Info("Local Chrome not found", zap.Error(err))
			}
		}

		if execPath != "" {
			logger.Info("Using local Chrome executable", zap.String("path", execPath))
			allocCtx, b.cancelAlloc = chromedp.NewExecAllocator(ctx, append(opts, chromedp.ExecPath(execPath))...)
			break
		}

		if cfg.DockerFallback {
			url, started, err := startDockerChrome(ctx, logger)
			if err == nil {
				b.dockerStarted = started
				allocCtx, b.cancelAlloc = chromedp.NewRemoteAllocator(ctx, url)
				break
			}
			logger.Warn("Docker Chrome failed", zap.Error(err))
		}

		logger.Info("Falling back to default Chrome settings")
		allocCtx, b.cancelAlloc = chromedp.NewExecAllocator(ctx, opts...)
	}

	sugar := logger.Sugar()
	b.browserCtx, b.cancelBrowser = chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	// The first Run starts the browser and binds it to browserCtx.
	if err := chromedp.Run(b.browserCtx); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	return b, nil
}

func execAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
		chromedp.DisableGPU,
		chromedp.NoSandbox,
	)
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	return opts
}

// NewPage opens a fresh tab.
func (b *Browser) NewPage(ctx context.Context) (Page, error) {
	return b.newChromePage(ctx)
}

// Close shuts the browser down and stops the Docker container if this
// process started it.
func (b *Browser) Close() {
	if b.cancelBrowser != nil {
		b.cancelBrowser()
	}
	if b.cancelAlloc != nil {
		b.cancelAlloc()
	}
	if b.dockerStarted {
		stopDockerChrome(b.logger)
		b.dockerStarted = false
	}
}
