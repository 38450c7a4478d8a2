package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// ErrMissingBaseURL is returned when no base URL is configured.
var ErrMissingBaseURL = errors.New("base URL is not configured")

// envPrefix is applied to every key by viper's automatic env lookup
// (e.g. scroll.step -> PAGECAPTURE_SCROLL_STEP).
const envPrefix = "PAGECAPTURE"

// legacyEnv maps configuration keys to the plain environment variable names
// used by existing .env files.
var legacyEnv = map[string]string{
	"base_url":                      "BASE_URL",
	"page_sizes":                    "PAGE_SIZES",
	"page_list":                     "PAGE_LIST",
	"buttons.labels":                "BUTTON_TEXTS",
	"scroll.enabled":                "ENABLE_SCROLLING",
	"scroll.step":                   "SCROLL_STEP",
	"scroll.delay_ms":               "SCROLL_DELAY",
	"scroll.max_scrolls":            "MAX_SCROLLS",
	"normalize.hide_fixed_elements": "HIDE_FIXED_ELEMENTS",
	"login.required":                "REQUIRE_LOGIN",
	"login.path":                    "LOGIN_PATH",
	"login.username":                "LOGIN_USERNAME",
	"login.password":                "LOGIN_PASSWORD",
	"otp.required":                  "REQUIRE_OTP",
	"otp.use_file":                  "USE_OTP_FILE",
	"otp.dir":                       "OTP_FILE_DIR",
	"browser.exec_path":             "CHROME_PATH",
}

// Cookie represents a browser cookie to set before capturing
type Cookie struct {
	Name     string `mapstructure:"name"`
	Value    string `mapstructure:"value"`
	Domain   string `mapstructure:"domain"`
	Path     string `mapstructure:"path"`
	Secure   bool   `mapstructure:"secure"`
	HTTPOnly bool   `mapstructure:"http_only"`
}

// LocalStorage represents a localStorage key-value pair to set
type LocalStorage struct {
	Key   string `mapstructure:"key"`
	Value string `mapstructure:"value"`
}

// SessionConfig holds state preloaded into the shared browser context
type SessionConfig struct {
	Cookies      []Cookie       `mapstructure:"cookies"`
	LocalStorage []LocalStorage `mapstructure:"local_storage"`
	DumpCookies  bool           `mapstructure:"dump_cookies"`
}

// OutputConfig controls where and how screenshots are written
type OutputConfig struct {
	Dir         string `mapstructure:"dir"`
	Timestamped bool   `mapstructure:"timestamped"`
	Format      string `mapstructure:"format"`
	Quality     int    `mapstructure:"quality"`
}

// BrowserConfig controls how Chrome is located and launched
type BrowserConfig struct {
	Headless       bool   `mapstructure:"headless"`
	ExecPath       string `mapstructure:"exec_path"`
	RemoteURL      string `mapstructure:"remote_url"`
	DockerFallback bool   `mapstructure:"docker_fallback"`
	WindowWidth    int    `mapstructure:"window_width"`
	WindowHeight   int    `mapstructure:"window_height"`
}

// CaptureConfig bounds a single (page, viewport) capture
type CaptureConfig struct {
	PageTimeout       time.Duration `mapstructure:"page_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	PreCaptureDelay   time.Duration `mapstructure:"pre_capture_delay"`
}

// WaitConfig tunes the loading-quiescence detector
type WaitConfig struct {
	NetworkQuiet       time.Duration `mapstructure:"network_quiet"`
	NetworkTimeout     time.Duration `mapstructure:"network_timeout"`
	LoadDelay          time.Duration `mapstructure:"load_delay"`
	ActionDelay        time.Duration `mapstructure:"action_delay"`
	IndicatorProbe     time.Duration `mapstructure:"indicator_probe"`
	IndicatorTimeout   time.Duration `mapstructure:"indicator_timeout"`
	IndicatorPoll      time.Duration `mapstructure:"indicator_poll"`
	Settle             time.Duration `mapstructure:"settle"`
	IndicatorSelectors []string      `mapstructure:"indicator_selectors"`
}

// ButtonConfig configures the optional pre-capture button action
type ButtonConfig struct {
	Labels       []string      `mapstructure:"labels"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	ClickTimeout time.Duration `mapstructure:"click_timeout"`
}

// ScrollConfig configures lazy-content revelation
type ScrollConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Step               int           `mapstructure:"step"`
	DelayMs            int           `mapstructure:"delay_ms"` // Delay in milliseconds
	MaxScrolls         int           `mapstructure:"max_scrolls"`
	MaxIterations      int           `mapstructure:"max_iterations"`
	WaitForContent     bool          `mapstructure:"wait_for_content"`
	ContentIdleTimeout time.Duration `mapstructure:"content_idle_timeout"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

// Delay returns the pause after each scroll step
func (s ScrollConfig) Delay() time.Duration {
	return time.Duration(s.DelayMs) * time.Millisecond
}

// NormalizeConfig configures the pre-capture state normalization
type NormalizeConfig struct {
	HideFixedElements bool          `mapstructure:"hide_fixed_elements"`
	TopBand           int           `mapstructure:"top_band"`
	ResetSettle       time.Duration `mapstructure:"reset_settle"`
	RetrySettle       time.Duration `mapstructure:"retry_settle"`
	HideSettle        time.Duration `mapstructure:"hide_settle"`
}

// LoginConfig describes the login form of the target site
type LoginConfig struct {
	Required         bool          `mapstructure:"required"`
	Path             string        `mapstructure:"path"`
	Username         string        `mapstructure:"username"`
	Password         string        `mapstructure:"password"`
	UsernameSelector string        `mapstructure:"username_selector"`
	PasswordSelector string        `mapstructure:"password_selector"`
	SubmitSelector   string        `mapstructure:"submit_selector"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// HasCredentials reports whether both username and password are set.
func (l LoginConfig) HasCredentials() bool {
	return l.Username != "" && l.Password != ""
}

// OTPConfig describes the one-time-passcode step of the login flow
type OTPConfig struct {
	Required       bool          `mapstructure:"required"`
	UseFile        bool          `mapstructure:"use_file"`
	Dir            string        `mapstructure:"dir"`
	FieldSelector  string        `mapstructure:"field_selector"`
	SubmitSelector string        `mapstructure:"submit_selector"`
	FieldTimeout   time.Duration `mapstructure:"field_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	AddSource   bool   `mapstructure:"add_source"`
	ServiceName string `mapstructure:"service_name"`
	LogFile     string `mapstructure:"log_file"`
	MaxSize     int    `mapstructure:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAge      int    `mapstructure:"max_age"`
	Compress    bool   `mapstructure:"compress"`
}

// Config represents the application configuration. It is built once at
// startup and passed by value into every component.
type Config struct {
	BaseURL   string          `mapstructure:"base_url"`
	PageList  string          `mapstructure:"page_list"`
	PageSizes []string        `mapstructure:"page_sizes"`
	Viewports []Viewport      `mapstructure:"-"`
	Output    OutputConfig    `mapstructure:"output"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Wait      WaitConfig      `mapstructure:"wait"`
	Buttons   ButtonConfig    `mapstructure:"buttons"`
	Scroll    ScrollConfig    `mapstructure:"scroll"`
	Normalize NormalizeConfig `mapstructure:"normalize"`
	Login     LoginConfig     `mapstructure:"login"`
	OTP       OTPConfig       `mapstructure:"otp"`
	Session   SessionConfig   `mapstructure:"session"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// SetDefaults registers default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("base_url", "")
	v.SetDefault("page_list", "./pageList.json")
	v.SetDefault("page_sizes", []string{})

	// -- Output --
	v.SetDefault("output.dir", "./screenshots")
	v.SetDefault("output.timestamped", true)
	v.SetDefault("output.format", "png")
	v.SetDefault("output.quality", 80)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.docker_fallback", true)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)

	// -- Capture --
	v.SetDefault("capture.page_timeout", "3m")
	v.SetDefault("capture.navigation_timeout", "30s")
	v.SetDefault("capture.pre_capture_delay", "1s")

	// -- Wait --
	v.SetDefault("wait.network_quiet", "500ms")
	v.SetDefault("wait.network_timeout", "30s")
	v.SetDefault("wait.load_delay", "2s")
	v.SetDefault("wait.action_delay", "3s")
	v.SetDefault("wait.indicator_probe", "1s")
	v.SetDefault("wait.indicator_timeout", "30s")
	v.SetDefault("wait.indicator_poll", "100ms")
	v.SetDefault("wait.settle", "500ms")
	v.SetDefault("wait.indicator_selectors", DefaultIndicatorSelectors)

	// -- Buttons --
	v.SetDefault("buttons.labels", []string{})
	v.SetDefault("buttons.probe_timeout", "1s")
	v.SetDefault("buttons.click_timeout", "10s")

	// -- Scroll --
	v.SetDefault("scroll.enabled", true)
	v.SetDefault("scroll.step", 500)
	v.SetDefault("scroll.delay_ms", 300)
	v.SetDefault("scroll.max_scrolls", 5)
	v.SetDefault("scroll.max_iterations", 500)
	v.SetDefault("scroll.wait_for_content", true)
	v.SetDefault("scroll.content_idle_timeout", "3s")
	v.SetDefault("scroll.timeout", "60s")

	// -- Normalize --
	v.SetDefault("normalize.hide_fixed_elements", false)
	v.SetDefault("normalize.top_band", 100)
	v.SetDefault("normalize.reset_settle", "1s")
	v.SetDefault("normalize.retry_settle", "500ms")
	v.SetDefault("normalize.hide_settle", "500ms")

	// -- Login --
	v.SetDefault("login.required", false)
	v.SetDefault("login.path", "")
	v.SetDefault("login.username", "")
	v.SetDefault("login.password", "")
	v.SetDefault("login.username_selector", "#username")
	v.SetDefault("login.password_selector", "#password")
	v.SetDefault("login.submit_selector", "#kc-login")
	v.SetDefault("login.timeout", "30s")

	// -- OTP --
	v.SetDefault("otp.required", false)
	v.SetDefault("otp.use_file", false)
	v.SetDefault("otp.dir", "./otp")
	v.SetDefault("otp.field_selector", `#otp, input[name*="otp"], input[autocomplete="one-time-code"]`)
	v.SetDefault("otp.submit_selector", "#kc-login")
	v.SetDefault("otp.field_timeout", "10s")
	v.SetDefault("otp.poll_interval", "1s")
	v.SetDefault("otp.timeout", "5m")

	// -- Session --
	v.SetDefault("session.cookies", []map[string]any{})
	v.SetDefault("session.local_storage", []map[string]any{})
	v.SetDefault("session.dump_cookies", false)

	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pagecapture")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
}

// DefaultIndicatorSelectors are the busy indicators probed after network idle,
// in probe order.
var DefaultIndicatorSelectors = []string{
	`[v-loading="true"]`,
	".el-loading-mask",
	".el-loading-spinner",
	`[data-loading="true"]`,
	".loading",
}

// BindEnv wires automatic PAGECAPTURE_* lookups and the legacy variable names.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range legacyEnv {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("error binding %s to %s: %w", key, env, err)
		}
	}
	return nil
}

// Load builds the configuration from defaults, the optional config file, a
// .env file in the working directory, the environment and any flags already
// bound to v.
func Load(v *viper.Viper, configFile string) (Config, error) {
	// .env is optional; existing environment variables win.
	_ = godotenv.Load()

	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		return Config{}, err
	}

	if configFile != "" {
		path, err := homedir.Expand(configFile)
		if err != nil {
			return Config{}, fmt.Errorf("error resolving config path: %w", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("pagecapture")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	return FromViper(v)
}

// FromViper decodes, normalizes and validates the configuration held by v.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing configuration: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// normalize trims list values, expands paths and derives the viewport list.
func (c *Config) normalize() error {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.Buttons.Labels = trimAll(c.Buttons.Labels)
	c.Wait.IndicatorSelectors = trimAll(c.Wait.IndicatorSelectors)
	c.Output.Format = strings.ToLower(strings.TrimSpace(c.Output.Format))
	c.Viewports = ParseViewports(c.PageSizes)

	for _, p := range []*string{&c.PageList, &c.Output.Dir, &c.OTP.Dir, &c.Browser.ExecPath, &c.Logger.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("error expanding path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return ErrMissingBaseURL
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base_url must start with http:// or https://: %s", c.BaseURL)
	}
	if len(c.Viewports) == 0 {
		return fmt.Errorf("no viewport sizes resolved")
	}

	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir must not be empty")
	}
	if c.Output.Format != "png" && c.Output.Format != "jpeg" {
		return fmt.Errorf("unsupported file format: %s (supported: png, jpeg)", c.Output.Format)
	}
	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("quality must be between 1 and 100")
	}

	if c.Scroll.Step <= 0 {
		return fmt.Errorf("scroll.step must be a positive integer")
	}
	if c.Scroll.DelayMs < 0 {
		return fmt.Errorf("scroll.delay_ms must not be negative")
	}
	if c.Scroll.MaxScrolls < 1 {
		return fmt.Errorf("scroll.max_scrolls must be at least 1")
	}
	if c.Scroll.MaxIterations < c.Scroll.MaxScrolls {
		return fmt.Errorf("scroll.max_iterations must be at least scroll.max_scrolls")
	}

	if c.Capture.PageTimeout <= 0 || c.Capture.NavigationTimeout <= 0 {
		return fmt.Errorf("capture timeouts must be positive durations")
	}
	if c.Scroll.Timeout <= 0 {
		return fmt.Errorf("scroll.timeout must be a positive duration")
	}
	if c.Scroll.Timeout >= c.Capture.PageTimeout {
		return fmt.Errorf("scroll.timeout must be shorter than capture.page_timeout")
	}
	if c.Wait.NetworkQuiet <= 0 || c.Wait.NetworkTimeout <= 0 {
		return fmt.Errorf("wait.network_quiet and wait.network_timeout must be positive durations")
	}
	if c.Wait.IndicatorPoll <= 0 {
		return fmt.Errorf("wait.indicator_poll must be a positive duration")
	}
	if c.Buttons.ProbeTimeout <= 0 {
		return fmt.Errorf("buttons.probe_timeout must be a positive duration")
	}

	if c.OTP.Required && c.OTP.PollInterval <= 0 {
		return fmt.Errorf("otp.poll_interval must be a positive duration")
	}
	return nil
}

// LoginEnabled reports whether the login flow should run. Both credentials
// and the login path are needed; otherwise login is skipped.
func (c Config) LoginEnabled() bool {
	return c.Login.Required && c.Login.HasCredentials() && c.Login.Path != ""
}

// LoginURL returns the absolute URL of the login page.
func (c Config) LoginURL() string {
	if c.Login.Path == "" {
		return c.BaseURL
	}
	return BuildURL(c.Login.Path, c.BaseURL)
}

// EnsureOutputDir ensures the output directory exists
func EnsureOutputDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
