package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/ibeckermayer/postpilot/internal/types"
)

const appName = "postpilot"

// Config holds all application configuration
type Config struct {
	Version  int            `toml:"version" mapstructure:"version"`
	Browser  BrowserConfig  `toml:"browser" mapstructure:"browser"`
	Login    LoginConfig    `toml:"login" mapstructure:"login"`
	Post     PostConfig     `toml:"post" mapstructure:"post"`
	Humanoid HumanoidConfig `toml:"humanoid" mapstructure:"humanoid"`
	Paths    PathsConfig    `toml:"paths" mapstructure:"paths"`
	Logger   LoggerConfig   `toml:"logger" mapstructure:"logger"`
	Server   ServerConfig   `toml:"server" mapstructure:"server"`

	// Credentials only ever come from the environment and are never saved
	Accounts map[string]Account `toml:"-" mapstructure:"accounts"`
}

type BrowserConfig struct {
	Driver        string `toml:"driver" mapstructure:"driver"`
	Headless      bool   `toml:"headless" mapstructure:"headless"`
	KeepOpen      bool   `toml:"keep_open" mapstructure:"keep_open"`
	TimeoutMs     int    `toml:"timeout_ms" mapstructure:"timeout_ms"`
	PageTimeoutMs int    `toml:"page_timeout_ms" mapstructure:"page_timeout_ms"`
	ExecPath      string `toml:"exec_path" mapstructure:"exec_path"`
	UserAgent     string `toml:"user_agent" mapstructure:"user_agent"`
}

type LoginConfig struct {
	MarkerTimeoutMs   int `toml:"marker_timeout_ms" mapstructure:"marker_timeout_ms"`
	PollIntervalMs    int `toml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	ScreenWaitMs      int `toml:"screen_wait_ms" mapstructure:"screen_wait_ms"`
	UsernameAttempts  int `toml:"username_attempts" mapstructure:"username_attempts"`
	NavigationRetries int `toml:"navigation_retries" mapstructure:"navigation_retries"`
}

type PostConfig struct {
	Attempts        int    `toml:"attempts" mapstructure:"attempts"`
	RetryDelayMs    int    `toml:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	VerifyTimeoutMs int    `toml:"verify_timeout_ms" mapstructure:"verify_timeout_ms"`
	DefaultCaption  string `toml:"default_caption" mapstructure:"default_caption"`
}

type HumanoidConfig struct {
	KeyDelayMinMs int     `toml:"key_delay_min_ms" mapstructure:"key_delay_min_ms"`
	KeyDelayMaxMs int     `toml:"key_delay_max_ms" mapstructure:"key_delay_max_ms"`
	ThinkChance   float64 `toml:"think_chance" mapstructure:"think_chance"`
	ThinkMinMs    int     `toml:"think_min_ms" mapstructure:"think_min_ms"`
	ThinkMaxMs    int     `toml:"think_max_ms" mapstructure:"think_max_ms"`
}

// PathsConfig locations; empty values resolve under ConfigDir/CacheDir
type PathsConfig struct {
	CookieDir         string `toml:"cookie_dir" mapstructure:"cookie_dir"`
	ScreenshotDir     string `toml:"screenshot_dir" mapstructure:"screenshot_dir"`
	ReportDir         string `toml:"report_dir" mapstructure:"report_dir"`
	Database          string `toml:"database" mapstructure:"database"`
	PlatformOverrides string `toml:"platform_overrides" mapstructure:"platform_overrides"`
}

type LoggerConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type ServerConfig struct {
	Addr string `toml:"addr" mapstructure:"addr"`
	// Binary re-executed for each run; empty means the running executable
	Binary string `toml:"binary" mapstructure:"binary"`
}

// Account is one platform login
type Account struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// SetDefaults registers every default value on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("version", 1)

	v.SetDefault("browser.driver", "chromedp")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.keep_open", false)
	v.SetDefault("browser.timeout_ms", 300000)
	v.SetDefault("browser.page_timeout_ms", 30000)

	v.SetDefault("login.marker_timeout_ms", 15000)
	v.SetDefault("login.poll_interval_ms", 500)
	v.SetDefault("login.screen_wait_ms", 10000)
	v.SetDefault("login.username_attempts", 3)
	v.SetDefault("login.navigation_retries", 3)

	v.SetDefault("post.attempts", 3)
	v.SetDefault("post.retry_delay_ms", 5000)
	v.SetDefault("post.verify_timeout_ms", 8000)
	v.SetDefault("post.default_caption", "Hello from postpilot!")

	v.SetDefault("humanoid.key_delay_min_ms", 50)
	v.SetDefault("humanoid.key_delay_max_ms", 150)
	v.SetDefault("humanoid.think_chance", 0.10)
	v.SetDefault("humanoid.think_min_ms", 300)
	v.SetDefault("humanoid.think_max_ms", 800)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.max_size_mb", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age_days", 14)
	v.SetDefault("logger.compress", true)

	v.SetDefault("server.addr", "127.0.0.1:3001")
}

// credentialEnv lists accepted variables per credential, first set wins
var credentialEnv = map[string][]string{
	"accounts.facebook.username":  {"FB_USERNAME", "FB_EMAIL", "FACEBOOK_USERNAME"},
	"accounts.facebook.password":  {"FB_PASSWORD", "FACEBOOK_PASSWORD"},
	"accounts.instagram.username": {"IG_USERNAME", "INSTAGRAM_USERNAME"},
	"accounts.instagram.password": {"IG_PASSWORD", "INSTAGRAM_PASSWORD"},
	"accounts.twitter.username":   {"TWIT_USERNAME", "TWITTER_USERNAME"},
	"accounts.twitter.password":   {"TWIT_PASSWORD", "TWITTER_PASSWORD"},
}

// BindEnv wires the recognised environment variables into v
func BindEnv(v *viper.Viper) {
	v.BindEnv("browser.headless", "HEADLESS")
	v.BindEnv("browser.keep_open", "KEEP_BROWSER_OPEN")
	v.BindEnv("browser.timeout_ms", "BROWSER_TIMEOUT")
	v.BindEnv("browser.page_timeout_ms", "PAGE_TIMEOUT")
	v.BindEnv("browser.driver", "BROWSER_DRIVER")
	v.BindEnv("browser.exec_path", "CHROME_PATH")
	v.BindEnv("logger.level", "LOG_LEVEL")

	for key, names := range credentialEnv {
		v.BindEnv(append([]string{key}, names...)...)
	}

	// Everything else is reachable as POSTPILOT_SECTION_KEY
	v.SetEnvPrefix("POSTPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Default returns a Config with sensible defaults
func Default() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, appName), nil
}

// CacheDir returns the platform-appropriate cache directory
func CacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, appName), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// LoadFrom layers defaults, the TOML file at path and the environment.
// A missing file is not an error.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) resolvePaths() error {
	configDir, err := ConfigDir()
	if err != nil {
		return err
	}
	cacheDir, err := CacheDir()
	if err != nil {
		return err
	}

	def := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	def(&c.Paths.CookieDir, filepath.Join(configDir, "cookies"))
	def(&c.Paths.PlatformOverrides, filepath.Join(configDir, "platforms.yaml"))
	def(&c.Paths.ScreenshotDir, filepath.Join(cacheDir, "screenshots"))
	def(&c.Paths.ReportDir, filepath.Join(cacheDir, "reports"))
	def(&c.Paths.Database, filepath.Join(cacheDir, "postpilot.db"))
	return nil
}

// Validate checks the configuration for sane values
func (c *Config) Validate() error {
	switch c.Browser.Driver {
	case "chromedp", "rod":
	default:
		return fmt.Errorf("browser.driver must be chromedp or rod, got %q", c.Browser.Driver)
	}
	if c.Browser.TimeoutMs <= 0 || c.Browser.PageTimeoutMs <= 0 {
		return fmt.Errorf("browser timeouts must be positive")
	}
	if c.Post.Attempts <= 0 {
		return fmt.Errorf("post.attempts must be a positive integer")
	}
	if c.Login.UsernameAttempts <= 0 {
		return fmt.Errorf("login.username_attempts must be a positive integer")
	}
	if c.Humanoid.KeyDelayMinMs > c.Humanoid.KeyDelayMaxMs {
		return fmt.Errorf("humanoid.key_delay_min_ms exceeds key_delay_max_ms")
	}
	return nil
}

// Account returns the credentials configured for p
func (c *Config) Account(p types.Platform) (Account, bool) {
	a, ok := c.Accounts[string(p)]
	if !ok || a.Username == "" || a.Password == "" {
		return Account{}, false
	}
	return a, true
}

// Timeout is the global run timeout
func (c *Config) Timeout() time.Duration { return Ms(c.Browser.TimeoutMs) }

// PageTimeout bounds each navigation
func (c *Config) PageTimeout() time.Duration { return Ms(c.Browser.PageTimeoutMs) }

// Ms converts a millisecond config value to a Duration
func Ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// SaveTo writes config as TOML to path. Accounts are never written.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}
