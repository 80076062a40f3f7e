package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "WXHARVEST_"

// Config holds all configuration options for wxharvest
type Config struct {
	Provider      ProviderConfig     `yaml:"provider" json:"provider"`
	Login         LoginConfig        `yaml:"login" json:"login"`
	Browser       BrowserConfig      `yaml:"browser" json:"browser"`
	Session       SessionConfig      `yaml:"session" json:"session"`
	Renewal       RenewalConfig      `yaml:"renewal" json:"renewal"`
	Harvest       HarvestConfig      `yaml:"harvest" json:"harvest"`
	Sync          SyncConfig         `yaml:"sync" json:"sync"`
	Storage       StorageConfig      `yaml:"storage" json:"storage"`
	Publish       PublishConfig      `yaml:"publish" json:"publish"`
	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`
	Logging       LoggingConfig      `yaml:"logging" json:"logging"`
}

// ProviderConfig describes the official-account backend
type ProviderConfig struct {
	BaseURL           string        `yaml:"base_url" json:"base_url"`
	HomePath          string        `yaml:"home_path" json:"home_path"`
	HomeMarker        string        `yaml:"home_marker" json:"home_marker"`
	CookieDomain      string        `yaml:"cookie_domain" json:"cookie_domain"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size" json:"burst_size"`
}

// LoginConfig holds QR login settings
type LoginConfig struct {
	QRCodePath  string        `yaml:"qr_code_path" json:"qr_code_path"`
	QRSelector  string        `yaml:"qr_selector" json:"qr_selector"`
	ScanTimeout time.Duration `yaml:"scan_timeout" json:"scan_timeout"`
	LockPath    string        `yaml:"lock_path" json:"lock_path"`
	LockTTL     time.Duration `yaml:"lock_ttl" json:"lock_ttl"`
}

// BrowserConfig holds headless browser settings
type BrowserConfig struct {
	Headless     bool          `yaml:"headless" json:"headless"`
	ExecPath     string        `yaml:"exec_path" json:"exec_path"`
	WindowWidth  int           `yaml:"window_width" json:"window_width"`
	WindowHeight int           `yaml:"window_height" json:"window_height"`
	LoadTimeout  time.Duration `yaml:"load_timeout" json:"load_timeout"`
}

// SessionConfig selects where the session is persisted
type SessionConfig struct {
	// Backend is one of file, encrypted, keyring, memory
	Backend       string   `yaml:"backend" json:"backend"`
	Path          string   `yaml:"path" json:"path"`
	CookieJarPath string   `yaml:"cookie_jar_path" json:"cookie_jar_path"`
	ExpiryCookies []string `yaml:"expiry_cookies" json:"expiry_cookies"`
}

// RenewalConfig holds cookie-replay renewal settings
type RenewalConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// HarvestConfig holds article listing defaults
type HarvestConfig struct {
	MaxPages         int           `yaml:"max_pages" json:"max_pages"`
	PacingInterval   time.Duration `yaml:"pacing_interval" json:"pacing_interval"`
	FetchFullContent bool          `yaml:"fetch_full_content" json:"fetch_full_content"`
	Concurrency      int           `yaml:"concurrency" json:"concurrency"`
}

// SyncConfig holds scheduled full-update settings
type SyncConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	Schedules     []string `yaml:"schedules" json:"schedules"`
	MaxAttempts   int      `yaml:"max_attempts" json:"max_attempts"`
	CheckpointDir string   `yaml:"checkpoint_dir" json:"checkpoint_dir"`
	Incremental   bool     `yaml:"incremental" json:"incremental"`
}

// StorageConfig holds the article database location
type StorageConfig struct {
	DatabasePath string `yaml:"database_path" json:"database_path"`
}

// PublishConfig holds the optional Kafka sink
type PublishConfig struct {
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
}

// NotificationConfig holds notification preferences
type NotificationConfig struct {
	Enabled          bool   `yaml:"enabled" json:"enabled"`
	NotificationType string `yaml:"notification_type" json:"notification_type"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// Enabled reports whether a Kafka sink is configured
func (p PublishConfig) Enabled() bool {
	return len(p.Brokers) > 0 && p.Topic != ""
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			BaseURL:           "https://mp.weixin.qq.com",
			HomePath:          "/cgi-bin/home",
			HomeMarker:        "cgi-bin/home",
			CookieDomain:      ".weixin.qq.com",
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			RequestTimeout:    30 * time.Second,
			RequestsPerMinute: 20,
			BurstSize:         3,
		},
		Login: LoginConfig{
			QRCodePath:  "static/wx_qrcode.png",
			QRSelector:  ".login__type__container__scan__qrcode",
			ScanTimeout: 60 * time.Second,
			LockPath:    "data/.lock",
			LockTTL:     5 * time.Minute,
		},
		Browser: BrowserConfig{
			Headless:     true,
			WindowWidth:  1280,
			WindowHeight: 900,
			LoadTimeout:  30 * time.Second,
		},
		Session: SessionConfig{
			Backend:       "file",
			Path:          "data/wx.lic",
			CookieJarPath: "data/cookies.json",
			ExpiryCookies: []string{"slave_sid", "slave_user"},
		},
		Renewal: RenewalConfig{
			Enabled:  true,
			Interval: 23 * time.Hour,
		},
		Harvest: HarvestConfig{
			MaxPages:       1,
			PacingInterval: 3 * time.Second,
			Concurrency:    2,
		},
		Sync: SyncConfig{
			Enabled:       true,
			Schedules:     []string{"0 6 * * *", "0 15 * * *", "0 21 * * *"},
			MaxAttempts:   3,
			CheckpointDir: "data/checkpoints",
			Incremental:   true,
		},
		Storage: StorageConfig{
			DatabasePath: "data/wxharvest.db",
		},
		Notifications: NotificationConfig{
			Enabled:          true,
			NotificationType: "terminal",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from WXHARVEST_* environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	setString := func(name string, dst *string) {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v := os.Getenv(envPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(name string, dst *bool) {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = strings.EqualFold(v, "true") || v == "1"
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if v := os.Getenv(envPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	setString("BASE_URL", &c.Provider.BaseURL)
	setString("USER_AGENT", &c.Provider.UserAgent)
	setInt("REQUESTS_PER_MINUTE", &c.Provider.RequestsPerMinute)

	setString("QRCODE_PATH", &c.Login.QRCodePath)
	setDuration("SCAN_TIMEOUT", &c.Login.ScanTimeout)
	setString("LOCK_PATH", &c.Login.LockPath)
	setDuration("LOCK_TTL", &c.Login.LockTTL)

	setBool("HEADLESS", &c.Browser.Headless)
	setString("CHROME_PATH", &c.Browser.ExecPath)

	setString("SESSION_BACKEND", &c.Session.Backend)
	setString("SESSION_PATH", &c.Session.Path)
	setString("COOKIE_JAR_PATH", &c.Session.CookieJarPath)

	setBool("RENEWAL_ENABLED", &c.Renewal.Enabled)
	setDuration("RENEWAL_INTERVAL", &c.Renewal.Interval)

	setInt("MAX_PAGES", &c.Harvest.MaxPages)
	setDuration("PACING_INTERVAL", &c.Harvest.PacingInterval)
	setBool("FETCH_FULL_CONTENT", &c.Harvest.FetchFullContent)
	setInt("CONCURRENCY", &c.Harvest.Concurrency)

	setBool("SYNC_ENABLED", &c.Sync.Enabled)
	if v := os.Getenv(envPrefix + "SYNC_SCHEDULES"); v != "" {
		c.Sync.Schedules = splitList(v, ";")
	}

	setString("DATABASE_PATH", &c.Storage.DatabasePath)

	if v := os.Getenv(envPrefix + "KAFKA_BROKERS"); v != "" {
		c.Publish.Brokers = splitList(v, ",")
	}
	setString("KAFKA_TOPIC", &c.Publish.Topic)

	setBool("NOTIFICATIONS_ENABLED", &c.Notifications.Enabled)
	setString("LOG_LEVEL", &c.Logging.Level)
	setString("LOG_FILE", &c.Logging.File)

	return errors.Join(errs...)
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".wxharvest.yaml",
		".wxharvest.yml",
		filepath.Join(home, ".config", "wxharvest", "config.yaml"),
		filepath.Join(home, ".wxharvest.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Provider.BaseURL == "" {
		errs = append(errs, errors.New("provider base url is required"))
	}
	if c.Provider.HomeMarker == "" {
		errs = append(errs, errors.New("provider home marker is required"))
	}
	if c.Provider.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.Provider.BurstSize <= 0 {
		errs = append(errs, errors.New("burst size must be positive"))
	}

	if c.Login.QRCodePath == "" {
		errs = append(errs, errors.New("qr code path is required"))
	}
	if c.Login.ScanTimeout <= 0 {
		errs = append(errs, errors.New("scan timeout must be positive"))
	}
	if c.Login.LockPath == "" {
		errs = append(errs, errors.New("lock path is required"))
	}
	if c.Login.LockTTL <= c.Login.ScanTimeout {
		errs = append(errs, errors.New("lock ttl must exceed the scan timeout"))
	}

	switch c.Session.Backend {
	case "file", "encrypted", "keyring", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown session backend %q", c.Session.Backend))
	}
	if c.Session.CookieJarPath == "" {
		errs = append(errs, errors.New("cookie jar path is required"))
	}

	if c.Renewal.Enabled && c.Renewal.Interval < time.Minute {
		errs = append(errs, errors.New("renewal interval must be at least one minute"))
	}

	if c.Harvest.MaxPages < 1 {
		errs = append(errs, errors.New("max pages must be at least 1"))
	}
	if c.Harvest.PacingInterval < 0 {
		errs = append(errs, errors.New("pacing interval cannot be negative"))
	}
	if c.Harvest.Concurrency <= 0 || c.Harvest.Concurrency > 10 {
		errs = append(errs, errors.New("harvest concurrency must be between 1 and 10"))
	}

	if c.Sync.MaxAttempts < 1 {
		errs = append(errs, errors.New("sync max attempts must be at least 1"))
	}
	if c.Storage.DatabasePath == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	if len(c.Publish.Brokers) > 0 && c.Publish.Topic == "" {
		errs = append(errs, errors.New("kafka topic is required when brokers are set"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	validNotifTypes := map[string]bool{
		"terminal": true, "desktop": true, "none": true,
	}
	if !validNotifTypes[strings.ToLower(c.Notifications.NotificationType)] {
		errs = append(errs, errors.New("invalid notification type"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges explicitly set command line flags
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["max-pages"].(int); ok && v > 0 {
		c.Harvest.MaxPages = v
	}
	if v, ok := flags["pacing"].(time.Duration); ok && v > 0 {
		c.Harvest.PacingInterval = v
	}
	if v, ok := flags["concurrency"].(int); ok && v > 0 {
		c.Harvest.Concurrency = v
	}
	if v, ok := flags["database"].(string); ok && v != "" {
		c.Storage.DatabasePath = v
	}
	if v, ok := flags["headless"].(bool); ok {
		c.Browser.Headless = v
	}
	if v, ok := flags["full-content"].(bool); ok {
		c.Harvest.FetchFullContent = v
	}
}

// Load loads configuration from all sources with proper precedence.
// Command line flags > environment variables > .env file > config file > defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".wxharvest.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
