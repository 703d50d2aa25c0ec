package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	internalerrors "github.com/olegiv/gerrit-repo-stats/internal/errors"
)

// Mode selects which settings a command needs.
type Mode string

const (
	// ModeReport builds the full report and needs Gerrit access.
	ModeReport Mode = "report"
	// ModeScan only scans the access logs.
	ModeScan Mode = "scan"
	// ModeHistory only reads the run history database.
	ModeHistory Mode = "history"
)

// CLIOptions holds command-line overrides. Zero values leave the loaded
// setting untouched.
type CLIOptions struct {
	ConfigFile         string // --config: optional YAML/TOML/JSON config file
	EnvFile            string // --env-file: dotenv file (default .env)
	GerritURL          string // --gerrit-url
	LogDir             string // --log-dir
	ReportPath         string // --output
	UnclassifiedOutput string // --unclassified
	ScanWorkers        int    // --workers
	LogLevel           string // --log-level
	NoDatabase         bool   // --no-db
	NoNotify           bool   // --no-notify
}

// Config holds all application configuration
type Config struct {
	// Gerrit
	GerritURL        string
	GerritUser       string
	GerritPassword   string
	GerritRateLimit  float64
	HTTPTimeoutSecs  int
	GitBasePath      string
	GitTimeoutSecs   int
	ExcludedProjects []string

	// Access logs
	LogDir      string
	LogMarker   string
	ScanWorkers int

	// Outputs
	ReportPath         string
	UnclassifiedOutput string

	// Application
	LogLevel  string
	AppLogDir string

	// Run history
	EnableDatabase       bool
	DatabasePath         string
	HistoryRetentionDays int

	// Telegram (optional)
	TelegramBotToken  string
	TelegramChannelID int64
	DisableNotify     bool

	// Proxy
	HTTPProxy  string
	HTTPSProxy string
}

// DefaultEnvFile is the dotenv file read when none is given.
const DefaultEnvFile = ".env"

// Load reads configuration for mode.
// Priority: CLI args > .env file > OS environment variables > config file > defaults
func Load(cli *CLIOptions, mode Mode) (*Config, error) {
	if cli == nil {
		cli = &CLIOptions{}
	}

	// .env overrides the process environment, which viper reads below
	envFile := cli.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Overload(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if cli.ConfigFile != "" {
		v.SetConfigFile(cli.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{
		GerritURL:        strings.TrimRight(v.GetString("GERRIT_URL"), "/"),
		GerritUser:       v.GetString("GERRIT_USER"),
		GerritPassword:   v.GetString("GERRIT_PASSWORD"),
		GerritRateLimit:  v.GetFloat64("GERRIT_RATE_LIMIT"),
		HTTPTimeoutSecs:  v.GetInt("HTTP_TIMEOUT_SECONDS"),
		GitBasePath:      v.GetString("GIT_BASE_PATH"),
		GitTimeoutSecs:   v.GetInt("GIT_TIMEOUT_SECONDS"),
		ExcludedProjects: splitList(v.GetString("EXCLUDED_PROJECTS")),

		LogDir:      v.GetString("LOG_DIR"),
		LogMarker:   v.GetString("LOG_MARKER"),
		ScanWorkers: v.GetInt("SCAN_WORKERS"),

		ReportPath:         v.GetString("REPORT_PATH"),
		UnclassifiedOutput: v.GetString("UNCLASSIFIED_OUTPUT"),

		LogLevel:  v.GetString("LOG_LEVEL"),
		AppLogDir: v.GetString("APP_LOG_DIR"),

		EnableDatabase:       v.GetBool("ENABLE_DATABASE"),
		DatabasePath:         v.GetString("DATABASE_PATH"),
		HistoryRetentionDays: v.GetInt("HISTORY_RETENTION_DAYS"),

		TelegramBotToken:  v.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramChannelID: v.GetInt64("TELEGRAM_CHANNEL_ID"),

		HTTPProxy:  v.GetString("HTTP_PROXY"),
		HTTPSProxy: v.GetString("HTTPS_PROXY"),
	}

	config.applyCLI(cli)

	// Keep credentials out of every log line and error from here on
	internalerrors.RegisterSecret(config.GerritPassword)
	internalerrors.RegisterSecret(config.TelegramBotToken)

	if err := config.Validate(mode); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// applyCLI applies command-line overrides (highest priority)
func (c *Config) applyCLI(cli *CLIOptions) {
	if cli.GerritURL != "" {
		c.GerritURL = strings.TrimRight(cli.GerritURL, "/")
	}
	if cli.LogDir != "" {
		c.LogDir = cli.LogDir
	}
	if cli.ReportPath != "" {
		c.ReportPath = cli.ReportPath
	}
	if cli.UnclassifiedOutput != "" {
		c.UnclassifiedOutput = cli.UnclassifiedOutput
	}
	if cli.ScanWorkers > 0 {
		c.ScanWorkers = cli.ScanWorkers
	}
	if cli.LogLevel != "" {
		c.LogLevel = cli.LogLevel
	}
	if cli.NoDatabase {
		c.EnableDatabase = false
	}
	if cli.NoNotify {
		c.DisableNotify = true
	}
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("GERRIT_RATE_LIMIT", 10)
	v.SetDefault("HTTP_TIMEOUT_SECONDS", 30)
	v.SetDefault("GIT_TIMEOUT_SECONDS", 30)

	v.SetDefault("LOG_DIR", "/var/gerrit/logs")
	v.SetDefault("LOG_MARKER", "httpd_log")
	v.SetDefault("SCAN_WORKERS", 4)

	v.SetDefault("REPORT_PATH", "./projects_stats.csv")
	v.SetDefault("UNCLASSIFIED_OUTPUT", "./unclassified_requests.txt")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_LOG_DIR", "./logs")

	v.SetDefault("ENABLE_DATABASE", true)
	v.SetDefault("DATABASE_PATH", "./data/runs.db")
	v.SetDefault("HISTORY_RETENTION_DAYS", 365)
}

var telegramTokenRegex = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// Validate checks the settings mode depends on
func (c *Config) Validate(mode Mode) error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
	}

	switch mode {
	case ModeReport:
		if err := c.validateGerrit(); err != nil {
			return err
		}
		if err := c.validateScan(); err != nil {
			return err
		}
		if c.ReportPath == "" {
			return fmt.Errorf("REPORT_PATH is required")
		}
		if c.EnableDatabase {
			if err := c.validateDatabase(); err != nil {
				return err
			}
		}
		return c.validateTelegram()

	case ModeScan:
		return c.validateScan()

	case ModeHistory:
		if !c.EnableDatabase {
			return fmt.Errorf("run history requires ENABLE_DATABASE=true")
		}
		return c.validateDatabase()

	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

func (c *Config) validateGerrit() error {
	if c.GerritURL == "" {
		return fmt.Errorf("GERRIT_URL is required")
	}
	u, err := url.Parse(c.GerritURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("GERRIT_URL must start with 'http://' or 'https://'")
	}
	if c.GerritUser == "" {
		return fmt.Errorf("GERRIT_USER is required")
	}
	if c.GerritPassword == "" {
		return fmt.Errorf("GERRIT_PASSWORD is required")
	}
	if c.GitBasePath == "" {
		return fmt.Errorf("GIT_BASE_PATH is required")
	}
	if c.HTTPTimeoutSecs < 1 || c.HTTPTimeoutSecs > 600 {
		return fmt.Errorf("HTTP_TIMEOUT_SECONDS must be between 1 and 600")
	}
	if c.GitTimeoutSecs < 1 || c.GitTimeoutSecs > 600 {
		return fmt.Errorf("GIT_TIMEOUT_SECONDS must be between 1 and 600")
	}
	if c.GerritRateLimit < 0 || c.GerritRateLimit > 1000 {
		return fmt.Errorf("GERRIT_RATE_LIMIT must be between 0 and 1000")
	}
	return nil
}

func (c *Config) validateScan() error {
	if c.LogDir == "" {
		return fmt.Errorf("LOG_DIR is required")
	}
	if c.LogMarker == "" {
		return fmt.Errorf("LOG_MARKER must not be empty")
	}
	if c.ScanWorkers < 1 || c.ScanWorkers > 64 {
		return fmt.Errorf("SCAN_WORKERS must be between 1 and 64")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required when ENABLE_DATABASE=true")
	}
	if c.HistoryRetentionDays < 1 {
		return fmt.Errorf("HISTORY_RETENTION_DAYS must be at least 1")
	}
	return nil
}

// validateTelegram checks the optional notification settings
func (c *Config) validateTelegram() error {
	if c.TelegramBotToken == "" {
		return nil
	}
	if !telegramTokenRegex.MatchString(c.TelegramBotToken) {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN has invalid format (expected: 'number:token')")
	}
	if c.TelegramChannelID == 0 {
		return fmt.Errorf("TELEGRAM_CHANNEL_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if c.TelegramChannelID > -100 {
		return fmt.Errorf("TELEGRAM_CHANNEL_ID must be a supergroup/channel ID (starts with -100)")
	}
	return nil
}

// HasTelegram returns true if run summaries should be posted
func (c *Config) HasTelegram() bool {
	return c.TelegramBotToken != "" && !c.DisableNotify
}

// GetProxyURL returns the appropriate proxy URL for HTTP/HTTPS requests
func (c *Config) GetProxyURL(isHTTPS bool) string {
	if isHTTPS && c.HTTPSProxy != "" {
		return c.HTTPSProxy
	}
	if c.HTTPProxy != "" {
		return c.HTTPProxy
	}
	return ""
}

// GerritProxyURL returns the proxy to use for the configured Gerrit URL
func (c *Config) GerritProxyURL() string {
	return c.GetProxyURL(strings.HasPrefix(strings.ToLower(c.GerritURL), "https://"))
}

// HTTPTimeout is the per-request timeout for Gerrit calls
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSecs) * time.Second
}

// GitTimeout is the per-invocation timeout for git
func (c *Config) GitTimeout() time.Duration {
	return time.Duration(c.GitTimeoutSecs) * time.Second
}

// splitList parses a comma-separated setting
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
