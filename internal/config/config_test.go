package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// checkError is a helper to verify error expectations in tests
func checkError(t *testing.T, err error, expectError bool, errorContains string) {
	t.Helper()
	if expectError {
		if err == nil {
			t.Error("Expected an error but got none")
			return
		}
		if errorContains != "" && !strings.Contains(err.Error(), errorContains) {
			t.Errorf("Expected error to contain '%s', got '%s'", errorContains, err.Error())
		}
	} else {
		if err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	}
}

// validReportConfig returns a config that passes report validation
func validReportConfig() *Config {
	return &Config{
		GerritURL:            "https://gerrit.example.com",
		GerritUser:           "svc-stats",
		GerritPassword:       "hunter22",
		GerritRateLimit:      10,
		HTTPTimeoutSecs:      30,
		GitBasePath:          "/var/gerrit/git",
		GitTimeoutSecs:       30,
		LogDir:               "/var/gerrit/logs",
		LogMarker:            "httpd_log",
		ScanWorkers:          4,
		ReportPath:           "./projects_stats.csv",
		LogLevel:             "info",
		EnableDatabase:       true,
		DatabasePath:         "./data/runs.db",
		HistoryRetentionDays: 365,
	}
}

// noEnvFile points Load at a dotenv file that does not exist
func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(c *Config)
		mode          Mode
		expectError   bool
		errorContains string
	}{
		{
			name: "Valid report config",
			mode: ModeReport,
		},
		{
			name:          "Missing Gerrit URL",
			mutate:        func(c *Config) { c.GerritURL = "" },
			mode:          ModeReport,
			expectError:   true,
			errorContains: "GERRIT_URL is required",
		},
		{
			name:          "Gerrit URL without scheme",
			mutate:        func(c *Config) { c.GerritURL = "gerrit.example.com" },
			mode:          ModeReport,
			expectError:   true,
			errorContains: "must start with 'http://' or 'https://'",
		},
		{
			name:          "Missing Gerrit user",
			mutate:        func(c *Config) { c.GerritUser = "" },
			mode:          ModeReport,
			expectError:   true,
			errorContains: "GERRIT_USER is required",
		},
		{
			name:          "Missing Gerrit password",
			mutate:        func(c *Config) { c.GerritPassword = "" },
			mode:          ModeReport,
			expectError:   true,
			errorContains: "GERRIT_PASSWORD is required",
		},
		{
			name:          "Missing git base path",
			mutate:        func(c *Config) { c.GitBasePath = "" },
			mode:          ModeReport,
			expectError:   true,
			errorContains: "GIT_BASE_PATH is required",
		},
		{
			name:          "HTTP timeout out of range",
			mutate:        func(c *Config) { c.HTTPTimeoutSecs = 0 },
			mode:          ModeReport,
			expectError:   true,
			errorContains: "HTTP_TIMEOUT_SECONDS",
		},
		{
			name:          "Git timeout out of range",
			mutate:        func(c *Config) { c.GitTimeoutSecs = 601 },
			mode:          ModeReport,
			expectError:   true,
			errorContains: "GIT_TIMEOUT_SECONDS",
		},
		{
			name:          "Negative rate limit",
			mutate:        func(c *Config) { c.GerritRateLimit = -1 },
			mode:          ModeReport,
			expectError:   true,
			errorContains: "GERRIT_RATE_LIMIT",
		},
		{
			name:          "Too many workers",
			mutate:        func(c *Config) { c.ScanWorkers = 65 },
			mode:          ModeReport,
			expectError:   true,
			errorContains: "SCAN_WORKERS",
		},
		{
			name:          "Missing report path",
			mutate:        func(c *Config) { c.ReportPath = "" },
			mode:          ModeReport,
			expectError:   true,
			errorContains: "REPORT_PATH is required",
		},
		{
			name:          "Database without retention",
			mutate:        func(c *Config) { c.HistoryRetentionDays = 0 },
			mode:          ModeReport,
			expectError:   true,
			errorContains: "HISTORY_RETENTION_DAYS",
		},
		{
			name: "Database disabled skips retention check",
			mutate: func(c *Config) {
				c.EnableDatabase = false
				c.HistoryRetentionDays = 0
			},
			mode: ModeReport,
		},
		{
			name:          "Invalid Telegram token",
			mutate:        func(c *Config) { c.TelegramBotToken = "invalid-token" },
			mode:          ModeReport,
			expectError:   true,
			errorContains: "invalid format",
		},
		{
			name:          "Telegram token without channel",
			mutate:        func(c *Config) { c.TelegramBotToken = "123456789:ABCdefGHIjklMNOpqrsTUVwxyz" },
			mode:          ModeReport,
			expectError:   true,
			errorContains: "TELEGRAM_CHANNEL_ID is required",
		},
		{
			name: "Telegram channel must be supergroup",
			mutate: func(c *Config) {
				c.TelegramBotToken = "123456789:ABCdefGHIjklMNOpqrsTUVwxyz"
				c.TelegramChannelID = 123456
			},
			mode:          ModeReport,
			expectError:   true,
			errorContains: "starts with -100",
		},
		{
			name: "Valid Telegram settings",
			mutate: func(c *Config) {
				c.TelegramBotToken = "123456789:ABCdefGHIjklMNOpqrsTUVwxyz"
				c.TelegramChannelID = -1001234567890
			},
			mode: ModeReport,
		},
		{
			name:          "Invalid log level",
			mutate:        func(c *Config) { c.LogLevel = "verbose" },
			mode:          ModeScan,
			expectError:   true,
			errorContains: "LOG_LEVEL must be one of",
		},
		{
			name: "Scan mode needs no Gerrit settings",
			mutate: func(c *Config) {
				c.GerritURL = ""
				c.GerritUser = ""
				c.GerritPassword = ""
				c.GitBasePath = ""
			},
			mode: ModeScan,
		},
		{
			name:          "Scan mode needs log dir",
			mutate:        func(c *Config) { c.LogDir = "" },
			mode:          ModeScan,
			expectError:   true,
			errorContains: "LOG_DIR is required",
		},
		{
			name:          "Scan mode needs marker",
			mutate:        func(c *Config) { c.LogMarker = "" },
			mode:          ModeScan,
			expectError:   true,
			errorContains: "LOG_MARKER",
		},
		{
			name:          "History mode needs database",
			mutate:        func(c *Config) { c.EnableDatabase = false },
			mode:          ModeHistory,
			expectError:   true,
			errorContains: "ENABLE_DATABASE=true",
		},
		{
			name:          "History mode needs database path",
			mutate:        func(c *Config) { c.DatabasePath = "" },
			mode:          ModeHistory,
			expectError:   true,
			errorContains: "DATABASE_PATH is required",
		},
		{
			name:          "Unknown mode",
			mode:          Mode("serve"),
			expectError:   true,
			errorContains: "unknown mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validReportConfig()
			if tt.mutate != nil {
				tt.mutate(config)
			}
			checkError(t, config.Validate(tt.mode), tt.expectError, tt.errorContains)
		})
	}
}

func TestLogLevelCaseInsensitive(t *testing.T) {
	for _, level := range []string{"DEBUG", "Info", "WARN", "error"} {
		t.Run(level, func(t *testing.T) {
			config := validReportConfig()
			config.LogLevel = level
			if err := config.Validate(ModeScan); err != nil {
				t.Errorf("Expected log level '%s' to be valid, got error: %v", level, err)
			}
		})
	}
}

func TestGetProxyURL(t *testing.T) {
	tests := []struct {
		name        string
		httpProxy   string
		httpsProxy  string
		isHTTPS     bool
		expectedURL string
	}{
		{name: "HTTPS with HTTPS proxy", httpProxy: "http://proxy:8080", httpsProxy: "https://proxy:8443", isHTTPS: true, expectedURL: "https://proxy:8443"},
		{name: "HTTPS falls back to HTTP proxy", httpProxy: "http://proxy:8080", isHTTPS: true, expectedURL: "http://proxy:8080"},
		{name: "HTTP request", httpProxy: "http://proxy:8080", httpsProxy: "https://proxy:8443", expectedURL: "http://proxy:8080"},
		{name: "No proxy", isHTTPS: true, expectedURL: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{HTTPProxy: tt.httpProxy, HTTPSProxy: tt.httpsProxy}
			if result := config.GetProxyURL(tt.isHTTPS); result != tt.expectedURL {
				t.Errorf("Expected proxy URL '%s', got '%s'", tt.expectedURL, result)
			}
		})
	}
}

func TestGerritProxyURL(t *testing.T) {
	config := &Config{
		GerritURL:  "HTTPS://gerrit.example.com",
		HTTPProxy:  "http://proxy:8080",
		HTTPSProxy: "http://secure-proxy:8443",
	}
	if got := config.GerritProxyURL(); got != "http://secure-proxy:8443" {
		t.Errorf("Expected HTTPS proxy for an https Gerrit URL, got %q", got)
	}

	config.GerritURL = "http://gerrit.internal"
	if got := config.GerritProxyURL(); got != "http://proxy:8080" {
		t.Errorf("Expected HTTP proxy for an http Gerrit URL, got %q", got)
	}
}

func TestHasTelegram(t *testing.T) {
	config := &Config{}
	if config.HasTelegram() {
		t.Error("Expected no Telegram without a token")
	}

	config.TelegramBotToken = "123:ABC"
	if !config.HasTelegram() {
		t.Error("Expected Telegram with a token")
	}

	config.DisableNotify = true
	if config.HasTelegram() {
		t.Error("Expected --no-notify to disable Telegram")
	}
}

func TestTimeouts(t *testing.T) {
	config := &Config{HTTPTimeoutSecs: 15, GitTimeoutSecs: 45}
	if config.HTTPTimeout() != 15*time.Second {
		t.Errorf("Unexpected HTTP timeout: %v", config.HTTPTimeout())
	}
	if config.GitTimeout() != 45*time.Second {
		t.Errorf("Unexpected git timeout: %v", config.GitTimeout())
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("GERRIT_URL", "https://gerrit.example.com/")
	t.Setenv("GERRIT_USER", "svc-stats")
	t.Setenv("GERRIT_PASSWORD", "hunter22")
	t.Setenv("GIT_BASE_PATH", "/srv/git")
	t.Setenv("EXCLUDED_PROJECTS", "sandbox, , playground")

	config, err := Load(&CLIOptions{EnvFile: noEnvFile(t)}, ModeReport)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.GerritURL != "https://gerrit.example.com" {
		t.Errorf("Expected trailing slash to be trimmed, got %q", config.GerritURL)
	}
	if config.GerritUser != "svc-stats" {
		t.Error("GerritUser not loaded from environment")
	}

	// Defaults
	if config.LogDir != "/var/gerrit/logs" {
		t.Errorf("Unexpected default LogDir: %q", config.LogDir)
	}
	if config.LogMarker != "httpd_log" {
		t.Errorf("Unexpected default LogMarker: %q", config.LogMarker)
	}
	if config.ReportPath != "./projects_stats.csv" {
		t.Errorf("Unexpected default ReportPath: %q", config.ReportPath)
	}
	if config.ScanWorkers != 4 || config.HTTPTimeoutSecs != 30 || config.GitTimeoutSecs != 30 {
		t.Errorf("Unexpected numeric defaults: %+v", config)
	}
	if config.GerritRateLimit != 10 {
		t.Errorf("Unexpected default rate limit: %v", config.GerritRateLimit)
	}
	if !config.EnableDatabase || config.DatabasePath != "./data/runs.db" || config.HistoryRetentionDays != 365 {
		t.Errorf("Unexpected database defaults: %+v", config)
	}
	if len(config.ExcludedProjects) != 2 || config.ExcludedProjects[1] != "playground" {
		t.Errorf("Unexpected excluded projects: %v", config.ExcludedProjects)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	t.Setenv("LOG_DIR", "/from/env")
	t.Setenv("SCAN_WORKERS", "2")

	config, err := Load(&CLIOptions{
		EnvFile:            noEnvFile(t),
		LogDir:             "/from/cli",
		ScanWorkers:        8,
		UnclassifiedOutput: "/tmp/unclassified.txt",
		LogLevel:           "debug",
		NoDatabase:         true,
		NoNotify:           true,
	}, ModeScan)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.LogDir != "/from/cli" {
		t.Errorf("Expected CLI log dir, got %q", config.LogDir)
	}
	if config.ScanWorkers != 8 {
		t.Errorf("Expected CLI workers, got %d", config.ScanWorkers)
	}
	if config.UnclassifiedOutput != "/tmp/unclassified.txt" || config.LogLevel != "debug" {
		t.Errorf("CLI overrides not applied: %+v", config)
	}
	if config.EnableDatabase || !config.DisableNotify {
		t.Error("Expected --no-db and --no-notify to apply")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "repostats.yaml")
	content := `
log_dir: /from/file
log_marker: access_log
scan_workers: 6
report_path: /srv/reports/stats.csv
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	// Environment beats the config file
	t.Setenv("SCAN_WORKERS", "3")

	config, err := Load(&CLIOptions{EnvFile: noEnvFile(t), ConfigFile: path}, ModeScan)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.LogDir != "/from/file" || config.LogMarker != "access_log" {
		t.Errorf("Config file values not loaded: %+v", config)
	}
	if config.ReportPath != "/srv/reports/stats.csv" {
		t.Errorf("Unexpected report path: %q", config.ReportPath)
	}
	if config.ScanWorkers != 3 {
		t.Errorf("Expected environment to override config file, got %d", config.ScanWorkers)
	}
}

func TestLoad_ConfigFileMissing(t *testing.T) {
	_, err := Load(&CLIOptions{EnvFile: noEnvFile(t), ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")}, ModeScan)
	checkError(t, err, true, "failed to read config file")
}

func TestLoad_EnvFileOverridesEnvironment(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("LOG_DIR=/from/dotenv\n"), 0o600); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}
	// Registers cleanup for the variable the dotenv file overwrites
	t.Setenv("LOG_DIR", "/from/env")

	config, err := Load(&CLIOptions{EnvFile: envFile}, ModeScan)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if config.LogDir != "/from/dotenv" {
		t.Errorf("Expected .env to override the environment, got %q", config.LogDir)
	}
}

func TestLoad_ValidationFails(t *testing.T) {
	t.Setenv("GERRIT_URL", "")
	t.Setenv("GERRIT_USER", "")
	t.Setenv("GERRIT_PASSWORD", "")

	_, err := Load(&CLIOptions{EnvFile: noEnvFile(t)}, ModeReport)
	checkError(t, err, true, "configuration validation failed")
}

func TestSplitList(t *testing.T) {
	if got := splitList(""); got != nil {
		t.Errorf("Expected nil for empty list, got %v", got)
	}
	got := splitList(" a ,b,, c ")
	if strings.Join(got, "|") != "a|b|c" {
		t.Errorf("Unexpected split: %v", got)
	}
}
