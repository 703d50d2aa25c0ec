// Package cli provides the command-line interface for repostats.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/olegiv/go-logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/olegiv/gerrit-repo-stats/internal/config"
	"github.com/olegiv/gerrit-repo-stats/internal/logging"
)

const (
	exitSuccess = 0
	exitFailure = 1
)

// BuildInfo is injected at build time via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Execute runs the root command and returns the exit code.
func Execute(ctx context.Context, info BuildInfo) int {
	rootCmd := NewRootCommand(info)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// SilenceErrors prevents cobra from printing it
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}
	return exitSuccess
}

// NewRootCommand creates the root cobra command.
func NewRootCommand(info BuildInfo) *cobra.Command {
	cli := &config.CLIOptions{}

	rootCmd := &cobra.Command{
		Use:   "repostats",
		Short: "Per-repository activity report for a Gerrit server",
		Long: `repostats reports, for every repository on a Gerrit server, when it was
created, when a change was last updated and when its content was last read.

Read activity is mined from the Gerrit HTTP access logs (httpd_log*, plain,
gzip or zstd). Creation dates come from git history and are kept once known.

Configuration is read from flags, a .env file, the environment and an
optional config file, in that order of priority.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cli.ConfigFile, "config", "", "Config file (YAML, TOML or JSON)")
	flags.StringVar(&cli.EnvFile, "env-file", config.DefaultEnvFile, "Dotenv file")
	flags.StringVar(&cli.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	flags.StringVar(&cli.LogDir, "log-dir", "", "Directory holding the Gerrit access logs")
	flags.IntVar(&cli.ScanWorkers, "workers", 0, "Number of log files scanned concurrently")
	flags.StringVar(&cli.UnclassifiedOutput, "unclassified", "", "Where to write request paths that named no repository")

	rootCmd.AddCommand(newReportCommand(cli))
	rootCmd.AddCommand(newScanCommand(cli))
	rootCmd.AddCommand(newHistoryCommand(cli))
	rootCmd.AddCommand(newVersionCommand(info))

	return rootCmd
}

// newFileLogger creates the rotating application logger used by long runs.
func newFileLogger(cfg *config.Config) *logging.SecureLogger {
	baseLog := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		LogDir:     cfg.AppLogDir,
		MaxSizeMB:  10,
		MaxBackups: 5,
		Console:    true,
	})
	return logging.NewSecure(baseLog)
}

// newStderrLogger keeps stdout free for command output.
func newStderrLogger(cmd *cobra.Command, level string) *logging.SecureLogger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zl := zerolog.New(zerolog.ConsoleWriter{
		Out:        cmd.ErrOrStderr(),
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}).Level(lvl).With().Timestamp().Logger()
	return logging.NewSecureFromZerolog(zl)
}

func closeLogger(cmd *cobra.Command, log *logging.SecureLogger) {
	if err := log.Close(); err != nil {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Failed to close logger: %v\n", err)
	}
}
