package app

import (
	"fmt"

	"github.com/olegiv/gerrit-repo-stats/internal/config"
	"github.com/olegiv/gerrit-repo-stats/internal/gerrit"
	"github.com/olegiv/gerrit-repo-stats/internal/githistory"
	"github.com/olegiv/gerrit-repo-stats/internal/logging"
	"github.com/olegiv/gerrit-repo-stats/internal/notification"
	"github.com/olegiv/gerrit-repo-stats/internal/report"
	"github.com/olegiv/gerrit-repo-stats/internal/storage"
)

// OptionsFromConfig maps loaded settings onto pipeline options.
func OptionsFromConfig(cfg *config.Config) Options {
	// Gerrit calls retry, so one field may take several HTTP timeouts
	timeout := 2 * max(cfg.HTTPTimeout(), cfg.GitTimeout())
	if timeout <= 0 {
		timeout = report.DefaultSourceTimeout
	}

	return Options{
		LogDir:             cfg.LogDir,
		LogMarker:          cfg.LogMarker,
		Workers:            cfg.ScanWorkers,
		ReportPath:         cfg.ReportPath,
		UnclassifiedOutput: cfg.UnclassifiedOutput,
		Excluded:           cfg.ExcludedProjects,
		SourceTimeout:      timeout,
		RetentionDays:      cfg.HistoryRetentionDays,
	}
}

// Build creates the pipeline for mode with its concrete collaborators. The
// returned cleanup closes whatever was opened and is never nil.
func Build(cfg *config.Config, mode config.Mode, log *logging.SecureLogger) (*Pipeline, func(), error) {
	if log == nil {
		log = logging.NewNop()
	}

	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn().Err(err).Msg("Failed to release resource")
			}
		}
	}

	opts := OptionsFromConfig(cfg)
	if mode != config.ModeReport {
		return New(opts, log), cleanup, nil
	}

	client, err := gerrit.NewClient(gerrit.Config{
		BaseURL:        cfg.GerritURL,
		Username:       cfg.GerritUser,
		Password:       cfg.GerritPassword,
		ProxyURL:       cfg.GerritProxyURL(),
		TimeoutSeconds: cfg.HTTPTimeoutSecs,
		RateLimit:      cfg.GerritRateLimit,
	})
	if err != nil {
		return nil, cleanup, fmt.Errorf("failed to initialize Gerrit client: %w", err)
	}
	log.Info().Str("url", cfg.GerritURL).Float64("rate_limit", cfg.GerritRateLimit).Msg("Gerrit client initialized")

	history := githistory.NewReader(cfg.GitBasePath, githistory.WithTimeout(cfg.GitTimeout()))

	options := []Option{
		WithCatalog(client),
		WithUpdate(client),
		WithHistory(history),
	}

	if cfg.EnableDatabase {
		store, err := storage.New(cfg.DatabasePath, log)
		if err != nil {
			// Run history is optional; the report still gets written
			log.Warn().Err(err).Msg("Failed to initialize storage, continuing without run history")
		} else {
			closers = append(closers, store.Close)
			options = append(options, WithStore(store))
			log.Info().Str("path", cfg.DatabasePath).Msg("Database initialized")
		}
	}

	if cfg.HasTelegram() {
		telegram, err := notification.NewTelegramClient(cfg.TelegramBotToken, cfg.TelegramChannelID)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Telegram client, continuing without notifications")
		} else {
			closers = append(closers, telegram.Close)
			options = append(options, WithNotifier(telegram))
			log.Info().Int64("channel", cfg.TelegramChannelID).Msg("Telegram client initialized")
		}
	}

	return New(opts, log, options...), cleanup, nil
}
