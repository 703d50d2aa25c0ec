// Package app runs the report and scan pipelines end to end.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/olegiv/gerrit-repo-stats/internal/accesslog"
	"github.com/olegiv/gerrit-repo-stats/internal/logging"
	"github.com/olegiv/gerrit-repo-stats/internal/report"
	"github.com/olegiv/gerrit-repo-stats/internal/storage"
)

// RunStore records completed runs. *storage.Storage satisfies it.
type RunStore interface {
	SaveRun(ctx context.Context, run *storage.Run, records []report.Record) error
	CleanupOldRuns(ctx context.Context, days int) (int64, error)
}

// Notifier publishes a run summary. *notification.TelegramClient satisfies it.
type Notifier interface {
	SendRunSummary(ctx context.Context, summary report.Summary, reportPath string) error
}

// Options are the settings a pipeline run needs.
type Options struct {
	LogDir             string
	LogMarker          string
	Workers            int
	ReportPath         string
	UnclassifiedOutput string
	Excluded           []string
	SourceTimeout      time.Duration
	RetentionDays      int
}

// Pipeline ties the sources, the scanner and the outputs together.
type Pipeline struct {
	opts     Options
	catalog  report.CatalogSource
	history  report.HistorySource
	update   report.UpdateSource
	store    RunStore
	notifier Notifier
	log      *logging.SecureLogger
	now      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCatalog sets the repository catalog. Report runs require one.
func WithCatalog(c report.CatalogSource) Option {
	return func(p *Pipeline) { p.catalog = c }
}

// WithHistory sets the creation date source.
func WithHistory(h report.HistorySource) Option {
	return func(p *Pipeline) { p.history = h }
}

// WithUpdate sets the last update source.
func WithUpdate(u report.UpdateSource) Option {
	return func(p *Pipeline) { p.update = u }
}

// WithStore records each report run.
func WithStore(s RunStore) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithNotifier posts each report run summary.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a pipeline. A nil log discards output.
func New(opts Options, log *logging.SecureLogger, options ...Option) *Pipeline {
	if log == nil {
		log = logging.NewNop()
	}
	p := &Pipeline{
		opts: opts,
		log:  log,
		now:  time.Now,
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Report builds the report: catalog, scan, reconcile, then write the outputs.
// Only a catalog failure, an unreadable log directory, a corrupt prior report or
// a failed report write fail the run. Run history and notification failures are
// logged and ignored.
func (p *Pipeline) Report(ctx context.Context) (report.Summary, error) {
	startedAt := p.now()

	if p.catalog == nil {
		return report.Summary{}, fmt.Errorf("no repository catalog configured")
	}

	p.log.Info().Msg("Listing repositories...")
	catalog, err := p.catalog.ListProjects(ctx)
	if err != nil {
		return report.Summary{}, fmt.Errorf("failed to list repositories: %w", err)
	}
	p.log.Info().Int("repositories", len(catalog)).Msg("Repository catalog loaded")

	prior, err := report.LoadCSV(p.opts.ReportPath)
	if err != nil {
		return report.Summary{}, fmt.Errorf("failed to load previous report: %w", err)
	}
	p.log.Info().
		Str("path", p.opts.ReportPath).
		Int("records", len(prior)).
		Msg("Previous report loaded")

	scan, err := p.scan(ctx)
	if err != nil {
		return report.Summary{}, err
	}

	reconciler := report.NewReconciler(p.history, p.update,
		report.WithSourceTimeout(p.opts.SourceTimeout),
		report.WithExcluded(p.opts.Excluded...),
	)

	p.log.Info().Msg("Reconciling report...")
	outcome, err := reconciler.Reconcile(ctx, catalog, prior, scan.LastRead)
	if err != nil {
		return report.Summary{}, fmt.Errorf("reconciliation failed: %w", err)
	}
	p.logIssues(outcome.Issues)

	if err := report.SaveCSV(p.opts.ReportPath, outcome.Records); err != nil {
		return report.Summary{}, fmt.Errorf("failed to write report: %w", err)
	}
	p.log.Info().
		Str("path", p.opts.ReportPath).
		Int("records", len(outcome.Records)).
		Msg("Report written")

	p.writeUnclassified(scan)

	summary := report.NewSummary(outcome, scan)
	summary.StartedAt = startedAt
	summary.FinishedAt = p.now()

	if len(summary.Removed) > 0 {
		p.log.Info().Strs("repositories", summary.Removed).Msg("Repositories no longer in the catalog")
	}

	p.record(ctx, summary, outcome.Records)
	p.notify(ctx, summary)

	p.log.Info().
		Int("repositories", summary.Repositories).
		Int("read", summary.Read).
		Int("never_read", summary.NeverRead).
		Int("issues", summary.Issues).
		Dur("duration", summary.Duration()).
		Msg("Report completed")

	return summary, nil
}

// Scan reads the access logs only and writes the diagnostics side file.
func (p *Pipeline) Scan(ctx context.Context) (*accesslog.Result, error) {
	scan, err := p.scan(ctx)
	if err != nil {
		return nil, err
	}
	p.writeUnclassified(scan)
	return scan, nil
}

// ScanReader folds access-log lines read from r, e.g. a log piped on stdin.
func (p *Pipeline) ScanReader(r io.Reader) (*accesslog.Result, error) {
	scan, err := accesslog.NewScanner(p.opts.Workers).ScanReader(r)
	if err != nil {
		return nil, err
	}
	p.log.Info().
		Int64("lines", scan.Stats.Lines).
		Int64("long_lines", scan.Stats.LongLines).
		Int("repositories", len(scan.LastRead)).
		Msg("Access log scan completed")
	p.writeUnclassified(scan)
	return scan, nil
}

func (p *Pipeline) scan(ctx context.Context) (*accesslog.Result, error) {
	source := accesslog.NewSource(p.opts.LogDir, p.opts.LogMarker)
	files, err := source.Files()
	if err != nil {
		return nil, err
	}

	var total int64
	for _, f := range files {
		total += f.Size
	}
	p.log.Info().
		Str("dir", source.Dir()).
		Int("files", len(files)).
		Str("size", humanize.Bytes(uint64(total))).
		Msg("Scanning access logs...")

	scan, err := accesslog.NewScanner(p.opts.Workers).Scan(ctx, files)
	if err != nil {
		return nil, fmt.Errorf("access log scan failed: %w", err)
	}

	for _, fe := range scan.FileErrors {
		p.log.Warn().
			Str("file", fe.Path).
			Bool("partial", fe.Partial).
			Err(fe.Err).
			Msg("Access log skipped")
	}
	if scan.Stats.BadTimestamps > 0 {
		p.log.Debug().Int64("lines", scan.Stats.BadTimestamps).Msg("Lines with malformed timestamps skipped")
	}
	if scan.Stats.LongLines > 0 {
		p.log.Warn().Int64("lines", scan.Stats.LongLines).Msg("Overlong lines skipped")
	}
	p.log.Info().
		Int("files", scan.Stats.Files).
		Int("skipped", scan.Stats.FilesSkipped).
		Int64("lines", scan.Stats.Lines).
		Int64("matched", scan.Stats.Matched).
		Int("repositories", len(scan.LastRead)).
		Int("unclassified", len(scan.Discarded)).
		Msg("Access log scan completed")

	return scan, nil
}

func (p *Pipeline) logIssues(issues []report.Issue) {
	for _, issue := range issues {
		p.log.Warn().
			Str("repository", issue.Repository).
			Str("field", issue.Field).
			Err(issue.Err).
			Msg("Source unavailable, using fallback")
	}
}

func (p *Pipeline) writeUnclassified(scan *accesslog.Result) {
	if p.opts.UnclassifiedOutput == "" {
		return
	}
	if err := report.WriteUnclassified(p.opts.UnclassifiedOutput, scan.DiscardedPaths()); err != nil {
		p.log.Warn().Err(err).Msg("Failed to write unclassified requests")
		return
	}
	p.log.Debug().
		Str("path", p.opts.UnclassifiedOutput).
		Int("paths", len(scan.Discarded)).
		Msg("Unclassified requests written")
}

func (p *Pipeline) record(ctx context.Context, summary report.Summary, records []report.Record) {
	if p.store == nil {
		return
	}

	run := storage.NewRun(summary)
	if err := p.store.SaveRun(ctx, run, records); err != nil {
		p.log.Warn().Err(err).Msg("Failed to save run history")
	} else {
		p.log.Info().Str("id", run.ID).Msg("Run saved to database")
	}

	if p.opts.RetentionDays < 1 {
		return
	}
	deleted, err := p.store.CleanupOldRuns(ctx, p.opts.RetentionDays)
	if err != nil {
		p.log.Warn().Err(err).Msg("Failed to cleanup old runs")
	} else if deleted > 0 {
		p.log.Info().Int64("deleted", deleted).Msg("Old runs cleaned up")
	}
}

func (p *Pipeline) notify(ctx context.Context, summary report.Summary) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.SendRunSummary(ctx, summary, p.opts.ReportPath); err != nil {
		p.log.Warn().Err(err).Msg("Failed to send run summary")
		return
	}
	p.log.Info().Msg("Run summary sent")
}
