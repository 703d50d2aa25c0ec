package accesslog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the number of log files scanned concurrently.
const DefaultWorkers = 4

// Stats counts what a scan looked at.
type Stats struct {
	Files         int
	FilesSkipped  int
	Bytes         int64
	Lines         int64
	Matched       int64
	Discarded     int64
	BadTimestamps int64
	LongLines     int64
}

func (s *Stats) add(o Stats) {
	s.Files += o.Files
	s.FilesSkipped += o.FilesSkipped
	s.Bytes += o.Bytes
	s.Lines += o.Lines
	s.Matched += o.Matched
	s.Discarded += o.Discarded
	s.BadTimestamps += o.BadTimestamps
	s.LongLines += o.LongLines
}

// FileError records a log file that could not be read completely.
// Partial is true when some lines were read before the failure.
type FileError struct {
	Path    string
	Partial bool
	Err     error
}

func (e FileError) Error() string {
	return e.Path + ": " + e.Err.Error()
}

func (e FileError) Unwrap() error {
	return e.Err
}

// Result is the outcome of scanning a set of access logs.
type Result struct {
	// LastRead holds, per repository, the latest read observed in any file.
	LastRead map[string]time.Time
	// Discarded holds request paths that had a timestamp but named no repository.
	Discarded  map[string]struct{}
	Stats      Stats
	FileErrors []FileError
}

// NewResult returns an empty result ready to be folded into.
func NewResult() *Result {
	return &Result{
		LastRead:  make(map[string]time.Time),
		Discarded: make(map[string]struct{}),
	}
}

// Observe folds one read observation, keeping the later timestamp.
func (r *Result) Observe(repository string, ts time.Time) {
	if prev, ok := r.LastRead[repository]; !ok || ts.After(prev) {
		r.LastRead[repository] = ts
	}
}

// Merge folds another result into r. Merge is commutative and associative, so
// partial results may be combined in any order.
func (r *Result) Merge(o *Result) {
	for repo, ts := range o.LastRead {
		r.Observe(repo, ts)
	}
	for path := range o.Discarded {
		r.Discarded[path] = struct{}{}
	}
	r.Stats.add(o.Stats)
	r.FileErrors = append(r.FileErrors, o.FileErrors...)
}

// DiscardedPaths returns the discarded paths in sorted order.
func (r *Result) DiscardedPaths() []string {
	paths := make([]string, 0, len(r.Discarded))
	for p := range r.Discarded {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Scanner folds access-log lines into per-repository last-read times.
type Scanner struct {
	workers int
}

// NewScanner creates a scanner that reads up to workers files at a time.
func NewScanner(workers int) *Scanner {
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Scanner{workers: workers}
}

// Scan reads every file and returns the folded result. Unreadable files are
// reported in Result.FileErrors; only context cancellation fails the scan.
func (s *Scanner) Scan(ctx context.Context, files []LogFile) (*Result, error) {
	partials := make([]*Result, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, file := range files {
		g.Go(func() error {
			partial, err := scanFile(gctx, file)
			if err != nil {
				return err
			}
			partials[i] = partial
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := NewResult()
	for _, p := range partials {
		result.Merge(p)
	}
	sort.Slice(result.FileErrors, func(i, j int) bool {
		return result.FileErrors[i].Path < result.FileErrors[j].Path
	})
	return result, nil
}

// ScanLines folds lines already held in memory.
func (s *Scanner) ScanLines(lines []string) *Result {
	result := NewResult()
	for _, line := range lines {
		result.foldLine(line)
	}
	return result
}

// ScanReader folds the lines of r as they are read, e.g. a log piped on stdin.
// Overlong lines are counted and skipped; other read errors fail the scan.
func (s *Scanner) ScanReader(r io.Reader) (*Result, error) {
	result := NewResult()
	for line, err := range ReadLines(r) {
		if errors.Is(err, ErrLineTooLong) {
			result.foldLongLine()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read access log: %w", err)
		}
		result.foldLine(line)
	}
	return result, nil
}

// ctxCheckInterval is how many lines are read between cancellation checks.
const ctxCheckInterval = 4096

func scanFile(ctx context.Context, file LogFile) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := NewResult()
	result.Stats.Files = 1
	result.Stats.Bytes = file.Size

	var lines int64
	for line, err := range Lines(file) {
		if errors.Is(err, ErrLineTooLong) {
			lines++
			result.foldLongLine()
			continue
		}
		if err != nil {
			result.FileErrors = append(result.FileErrors, FileError{
				Path:    file.Path,
				Partial: lines > 0,
				Err:     err,
			})
			if lines == 0 {
				result.Stats.FilesSkipped = 1
			}
			break
		}

		lines++
		if lines%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		result.foldLine(line)
	}

	return result, nil
}

// foldLongLine counts a line that was too long to read.
func (r *Result) foldLongLine() {
	r.Stats.Lines++
	r.Stats.LongLines++
}

// foldLine runs one line through timestamp parsing and classification.
func (r *Result) foldLine(line string) {
	r.Stats.Lines++

	ts, err := ParseTimestamp(line)
	if err != nil {
		var tsErr *TimestampError
		if errors.As(err, &tsErr) {
			r.Stats.BadTimestamps++
		}
		return
	}

	c := Classify(line)
	switch c.Kind {
	case Matched:
		r.Stats.Matched++
		r.Observe(c.Repository, ts)
	case Discarded:
		r.Stats.Discarded++
		r.Discarded[c.Path] = struct{}{}
	}
}
