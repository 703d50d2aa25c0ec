// Package githistory determines repository creation dates from the bare git
// repositories hosted by Gerrit.
package githistory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/olegiv/gerrit-repo-stats/internal/report"
)

// DefaultRefs are tried in order until one has history.
var DefaultRefs = []string{"master", "main", "refs/meta/config"}

// DefaultTimeout bounds a single git invocation.
const DefaultTimeout = 30 * time.Second

// Runner executes git with the given arguments and returns its stdout.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

// ExecRunner runs the git binary found on PATH.
func ExecRunner(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ExitError{Code: exitErr.ExitCode(), Stderr: strings.TrimSpace(stderr.String())}
		}
		return nil, err
	}
	return out, nil
}

// ExitError is a git invocation that ran but failed.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("git exited with status %d", e.Code)
	}
	return fmt.Sprintf("git exited with status %d: %s", e.Code, e.Stderr)
}

// Reader looks up first-commit dates below a base directory of bare repositories.
type Reader struct {
	basePath string
	refs     []string
	timeout  time.Duration
	run      Runner
}

var _ report.HistorySource = (*Reader)(nil)

// Option configures a Reader.
type Option func(*Reader)

// WithRunner replaces the git runner.
func WithRunner(run Runner) Option {
	return func(r *Reader) {
		r.run = run
	}
}

// WithTimeout bounds each git invocation.
func WithTimeout(d time.Duration) Option {
	return func(r *Reader) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRefs overrides DefaultRefs.
func WithRefs(refs ...string) Option {
	return func(r *Reader) {
		if len(refs) > 0 {
			r.refs = refs
		}
	}
}

// NewReader creates a reader for repositories stored as basePath/<name>.git.
func NewReader(basePath string, opts ...Option) *Reader {
	r := &Reader{
		basePath: basePath,
		refs:     DefaultRefs,
		timeout:  DefaultTimeout,
		run:      ExecRunner,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GitDir returns the bare repository directory of a project.
func (r *Reader) GitDir(repository string) string {
	return filepath.Join(r.basePath, filepath.FromSlash(repository)+".git")
}

// CreationDate returns the author date of the earliest root commit reachable
// from the first ref that has history. A missing repository or one without
// any of the refs yields "" and no error.
func (r *Reader) CreationDate(ctx context.Context, repository string) (string, error) {
	gitDir := r.GitDir(repository)
	if _, err := os.Stat(gitDir); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to stat %s: %w", gitDir, err)
	}

	var lastErr error
	for _, ref := range r.refs {
		date, err := r.rootCommitDate(ctx, gitDir, ref)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			var exitErr *ExitError
			if !errors.As(err, &exitErr) {
				lastErr = err
			}
			continue
		}
		if date != "" {
			return date, nil
		}
	}

	if lastErr != nil {
		return "", fmt.Errorf("failed to read history of %s: %w", repository, lastErr)
	}
	return "", nil
}

// rootCommitDate lists the root commits of ref and returns the earliest
// author date. git exits non-zero when ref does not exist.
func (r *Reader) rootCommitDate(ctx context.Context, gitDir, ref string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.run(ctx, "--git-dir", gitDir, "log", "--max-parents=0", "--format=%aI", ref, "--")
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("git log %s timed out: %w", ref, ctx.Err())
		}
		return "", err
	}
	return earliest(string(out)), nil
}

// earliest picks the oldest ISO-8601 date among lines. Lines that do not
// parse are ignored unless nothing parses, in which case the first is kept.
func earliest(out string) string {
	var (
		best     string
		bestTime time.Time
		fallback string
	)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if fallback == "" {
			fallback = line
		}
		t, err := time.Parse(time.RFC3339, line)
		if err != nil {
			continue
		}
		if best == "" || t.Before(bestTime) {
			best, bestTime = line, t
		}
	}
	if best == "" {
		return fallback
	}
	return best
}
