package report

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"
)

// ExcludedRepositories are administrative repositories that never appear in
// the report.
var ExcludedRepositories = []string{"All-Projects", "All-Users"}

// DefaultSourceTimeout bounds each History or Update source call.
const DefaultSourceTimeout = 30 * time.Second

// ErrUnknown is recorded when a source answered but had no value.
var ErrUnknown = errors.New("value unknown")

// Field names used in issues.
const (
	FieldCreationDate = "creation_date"
	FieldLastUpdate   = "last_update"
)

// Issue is a field that could not be refreshed for one repository.
// The affected record is still emitted, with a carried or unknown value.
type Issue struct {
	Repository string
	Field      string
	Err        error
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s: %s: %v", i.Repository, i.Field, i.Err)
}

func (i Issue) Unwrap() error {
	return i.Err
}

// Outcome is the result of one reconciliation.
type Outcome struct {
	// Records is the new report, sorted by repository name.
	Records []Record
	Issues  []Issue
	// Removed lists prior repositories no longer in the catalog.
	Removed []string
	// CarriedCreation counts creation dates reused from the prior report.
	CarriedCreation int
}

// Reconciler merges the catalog, the prior report and scanned read activity.
type Reconciler struct {
	history       HistorySource
	update        UpdateSource
	sourceTimeout time.Duration
	excluded      map[string]struct{}
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithSourceTimeout overrides DefaultSourceTimeout.
func WithSourceTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.sourceTimeout = d
		}
	}
}

// WithExcluded adds repository names to leave out of the report.
func WithExcluded(names ...string) Option {
	return func(r *Reconciler) {
		for _, n := range names {
			r.excluded[n] = struct{}{}
		}
	}
}

// NewReconciler creates a reconciler. Either source may be nil, in which case
// the corresponding field is only ever carried from the prior report.
func NewReconciler(history HistorySource, update UpdateSource, opts ...Option) *Reconciler {
	r := &Reconciler{
		history:       history,
		update:        update,
		sourceTimeout: DefaultSourceTimeout,
		excluded:      make(map[string]struct{}, len(ExcludedRepositories)),
	}
	for _, n := range ExcludedRepositories {
		r.excluded[n] = struct{}{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile builds the new report. prior may be nil. Source failures are
// returned as issues; only context cancellation aborts the run.
func (r *Reconciler) Reconcile(ctx context.Context, catalog []string, prior []Record, lastRead map[string]time.Time) (*Outcome, error) {
	previous := index(prior)
	names := r.names(catalog)
	out := &Outcome{Records: make([]Record, 0, len(names))}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		old := previous[name]
		rec := Record{Repository: name}

		if Known(old.CreationDate) {
			rec.CreationDate = old.CreationDate
			out.CarriedCreation++
		} else {
			created, err := r.creationDate(ctx, name)
			if err != nil {
				out.Issues = append(out.Issues, Issue{Repository: name, Field: FieldCreationDate, Err: err})
			}
			rec.CreationDate = created
		}

		updated, err := r.lastUpdate(ctx, name)
		switch {
		case err == nil:
			rec.LastUpdate = updated
		case errors.Is(err, ErrUnknown) || errors.Is(err, errNoSource):
			rec.LastUpdate = old.LastUpdate
		default:
			out.Issues = append(out.Issues, Issue{Repository: name, Field: FieldLastUpdate, Err: err})
			rec.LastUpdate = old.LastUpdate
		}

		if ts, ok := lastRead[name]; ok {
			rec.LastRead = FormatTime(ts)
		}

		out.Records = append(out.Records, rec)
	}

	out.Removed = r.removed(prior, names)
	return out, nil
}

var errNoSource = errors.New("no source configured")

func (r *Reconciler) creationDate(ctx context.Context, name string) (string, error) {
	if r.history == nil {
		return "", errNoSource
	}
	return r.bounded(ctx, func(ctx context.Context) (string, error) {
		return r.history.CreationDate(ctx, name)
	})
}

func (r *Reconciler) lastUpdate(ctx context.Context, name string) (string, error) {
	if r.update == nil {
		return "", errNoSource
	}
	return r.bounded(ctx, func(ctx context.Context) (string, error) {
		return r.update.LastUpdate(ctx, name)
	})
}

// bounded runs one source call under the per-call timeout. An empty answer
// is reported as ErrUnknown.
func (r *Reconciler) bounded(ctx context.Context, call func(context.Context) (string, error)) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.sourceTimeout)
	defer cancel()

	v, err := call(callCtx)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", ErrUnknown
	}
	return v, nil
}

// names returns the catalog without excluded or duplicate entries, sorted.
func (r *Reconciler) names(catalog []string) []string {
	seen := make(map[string]struct{}, len(catalog))
	names := make([]string, 0, len(catalog))
	for _, n := range catalog {
		if n == "" {
			continue
		}
		if _, skip := r.excluded[n]; skip {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// removed lists prior repositories missing from names, which must be sorted.
func (r *Reconciler) removed(prior []Record, names []string) []string {
	var gone []string
	for _, rec := range prior {
		if _, skip := r.excluded[rec.Repository]; skip {
			continue
		}
		if _, found := slices.BinarySearch(names, rec.Repository); !found {
			gone = append(gone, rec.Repository)
		}
	}
	sort.Strings(gone)
	return slices.Compact(gone)
}
