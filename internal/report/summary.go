package report

import (
	"time"

	"github.com/olegiv/gerrit-repo-stats/internal/accesslog"
)

// Summary describes one completed run for logs, notifications and run history.
type Summary struct {
	StartedAt  time.Time
	FinishedAt time.Time

	Repositories    int
	Read            int
	NeverRead       int
	CreationUnknown int
	CarriedCreation int
	Issues          int
	Removed         []string

	Scan         accesslog.Stats
	FileErrors   int
	Unclassified int
}

// NewSummary tallies a reconciliation outcome and the scan that fed it.
// Either argument may be nil.
func NewSummary(outcome *Outcome, scan *accesslog.Result) Summary {
	var s Summary
	if outcome != nil {
		s.Repositories = len(outcome.Records)
		s.CarriedCreation = outcome.CarriedCreation
		s.Issues = len(outcome.Issues)
		s.Removed = outcome.Removed
		for _, r := range outcome.Records {
			if Known(r.LastRead) {
				s.Read++
			} else {
				s.NeverRead++
			}
			if !Known(r.CreationDate) {
				s.CreationUnknown++
			}
		}
	}
	if scan != nil {
		s.Scan = scan.Stats
		s.FileErrors = len(scan.FileErrors)
		s.Unclassified = len(scan.Discarded)
	}
	return s
}

// Duration is the wall time of the run.
func (s Summary) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.Before(s.StartedAt) {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
