package report

import "context"

// CatalogSource lists the repositories currently hosted on the server.
// Implementations handle transport and authentication.
type CatalogSource interface {
	// ListProjects returns every repository name known to the server.
	ListProjects(ctx context.Context) ([]string, error)
}

// HistorySource determines when a repository was created.
type HistorySource interface {
	// CreationDate returns the ISO-8601 date of the repository's first commit.
	// An empty string with a nil error means the date is unknown.
	CreationDate(ctx context.Context, repository string) (string, error)
}

// UpdateSource reports the most recent change recorded for a repository.
type UpdateSource interface {
	// LastUpdate returns the ISO-8601 timestamp of the latest change.
	// An empty string with a nil error means there is no recorded change.
	LastUpdate(ctx context.Context, repository string) (string, error)
}
