// Package gerrit reads the project catalog and change activity from the
// Gerrit REST API.
package gerrit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	internalerrors "github.com/olegiv/gerrit-repo-stats/internal/errors"
	"github.com/olegiv/gerrit-repo-stats/internal/report"
)

// updatedLayout is how Gerrit renders change timestamps (always UTC).
const updatedLayout = "2006-01-02 15:04:05.999999999"

// Config holds connection settings for one Gerrit server.
type Config struct {
	BaseURL        string
	Username       string
	Password       string
	ProxyURL       string
	TimeoutSeconds int
	// RateLimit is the maximum number of requests per second; 0 disables it.
	RateLimit float64
}

// Client is an authenticated Gerrit REST client.
type Client struct {
	baseURL     string
	username    string
	password    string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	backoffBase time.Duration
}

var (
	_ report.CatalogSource = (*Client)(nil)
	_ report.UpdateSource  = (*Client)(nil)
)

// Option configures Client behavior.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBackoff sets the first retry delay; later retries double it.
func WithBackoff(base time.Duration) Option {
	return func(c *Client) {
		c.backoffBase = base
	}
}

// WithMaxRetries sets how often 429 and 5xx responses are retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// NewClient creates a client for cfg.BaseURL.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, internalerrors.Wrapf(err, "invalid Gerrit URL")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("gerrit URL must use http or https scheme, got: %s", base.Scheme)
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, internalerrors.Wrapf(err, "invalid proxy URL")
		}
		if proxyURL.Scheme != "http" && proxyURL.Scheme != "https" {
			return nil, fmt.Errorf("proxy URL must use http or https scheme, got: %s", proxyURL.Scheme)
		}
		httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		username:    cfg.Username,
		password:    cfg.Password,
		httpClient:  httpClient,
		limiter:     limiter,
		maxRetries:  defaultMaxRetries,
		backoffBase: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListProjects returns the names of all projects visible to the user, sorted.
func (c *Client) ListProjects(ctx context.Context) ([]string, error) {
	var projects map[string]struct{}
	if err := c.getJSON(ctx, "/a/projects/", nil, &projects); err != nil {
		return nil, internalerrors.Wrapf(err, "failed to list projects")
	}

	names := make([]string, 0, len(projects))
	for name := range projects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// quoteEscaper escapes the characters that are special inside a quoted
// query operand.
var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// projectQuery returns a change query matching exactly project.
func projectQuery(project string) string {
	return `project:"` + quoteEscaper.Replace(project) + `"`
}

type changeInfo struct {
	Updated string `json:"updated"`
}

// LastUpdate returns the update time of the most recently updated change of
// a project, in RFC 3339 UTC. A project without changes yields "".
func (c *Client) LastUpdate(ctx context.Context, project string) (string, error) {
	query := url.Values{
		"q": {projectQuery(project)},
		"n": {"1"},
	}

	var changes []changeInfo
	if err := c.getJSON(ctx, "/a/changes/", query, &changes); err != nil {
		return "", internalerrors.Wrapf(err, "failed to query changes of %s", project)
	}
	if len(changes) == 0 || changes[0].Updated == "" {
		return "", nil
	}

	updated, err := time.ParseInLocation(updatedLayout, changes[0].Updated, time.UTC)
	if err != nil {
		return "", fmt.Errorf("unexpected change timestamp %q: %w", changes[0].Updated, err)
	}
	return updated.UTC().Format(time.RFC3339Nano), nil
}
