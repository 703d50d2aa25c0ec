package report

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/gerrit-repo-stats/internal/accesslog"
)

// fakeSource answers from a map; names in errs fail, names in block wait for
// the context.
type fakeSource struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	block  map[string]bool
	calls  []string
}

func (f *fakeSource) answer(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()

	if f.block[name] {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err := f.errs[name]; err != nil {
		return "", err
	}
	return f.values[name], nil
}

func (f *fakeSource) CreationDate(ctx context.Context, name string) (string, error) {
	return f.answer(ctx, name)
}

func (f *fakeSource) LastUpdate(ctx context.Context, name string) (string, error) {
	return f.answer(ctx, name)
}

var errUnreachable = errors.New("connection refused")

func TestReconcileCarriesCreationDate(t *testing.T) {
	history := &fakeSource{errs: map[string]error{"x": errUnreachable}}
	prior := []Record{{Repository: "x", CreationDate: "2020-01-01"}}

	out, err := NewReconciler(history, nil).Reconcile(context.Background(), []string{"x"}, prior, nil)
	require.NoError(t, err)

	require.Len(t, out.Records, 1)
	assert.Equal(t, "2020-01-01", out.Records[0].CreationDate)
	assert.Empty(t, history.calls, "known creation date must not be recomputed")
	assert.Equal(t, 1, out.CarriedCreation)
	assert.Empty(t, out.Issues)
}

func TestReconcileDoesNotCarryLastRead(t *testing.T) {
	prior := []Record{{Repository: "x", CreationDate: "2020-01-01", LastRead: "2023-05-05T00:00:00Z"}}

	out, err := NewReconciler(nil, nil).Reconcile(context.Background(), []string{"x"}, prior, map[string]time.Time{})
	require.NoError(t, err)

	assert.Equal(t, "", out.Records[0].LastRead)
}

func TestReconcileLastUpdate(t *testing.T) {
	update := &fakeSource{
		values: map[string]string{"fresh": "2024-06-01T00:00:00Z"},
		errs:   map[string]error{"down": errUnreachable},
	}
	prior := []Record{
		{Repository: "fresh", CreationDate: "c", LastUpdate: "2020-01-01T00:00:00Z"},
		{Repository: "down", CreationDate: "c", LastUpdate: "2021-01-01T00:00:00Z"},
		{Repository: "quiet", CreationDate: "c", LastUpdate: "2022-01-01T00:00:00Z"},
	}

	out, err := NewReconciler(nil, update).Reconcile(context.Background(), []string{"fresh", "down", "quiet", "new"}, prior, nil)
	require.NoError(t, err)

	got := map[string]string{}
	for _, r := range out.Records {
		got[r.Repository] = r.LastUpdate
	}
	assert.Equal(t, map[string]string{
		"down":  "2021-01-01T00:00:00Z",
		"fresh": "2024-06-01T00:00:00Z",
		"new":   "",
		"quiet": "2022-01-01T00:00:00Z",
	}, got)

	var updateIssues []string
	for _, is := range out.Issues {
		if is.Field == FieldLastUpdate {
			updateIssues = append(updateIssues, is.Repository)
			assert.ErrorIs(t, is, errUnreachable)
		}
	}
	assert.Equal(t, []string{"down"}, updateIssues)
}

func TestReconcileUnknownCreationIsKeptWithIssue(t *testing.T) {
	history := &fakeSource{
		values: map[string]string{"a": "2019-06-01"},
		errs:   map[string]error{"c": errUnreachable},
	}

	out, err := NewReconciler(history, nil).Reconcile(context.Background(), []string{"a", "b", "c"}, nil, nil)
	require.NoError(t, err)

	require.Len(t, out.Records, 3)
	assert.Equal(t, "2019-06-01", out.Records[0].CreationDate)
	assert.Equal(t, "", out.Records[1].CreationDate)
	assert.Equal(t, "", out.Records[2].CreationDate)

	require.Len(t, out.Issues, 2)
	assert.Equal(t, "b", out.Issues[0].Repository)
	assert.ErrorIs(t, out.Issues[0], ErrUnknown)
	assert.Equal(t, "c", out.Issues[1].Repository)
	assert.ErrorIs(t, out.Issues[1], errUnreachable)
}

func TestReconcileCatalogHandling(t *testing.T) {
	prior := []Record{
		{Repository: "All-Projects", CreationDate: "c"},
		{Repository: "gone", CreationDate: "c"},
		{Repository: "kept", CreationDate: "c"},
	}
	catalog := []string{"zeta", "All-Users", "kept", "All-Projects", "zeta", "alpha"}

	out, err := NewReconciler(nil, nil, WithExcluded("alpha")).Reconcile(context.Background(), catalog, prior, nil)
	require.NoError(t, err)

	var names []string
	for _, r := range out.Records {
		names = append(names, r.Repository)
	}
	assert.Equal(t, []string{"kept", "zeta"}, names)
	assert.Equal(t, []string{"gone"}, out.Removed)
}

func TestReconcileStalledSourceOnlyDegradesOneField(t *testing.T) {
	update := &fakeSource{
		values: map[string]string{"ok": "2024-01-01T00:00:00Z"},
		block:  map[string]bool{"stuck": true},
	}
	lastRead := map[string]time.Time{"stuck": time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)}

	r := NewReconciler(nil, update, WithSourceTimeout(20*time.Millisecond))
	out, err := r.Reconcile(context.Background(), []string{"ok", "stuck"}, nil, lastRead)
	require.NoError(t, err)

	assert.Equal(t, "2024-01-01T00:00:00Z", out.Records[0].LastUpdate)
	assert.Equal(t, "", out.Records[1].LastUpdate)
	assert.Equal(t, "2024-02-02T00:00:00Z", out.Records[1].LastRead)

	var stuck *Issue
	for i := range out.Issues {
		if out.Issues[i].Repository == "stuck" && out.Issues[i].Field == FieldLastUpdate {
			stuck = &out.Issues[i]
		}
	}
	require.NotNil(t, stuck)
	assert.ErrorIs(t, stuck.Err, context.DeadlineExceeded)
}

func TestReconcileCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewReconciler(nil, nil).Reconcile(ctx, []string{"a"}, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEndToEnd(t *testing.T) {
	history := &fakeSource{values: map[string]string{"a": "2019-06-01"}}
	scan := accesslog.NewScanner(1).ScanLines([]string{
		`10.0.0.1 - - [2024-01-01T00:00:00Z] "GET /a/a/info/refs?service=git-upload-pack HTTP/1.1" 200 10 - "git/2.43.0"`,
		`10.0.0.1 - - [2024-01-01T00:00:01Z] "GET /static/logo.png HTTP/1.1" 200 10 - "Mozilla/5.0"`,
	})

	out, err := NewReconciler(history, nil).Reconcile(context.Background(), []string{"a", "b"}, nil, scan.LastRead)
	require.NoError(t, err)

	assert.Equal(t, []Record{
		{Repository: "a", CreationDate: "2019-06-01", LastRead: "2024-01-01T00:00:00Z"},
		{Repository: "b"},
	}, out.Records)

	path := t.TempDir() + "/projects_stats.csv"
	require.NoError(t, SaveCSV(path, out.Records))
	loaded, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, out.Records, loaded)

	summary := NewSummary(out, scan)
	assert.Equal(t, 2, summary.Repositories)
	assert.Equal(t, 1, summary.Read)
	assert.Equal(t, 1, summary.NeverRead)
	assert.Equal(t, 1, summary.CreationUnknown)
	assert.Equal(t, 1, summary.Issues)
	assert.Equal(t, 1, summary.Unclassified)
	assert.EqualValues(t, 2, summary.Scan.Lines)
}

func TestSummaryDuration(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 90*time.Second, Summary{StartedAt: start, FinishedAt: start.Add(90 * time.Second)}.Duration())
	assert.Zero(t, Summary{FinishedAt: start}.Duration())
	assert.Zero(t, NewSummary(nil, nil).Repositories)
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "", FormatTime(time.Time{}))
	assert.Equal(t, "2024-01-01T00:00:00Z", FormatTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-01-01T00:00:00.25Z", FormatTime(time.Date(2024, 1, 1, 1, 0, 0, 250000000, time.FixedZone("CET", 3600))))
}
