package githistory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGit answers git log by ref; refs missing from the map exit with 128.
type fakeGit struct {
	byRef map[string]string
	err   error
	calls [][]string
}

func (f *fakeGit) run(ctx context.Context, args ...string) ([]byte, error) {
	f.calls = append(f.calls, args)
	if f.err != nil {
		return nil, f.err
	}
	ref := args[len(args)-2]
	out, ok := f.byRef[ref]
	if !ok {
		return nil, &ExitError{Code: 128, Stderr: "fatal: ambiguous argument '" + ref + "'"}
	}
	return []byte(out), nil
}

func newRepo(t *testing.T, name string) string {
	t.Helper()
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, filepath.FromSlash(name)+".git"), 0o755))
	return base
}

func TestCreationDate(t *testing.T) {
	tests := []struct {
		name  string
		byRef map[string]string
		want  string
	}{
		{
			name:  "master",
			byRef: map[string]string{"master": "2019-06-01T10:00:00+02:00\n"},
			want:  "2019-06-01T10:00:00+02:00",
		},
		{
			name:  "falls back to main",
			byRef: map[string]string{"main": "2021-03-04T05:06:07Z\n"},
			want:  "2021-03-04T05:06:07Z",
		},
		{
			name:  "falls back to meta config",
			byRef: map[string]string{"refs/meta/config": "2018-01-01T00:00:00Z\n"},
			want:  "2018-01-01T00:00:00Z",
		},
		{
			name:  "empty master output tries next ref",
			byRef: map[string]string{"master": "", "main": "2022-01-01T00:00:00Z\n"},
			want:  "2022-01-01T00:00:00Z",
		},
		{
			name:  "several roots keep the earliest",
			byRef: map[string]string{"master": "2020-05-05T00:00:00Z\n2019-12-31T23:00:00-02:00\n2020-01-01T00:00:00Z\n"},
			want:  "2020-01-01T00:00:00Z",
		},
		{
			name:  "no history",
			byRef: map[string]string{},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := newRepo(t, "platform/core")
			git := &fakeGit{byRef: tt.byRef}

			got, err := NewReader(base, WithRunner(git.run)).CreationDate(context.Background(), "platform/core")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreationDateInvocation(t *testing.T) {
	base := newRepo(t, "platform/core")
	git := &fakeGit{byRef: map[string]string{"master": "2019-06-01T10:00:00Z\n"}}

	_, err := NewReader(base, WithRunner(git.run)).CreationDate(context.Background(), "platform/core")
	require.NoError(t, err)

	require.Len(t, git.calls, 1)
	assert.Equal(t, []string{
		"--git-dir", filepath.Join(base, "platform", "core.git"),
		"log", "--max-parents=0", "--format=%aI", "master", "--",
	}, git.calls[0])
}

func TestCreationDateMissingRepository(t *testing.T) {
	git := &fakeGit{}

	got, err := NewReader(t.TempDir(), WithRunner(git.run)).CreationDate(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, "", got)
	assert.Empty(t, git.calls)
}

func TestCreationDateRunnerFailure(t *testing.T) {
	base := newRepo(t, "core")
	git := &fakeGit{err: errors.New(`exec: "git": executable file not found in $PATH`)}

	_, err := NewReader(base, WithRunner(git.run)).CreationDate(context.Background(), "core")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executable file not found")
}

func TestCreationDateTimeout(t *testing.T) {
	base := newRepo(t, "core")
	slow := func(ctx context.Context, args ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	r := NewReader(base, WithRunner(slow), WithTimeout(10*time.Millisecond), WithRefs("master"))
	_, err := r.CreationDate(context.Background(), "core")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEarliest(t *testing.T) {
	assert.Equal(t, "", earliest(""))
	assert.Equal(t, "not-a-date", earliest("not-a-date\n"))
	assert.Equal(t, "2001-01-01T00:00:00Z", earliest("junk\n2001-01-01T00:00:00Z\n"))
}

func TestExitError(t *testing.T) {
	assert.Equal(t, "git exited with status 128", (&ExitError{Code: 128}).Error())
	assert.Equal(t, "git exited with status 1: fatal: bad", (&ExitError{Code: 1, Stderr: "fatal: bad"}).Error())
}
