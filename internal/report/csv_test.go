package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats", "projects_stats.csv")
	records := []Record{
		{Repository: "platform/core", CreationDate: "2019-06-01T10:00:00+02:00", LastUpdate: "2024-02-01T08:00:00Z", LastRead: "2024-03-01T00:00:00.5Z"},
		{Repository: "tools, misc", CreationDate: "2020-01-01T00:00:00Z"},
	}

	require.NoError(t, SaveCSV(path, records))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"Repository,Creation Date,Last Update Date,Last Read Date\n"+
			"platform/core,2019-06-01T10:00:00+02:00,2024-02-01T08:00:00Z,2024-03-01T00:00:00.5Z\n"+
			"\"tools, misc\",2020-01-01T00:00:00Z,N/A,N/A\n",
		string(raw))

	loaded, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, records, loaded)
}

func TestSaveCSVLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.csv")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	require.NoError(t, SaveCSV(path, []Record{{Repository: "a"}}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "report.csv", entries[0].Name())
}

func TestLoadCSVMissingFile(t *testing.T) {
	records, err := LoadCSV(filepath.Join(t.TempDir(), "absent.csv"))
	require.NoError(t, err)
	assert.Nil(t, records)
}

func TestReadCSV(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Record
		wantErr string
	}{
		{
			name:  "unknown markers",
			input: "Repository,Creation Date,Last Update Date,Last Read Date\nx,unknown,N/A,\ny,Unknown,n/a,N/A\n",
			want:  []Record{{Repository: "x"}, {Repository: "y"}},
		},
		{
			name:  "legacy two columns",
			input: "Repository,Creation Date\nx,2020-01-01T00:00:00Z\ny,N/A\n",
			want: []Record{
				{Repository: "x", CreationDate: "2020-01-01T00:00:00Z"},
				{Repository: "y"},
			},
		},
		{
			name:  "byte order mark",
			input: "\ufeffRepository,Creation Date,Last Update Date,Last Read Date\nx,N/A,N/A,N/A\n",
			want:  []Record{{Repository: "x"}},
		},
		{
			name:  "blank repository skipped",
			input: "Repository,Creation Date,Last Update Date,Last Read Date\n,N/A,N/A,N/A\nx,N/A,N/A,N/A\n",
			want:  []Record{{Repository: "x"}},
		},
		{
			name:  "header only",
			input: "Repository,Creation Date,Last Update Date,Last Read Date\n",
		},
		{
			name: "empty file",
		},
		{
			name:    "wrong header",
			input:   "Name,Created,Updated,Read\nx,N/A,N/A,N/A\n",
			wantErr: "unexpected report column 1",
		},
		{
			name:    "ragged row",
			input:   "Repository,Creation Date,Last Update Date,Last Read Date\nx,N/A\n",
			wantErr: "expected 4 columns",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readCSV(strings.NewReader(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteUnclassified(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unclassified_requests.txt")

	require.NoError(t, WriteUnclassified(path, []string{"/static/logo.png", "/favicon.ico", "/static/logo.png"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/favicon.ico\n/static/logo.png\n", string(raw))
}

func TestWriteUnclassifiedDisabled(t *testing.T) {
	assert.NoError(t, WriteUnclassified("", []string{"/x"}))
}
