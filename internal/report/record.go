// Package report reconciles repository catalog data, git history and
// access-log activity into the persisted per-repository report.
package report

import (
	"strings"
	"time"
)

// Unknown is the serialized form of a value that could not be determined.
const Unknown = "N/A"

// Record is one row of the report. An empty field means the value is unknown.
type Record struct {
	Repository   string
	CreationDate string
	LastUpdate   string
	LastRead     string
}

// Known reports whether a field value carries information.
func Known(v string) bool {
	return v != ""
}

// FormatTime renders a timestamp the way the report stores it.
// The zero time renders as unknown.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// encodeCell renders a field for persistence.
func encodeCell(v string) string {
	if v == "" {
		return Unknown
	}
	return v
}

// decodeCell reads a persisted field; every unknown marker decodes to "".
func decodeCell(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, Unknown) || strings.EqualFold(v, "unknown") {
		return ""
	}
	return v
}

// index maps records by repository name.
func index(records []Record) map[string]Record {
	m := make(map[string]Record, len(records))
	for _, r := range records {
		m[r.Repository] = r
	}
	return m
}
