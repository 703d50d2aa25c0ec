package accesslog

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrNoTimestamp is returned when a line carries no bracketed timestamp.
var ErrNoTimestamp = errors.New("no timestamp in line")

// timestampLayout accepts an optional fraction of any precision.
const timestampLayout = "2006-01-02T15:04:05.999999999Z"

// timestampPattern finds "[2024-01-01T12:00:00.123456Z]". The fraction is matched
// loosely so that a malformed one is reported as a parse failure, not as absence.
var timestampPattern = regexp.MustCompile(`\[(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.[^\]Z\s]*)?Z)\]`)

// TimestampError reports a bracketed timestamp that is present but invalid.
type TimestampError struct {
	Value string
	Err   error
}

func (e *TimestampError) Error() string {
	return fmt.Sprintf("parsing timestamp %q: %v", e.Value, e.Err)
}

func (e *TimestampError) Unwrap() error {
	return e.Err
}

// ParseTimestamp extracts the access-log timestamp from a line and returns it in UTC.
// Returns ErrNoTimestamp when the line has none, or a *TimestampError when the
// token is there but cannot be parsed.
func ParseTimestamp(line string) (time.Time, error) {
	matches := timestampPattern.FindStringSubmatch(line)
	if len(matches) < 2 {
		return time.Time{}, ErrNoTimestamp
	}

	ts, err := time.Parse(timestampLayout, matches[1])
	if err != nil {
		return time.Time{}, &TimestampError{Value: matches[1], Err: err}
	}
	return ts.UTC(), nil
}
