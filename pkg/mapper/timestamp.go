package mapper

import (
	"fmt"
	"regexp"
	"time"
)

const secondsLayout = "2006-01-02T15:04:05"

// RFC3339 in UTC with an optional fractional part of up to nanosecond precision.
var timestampPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2})(\.\d{1,9})?Z$`)

// ParseTimestamp parses a block time such as "2023-04-05T12:00:00.123456Z"
// into epoch seconds. The fractional part is discarded. Zone offsets other
// than Z and any other deviation from the layout are rejected with ErrParse.
func ParseTimestamp(s string) (int64, error) {
	m := timestampPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: timestamp %q", ErrParse, s)
	}
	t, err := time.ParseInLocation(secondsLayout, m[1], time.UTC)
	if err != nil {
		return 0, fmt.Errorf("%w: timestamp %q: %w", ErrParse, s, err)
	}
	return t.Unix(), nil
}
