package parser

import (
	"strings"
	"time"

	"github.com/teranos/kestrel/errors"
)

// timestampLayouts are the accepted forms of a t'...' literal body.
// Timestamps are always UTC with a trailing Z.
var timestampLayouts = []string{
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.000Z",
	time.RFC3339Nano,
}

// ParseTimestamp parses the body of a t'...' literal into a UTC time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, "Z") {
		return time.Time{}, errors.Newf("timestamp %q must be UTC with a trailing Z", s)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Newf("timestamp %q is not in YYYY-MM-DDTHH:MM:SS[.fff]Z form", s)
}

// FormatTimestamp renders t the way ParseTimestamp reads it, with
// millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
