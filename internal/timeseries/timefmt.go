package timeseries

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the zone-aware ISO-8601 layout used for every timestamp
// string consumed or produced by the analysis engines.
const TimestampLayout = time.RFC3339Nano

// FormatTimestamp renders t in its own zone offset.
// Changepoint and outlier results use this form.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// FormatInstant renders t as a UTC instant ("...Z").
// Aggregated series use this form.
func FormatInstant(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses an RFC 3339 timestamp with optional fractional seconds.
// A trailing bracketed zone id ("2024-01-02T03:04:05+01:00[Europe/Paris]") is
// accepted; when the zone is known to the runtime the result carries that
// location, the instant is always taken from the offset.
func ParseTimestamp(s string) (time.Time, error) {
	raw := strings.TrimSpace(s)
	zone := ""
	if i := strings.IndexByte(raw, '['); i > 0 && strings.HasSuffix(raw, "]") {
		zone = raw[i+1 : len(raw)-1]
		raw = raw[:i]
	}

	t, err := time.Parse(TimestampLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", ErrInvalidArgument, s)
	}

	if zone != "" {
		if loc, err := time.LoadLocation(zone); err == nil {
			t = t.In(loc)
		}
	}
	return t, nil
}

// ParseTimestamps parses every entry of raw, failing on the first bad one
func ParseTimestamps(raw []string) ([]time.Time, error) {
	out := make([]time.Time, len(raw))
	for i, s := range raw {
		t, err := ParseTimestamp(s)
		if err != nil {
			return nil, fmt.Errorf("timestamp %d: %w", i, err)
		}
		out[i] = t
	}
	return out, nil
}

// FormatTimestamps renders ts with FormatTimestamp
func FormatTimestamps(ts []time.Time) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = FormatTimestamp(t)
	}
	return out
}
