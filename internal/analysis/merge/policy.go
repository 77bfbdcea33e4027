package merge

import (
	"fmt"
	"strings"

	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

// Policy selects how aligned values are combined at each instant
type Policy int

const (
	// Sum treats the metric as additive; uncovered series contribute 0.
	Sum Policy = iota + 1
	// Average treats the metric as intensive; only covering series count.
	Average
)

// String returns the canonical lowercase name
func (p Policy) String() string {
	switch p {
	case Sum:
		return "sum"
	case Average:
		return "average"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Valid reports whether p is a known policy
func (p Policy) Valid() bool {
	return p == Sum || p == Average
}

// ParsePolicy accepts "sum", "avg", "average" and "mean" in any case
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sum":
		return Sum, nil
	case "avg", "average", "mean":
		return Average, nil
	default:
		return 0, fmt.Errorf("unknown aggregation policy %q: %w", s, timeseries.ErrInvalidArgument)
	}
}

// MarshalText implements encoding.TextMarshaler
func (p Policy) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("cannot marshal %s: %w", p, timeseries.ErrInvalidArgument)
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Policy) UnmarshalText(text []byte) error {
	parsed, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
