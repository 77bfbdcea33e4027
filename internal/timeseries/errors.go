package timeseries

import "errors"

var (
	// ErrInvalidArgument marks a call rejected because of malformed input or
	// out-of-range parameters. The caller must correct the input; retrying
	// the same call cannot succeed.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned by series sources for an unknown entity or metric.
	ErrNotFound = errors.New("not found")
)
