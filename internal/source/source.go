// Package source provides the capabilities the group aggregator reads through:
// resolving an entity to its members and fetching one metric series for an
// entity. Implementations are backed by memory, SQLite, Prometheus and the
// Kubernetes API.
package source

import (
	"context"

	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

// ErrNotFound is returned for an unknown entity, group or metric
var ErrNotFound = timeseries.ErrNotFound

// MembershipResolver discovers the members of a group entity
type MembershipResolver interface {
	Members(ctx context.Context, entity string) ([]string, error)
}

// SeriesReader returns the series of one metric for one entity
type SeriesReader interface {
	Series(ctx context.Context, entity, metric string) (timeseries.Series, error)
}

// Source combines membership discovery with series reads
type Source interface {
	MembershipResolver
	SeriesReader
}

var (
	_ Source             = (*timeseries.MemStore)(nil)
	_ Source             = (*SQLiteStore)(nil)
	_ SeriesReader       = (*PrometheusReader)(nil)
	_ MembershipResolver = (*KubeMembership)(nil)
)

type composite struct {
	MembershipResolver
	SeriesReader
}

// Compose joins a membership resolver and a series reader into a Source
func Compose(members MembershipResolver, reader SeriesReader) Source {
	return composite{MembershipResolver: members, SeriesReader: reader}
}
