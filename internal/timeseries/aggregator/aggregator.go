// Package aggregator combines the per-member series of a group entity into a
// single series, choosing Sum or Average from the metric's semantics.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aaronlmathis/tsinsight/internal/analysis/merge"
	"github.com/aaronlmathis/tsinsight/internal/metrics"
	"github.com/aaronlmathis/tsinsight/internal/source"
	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

// Config holds configuration for the aggregator
type Config struct {
	// MaxConcurrentFetches bounds the member series read in parallel
	MaxConcurrentFetches int `yaml:"max_concurrent_fetches"`
	// FetchTimeout bounds each member read; zero means no per-member deadline
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// DefaultConfig returns the default aggregator configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrentFetches: 8,
		FetchTimeout:         10 * time.Second,
	}
}

// Result is the outcome of one group aggregation. Exactly one of Aggregated
// and Members is set: Aggregated when a policy applied, Members (one entry per
// member with data) for pass-through metrics.
type Result struct {
	Entity      string                  `json:"entity"`
	Metric      string                  `json:"metric"`
	Policy      merge.Policy            `json:"policy,omitempty"`
	PassThrough bool                    `json:"passThrough"`
	Aggregated  *merge.Result           `json:"aggregated,omitempty"`
	Members     map[string]merge.Result `json:"members,omitempty"`
	// Missing lists members that had no series for the metric
	Missing []string `json:"missing,omitempty"`
}

// Aggregator resolves group members through a Source and merges their series
type Aggregator struct {
	logger *zap.Logger
	source source.Source
	table  PolicyTable
	config Config
}

// NewAggregator creates a new group aggregator
func NewAggregator(logger *zap.Logger, src source.Source, table PolicyTable, config Config) *Aggregator {
	if config.MaxConcurrentFetches <= 0 {
		config.MaxConcurrentFetches = DefaultConfig().MaxConcurrentFetches
	}
	if table.OverrideKey == "" {
		table.OverrideKey = DefaultOverrideKey
	}
	return &Aggregator{
		logger: logger,
		source: src,
		table:  table,
		config: config,
	}
}

// Table returns the policy table in use
func (a *Aggregator) Table() PolicyTable {
	return a.table
}

// AggregateGroup combines metric across the members of entity. options may
// carry the table's override key to force a policy.
func (a *Aggregator) AggregateGroup(ctx context.Context, entity, metric string, options map[string]string) (Result, error) {
	if entity == "" || metric == "" {
		return Result{}, fmt.Errorf("entity and metric are required: %w", timeseries.ErrInvalidArgument)
	}

	policy, ok, err := a.table.Resolve(metric, options)
	if err != nil {
		return Result{}, err
	}

	members, err := a.source.Members(ctx, entity)
	if err != nil {
		return Result{}, fmt.Errorf("failed to resolve members of %s: %w", entity, err)
	}

	series, missing, err := a.fetchMembers(ctx, members, metric)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Entity:  entity,
		Metric:  metric,
		Missing: missing,
	}

	policyLabel := "passthrough"
	if ok {
		aggregated := merge.Aggregate(series, metric, policy)
		result.Policy = policy
		result.Aggregated = &aggregated
		policyLabel = policy.String()
	} else {
		result.PassThrough = true
		result.Members = make(map[string]merge.Result, len(series))
		for _, s := range series {
			result.Members[s.Name] = merge.FromSeries(s, metric)
		}
	}

	metrics.RecordGroupAggregation(metric, policyLabel, len(series))
	a.logger.Debug("Aggregated group",
		zap.String("entity", entity),
		zap.String("metric", metric),
		zap.String("policy", policyLabel),
		zap.Int("members", len(members)),
		zap.Int("missing", len(missing)))

	return result, nil
}

// fetchMembers reads every member's series concurrently. Members without the
// metric are reported in missing; any other failure aborts the whole call.
// Series keep the member order.
func (a *Aggregator) fetchMembers(ctx context.Context, members []string, metric string) ([]timeseries.Series, []string, error) {
	fetched := make([]timeseries.Series, len(members))
	found := make([]bool, len(members))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.MaxConcurrentFetches)

	for i, member := range members {
		g.Go(func() error {
			fctx := gctx
			if a.config.FetchTimeout > 0 {
				var cancel context.CancelFunc
				fctx, cancel = context.WithTimeout(gctx, a.config.FetchTimeout)
				defer cancel()
			}

			s, err := a.source.Series(fctx, member, metric)
			if errors.Is(err, source.ErrNotFound) {
				a.logger.Debug("Member has no series",
					zap.String("member", member),
					zap.String("metric", metric))
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to fetch %s for member %s: %w", metric, member, err)
			}

			s.Name = member
			fetched[i] = s
			found[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	series := make([]timeseries.Series, 0, len(members))
	var missing []string
	for i, member := range members {
		if !found[i] {
			missing = append(missing, member)
			continue
		}
		series = append(series, fetched[i])
	}
	return series, missing, nil
}
