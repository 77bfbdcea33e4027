package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aaronlmathis/tsinsight/internal/source"
	"github.com/aaronlmathis/tsinsight/internal/timeseries"
	"github.com/aaronlmathis/tsinsight/internal/timeseries/aggregator"
)

// ingestFile is the input of the ingest command
type ingestFile struct {
	Members map[string][]string `json:"members"`
	Samples []ingestSample      `json:"samples"`
}

type ingestSample struct {
	Entity    string  `json:"entity"`
	Metric    string  `json:"metric"`
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
}

func (a *app) openSQLite(path string) (*source.SQLiteStore, error) {
	cfg := a.cfg.Source.SQLite
	if path != "" {
		cfg.Path = path
	}
	return source.NewSQLiteStore(a.logger, cfg)
}

func newIngestCmd(a *app) *cobra.Command {
	var (
		input  string
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load samples and group membership into a SQLite sample database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var in ingestFile
			if err := readInput(cmd, input, &in); err != nil {
				return err
			}

			type key struct{ entity, metric string }
			grouped := make(map[key][]timeseries.Point)
			var order []key
			for i, s := range in.Samples {
				if s.Entity == "" || s.Metric == "" {
					return fmt.Errorf("%w: sample %d needs an entity and a metric", timeseries.ErrInvalidArgument, i)
				}
				t, err := timeseries.ParseTimestamp(s.Timestamp)
				if err != nil {
					return fmt.Errorf("sample %d: %w", i, err)
				}
				k := key{s.Entity, s.Metric}
				if _, ok := grouped[k]; !ok {
					order = append(order, k)
				}
				grouped[k] = append(grouped[k], timeseries.NewPoint(t, s.Value))
			}

			store, err := a.openSQLite(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			for _, k := range order {
				if err := store.Append(ctx, k.entity, k.metric, grouped[k]...); err != nil {
					return err
				}
			}
			for parent, children := range in.Members {
				if err := store.SetMembers(ctx, parent, children); err != nil {
					return err
				}
			}

			a.logger.Info("Ingested samples",
				zap.Int("samples", len(in.Samples)),
				zap.Int("series", len(order)),
				zap.Int("groups", len(in.Members)))
			return a.writeOutput(cmd, map[string]int{
				"samples": len(in.Samples),
				"series":  len(order),
				"groups":  len(in.Members),
			})
		},
	}

	cmd.Flags().StringVarP(&input, "file", "f", "-", "input JSON file (- for stdin)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (default from configuration)")
	return cmd
}

func newGroupCmd(a *app) *cobra.Command {
	var (
		dbPath   string
		entity   string
		metric   string
		override string
	)

	cmd := &cobra.Command{
		Use:   "group",
		Short: "Aggregate a group's member series from a SQLite sample database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openSQLite(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			agg := aggregator.NewAggregator(a.logger, store, a.cfg.PolicyTable(), a.cfg.Aggregator)

			options := map[string]string{}
			if override != "" {
				options[agg.Table().OverrideKey] = override
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			result, err := agg.AggregateGroup(ctx, entity, metric, options)
			if err != nil {
				return err
			}
			return a.writeOutput(cmd, result)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (default from configuration)")
	cmd.Flags().StringVar(&entity, "entity", "", "group entity")
	cmd.Flags().StringVar(&metric, "metric", "", "metric name")
	cmd.Flags().StringVar(&override, "override", "", "policy override (sum, avg, average, mean)")
	_ = cmd.MarkFlagRequired("entity")
	_ = cmd.MarkFlagRequired("metric")
	return cmd
}
