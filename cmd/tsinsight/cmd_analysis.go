package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aaronlmathis/tsinsight/internal/analysis/changepoint"
	"github.com/aaronlmathis/tsinsight/internal/analysis/merge"
	"github.com/aaronlmathis/tsinsight/internal/analysis/outlier"
	"github.com/aaronlmathis/tsinsight/internal/api"
	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

func newChangepointsCmd(a *app) *cobra.Command {
	var (
		input   string
		penalty float64
	)

	cmd := &cobra.Command{
		Use:   "changepoints",
		Short: "Segment every property of a batch and print segment start timestamps",
		Long: `Reads {"timestamps": [...], "values": {"name": [...]}} and prints the
changepoint timestamps of each property. The default penalty is ln(n).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req api.ChangepointRequest
			if err := readInput(cmd, input, &req); err != nil {
				return err
			}

			cfg := a.cfg.ChangepointConfig()
			if cmd.Flags().Changed("penalty") {
				cfg = cfg.WithPenalty(penalty)
			} else if req.Penalty != nil {
				cfg = cfg.WithPenalty(*req.Penalty)
			}

			batch, err := timeseries.ParseBatch(req.Timestamps, req.Values)
			if err != nil {
				return err
			}
			set, err := changepoint.Detect(batch, cfg)
			if err != nil {
				return err
			}

			a.logger.Debug("Segmented batch", zap.Int("samples", batch.Len()), zap.Int("properties", len(set)))
			return a.writeOutput(cmd, set)
		},
	}

	cmd.Flags().StringVarP(&input, "file", "f", "-", "input JSON file (- for stdin)")
	cmd.Flags().Float64Var(&penalty, "penalty", 0, "fixed penalty per segment")
	return cmd
}

func newOutliersCmd(a *app) *cobra.Command {
	var (
		input     string
		window    int
		threshold float64
	)

	cmd := &cobra.Command{
		Use:   "outliers",
		Short: "Score every property against a sliding-window trend and print outlier timestamps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req api.OutlierRequest
			if err := readInput(cmd, input, &req); err != nil {
				return err
			}

			cfg := a.cfg.OutlierConfig()
			if req.WindowSize != nil {
				cfg.WindowSize = *req.WindowSize
			}
			if req.ResidualThreshold != nil {
				cfg.ResidualThreshold = *req.ResidualThreshold
			}
			if cmd.Flags().Changed("window") {
				cfg.WindowSize = window
			}
			if cmd.Flags().Changed("threshold") {
				cfg.ResidualThreshold = threshold
			}

			batch, err := timeseries.ParseBatch(req.Timestamps, req.Values)
			if err != nil {
				return err
			}
			set, err := outlier.Detect(batch, cfg)
			if err != nil {
				return err
			}
			return a.writeOutput(cmd, set)
		},
	}

	cmd.Flags().StringVarP(&input, "file", "f", "-", "input JSON file (- for stdin)")
	cmd.Flags().IntVar(&window, "window", 0, "odd sliding window size")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "absolute residual threshold")
	return cmd
}

func newAggregateCmd(a *app) *cobra.Command {
	var (
		input  string
		policy string
	)

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Align series on their union timeline and combine them by sum or average",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req api.AggregateRequest
			if err := readInput(cmd, input, &req); err != nil {
				return err
			}
			if cmd.Flags().Changed("policy") {
				req.Policy = policy
			}

			p, err := merge.ParsePolicy(req.Policy)
			if err != nil {
				return err
			}
			if req.Metric == "" {
				return fmt.Errorf("%w: metric is required", timeseries.ErrInvalidArgument)
			}

			series := make([]timeseries.Series, 0, len(req.Series))
			for _, in := range req.Series {
				ts, err := timeseries.ParseTimestamps(in.Timestamps)
				if err != nil {
					return fmt.Errorf("series %q: %w", in.Name, err)
				}
				s, err := timeseries.SeriesFromArrays(in.Name, ts, in.Values)
				if err != nil {
					return err
				}
				series = append(series, s)
			}

			return a.writeOutput(cmd, merge.Aggregate(series, req.Metric, p))
		},
	}

	cmd.Flags().StringVarP(&input, "file", "f", "-", "input JSON file (- for stdin)")
	cmd.Flags().StringVar(&policy, "policy", "", "sum or average (overrides the input)")
	return cmd
}
