package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/tsinsight/internal/analysis/merge"
	"github.com/aaronlmathis/tsinsight/internal/timeseries/aggregator"
)

// run executes the CLI with args and stdin, returning stdout
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("TSI_CONFIG", "")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--log-level", "error"))

	err := cmd.Execute()
	return out.String(), err
}

const stepBatch = `{
  "timestamps": ["2024-06-01T09:00:00Z", "2024-06-01T09:01:00Z", "2024-06-01T09:02:00Z",
                 "2024-06-01T09:03:00Z", "2024-06-01T09:04:00Z", "2024-06-01T09:05:00Z",
                 "2024-06-01T09:06:00Z", "2024-06-01T09:07:00Z", "2024-06-01T09:08:00Z",
                 "2024-06-01T09:09:00Z"],
  "values": {"rps": [1, 1, 1, 1, 1, 8, 8, 8, 8, 8]}
}`

func TestChangepointsCommand(t *testing.T) {
	out, err := run(t, stepBatch, "changepoints")
	require.NoError(t, err)

	var got map[string][]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, []string{"2024-06-01T09:05:00Z"}, got["rps"])

	out, err = run(t, stepBatch, "changepoints", "--penalty", "1e9")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Empty(t, got["rps"])

	_, err = run(t, stepBatch, "changepoints", "--penalty", "-1")
	assert.Error(t, err)
}

func TestOutliersCommand(t *testing.T) {
	input := `{
  "timestamps": ["2024-06-01T09:00:00Z", "2024-06-01T09:00:01Z", "2024-06-01T09:00:02Z",
                 "2024-06-01T09:00:03Z", "2024-06-01T09:00:04Z", "2024-06-01T09:00:05Z",
                 "2024-06-01T09:00:06Z"],
  "values": {"rps": [0, 0, 0, 100, 0, 0, 0]}
}`
	out, err := run(t, input, "outliers", "--window", "3", "--threshold", "50")
	require.NoError(t, err)

	var got map[string][]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, []string{"2024-06-01T09:00:03Z"}, got["rps"])

	_, err = run(t, input, "outliers", "--window", "9")
	assert.Error(t, err)
}

func TestAggregateCommand(t *testing.T) {
	input := `{
  "metric": "rps",
  "policy": "sum",
  "series": [
    {"name": "a", "timestamps": ["2024-06-01T09:00:00Z", "2024-06-01T09:00:10Z", "2024-06-01T09:00:20Z"], "values": [10, 20, 30]},
    {"name": "b", "timestamps": ["2024-06-01T09:00:05Z", "2024-06-01T09:00:10Z", "2024-06-01T09:00:30Z"], "values": [1, 2, 4]}
  ]
}`
	out, err := run(t, input, "aggregate")
	require.NoError(t, err)

	var got merge.Result
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.InDeltaSlice(t, []float64{10, 16, 22, 33, 4}, got.Values["rps"], 1e-9)

	out, err = run(t, input, "aggregate", "--policy", "avg")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.InDeltaSlice(t, []float64{10, 8, 11, 16.5, 4}, got.Values["rps"], 1e-9)

	_, err = run(t, input, "aggregate", "--policy", "max")
	assert.Error(t, err)
}

func TestReadInputFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, os.WriteFile(path, []byte(stepBatch), 0o600))

	out, err := run(t, "", "changepoints", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "2024-06-01T09:05:00Z")

	_, err = run(t, "", "changepoints", "-f", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = run(t, `{"timestamps": [], "bogus": 1}`, "changepoints")
	assert.Error(t, err)
}

func TestIngestAndGroupCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "samples.db")
	input := `{
  "members": {"shop/web": ["shop/web-1", "shop/web-2", "shop/web-3"]},
  "samples": [
    {"entity": "shop/web-1", "metric": "latency_ms", "timestamp": "2024-06-01T09:00:00Z", "value": 10},
    {"entity": "shop/web-1", "metric": "latency_ms", "timestamp": "2024-06-01T09:00:10Z", "value": 20},
    {"entity": "shop/web-2", "metric": "latency_ms", "timestamp": "2024-06-01T09:00:00Z", "value": 30},
    {"entity": "shop/web-2", "metric": "latency_ms", "timestamp": "2024-06-01T09:00:10Z", "value": 40}
  ]
}`
	out, err := run(t, input, "ingest", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, `"series":2`)

	out, err = run(t, "", "group", "--db", db, "--entity", "shop/web", "--metric", "latency_ms")
	require.NoError(t, err)

	var res aggregator.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.NotNil(t, res.Aggregated)
	assert.Equal(t, merge.Average, res.Policy)
	assert.InDeltaSlice(t, []float64{20, 30}, res.Aggregated.Values["latency_ms"], 1e-9)
	assert.Equal(t, []string{"shop/web-3"}, res.Missing)

	out, err = run(t, "", "group", "--db", db, "--entity", "shop/web", "--metric", "latency_ms", "--override", "sum")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.InDeltaSlice(t, []float64{40, 60}, res.Aggregated.Values["latency_ms"], 1e-9)

	_, err = run(t, "", "group", "--db", db, "--entity", "shop/unknown", "--metric", "latency_ms")
	assert.Error(t, err)

	_, err = run(t, `{"samples": [{"entity": "", "metric": "rps", "timestamp": "2024-06-01T09:00:00Z", "value": 1}]}`, "ingest", "--db", db)
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tsinsight")
}
