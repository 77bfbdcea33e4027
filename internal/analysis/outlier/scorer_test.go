package outlier

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func seconds(n int) []time.Time {
	ts := make([]time.Time, n)
	for i := range ts {
		ts[i] = base.Add(time.Duration(i) * time.Second)
	}
	return ts
}

func linear(n int) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = 3*float64(i) + 2
	}
	return values
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		n       int
		wantErr bool
	}{
		{name: "default", cfg: DefaultConfig(), n: 10},
		{name: "window equals length", cfg: Config{WindowSize: 5, ResidualThreshold: 1}, n: 5},
		{name: "even window", cfg: Config{WindowSize: 4, ResidualThreshold: 1}, n: 10, wantErr: true},
		{name: "window too small", cfg: Config{WindowSize: 1, ResidualThreshold: 1}, n: 10, wantErr: true},
		{name: "window larger than series", cfg: Config{WindowSize: 11, ResidualThreshold: 1}, n: 10, wantErr: true},
		{name: "zero threshold", cfg: Config{WindowSize: 3, ResidualThreshold: 0}, n: 10, wantErr: true},
		{name: "negative threshold", cfg: Config{WindowSize: 3, ResidualThreshold: -2}, n: 10, wantErr: true},
		{name: "nan threshold", cfg: Config{WindowSize: 3, ResidualThreshold: math.NaN()}, n: 10, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate(tt.n)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, timeseries.ErrInvalidArgument))
		})
	}
}

func TestFitLine(t *testing.T) {
	t.Run("ExactLine", func(t *testing.T) {
		line := FitLine(4, []float64{14, 17, 20, 23, 26})
		assert.InDelta(t, 3.0, line.Slope, 1e-12)
		assert.InDelta(t, 2.0, line.Intercept, 1e-12)
		assert.InDelta(t, 32.0, line.At(10), 1e-12)
	})

	t.Run("Flat", func(t *testing.T) {
		line := FitLine(0, []float64{7, 7, 7})
		assert.Equal(t, 0.0, line.Slope)
		assert.Equal(t, 7.0, line.Intercept)
	})

	t.Run("SinglePointHasNoSpread", func(t *testing.T) {
		line := FitLine(3, []float64{9})
		assert.Equal(t, 0.0, line.Slope)
		assert.Equal(t, 9.0, line.At(3))
	})
}

func TestResidualsBoundaries(t *testing.T) {
	r := Residuals(linear(9), 5)
	require.Len(t, r, 9)
	for _, i := range []int{0, 1, 7, 8} {
		assert.True(t, math.IsNaN(r[i]), "index %d is a boundary", i)
	}
	for i := 2; i < 7; i++ {
		assert.InDelta(t, 0, r[i], 1e-9)
	}
}

func TestDetect(t *testing.T) {
	t.Run("LinearSeriesHasNoOutliers", func(t *testing.T) {
		n := 21
		batch, err := timeseries.NewBatch(seconds(n), map[string][]float64{"rps": linear(n)})
		require.NoError(t, err)

		for w := 3; w <= n; w += 2 {
			got, err := Detect(batch, Config{WindowSize: w, ResidualThreshold: 1e-6})
			require.NoError(t, err, "window %d", w)
			assert.Empty(t, got, "window %d", w)
		}
	})

	t.Run("SingleSpike", func(t *testing.T) {
		n := 21
		ts := seconds(n)
		values := linear(n)
		values[10] += 100

		batch, err := timeseries.NewBatch(ts, map[string][]float64{"rps": values})
		require.NoError(t, err)

		for _, w := range []int{3, 5, 7, 9} {
			got, err := Detect(batch, Config{WindowSize: w, ResidualThreshold: 50})
			require.NoError(t, err)
			assert.Equal(t, Set{"rps": {timeseries.FormatTimestamp(ts[10])}}, got, "window %d", w)
		}
	})

	t.Run("BoundarySpikeIsNotScored", func(t *testing.T) {
		n := 15
		values := linear(n)
		values[1] += 1000
		values[n-1] += 1000

		batch, err := timeseries.NewBatch(seconds(n), map[string][]float64{"rps": values})
		require.NoError(t, err)

		got, err := Detect(batch, Config{WindowSize: 5, ResidualThreshold: 500})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("OmitsQuietProperties", func(t *testing.T) {
		n := 11
		spiky := linear(n)
		spiky[5] -= 80

		batch, err := timeseries.NewBatch(seconds(n), map[string][]float64{
			"quiet": linear(n),
			"spiky": spiky,
		})
		require.NoError(t, err)

		got, err := Detect(batch, Config{WindowSize: 5, ResidualThreshold: 40})
		require.NoError(t, err)
		assert.NotContains(t, got, "quiet")
		assert.Len(t, got["spiky"], 1)
	})

	t.Run("InvalidWindowIsFatal", func(t *testing.T) {
		n := 9
		values := linear(n)
		values[4] += 100
		batch, err := timeseries.NewBatch(seconds(n), map[string][]float64{"rps": values})
		require.NoError(t, err)

		for _, w := range []int{4, n + 1} {
			got, err := Detect(batch, Config{WindowSize: w, ResidualThreshold: 1})
			require.Error(t, err, "window %d", w)
			assert.True(t, errors.Is(err, timeseries.ErrInvalidArgument))
			assert.Nil(t, got)
		}
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		batch := timeseries.Batch{
			Timestamps: seconds(5),
			Values:     map[string][]float64{"rps": {1, 2, 3}},
		}
		_, err := Detect(batch, DefaultConfig())
		assert.True(t, errors.Is(err, timeseries.ErrInvalidArgument))
	})

	t.Run("OutOfOrderInputIsSorted", func(t *testing.T) {
		n := 11
		ts := seconds(n)
		values := linear(n)
		values[5] += 100

		// Swap two far-apart samples; sorting must put them back.
		ts[0], ts[10] = ts[10], ts[0]
		values[0], values[10] = values[10], values[0]

		batch, err := timeseries.NewBatch(ts, map[string][]float64{"rps": values})
		require.NoError(t, err)

		got, err := Detect(batch, Config{WindowSize: 5, ResidualThreshold: 50})
		require.NoError(t, err)
		assert.Equal(t, []string{timeseries.FormatTimestamp(base.Add(5 * time.Second))}, got["rps"])
	})
}

func TestDetectSeries(t *testing.T) {
	n := 9
	ts := seconds(n)
	values := linear(n)
	values[4] += 60

	s, err := timeseries.SeriesFromArrays("latency_ms", ts, values)
	require.NoError(t, err)

	got, err := DetectSeries(s, Config{WindowSize: 3, ResidualThreshold: 30})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Equal(ts[4]))

	_, err = DetectSeries(s, Config{WindowSize: 3, ResidualThreshold: 0})
	assert.Error(t, err)
}
