package merge

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return t0.Add(time.Duration(sec) * time.Second)
}

func series(t *testing.T, name string, secs []int, values []float64) timeseries.Series {
	t.Helper()
	ts := make([]time.Time, len(secs))
	for i, s := range secs {
		ts[i] = at(s)
	}
	s, err := timeseries.SeriesFromArrays(name, ts, values)
	require.NoError(t, err)
	return s
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{in: "sum", want: Sum},
		{in: "SUM", want: Sum},
		{in: "avg", want: Average},
		{in: "Average", want: Average},
		{in: "MEAN", want: Average},
		{in: " mean ", want: Average},
		{in: "median", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, timeseries.ErrInvalidArgument))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPolicyText(t *testing.T) {
	text, err := Average.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "average", string(text))

	var p Policy
	require.NoError(t, p.UnmarshalText([]byte("Sum")))
	assert.Equal(t, Sum, p)

	_, err = Policy(0).MarshalText()
	assert.Error(t, err)
	assert.False(t, Policy(7).Valid())
}

func TestInterpolator(t *testing.T) {
	s := series(t, "rps", []int{0, 10, 20}, []float64{1, 3, -5})
	in := NewInterpolator(s)

	t.Run("ExactAtKnots", func(t *testing.T) {
		for _, p := range s.Points() {
			v, ok := in.At(p.T)
			require.True(t, ok)
			assert.Equal(t, p.V, v)
		}
	})

	t.Run("Bounds", func(t *testing.T) {
		v, ok := in.At(at(0))
		assert.True(t, ok)
		assert.Equal(t, 1.0, v)

		v, ok = in.At(at(20))
		assert.True(t, ok)
		assert.Equal(t, -5.0, v)
	})

	t.Run("NoExtrapolation", func(t *testing.T) {
		_, ok := in.At(at(-1))
		assert.False(t, ok)
		_, ok = in.At(at(21))
		assert.False(t, ok)
	})

	t.Run("LinearBlend", func(t *testing.T) {
		v, ok := in.At(at(5))
		require.True(t, ok)
		assert.InDelta(t, 2.0, v, 1e-12)

		v, ok = in.At(at(15))
		require.True(t, ok)
		assert.InDelta(t, -1.0, v, 1e-12)
	})

	t.Run("EqualInstantsReturnFirst", func(t *testing.T) {
		dup := series(t, "rps", []int{0, 10, 10, 20}, []float64{0, 4, 8, 0})
		v, ok := NewInterpolator(dup).At(at(10))
		require.True(t, ok)
		assert.Equal(t, 4.0, v)
	})

	t.Run("Empty", func(t *testing.T) {
		_, ok := NewInterpolator(timeseries.Series{}).At(t0)
		assert.False(t, ok)
	})

	t.Run("OtherZoneSameInstant", func(t *testing.T) {
		loc := time.FixedZone("UTC+2", 2*3600)
		v, ok := in.At(at(10).In(loc))
		require.True(t, ok)
		assert.Equal(t, 3.0, v)
	})
}

func TestAggregateCoincidentSamples(t *testing.T) {
	a := series(t, "a", []int{0}, []float64{2.5})
	b := series(t, "b", []int{0}, []float64{4})

	sum := Aggregate([]timeseries.Series{a, b}, "rps", Sum)
	assert.Equal(t, []string{"2024-05-01T10:00:00Z"}, sum.Timestamps)
	assert.Equal(t, map[string][]float64{"rps": {6.5}}, sum.Values)

	avg := Aggregate([]timeseries.Series{a, b}, "latency_ms", Average)
	assert.Equal(t, map[string][]float64{"latency_ms": {3.25}}, avg.Values)
}

func TestAggregateUnionTimeline(t *testing.T) {
	a := series(t, "a", []int{0, 10, 20}, []float64{10, 20, 30})
	b := series(t, "b", []int{5, 10, 30}, []float64{1, 2, 4})

	t.Run("Sum", func(t *testing.T) {
		got := Aggregate([]timeseries.Series{a, b}, "rps", Sum)
		require.Len(t, got.Timestamps, 5)
		assert.Equal(t, timeseries.FormatInstant(at(0)), got.Timestamps[0])
		assert.Equal(t, timeseries.FormatInstant(at(30)), got.Timestamps[4])

		// t=0: only a. t=5: a=15, b=1. t=10: 20+2. t=20: 30 + b(20)=3. t=30: only b.
		assert.InDeltaSlice(t, []float64{10, 16, 22, 33, 4}, got.Values["rps"], 1e-12)
	})

	t.Run("Average", func(t *testing.T) {
		got := Aggregate([]timeseries.Series{a, b}, "latency_ms", Average)
		assert.InDeltaSlice(t, []float64{10, 8, 11, 16.5, 4}, got.Values["latency_ms"], 1e-12)
	})
}

func TestAggregateEmpty(t *testing.T) {
	for _, input := range [][]timeseries.Series{
		nil,
		{},
		{timeseries.NewSeries("a", nil), timeseries.NewSeries("b", nil)},
	} {
		got := Aggregate(input, "rps", Sum)
		assert.NotNil(t, got.Timestamps)
		assert.NotNil(t, got.Values)
		assert.Empty(t, got.Timestamps)
		assert.Empty(t, got.Values)
		assert.True(t, got.IsEmpty())
	}
}

func TestAggregateSkipsEmptySeries(t *testing.T) {
	a := series(t, "a", []int{0, 10}, []float64{2, 4})
	got := Aggregate([]timeseries.Series{a, timeseries.NewSeries("b", nil)}, "cpu_total", Average)
	assert.Equal(t, []float64{2, 4}, got.Values["cpu_total"])
}

func TestAggregateInstantsRoundTrip(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	ts := []time.Time{
		time.Date(2024, 5, 1, 5, 0, 0, 0, loc),
		time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 1, 10, 0, 1, 500_000_000, time.UTC),
	}
	s, err := timeseries.SeriesFromArrays("a", ts, []float64{1, 2, 3})
	require.NoError(t, err)

	got := Aggregate([]timeseries.Series{s}, "rps", Sum)
	// the first two are the same instant in different zones
	require.Len(t, got.Timestamps, 2)
	for i, raw := range got.Timestamps {
		parsed, err := timeseries.ParseTimestamp(raw)
		require.NoError(t, err)
		assert.True(t, parsed.Equal(ts[i+1]), "instant %d", i)
	}
	assert.Equal(t, []float64{1, 3}, got.Values["rps"])
}

func TestFromSeries(t *testing.T) {
	s := series(t, "pod-a", []int{10, 0}, []float64{7, 5})
	got := FromSeries(s, "custom")
	assert.Equal(t, []string{timeseries.FormatInstant(at(0)), timeseries.FormatInstant(at(10))}, got.Timestamps)
	assert.Equal(t, []float64{5, 7}, got.Values["custom"])

	empty := FromSeries(timeseries.Series{}, "custom")
	assert.True(t, empty.IsEmpty())
	assert.NotNil(t, empty.Values)
}
