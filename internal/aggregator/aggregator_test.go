package aggregator

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SweepSentinel/internal/model"
)

func ts(h, m int) time.Time {
	return time.Date(2026, 2, 2, h, m, 0, 0, time.UTC)
}

func TestAddSample_ClosesOnBoundary(t *testing.T) {
	var closed []model.Bar
	agg := New("ES", []model.Timeframe{model.M5}, func(b model.Bar) {
		closed = append(closed, b)
	}, zerolog.Nop())

	agg.AddSample(model.PriceSample{Time: ts(9, 0), Price: 5000})
	agg.AddSample(model.PriceSample{Time: ts(9, 2), Price: 5004})
	agg.AddSample(model.PriceSample{Time: ts(9, 4), Price: 4998})
	require.Empty(t, closed, "bar must not close before its boundary elapses")

	agg.AddSample(model.PriceSample{Time: ts(9, 5), Price: 5001})
	require.Len(t, closed, 1)

	b := closed[0]
	assert.True(t, b.Closed)
	assert.Equal(t, ts(9, 0), b.OpenTime)
	assert.Equal(t, 5000.0, b.Open)
	assert.Equal(t, 5004.0, b.High)
	assert.Equal(t, 4998.0, b.Low)
	assert.Equal(t, 4998.0, b.Close)
}

func TestAddSample_DropsOutOfOrderAndDuplicates(t *testing.T) {
	var closed []model.Bar
	agg := New("ES", []model.Timeframe{model.M5}, func(b model.Bar) {
		closed = append(closed, b)
	}, zerolog.Nop())

	agg.AddSample(model.PriceSample{Time: ts(9, 3), Price: 5000})
	agg.AddSample(model.PriceSample{Time: ts(9, 1), Price: 9999}) // out of order
	agg.AddSample(model.PriceSample{Time: ts(9, 3), Price: 9999}) // duplicate
	agg.AddSample(model.PriceSample{Time: ts(9, 6), Price: 5002})

	assert.Equal(t, 2, agg.Dropped())
	require.Len(t, closed, 1)
	assert.Equal(t, 5000.0, closed[0].High, "rejected samples must not affect bars")
}

func TestFoldBar_M5IntoH1(t *testing.T) {
	var closed []model.Bar
	agg := New("ES", []model.Timeframe{model.H1}, func(b model.Bar) {
		closed = append(closed, b)
	}, zerolog.Nop())

	for i := 0; i < 12; i++ {
		open := 5000.0 + float64(i)
		agg.FoldBar(model.Bar{
			Instrument: "ES",
			Timeframe:  model.M5,
			OpenTime:   ts(9, i*5),
			Open:       open,
			High:       open + 2,
			Low:        open - 2,
			Close:      open + 1,
			Closed:     true,
		})
	}

	require.Len(t, closed, 1, "twelve M5 bars complete exactly one H1 bar")
	h1 := closed[0]
	assert.Equal(t, model.H1, h1.Timeframe)
	assert.Equal(t, ts(9, 0), h1.OpenTime)
	assert.Equal(t, 5000.0, h1.Open)
	assert.Equal(t, 5013.0, h1.High)
	assert.Equal(t, 4998.0, h1.Low)
	assert.Equal(t, 5012.0, h1.Close)
}

func TestFoldBar_ReplayIsIdempotent(t *testing.T) {
	run := func() []model.Bar {
		var closed []model.Bar
		agg := New("ES", []model.Timeframe{model.H1}, func(b model.Bar) {
			closed = append(closed, b)
		}, zerolog.Nop())
		for i := 0; i < 24; i++ {
			open := 5000.0 + float64(i%7)
			agg.FoldBar(model.Bar{
				Timeframe: model.M5,
				OpenTime:  ts(9, 0).Add(time.Duration(i) * 5 * time.Minute),
				Open:      open, High: open + 1, Low: open - 1, Close: open,
				Closed: true,
			})
		}
		return closed
	}

	first := run()
	second := run()
	assert.Equal(t, first, second)
	assert.Len(t, first, 2)
}
