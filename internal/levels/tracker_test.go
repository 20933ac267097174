package levels

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SweepSentinel/internal/model"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	return NewTracker(Config{
		FractalWing:  1,
		Tolerance:    2.0,
		LookbackDays: 3,
		MaxTouches:   2,
	}, time.UTC, zerolog.Nop())
}

func h1Bar(day, hour int, high, low float64) model.Bar {
	return model.Bar{
		Instrument: "ES",
		Timeframe:  model.H1,
		OpenTime:   time.Date(2026, 2, day, hour, 0, 0, 0, time.UTC),
		Open:       (high + low) / 2,
		High:       high,
		Low:        low,
		Close:      (high + low) / 2,
		Closed:     true,
	}
}

// feedDay feeds a flat day with one swing high and one swing low.
func feedDay(tr *Tracker, day int, swingHigh, swingLow float64) {
	base := (swingHigh + swingLow) / 2
	tr.OnBar(h1Bar(day, 0, base+1, base-1))
	tr.OnBar(h1Bar(day, 1, swingHigh, base-1)) // swing high at hour 1
	tr.OnBar(h1Bar(day, 2, base+1, base-1))
	tr.OnBar(h1Bar(day, 3, base+1, swingLow)) // swing low at hour 3
	tr.OnBar(h1Bar(day, 4, base+1, base-1))
}

func TestReconnaissance_FindsPreviousDayExtrema(t *testing.T) {
	tr := newTestTracker(t)
	feedDay(tr, 2, 5000, 4950)

	armed := tr.Reconnaissance(time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC))
	require.Len(t, armed, 2)
	assert.Equal(t, 4950.0, armed[0].Price)
	assert.Equal(t, model.LevelLow, armed[0].Kind)
	assert.Equal(t, 5000.0, armed[1].Price)
	assert.Equal(t, model.LevelHigh, armed[1].Kind)
	for _, lv := range armed {
		assert.Equal(t, model.LevelFresh, lv.Status)
	}
}

func TestReconnaissance_SkipsTradedThrough(t *testing.T) {
	tr := newTestTracker(t)
	feedDay(tr, 2, 5000, 4950)
	// Later in the same day price closes above the swing high.
	b := h1Bar(2, 5, 5008, 4990)
	b.Close = 5006
	tr.OnBar(b)
	tr.OnBar(h1Bar(2, 6, 5004, 4990))

	armed := tr.Reconnaissance(time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC))
	for _, lv := range armed {
		assert.NotEqual(t, 5000.0, lv.Price, "traded-through high must be discarded")
	}
}

func TestReconnaissance_RollbackToEarlierDay(t *testing.T) {
	tr := newTestTracker(t)
	feedDay(tr, 1, 5100, 5040)
	// Day 2 trades through its own entire range: every extremum closed beyond.
	tr.OnBar(h1Bar(2, 0, 5030, 5000)) // swing low 5000, closed below later
	tr.OnBar(h1Bar(2, 1, 5040, 5010)) // swing high 5040, closed above later
	tr.OnBar(h1Bar(2, 2, 5020, 4992))
	thru := h1Bar(2, 3, 5060, 4990)
	thru.Close = 5055 // closes above the hour-1 high
	tr.OnBar(thru)
	last := h1Bar(2, 4, 5062, 4988)
	last.Close = 4989 // closes below the hour-0 low
	tr.OnBar(last)

	armed := tr.Reconnaissance(time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC))
	require.NotEmpty(t, armed, "rollback must reach day 1")
	for _, lv := range armed {
		assert.Equal(t, 1, lv.FormedAt.Day(), "levels must come from day 1")
	}
}

func TestReconnaissance_LookbackExhaustedYieldsNoLevels(t *testing.T) {
	tr := newTestTracker(t)
	// No history at all.
	armed := tr.Reconnaissance(time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC))
	assert.Empty(t, armed)
}

func TestReconnaissance_DedupEqualLevels(t *testing.T) {
	tr := newTestTracker(t)
	// Two swing highs within tolerance (5000 and 5001), separated by dips.
	tr.OnBar(h1Bar(2, 0, 4980, 4960))
	tr.OnBar(h1Bar(2, 1, 5000, 4970))
	tr.OnBar(h1Bar(2, 2, 4985, 4965))
	tr.OnBar(h1Bar(2, 3, 5001, 4970))
	tr.OnBar(h1Bar(2, 4, 4985, 4968))

	armed := tr.Reconnaissance(time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC))
	var highs int
	for _, lv := range armed {
		if lv.Kind == model.LevelHigh {
			highs++
			assert.Equal(t, 5000.0, lv.Price, "earlier-formed level wins the dedup")
		}
	}
	assert.Equal(t, 1, highs)
}

func TestStatusTransitions_Monotonic(t *testing.T) {
	tr := newTestTracker(t)
	feedDay(tr, 2, 5000, 4950)
	armed := tr.Reconnaissance(time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC))
	require.NotEmpty(t, armed)
	id := armed[0].ID

	require.NoError(t, tr.MarkSweptPending(id))
	status, err := tr.ResolveSweep(id, true, false)
	require.NoError(t, err)
	assert.Equal(t, model.LevelTraded, status)

	// TRADED is terminal: no path back to FRESH or anywhere else.
	assert.Error(t, tr.MarkSweptPending(id))
	_, err = tr.ResolveSweep(id, false, true)
	assert.Error(t, err)
}

func TestResolveSweep_RearmThenExpire(t *testing.T) {
	tr := newTestTracker(t)
	feedDay(tr, 2, 5000, 4950)
	armed := tr.Reconnaissance(time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC))
	require.NotEmpty(t, armed)
	id := armed[0].ID

	// First failed confirmation with re-arm allowed: back to FRESH.
	require.NoError(t, tr.MarkSweptPending(id))
	status, err := tr.ResolveSweep(id, false, true)
	require.NoError(t, err)
	assert.Equal(t, model.LevelFresh, status)

	// Second failure exhausts the touch budget: EXPIRED, even with re-arm.
	require.NoError(t, tr.MarkSweptPending(id))
	status, err = tr.ResolveSweep(id, false, true)
	require.NoError(t, err)
	assert.Equal(t, model.LevelExpired, status)
}

func TestResolveSweep_SingleShotInvalidates(t *testing.T) {
	tr := newTestTracker(t)
	feedDay(tr, 2, 5000, 4950)
	armed := tr.Reconnaissance(time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC))
	require.NotEmpty(t, armed)
	id := armed[0].ID

	require.NoError(t, tr.MarkSweptPending(id))
	status, err := tr.ResolveSweep(id, false, false)
	require.NoError(t, err)
	assert.Equal(t, model.LevelInvalidated, status)
}

func TestReconnaissance_SupersedesPreviousSet(t *testing.T) {
	tr := newTestTracker(t)
	feedDay(tr, 2, 5000, 4950)
	first := tr.Reconnaissance(time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC))
	require.NotEmpty(t, first)

	feedDay(tr, 3, 5100, 5050)
	second := tr.Reconnaissance(time.Date(2026, 2, 4, 8, 0, 0, 0, time.UTC))
	require.NotEmpty(t, second)

	for _, lv := range second {
		_, ok := tr.Level(first[0].ID)
		assert.False(t, ok, "superseded levels are dropped from the working set")
		assert.Equal(t, 4, lv.OriginDay.Day())
	}
}
