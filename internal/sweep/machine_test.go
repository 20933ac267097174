package sweep

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SweepSentinel/internal/model"
)

func h1(hour int, o, h, l, c float64) model.Bar {
	return model.Bar{
		Instrument: "ES",
		Timeframe:  model.H1,
		OpenTime:   time.Date(2026, 2, 3, hour, 0, 0, 0, time.UTC),
		Open:       o, High: h, Low: l, Close: c,
		Closed: true,
	}
}

func freshHigh(price float64) model.SwingLevel {
	return model.SwingLevel{ID: "hi-1", Price: price, Kind: model.LevelHigh, Status: model.LevelFresh}
}

func freshLow(price float64) model.SwingLevel {
	return model.SwingLevel{ID: "lo-1", Price: price, Kind: model.LevelLow, Status: model.LevelFresh}
}

func TestSameBarConfirmation(t *testing.T) {
	m := NewMachine(Config{NextBarDeadline: false}, zerolog.Nop())

	// Wick to 5005 over the 5000 high, body closes back at 4998.
	results := m.OnBar(h1(9, 4995, 5005, 4990, 4998), []model.SwingLevel{freshHigh(5000)})
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, model.SweepConfirmed, r.Event.Outcome)
	require.NotNil(t, r.Bias)
	assert.Equal(t, model.Short, r.Bias.Side)
	assert.Equal(t, 5000.0, r.Bias.LevelPrice)
	assert.Equal(t, 0, m.PendingCount())
}

func TestSameBarDeadline_NoClosureIsInvalid(t *testing.T) {
	m := NewMachine(Config{NextBarDeadline: false}, zerolog.Nop())

	// Raid bar closes at 5010, never back inside the range.
	results := m.OnBar(h1(9, 4995, 5012, 4990, 5010), []model.SwingLevel{freshHigh(5000)})
	require.Len(t, results, 1)
	assert.Equal(t, model.SweepInvalid, results[0].Event.Outcome)
	assert.Nil(t, results[0].Bias)
}

func TestNextBarDeadline_ConfirmsOnFollowingBar(t *testing.T) {
	m := NewMachine(Config{NextBarDeadline: true}, zerolog.Nop())
	lv := freshHigh(5000)

	results := m.OnBar(h1(9, 4995, 5012, 4990, 5010), []model.SwingLevel{lv})
	require.Len(t, results, 1)
	assert.Equal(t, model.SweepPending, results[0].Event.Outcome)
	assert.Equal(t, 1, m.PendingCount())

	// Next bar's body closes back inside: CONFIRMED. The level is pending,
	// so the fresh set no longer carries it.
	results = m.OnBar(h1(10, 5008, 5009, 4994, 4996), nil)
	require.Len(t, results, 1)
	assert.Equal(t, model.SweepConfirmed, results[0].Event.Outcome)
	require.NotNil(t, results[0].Bias)
	assert.Equal(t, model.Short, results[0].Bias.Side)
	assert.Equal(t, 5012.0, results[0].Bias.RaidHigh)
	assert.Equal(t, 0, m.PendingCount())
}

func TestNextBarDeadline_MissedClosureIsInvalid(t *testing.T) {
	m := NewMachine(Config{NextBarDeadline: true}, zerolog.Nop())

	m.OnBar(h1(9, 4995, 5012, 4990, 5010), []model.SwingLevel{freshHigh(5000)})
	results := m.OnBar(h1(10, 5010, 5020, 5005, 5015), nil)
	require.Len(t, results, 1)
	assert.Equal(t, model.SweepInvalid, results[0].Event.Outcome)
	assert.Nil(t, results[0].Bias)
}

func TestGapPastDeadlineIsInvalid(t *testing.T) {
	m := NewMachine(Config{NextBarDeadline: true}, zerolog.Nop())

	m.OnBar(h1(9, 4995, 5012, 4990, 5010), []model.SwingLevel{freshHigh(5000)})
	// The 10:00 bar never arrives; the 12:00 bar is past the deadline and
	// cannot confirm even though it closed back inside.
	results := m.OnBar(h1(12, 5005, 5006, 4990, 4992), nil)
	require.Len(t, results, 1)
	assert.Equal(t, model.SweepInvalid, results[0].Event.Outcome)
}

func TestSweptLowYieldsLongBias(t *testing.T) {
	m := NewMachine(Config{NextBarDeadline: false}, zerolog.Nop())

	results := m.OnBar(h1(9, 4955, 4960, 4945, 4953), []model.SwingLevel{freshLow(4950)})
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Bias)
	assert.Equal(t, model.Long, results[0].Bias.Side)
}

func TestSinglePendingPerLevel(t *testing.T) {
	m := NewMachine(Config{NextBarDeadline: true}, zerolog.Nop())
	lv := freshHigh(5000)

	m.OnBar(h1(9, 4995, 5012, 4990, 5010), []model.SwingLevel{lv})
	require.Equal(t, 1, m.PendingCount())

	// The failed resolution and the re-raid on the same bar each produce a
	// result, but the level never carries more than one pending event.
	results := m.OnBar(h1(10, 5010, 5013, 5002, 5006), []model.SwingLevel{lv})
	assert.Len(t, results, 2)
	assert.Equal(t, model.SweepInvalid, results[0].Event.Outcome)
	assert.Equal(t, 1, m.PendingCount())
}

func TestPendingResolutionOrderIsDeterministic(t *testing.T) {
	fresh := []model.SwingLevel{
		{ID: "hi-2", Price: 5005, Kind: model.LevelHigh, Status: model.LevelFresh},
		{ID: "hi-1", Price: 5000, Kind: model.LevelHigh, Status: model.LevelFresh},
	}

	// Two pendings share a raid bar, so the tiebreak is the level ID. Repeat
	// enough times that map iteration order would betray itself.
	for i := 0; i < 200; i++ {
		m := NewMachine(Config{NextBarDeadline: true}, zerolog.Nop())

		results := m.OnBar(h1(9, 4995, 5012, 4990, 5010), fresh)
		require.Len(t, results, 2)
		require.Equal(t, 2, m.PendingCount())

		results = m.OnBar(h1(10, 5008, 5009, 4994, 4996), nil)
		require.Len(t, results, 2)
		require.Equal(t, "hi-1", results[0].Event.LevelID)
		require.Equal(t, "hi-2", results[1].Event.LevelID)
	}
}

func TestCancelAllOrderIsDeterministic(t *testing.T) {
	fresh := []model.SwingLevel{
		{ID: "hi-2", Price: 5005, Kind: model.LevelHigh, Status: model.LevelFresh},
		{ID: "hi-1", Price: 5000, Kind: model.LevelHigh, Status: model.LevelFresh},
	}

	for i := 0; i < 200; i++ {
		m := NewMachine(Config{NextBarDeadline: true}, zerolog.Nop())
		m.OnBar(h1(9, 4995, 5012, 4990, 5010), fresh)

		cancelled := m.CancelAll("session rollover")
		require.Len(t, cancelled, 2)
		require.Equal(t, "hi-1", cancelled[0].LevelID)
		require.Equal(t, "hi-2", cancelled[1].LevelID)
	}
}

func TestCancelAllTerminal(t *testing.T) {
	m := NewMachine(Config{NextBarDeadline: true}, zerolog.Nop())
	m.OnBar(h1(9, 4995, 5012, 4990, 5010), []model.SwingLevel{freshHigh(5000)})

	cancelled := m.CancelAll("session rollover")
	require.Len(t, cancelled, 1)
	assert.Equal(t, model.SweepInvalid, cancelled[0].Outcome)
	assert.Equal(t, 0, m.PendingCount())

	// A late bar after cancellation resurrects nothing.
	results := m.OnBar(h1(10, 5008, 5009, 4994, 4996), nil)
	assert.Empty(t, results)
}
