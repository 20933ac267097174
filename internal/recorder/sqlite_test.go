package recorder

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"SweepSentinel/internal/model"
)

func openTestRecorder(t *testing.T) *SQLiteRecorder {
	t.Helper()
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "journal.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestIntentUpsertKeepsSingleRow(t *testing.T) {
	r := openTestRecorder(t)

	intent := &model.TradeIntent{
		ID:         "it-1",
		Instrument: "ES",
		Side:       model.Short,
		EntryPrice: 4996,
		StopPrice:  5006,
		Size:       1,
		Session:    time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		CreatedAt:  time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC),
		Status:     model.IntentOpen,
	}
	require.NoError(t, r.RecordIntent(intent))

	intent.Status = model.IntentResolved
	intent.Outcome = model.OutcomeWin
	intent.StopPrice = 4996
	require.NoError(t, r.RecordIntent(intent))

	var count int
	var status, outcome string
	row := r.db.QueryRow(`SELECT COUNT(*) FROM trade_intents`)
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 1, count)

	row = r.db.QueryRow(`SELECT status, outcome FROM trade_intents WHERE id = ?`, "it-1")
	require.NoError(t, row.Scan(&status, &outcome))
	require.Equal(t, "RESOLVED", status)
	require.Equal(t, "WIN", outcome)
}

func TestSweepOutcomeOverwrite(t *testing.T) {
	r := openTestRecorder(t)

	evt := &model.SweepEvent{
		ID:       "sw-1",
		LevelID:  "lv-1",
		Level:    5000,
		Kind:     model.LevelHigh,
		RaidBar:  time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC),
		Deadline: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
		Outcome:  model.SweepPending,
	}
	require.NoError(t, r.RecordSweep(evt))

	evt.Outcome = model.SweepConfirmed
	require.NoError(t, r.RecordSweep(evt))

	var outcome string
	row := r.db.QueryRow(`SELECT outcome FROM sweep_events WHERE id = ?`, "sw-1")
	require.NoError(t, row.Scan(&outcome))
	require.Equal(t, "CONFIRMED", outcome)
}

func TestLifecycleAndDroppedSampleInserts(t *testing.T) {
	r := openTestRecorder(t)

	require.NoError(t, r.RecordLifecycle(&model.LifecycleEvent{
		IntentID: "it-1",
		Kind:     model.LifecyclePartialFill,
		Time:     time.Now(),
		Price:    4986,
		Fraction: 0.5,
	}))
	require.NoError(t, r.RecordDroppedSample(&DroppedSample{
		Instrument: "ES",
		SampleTime: time.Now(),
		Reason:     "out of order",
	}))
	require.NoError(t, r.RecordDaySummary(&DaySummary{
		Date:         time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		AttemptsUsed: 2,
		RiskOff:      true,
	}))
}
