package recorder

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"SweepSentinel/internal/model"
)

// SQLiteRecorder journals engine activity to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	log zerolog.Logger
	mu  sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, log zerolog.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so analysis queries can read while the engine writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: log.With().Str("component", "recorder").Logger()}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	r.log.Info().Str("path", dbPath).Msg("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trade_intents (
			id          TEXT PRIMARY KEY,
			instrument  TEXT NOT NULL,
			side        TEXT NOT NULL,
			entry_price REAL,
			stop_price  REAL,
			size        REAL,
			session     INTEGER NOT NULL,
			created_at  INTEGER NOT NULL,
			status      TEXT,
			outcome     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_intents_session ON trade_intents(session)`,

		`CREATE TABLE IF NOT EXISTS lifecycle_events (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			intent_id TEXT,
			kind      TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			price     REAL,
			fraction  REAL,
			note      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lifecycle_intent ON lifecycle_events(intent_id)`,

		`CREATE TABLE IF NOT EXISTS sweep_events (
			id          TEXT PRIMARY KEY,
			level_id    TEXT NOT NULL,
			level_price REAL,
			kind        TEXT,
			raid_bar    INTEGER NOT NULL,
			deadline    INTEGER,
			outcome     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sweeps_raid ON sweep_events(raid_bar)`,

		`CREATE TABLE IF NOT EXISTS day_summaries (
			date            INTEGER PRIMARY KEY,
			levels_armed    INTEGER,
			sweeps_detected INTEGER,
			sweeps_confirmed INTEGER,
			attempts_used   INTEGER,
			realized_points REAL,
			realized_loss   REAL,
			risk_off        INTEGER
		)`,

		`CREATE TABLE IF NOT EXISTS dropped_samples (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			instrument  TEXT,
			sample_time INTEGER NOT NULL,
			reason      TEXT
		)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// RecordIntent upserts an intent so a later status change overwrites the
// open row written at creation.
func (r *SQLiteRecorder) RecordIntent(intent *model.TradeIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO trade_intents
		(id, instrument, side, entry_price, stop_price, size, session, created_at, status, outcome)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			stop_price = excluded.stop_price,
			status     = excluded.status,
			outcome    = excluded.outcome`,
		intent.ID, intent.Instrument, string(intent.Side),
		intent.EntryPrice, intent.StopPrice, intent.Size,
		intent.Session.Unix(), intent.CreatedAt.Unix(),
		string(intent.Status), string(intent.Outcome),
	)
	return err
}

func (r *SQLiteRecorder) RecordLifecycle(evt *model.LifecycleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO lifecycle_events
		(intent_id, kind, timestamp, price, fraction, note)
		VALUES (?,?,?,?,?,?)`,
		evt.IntentID, string(evt.Kind), evt.Time.Unix(),
		evt.Price, evt.Fraction, evt.Note,
	)
	return err
}

func (r *SQLiteRecorder) RecordSweep(evt *model.SweepEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO sweep_events
		(id, level_id, level_price, kind, raid_bar, deadline, outcome)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET outcome = excluded.outcome`,
		evt.ID, evt.LevelID, evt.Level, string(evt.Kind),
		evt.RaidBar.Unix(), evt.Deadline.Unix(), string(evt.Outcome),
	)
	return err
}

func (r *SQLiteRecorder) RecordDaySummary(sum *DaySummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	riskOff := 0
	if sum.RiskOff {
		riskOff = 1
	}
	_, err := r.db.Exec(`INSERT OR REPLACE INTO day_summaries
		(date, levels_armed, sweeps_detected, sweeps_confirmed, attempts_used, realized_points, realized_loss, risk_off)
		VALUES (?,?,?,?,?,?,?,?)`,
		sum.Date.Unix(), sum.LevelsArmed, sum.SweepsDetected, sum.SweepsConfirmed,
		sum.AttemptsUsed, sum.RealizedPoints, sum.RealizedLoss, riskOff,
	)
	return err
}

func (r *SQLiteRecorder) RecordDroppedSample(drop *DroppedSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO dropped_samples (instrument, sample_time, reason) VALUES (?,?,?)`,
		drop.Instrument, drop.SampleTime.Unix(), drop.Reason,
	)
	return err
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info().Msg("closing sqlite recorder")
	return r.db.Close()
}

var _ Recorder = (*SQLiteRecorder)(nil)
