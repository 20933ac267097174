package levels

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"SweepSentinel/internal/model"
)

// Config holds the tuning knobs of the tracker.
type Config struct {
	FractalWing  int     // neighbor bars on each side of a swing extremum
	Tolerance    float64 // price band for collapsing equal levels
	LookbackDays int     // rollback limit
	MaxTouches   int     // raids allowed before a level expires
}

// Tracker maintains the working set of fresh H1 swing levels for the current
// trading day. It is the sole owner and sole mutator of level status.
type Tracker struct {
	cfg Config
	log zerolog.Logger
	loc *time.Location

	history []model.Bar // retained closed H1 bars, oldest first
	levels  map[string]*model.SwingLevel
	day     time.Time // session the current set was armed for
}

// NewTracker creates a tracker. loc is the engine timezone used to group
// bars into trading days.
func NewTracker(cfg Config, loc *time.Location, log zerolog.Logger) *Tracker {
	if cfg.FractalWing < 1 {
		cfg.FractalWing = 1
	}
	return &Tracker{
		cfg:    cfg,
		loc:    loc,
		log:    log.With().Str("component", "levels").Logger(),
		levels: map[string]*model.SwingLevel{},
	}
}

// OnBar records a closed H1 bar. History is bounded to the rollback window;
// the tracker never re-derives state from scratch on every bar.
func (t *Tracker) OnBar(bar model.Bar) {
	if bar.Timeframe != model.H1 || !bar.Closed {
		return
	}
	t.history = append(t.history, bar)

	maxBars := (t.cfg.LookbackDays + 2) * 24
	if len(t.history) > maxBars {
		t.history = t.history[len(t.history)-maxBars:]
	}
}

// Reconnaissance arms the level set for the given trading day. It scans the
// previous day's H1 bars for untouched extrema, stepping back one day at a
// time while a scanned day is fully traded through, up to the lookback limit.
// Zero armed levels is a normal non-entry outcome, not an error.
func (t *Tracker) Reconnaissance(day time.Time) []model.SwingLevel {
	t.expireAll("superseded by new session")
	t.day = t.dayOf(day)

	for back := 1; back <= t.cfg.LookbackDays; back++ {
		scanDay := t.day.AddDate(0, 0, -back)
		candidates := t.candidatesFor(scanDay)
		if len(candidates) == 0 {
			continue
		}
		for _, lv := range candidates {
			t.levels[lv.ID] = lv
		}
		t.log.Info().
			Time("session", t.day).
			Time("scanned_day", scanDay).
			Int("levels", len(candidates)).
			Msg("reconnaissance armed fresh levels")
		return t.FreshLevels()
	}

	t.log.Info().
		Time("session", t.day).
		Int("lookback_days", t.cfg.LookbackDays).
		Msg("reconnaissance found no fresh levels; non-entry day")
	return nil
}

// candidatesFor finds untouched extrema formed on scanDay.
func (t *Tracker) candidatesFor(scanDay time.Time) []*model.SwingLevel {
	w := t.cfg.FractalWing
	var out []*model.SwingLevel

	for i := w; i < len(t.history)-w; i++ {
		bar := t.history[i]
		if !t.dayOf(bar.OpenTime).Equal(scanDay) {
			continue
		}
		if t.isSwingHigh(i) && !t.tradedThrough(i, bar.High, model.LevelHigh) {
			out = append(out, t.newLevel(bar, model.LevelHigh, bar.High))
		}
		if t.isSwingLow(i) && !t.tradedThrough(i, bar.Low, model.LevelLow) {
			out = append(out, t.newLevel(bar, model.LevelLow, bar.Low))
		}
	}

	return t.dedup(out)
}

func (t *Tracker) isSwingHigh(i int) bool {
	h := t.history[i].High
	for d := 1; d <= t.cfg.FractalWing; d++ {
		if t.history[i-d].High >= h || t.history[i+d].High >= h {
			return false
		}
	}
	return true
}

func (t *Tracker) isSwingLow(i int) bool {
	l := t.history[i].Low
	for d := 1; d <= t.cfg.FractalWing; d++ {
		if t.history[i-d].Low <= l || t.history[i+d].Low <= l {
			return false
		}
	}
	return true
}

// tradedThrough reports whether any bar after formation closed beyond the
// level. Only untouched liquidity is retained.
func (t *Tracker) tradedThrough(formedIdx int, price float64, kind model.LevelKind) bool {
	for j := formedIdx + 1; j < len(t.history); j++ {
		c := t.history[j].Close
		if kind == model.LevelHigh && c > price {
			return true
		}
		if kind == model.LevelLow && c < price {
			return true
		}
	}
	return false
}

// dedup collapses candidates at equal price within the tolerance band,
// keeping the earlier-formed level of each pair.
func (t *Tracker) dedup(in []*model.SwingLevel) []*model.SwingLevel {
	sort.Slice(in, func(i, j int) bool { return in[i].FormedAt.Before(in[j].FormedAt) })
	var out []*model.SwingLevel
	for _, lv := range in {
		dup := false
		for _, kept := range out {
			if kept.Kind == lv.Kind && math.Abs(kept.Price-lv.Price) <= t.cfg.Tolerance {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, lv)
		}
	}
	return out
}

func (t *Tracker) newLevel(bar model.Bar, kind model.LevelKind, price float64) *model.SwingLevel {
	return &model.SwingLevel{
		ID:        uuid.NewString(),
		Price:     price,
		Kind:      kind,
		FormedAt:  bar.OpenTime,
		OriginDay: t.day,
		Status:    model.LevelFresh,
	}
}

// FreshLevels returns copies of the currently fresh levels.
func (t *Tracker) FreshLevels() []model.SwingLevel {
	var out []model.SwingLevel
	for _, lv := range t.levels {
		if lv.Status == model.LevelFresh {
			out = append(out, *lv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

// Level returns a copy of the level with the given ID.
func (t *Tracker) Level(id string) (model.SwingLevel, bool) {
	lv, ok := t.levels[id]
	if !ok {
		return model.SwingLevel{}, false
	}
	return *lv, true
}

// MarkSweptPending transitions a fresh level to SWEPT_PENDING when a raid is
// detected. The sweep state machine drives this through the engine.
func (t *Tracker) MarkSweptPending(id string) error {
	return t.transition(id, model.LevelSweptPending)
}

// ResolveSweep finalizes a pending sweep. A confirmed sweep consumes the
// level (TRADED). A failed one reverts it to FRESH only when re-arming is
// allowed and its touch budget is not spent; otherwise the level is
// INVALIDATED, or EXPIRED when it was touched too often.
func (t *Tracker) ResolveSweep(id string, confirmed, rearm bool) (model.LevelStatus, error) {
	lv, ok := t.levels[id]
	if !ok {
		return "", fmt.Errorf("unknown level %s", id)
	}
	if lv.Status != model.LevelSweptPending {
		return "", fmt.Errorf("level %s: resolve from %s", id, lv.Status)
	}

	if confirmed {
		if err := t.transition(id, model.LevelTraded); err != nil {
			return "", err
		}
		return model.LevelTraded, nil
	}

	lv.Touches++
	switch {
	case rearm && lv.Touches < t.cfg.MaxTouches:
		lv.Status = model.LevelFresh
		t.log.Debug().Str("level_id", id).Int("touches", lv.Touches).Msg("level re-armed after failed confirmation")
		return model.LevelFresh, nil
	case lv.Touches >= t.cfg.MaxTouches:
		if err := t.transition(id, model.LevelExpired); err != nil {
			return "", err
		}
		return model.LevelExpired, nil
	default:
		if err := t.transition(id, model.LevelInvalidated); err != nil {
			return "", err
		}
		return model.LevelInvalidated, nil
	}
}

// transition applies a monotonic status change. Terminal states never move
// again; FRESH is only reachable again through ResolveSweep's re-arm path.
func (t *Tracker) transition(id string, to model.LevelStatus) error {
	lv, ok := t.levels[id]
	if !ok {
		return fmt.Errorf("unknown level %s", id)
	}
	from := lv.Status
	if from.Terminal() {
		return fmt.Errorf("level %s: %s is terminal", id, from)
	}

	valid := false
	switch to {
	case model.LevelSweptPending:
		valid = from == model.LevelFresh
	case model.LevelTraded, model.LevelInvalidated:
		valid = from == model.LevelSweptPending
	case model.LevelExpired:
		valid = true // any non-terminal level can expire
	}
	if !valid {
		return fmt.Errorf("level %s: invalid transition %s -> %s", id, from, to)
	}

	lv.Status = to
	t.log.Debug().
		Str("level_id", id).
		Str("from", string(from)).
		Str("to", string(to)).
		Float64("price", lv.Price).
		Msg("level status change")
	return nil
}

func (t *Tracker) expireAll(reason string) {
	for id, lv := range t.levels {
		if !lv.Status.Terminal() {
			lv.Status = model.LevelExpired
		}
		delete(t.levels, id)
	}
	if reason != "" && !t.day.IsZero() {
		t.log.Debug().Str("reason", reason).Msg("level set cleared")
	}
}

func (t *Tracker) dayOf(ts time.Time) time.Time {
	ts = ts.In(t.loc)
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.loc)
}
