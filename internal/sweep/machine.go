package sweep

import (
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"SweepSentinel/internal/model"
)

// Config holds the confirmation policy.
type Config struct {
	// NextBarDeadline allows the bar immediately after the raid to confirm;
	// otherwise only the raid bar itself can.
	NextBarDeadline bool
	// Rearm lets a level whose raid failed confirmation be raided again,
	// instead of the strict single-shot reading of the rule.
	Rearm bool
}

// Result is one state-machine step outcome for a level. The engine applies
// the corresponding level status change; the machine never mutates levels.
type Result struct {
	Event model.SweepEvent
	Bias  *model.Bias // set when Event.Outcome is CONFIRMED
}

type pending struct {
	event   model.SweepEvent
	raidBar model.Bar
}

// Machine tracks raid → closure-confirmation → outcome per swing level.
// At most one pending sweep event exists per level at any time.
type Machine struct {
	cfg     Config
	log     zerolog.Logger
	pending map[string]*pending // keyed by level ID
}

// NewMachine creates the sweep-confirmation state machine.
func NewMachine(cfg Config, log zerolog.Logger) *Machine {
	return &Machine{
		cfg:     cfg,
		log:     log.With().Str("component", "sweep").Logger(),
		pending: map[string]*pending{},
	}
}

// OnBar advances the machine with one closed H1 bar. fresh is the tracker's
// current fresh set; raids are only detected against it. Results carry both
// resolutions of previously pending events and raids detected on this bar.
func (m *Machine) OnBar(bar model.Bar, fresh []model.SwingLevel) []Result {
	if bar.Timeframe != model.H1 || !bar.Closed {
		return nil
	}

	var out []Result

	// Resolve pending events first: their deadline is this bar or already past.
	for _, id := range m.pendingOrder() {
		p := m.pending[id]
		if bar.OpenTime.Before(p.event.Deadline) {
			continue
		}
		confirmed := bar.OpenTime.Equal(p.event.Deadline) && closedInside(bar, p.event)
		out = append(out, m.resolve(id, p, bar, confirmed))
	}

	// Detect new raids.
	for _, lv := range fresh {
		if _, busy := m.pending[lv.ID]; busy {
			continue
		}
		if !raided(bar, lv) {
			continue
		}
		out = append(out, m.raid(bar, lv))
	}

	return out
}

// raided reports whether the bar's wick traded through the level.
func raided(bar model.Bar, lv model.SwingLevel) bool {
	if lv.Kind == model.LevelHigh {
		return bar.High > lv.Price
	}
	return bar.Low < lv.Price
}

// closedInside checks the body close strictly back on the correct side of
// the level. Wicks never confirm.
func closedInside(bar model.Bar, ev model.SweepEvent) bool {
	if ev.Kind == model.LevelHigh {
		return bar.Close < ev.Level
	}
	return bar.Close > ev.Level
}

func (m *Machine) raid(bar model.Bar, lv model.SwingLevel) Result {
	ev := model.SweepEvent{
		ID:      uuid.NewString(),
		LevelID: lv.ID,
		Level:   lv.Price,
		Kind:    lv.Kind,
		RaidBar: bar.OpenTime,
		Outcome: model.SweepPending,
	}

	m.log.Info().
		Str("level_id", lv.ID).
		Float64("level", lv.Price).
		Str("kind", string(lv.Kind)).
		Time("raid_bar", bar.OpenTime).
		Msg("level raided")

	// Same-bar confirmation is checked immediately.
	ev.Deadline = bar.OpenTime
	if closedInside(bar, ev) {
		p := &pending{event: ev, raidBar: bar}
		return m.resolve(lv.ID, p, bar, true)
	}

	if !m.cfg.NextBarDeadline {
		p := &pending{event: ev, raidBar: bar}
		return m.resolve(lv.ID, p, bar, false)
	}

	ev.Deadline = bar.OpenTime.Add(model.H1.Duration())
	m.pending[lv.ID] = &pending{event: ev, raidBar: bar}
	return Result{Event: ev}
}

func (m *Machine) resolve(levelID string, p *pending, bar model.Bar, confirmed bool) Result {
	delete(m.pending, levelID)

	ev := p.event
	if confirmed {
		ev.Outcome = model.SweepConfirmed
	} else {
		ev.Outcome = model.SweepInvalid
	}

	res := Result{Event: ev}
	if confirmed {
		side := model.Short
		if ev.Kind == model.LevelLow {
			side = model.Long
		}
		res.Bias = &model.Bias{
			Side:        side,
			LevelID:     ev.LevelID,
			LevelPrice:  ev.Level,
			ActivatedAt: bar.CloseTime(),
			RaidHigh:    p.raidBar.High,
			RaidLow:     p.raidBar.Low,
		}
	}

	m.log.Info().
		Str("level_id", levelID).
		Float64("level", ev.Level).
		Str("outcome", string(ev.Outcome)).
		Float64("close", bar.Close).
		Msg("sweep resolved")
	return res
}

// pendingOrder returns pending level IDs ordered by raid time, then level ID.
// Map iteration order must never leak into results: downstream arming,
// entries, and journal rows all follow result order.
func (m *Machine) pendingOrder() []string {
	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := m.pending[ids[i]].event, m.pending[ids[j]].event
		if !a.RaidBar.Equal(b.RaidBar) {
			return a.RaidBar.Before(b.RaidBar)
		}
		return a.LevelID < b.LevelID
	})
	return ids
}

// CancelAll drops every pending event, marking them INVALID so late-arriving
// bars cannot resurrect stale state. Used on session rollover and flatten.
func (m *Machine) CancelAll(reason string) []model.SweepEvent {
	var out []model.SweepEvent
	for _, id := range m.pendingOrder() {
		p := m.pending[id]
		p.event.Outcome = model.SweepInvalid
		out = append(out, p.event)
		delete(m.pending, id)
	}
	if len(out) > 0 {
		m.log.Info().Str("reason", reason).Int("cancelled", len(out)).Msg("pending sweeps cancelled")
	}
	return out
}

// PendingCount is exposed for tests and status reporting.
func (m *Machine) PendingCount() int { return len(m.pending) }

// Rearm reports the configured re-arm policy for failed confirmations.
func (m *Machine) Rearm() bool { return m.cfg.Rearm }
