package risk

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"SweepSentinel/internal/model"
)

// Tier configures one exit target. Points takes precedence over RMultiple.
type Tier struct {
	RMultiple float64
	Points    float64
	Fraction  float64
}

// Config holds the risk policy.
type Config struct {
	StopMode          string // "structural" or "htf"
	StopBuffer        float64
	TargetMode        string // "fixed_r" or "multi_tier"
	Tiers             []Tier
	SizeMode          string // "fixed" or "percent"
	FixedContracts    float64
	RiskPercent       float64
	MaxContracts      float64
	Equity            float64
	PointValue        float64
	MaxAttemptsPerDay int
	DailyLossCapPct   float64

	ChopStartMin             int // minutes after midnight
	ChopEndMin               int
	RiskOffMin               int
	AllowEntriesAfterRiskOff bool
}

// EntryParams carries an entry trigger into the risk manager without
// coupling it to the trigger package.
type EntryParams struct {
	Instrument string
	Side       model.Side
	Entry      float64
	StructStop float64 // structural stop from the fine-timeframe pattern
	RaidHigh   float64 // H1 raid bar extremes for the wider stop
	RaidLow    float64
	Time       time.Time
}

// Decision is the outcome of an entry request. Exactly one of Intent or
// Refusal is set; a refusal is a normal policy outcome, never an error.
type Decision struct {
	Intent  *model.TradeIntent
	Refusal *model.LifecycleEvent
}

// Manager turns entry triggers into trade intents and manages them to
// resolution: stop selection, target tiers, sizing, the two-bullet rule,
// time-based risk-off and the daily loss cap. All per-day limits come from
// the DayState passed into each call.
type Manager struct {
	cfg     Config
	log     zerolog.Logger
	loc     *time.Location
	intents map[string]*model.TradeIntent
}

// NewManager creates a risk manager. loc is the engine timezone used for
// the chop window and risk-off clock.
func NewManager(cfg Config, loc *time.Location, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		loc:     loc,
		log:     log.With().Str("component", "risk").Logger(),
		intents: map[string]*model.TradeIntent{},
	}
}

// BuildIntent evaluates an entry trigger against the day's limits and, when
// allowed, produces a trade intent with stop, targets and size.
func (m *Manager) BuildIntent(p EntryParams, day *model.DayState) Decision {
	if refusal := m.refusal(p, day); refusal != nil {
		return Decision{Refusal: refusal}
	}

	stop := m.stopPrice(p)
	risk := p.Entry - stop
	if p.Side == model.Short {
		risk = stop - p.Entry
	}
	if risk <= 0 {
		// Degenerate structure; skip rather than size a negative risk.
		m.log.Warn().Float64("entry", p.Entry).Float64("stop", stop).Msg("non-positive risk distance; entry skipped")
		return Decision{Refusal: &model.LifecycleEvent{
			Kind: model.LifecycleCancelled,
			Time: p.Time,
			Note: "non-positive risk distance",
		}}
	}

	size := m.positionSize(risk)
	if size < 1 {
		m.log.Warn().Float64("risk_points", risk).Msg("position size rounds to zero; entry skipped")
		return Decision{Refusal: &model.LifecycleEvent{
			Kind: model.LifecycleCancelled,
			Time: p.Time,
			Note: "position size rounds to zero",
		}}
	}

	intent := &model.TradeIntent{
		ID:         uuid.NewString(),
		Instrument: p.Instrument,
		Side:       p.Side,
		EntryPrice: p.Entry,
		StopPrice:  stop,
		Targets:    m.targets(p.Side, p.Entry, risk),
		Size:       size,
		Session:    day.Date,
		CreatedAt:  p.Time,
		Status:     model.IntentOpen,
	}
	m.intents[intent.ID] = intent

	m.log.Info().
		Str("intent_id", intent.ID).
		Str("side", string(p.Side)).
		Float64("entry", p.Entry).
		Float64("stop", stop).
		Float64("size", size).
		Int("targets", len(intent.Targets)).
		Msg("trade intent created")
	return Decision{Intent: intent}
}

func (m *Manager) refusal(p EntryParams, day *model.DayState) *model.LifecycleEvent {
	if day.AttemptsUsed >= m.cfg.MaxAttemptsPerDay {
		m.log.Info().Int("attempts", day.AttemptsUsed).Msg("entry refused: day exhausted")
		return &model.LifecycleEvent{Kind: model.LifecycleDayExhausted, Time: p.Time,
			Note: fmt.Sprintf("attempts %d/%d used", day.AttemptsUsed, m.cfg.MaxAttemptsPerDay)}
	}
	if m.lossCapReached(day) {
		m.log.Info().Float64("realized_loss", day.RealizedLoss).Msg("entry refused: daily loss cap")
		return &model.LifecycleEvent{Kind: model.LifecycleLossCapHit, Time: p.Time,
			Note: fmt.Sprintf("realized loss %.2f over cap", day.RealizedLoss)}
	}
	if !m.cfg.AllowEntriesAfterRiskOff && (day.RiskOffTriggered || m.minutes(p.Time) >= m.cfg.RiskOffMin) {
		m.log.Info().Time("at", p.Time).Msg("entry refused: risk-off window")
		return &model.LifecycleEvent{Kind: model.LifecycleRiskOff, Time: p.Time, Note: "no new entries after risk-off"}
	}
	return nil
}

func (m *Manager) lossCapReached(day *model.DayState) bool {
	if m.cfg.Equity <= 0 {
		return false
	}
	return day.RealizedLoss >= m.cfg.Equity*m.cfg.DailyLossCapPct/100
}

// stopPrice selects the structural or the wider H1-range stop. The two are
// mutually exclusive: inside the chop window the H1 stop substitutes for the
// structural one.
func (m *Manager) stopPrice(p EntryParams) float64 {
	useHTF := m.cfg.StopMode == "htf" || m.inChopWindow(p.Time)

	if p.Side == model.Short {
		stop := p.StructStop
		if useHTF {
			stop = p.RaidHigh
		}
		return stop + m.cfg.StopBuffer
	}
	stop := p.StructStop
	if useHTF {
		stop = p.RaidLow
	}
	return stop - m.cfg.StopBuffer
}

func (m *Manager) inChopWindow(t time.Time) bool {
	min := m.minutes(t)
	return min >= m.cfg.ChopStartMin && min < m.cfg.ChopEndMin
}

func (m *Manager) minutes(t time.Time) int {
	t = t.In(m.loc)
	return t.Hour()*60 + t.Minute()
}

func (m *Manager) targets(side model.Side, entry, risk float64) []model.Target {
	dir := 1.0
	if side == model.Short {
		dir = -1.0
	}
	var out []model.Target
	for _, tier := range m.cfg.Tiers {
		dist := tier.Points
		if dist <= 0 {
			dist = tier.RMultiple * risk
		}
		out = append(out, model.Target{
			Price:    entry + dir*dist,
			Fraction: tier.Fraction,
		})
	}
	return out
}

func (m *Manager) positionSize(riskPoints float64) float64 {
	var size float64
	switch m.cfg.SizeMode {
	case "percent":
		riskBudget := m.cfg.Equity * m.cfg.RiskPercent / 100
		size = math.Floor(riskBudget / (riskPoints * m.cfg.PointValue))
	default:
		size = m.cfg.FixedContracts
	}
	if size > m.cfg.MaxContracts {
		size = m.cfg.MaxContracts
	}
	return size
}

// OnBar advances every open intent with one closed bar of the traded
// instrument's fine timeframe: stop hits, target fills and the time-based
// risk-off are evaluated in stream-time order. Stop checks run before target
// checks on the same bar.
func (m *Manager) OnBar(bar model.Bar, day *model.DayState) []model.LifecycleEvent {
	var events []model.LifecycleEvent

	for _, intent := range m.sortedOpen() {
		events = append(events, m.advance(intent, bar, day)...)
	}

	// Time-based risk reduction applies once per day.
	if !day.RiskOffTriggered && m.minutes(bar.CloseTime()) >= m.cfg.RiskOffMin {
		day.RiskOffTriggered = true
		events = append(events, m.riskOff(bar.CloseTime())...)
	}

	return events
}

func (m *Manager) advance(intent *model.TradeIntent, bar model.Bar, day *model.DayState) []model.LifecycleEvent {
	var events []model.LifecycleEvent

	if m.stopHit(intent, bar) {
		events = append(events, m.resolveAtStop(intent, bar.CloseTime(), day))
		return events
	}

	for i := range intent.Targets {
		tg := &intent.Targets[i]
		if tg.Filled || !m.targetHit(intent, *tg, bar) {
			continue
		}
		events = append(events, m.fillTarget(intent, i, tg.Price, bar.CloseTime(), day)...)
		if intent.Status != model.IntentOpen {
			break
		}
	}
	return events
}

func (m *Manager) stopHit(intent *model.TradeIntent, bar model.Bar) bool {
	if intent.Side == model.Short {
		return bar.High >= intent.StopPrice
	}
	return bar.Low <= intent.StopPrice
}

func (m *Manager) targetHit(intent *model.TradeIntent, tg model.Target, bar model.Bar) bool {
	if intent.Side == model.Short {
		return bar.Low <= tg.Price
	}
	return bar.High >= tg.Price
}

// fillTarget applies one target fill: realized points, a breakeven move
// after the first partial, and resolution when the last tier fills. It is
// the single path for both optimistic bar-driven fills and reconciled
// executor confirmations, which makes duplicates naturally idempotent.
func (m *Manager) fillTarget(intent *model.TradeIntent, idx int, price float64, at time.Time, day *model.DayState) []model.LifecycleEvent {
	tg := &intent.Targets[idx]
	if tg.Filled {
		return nil
	}
	tg.Filled = true
	intent.FilledFraction += tg.Fraction
	intent.RealizedPoints += tg.Fraction * m.points(intent, price)

	events := []model.LifecycleEvent{{
		IntentID: intent.ID,
		Kind:     model.LifecyclePartialFill,
		Time:     at,
		Price:    price,
		Fraction: tg.Fraction,
	}}

	if intent.FilledFraction >= 1-1e-9 {
		events = append(events, m.resolve(intent, at, day))
		return events
	}

	// Stop to breakeven for the remainder, exactly once.
	if !intent.BreakevenApplied {
		intent.BreakevenApplied = true
		intent.StopPrice = intent.EntryPrice
		events = append(events, model.LifecycleEvent{
			IntentID: intent.ID,
			Kind:     model.LifecycleBreakevenMove,
			Time:     at,
			Price:    intent.EntryPrice,
		})
		m.log.Info().Str("intent_id", intent.ID).Msg("stop moved to breakeven after partial fill")
	}
	return events
}

func (m *Manager) resolveAtStop(intent *model.TradeIntent, at time.Time, day *model.DayState) model.LifecycleEvent {
	remaining := 1 - intent.FilledFraction
	intent.RealizedPoints += remaining * m.points(intent, intent.StopPrice)
	intent.FilledFraction = 1
	return m.resolve(intent, at, day)
}

// resolve finalizes an intent and increments the day's attempt count. This
// is the only place attempts_used moves.
func (m *Manager) resolve(intent *model.TradeIntent, at time.Time, day *model.DayState) model.LifecycleEvent {
	intent.Status = model.IntentResolved
	switch {
	case intent.RealizedPoints > 1e-9:
		intent.Outcome = model.OutcomeWin
	case intent.RealizedPoints < -1e-9:
		intent.Outcome = model.OutcomeLoss
	default:
		intent.Outcome = model.OutcomeBreakeven
	}

	day.AttemptsUsed++
	day.RealizedPoints += intent.RealizedPoints * intent.Size
	if intent.RealizedPoints < 0 {
		day.RealizedLoss += -intent.RealizedPoints * intent.Size * m.cfg.PointValue
	}

	m.log.Info().
		Str("intent_id", intent.ID).
		Str("outcome", string(intent.Outcome)).
		Float64("points", intent.RealizedPoints).
		Int("attempts_used", day.AttemptsUsed).
		Msg("trade intent resolved")

	return model.LifecycleEvent{
		IntentID: intent.ID,
		Kind:     model.LifecycleResolved,
		Time:     at,
		Price:    intent.StopPrice,
		Note:     string(intent.Outcome),
	}
}

// points returns the signed per-contract result of exiting at price.
func (m *Manager) points(intent *model.TradeIntent, price float64) float64 {
	if intent.Side == model.Short {
		return intent.EntryPrice - price
	}
	return price - intent.EntryPrice
}

func (m *Manager) riskOff(at time.Time) []model.LifecycleEvent {
	var events []model.LifecycleEvent
	for _, intent := range m.sortedOpen() {
		ev := model.LifecycleEvent{
			IntentID: intent.ID,
			Kind:     model.LifecycleRiskOff,
			Time:     at,
			Note:     "time-based risk reduction",
		}
		if !intent.BreakevenApplied {
			intent.BreakevenApplied = true
			intent.StopPrice = intent.EntryPrice
			ev.Note = "stop moved to breakeven at risk-off"
			ev.Price = intent.EntryPrice
		}
		events = append(events, ev)
		m.log.Info().Str("intent_id", intent.ID).Msg("risk-off applied to open intent")
	}
	return events
}

// ApplyFill reconciles an asynchronous fill confirmation from the execution
// collaborator. Fills for unknown or already-resolved intents, and
// duplicates of already-applied partials, are recorded and ignored.
func (m *Manager) ApplyFill(fill model.Fill, day *model.DayState) ([]model.LifecycleEvent, bool) {
	intent, ok := m.intents[fill.IntentID]
	if !ok || intent.Status != model.IntentOpen {
		m.log.Warn().Str("intent_id", fill.IntentID).Msg("fill for unknown or resolved intent ignored")
		return nil, false
	}

	for i := range intent.Targets {
		tg := intent.Targets[i]
		if tg.Filled || math.Abs(tg.Price-fill.Price) > 1e-9 {
			continue
		}
		return m.fillTarget(intent, i, fill.Price, fill.Time, day), true
	}

	m.log.Warn().
		Str("intent_id", fill.IntentID).
		Float64("price", fill.Price).
		Msg("duplicate or unmatched fill ignored")
	return nil, false
}

// CancelIntent withdraws a single intent without counting an attempt; used
// when the execution venue rejects a submission.
func (m *Manager) CancelIntent(id, reason string, at time.Time) (model.LifecycleEvent, bool) {
	intent, ok := m.intents[id]
	if !ok || intent.Status != model.IntentOpen {
		return model.LifecycleEvent{}, false
	}
	intent.Status = model.IntentCancelled
	m.log.Info().Str("intent_id", id).Str("reason", reason).Msg("intent cancelled")
	return model.LifecycleEvent{
		IntentID: id,
		Kind:     model.LifecycleCancelled,
		Time:     at,
		Note:     reason,
	}, true
}

// CancelAll closes out every open intent without counting an attempt; used
// for flatten signals and session rollover.
func (m *Manager) CancelAll(reason string, at time.Time) []model.LifecycleEvent {
	var events []model.LifecycleEvent
	for _, intent := range m.sortedOpen() {
		intent.Status = model.IntentCancelled
		events = append(events, model.LifecycleEvent{
			IntentID: intent.ID,
			Kind:     model.LifecycleCancelled,
			Time:     at,
			Note:     reason,
		})
	}
	return events
}

// ForceRiskOff applies the time-based risk reduction outside the bar path,
// for the wall-clock failsafe used when the feed stalls.
func (m *Manager) ForceRiskOff(at time.Time, day *model.DayState) []model.LifecycleEvent {
	if day.RiskOffTriggered {
		return nil
	}
	day.RiskOffTriggered = true
	return m.riskOff(at)
}

// PruneSettled drops resolved and cancelled intents, typically at session
// rollover. Open intents are never pruned.
func (m *Manager) PruneSettled() {
	for id, it := range m.intents {
		if it.Status != model.IntentOpen {
			delete(m.intents, id)
		}
	}
}

// Intent returns a copy of a tracked intent, open or settled.
func (m *Manager) Intent(id string) (model.TradeIntent, bool) {
	it, ok := m.intents[id]
	if !ok {
		return model.TradeIntent{}, false
	}
	return *it, true
}

// OpenIntents returns copies of the currently open intents.
func (m *Manager) OpenIntents() []model.TradeIntent {
	var out []model.TradeIntent
	for _, it := range m.sortedOpen() {
		out = append(out, *it)
	}
	return out
}

func (m *Manager) sortedOpen() []*model.TradeIntent {
	out := make([]*model.TradeIntent, 0, len(m.intents))
	for _, it := range m.intents {
		if it.Status != model.IntentOpen {
			continue
		}
		out = append(out, it)
	}
	// Stable order for deterministic replay.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
