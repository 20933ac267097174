package model

import "time"

// Target is one exit tier of a trade intent. Fractions across a intent's
// targets always sum to 1.0.
type Target struct {
	Price    float64
	Fraction float64
	Filled   bool
}

// IntentStatus is the lifecycle state of a trade intent.
type IntentStatus string

const (
	IntentOpen      IntentStatus = "OPEN"
	IntentResolved  IntentStatus = "RESOLVED"
	IntentCancelled IntentStatus = "CANCELLED"
)

// IntentOutcome classifies a resolved intent.
type IntentOutcome string

const (
	OutcomeWin       IntentOutcome = "WIN"
	OutcomeLoss      IntentOutcome = "LOSS"
	OutcomeBreakeven IntentOutcome = "BREAKEVEN"
)

// TradeIntent is the engine's abstract order: what to do, never how the
// broker does it. Immutable after creation except for lifecycle mutation by
// the risk manager (breakeven move, partial fills, resolution).
type TradeIntent struct {
	ID         string
	Instrument string
	Side       Side
	EntryPrice float64
	StopPrice  float64
	Targets    []Target
	Size       float64
	Session    time.Time // midnight of the trading day the intent belongs to
	CreatedAt  time.Time

	Status           IntentStatus
	Outcome          IntentOutcome
	BreakevenApplied bool
	FilledFraction   float64
	RealizedPoints   float64 // signed, per contract
}

// InitialRisk returns the entry-to-stop distance in points.
func (ti *TradeIntent) InitialRisk() float64 {
	if ti.Side == Short {
		return ti.StopPrice - ti.EntryPrice
	}
	return ti.EntryPrice - ti.StopPrice
}

// LifecycleKind labels a lifecycle-mutation event emitted by the risk manager.
type LifecycleKind string

const (
	LifecyclePartialFill   LifecycleKind = "PARTIAL_FILL"
	LifecycleBreakevenMove LifecycleKind = "BREAKEVEN_MOVE"
	LifecycleResolved      LifecycleKind = "RESOLVED"
	LifecycleRiskOff       LifecycleKind = "RISK_OFF"
	LifecycleDayExhausted  LifecycleKind = "DAY_EXHAUSTED"
	LifecycleLossCapHit    LifecycleKind = "LOSS_CAP_HIT"
	LifecycleCancelled     LifecycleKind = "CANCELLED"
)

// LifecycleEvent reports a mutation of an open trade intent, or a per-day
// policy outcome (day exhausted, loss cap), to the execution collaborator.
type LifecycleEvent struct {
	IntentID string // empty for day-level events
	Kind     LifecycleKind
	Time     time.Time
	Price    float64
	Fraction float64
	Note     string
}

// Fill is an asynchronous confirmation from the execution collaborator,
// keyed by intent ID. Duplicate fills must be applied at most once.
type Fill struct {
	IntentID string
	Price    float64
	Fraction float64
	Time     time.Time
}
