package model

import "time"

// LevelKind distinguishes swing highs from swing lows.
type LevelKind string

const (
	LevelHigh LevelKind = "HIGH"
	LevelLow  LevelKind = "LOW"
)

// LevelStatus is the lifecycle state of a swing level.
// Transitions are monotonic: FRESH → SWEPT_PENDING → {FRESH after a failed
// confirmation, if untouched and re-arming is allowed} → TRADED | EXPIRED |
// INVALIDATED. A TRADED or EXPIRED level never becomes FRESH again.
type LevelStatus string

const (
	LevelFresh        LevelStatus = "FRESH"
	LevelSweptPending LevelStatus = "SWEPT_PENDING"
	LevelInvalidated  LevelStatus = "INVALIDATED"
	LevelTraded       LevelStatus = "TRADED"
	LevelExpired      LevelStatus = "EXPIRED"
)

// Terminal reports whether the status permits no further transitions.
func (s LevelStatus) Terminal() bool {
	return s == LevelTraded || s == LevelExpired || s == LevelInvalidated
}

// SwingLevel is an untraded pool of liquidity on the H1 series.
// The levels tracker is the sole owner and mutator of Status.
type SwingLevel struct {
	ID        string
	Price     float64
	Kind      LevelKind
	FormedAt  time.Time
	OriginDay time.Time // midnight of the session the level was armed for
	Status    LevelStatus
	Touches   int // raids seen without a confirmed sweep
}
