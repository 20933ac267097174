package model

import "time"

// SweepOutcome is the resolution state of a sweep event.
type SweepOutcome string

const (
	SweepPending   SweepOutcome = "PENDING"
	SweepConfirmed SweepOutcome = "CONFIRMED"
	SweepInvalid   SweepOutcome = "INVALID"
)

// SweepEvent tracks one raid of a swing level through to confirmation or
// invalidation. It references the level by ID; it does not own it.
type SweepEvent struct {
	ID       string
	LevelID  string
	Level    float64
	Kind     LevelKind
	RaidBar  time.Time // open time of the H1 bar whose wick traded through
	Deadline time.Time // open time of the last H1 bar allowed to confirm
	Outcome  SweepOutcome
}

// Side is a trade direction.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Opposite returns the mirrored direction.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// Bias is the directional output of a confirmed sweep: short bias off a swept
// high, long bias off a swept low. It arms the execution trigger engine.
type Bias struct {
	Side        Side
	LevelID     string
	LevelPrice  float64
	ActivatedAt time.Time // close time of the confirming H1 bar
	RaidHigh    float64   // H1 raid bar extremes, for the htf stop mode
	RaidLow     float64
}
