package model

import "time"

// DayState carries the per-session limits the risk manager consults on every
// decision. It is passed explicitly to decision calls rather than held as
// ambient state, so synthetic day histories are testable.
type DayState struct {
	Date             time.Time // midnight, engine timezone
	AttemptsUsed     int       // resolved trade attempts, capped by config
	RiskOffTriggered bool
	RealizedLoss     float64 // positive number, account currency
	RealizedPoints   float64 // signed, for reporting
}

// SameDay reports whether t falls on this state's trading day.
func (d *DayState) SameDay(t time.Time) bool {
	y1, m1, d1 := d.Date.Date()
	y2, m2, d2 := t.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
