package smt

import (
	"sync"

	"github.com/rs/zerolog"

	"SweepSentinel/internal/model"
)

// Config tunes the divergence check.
type Config struct {
	Timeframe model.Timeframe
	Lookback  int // bars considered per instrument
	Wing      int // fractal wing for swing detection
}

// Qualifier gates entries on SMT divergence between the primary instrument
// and a correlated reference: a short is confirmed when the primary prints a
// higher high while the reference prints a lower high, and mirrored for
// longs. It is a gate, never a trigger.
//
// Instruments may be fed from independent goroutines; reads are only
// meaningful once both series have closed the same bar time, which Confirmed
// enforces under the same lock that guards the writes.
type Qualifier struct {
	mu  sync.Mutex
	cfg Config
	log zerolog.Logger

	primary   []model.Bar
	reference []model.Bar
}

// NewQualifier creates an SMT qualifier.
func NewQualifier(cfg Config, log zerolog.Logger) *Qualifier {
	if cfg.Wing < 1 {
		cfg.Wing = 2
	}
	if cfg.Lookback < 2*cfg.Wing+1 {
		cfg.Lookback = 20
	}
	return &Qualifier{cfg: cfg, log: log.With().Str("component", "smt").Logger()}
}

// OnPrimaryBar records a closed bar of the primary instrument.
func (q *Qualifier) OnPrimaryBar(bar model.Bar) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.primary = appendBounded(q.primary, bar, q.cfg.Lookback, q.cfg.Timeframe)
}

// OnReferenceBar records a closed bar of the reference instrument.
func (q *Qualifier) OnReferenceBar(bar model.Bar) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reference = appendBounded(q.reference, bar, q.cfg.Lookback, q.cfg.Timeframe)
}

func appendBounded(s []model.Bar, bar model.Bar, limit int, tf model.Timeframe) []model.Bar {
	if bar.Timeframe != tf || !bar.Closed {
		return s
	}
	s = append(s, bar)
	if len(s) > limit {
		s = s[len(s)-limit:]
	}
	return s
}

// Synced reports whether both series have closed the same latest bar time.
// The gate must not be read across a half-updated boundary.
func (q *Qualifier) Synced() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.syncedLocked()
}

func (q *Qualifier) syncedLocked() bool {
	if len(q.primary) == 0 || len(q.reference) == 0 {
		return false
	}
	return q.primary[len(q.primary)-1].OpenTime.Equal(q.reference[len(q.reference)-1].OpenTime)
}

// Confirmed reports whether the divergence gate currently reads "confirmed"
// for the given direction. Unsynced or structurally thin series suppress
// entries rather than erroring.
func (q *Qualifier) Confirmed(side model.Side) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.syncedLocked() {
		q.log.Debug().Msg("smt gate read while series unsynced; suppressing")
		return false
	}

	if side == model.Short {
		ph, pOK := lastTwoSwings(q.primary, q.cfg.Wing, true)
		rh, rOK := lastTwoSwings(q.reference, q.cfg.Wing, true)
		if !pOK || !rOK {
			return false
		}
		return ph[1] > ph[0] && rh[1] < rh[0]
	}

	pl, pOK := lastTwoSwings(q.primary, q.cfg.Wing, false)
	rl, rOK := lastTwoSwings(q.reference, q.cfg.Wing, false)
	if !pOK || !rOK {
		return false
	}
	return pl[1] < pl[0] && rl[1] > rl[0]
}

// lastTwoSwings returns the two most recent confirmed swing extremes in
// chronological order.
func lastTwoSwings(bars []model.Bar, wing int, highs bool) ([2]float64, bool) {
	var found []float64
	for i := wing; i < len(bars)-wing; i++ {
		if highs && isSwingHigh(bars, i, wing) {
			found = append(found, bars[i].High)
		}
		if !highs && isSwingLow(bars, i, wing) {
			found = append(found, bars[i].Low)
		}
	}
	if len(found) < 2 {
		return [2]float64{}, false
	}
	return [2]float64{found[len(found)-2], found[len(found)-1]}, true
}

func isSwingHigh(bars []model.Bar, i, w int) bool {
	h := bars[i].High
	for d := 1; d <= w; d++ {
		if bars[i-d].High >= h || bars[i+d].High >= h {
			return false
		}
	}
	return true
}

func isSwingLow(bars []model.Bar, i, w int) bool {
	l := bars[i].Low
	for d := 1; d <= w; d++ {
		if bars[i-d].Low <= l || bars[i+d].Low <= l {
			return false
		}
	}
	return true
}
