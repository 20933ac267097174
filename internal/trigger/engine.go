package trigger

import (
	"github.com/rs/zerolog"

	"SweepSentinel/internal/model"
)

// Entry zone selection after a structure break.
const (
	ZoneOrderBlock = "order_block"
	ZoneFVG        = "fvg"
)

// Config holds the pattern-matching knobs.
type Config struct {
	Timeframe       model.Timeframe // M5 default, M1 for the cross-asset variant
	Wing            int             // fractal wing for fine-timeframe swings
	WindowBars      int             // bars allowed for the break, and again for the retest
	BreakerRequired bool            // demand a broken swing level behind the order block
	EntryZone       string          // order block run, or the fair value gap the break leaves
}

// EventKind labels a trigger engine output.
type EventKind string

const (
	EventEntry   EventKind = "ENTRY"
	EventExpired EventKind = "EXPIRED"
)

// Event is an entry trigger or a bias expiry. Expiry is a normal outcome,
// not a failure.
type Event struct {
	Kind     EventKind
	Bias     model.Bias
	Entry    float64
	Stop     float64 // structural stop; risk manager may substitute the HTF stop
	ZoneHigh float64 // order-block / breaker zone
	ZoneLow  float64
	Reason   string // for EXPIRED
}

type phase int

const (
	phaseAwaitBreak phase = iota
	phaseAwaitRetest
)

type armed struct {
	bias      model.Bias
	phase     phase
	bars      []model.Bar // fine bars since activation
	barsSeen  int
	retestAge int
	zoneHigh  float64
	zoneLow   float64
	entry     float64
	stop      float64
}

// Engine watches the fine timeframe after a confirmed sweep for the
// structure-break / order-block / retest sequence and emits entry triggers.
// Several biases can be armed at once; each expires independently.
type Engine struct {
	cfg   Config
	log   zerolog.Logger
	armed []*armed
}

// NewEngine creates a trigger engine.
func NewEngine(cfg Config, log zerolog.Logger) *Engine {
	if cfg.Wing < 1 {
		cfg.Wing = 2
	}
	return &Engine{
		cfg: cfg,
		log: log.With().Str("component", "trigger").Logger(),
	}
}

// Arm starts watching for the given bias. Fine bars older than the
// activation time never count toward its structure.
func (e *Engine) Arm(bias model.Bias) {
	e.armed = append(e.armed, &armed{bias: bias})
	e.log.Info().
		Str("side", string(bias.Side)).
		Float64("level", bias.LevelPrice).
		Time("activated", bias.ActivatedAt).
		Msg("bias armed")
}

// ArmedCount reports how many biases are currently being watched.
func (e *Engine) ArmedCount() int { return len(e.armed) }

// CancelAll drops every armed bias, emitting EXPIRED events so cancellation
// is observable.
func (e *Engine) CancelAll(reason string) []Event {
	var out []Event
	for _, a := range e.armed {
		out = append(out, Event{Kind: EventExpired, Bias: a.bias, Reason: reason})
	}
	e.armed = nil
	return out
}

// OnBar advances every armed bias with one closed fine-timeframe bar.
func (e *Engine) OnBar(bar model.Bar) []Event {
	if bar.Timeframe != e.cfg.Timeframe || !bar.Closed {
		return nil
	}

	var out []Event
	var keep []*armed
	for _, a := range e.armed {
		ev, done := e.step(a, bar)
		if ev != nil {
			out = append(out, *ev)
		}
		if !done {
			keep = append(keep, a)
		}
	}
	e.armed = keep
	return out
}

func (e *Engine) step(a *armed, bar model.Bar) (*Event, bool) {
	if bar.OpenTime.Before(a.bias.ActivatedAt) {
		return nil, false
	}
	a.bars = append(a.bars, bar)
	a.barsSeen++

	switch a.phase {
	case phaseAwaitBreak:
		if e.tryBreak(a, bar) {
			a.phase = phaseAwaitRetest
			return nil, false
		}
		if a.barsSeen >= e.cfg.WindowBars {
			return e.expired(a, "no structure break within window"), true
		}
		return nil, false

	case phaseAwaitRetest:
		return e.tryRetest(a, bar)
	}
	return nil, false
}

// tryBreak looks for a market-structure break: a new extreme beyond the most
// recent post-activation swing in the bias direction.
func (e *Engine) tryBreak(a *armed, bar model.Bar) bool {
	swing, ok := e.lastSwing(a.bars, a.bias.Side)
	if !ok {
		return false
	}

	broke := false
	if a.bias.Side == model.Short {
		broke = bar.Low < swing
	} else {
		broke = bar.High > swing
	}
	if !broke {
		return false
	}

	breakIdx := len(a.bars) - 1
	zoneHigh, zoneLow, ok := e.entryZone(a.bars, breakIdx, a.bias.Side)
	if !ok {
		return false
	}

	breaker, hasBreaker := e.opposingSwing(a.bars, a.bias.Side)
	if e.cfg.BreakerRequired && !hasBreaker {
		e.log.Debug().Float64("swing", swing).Msg("break without breaker; alignment required")
		return false
	}

	a.retestAge = 0
	a.zoneHigh = zoneHigh
	a.zoneLow = zoneLow
	// A gap is retested from its near edge; an order block from its far one.
	if a.bias.Side == model.Short {
		a.entry = zoneHigh
		if e.cfg.EntryZone == ZoneFVG {
			a.entry = zoneLow
		}
		a.stop = a.bias.RaidHigh
		if hasBreaker {
			a.stop = breaker
		}
	} else {
		a.entry = zoneLow
		if e.cfg.EntryZone == ZoneFVG {
			a.entry = zoneHigh
		}
		a.stop = a.bias.RaidLow
		if hasBreaker {
			a.stop = breaker
		}
	}

	e.log.Info().
		Str("side", string(a.bias.Side)).
		Float64("swing", swing).
		Float64("entry", a.entry).
		Float64("stop", a.stop).
		Msg("structure break; awaiting retest")
	return true
}

func (e *Engine) tryRetest(a *armed, bar model.Bar) (*Event, bool) {
	a.retestAge++
	if a.retestAge > e.cfg.WindowBars {
		return e.expired(a, "no retest within window"), true
	}

	if a.bias.Side == model.Short {
		// Close back through the zone top kills the setup.
		if bar.Close > a.zoneHigh {
			return e.expired(a, "retest closed through zone"), true
		}
		if bar.High >= a.entry {
			return e.entry(a, bar), true
		}
	} else {
		if bar.Close < a.zoneLow {
			return e.expired(a, "retest closed through zone"), true
		}
		if bar.Low <= a.entry {
			return e.entry(a, bar), true
		}
	}
	return nil, false
}

func (e *Engine) entry(a *armed, bar model.Bar) *Event {
	e.log.Info().
		Str("side", string(a.bias.Side)).
		Float64("entry", a.entry).
		Float64("stop", a.stop).
		Time("bar", bar.OpenTime).
		Msg("entry trigger")
	return &Event{
		Kind:     EventEntry,
		Bias:     a.bias,
		Entry:    a.entry,
		Stop:     a.stop,
		ZoneHigh: a.zoneHigh,
		ZoneLow:  a.zoneLow,
	}
}

func (e *Engine) expired(a *armed, reason string) *Event {
	e.log.Info().
		Str("side", string(a.bias.Side)).
		Float64("level", a.bias.LevelPrice).
		Str("reason", reason).
		Msg("bias expired without trade")
	return &Event{Kind: EventExpired, Bias: a.bias, Reason: reason}
}

// lastSwing returns the most recent confirmed post-activation swing in the
// break direction: a swing low for a short bias, a swing high for a long.
func (e *Engine) lastSwing(bars []model.Bar, side model.Side) (float64, bool) {
	w := e.cfg.Wing
	for i := len(bars) - 1 - w; i >= w; i-- {
		if side == model.Short && isSwingLow(bars, i, w) {
			return bars[i].Low, true
		}
		if side == model.Long && isSwingHigh(bars, i, w) {
			return bars[i].High, true
		}
	}
	return 0, false
}

// opposingSwing finds the most recent swing on the other side of the move,
// the broken level expected to act as the opposite role on retest.
func (e *Engine) opposingSwing(bars []model.Bar, side model.Side) (float64, bool) {
	w := e.cfg.Wing
	for i := len(bars) - 1 - w; i >= w; i-- {
		if side == model.Short && isSwingHigh(bars, i, w) {
			return bars[i].High, true
		}
		if side == model.Long && isSwingLow(bars, i, w) {
			return bars[i].Low, true
		}
	}
	return 0, false
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

// entryZone picks the retest zone behind the break per the configured mode.
func (e *Engine) entryZone(bars []model.Bar, breakIdx int, side model.Side) (float64, float64, bool) {
	if e.cfg.EntryZone == ZoneFVG {
		return fairValueGap(bars, breakIdx, side)
	}
	return orderBlock(bars, breakIdx, side)
}

// fairValueGap finds the most recent three-candle gap in the bias direction:
// for a short, the first candle's low clears the third candle's high, leaving
// untraded space the retest is expected to rally into. The zone spans the gap.
func fairValueGap(bars []model.Bar, breakIdx int, side model.Side) (zoneHigh, zoneLow float64, ok bool) {
	for i := breakIdx; i >= 2; i-- {
		c1, c3 := bars[i-2], bars[i]
		if side == model.Short && c1.Low > c3.High {
			return c1.Low, c3.High, true
		}
		if side == model.Long && c1.High < c3.Low {
			return c3.Low, c1.High, true
		}
	}
	return 0, 0, false
}

// orderBlock finds the contiguous run of counter-direction bars immediately
// preceding the break: bullish candles before a bearish break, and mirrored.
// The zone spans the run's extremes.
func orderBlock(bars []model.Bar, breakIdx int, side model.Side) (zoneHigh, zoneLow float64, ok bool) {
	match := func(b model.Bar) bool {
		if side == model.Short {
			return b.Bullish()
		}
		return b.Bearish()
	}

	// Walk back to the nearest matching candle, then extend its run.
	i := breakIdx - 1
	for i >= 0 && !match(bars[i]) {
		i--
	}
	if i < 0 {
		return 0, 0, false
	}

	zoneHigh = bars[i].High
	zoneLow = bars[i].Low
	for i--; i >= 0 && match(bars[i]); i-- {
		if bars[i].High > zoneHigh {
			zoneHigh = bars[i].High
		}
		if bars[i].Low < zoneLow {
			zoneLow = bars[i].Low
		}
	}
	return zoneHigh, zoneLow, true
}
