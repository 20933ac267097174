package aggregator

import (
	"time"

	"github.com/rs/zerolog"

	"SweepSentinel/internal/model"
)

// Handler receives every closed bar, in stream-time order per timeframe.
type Handler func(model.Bar)

// Aggregator converts a monotonically time-ordered stream of raw price
// samples into closed bars for each configured timeframe. A bar is emitted
// exactly once, and only after its interval boundary has elapsed relative to
// stream time, so replay of historical data is deterministic and idempotent.
type Aggregator struct {
	instrument string
	frames     []*frame
	handler    Handler
	log        zerolog.Logger

	lastSampleTime int64 // unix nanos of the newest accepted sample
	dropped        int
	onDrop         func(t time.Time, reason string)
}

type frame struct {
	tf      model.Timeframe
	current *model.Bar
}

// New creates an aggregator for the given instrument and timeframes.
func New(instrument string, timeframes []model.Timeframe, handler Handler, log zerolog.Logger) *Aggregator {
	a := &Aggregator{
		instrument: instrument,
		handler:    handler,
		log:        log.With().Str("component", "aggregator").Str("instrument", instrument).Logger(),
	}
	for _, tf := range timeframes {
		a.frames = append(a.frames, &frame{tf: tf})
	}
	return a
}

// AddSample feeds one raw price update. Out-of-order and duplicate samples
// are dropped with a warning; the aggregator never reorders.
func (a *Aggregator) AddSample(s model.PriceSample) {
	ts := s.Time.UnixNano()
	if a.lastSampleTime != 0 && ts <= a.lastSampleTime {
		a.drop(s.Time, "out-of-order or duplicate sample")
		a.log.Warn().
			Time("sample_time", s.Time).
			Float64("price", s.Price).
			Msg("dropped out-of-order or duplicate sample")
		return
	}
	a.lastSampleTime = ts

	for _, f := range a.frames {
		a.apply(f, s)
	}
}

func (a *Aggregator) apply(f *frame, s model.PriceSample) {
	bucket := s.Time.Truncate(f.tf.Duration())

	if f.current != nil && bucket.After(f.current.OpenTime) {
		a.closeFrame(f)
	}
	if f.current == nil {
		f.current = &model.Bar{
			Instrument: a.instrument,
			Timeframe:  f.tf,
			OpenTime:   bucket,
			Open:       s.Price,
			High:       s.Price,
			Low:        s.Price,
			Close:      s.Price,
			Volume:     s.Volume,
		}
		return
	}

	b := f.current
	if s.Price > b.High {
		b.High = s.Price
	}
	if s.Price < b.Low {
		b.Low = s.Price
	}
	b.Close = s.Price
	b.Volume += s.Volume
}

// FoldBar feeds one already-closed finer-timeframe bar, folding it into any
// coarser frames. Used by replay, where history arrives as closed bars rather
// than raw ticks. Ordering and duplicate rules match AddSample.
func (a *Aggregator) FoldBar(bar model.Bar) {
	ts := bar.OpenTime.UnixNano()
	if a.lastSampleTime != 0 && ts <= a.lastSampleTime {
		a.drop(bar.OpenTime, "out-of-order or duplicate bar")
		a.log.Warn().
			Time("bar_open", bar.OpenTime).
			Str("timeframe", string(bar.Timeframe)).
			Msg("dropped out-of-order or duplicate bar")
		return
	}
	a.lastSampleTime = ts

	for _, f := range a.frames {
		if f.tf.Duration() <= bar.Timeframe.Duration() {
			continue
		}
		a.fold(f, bar)
	}
}

func (a *Aggregator) fold(f *frame, bar model.Bar) {
	bucket := bar.OpenTime.Truncate(f.tf.Duration())

	if f.current != nil && bucket.After(f.current.OpenTime) {
		a.closeFrame(f)
	}
	if f.current == nil {
		b := bar
		b.Timeframe = f.tf
		b.OpenTime = bucket
		b.Closed = false
		f.current = &b
	} else {
		b := f.current
		if bar.High > b.High {
			b.High = bar.High
		}
		if bar.Low < b.Low {
			b.Low = bar.Low
		}
		b.Close = bar.Close
		b.Volume += bar.Volume
	}

	// The coarse bar is complete once the finer bar reaches its boundary.
	if !bar.CloseTime().Before(f.current.CloseTime()) {
		a.closeFrame(f)
	}
}

func (a *Aggregator) closeFrame(f *frame) {
	b := *f.current
	b.Closed = true
	f.current = nil
	if a.handler != nil {
		a.handler(b)
	}
}

// OnDrop registers a hook invoked for every rejected input, so drops can be
// journaled alongside the warning log.
func (a *Aggregator) OnDrop(fn func(t time.Time, reason string)) { a.onDrop = fn }

func (a *Aggregator) drop(t time.Time, reason string) {
	a.dropped++
	if a.onDrop != nil {
		a.onDrop(t, reason)
	}
}

// Dropped returns how many out-of-order or duplicate inputs were rejected.
func (a *Aggregator) Dropped() int { return a.dropped }
