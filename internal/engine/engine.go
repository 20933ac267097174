package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"SweepSentinel/internal/aggregator"
	"SweepSentinel/internal/config"
	"SweepSentinel/internal/executor"
	"SweepSentinel/internal/levels"
	"SweepSentinel/internal/model"
	"SweepSentinel/internal/recorder"
	"SweepSentinel/internal/risk"
	"SweepSentinel/internal/smt"
	"SweepSentinel/internal/sweep"
	"SweepSentinel/internal/trigger"
)

// Engine is the single-threaded reactor at the center of the system. Every
// closed bar cascades, in stream-time order, through the level tracker, the
// sweep state machine, the trigger engine and the risk manager; the engine
// is the only component that mutates level status or submits intents. All
// public methods serialize on one mutex, so feed goroutines, scheduler jobs
// and fill callbacks never interleave inside a cascade.
type Engine struct {
	mu  sync.Mutex
	cfg *config.Config
	log zerolog.Logger
	loc *time.Location

	primaryAgg *aggregator.Aggregator
	refAgg     *aggregator.Aggregator

	tracker  *levels.Tracker
	sweeps   *sweep.Machine
	triggers *trigger.Engine
	smtQ     *smt.Qualifier
	risk     *risk.Manager
	exec     executor.Executor
	rec      recorder.Recorder

	fineTF   model.Timeframe
	reconMin int

	day       model.DayState
	reconDone bool
	counters  struct {
		levelsArmed     int
		sweepsDetected  int
		sweepsConfirmed int
	}
}

// New wires the full pipeline from configuration. The config must already
// have passed Validate.
func New(cfg *config.Config, exec executor.Executor, rec recorder.Recorder, log zerolog.Logger) (*Engine, error) {
	loc, err := time.LoadLocation(cfg.Instrument.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	reconMin, err := config.ClockMinutes(cfg.Session.ReconnaissanceTime)
	if err != nil {
		return nil, err
	}
	riskOffMin, _ := config.ClockMinutes(cfg.Session.RiskOffTime)
	chopStart, _ := config.ClockMinutes(cfg.Session.ChopStart)
	chopEnd, _ := config.ClockMinutes(cfg.Session.ChopEnd)

	fineTF := model.Timeframe(cfg.Trigger.Timeframe)

	var tiers []risk.Tier
	for _, t := range cfg.Risk.Targets {
		tiers = append(tiers, risk.Tier{RMultiple: t.RMultiple, Points: t.Points, Fraction: t.Fraction})
	}

	e := &Engine{
		cfg:    cfg,
		log:    log.With().Str("component", "engine").Logger(),
		loc:    loc,
		exec:   exec,
		rec:    rec,
		fineTF: fineTF,

		reconMin: reconMin,
	}

	e.tracker = levels.NewTracker(levels.Config{
		FractalWing:  cfg.Levels.FractalWing,
		Tolerance:    cfg.Levels.Tolerance,
		LookbackDays: cfg.Levels.LookbackDays,
		MaxTouches:   cfg.Levels.MaxTouches,
	}, loc, log)

	e.sweeps = sweep.NewMachine(sweep.Config{
		NextBarDeadline: cfg.Sweep.ConfirmationDeadline == config.DeadlineNextBar,
		Rearm:           cfg.Sweep.RearmAfterInvalid,
	}, log)

	e.triggers = trigger.NewEngine(trigger.Config{
		Timeframe:       fineTF,
		Wing:            cfg.Levels.FractalWing,
		WindowBars:      cfg.Trigger.WindowBars,
		BreakerRequired: cfg.Trigger.BreakerRequired,
		EntryZone:       cfg.Trigger.EntryZone,
	}, log)

	if cfg.CrossAsset.Enabled {
		e.smtQ = smt.NewQualifier(smt.Config{
			Timeframe: fineTF,
			Lookback:  cfg.CrossAsset.Lookback,
			Wing:      cfg.Levels.FractalWing,
		}, log)
	}

	e.risk = risk.NewManager(risk.Config{
		StopMode:                 cfg.Risk.StopMode,
		StopBuffer:               cfg.Risk.StopBufferPoints,
		TargetMode:               cfg.Risk.TargetMode,
		Tiers:                    tiers,
		SizeMode:                 cfg.Risk.SizeMode,
		FixedContracts:           cfg.Risk.FixedContracts,
		RiskPercent:              cfg.Risk.RiskPercent,
		MaxContracts:             cfg.Risk.MaxContracts,
		Equity:                   cfg.Risk.Equity,
		PointValue:               cfg.Instrument.PointValue,
		MaxAttemptsPerDay:        cfg.Risk.MaxAttemptsPerDay,
		DailyLossCapPct:          cfg.Risk.DailyLossCapPct,
		ChopStartMin:             chopStart,
		ChopEndMin:               chopEnd,
		RiskOffMin:               riskOffMin,
		AllowEntriesAfterRiskOff: cfg.Risk.AllowEntriesAfterRiskOff,
	}, loc, log)

	e.primaryAgg = aggregator.New(cfg.Instrument.Symbol, []model.Timeframe{fineTF, model.H1}, e.handlePrimaryBar, log)
	e.primaryAgg.OnDrop(func(t time.Time, reason string) {
		e.journalDrop(cfg.Instrument.Symbol, t, reason)
	})
	if cfg.CrossAsset.Enabled {
		e.refAgg = aggregator.New(cfg.Instrument.Reference, []model.Timeframe{fineTF}, e.handleReferenceBar, log)
		e.refAgg.OnDrop(func(t time.Time, reason string) {
			e.journalDrop(cfg.Instrument.Reference, t, reason)
		})
	}
	return e, nil
}

// OnPrimarySample feeds one raw price update for the traded instrument.
func (e *Engine) OnPrimarySample(s model.PriceSample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.primaryAgg.AddSample(s)
}

// OnReferenceSample feeds one raw price update for the reference instrument.
func (e *Engine) OnReferenceSample(s model.PriceSample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refAgg != nil {
		e.refAgg.AddSample(s)
	}
}

// FeedPrimaryBar feeds one already-closed fine-timeframe bar for the traded
// instrument, as replay does. The bar is processed directly and folded into
// the coarser frames.
func (e *Engine) FeedPrimaryBar(bar model.Bar) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlePrimaryBar(bar)
	e.primaryAgg.FoldBar(bar)
}

// FeedReferenceBar feeds one already-closed reference-instrument bar.
func (e *Engine) FeedReferenceBar(bar model.Bar) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handleReferenceBar(bar)
}

func (e *Engine) handleReferenceBar(bar model.Bar) {
	if e.smtQ != nil && bar.Closed {
		e.smtQ.OnReferenceBar(bar)
	}
}

// handlePrimaryBar runs one cascade step. It is called with the engine lock
// held, either directly or synchronously from inside the aggregator.
func (e *Engine) handlePrimaryBar(bar model.Bar) {
	if !bar.Closed {
		return
	}
	e.maybeRollover(bar.OpenTime)

	switch bar.Timeframe {
	case model.H1:
		e.tracker.OnBar(bar)
		e.maybeReconnaissance(bar.CloseTime())
		e.stepSweeps(bar)
	case e.fineTF:
		if e.smtQ != nil {
			e.smtQ.OnPrimaryBar(bar)
		}
		e.maybeReconnaissance(bar.CloseTime())
		e.stepLifecycle(bar)
		e.stepTriggers(bar)
	}
}

// maybeRollover closes the session when a bar from a newer trading day
// arrives: pendings are invalidated, armed biases and open intents
// cancelled, and the day summary journaled.
func (e *Engine) maybeRollover(t time.Time) {
	d := e.dayOf(t)
	if e.day.Date.IsZero() {
		e.day = model.DayState{Date: d}
		return
	}
	if d.Equal(e.day.Date) {
		return
	}

	e.log.Info().Time("from", e.day.Date).Time("to", d).Msg("session rollover")
	e.closeSession("session rollover", e.day.Date.Add(24*time.Hour))

	e.day = model.DayState{Date: d}
	e.reconDone = false
	e.counters.levelsArmed = 0
	e.counters.sweepsDetected = 0
	e.counters.sweepsConfirmed = 0
}

func (e *Engine) closeSession(reason string, at time.Time) {
	for _, ev := range e.sweeps.CancelAll(reason) {
		e.recordSweep(ev)
		// Best effort: the level set is rebuilt at the next reconnaissance.
		_, _ = e.tracker.ResolveSweep(ev.LevelID, false, false)
	}
	for _, tev := range e.triggers.CancelAll(reason) {
		e.log.Info().Str("side", string(tev.Bias.Side)).Str("reason", tev.Reason).Msg("armed bias cancelled")
	}
	e.emitLifecycle(e.risk.CancelAll(reason, at))
	e.writeDaySummary()
	e.risk.PruneSettled()
}

func (e *Engine) maybeReconnaissance(t time.Time) {
	if e.reconDone || e.minutesOf(t) < e.reconMin {
		return
	}
	e.reconDone = true
	armed := e.tracker.Reconnaissance(e.day.Date)
	e.counters.levelsArmed = len(armed)
}

// ForceReconnaissance runs the level scan outside the bar path; the
// scheduler uses it so a quiet feed still arms the day's levels on time.
func (e *Engine) ForceReconnaissance(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maybeRollover(now)
	e.maybeReconnaissance(now)
}

// ForceRiskOff applies the time-based risk reduction from wall clock, the
// failsafe for a stalled feed.
func (e *Engine) ForceRiskOff(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitLifecycle(e.risk.ForceRiskOff(now, &e.day))
}

func (e *Engine) stepSweeps(bar model.Bar) {
	if !e.reconDone {
		return
	}
	for _, res := range e.sweeps.OnBar(bar, e.tracker.FreshLevels()) {
		ev := res.Event
		e.recordSweep(ev)

		switch ev.Outcome {
		case model.SweepPending:
			e.counters.sweepsDetected++
			if err := e.tracker.MarkSweptPending(ev.LevelID); err != nil {
				e.log.Warn().Err(err).Str("level_id", ev.LevelID).Msg("level transition rejected")
			}
		case model.SweepConfirmed, model.SweepInvalid:
			// Same-bar outcomes never passed through PENDING.
			if lv, ok := e.tracker.Level(ev.LevelID); ok && lv.Status == model.LevelFresh {
				e.counters.sweepsDetected++
				if err := e.tracker.MarkSweptPending(ev.LevelID); err != nil {
					e.log.Warn().Err(err).Str("level_id", ev.LevelID).Msg("level transition rejected")
					continue
				}
			}
			confirmed := ev.Outcome == model.SweepConfirmed
			if _, err := e.tracker.ResolveSweep(ev.LevelID, confirmed, e.sweeps.Rearm()); err != nil {
				e.log.Warn().Err(err).Str("level_id", ev.LevelID).Msg("sweep resolution rejected")
				continue
			}
			if confirmed {
				e.counters.sweepsConfirmed++
				if res.Bias != nil {
					e.triggers.Arm(*res.Bias)
				}
			}
		}
	}
}

func (e *Engine) stepLifecycle(bar model.Bar) {
	e.emitLifecycle(e.risk.OnBar(bar, &e.day))
}

func (e *Engine) stepTriggers(bar model.Bar) {
	for _, tev := range e.triggers.OnBar(bar) {
		if tev.Kind == trigger.EventExpired {
			e.log.Info().
				Str("side", string(tev.Bias.Side)).
				Str("reason", tev.Reason).
				Msg("bias expired without entry")
			continue
		}
		e.tryEnter(tev, bar)
	}
}

func (e *Engine) tryEnter(tev trigger.Event, bar model.Bar) {
	if e.smtQ != nil && !e.smtQ.Confirmed(tev.Bias.Side) {
		e.log.Info().
			Str("side", string(tev.Bias.Side)).
			Float64("entry", tev.Entry).
			Msg("entry suppressed: no cross-asset divergence")
		return
	}

	dec := e.risk.BuildIntent(risk.EntryParams{
		Instrument: e.cfg.Instrument.Symbol,
		Side:       tev.Bias.Side,
		Entry:      tev.Entry,
		StructStop: tev.Stop,
		RaidHigh:   tev.Bias.RaidHigh,
		RaidLow:    tev.Bias.RaidLow,
		Time:       bar.CloseTime(),
	}, &e.day)

	if dec.Refusal != nil {
		if err := e.rec.RecordLifecycle(dec.Refusal); err != nil {
			e.log.Warn().Err(err).Msg("journal write failed")
		}
		return
	}

	intent := dec.Intent
	if err := e.exec.SubmitIntent(context.Background(), intent); err != nil {
		e.log.Warn().Err(err).Str("intent_id", intent.ID).Msg("submission rejected")
		if ev, ok := e.risk.CancelIntent(intent.ID, "submission rejected: "+err.Error(), bar.CloseTime()); ok {
			e.emitLifecycle([]model.LifecycleEvent{ev})
		}
		return
	}
	if err := e.rec.RecordIntent(intent); err != nil {
		e.log.Warn().Err(err).Msg("journal write failed")
	}
}

// ApplyFill reconciles an asynchronous fill confirmation from the executor.
// Unknown, settled or duplicate fills are journaled and ignored.
func (e *Engine) ApplyFill(fill model.Fill) {
	e.mu.Lock()
	defer e.mu.Unlock()

	events, applied := e.risk.ApplyFill(fill, &e.day)
	if !applied {
		if err := e.rec.RecordLifecycle(&model.LifecycleEvent{
			IntentID: fill.IntentID,
			Kind:     model.LifecyclePartialFill,
			Time:     fill.Time,
			Price:    fill.Price,
			Fraction: fill.Fraction,
			Note:     "ignored: unknown intent or duplicate fill",
		}); err != nil {
			e.log.Warn().Err(err).Msg("journal write failed")
		}
		return
	}
	e.emitLifecycle(events)
}

// ApplyRejection handles an asynchronous order rejection.
func (e *Engine) ApplyRejection(intentID, reason string, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ev, ok := e.risk.CancelIntent(intentID, "rejected: "+reason, at)
	if !ok {
		e.log.Warn().Str("intent_id", intentID).Msg("rejection for unknown or settled intent ignored")
		return
	}
	e.emitLifecycle([]model.LifecycleEvent{ev})
}

// Flatten cancels every armed bias, pending sweep and open intent. Operator
// escape hatch; it does not consume an attempt.
func (e *Engine) Flatten(reason string, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.log.Warn().Str("reason", reason).Msg("flatten requested")
	for _, ev := range e.sweeps.CancelAll(reason) {
		e.recordSweep(ev)
		_, _ = e.tracker.ResolveSweep(ev.LevelID, false, false)
	}
	e.triggers.CancelAll(reason)
	e.emitLifecycle(e.risk.CancelAll(reason, at))
}

// Close finalizes the current session's summary. The recorder itself is
// closed by the caller that opened it.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.day.Date.IsZero() {
		e.writeDaySummary()
	}
}

// Day returns a snapshot of the current session state.
func (e *Engine) Day() model.DayState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.day
}

// OpenIntents returns copies of the currently open trade intents.
func (e *Engine) OpenIntents() []model.TradeIntent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.risk.OpenIntents()
}

func (e *Engine) emitLifecycle(events []model.LifecycleEvent) {
	for i := range events {
		ev := events[i]
		if err := e.rec.RecordLifecycle(&ev); err != nil {
			e.log.Warn().Err(err).Msg("journal write failed")
		}
		if err := e.exec.NotifyLifecycle(context.Background(), &ev); err != nil {
			e.log.Warn().Err(err).Str("intent_id", ev.IntentID).Msg("lifecycle notification failed")
		}
		// Keep the intent row in step with status changes.
		if ev.IntentID != "" {
			if it, ok := e.risk.Intent(ev.IntentID); ok {
				if err := e.rec.RecordIntent(&it); err != nil {
					e.log.Warn().Err(err).Msg("journal write failed")
				}
			}
		}
	}
}

func (e *Engine) recordSweep(ev model.SweepEvent) {
	if err := e.rec.RecordSweep(&ev); err != nil {
		e.log.Warn().Err(err).Msg("journal write failed")
	}
}

func (e *Engine) journalDrop(instrument string, t time.Time, reason string) {
	if err := e.rec.RecordDroppedSample(&recorder.DroppedSample{
		Instrument: instrument,
		SampleTime: t,
		Reason:     reason,
	}); err != nil {
		e.log.Warn().Err(err).Msg("journal write failed")
	}
}

func (e *Engine) writeDaySummary() {
	sum := &recorder.DaySummary{
		Date:            e.day.Date,
		LevelsArmed:     e.counters.levelsArmed,
		SweepsDetected:  e.counters.sweepsDetected,
		SweepsConfirmed: e.counters.sweepsConfirmed,
		AttemptsUsed:    e.day.AttemptsUsed,
		RealizedPoints:  e.day.RealizedPoints,
		RealizedLoss:    e.day.RealizedLoss,
		RiskOff:         e.day.RiskOffTriggered,
	}
	if err := e.rec.RecordDaySummary(sum); err != nil {
		e.log.Warn().Err(err).Msg("journal write failed")
	}
}

func (e *Engine) minutesOf(t time.Time) int {
	t = t.In(e.loc)
	return t.Hour()*60 + t.Minute()
}

func (e *Engine) dayOf(t time.Time) time.Time {
	t = t.In(e.loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, e.loc)
}
