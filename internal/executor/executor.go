package executor

import (
	"context"

	"github.com/rs/zerolog"

	"SweepSentinel/internal/model"
)

// Executor is the boundary to order routing. The engine owns decisions; an
// executor only receives intents and lifecycle notifications and reports
// fills and rejections back through its callbacks.
type Executor interface {
	SubmitIntent(ctx context.Context, intent *model.TradeIntent) error
	NotifyLifecycle(ctx context.Context, evt *model.LifecycleEvent) error
}

// LogExecutor writes every intent and lifecycle notification to the log and
// nothing else. It is the default when no broker is wired.
type LogExecutor struct {
	log zerolog.Logger
}

func NewLogExecutor(log zerolog.Logger) *LogExecutor {
	return &LogExecutor{log: log.With().Str("component", "executor").Logger()}
}

func (e *LogExecutor) SubmitIntent(_ context.Context, intent *model.TradeIntent) error {
	e.log.Info().
		Str("intent_id", intent.ID).
		Str("instrument", intent.Instrument).
		Str("side", string(intent.Side)).
		Float64("entry", intent.EntryPrice).
		Float64("stop", intent.StopPrice).
		Float64("size", intent.Size).
		Msg("intent submitted")
	return nil
}

func (e *LogExecutor) NotifyLifecycle(_ context.Context, evt *model.LifecycleEvent) error {
	e.log.Info().
		Str("intent_id", evt.IntentID).
		Str("kind", string(evt.Kind)).
		Str("note", evt.Note).
		Msg("lifecycle notification")
	return nil
}
