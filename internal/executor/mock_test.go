package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"SweepSentinel/internal/model"
)

func TestMockExecutorEchoesPartialFills(t *testing.T) {
	var fills []model.Fill
	e := NewMockExecutor(func(f model.Fill) { fills = append(fills, f) })

	intent := &model.TradeIntent{ID: "it-1", Instrument: "ES", Side: model.Short}
	require.NoError(t, e.SubmitIntent(context.Background(), intent))

	evt := &model.LifecycleEvent{
		IntentID: "it-1",
		Kind:     model.LifecyclePartialFill,
		Time:     time.Now(),
		Price:    4986,
		Fraction: 0.5,
	}
	require.NoError(t, e.NotifyLifecycle(context.Background(), evt))

	require.Len(t, fills, 1)
	require.Equal(t, "it-1", fills[0].IntentID)
	require.Equal(t, 4986.0, fills[0].Price)

	// Non-fill notifications are recorded but not echoed.
	require.NoError(t, e.NotifyLifecycle(context.Background(), &model.LifecycleEvent{
		IntentID: "it-1", Kind: model.LifecycleResolved, Time: time.Now(),
	}))
	require.Len(t, fills, 1)
	require.Len(t, e.Notified(), 2)
}

func TestMockExecutorRejectNext(t *testing.T) {
	e := NewMockExecutor(nil)
	e.RejectNext()

	err := e.SubmitIntent(context.Background(), &model.TradeIntent{ID: "it-1"})
	require.ErrorIs(t, err, ErrRejected)
	require.Empty(t, e.Submitted())

	require.NoError(t, e.SubmitIntent(context.Background(), &model.TradeIntent{ID: "it-2"}))
	require.Len(t, e.Submitted(), 1)
}
