package executor

import (
	"context"
	"sync"

	"SweepSentinel/internal/model"
)

// FillHandler receives simulated fill confirmations.
type FillHandler func(model.Fill)

// MockExecutor simulates a broker for replay and tests: submissions are
// accepted (or rejected on demand) and kept in order, and every partial-fill
// notification is echoed back as an asynchronous fill confirmation so the
// reconciliation path gets exercised.
type MockExecutor struct {
	mu         sync.Mutex
	submitted  []model.TradeIntent
	notified   []model.LifecycleEvent
	onFill     FillHandler
	rejectNext bool
}

func NewMockExecutor(onFill FillHandler) *MockExecutor {
	return &MockExecutor{onFill: onFill}
}

// RejectNext makes the next SubmitIntent fail once.
func (e *MockExecutor) RejectNext() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rejectNext = true
}

func (e *MockExecutor) SubmitIntent(_ context.Context, intent *model.TradeIntent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rejectNext {
		e.rejectNext = false
		return ErrRejected
	}
	e.submitted = append(e.submitted, *intent)
	return nil
}

func (e *MockExecutor) NotifyLifecycle(_ context.Context, evt *model.LifecycleEvent) error {
	e.mu.Lock()
	e.notified = append(e.notified, *evt)
	onFill := e.onFill
	e.mu.Unlock()

	if evt.Kind == model.LifecyclePartialFill && onFill != nil {
		onFill(model.Fill{
			IntentID: evt.IntentID,
			Price:    evt.Price,
			Fraction: evt.Fraction,
			Time:     evt.Time,
		})
	}
	return nil
}

// Submitted returns copies of all accepted intents in submission order.
func (e *MockExecutor) Submitted() []model.TradeIntent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.TradeIntent, len(e.submitted))
	copy(out, e.submitted)
	return out
}

// Notified returns copies of all lifecycle notifications received.
func (e *MockExecutor) Notified() []model.LifecycleEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.LifecycleEvent, len(e.notified))
	copy(out, e.notified)
	return out
}
