package recorder

import "SweepSentinel/internal/model"

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordIntent(_ *model.TradeIntent) error        { return nil }
func (n *NoopRecorder) RecordLifecycle(_ *model.LifecycleEvent) error  { return nil }
func (n *NoopRecorder) RecordSweep(_ *model.SweepEvent) error          { return nil }
func (n *NoopRecorder) RecordDaySummary(_ *DaySummary) error           { return nil }
func (n *NoopRecorder) RecordDroppedSample(_ *DroppedSample) error     { return nil }
func (n *NoopRecorder) Close() error                                   { return nil }
