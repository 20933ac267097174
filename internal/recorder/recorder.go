package recorder

import (
	"time"

	"SweepSentinel/internal/model"
)

// DaySummary aggregates one trading session for post-hoc analysis.
type DaySummary struct {
	Date            time.Time
	LevelsArmed     int
	SweepsDetected  int
	SweepsConfirmed int
	AttemptsUsed    int
	RealizedPoints  float64
	RealizedLoss    float64
	RiskOff         bool
}

// DroppedSample records a feed sample rejected by the aggregator.
type DroppedSample struct {
	Instrument string
	SampleTime time.Time
	Reason     string
}

// Recorder journals engine activity for analysis. Implementations must be
// safe for use from the engine goroutine plus the scheduler.
type Recorder interface {
	RecordIntent(intent *model.TradeIntent) error
	RecordLifecycle(evt *model.LifecycleEvent) error
	RecordSweep(evt *model.SweepEvent) error
	RecordDaySummary(sum *DaySummary) error
	RecordDroppedSample(drop *DroppedSample) error
	Close() error
}
