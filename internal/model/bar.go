package model

import "time"

// Timeframe identifies one of the bar intervals the engine evaluates.
type Timeframe string

const (
	H1 Timeframe = "H1"
	M5 Timeframe = "M5"
	M1 Timeframe = "M1"
)

// Duration returns the interval length of the timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case H1:
		return time.Hour
	case M5:
		return 5 * time.Minute
	case M1:
		return time.Minute
	default:
		return 0
	}
}

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool {
	return tf == H1 || tf == M5 || tf == M1
}

// PriceSample is a single raw price update from the data feed.
type PriceSample struct {
	Instrument string
	Time       time.Time
	Price      float64
	Volume     float64
}

// Bar represents a single candlestick bar. Immutable once Closed.
type Bar struct {
	Instrument string
	Timeframe  Timeframe
	OpenTime   time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	Closed     bool
}

// CloseTime returns the instant the bar's interval ends.
func (b Bar) CloseTime() time.Time {
	return b.OpenTime.Add(b.Timeframe.Duration())
}

// Bullish reports whether the bar's body closed above its open.
func (b Bar) Bullish() bool { return b.Close > b.Open }

// Bearish reports whether the bar's body closed below its open.
func (b Bar) Bearish() bool { return b.Close < b.Open }
