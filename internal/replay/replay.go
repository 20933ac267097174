package replay

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"SweepSentinel/internal/model"
)

// timeLayouts are tried in order for the CSV time column. Unix seconds are
// accepted as well.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// LoadFile reads a bar history CSV: time,open,high,low,close[,volume], with
// or without a header row. Naive timestamps are interpreted in loc.
func LoadFile(path, instrument string, tf model.Timeframe, loc *time.Location) ([]model.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()
	bars, err := LoadBars(f, instrument, tf, loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bars, nil
}

// LoadBars parses bar rows from r.
func LoadBars(r io.Reader, instrument string, tf model.Timeframe, loc *time.Location) ([]model.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	var bars []model.Bar
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++

		bar, err := parseRow(rec, instrument, tf, loc)
		if err != nil {
			if line == 1 {
				// Header row.
				continue
			}
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars in input")
	}
	return bars, nil
}

func parseRow(rec []string, instrument string, tf model.Timeframe, loc *time.Location) (model.Bar, error) {
	if len(rec) < 5 {
		return model.Bar{}, fmt.Errorf("want time,open,high,low,close[,volume], got %d columns", len(rec))
	}

	ts, err := parseTime(rec[0], loc)
	if err != nil {
		return model.Bar{}, err
	}

	vals := make([]float64, 4)
	for i := 0; i < 4; i++ {
		v, err := strconv.ParseFloat(rec[i+1], 64)
		if err != nil {
			return model.Bar{}, fmt.Errorf("column %d: %w", i+2, err)
		}
		vals[i] = v
	}

	var volume float64
	if len(rec) >= 6 && rec[5] != "" {
		if volume, err = strconv.ParseFloat(rec[5], 64); err != nil {
			return model.Bar{}, fmt.Errorf("volume: %w", err)
		}
	}

	return model.Bar{
		Instrument: instrument,
		Timeframe:  tf,
		OpenTime:   ts,
		Open:       vals[0],
		High:       vals[1],
		Low:        vals[2],
		Close:      vals[3],
		Volume:     volume,
		Closed:     true,
	}, nil
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).In(loc), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", s)
}

// Sink is the engine surface the runner feeds.
type Sink interface {
	FeedPrimaryBar(model.Bar)
	FeedReferenceBar(model.Bar)
}

// Result summarizes one replay pass.
type Result struct {
	PrimaryBars   int
	ReferenceBars int
	From          time.Time
	To            time.Time
}

// Runner replays historical bars through an engine deterministically.
type Runner struct {
	sink Sink
	log  zerolog.Logger
}

func NewRunner(sink Sink, log zerolog.Logger) *Runner {
	return &Runner{sink: sink, log: log.With().Str("component", "replay").Logger()}
}

// Run merges the two series by open time and feeds them in stream order. On
// equal timestamps the reference bar goes first, so the cross-asset
// qualifier is synced before the primary bar cascades.
func (r *Runner) Run(primary, reference []model.Bar) Result {
	res := Result{}
	if len(primary) > 0 {
		res.From = primary[0].OpenTime
		res.To = primary[len(primary)-1].OpenTime
	}

	pi, ri := 0, 0
	for pi < len(primary) || ri < len(reference) {
		feedRef := ri < len(reference) &&
			(pi >= len(primary) || !reference[ri].OpenTime.After(primary[pi].OpenTime))
		if feedRef {
			r.sink.FeedReferenceBar(reference[ri])
			ri++
			res.ReferenceBars++
			continue
		}
		r.sink.FeedPrimaryBar(primary[pi])
		pi++
		res.PrimaryBars++
	}

	r.log.Info().
		Int("primary_bars", res.PrimaryBars).
		Int("reference_bars", res.ReferenceBars).
		Time("from", res.From).
		Time("to", res.To).
		Msg("replay complete")
	return res
}
