package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"SweepSentinel/internal/config"
	"SweepSentinel/internal/engine"
	"SweepSentinel/internal/executor"
	"SweepSentinel/internal/model"
	"SweepSentinel/internal/recorder"
	"SweepSentinel/internal/replay"
	"SweepSentinel/internal/scheduler"
)

var (
	cfgPath     string
	primaryCSV  string
	referenceCSV string
)

func main() {
	root := &cobra.Command{
		Use:   "sweepd",
		Short: "Deterministic multi-timeframe sweep rule engine",
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "configs/config.yaml", "path to config file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run live: price samples from stdin, wall-clock failsafes on cron",
		RunE:  runLive,
	}

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay historical bar CSVs deterministically",
		RunE:  runReplay,
	}
	replayCmd.Flags().StringVar(&primaryCSV, "primary", "", "primary instrument bar CSV (required)")
	replayCmd.Flags().StringVar(&referenceCSV, "reference", "", "reference instrument bar CSV")
	replayCmd.MarkFlagRequired("primary")

	root.AddCommand(runCmd, replayCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (*config.Config, zerolog.Logger, error) {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, zerolog.Logger{}, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("config validation: %w", err)
	}

	lvl, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
	return cfg, log, nil
}

func openRecorder(cfg *config.Config, log zerolog.Logger) recorder.Recorder {
	if cfg.Database.SQLitePath == "" {
		return recorder.NewNoopRecorder()
	}
	rec, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath, log)
	if err != nil {
		log.Warn().Err(err).Msg("sqlite recorder unavailable, journaling disabled")
		return recorder.NewNoopRecorder()
	}
	return rec
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	log.Info().Str("symbol", cfg.Instrument.Symbol).Msg("sweepd starting")

	rec := openRecorder(cfg, log)
	defer rec.Close()

	eng, err := engine.New(cfg, executor.NewLogExecutor(log), rec, log)
	if err != nil {
		return err
	}
	defer eng.Close()

	loc, err := time.LoadLocation(cfg.Instrument.Timezone)
	if err != nil {
		return err
	}
	sched := scheduler.NewScheduler(eng, loc, log)
	if err := sched.RegisterAll(cfg.Session.ReconnaissanceTime, cfg.Session.RiskOffTime); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	if cfg.CrossAsset.Enabled {
		log.Warn().Msg("cross-asset gate enabled but live mode feeds the primary only; shorts and longs will be suppressed until a reference feed is wired")
	}

	// Samples arrive on stdin as CSV: time,price[,volume]. The feed ends at
	// EOF or on SIGINT/SIGTERM.
	done := make(chan struct{})
	go func() {
		defer close(done)
		feedSamples(eng, cfg.Instrument.Symbol, loc, log)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info().Msg("shutdown signal received")
	case <-done:
		log.Info().Msg("sample feed ended")
	}
	return nil
}

func feedSamples(eng *engine.Engine, symbol string, loc *time.Location, log zerolog.Logger) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s, err := parseSample(line, symbol, loc)
		if err != nil {
			log.Warn().Err(err).Str("line", line).Msg("skipping malformed sample")
			continue
		}
		eng.OnPrimarySample(s)
	}
	if err := sc.Err(); err != nil {
		log.Error().Err(err).Msg("sample feed read failed")
	}
}

func parseSample(line, symbol string, loc *time.Location) (model.PriceSample, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 2 {
		return model.PriceSample{}, fmt.Errorf("want time,price[,volume]")
	}
	ts, err := parseSampleTime(strings.TrimSpace(parts[0]), loc)
	if err != nil {
		return model.PriceSample{}, err
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return model.PriceSample{}, fmt.Errorf("price: %w", err)
	}
	var volume float64
	if len(parts) >= 3 && strings.TrimSpace(parts[2]) != "" {
		if volume, err = strconv.ParseFloat(strings.TrimSpace(parts[2]), 64); err != nil {
			return model.PriceSample{}, fmt.Errorf("volume: %w", err)
		}
	}
	return model.PriceSample{Instrument: symbol, Time: ts, Price: price, Volume: volume}, nil
}

func parseSampleTime(s string, loc *time.Location) (time.Time, error) {
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).In(loc), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", s)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	loc, err := time.LoadLocation(cfg.Instrument.Timezone)
	if err != nil {
		return err
	}
	fineTF := model.Timeframe(cfg.Trigger.Timeframe)

	primary, err := replay.LoadFile(primaryCSV, cfg.Instrument.Symbol, fineTF, loc)
	if err != nil {
		return err
	}
	var reference []model.Bar
	if referenceCSV != "" {
		if reference, err = replay.LoadFile(referenceCSV, cfg.Instrument.Reference, fineTF, loc); err != nil {
			return err
		}
	}
	if cfg.CrossAsset.Enabled && len(reference) == 0 {
		return fmt.Errorf("cross_asset.enabled requires --reference")
	}

	rec := openRecorder(cfg, log)
	defer rec.Close()

	// The mock venue echoes partial fills back as confirmations, so the
	// reconciliation path runs during replay. Duplicate application is
	// idempotent, so the asynchronous echo cannot change the outcome.
	var eng *engine.Engine
	var fills sync.WaitGroup
	exec := executor.NewMockExecutor(func(f model.Fill) {
		fills.Add(1)
		go func() {
			defer fills.Done()
			eng.ApplyFill(f)
		}()
	})

	eng, err = engine.New(cfg, exec, rec, log)
	if err != nil {
		return err
	}

	res := replay.NewRunner(eng, log).Run(primary, reference)
	fills.Wait()
	eng.Close()

	day := eng.Day()
	log.Info().
		Int("primary_bars", res.PrimaryBars).
		Int("reference_bars", res.ReferenceBars).
		Int("intents_submitted", len(exec.Submitted())).
		Int("attempts_used", day.AttemptsUsed).
		Float64("realized_points", day.RealizedPoints).
		Float64("realized_loss", day.RealizedLoss).
		Msg("replay summary")
	return nil
}
