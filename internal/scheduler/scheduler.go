package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"SweepSentinel/internal/config"
	"SweepSentinel/internal/engine"
)

// Scheduler runs the wall-clock failsafes in live mode. The bar stream
// normally drives reconnaissance and risk-off; these cron jobs guarantee
// both still happen on time when the feed stalls.
type Scheduler struct {
	cron *cron.Cron
	eng  *engine.Engine
	log  zerolog.Logger
}

// NewScheduler creates a scheduler in the engine's timezone.
func NewScheduler(eng *engine.Engine, loc *time.Location, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		eng:  eng,
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// RegisterAll wires the daily jobs: reconnaissance at the configured scan
// time, the risk-off failsafe, and a midnight session-rollover touch.
func (s *Scheduler) RegisterAll(reconTime, riskOffTime string) error {
	reconSpec, err := clockSpec(reconTime)
	if err != nil {
		return fmt.Errorf("reconnaissance time: %w", err)
	}
	riskOffSpec, err := clockSpec(riskOffTime)
	if err != nil {
		return fmt.Errorf("risk-off time: %w", err)
	}

	if _, err := s.cron.AddFunc(reconSpec, func() {
		s.log.Info().Msg("reconnaissance failsafe fired")
		s.eng.ForceReconnaissance(time.Now())
	}); err != nil {
		return fmt.Errorf("register reconnaissance job: %w", err)
	}
	if _, err := s.cron.AddFunc(riskOffSpec, func() {
		s.log.Info().Msg("risk-off failsafe fired")
		s.eng.ForceRiskOff(time.Now())
	}); err != nil {
		return fmt.Errorf("register risk-off job: %w", err)
	}
	// A few seconds past midnight so a bar timestamped 23:59:59 cannot race
	// the rollover.
	if _, err := s.cron.AddFunc("5 0 0 * * *", func() {
		s.log.Info().Msg("midnight session rollover")
		s.eng.ForceReconnaissance(time.Now())
	}); err != nil {
		return fmt.Errorf("register rollover job: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.log.Info().Msg("scheduler stopped")
}

// clockSpec converts an "HH:MM" clock time into a six-field cron spec.
func clockSpec(clock string) (string, error) {
	min, err := config.ClockMinutes(clock)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("0 %d %d * * *", min%60, min/60), nil
}
