package config

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Stop, target and sizing modes recognized in config. Anything else fails
// validation at startup.
const (
	StopStructural = "structural"
	StopHTF        = "htf"

	TargetFixedR    = "fixed_r"
	TargetMultiTier = "multi_tier"

	SizeFixed   = "fixed"
	SizePercent = "percent"

	DeadlineSameBar = "same-bar"
	DeadlineNextBar = "next-bar"

	ZoneOrderBlock = "order_block"
	ZoneFVG        = "fvg"
)

// TargetTier configures one exit tier. Either RMultiple or Points is set;
// Points takes precedence when both are present.
type TargetTier struct {
	RMultiple float64 `yaml:"r_multiple"`
	Points    float64 `yaml:"points"`
	Fraction  float64 `yaml:"fraction"`
}

// Config holds all application configuration.
type Config struct {
	Instrument struct {
		Symbol     string  `yaml:"symbol"`
		Reference  string  `yaml:"reference"`
		PointValue float64 `yaml:"point_value"`
		Timezone   string  `yaml:"timezone"`
	} `yaml:"instrument"`
	Session struct {
		ReconnaissanceTime string `yaml:"reconnaissance_time"`
		RiskOffTime        string `yaml:"risk_off_time"`
		ChopStart          string `yaml:"chop_start"`
		ChopEnd            string `yaml:"chop_end"`
	} `yaml:"session"`
	Levels struct {
		FractalWing  int     `yaml:"fractal_wing"`
		Tolerance    float64 `yaml:"tolerance"`
		LookbackDays int     `yaml:"lookback_days"`
		MaxTouches   int     `yaml:"max_touches"`
	} `yaml:"levels"`
	Sweep struct {
		ConfirmationDeadline string `yaml:"confirmation_deadline"`
		RearmAfterInvalid    bool   `yaml:"rearm_after_invalid"`
	} `yaml:"sweep"`
	Trigger struct {
		Timeframe       string `yaml:"timeframe"`
		WindowBars      int    `yaml:"window_bars"`
		BreakerRequired bool   `yaml:"breaker_required"`
		EntryZone       string `yaml:"entry_zone"`
	} `yaml:"trigger"`
	Risk struct {
		StopMode                 string       `yaml:"stop_mode"`
		StopBufferPoints         float64      `yaml:"stop_buffer_points"`
		TargetMode               string       `yaml:"target_mode"`
		Targets                  []TargetTier `yaml:"targets"`
		SizeMode                 string       `yaml:"size_mode"`
		FixedContracts           float64      `yaml:"fixed_contracts"`
		RiskPercent              float64      `yaml:"risk_percent"`
		MaxContracts             float64      `yaml:"max_contracts"`
		Equity                   float64      `yaml:"equity"`
		MaxAttemptsPerDay        int          `yaml:"max_attempts_per_day"`
		DailyLossCapPct          float64      `yaml:"daily_loss_cap_pct"`
		AllowEntriesAfterRiskOff bool         `yaml:"allow_entries_after_risk_off"`
	} `yaml:"risk"`
	CrossAsset struct {
		Enabled  bool `yaml:"enabled"`
		Lookback int  `yaml:"lookback"`
	} `yaml:"cross_asset"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("SWEEP_SYMBOL"); v != "" {
		cfg.Instrument.Symbol = v
	}
	if v := os.Getenv("SWEEP_REFERENCE"); v != "" {
		cfg.Instrument.Reference = v
	}
	if v := os.Getenv("SWEEP_TIMEZONE"); v != "" {
		cfg.Instrument.Timezone = v
	}
	if v := os.Getenv("SWEEP_RECON_TIME"); v != "" {
		cfg.Session.ReconnaissanceTime = v
	}
	if v := os.Getenv("SWEEP_RISK_OFF_TIME"); v != "" {
		cfg.Session.RiskOffTime = v
	}
	if v := os.Getenv("SWEEP_EQUITY"); v != "" {
		if eq, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Risk.Equity = eq
		}
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Instrument.Symbol == "" {
		c.Instrument.Symbol = "ES"
	}
	if c.Instrument.PointValue == 0 {
		c.Instrument.PointValue = 50 // ES futures
	}
	if c.Instrument.Timezone == "" {
		c.Instrument.Timezone = "America/New_York"
	}
	if c.Session.ReconnaissanceTime == "" {
		c.Session.ReconnaissanceTime = "08:00"
	}
	if c.Session.RiskOffTime == "" {
		c.Session.RiskOffTime = "11:00"
	}
	if c.Session.ChopStart == "" {
		c.Session.ChopStart = "12:00"
	}
	if c.Session.ChopEnd == "" {
		c.Session.ChopEnd = "14:00"
	}
	if c.Levels.FractalWing == 0 {
		c.Levels.FractalWing = 2
	}
	if c.Levels.Tolerance == 0 {
		c.Levels.Tolerance = 2.0
	}
	if c.Levels.LookbackDays == 0 {
		c.Levels.LookbackDays = 5
	}
	if c.Levels.MaxTouches == 0 {
		c.Levels.MaxTouches = 2
	}
	if c.Sweep.ConfirmationDeadline == "" {
		c.Sweep.ConfirmationDeadline = DeadlineNextBar
	}
	if c.Trigger.Timeframe == "" {
		c.Trigger.Timeframe = "M5"
	}
	if c.Trigger.WindowBars == 0 {
		c.Trigger.WindowBars = 12
	}
	if c.Trigger.EntryZone == "" {
		c.Trigger.EntryZone = ZoneOrderBlock
	}
	if c.Risk.StopMode == "" {
		c.Risk.StopMode = StopStructural
	}
	if c.Risk.TargetMode == "" {
		c.Risk.TargetMode = TargetFixedR
	}
	if len(c.Risk.Targets) == 0 {
		c.Risk.Targets = []TargetTier{{RMultiple: 2.0, Fraction: 1.0}}
	}
	if c.Risk.SizeMode == "" {
		c.Risk.SizeMode = SizeFixed
	}
	if c.Risk.FixedContracts == 0 {
		c.Risk.FixedContracts = 1
	}
	if c.Risk.MaxContracts == 0 {
		c.Risk.MaxContracts = 10
	}
	if c.Risk.MaxAttemptsPerDay == 0 {
		c.Risk.MaxAttemptsPerDay = 2
	}
	if c.Risk.DailyLossCapPct == 0 {
		c.Risk.DailyLossCapPct = 3.0
	}
	if c.CrossAsset.Lookback == 0 {
		c.CrossAsset.Lookback = 20
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks the configuration. A failure here is the only condition
// that terminates the process.
func (c *Config) Validate() error {
	if c.Instrument.Symbol == "" {
		return fmt.Errorf("instrument.symbol is required")
	}
	if c.Instrument.PointValue <= 0 {
		return fmt.Errorf("instrument.point_value must be positive")
	}
	for _, field := range []struct{ name, value string }{
		{"session.reconnaissance_time", c.Session.ReconnaissanceTime},
		{"session.risk_off_time", c.Session.RiskOffTime},
		{"session.chop_start", c.Session.ChopStart},
		{"session.chop_end", c.Session.ChopEnd},
	} {
		if _, err := ClockMinutes(field.value); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}
	chopStart, _ := ClockMinutes(c.Session.ChopStart)
	chopEnd, _ := ClockMinutes(c.Session.ChopEnd)
	if chopEnd <= chopStart {
		return fmt.Errorf("session.chop_end must be after session.chop_start")
	}
	if c.Sweep.ConfirmationDeadline != DeadlineSameBar && c.Sweep.ConfirmationDeadline != DeadlineNextBar {
		return fmt.Errorf("sweep.confirmation_deadline must be %q or %q", DeadlineSameBar, DeadlineNextBar)
	}
	if c.Trigger.Timeframe != "M5" && c.Trigger.Timeframe != "M1" {
		return fmt.Errorf("trigger.timeframe must be M5 or M1")
	}
	if c.Trigger.WindowBars <= 0 {
		return fmt.Errorf("trigger.window_bars must be positive")
	}
	if c.Trigger.EntryZone != ZoneOrderBlock && c.Trigger.EntryZone != ZoneFVG {
		return fmt.Errorf("trigger.entry_zone: unknown zone %q", c.Trigger.EntryZone)
	}
	if c.Levels.FractalWing < 1 {
		return fmt.Errorf("levels.fractal_wing must be at least 1")
	}
	if c.Levels.LookbackDays < 1 {
		return fmt.Errorf("levels.lookback_days must be at least 1")
	}
	if c.Risk.StopMode != StopStructural && c.Risk.StopMode != StopHTF {
		return fmt.Errorf("risk.stop_mode: unknown mode %q", c.Risk.StopMode)
	}
	if c.Risk.TargetMode != TargetFixedR && c.Risk.TargetMode != TargetMultiTier {
		return fmt.Errorf("risk.target_mode: unknown mode %q", c.Risk.TargetMode)
	}
	var fracSum float64
	for i, t := range c.Risk.Targets {
		if t.Fraction <= 0 {
			return fmt.Errorf("risk.targets[%d].fraction must be positive", i)
		}
		if t.RMultiple <= 0 && t.Points <= 0 {
			return fmt.Errorf("risk.targets[%d]: r_multiple or points required", i)
		}
		fracSum += t.Fraction
	}
	if math.Abs(fracSum-1.0) > 1e-9 {
		return fmt.Errorf("risk.targets fractions must sum to 1.0, got %.6f", fracSum)
	}
	switch c.Risk.SizeMode {
	case SizeFixed:
		if c.Risk.FixedContracts <= 0 {
			return fmt.Errorf("risk.fixed_contracts must be positive")
		}
	case SizePercent:
		if c.Risk.RiskPercent <= 0 {
			return fmt.Errorf("risk.risk_percent must be positive")
		}
		if c.Risk.Equity <= 0 {
			return fmt.Errorf("risk.equity must be positive for percent sizing")
		}
	default:
		return fmt.Errorf("risk.size_mode: unknown mode %q", c.Risk.SizeMode)
	}
	if c.Risk.MaxAttemptsPerDay < 1 {
		return fmt.Errorf("risk.max_attempts_per_day must be at least 1")
	}
	if c.Risk.DailyLossCapPct <= 0 {
		return fmt.Errorf("risk.daily_loss_cap_pct must be positive")
	}
	if c.CrossAsset.Enabled && c.Instrument.Reference == "" {
		return fmt.Errorf("instrument.reference is required when cross_asset.enabled")
	}
	return nil
}

// ClockMinutes parses an "HH:MM" string into minutes after midnight.
func ClockMinutes(s string) (int, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(s, "%d:%d", &hh, &mm); err != nil {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return hh*60 + mm, nil
}
