package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsValidate(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ES", cfg.Instrument.Symbol)
	assert.Equal(t, DeadlineNextBar, cfg.Sweep.ConfirmationDeadline)
	assert.Equal(t, 2, cfg.Risk.MaxAttemptsPerDay)
	assert.Equal(t, 12, cfg.Trigger.WindowBars)
	assert.Equal(t, ZoneOrderBlock, cfg.Trigger.EntryZone)
	assert.False(t, cfg.Sweep.RearmAfterInvalid)
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := `
instrument:
  symbol: NQ
  reference: ES
risk:
  target_mode: multi_tier
  targets:
    - points: 10
      fraction: 0.5
    - r_multiple: 2
      fraction: 0.5
cross_asset:
  enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	t.Setenv("SWEEP_RECON_TIME", "09:30")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "NQ", cfg.Instrument.Symbol)
	assert.Equal(t, "09:30", cfg.Session.ReconnaissanceTime)
	assert.Len(t, cfg.Risk.Targets, 2)
}

func TestValidate_BadFractionSum(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	cfg.Risk.TargetMode = TargetMultiTier
	cfg.Risk.Targets = []TargetTier{
		{Points: 10, Fraction: 0.5},
		{RMultiple: 2, Fraction: 0.6},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidate_UnknownStopMode(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	cfg.Risk.StopMode = "trailing"
	assert.Error(t, cfg.Validate())
}

func TestValidate_UnknownEntryZone(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	cfg.Trigger.EntryZone = "liquidity_void"
	assert.Error(t, cfg.Validate())
}

func TestValidate_CrossAssetNeedsReference(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	cfg.CrossAsset.Enabled = true
	cfg.Instrument.Reference = ""
	assert.Error(t, cfg.Validate())
}

func TestClockMinutes(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"08:00", 480, false},
		{"11:30", 690, false},
		{"00:00", 0, false},
		{"24:00", 0, true},
		{"8am", 0, true},
	}
	for _, tt := range tests {
		got, err := ClockMinutes(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
