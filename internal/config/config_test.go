package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/isopipe/pkg/slope"
	"github.com/chazu/isopipe/pkg/solver"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "isopipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.1, cfg.Solver.ConflictTolMm)
	assert.Equal(t, 10, cfg.Solver.MaxExtraPasses)
	assert.Equal(t, "balanced", cfg.Slope.Mode)
	assert.Equal(t, 0.01, cfg.Slope.Grade)
	assert.True(t, cfg.Slope.BalancedFallback)
	assert.Equal(t, 120, cfg.Mesh.Cells)
	assert.Equal(t, 0.0006, cfg.Stress.EqualSlopeFrac)
}

func TestLoadFromPath_Empty(t *testing.T) {
	cfg, err := LoadFromPath("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFromPath_PartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
solver:
  conflict_tol_mm: 0.5
slope:
  mode: lockTop
  grade: 0
  balanced_fallback: false
stress:
  wedge_max_deg: 6
log:
  level: debug
  format: json
`)
	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.Solver.ConflictTolMm)
	assert.Equal(t, 10, cfg.Solver.MaxExtraPasses, "unset key keeps its default")
	assert.Equal(t, "lockTop", cfg.Slope.Mode)
	assert.Zero(t, cfg.Slope.Grade, "a flat grade is a real setting")
	assert.False(t, cfg.Slope.BalancedFallback)
	assert.Equal(t, 6.0, cfg.Stress.WedgeMaxDeg)
	assert.Equal(t, 0.5, cfg.Stress.BendDeg)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "none", cfg.Telemetry.Traces)
}

func TestLoadFromPath_ZeroMeansUnset(t *testing.T) {
	path := writeConfig(t, `
solver:
  conflict_tol_mm: 0
mesh:
  cells: 0
  default_od_mm: 0
log:
  level: ""
`)
	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 0.1, cfg.Solver.ConflictTolMm)
	assert.Equal(t, 120, cfg.Mesh.Cells)
	assert.Equal(t, 20.0, cfg.Mesh.DefaultODMm)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromPath_Errors(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadFromPath(writeConfig(t, "solver: [1, 2"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalid), "parse errors are not validation errors")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		target error
	}{
		{"conflict below geometric", func(c *Config) { c.Solver.ConflictTolMm = 1e-7 }, solver.ErrTolerances},
		{"negative passes", func(c *Config) { c.Solver.MaxExtraPasses = -1 }, solver.ErrTolerances},
		{"unknown mode", func(c *Config) { c.Slope.Mode = "sideways" }, nil},
		{"negative grade", func(c *Config) { c.Slope.Grade = -0.01 }, nil},
		{"bend above wedge", func(c *Config) { c.Stress.BendDeg = 5 }, nil},
		{"tiny mesh", func(c *Config) { c.Mesh.Cells = 2 }, nil},
		{"negative od", func(c *Config) { c.Mesh.DefaultODMm = -1 }, nil},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, nil},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, nil},
		{"bad exporter", func(c *Config) { c.Telemetry.Metrics = "otlp" }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Slope.Mode = string(slope.ModeLockBottom)
	cfg.Mesh.Hollow = true
	path := filepath.Join(t.TempDir(), "nested", "isopipe.yaml")

	require.NoError(t, cfg.Save(path))
	got, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestDerivedOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Solver.ConflictTolMm = 0.25
	cfg.Slope.Mode = "lockBottom"
	cfg.Slope.IncludeGraded = true

	tol := cfg.SolverTolerances()
	assert.Equal(t, 0.25, tol.UserConflictMm)
	assert.Equal(t, solver.GeomEps, tol.Geom)

	opts := cfg.SlopeOptions()
	assert.Equal(t, slope.ModeLockBottom, opts.Mode)
	assert.True(t, opts.IncludeGraded)
	assert.True(t, opts.BalancedFallback)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{" warn ", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			assert.Equal(t, tt.ok, err == nil)
			assert.Equal(t, tt.want, got)
		})
	}
}
