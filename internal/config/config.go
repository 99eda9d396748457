// Package config loads the isopipe YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chazu/isopipe/pkg/slope"
	"github.com/chazu/isopipe/pkg/solver"
	"github.com/chazu/isopipe/pkg/stress"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Solver    SolverConfig      `yaml:"solver"`
	Slope     SlopeConfig       `yaml:"slope"`
	Stress    stress.Tolerances `yaml:"stress"`
	Mesh      MeshConfig        `yaml:"mesh"`
	Log       LogConfig         `yaml:"log"`
	Telemetry TelemetryConfig   `yaml:"telemetry"`
}

type SolverConfig struct {
	// ConflictTolMm is the disagreement, in mm, above which a user
	// dimension is flagged as a conflict.
	ConflictTolMm  float64 `yaml:"conflict_tol_mm"`
	MaxExtraPasses int     `yaml:"max_extra_passes"`
}

type SlopeConfig struct {
	Mode             string  `yaml:"mode"`
	Grade            float64 `yaml:"grade"`
	IncludeGraded    bool    `yaml:"include_graded"`
	BalancedFallback bool    `yaml:"balanced_fallback"`
}

type MeshConfig struct {
	Cells       int     `yaml:"cells"`
	DefaultODMm float64 `yaml:"default_od_mm"`
	Hollow      bool    `yaml:"hollow"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig selects the OpenTelemetry exporters: "none" or "stdout".
type TelemetryConfig struct {
	Traces  string `yaml:"traces"`
	Metrics string `yaml:"metrics"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	st := solver.DefaultTolerances()
	return Config{
		Solver: SolverConfig{
			ConflictTolMm:  st.UserConflictMm,
			MaxExtraPasses: st.MaxExtraPasses,
		},
		Slope: SlopeConfig{
			Mode:             string(slope.ModeBalanced),
			Grade:            slope.DefaultGrade,
			BalancedFallback: true,
		},
		Stress: stress.DefaultTolerances(),
		Mesh: MeshConfig{
			Cells:       120,
			DefaultODMm: 20,
		},
		Log:       LogConfig{Level: "info", Format: "text"},
		Telemetry: TelemetryConfig{Traces: "none", Metrics: "none"},
	}
}

// LoadFromPath reads path over the defaults, so keys the file leaves out
// keep their default values. An empty path returns DefaultConfig.
func LoadFromPath(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyDefaults treats zero values as unset. A zero grade is a valid
// (flat) setting and is left alone.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Solver.ConflictTolMm == 0 {
		c.Solver.ConflictTolMm = def.Solver.ConflictTolMm
	}
	if c.Slope.Mode == "" {
		c.Slope.Mode = def.Slope.Mode
	}
	s, d := &c.Stress, def.Stress
	for _, f := range []struct {
		v   *float64
		def float64
	}{
		{&s.BendDeg, d.BendDeg},
		{&s.WedgeMaxDeg, d.WedgeMaxDeg},
		{&s.InlineDeg, d.InlineDeg},
		{&s.TeeRunnerDeg, d.TeeRunnerDeg},
		{&s.TeeBranchDeg, d.TeeBranchDeg},
		{&s.EqualSlopeFrac, d.EqualSlopeFrac},
	} {
		if *f.v == 0 {
			*f.v = f.def
		}
	}
	if c.Mesh.Cells == 0 {
		c.Mesh.Cells = def.Mesh.Cells
	}
	if c.Mesh.DefaultODMm == 0 {
		c.Mesh.DefaultODMm = def.Mesh.DefaultODMm
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Telemetry.Traces == "" {
		c.Telemetry.Traces = def.Telemetry.Traces
	}
	if c.Telemetry.Metrics == "" {
		c.Telemetry.Metrics = def.Telemetry.Metrics
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.SolverTolerances().Validate(); err != nil {
		return fmt.Errorf("%w: solver: %w", ErrInvalid, err)
	}
	if _, err := slope.ParseMode(c.Slope.Mode); err != nil {
		return fmt.Errorf("%w: slope.mode: %w", ErrInvalid, err)
	}
	if c.Slope.Grade < 0 || math.IsNaN(c.Slope.Grade) || math.IsInf(c.Slope.Grade, 0) {
		return fmt.Errorf("%w: slope.grade must be a finite non-negative number, got %g", ErrInvalid, c.Slope.Grade)
	}
	if err := c.Stress.Validate(); err != nil {
		return fmt.Errorf("%w: stress: %w", ErrInvalid, err)
	}
	if c.Mesh.Cells < 8 || c.Mesh.Cells > 2000 {
		return fmt.Errorf("%w: mesh.cells must be in [8, 2000], got %d", ErrInvalid, c.Mesh.Cells)
	}
	if !(c.Mesh.DefaultODMm > 0) {
		return fmt.Errorf("%w: mesh.default_od_mm must be positive, got %g", ErrInvalid, c.Mesh.DefaultODMm)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %w", ErrInvalid, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format must be text or json, got %q", ErrInvalid, c.Log.Format)
	}
	for key, v := range map[string]string{"telemetry.traces": c.Telemetry.Traces, "telemetry.metrics": c.Telemetry.Metrics} {
		if v != "none" && v != "stdout" {
			return fmt.Errorf("%w: %s must be none or stdout, got %q", ErrInvalid, key, v)
		}
	}
	return nil
}

// Save writes c to path as YAML, creating the directory.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// SolverTolerances returns the solver defaults with the configured
// conflict tolerance and pass allowance.
func (c Config) SolverTolerances() solver.Tolerances {
	t := solver.DefaultTolerances()
	t.UserConflictMm = c.Solver.ConflictTolMm
	t.MaxExtraPasses = c.Solver.MaxExtraPasses
	return t
}

// SlopeOptions returns plan options for the configured mode. Validate
// must have passed.
func (c Config) SlopeOptions() slope.Options {
	mode, _ := slope.ParseMode(c.Slope.Mode)
	return slope.Options{
		Mode:             mode,
		IncludeGraded:    c.Slope.IncludeGraded,
		BalancedFallback: c.Slope.BalancedFallback,
	}
}

// ParseLevel maps debug, info, warn and error onto slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, err
	}
	return l, nil
}

// NewLogger builds the CLI logger on w.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
