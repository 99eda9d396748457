// Command isopipe checks, solves, slopes and meshes pipe recipes.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chazu/isopipe/internal/app"
	"github.com/chazu/isopipe/internal/config"
	"github.com/chazu/isopipe/internal/telemetry"
)

var version = "0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// cli holds what every subcommand shares once the root pre-run has
// loaded the configuration.
type cli struct {
	configPath string
	logLevel   string

	out, errOut io.Writer

	cfg      config.Config
	logger   *slog.Logger
	app      *app.App
	shutdown func(context.Context) error
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "isopipe",
		Short: "Geometric constraint solver for pipe recipes",
		Long: `isopipe reads a pipe recipe (a .zy DSL file or a JSON/YAML fixture),
checks that its dimensions and constraints determine a unique layout,
solves it, and reports derived lengths, conflicts, topology and stress.`,
		Version:            version,
		SilenceUsage:       true,
		PersistentPreRunE:  c.setup,
		PersistentPostRunE: c.teardown,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to an isopipe.yaml config file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override log.level (debug|info|warn|error)")

	root.AddCommand(
		c.checkCmd(),
		c.solveCmd(),
		c.editCmd(),
		c.slopeCmd(),
		c.stressCmd(),
		c.meshCmd(),
		c.watchCmd(),
		c.configCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadFromPath(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	c.cfg = cfg

	shutdown, err := telemetry.Init(cmd.Context(), telemetry.Config{
		ServiceName:    "isopipe",
		ServiceVersion: version,
		TraceExporter:  cfg.Telemetry.Traces,
		MetricExporter: cfg.Telemetry.Metrics,
		Writer:         c.errOut,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	c.shutdown = shutdown
	c.logger = cfg.NewLogger(c.errOut)
	c.app = app.New(cfg, c.logger)
	return nil
}

func (c *cli) teardown(*cobra.Command, []string) error {
	if c.shutdown == nil {
		return nil
	}
	return c.shutdown(context.Background())
}
