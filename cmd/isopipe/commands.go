package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/chazu/isopipe/internal/app"
	"github.com/chazu/isopipe/internal/config"
	"github.com/chazu/isopipe/internal/watcher"
	"github.com/chazu/isopipe/pkg/graph"
	"github.com/chazu/isopipe/pkg/kernel"
	"github.com/chazu/isopipe/pkg/slope"
	"github.com/chazu/isopipe/pkg/tessellate"
)

// errNotSolved is returned after the report has been printed, so the
// process exits non-zero.
var errNotSolved = errors.New("recipe not solved")

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func notSolved(rep *app.Report) error {
	if rep.OK {
		return nil
	}
	if rep.Check.Reason != "" {
		return fmt.Errorf("%w: %s", errNotSolved, rep.Check.Reason)
	}
	return errNotSolved
}

// load reads the recipe and logs its advisory findings.
func (c *cli) load(path string) (*graph.Graph, error) {
	g, issues, err := c.app.LoadSource(path)
	var le *app.LoadError
	if errors.As(err, &le) {
		_ = writeJSON(c.out, map[string]any{"ok": false, "issues": issues})
	}
	if err != nil {
		return nil, err
	}
	for _, is := range issues {
		fmt.Fprintf(c.errOut, "warning: %s\n", describe(is))
	}
	return g, nil
}

func describe(is app.Issue) string {
	switch {
	case is.Edge != "":
		return fmt.Sprintf("edge %s: %s", is.Edge, is.Message)
	case is.Node != "":
		return fmt.Sprintf("node %s: %s", is.Node, is.Message)
	}
	return is.Message
}

func (c *cli) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Report whether a recipe determines a unique layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := c.load(args[0])
			if err != nil {
				return err
			}
			rep := c.app.Check(cmd.Context(), g)
			if err := writeJSON(c.out, struct {
				OK     bool        `json:"ok"`
				Check  any         `json:"check"`
				Issues []app.Issue `json:"issues"`
			}{rep.OK, rep.Check, rep.Issues}); err != nil {
				return err
			}
			return notSolved(rep)
		},
	}
}

func (c *cli) solveCmd() *cobra.Command {
	var out string
	var snap bool
	cmd := &cobra.Command{
		Use:   "solve <file>",
		Short: "Solve a recipe and print positions, derived lengths and conflicts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := c.load(args[0])
			if err != nil {
				return err
			}
			rep, err := c.app.Run(cmd.Context(), g, app.RunOptions{Snap: snap})
			if err != nil {
				return err
			}
			if err := writeJSON(c.out, rep); err != nil {
				return err
			}
			if out != "" && rep.OK {
				if err := graph.SaveFixture(g.ToFixture(), out); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
			}
			return notSolved(rep)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the solved recipe as a fixture (.json or .yaml)")
	cmd.Flags().BoolVar(&snap, "snap", false, "move node hints onto their solved positions")
	return cmd
}

func (c *cli) editCmd() *cobra.Command {
	var (
		edge  string
		mm    float64
		stamp int64
		out   string
	)
	cmd := &cobra.Command{
		Use:   "edit <file>",
		Short: "Set a user length on one edge and re-solve",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := c.load(args[0])
			if err != nil {
				return err
			}
			rep, err := c.app.Edit(cmd.Context(), g, graph.EdgeID(edge), mm, stamp)
			if err != nil {
				return err
			}
			if err := writeJSON(c.out, rep); err != nil {
				return err
			}
			if out != "" {
				if err := graph.SaveFixture(g.ToFixture(), out); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
			}
			return notSolved(rep)
		},
	}
	cmd.Flags().StringVar(&edge, "edge", "", "edge id")
	cmd.Flags().Float64Var(&mm, "mm", 0, "new length in mm")
	cmd.Flags().Int64Var(&stamp, "stamp", 0, "edit stamp (default: now in ms)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the edited recipe as a fixture")
	_ = cmd.MarkFlagRequired("edge")
	_ = cmd.MarkFlagRequired("mm")
	return cmd
}

func (c *cli) slopeCmd() *cobra.Command {
	var (
		from, to string
		grade    float64
		mode     string
		anchors  []string
		commit   bool
		out      string
	)
	cmd := &cobra.Command{
		Use:   "slope <file>",
		Short: "Plan (and optionally commit) a constant fall between two nodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var m slope.Mode
			if mode != "" {
				var err error
				if m, err = slope.ParseMode(mode); err != nil {
					return err
				}
			}
			if !cmd.Flags().Changed("grade") {
				grade = c.cfg.Slope.Grade
			}
			g, err := c.load(args[0])
			if err != nil {
				return err
			}
			req := app.SlopeRequest{
				From:   graph.NodeID(from),
				To:     graph.NodeID(to),
				Grade:  grade,
				Mode:   m,
				Commit: commit,
			}
			for _, a := range anchors {
				req.Anchors = append(req.Anchors, graph.NodeID(a))
			}
			rep, err := c.app.Slope(cmd.Context(), g, req)
			if err != nil {
				return err
			}
			if err := writeJSON(c.out, rep); err != nil {
				return err
			}
			if !rep.Preview.OK {
				return fmt.Errorf("slope rejected: %s", rep.Preview.Reason)
			}
			if out != "" && rep.Commit != nil && rep.Commit.OK {
				if err := graph.SaveFixture(g.ToFixture(), out); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "upstream node id")
	cmd.Flags().StringVar(&to, "to", "", "downstream node id")
	cmd.Flags().Float64Var(&grade, "grade", slope.DefaultGrade, "fall per unit of run (default from config)")
	cmd.Flags().StringVar(&mode, "mode", "", "balanced|lockTop|lockBottom (default from config)")
	cmd.Flags().StringSliceVar(&anchors, "anchor", nil, "extra nodes whose height may not change")
	cmd.Flags().BoolVar(&commit, "commit", false, "write the new heights to the recipe")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the committed recipe as a fixture")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func (c *cli) stressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stress <file>",
		Short: "List fittings that deviate from standard angles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := c.load(args[0])
			if err != nil {
				return err
			}
			rep, err := c.app.Run(cmd.Context(), g, app.RunOptions{})
			if err != nil {
				return err
			}
			flagged := []app.NodeReport{}
			for _, n := range rep.Nodes {
				if n.Stress != nil || n.Special != nil {
					flagged = append(flagged, n)
				}
			}
			return writeJSON(c.out, map[string]any{"ok": rep.OK, "nodes": flagged})
		},
	}
}

func (c *cli) meshCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "mesh <file>",
		Short: "Solve a recipe and write pipe and fitting meshes as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := c.load(args[0])
			if err != nil {
				return err
			}
			rep, err := c.app.Run(cmd.Context(), g, app.RunOptions{Mesh: true})
			if err != nil {
				return err
			}
			if !rep.OK {
				_ = writeJSON(c.out, rep)
				return notSolved(rep)
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			defer f.Close()
			if err := writeJSON(f, struct {
				Meshes  []*kernel.Mesh       `json:"meshes"`
				Skipped []tessellate.Skipped `json:"skipped"`
			}{rep.Meshes, rep.Skipped}); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(c.errOut, "wrote %d meshes to %s (%d skipped)\n", len(rep.Meshes), out, len(rep.Skipped))
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "mesh.json", "output file")
	return cmd
}

func (c *cli) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <file>",
		Short: "Re-solve a recipe every time it is saved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			solve := func() {
				g, err := c.load(path)
				if err != nil {
					fmt.Fprintf(c.errOut, "error: %v\n", err)
					return
				}
				rep, err := c.app.Run(cmd.Context(), g, app.RunOptions{})
				if err != nil {
					fmt.Fprintf(c.errOut, "error: %v\n", err)
					return
				}
				_ = writeJSON(c.out, rep)
			}
			solve()
			w := watcher.New(path, solve).WithLogger(c.logger)
			err := w.Watch(cmd.Context())
			if errors.Is(err, cmd.Context().Err()) {
				return nil
			}
			return err
		},
	}
}

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or write the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			enc := yaml.NewEncoder(c.out)
			enc.SetIndent(2)
			if err := enc.Encode(c.cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "init <path>",
		Short: "Write the default configuration to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err == nil {
				return fmt.Errorf("%s already exists", args[0])
			}
			return config.DefaultConfig().Save(args[0])
		},
	})
	return cmd
}
