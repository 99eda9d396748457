package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/isopipe/pkg/graph"
)

const regression = "../../pkg/graph/testdata/regression.json"

func run(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(&out, &errOut)
	root.SetArgs(args)
	err = root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestSolveCommand(t *testing.T) {
	solved := filepath.Join(t.TempDir(), "solved.yaml")
	stdout, _, err := run(t, "solve", regression, "--out", solved)
	require.NoError(t, err)

	var rep struct {
		OK      bool               `json:"ok"`
		Derived map[string]float64 `json:"derived"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &rep))
	assert.True(t, rep.OK)
	assert.InDelta(t, 100*math.Sqrt2-50, rep.Derived["e5"], 1e-6)

	fx, err := graph.LoadFixture(solved)
	require.NoError(t, err)
	g, err := fx.Build()
	require.NoError(t, err)
	e5 := g.Edge("e5")
	require.NotNil(t, e5.Dim)
	assert.Equal(t, graph.SourceDerived, e5.Dim.Source)
}

func TestCheckCommand(t *testing.T) {
	stdout, _, err := run(t, "check", regression)
	require.NoError(t, err)
	assert.Contains(t, stdout, `"ok": true`)

	loose := writeTemp(t, "loose.yaml", `
nodes:
  - {id: a, base: {x: 0, y: 0, z: 0}}
  - {id: b, base: {x: 100, y: 0, z: 0}}
edges:
  - {id: e1, a: a, b: b, dim: {valueMm: 100, source: user, userEditedAt: 1}}
`)
	stdout, _, err = run(t, "check", loose)
	assert.ErrorIs(t, err, errNotSolved)
	assert.Contains(t, stdout, "anchor_count")
}

func TestInvalidRecipe(t *testing.T) {
	bad := writeTemp(t, "bad.zy", `(center "e1" "n1")`)
	stdout, _, err := run(t, "solve", bad)
	require.Error(t, err)
	assert.Contains(t, stdout, `"issues"`)
	assert.Contains(t, stdout, `"severity": "error"`)
}

func TestEditCommand(t *testing.T) {
	edited := filepath.Join(t.TempDir(), "edited.json")
	stdout, _, err := run(t, "edit", regression, "--edge", "e1", "--mm", "150", "--stamp", "50", "--out", edited)
	require.NoError(t, err)
	assert.Contains(t, stdout, `"ok": true`)

	fx, err := graph.LoadFixture(edited)
	require.NoError(t, err)
	g, err := fx.Build()
	require.NoError(t, err)
	assert.Equal(t, 150.0, g.Edge("e1").Dim.ValueMm)
	assert.Equal(t, int64(50), g.Edge("e1").Dim.UserEditedAt)

	_, _, err = run(t, "edit", regression, "--edge", "e1")
	assert.Error(t, err, "--mm is required")
}

const riserSpanRiser = `
nodes:
  - {id: A, base: {x: 0, y: 100, z: 0}}
  - {id: r, base: {x: 0, y: 50, z: 0}}
  - {id: s, base: {x: 1000, y: 50, z: 0}}
  - {id: B, base: {x: 1000, y: 0, z: 0}}
edges:
  - {id: e1, a: A, b: r}
  - {id: e2, a: r, b: s}
  - {id: e3, a: s, b: B}
`

func TestSlopeCommand(t *testing.T) {
	src := writeTemp(t, "run.yaml", riserSpanRiser)
	committed := filepath.Join(t.TempDir(), "committed.yaml")

	stdout, _, err := run(t, "slope", src, "--from", "A", "--to", "B", "--mode", "lockTop", "--commit", "--out", committed)
	require.NoError(t, err)
	assert.Contains(t, stdout, `"targetYByNode"`)

	fx, err := graph.LoadFixture(committed)
	require.NoError(t, err)
	g, err := fx.Build()
	require.NoError(t, err)
	p, ok := g.NodeWorldPos("s")
	require.True(t, ok)
	assert.InDelta(t, 40, p.Y, 1e-9)

	_, _, err = run(t, "slope", src, "--from", "A", "--to", "B", "--mode", "sideways")
	assert.ErrorContains(t, err, "unknown slope mode")
}

func TestMeshCommand(t *testing.T) {
	cfg := writeTemp(t, "isopipe.yaml", "mesh:\n  cells: 16\n")
	meshOut := filepath.Join(t.TempDir(), "mesh.json")

	_, stderr, err := run(t, "--config", cfg, "mesh", regression, "--out", meshOut)
	require.NoError(t, err)
	assert.Contains(t, stderr, "wrote 5 meshes")

	data, err := os.ReadFile(meshOut)
	require.NoError(t, err)
	var got struct {
		Meshes []struct {
			Part string `json:"part"`
			Kind string `json:"kind"`
		} `json:"meshes"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	parts := map[string]string{}
	for _, m := range got.Meshes {
		parts[m.Part] = m.Kind
	}
	assert.Equal(t, map[string]string{
		"e1": "pipe", "e6": "pipe", "e5": "pipe",
		"n2": "fitting", "n6": "fitting",
	}, parts)
}

func TestStressCommand(t *testing.T) {
	stdout, _, err := run(t, "stress", regression)
	require.NoError(t, err)
	var got struct {
		OK    bool              `json:"ok"`
		Nodes []json.RawMessage `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.True(t, got.OK)
	assert.NotNil(t, got.Nodes)
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "isopipe.yaml")
	_, _, err := run(t, "config", "init", path)
	require.NoError(t, err)
	_, _, err = run(t, "config", "init", path)
	assert.ErrorContains(t, err, "already exists")

	stdout, _, err := run(t, "--config", path, "--log-level", "debug", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, stdout, "conflict_tol_mm: 0.1")
	assert.Contains(t, stdout, "level: debug")

	_, _, err = run(t, "--log-level", "chatty", "config", "show")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	stdout, _, err := run(t, "--version")
	require.NoError(t, err)
	assert.True(t, strings.Contains(stdout, version))
}
