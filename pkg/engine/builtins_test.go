package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/isopipe/pkg/graph"
)

// ---------------------------------------------------------------------------
// Preprocessing
// ---------------------------------------------------------------------------

func TestPreprocessSource(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{"simple keyword", `(center "e1" "a" "b" :mm 100)`, `(center "e1" "a" "b" "__kw_mm" 100)`},
		{"axis keyword", `:axis :y`, `"__kw_axis" "__kw_y"`},
		{"keyword in string preserved", `"not :a keyword"`, `"not :a keyword"`},
		{"assignment operator preserved", `(def x := 10)`, `(def x := 10)`},
		{"kebab-case builtin", `(plane-edges "e1" "e2")`, `(plane_edges "e1" "e2")`},
		{"kebab-case in string preserved", `(node "run-1")`, `(node "run-1")`},
		{"hyphen in keyword preserved", `:tee-plane`, `"__kw_tee-plane"`},
		{"minus operator preserved", `(- 10 5)`, `(- 10 5)`},
		{"negative literal preserved", `(vec3 0 -5 0)`, `(vec3 0 -5 0)`},
		{"double semicolon comment", `;; riser :y`, `// riser :y`},
		{"single semicolon comment", `; note`, `// note`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, preprocessSource(tt.input))
		})
	}
}

// ---------------------------------------------------------------------------
// Builtins
// ---------------------------------------------------------------------------

func TestNodeBuiltin(t *testing.T) {
	res := mustEvaluate(t, `
(node "a" (vec3 0 0 0) :anchor true)
(node "b" (vec3 100 0 0) :offset (vec3 0 5 0))
(node "c")
(center "e1" "a" "b")
(center "e2" "b" "c")
`)
	g := res.Graph
	require.Equal(t, 3, g.NodeCount())

	assert.True(t, g.Node("a").Meta.IsAnchor)
	b := g.Node("b")
	assert.Equal(t, graph.Vec3{X: 100}, b.Base)
	assert.Equal(t, graph.Vec3{Y: 5}, b.Offset)
	assert.Equal(t, graph.Vec3{}, g.Node("c").Base, "hint defaults to the origin")
}

func TestEdgeBuiltins(t *testing.T) {
	res := mustEvaluate(t, `
(node "a" (vec3 0 0 0) :anchor true)
(node "b" (vec3 100 0 0))
(node "c" (vec3 100 0 50))
(node "d" (vec3 100 40 50))
(def r1 (center "e1" "a" "b" :mm 100 :axis :x :od 22 :wt 1.2 :material "copper"))
(center "e2" "b" "c" :mm 50 :stamp 7 :perp r1 :plane (plane-up r1))
(construction "e3" "a" "c" :angle "e1" :deg 26.565 :plane (plane-edges "e1" "e2"))
(center "e4" "c" "d" :mm 40 :parallel "e1" :plane (plane-normal (vec3 1 0 0)))
`)
	g := res.Graph
	require.Equal(t, 4, g.EdgeCount())

	e1 := g.Edge("e1")
	assert.Equal(t, graph.KindCenter, e1.Kind)
	require.NotNil(t, e1.Dim)
	assert.Equal(t, 100.0, e1.Dim.ValueMm)
	assert.Equal(t, graph.SourceUser, e1.Dim.Source)
	assert.Equal(t, int64(1), e1.Dim.UserEditedAt, "first edit gets stamp 1")
	lock, ok := e1.Meta.AxisLock()
	require.True(t, ok)
	assert.Equal(t, graph.AxisX, lock.Axis)
	assert.Equal(t, &graph.PipeSpec{OD: 22, WT: 1.2, Material: "copper"}, e1.Spec)

	e2 := g.Edge("e2")
	assert.Equal(t, int64(7), e2.Dim.UserEditedAt)
	perp, ok := e2.Meta.PerpTo()
	require.True(t, ok)
	assert.Equal(t, graph.EdgeID("e1"), perp.Ref)
	assert.Equal(t, graph.ByEdgeUp{Ref: "e1"}, e2.Meta.Plane())

	e3 := g.Edge("e3")
	assert.Equal(t, graph.KindConstruction, e3.Kind)
	assert.Nil(t, e3.Dim, "no :mm means unmeasured")
	angle, ok := e3.Meta.AngleTo()
	require.True(t, ok)
	assert.InDelta(t, 26.565, angle.Deg, 1e-12)
	assert.Equal(t, graph.ByEdges{A: "e1", B: "e2"}, e3.Meta.Plane())

	e4 := g.Edge("e4")
	assert.Equal(t, int64(8), e4.Dim.UserEditedAt, "auto stamps continue after an explicit one")
	par, ok := e4.Meta.ParallelTo()
	require.True(t, ok)
	assert.Equal(t, graph.EdgeID("e1"), par.Ref)
	assert.Equal(t, graph.ByNormal{N: graph.Vec3{X: 1}}, e4.Meta.Plane())
}

func TestOnSegmentAndTeePlane(t *testing.T) {
	res := mustEvaluate(t, `
(node "a" (vec3 0 0 0) :anchor true)
(node "b" (vec3 100 0 0))
(node "m" (vec3 50 0 0) :tee-plane (plane-normal (vec3 0 1 0)))
(on-segment "m" "a" "b")
(center "e1" "a" "m")
(center "e2" "m" "b")
`)
	m := res.Graph.Node("m")
	require.NotNil(t, m.Meta.OnSegment)
	assert.Equal(t, graph.Segment{A: "a", B: "b"}, *m.Meta.OnSegment)
	assert.Equal(t, graph.ByNormal{N: graph.Vec3{Y: 1}}, m.Meta.TeePlane)
}

func TestBuiltinErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"duplicate node", `(node "a") (node "a")`},
		{"edge id reuses node id", `(node "a") (node "b") (center "a" "a" "b")`},
		{"edge arity", `(node "a") (center "e1" "a")`},
		{"bad axis", `(node "a") (node "b") (center "e1" "a" "b" :axis :w)`},
		{"angle without deg", `(node "a") (node "b") (center "e1" "a" "b" :angle "e0")`},
		{"vec3 arity", `(vec3 1 2)`},
		{"on-segment unknown node", `(on-segment "x" "a" "b")`},
		{"hint is not a vec3", `(node "a" 5)`},
		{"plane-up arity", `(plane-up)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewEngine().Evaluate(tt.src)
			require.NoError(t, err)
			assert.Nil(t, res.Graph)
			assert.NotEmpty(t, res.Errors)
		})
	}
}

func TestEvaluateWarnings(t *testing.T) {
	res := mustEvaluate(t, `
(node "a" (vec3 0 0 0) :anchor true)
(node "b" (vec3 0 0 0))
(center "e1" "a" "b" :mm 10)
`)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, graph.EdgeID("e1"), res.Warnings[0].EdgeID)
}
