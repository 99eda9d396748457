package app

import (
	"sort"

	"github.com/chazu/isopipe/pkg/graph"
	"github.com/chazu/isopipe/pkg/kernel"
	"github.com/chazu/isopipe/pkg/slope"
	"github.com/chazu/isopipe/pkg/solver"
	"github.com/chazu/isopipe/pkg/tessellate"
)

// Issue is a DSL or validation finding in a JSON-friendly shape.
type Issue struct {
	Severity string       `json:"severity"`
	Line     int          `json:"line,omitempty"`
	Col      int          `json:"col,omitempty"`
	Node     graph.NodeID `json:"node,omitempty"`
	Edge     graph.EdgeID `json:"edge,omitempty"`
	Message  string       `json:"message"`
}

// NodeReport is one node after a run.
type NodeReport struct {
	ID      graph.NodeID   `json:"id"`
	Pos     *graph.Vec3    `json:"pos,omitempty"`
	Method  string         `json:"method,omitempty"`
	Topo    string         `json:"topo,omitempty"`
	Stress  *graph.Stress  `json:"stress,omitempty"`
	Special *graph.Special `json:"special,omitempty"`
}

// EdgeReport is one edge after a run.
type EdgeReport struct {
	ID       graph.EdgeID    `json:"id"`
	A        graph.NodeID    `json:"a"`
	B        graph.NodeID    `json:"b"`
	Kind     string          `json:"kind"`
	LengthMm float64         `json:"lengthMm,omitempty"`
	Source   string          `json:"source,omitempty"`
	Conflict *graph.Conflict `json:"conflict,omitempty"`
}

// Report is the JSON result of Run. Slices are never nil.
type Report struct {
	OK            bool                     `json:"ok"`
	RunID         string                   `json:"runId,omitempty"`
	Check         solver.Result            `json:"check"`
	Issues        []Issue                  `json:"issues"`
	Nodes         []NodeReport             `json:"nodes"`
	Edges         []EdgeReport             `json:"edges"`
	StressChanged []graph.NodeID           `json:"stressChanged"`
	Meshes        []*kernel.Mesh           `json:"meshes"`
	Skipped       []tessellate.Skipped     `json:"skipped"`
	Conflicts     []graph.EdgeID           `json:"conflicts"`
	Derived       map[graph.EdgeID]float64 `json:"derived,omitempty"`
}

func newReport() *Report {
	return &Report{
		Issues:        []Issue{},
		Nodes:         []NodeReport{},
		Edges:         []EdgeReport{},
		StressChanged: []graph.NodeID{},
		Meshes:        []*kernel.Mesh{},
		Skipped:       []tessellate.Skipped{},
		Conflicts:     []graph.EdgeID{},
	}
}

// SlopeReport is the JSON result of Slope.
type SlopeReport struct {
	Preview slope.Preview       `json:"preview"`
	Commit  *slope.CommitResult `json:"commit,omitempty"`
	// StressChanged is filled only after a commit.
	StressChanged []graph.NodeID `json:"stressChanged"`
}

func validationIssues(vr graph.ValidationResult) []Issue {
	out := make([]Issue, 0, len(vr.Errors)+len(vr.Warnings))
	for _, list := range [][]graph.ValidationError{vr.Errors, vr.Warnings} {
		for _, v := range list {
			out = append(out, Issue{
				Severity: v.Severity.String(),
				Node:     v.NodeID,
				Edge:     v.EdgeID,
				Message:  v.Message,
			})
		}
	}
	return out
}

// fill copies the graph state, and the embedding when there is one, into r.
func (r *Report) fill(g *graph.Graph, emb *solver.Embedding) {
	for _, n := range g.Nodes() {
		nr := NodeReport{
			ID:      n.ID,
			Topo:    n.Meta.Topo.String(),
			Special: n.Meta.Special,
		}
		if n.Meta.Stress != nil && n.Meta.Stress.Present {
			nr.Stress = n.Meta.Stress
		}
		if emb != nil {
			if p, ok := emb.Pos(n.ID); ok {
				nr.Pos = &p
				nr.Method = emb.Method[n.ID]
			}
		}
		r.Nodes = append(r.Nodes, nr)
	}
	for _, e := range g.Edges() {
		er := EdgeReport{ID: e.ID, A: e.A, B: e.B, Kind: e.Kind.String(), LengthMm: e.Length()}
		if e.Dim != nil {
			er.Source = e.Dim.Source.String()
			er.Conflict = e.Dim.Conflict
			if e.Dim.Conflict != nil {
				r.Conflicts = append(r.Conflicts, e.ID)
			}
		}
		r.Edges = append(r.Edges, er)
	}
	if emb != nil && len(emb.Derived) > 0 {
		r.Derived = emb.Derived
	}
	sort.Slice(r.Conflicts, func(i, j int) bool { return r.Conflicts[i] < r.Conflicts[j] })
}
