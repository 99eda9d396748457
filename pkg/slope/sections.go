package slope

import (
	"math"

	"github.com/chazu/isopipe/pkg/graph"
)

// SectionKind tells risers from spans.
type SectionKind string

const (
	SectionRiser SectionKind = "riser" // no horizontal run; may be a single node
	SectionSpan  SectionKind = "span"
)

// Section is a maximal run of path nodes of one kind. Neighbouring
// sections share their boundary node.
type Section struct {
	Kind  SectionKind    `json:"kind"`
	Nodes []graph.NodeID `json:"nodes"`
}

func (s Section) first() graph.NodeID { return s.Nodes[0] }
func (s Section) last() graph.NodeID  { return s.Nodes[len(s.Nodes)-1] }

// buildSections splits path into alternating risers and spans, and cuts
// spans at interior anchors. Every span is bracketed by risers.
func buildSections(path []graph.NodeID, pos map[graph.NodeID]graph.Vec3, anchors map[graph.NodeID]bool, eps float64) []Section {
	horiz := func(i int) bool {
		return pos[path[i+1]].Sub(pos[path[i]]).HorizLen() > eps
	}
	var out []Section
	i := 0
	for i < len(path) {
		riser := []graph.NodeID{path[i]}
		for i < len(path)-1 && !horiz(i) {
			i++
			riser = append(riser, path[i])
		}
		out = append(out, Section{Kind: SectionRiser, Nodes: riser})
		if i >= len(path)-1 {
			break
		}

		span := []graph.NodeID{path[i]}
		for i < len(path)-1 && horiz(i) {
			i++
			span = append(span, path[i])
		}
		start := 0
		for k := 1; k < len(span)-1; k++ {
			if !anchors[span[k]] {
				continue
			}
			out = append(out,
				Section{Kind: SectionSpan, Nodes: span[start : k+1]},
				Section{Kind: SectionRiser, Nodes: []graph.NodeID{span[k]}},
			)
			start = k
		}
		out = append(out, Section{Kind: SectionSpan, Nodes: span[start:]})
	}
	return out
}

type legDrop struct {
	from, to graph.NodeID
	drop     float64
}

// spanDrops returns the per-leg drop along a span and its total. Flat legs
// fall grade×run, downhill legs keep their fall, and uphill legs are
// regraded with a warning.
func spanDrops(sec Section, pos map[graph.NodeID]graph.Vec3, yOrig map[graph.NodeID]float64, grade, eps float64, warns *[]Warning) ([]legDrop, float64) {
	drops := make([]legDrop, 0, len(sec.Nodes)-1)
	total := 0.0
	for j := 0; j+1 < len(sec.Nodes); j++ {
		u, v := sec.Nodes[j], sec.Nodes[j+1]
		run := pos[v].Sub(pos[u]).HorizLen()
		if run <= eps {
			continue
		}
		fall := yOrig[u] - yOrig[v]
		d := grade * run
		switch {
		case math.Abs(fall) <= eps:
		case fall > 0:
			d = fall
		default:
			*warns = append(*warns, Warning{Kind: WarnDiagUphill, From: u, To: v, Msg: "uphill leg regraded"})
		}
		drops = append(drops, legDrop{from: u, to: v, drop: d})
		total += d
	}
	return drops, total
}

// mapRiser spreads a riser's nodes linearly from yTop to yBottom.
func mapRiser(sec Section, yTop, yBottom float64, y map[graph.NodeID]float64) {
	n := len(sec.Nodes)
	if n == 1 {
		y[sec.Nodes[0]] = yTop
		return
	}
	for i, id := range sec.Nodes {
		t := float64(i) / float64(n-1)
		y[id] = yTop + t*(yBottom-yTop)
	}
}
