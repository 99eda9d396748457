// Package stress flags fitting-angle deviations at pipe nodes.
//
// Angles are measured in 3D between centre edges using hint positions.
// A two-edge node is matched to the nearest standard fitting (90° elbow,
// 45° elbow, straight coupling); a three-edge node is checked as a tee.
// Results are written to NodeMeta.Stress and NodeMeta.Special.
package stress

import (
	"errors"
	"fmt"
	"math"

	"github.com/chazu/isopipe/pkg/graph"
)

// Entry and special kinds.
const (
	KindBendDeviation      = "bendAngleDeviation"
	KindInlineDeviation    = "inlineAngleDeviation"
	KindTeeRunnerDeviation = "teeRunnerAngleDeviation"
	KindTeeBranchDeviation = "teeBranchAngleDeviation"

	SpecialBend  = "specialBend"
	FixedElbow45 = "fixedElbow45"
)

const riserEps = 1e-9

// ErrTolerances is returned by Tolerances.Validate.
var ErrTolerances = errors.New("invalid stress tolerances")

// Tolerances in degrees, except EqualSlopeFrac which is a fall ratio.
type Tolerances struct {
	BendDeg        float64 `yaml:"bend_deg"`
	WedgeMaxDeg    float64 `yaml:"wedge_max_deg"`
	InlineDeg      float64 `yaml:"inline_deg"`
	TeeRunnerDeg   float64 `yaml:"tee_runner_deg"`
	TeeBranchDeg   float64 `yaml:"tee_branch_deg"`
	EqualSlopeFrac float64 `yaml:"equal_slope_frac"`
}

// DefaultTolerances: 0.5° everywhere, specials above 4°, and 0.6 mm/m for
// "same fall" on a rotatable elbow.
func DefaultTolerances() Tolerances {
	return Tolerances{
		BendDeg:        0.5,
		WedgeMaxDeg:    4,
		InlineDeg:      0.5,
		TeeRunnerDeg:   0.5,
		TeeBranchDeg:   0.5,
		EqualSlopeFrac: 0.0006,
	}
}

// Validate requires positive values and BendDeg < WedgeMaxDeg.
func (t Tolerances) Validate() error {
	for name, v := range map[string]float64{
		"bend_deg":         t.BendDeg,
		"wedge_max_deg":    t.WedgeMaxDeg,
		"inline_deg":       t.InlineDeg,
		"tee_runner_deg":   t.TeeRunnerDeg,
		"tee_branch_deg":   t.TeeBranchDeg,
		"equal_slope_frac": t.EqualSlopeFrac,
	} {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be positive, got %g", ErrTolerances, name, v)
		}
	}
	if t.BendDeg >= t.WedgeMaxDeg {
		return fmt.Errorf("%w: bend_deg %g must be below wedge_max_deg %g", ErrTolerances, t.BendDeg, t.WedgeMaxDeg)
	}
	return nil
}

// Evaluate recomputes stress and specials for ids, or for every node when
// ids is empty. It returns the nodes whose stress-present or
// special-present state changed.
func Evaluate(g *graph.Graph, ids []graph.NodeID, tol Tolerances) []graph.NodeID {
	if len(ids) == 0 {
		ids = g.NodeIDs()
	}
	var changed []graph.NodeID
	for _, id := range ids {
		n := g.Node(id)
		if n == nil {
			continue
		}
		hadStress := n.Meta.Stress != nil && n.Meta.Stress.Present
		hadSpecial := n.Meta.Special != nil

		entries, special, ok := evaluateNode(g, id, tol)
		if !ok {
			continue
		}
		n.Meta.Special = special
		if len(entries) > 0 {
			sev := graph.StressHint
			for _, e := range entries {
				if e.Severity == graph.StressWarn {
					sev = graph.StressWarn
				}
			}
			n.Meta.Stress = &graph.Stress{Present: true, Entries: entries, Severity: sev}
		} else {
			n.Meta.Stress = &graph.Stress{Entries: []graph.StressEntry{}}
		}

		if (len(entries) > 0) != hadStress || (special != nil) != hadSpecial {
			changed = append(changed, id)
		}
	}
	return changed
}

// evaluateNode returns false when a neighbour direction is degenerate.
func evaluateNode(g *graph.Graph, id graph.NodeID, tol Tolerances) ([]graph.StressEntry, *graph.Special, bool) {
	neigh := g.Neighbors(id, graph.OfKind(graph.KindCenter))
	origin, _ := g.NodeWorldPos(id)
	raw := make([]graph.Vec3, 0, len(neigh))
	for _, nb := range neigh {
		p, _ := g.NodeWorldPos(nb.Other)
		raw = append(raw, p.Sub(origin))
	}

	switch len(raw) {
	case 2:
		return evaluateBend(raw[0], raw[1], tol)
	case 3:
		entries, ok := evaluateTee(raw, tol)
		return entries, nil, ok
	}
	return nil, nil, true
}

func evaluateBend(r0, r1 graph.Vec3, tol Tolerances) ([]graph.StressEntry, *graph.Special, bool) {
	v0, ok0 := r0.Normalize(riserEps)
	v1, ok1 := r1.Normalize(riserEps)
	if !ok0 || !ok1 {
		return nil, nil, false
	}
	a := angleDeg(v0, v1)
	nominal, delta := nearestNominal(a)

	switch nominal {
	case 90:
		if !isRiser(v0) && !isRiser(v1) && math.Abs(fallFrac(v0)-fallFrac(v1)) <= tol.EqualSlopeFrac {
			// A level-ish elbow can be rotated to fit.
			return nil, nil, true
		}
		if delta > tol.WedgeMaxDeg {
			return nil, &graph.Special{Kind: SpecialBend, AngleDeg: round3(a), DeltaDeg: round3(delta)}, true
		}
		if delta > tol.BendDeg {
			return []graph.StressEntry{{
				Kind:     KindBendDeviation,
				DeltaDeg: round3(delta),
				Note:     "bend deviates from nominal 90°",
				Severity: graph.StressHint,
			}}, nil, true
		}
	case 135:
		return nil, &graph.Special{Kind: FixedElbow45, AngleDeg: round3(a), DeltaDeg: round3(delta)}, true
	default:
		if delta > tol.InlineDeg {
			return []graph.StressEntry{{
				Kind:     KindInlineDeviation,
				DeltaDeg: round3(delta),
				Note:     "inline component deviates from nominal 180°",
				Severity: severity(delta, tol.InlineDeg),
			}}, nil, true
		}
	}
	return nil, nil, true
}

func evaluateTee(raw []graph.Vec3, tol Tolerances) ([]graph.StressEntry, bool) {
	v := make([]graph.Vec3, 3)
	for i, r := range raw {
		u, ok := r.Normalize(riserEps)
		if !ok {
			return nil, false
		}
		v[i] = u
	}

	// Runner pair is the one closest to straight.
	pairs := [][2]int{{0, 1}, {0, 2}, {1, 2}}
	best, bestDelta := 0, math.Inf(1)
	for i, p := range pairs {
		if d := math.Abs(180 - angleDeg(v[p[0]], v[p[1]])); d < bestDelta {
			best, bestDelta = i, d
		}
	}
	r0, r1 := pairs[best][0], pairs[best][1]
	b := 3 - r0 - r1

	var entries []graph.StressEntry
	if bestDelta > tol.TeeRunnerDeg {
		entries = append(entries, graph.StressEntry{
			Kind:     KindTeeRunnerDeviation,
			DeltaDeg: round3(bestDelta),
			Note:     "tee runner deviates from nominal 180°",
			Severity: severity(bestDelta, tol.TeeRunnerDeg),
		})
	}
	branch := math.Min(math.Abs(90-angleDeg(v[b], v[r0])), math.Abs(90-angleDeg(v[b], v[r1])))
	if branch > tol.TeeBranchDeg {
		entries = append(entries, graph.StressEntry{
			Kind:     KindTeeBranchDeviation,
			DeltaDeg: round3(branch),
			Note:     "tee branch deviates from nominal 90°",
			Severity: severity(branch, tol.TeeBranchDeg),
		})
	}
	return entries, true
}

func nearestNominal(a float64) (nominal, delta float64) {
	nominal, delta = 90, math.Abs(90-a)
	for _, n := range []float64{135, 180} {
		if d := math.Abs(n - a); d < delta {
			nominal, delta = n, d
		}
	}
	return nominal, delta
}

func severity(delta, tol float64) graph.StressLevel {
	if delta > 2*tol {
		return graph.StressWarn
	}
	return graph.StressHint
}

func angleDeg(u, v graph.Vec3) float64 {
	return math.Acos(math.Max(-1, math.Min(1, u.Dot(v)))) * 180 / math.Pi
}

func isRiser(v graph.Vec3) bool { return v.HorizLen() <= riserEps }

func fallFrac(v graph.Vec3) float64 {
	h := v.HorizLen()
	if h == 0 {
		return 0
	}
	return math.Abs(v.Y) / h
}

func round3(x float64) float64 { return math.Round(x*1000) / 1000 }
