package graph

import "fmt"

// ---------------------------------------------------------------------------
// Tier 2: geometric warnings over hint positions
// ---------------------------------------------------------------------------

// validateGeometry runs the Tier 2 checks. Hints are only tie-breakers, so
// everything here is advisory.
func validateGeometry(f *Fixture) []ValidationError {
	var warnings []ValidationError
	warnings = append(warnings, validateParallelEdges(f)...)
	warnings = append(warnings, validateDegenerateHints(f)...)
	warnings = append(warnings, validateOnSegmentHints(f)...)
	return warnings
}

// edgeKey is a canonical key for an unordered endpoint pair plus kind, so
// (a,b) and (b,a) collide.
type edgeKey struct {
	lo, hi string
	kind   string
}

func makeEdgeKey(a, b, kind string) edgeKey {
	if kind == "" {
		kind = KindCenter.String()
	}
	if a <= b {
		return edgeKey{lo: a, hi: b, kind: kind}
	}
	return edgeKey{lo: b, hi: a, kind: kind}
}

// validateParallelEdges warns when two edges of the same kind join the
// same pair of nodes.
func validateParallelEdges(f *Fixture) []ValidationError {
	var warnings []ValidationError
	seen := make(map[edgeKey]string)
	for _, e := range f.Edges {
		k := makeEdgeKey(e.A, e.B, e.Kind)
		if first, ok := seen[k]; ok {
			warnings = append(warnings, ValidationError{
				EdgeID:   EdgeID(e.ID),
				Message:  fmt.Sprintf("duplicates %s edge %s between %s and %s", k.kind, first, e.A, e.B),
				Severity: SeverityWarning,
			})
			continue
		}
		seen[k] = e.ID
	}
	return warnings
}

func fixtureHints(f *Fixture) map[string]Vec3 {
	out := make(map[string]Vec3, len(f.Nodes))
	for _, n := range f.Nodes {
		var p Vec3
		if n.Base != nil {
			p = *n.Base
		}
		if n.Offset != nil {
			p = p.Add(*n.Offset)
		}
		out[n.ID] = p
	}
	return out
}

// validateDegenerateHints warns about edges whose endpoints were drawn at
// the same spot: sign matching and topology fall back to defaults there.
func validateDegenerateHints(f *Fixture) []ValidationError {
	var warnings []ValidationError
	hints := fixtureHints(f)
	for _, e := range f.Edges {
		a, okA := hints[e.A]
		b, okB := hints[e.B]
		if !okA || !okB || e.A == e.B {
			continue
		}
		if b.Sub(a).Len() <= structuralEps {
			warnings = append(warnings, ValidationError{
				EdgeID:   EdgeID(e.ID),
				Message:  "endpoints share a hint position; direction sign defaults to +",
				Severity: SeverityWarning,
			})
		}
	}
	return warnings
}

// validateOnSegmentHints warns when an onSegment node was not drawn
// between its segment ends.
func validateOnSegmentHints(f *Fixture) []ValidationError {
	var warnings []ValidationError
	hints := fixtureHints(f)
	for _, n := range f.Nodes {
		seg := n.Meta.OnSegment
		if seg == nil {
			continue
		}
		a, okA := hints[string(seg.A)]
		b, okB := hints[string(seg.B)]
		if !okA || !okB {
			continue
		}
		ab := b.Sub(a)
		l2 := ab.Dot(ab)
		if l2 <= structuralEps {
			continue
		}
		p := hints[n.ID]
		t := p.Sub(a).Dot(ab) / l2
		off := p.Sub(a.Add(ab.Scale(t)))
		if t < 0 || t > 1 || off.Dot(off) > 1e-6*l2 {
			warnings = append(warnings, ValidationError{
				NodeID:   NodeID(n.ID),
				Message:  fmt.Sprintf("hint is not between %s and %s", seg.A, seg.B),
				Severity: SeverityWarning,
			})
		}
	}
	return warnings
}

// ---------------------------------------------------------------------------
// Tier 3: pipe specs
// ---------------------------------------------------------------------------

// validateSpecs checks pipe specs on edges. A spec on a construction edge
// is ignored by tessellation, so it only earns a warning.
func validateSpecs(f *Fixture) []ValidationError {
	var errs []ValidationError
	for _, e := range f.Edges {
		s := e.Spec
		if s == nil {
			continue
		}
		if e.Kind == KindConstruction.String() {
			errs = append(errs, ValidationError{
				EdgeID:   EdgeID(e.ID),
				Message:  "pipe spec on a construction edge is ignored",
				Severity: SeverityWarning,
			})
			continue
		}
		if s.OD < 0 || s.WT < 0 {
			errs = append(errs, ValidationError{
				EdgeID:   EdgeID(e.ID),
				Message:  fmt.Sprintf("pipe spec od=%.3f wt=%.3f must not be negative", s.OD, s.WT),
				Severity: SeverityError,
			})
			continue
		}
		if s.OD > 0 && 2*s.WT >= s.OD {
			errs = append(errs, ValidationError{
				EdgeID:   EdgeID(e.ID),
				Message:  fmt.Sprintf("wall thickness %.3f leaves no bore in od %.3f", s.WT, s.OD),
				Severity: SeverityWarning,
			})
		}
	}
	return errs
}
