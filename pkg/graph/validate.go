package graph

import (
	"fmt"
	"math"
)

// ValidationSeverity indicates whether a validation finding blocks solving
// or is merely informational.
type ValidationSeverity int

const (
	SeverityError   ValidationSeverity = iota // blocks solving
	SeverityWarning                           // informational
)

func (s ValidationSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return fmt.Sprintf("ValidationSeverity(%d)", int(s))
	}
}

// MarshalText renders the severity by name.
func (s ValidationSeverity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ValidationError describes a single validation finding.
type ValidationError struct {
	NodeID   NodeID             `json:"node,omitempty"` // offending node, empty if not node-specific
	EdgeID   EdgeID             `json:"edge,omitempty"` // offending edge, empty if not edge-specific
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

func (e ValidationError) Error() string {
	switch {
	case e.EdgeID != "":
		return fmt.Sprintf("[%s] edge %s: %s", e.Severity, e.EdgeID, e.Message)
	case e.NodeID != "":
		return fmt.Sprintf("[%s] node %s: %s", e.Severity, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Severity, e.Message)
}

// ValidationResult bundles errors (blocking) and warnings (advisory)
// from all validation tiers.
type ValidationResult struct {
	Errors   []ValidationError `json:"errors"`
	Warnings []ValidationError `json:"warnings"`
}

// OK reports whether no blocking errors were found.
func (r ValidationResult) OK() bool { return len(r.Errors) == 0 }

// Validate runs every validation tier on a built graph.
func Validate(g *Graph) ValidationResult {
	return ValidateFixture(g.ToFixture())
}

// ValidateFixture runs every validation tier on a decoded fixture, before
// it is built into a Graph. It never mutates f.
func ValidateFixture(f *Fixture) ValidationResult {
	var all []ValidationError
	// Tier 1: structural.
	all = append(all, validateIDs(f)...)
	all = append(all, validateEndpoints(f)...)
	all = append(all, validateReferences(f)...)
	all = append(all, validateDimensions(f)...)
	// Tier 2: geometric.
	all = append(all, validateGeometry(f)...)
	// Tier 3: pipe specs.
	all = append(all, validateSpecs(f)...)

	result := ValidationResult{Errors: []ValidationError{}, Warnings: []ValidationError{}}
	for _, e := range all {
		if e.Severity == SeverityWarning {
			result.Warnings = append(result.Warnings, e)
		} else {
			result.Errors = append(result.Errors, e)
		}
	}
	return result
}

// validateIDs checks that ids are present and unique, and that enum
// spellings decode.
func validateIDs(f *Fixture) []ValidationError {
	var errs []ValidationError
	seenNode := make(map[string]bool)
	for i, n := range f.Nodes {
		if n.ID == "" {
			errs = append(errs, ValidationError{
				Message:  fmt.Sprintf("node #%d has an empty id", i),
				Severity: SeverityError,
			})
			continue
		}
		if seenNode[n.ID] {
			errs = append(errs, ValidationError{
				NodeID:   NodeID(n.ID),
				Message:  "duplicate node id",
				Severity: SeverityError,
			})
		}
		seenNode[n.ID] = true
		if _, err := ParseTopology(n.Meta.Topo); err != nil {
			errs = append(errs, ValidationError{NodeID: NodeID(n.ID), Message: err.Error(), Severity: SeverityError})
		}
		if n.Meta.Tee != nil && n.Meta.Tee.PlaneRef != nil {
			if _, err := n.Meta.Tee.PlaneRef.toPlane(); err != nil {
				errs = append(errs, ValidationError{NodeID: NodeID(n.ID), Message: "tee: " + err.Error(), Severity: SeverityError})
			}
		}
	}

	seenEdge := make(map[string]bool)
	for i, e := range f.Edges {
		if e.ID == "" {
			errs = append(errs, ValidationError{
				Message:  fmt.Sprintf("edge #%d has an empty id", i),
				Severity: SeverityError,
			})
			continue
		}
		if seenEdge[e.ID] {
			errs = append(errs, ValidationError{
				EdgeID:   EdgeID(e.ID),
				Message:  "duplicate edge id",
				Severity: SeverityError,
			})
		}
		seenEdge[e.ID] = true
		if _, err := ParseEdgeKind(e.Kind); err != nil {
			errs = append(errs, ValidationError{EdgeID: EdgeID(e.ID), Message: err.Error(), Severity: SeverityError})
		}
		if e.Dim != nil {
			if _, err := ParseDimSource(e.Dim.Source); err != nil {
				errs = append(errs, ValidationError{EdgeID: EdgeID(e.ID), Message: err.Error(), Severity: SeverityError})
			}
		}
		if _, err := e.Meta.toConstraints(); err != nil {
			errs = append(errs, ValidationError{EdgeID: EdgeID(e.ID), Message: err.Error(), Severity: SeverityError})
		}
	}
	return errs
}

// validateEndpoints checks for dangling endpoints and self-loops.
func validateEndpoints(f *Fixture) []ValidationError {
	var errs []ValidationError
	nodes := fixtureNodeSet(f)
	for _, e := range f.Edges {
		if e.A == e.B {
			errs = append(errs, ValidationError{
				EdgeID:   EdgeID(e.ID),
				Message:  fmt.Sprintf("self-loop on node %s", e.A),
				Severity: SeverityError,
			})
		}
		for _, end := range []string{e.A, e.B} {
			if !nodes[end] {
				errs = append(errs, ValidationError{
					EdgeID:   EdgeID(e.ID),
					Message:  fmt.Sprintf("endpoint %q does not exist", end),
					Severity: SeverityError,
				})
			}
		}
	}
	return errs
}

// validateReferences checks that constraint, plane and onSegment
// references point at things that exist.
func validateReferences(f *Fixture) []ValidationError {
	var errs []ValidationError
	nodes := fixtureNodeSet(f)
	edges := make(map[string]bool, len(f.Edges))
	for _, e := range f.Edges {
		edges[e.ID] = true
	}

	for _, n := range f.Nodes {
		if seg := n.Meta.OnSegment; seg != nil {
			for _, end := range []NodeID{seg.A, seg.B} {
				if !nodes[string(end)] {
					errs = append(errs, ValidationError{
						NodeID:   NodeID(n.ID),
						Message:  fmt.Sprintf("onSegment reference %q does not exist", end),
						Severity: SeverityError,
					})
				}
			}
			if string(seg.A) == n.ID || string(seg.B) == n.ID || seg.A == seg.B {
				errs = append(errs, ValidationError{
					NodeID:   NodeID(n.ID),
					Message:  "onSegment ends must be two other nodes",
					Severity: SeverityError,
				})
			}
		}
		if n.Meta.Tee != nil && n.Meta.Tee.PlaneRef != nil {
			for _, ref := range planeRefs(n.Meta.Tee.PlaneRef) {
				if !edges[ref] {
					errs = append(errs, ValidationError{
						NodeID:   NodeID(n.ID),
						Message:  fmt.Sprintf("tee plane reference %q does not exist", ref),
						Severity: SeverityError,
					})
				}
			}
		}
	}

	for _, e := range f.Edges {
		var refs []string
		if r := e.Meta.ParallelTo; r != nil {
			refs = append(refs, r.Ref)
		}
		if r := e.Meta.PerpTo; r != nil {
			refs = append(refs, r.Ref)
		}
		if r := e.Meta.AngleTo; r != nil {
			refs = append(refs, r.Ref)
		}
		if p := e.Meta.CoplanarWith; p != nil {
			refs = append(refs, planeRefs(p)...)
		}
		for _, ref := range refs {
			if !edges[ref] {
				errs = append(errs, ValidationError{
					EdgeID:   EdgeID(e.ID),
					Message:  fmt.Sprintf("constraint reference %q does not exist", ref),
					Severity: SeverityError,
				})
			} else if ref == e.ID {
				errs = append(errs, ValidationError{
					EdgeID:   EdgeID(e.ID),
					Message:  "constraint references its own edge",
					Severity: SeverityError,
				})
			}
		}
	}
	return errs
}

// validateDimensions rejects non-finite or negative values and warns
// about user values that carry no edit stamp.
func validateDimensions(f *Fixture) []ValidationError {
	var errs []ValidationError
	for _, e := range f.Edges {
		if e.Dim == nil || e.Dim.ValueMm == nil {
			continue
		}
		v := *e.Dim.ValueMm
		switch {
		case math.IsNaN(v) || math.IsInf(v, 0):
			errs = append(errs, ValidationError{
				EdgeID:   EdgeID(e.ID),
				Message:  fmt.Sprintf("dimension %v is not finite", v),
				Severity: SeverityError,
			})
		case v < 0:
			errs = append(errs, ValidationError{
				EdgeID:   EdgeID(e.ID),
				Message:  fmt.Sprintf("dimension %.4f is negative", v),
				Severity: SeverityError,
			})
		case e.Dim.Source == "user" && e.Dim.UserEditedAt == 0:
			errs = append(errs, ValidationError{
				EdgeID:   EdgeID(e.ID),
				Message:  "user dimension has no edit stamp; it ranks oldest",
				Severity: SeverityWarning,
			})
		}
	}
	return errs
}

func fixtureNodeSet(f *Fixture) map[string]bool {
	out := make(map[string]bool, len(f.Nodes))
	for _, n := range f.Nodes {
		out[n.ID] = true
	}
	return out
}

func planeRefs(p *FixturePlane) []string {
	switch p.Type {
	case "byEdges":
		return p.Refs
	case "byEdgeUp":
		if p.Ref != "" {
			return []string{p.Ref}
		}
	}
	return nil
}
