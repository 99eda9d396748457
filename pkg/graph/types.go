package graph

import (
	"fmt"
	"math"
)

// NodeID identifies a recipe node ("n1", "riser-top").
type NodeID string

// EdgeID identifies a recipe edge ("e1").
type EdgeID string

// ---------------------------------------------------------------------------
// Edge kinds and dimensions
// ---------------------------------------------------------------------------

// EdgeKind distinguishes physical pipe from helper geometry.
type EdgeKind int

const (
	KindCenter       EdgeKind = iota // pipe centerline
	KindConstruction                 // helper/reference, never rendered as pipe
)

func (k EdgeKind) String() string {
	switch k {
	case KindCenter:
		return "center"
	case KindConstruction:
		return "construction"
	default:
		return fmt.Sprintf("EdgeKind(%d)", int(k))
	}
}

// ParseEdgeKind maps the fixture spelling to an EdgeKind. Empty means center.
func ParseEdgeKind(s string) (EdgeKind, error) {
	switch s {
	case "", "center":
		return KindCenter, nil
	case "construction":
		return KindConstruction, nil
	}
	return 0, fmt.Errorf("unknown edge kind %q", s)
}

// DimSource records who authored a dimension value.
type DimSource int

const (
	SourceNone    DimSource = iota
	SourceUser              // operator-authoritative
	SourceDerived           // solver-computed, overwritten on every re-solve
)

func (s DimSource) String() string {
	switch s {
	case SourceNone:
		return ""
	case SourceUser:
		return "user"
	case SourceDerived:
		return "derived"
	default:
		return fmt.Sprintf("DimSource(%d)", int(s))
	}
}

// ParseDimSource maps the fixture spelling to a DimSource.
func ParseDimSource(s string) (DimSource, error) {
	switch s {
	case "":
		return SourceNone, nil
	case "user":
		return SourceUser, nil
	case "derived":
		return SourceDerived, nil
	}
	return 0, fmt.Errorf("unknown dimension source %q", s)
}

// Conflict marks a dimension that disagrees with the geometry around it.
type Conflict struct {
	DeltaMm float64 `json:"deltaMm" yaml:"deltaMm"`
	Reason  string  `json:"reason,omitempty" yaml:"reason,omitempty"` // "infeasible" from the triangle engine
	Roles   string  `json:"roles,omitempty" yaml:"roles,omitempty"`
	Edited  EdgeID  `json:"edited,omitempty" yaml:"edited,omitempty"`
}

// DefaultMode is the measurement mode used when none is given.
const DefaultMode = "aligned"

// Dimension is the measured or derived length of an edge.
// A ValueMm that is not finite and positive counts as "no length".
type Dimension struct {
	ValueMm      float64
	Source       DimSource
	Mode         string
	Label        string
	Conflict     *Conflict
	UserEditedAt int64 // edit stamp; 0 means never stamped
	DerivedFrom  string
}

// HasLength reports whether d carries a usable length.
func (d *Dimension) HasLength() bool {
	return d != nil && d.ValueMm > 0 && !math.IsInf(d.ValueMm, 0) && !math.IsNaN(d.ValueMm)
}

// IsUser reports whether d is operator-authored.
func (d *Dimension) IsUser() bool {
	return d != nil && d.Source == SourceUser
}

// Stamp returns the edit stamp for recency ordering. Missing stamps
// rank below every real stamp.
func (d *Dimension) Stamp() float64 {
	if d == nil || d.UserEditedAt == 0 {
		return math.Inf(-1)
	}
	return float64(d.UserEditedAt)
}

// Clone returns a deep copy of d.
func (d *Dimension) Clone() *Dimension {
	if d == nil {
		return nil
	}
	c := *d
	if d.Conflict != nil {
		cf := *d.Conflict
		c.Conflict = &cf
	}
	return &c
}

// PipeSpec describes the physical pipe on a center edge.
type PipeSpec struct {
	OD       float64 `json:"od,omitempty" yaml:"od,omitempty"` // outer diameter mm
	WT       float64 `json:"wt,omitempty" yaml:"wt,omitempty"` // wall thickness mm
	Material string  `json:"material,omitempty" yaml:"material,omitempty"`
}

// ---------------------------------------------------------------------------
// Constraints
// ---------------------------------------------------------------------------

// Constraint is a directional or planar rule attached to an edge.
// Implementations: AxisLock, ParallelTo, PerpTo, AngleTo, Coplanar.
type Constraint interface {
	constraint() // marker method restricting implementations to this package
}

// AxisLock fixes the edge direction to a world axis (sign from the hint).
type AxisLock struct{ Axis Axis }

// ParallelTo copies the direction of another edge.
type ParallelTo struct{ Ref EdgeID }

// PerpTo turns 90 degrees from another edge within a plane.
type PerpTo struct{ Ref EdgeID }

// AngleTo rotates another edge's direction by Deg degrees within a plane.
type AngleTo struct {
	Ref EdgeID
	Deg float64
}

// Coplanar pins the edge (and its endpoints' planar constraints) to a plane.
type Coplanar struct{ Plane PlaneRef }

func (AxisLock) constraint()   {}
func (ParallelTo) constraint() {}
func (PerpTo) constraint()     {}
func (AngleTo) constraint()    {}
func (Coplanar) constraint()   {}

// PlaneRef describes a plane used to disambiguate planar constraints.
// Implementations: ByEdges, ByEdgeUp, ByNormal.
type PlaneRef interface {
	planeRef()
}

// ByEdges spans the plane with two placed edges.
type ByEdges struct{ A, B EdgeID }

// ByEdgeUp spans the plane with one edge and world up.
type ByEdgeUp struct{ Ref EdgeID }

// ByNormal gives the plane normal directly.
type ByNormal struct{ N Vec3 }

func (ByEdges) planeRef()  {}
func (ByEdgeUp) planeRef() {}
func (ByNormal) planeRef() {}

// EdgeMeta holds an edge's constraints. At most one directional
// constraint is honored (by priority) plus an optional Coplanar.
type EdgeMeta struct {
	Constraints []Constraint
}

// AxisLock returns the edge's axis lock, if any.
func (m EdgeMeta) AxisLock() (AxisLock, bool) {
	for _, c := range m.Constraints {
		if v, ok := c.(AxisLock); ok {
			return v, true
		}
	}
	return AxisLock{}, false
}

// AngleTo returns the edge's angle constraint, if any.
func (m EdgeMeta) AngleTo() (AngleTo, bool) {
	for _, c := range m.Constraints {
		if v, ok := c.(AngleTo); ok {
			return v, true
		}
	}
	return AngleTo{}, false
}

// PerpTo returns the edge's perpendicular constraint, if any.
func (m EdgeMeta) PerpTo() (PerpTo, bool) {
	for _, c := range m.Constraints {
		if v, ok := c.(PerpTo); ok {
			return v, true
		}
	}
	return PerpTo{}, false
}

// ParallelTo returns the edge's parallel constraint, if any.
func (m EdgeMeta) ParallelTo() (ParallelTo, bool) {
	for _, c := range m.Constraints {
		if v, ok := c.(ParallelTo); ok {
			return v, true
		}
	}
	return ParallelTo{}, false
}

// Plane returns the edge's Coplanar plane reference, or nil.
func (m EdgeMeta) Plane() PlaneRef {
	for _, c := range m.Constraints {
		if v, ok := c.(Coplanar); ok && v.Plane != nil {
			return v.Plane
		}
	}
	return nil
}

// HasDirectional reports whether the edge carries any directional constraint.
func (m EdgeMeta) HasDirectional() bool {
	for _, c := range m.Constraints {
		switch c.(type) {
		case AxisLock, ParallelTo, PerpTo, AngleTo:
			return true
		}
	}
	return false
}

// RefEdges returns every edge id referenced by the constraints,
// including plane references.
func (m EdgeMeta) RefEdges() []EdgeID {
	var out []EdgeID
	for _, c := range m.Constraints {
		switch v := c.(type) {
		case ParallelTo:
			out = append(out, v.Ref)
		case PerpTo:
			out = append(out, v.Ref)
		case AngleTo:
			out = append(out, v.Ref)
		case Coplanar:
			out = append(out, PlaneRefEdges(v.Plane)...)
		}
	}
	return out
}

// PlaneRefEdges returns the edges a plane reference depends on.
func PlaneRefEdges(p PlaneRef) []EdgeID {
	switch v := p.(type) {
	case ByEdges:
		return []EdgeID{v.A, v.B}
	case ByEdgeUp:
		return []EdgeID{v.Ref}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Node annotations
// ---------------------------------------------------------------------------

// Topology is the solver's classification of a node by its center edges.
type Topology int

const (
	TopoUnknown Topology = iota
	TopoEndpoint
	TopoStraight
	TopoBend
	TopoTee
	TopoJunction
)

func (t Topology) String() string {
	switch t {
	case TopoUnknown:
		return ""
	case TopoEndpoint:
		return "endpoint"
	case TopoStraight:
		return "straight"
	case TopoBend:
		return "bend"
	case TopoTee:
		return "tee"
	case TopoJunction:
		return "junction"
	default:
		return fmt.Sprintf("Topology(%d)", int(t))
	}
}

// ParseTopology maps the fixture spelling to a Topology.
func ParseTopology(s string) (Topology, error) {
	switch s {
	case "":
		return TopoUnknown, nil
	case "endpoint":
		return TopoEndpoint, nil
	case "straight":
		return TopoStraight, nil
	case "bend":
		return TopoBend, nil
	case "tee":
		return TopoTee, nil
	case "junction":
		return TopoJunction, nil
	}
	return 0, fmt.Errorf("unknown topology %q", s)
}

// Segment says a node lies on the straight segment between A and B.
type Segment struct {
	A NodeID `json:"a" yaml:"a"`
	B NodeID `json:"b" yaml:"b"`
}

// TeeInfo records runner/branch roles of a tee node.
type TeeInfo struct {
	Runner      [2]EdgeID
	Branch      EdgeID
	Colinearity float64 // 1 = perfect
}

// StressLevel grades a stress entry.
type StressLevel int

const (
	StressHint StressLevel = iota
	StressWarn
)

func (s StressLevel) String() string {
	switch s {
	case StressHint:
		return "hint"
	case StressWarn:
		return "warn"
	default:
		return fmt.Sprintf("StressLevel(%d)", int(s))
	}
}

// MarshalText renders the level by name.
func (s StressLevel) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses "hint" or "warn".
func (s *StressLevel) UnmarshalText(b []byte) error {
	switch string(b) {
	case "hint":
		*s = StressHint
	case "warn":
		*s = StressWarn
	default:
		return fmt.Errorf("unknown stress level %q", b)
	}
	return nil
}

// StressEntry is one angle deviation found at a node.
type StressEntry struct {
	Kind     string      `json:"kind" yaml:"kind"`
	DeltaDeg float64     `json:"deltaDeg" yaml:"deltaDeg"`
	Note     string      `json:"note" yaml:"note"`
	Severity StressLevel `json:"severity" yaml:"severity"`
}

// Stress summarises the deviations at a node.
type Stress struct {
	Present  bool          `json:"present" yaml:"present"`
	Entries  []StressEntry `json:"entries" yaml:"entries"`
	Severity StressLevel   `json:"severity" yaml:"severity"`
}

// Special marks a node that needs a non-standard fitting.
type Special struct {
	Kind     string  `json:"kind" yaml:"kind"` // specialBend | fixedElbow45
	AngleDeg float64 `json:"angleDeg" yaml:"angleDeg"`
	DeltaDeg float64 `json:"deltaDeg" yaml:"deltaDeg"` // from the nominal the kind is named after
}

// NodeMeta holds operator flags and solver annotations.
type NodeMeta struct {
	IsAnchor  bool
	OnSegment *Segment
	TeePlane  PlaneRef // operator-supplied plane for a tee branch

	// Solver-written annotations.
	Topo         Topology
	DegreeCenter int
	Risers       []EdgeID
	RiserRole    string // "top" | "bottom" | ""
	BendAngleRad float64
	Tee          *TeeInfo
	Notes        []string
	Stress       *Stress
	Special      *Special
}

// ---------------------------------------------------------------------------
// Nodes and edges
// ---------------------------------------------------------------------------

// Node is a recipe vertex. Base+Offset is the schematic hint position,
// used only for sign/tie-breaking, never as the solved coordinate.
type Node struct {
	ID     NodeID
	Base   Vec3
	Offset Vec3
	Meta   NodeMeta
}

// World returns the hint position.
func (n *Node) World() Vec3 { return n.Base.Add(n.Offset) }

// Edge is a recipe connection between two nodes.
type Edge struct {
	ID   EdgeID
	A, B NodeID
	Kind EdgeKind
	Dim  *Dimension
	Spec *PipeSpec
	Meta EdgeMeta
}

// Other returns the endpoint opposite id.
func (e *Edge) Other(id NodeID) NodeID {
	if e.A == id {
		return e.B
	}
	return e.A
}

// Touches reports whether id is an endpoint of e.
func (e *Edge) Touches(id NodeID) bool { return e.A == id || e.B == id }

// Connects reports whether e joins a and b in either order.
func (e *Edge) Connects(a, b NodeID) bool {
	return (e.A == a && e.B == b) || (e.A == b && e.B == a)
}

// HasLength reports whether e carries a usable length.
func (e *Edge) HasLength() bool { return e.Dim.HasLength() }

// Length returns the edge length, or 0 when it has none.
func (e *Edge) Length() float64 {
	if !e.Dim.HasLength() {
		return 0
	}
	return e.Dim.ValueMm
}
