package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fixture is the on-disk recipe schema. JSON and YAML share the shape.
type Fixture struct {
	Nodes []FixtureNode `json:"nodes" yaml:"nodes"`
	Edges []FixtureEdge `json:"edges" yaml:"edges"`
}

// FixtureNode is a node as stored in a fixture file.
type FixtureNode struct {
	ID     string          `json:"id" yaml:"id"`
	Base   *Vec3           `json:"base,omitempty" yaml:"base,omitempty"`
	Offset *Vec3           `json:"offset,omitempty" yaml:"offset,omitempty"`
	Meta   FixtureNodeMeta `json:"meta" yaml:"meta"`
}

// FixtureNodeMeta carries operator flags plus the stored topology label.
type FixtureNodeMeta struct {
	IsAnchor  bool        `json:"isAnchor,omitempty" yaml:"isAnchor,omitempty"`
	OnSegment *Segment    `json:"onSegment,omitempty" yaml:"onSegment,omitempty"`
	Topo      string      `json:"topo,omitempty" yaml:"topo,omitempty"`
	Tee       *FixtureTee `json:"tee,omitempty" yaml:"tee,omitempty"`
	Stress    *Stress     `json:"stress,omitempty" yaml:"stress,omitempty"`
	Special   *Special    `json:"special,omitempty" yaml:"special,omitempty"`
}

// FixtureTee holds the operator's tee plane reference.
type FixtureTee struct {
	PlaneRef *FixturePlane `json:"planeRef,omitempty" yaml:"planeRef,omitempty"`
}

// FixtureEdge is an edge as stored in a fixture file.
type FixtureEdge struct {
	ID   string          `json:"id" yaml:"id"`
	A    string          `json:"a" yaml:"a"`
	B    string          `json:"b" yaml:"b"`
	Kind string          `json:"kind,omitempty" yaml:"kind,omitempty"`
	Dim  *FixtureDim     `json:"dim,omitempty" yaml:"dim,omitempty"`
	Spec *PipeSpec       `json:"spec,omitempty" yaml:"spec,omitempty"`
	Meta FixtureEdgeMeta `json:"meta" yaml:"meta"`
}

// FixtureDim is a dimension; a null valueMm means "not measured".
type FixtureDim struct {
	ValueMm      *float64  `json:"valueMm" yaml:"valueMm"`
	Source       string    `json:"source,omitempty" yaml:"source,omitempty"`
	Mode         string    `json:"mode,omitempty" yaml:"mode,omitempty"`
	Label        string    `json:"label,omitempty" yaml:"label,omitempty"`
	Conflict     *Conflict `json:"conflict,omitempty" yaml:"conflict,omitempty"`
	UserEditedAt int64     `json:"userEditedAt,omitempty" yaml:"userEditedAt,omitempty"`
	DerivedFrom  string    `json:"derivedFrom,omitempty" yaml:"derivedFrom,omitempty"`
}

// FixtureEdgeMeta spells each constraint as its own optional key.
type FixtureEdgeMeta struct {
	AxisLock     string        `json:"axisLock,omitempty" yaml:"axisLock,omitempty"`
	ParallelTo   *FixtureRef   `json:"parallelTo,omitempty" yaml:"parallelTo,omitempty"`
	PerpTo       *FixtureRef   `json:"perpTo,omitempty" yaml:"perpTo,omitempty"`
	AngleTo      *FixtureAngle `json:"angleTo,omitempty" yaml:"angleTo,omitempty"`
	CoplanarWith *FixturePlane `json:"coplanarWith,omitempty" yaml:"coplanarWith,omitempty"`
}

// FixtureRef points at another edge.
type FixtureRef struct {
	Ref string `json:"ref" yaml:"ref"`
}

// FixtureAngle is an angleTo constraint.
type FixtureAngle struct {
	Ref string  `json:"ref" yaml:"ref"`
	Deg float64 `json:"deg" yaml:"deg"`
}

// FixturePlane is a plane reference: byEdges uses Refs, byEdgeUp uses Ref,
// byNormal uses N.
type FixturePlane struct {
	Type string   `json:"type" yaml:"type"`
	Refs []string `json:"refs,omitempty" yaml:"refs,omitempty"`
	Ref  string   `json:"ref,omitempty" yaml:"ref,omitempty"`
	N    *Vec3    `json:"n,omitempty" yaml:"n,omitempty"`
}

// ParseFixture decodes a fixture. Format is "json" or "yaml".
func ParseFixture(data []byte, format string) (*Fixture, error) {
	var f Fixture
	switch strings.ToLower(format) {
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("parse json fixture: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse yaml fixture: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported fixture format %q", format)
	}
	return &f, nil
}

// FixtureFormat maps a file extension to a fixture format, or "".
func FixtureFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	}
	return ""
}

// LoadFixture reads and decodes a fixture file, picking the format from
// the extension.
func LoadFixture(path string) (*Fixture, error) {
	format := FixtureFormat(path)
	if format == "" {
		return nil, fmt.Errorf("load fixture %s: unknown extension", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load fixture: %w", err)
	}
	return ParseFixture(data, format)
}

// Build converts the fixture into a Graph. Structural problems (duplicate
// ids, dangling endpoints, bad enum spellings) are returned as errors;
// run ValidateFixture first to get them as data instead.
func (f *Fixture) Build() (*Graph, error) {
	g := New()
	for _, fn := range f.Nodes {
		n, err := fn.toNode()
		if err != nil {
			return nil, err
		}
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, fe := range f.Edges {
		e, err := fe.toEdge()
		if err != nil {
			return nil, err
		}
		if err := g.AddEdge(e); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (fn FixtureNode) toNode() (*Node, error) {
	n := &Node{ID: NodeID(fn.ID)}
	if fn.Base != nil {
		n.Base = *fn.Base
	}
	if fn.Offset != nil {
		n.Offset = *fn.Offset
	}
	n.Meta.IsAnchor = fn.Meta.IsAnchor
	if fn.Meta.OnSegment != nil {
		s := *fn.Meta.OnSegment
		n.Meta.OnSegment = &s
	}
	topo, err := ParseTopology(fn.Meta.Topo)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", fn.ID, err)
	}
	n.Meta.Topo = topo
	if fn.Meta.Tee != nil && fn.Meta.Tee.PlaneRef != nil {
		p, err := fn.Meta.Tee.PlaneRef.toPlane()
		if err != nil {
			return nil, fmt.Errorf("node %s tee: %w", fn.ID, err)
		}
		n.Meta.TeePlane = p
	}
	return n, nil
}

func (fe FixtureEdge) toEdge() (*Edge, error) {
	kind, err := ParseEdgeKind(fe.Kind)
	if err != nil {
		return nil, fmt.Errorf("edge %s: %w", fe.ID, err)
	}
	e := &Edge{ID: EdgeID(fe.ID), A: NodeID(fe.A), B: NodeID(fe.B), Kind: kind}
	if fe.Dim != nil {
		src, err := ParseDimSource(fe.Dim.Source)
		if err != nil {
			return nil, fmt.Errorf("edge %s: %w", fe.ID, err)
		}
		d := &Dimension{
			Source:       src,
			Mode:         fe.Dim.Mode,
			Label:        fe.Dim.Label,
			UserEditedAt: fe.Dim.UserEditedAt,
			DerivedFrom:  fe.Dim.DerivedFrom,
		}
		if fe.Dim.ValueMm != nil {
			d.ValueMm = *fe.Dim.ValueMm
		}
		if d.Mode == "" {
			d.Mode = DefaultMode
		}
		if fe.Dim.Conflict != nil {
			c := *fe.Dim.Conflict
			d.Conflict = &c
		}
		e.Dim = d
	}
	if fe.Spec != nil {
		s := *fe.Spec
		e.Spec = &s
	}
	cs, err := fe.Meta.toConstraints()
	if err != nil {
		return nil, fmt.Errorf("edge %s: %w", fe.ID, err)
	}
	e.Meta.Constraints = cs
	return e, nil
}

func (m FixtureEdgeMeta) toConstraints() ([]Constraint, error) {
	var out []Constraint
	if m.AxisLock != "" {
		ax, ok := ParseAxis(m.AxisLock)
		if !ok {
			return nil, fmt.Errorf("unknown axisLock %q", m.AxisLock)
		}
		out = append(out, AxisLock{Axis: ax})
	}
	if m.AngleTo != nil {
		out = append(out, AngleTo{Ref: EdgeID(m.AngleTo.Ref), Deg: m.AngleTo.Deg})
	}
	if m.PerpTo != nil {
		out = append(out, PerpTo{Ref: EdgeID(m.PerpTo.Ref)})
	}
	if m.ParallelTo != nil {
		out = append(out, ParallelTo{Ref: EdgeID(m.ParallelTo.Ref)})
	}
	if m.CoplanarWith != nil {
		p, err := m.CoplanarWith.toPlane()
		if err != nil {
			return nil, err
		}
		out = append(out, Coplanar{Plane: p})
	}
	return out, nil
}

func (p FixturePlane) toPlane() (PlaneRef, error) {
	switch p.Type {
	case "byEdges":
		if len(p.Refs) != 2 {
			return nil, fmt.Errorf("byEdges plane needs two refs, got %d", len(p.Refs))
		}
		return ByEdges{A: EdgeID(p.Refs[0]), B: EdgeID(p.Refs[1])}, nil
	case "byEdgeUp":
		if p.Ref == "" {
			return nil, fmt.Errorf("byEdgeUp plane needs a ref")
		}
		return ByEdgeUp{Ref: EdgeID(p.Ref)}, nil
	case "byNormal":
		if p.N == nil {
			return nil, fmt.Errorf("byNormal plane needs n")
		}
		return ByNormal{N: *p.N}, nil
	}
	return nil, fmt.Errorf("unknown plane type %q", p.Type)
}

func fromPlane(p PlaneRef) *FixturePlane {
	switch v := p.(type) {
	case ByEdges:
		return &FixturePlane{Type: "byEdges", Refs: []string{string(v.A), string(v.B)}}
	case ByEdgeUp:
		return &FixturePlane{Type: "byEdgeUp", Ref: string(v.Ref)}
	case ByNormal:
		n := v.N
		return &FixturePlane{Type: "byNormal", N: &n}
	}
	return nil
}

// ToFixture snapshots the graph, including derived dimensions and the
// solver's topology, stress and special annotations.
func (g *Graph) ToFixture() *Fixture {
	f := &Fixture{
		Nodes: make([]FixtureNode, 0, g.NodeCount()),
		Edges: make([]FixtureEdge, 0, g.EdgeCount()),
	}
	for _, n := range g.Nodes() {
		base, off := n.Base, n.Offset
		fn := FixtureNode{ID: string(n.ID), Base: &base}
		if off != (Vec3{}) {
			fn.Offset = &off
		}
		fn.Meta.IsAnchor = n.Meta.IsAnchor
		if n.Meta.OnSegment != nil {
			s := *n.Meta.OnSegment
			fn.Meta.OnSegment = &s
		}
		fn.Meta.Topo = n.Meta.Topo.String()
		if n.Meta.TeePlane != nil {
			fn.Meta.Tee = &FixtureTee{PlaneRef: fromPlane(n.Meta.TeePlane)}
		}
		fn.Meta.Stress = n.Meta.Stress
		fn.Meta.Special = n.Meta.Special
		f.Nodes = append(f.Nodes, fn)
	}
	for _, e := range g.Edges() {
		fe := FixtureEdge{ID: string(e.ID), A: string(e.A), B: string(e.B), Kind: e.Kind.String()}
		if e.Dim != nil {
			fd := &FixtureDim{
				Source:       e.Dim.Source.String(),
				Mode:         e.Dim.Mode,
				Label:        e.Dim.Label,
				Conflict:     e.Dim.Conflict,
				UserEditedAt: e.Dim.UserEditedAt,
				DerivedFrom:  e.Dim.DerivedFrom,
			}
			if e.Dim.ValueMm != 0 {
				v := e.Dim.ValueMm
				fd.ValueMm = &v
			}
			fe.Dim = fd
		}
		if e.Spec != nil {
			s := *e.Spec
			fe.Spec = &s
		}
		for _, c := range e.Meta.Constraints {
			switch v := c.(type) {
			case AxisLock:
				fe.Meta.AxisLock = v.Axis.String()
			case ParallelTo:
				fe.Meta.ParallelTo = &FixtureRef{Ref: string(v.Ref)}
			case PerpTo:
				fe.Meta.PerpTo = &FixtureRef{Ref: string(v.Ref)}
			case AngleTo:
				fe.Meta.AngleTo = &FixtureAngle{Ref: string(v.Ref), Deg: v.Deg}
			case Coplanar:
				fe.Meta.CoplanarWith = fromPlane(v.Plane)
			}
		}
		f.Edges = append(f.Edges, fe)
	}
	return f
}

// Marshal encodes the fixture in the given format.
func (f *Fixture) Marshal(format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "json":
		return json.MarshalIndent(f, "", "  ")
	case "yaml", "yml":
		return yaml.Marshal(f)
	}
	return nil, fmt.Errorf("unsupported fixture format %q", format)
}

// SaveFixture writes the fixture to path, picking the format from the
// extension.
func SaveFixture(f *Fixture, path string) error {
	format := FixtureFormat(path)
	if format == "" {
		return fmt.Errorf("save fixture %s: unknown extension", path)
	}
	data, err := f.Marshal(format)
	if err != nil {
		return fmt.Errorf("save fixture: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("save fixture: %w", err)
	}
	return nil
}
