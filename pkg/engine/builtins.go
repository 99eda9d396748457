package engine

import (
	"fmt"
	"strings"

	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/chazu/isopipe/pkg/graph"
)

// ---------------------------------------------------------------------------
// Source preprocessing
// ---------------------------------------------------------------------------

// preprocessSource rewrites recipe source for zygomys:
//
//  1. :keyword becomes the string literal "__kw_keyword", so keywords never
//     collide with user symbols.
//  2. kebab-case identifiers become snake_case (plane-edges -> plane_edges);
//     zygomys reads a bare hyphen as subtraction.
//  3. ; comments become // comments.
//
// String literals are copied untouched.
func preprocessSource(source string) string {
	out := make([]byte, 0, len(source)+len(source)/4)
	b := []byte(source)
	i := 0
	for i < len(b) {
		switch {
		case b[i] == '"':
			out = append(out, b[i])
			i++
			for i < len(b) && b[i] != '"' {
				if b[i] == '\\' && i+1 < len(b) {
					out = append(out, b[i], b[i+1])
					i += 2
					continue
				}
				out = append(out, b[i])
				i++
			}
			if i < len(b) {
				out = append(out, b[i])
				i++
			}

		case b[i] == '`':
			out = append(out, b[i])
			i++
			for i < len(b) && b[i] != '`' {
				out = append(out, b[i])
				i++
			}
			if i < len(b) {
				out = append(out, b[i])
				i++
			}

		case b[i] == ';':
			out = append(out, '/', '/')
			for i < len(b) && b[i] == ';' {
				i++
			}
			for i < len(b) && b[i] != '\n' {
				out = append(out, b[i])
				i++
			}

		case b[i] == ':' && i+1 < len(b) && b[i+1] == '=':
			out = append(out, b[i], b[i+1])
			i += 2

		case b[i] == ':' && i+1 < len(b) && isLetter(b[i+1]):
			j := i + 1
			for j < len(b) && isKWChar(b[j]) {
				j++
			}
			out = append(out, '"')
			out = append(out, kwPrefix...)
			out = append(out, b[i+1:j]...)
			out = append(out, '"')
			i = j

		case b[i] == '-' && i > 0 && i+1 < len(b) && isIdentChar(b[i-1]) && isLetter(b[i+1]):
			out = append(out, '_')
			i++

		default:
			out = append(out, b[i])
			i++
		}
	}
	return string(out)
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isKWChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

func isIdentChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '_'
}

// ---------------------------------------------------------------------------
// Values passed between builtins
// ---------------------------------------------------------------------------

type sexpNodeRef struct{ id graph.NodeID }

func (n *sexpNodeRef) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(node %q)", string(n.id))
}
func (n *sexpNodeRef) Type() *zygo.RegisteredType { return nil }

type sexpEdgeRef struct {
	id   graph.EdgeID
	kind string
}

func (e *sexpEdgeRef) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(%s %q)", e.kind, string(e.id))
}
func (e *sexpEdgeRef) Type() *zygo.RegisteredType { return nil }

type sexpVec3 struct{ vec graph.Vec3 }

func (v *sexpVec3) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(vec3 %g %g %g)", v.vec.X, v.vec.Y, v.vec.Z)
}
func (v *sexpVec3) Type() *zygo.RegisteredType { return nil }

type sexpPlane struct{ p graph.FixturePlane }

func (p *sexpPlane) SexpString(ps *zygo.PrintState) string {
	switch p.p.Type {
	case "byEdges":
		return fmt.Sprintf("(plane-edges %q %q)", p.p.Refs[0], p.p.Refs[1])
	case "byEdgeUp":
		return fmt.Sprintf("(plane-up %q)", p.p.Ref)
	}
	return fmt.Sprintf("(plane-normal (vec3 %g %g %g))", p.p.N.X, p.p.N.Y, p.p.N.Z)
}
func (p *sexpPlane) Type() *zygo.RegisteredType { return nil }

// ---------------------------------------------------------------------------
// Keyword arguments
// ---------------------------------------------------------------------------

// kwPrefix marks keywords rewritten by preprocessSource.
const kwPrefix = "__kw_"

func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok || !strings.HasPrefix(str.S, kwPrefix) {
		return "", false
	}
	return str.S[len(kwPrefix):], true
}

type kwArgs struct {
	kw         map[string]zygo.Sexp
	positional []zygo.Sexp
}

// parseArgs splits args into keyword and positional arguments. A keyword
// with no value is recorded with SexpNull.
func parseArgs(args []zygo.Sexp) kwArgs {
	res := kwArgs{kw: make(map[string]zygo.Sexp)}
	for i := 0; i < len(args); i++ {
		name, ok := isKW(args[i])
		if !ok {
			res.positional = append(res.positional, args[i])
			continue
		}
		if i+1 < len(args) {
			res.kw[name] = args[i+1]
			i++
		} else {
			res.kw[name] = zygo.SexpNull
		}
	}
	return res
}

// ---------------------------------------------------------------------------
// Value extraction
// ---------------------------------------------------------------------------

func toFloat64(s zygo.Sexp) (float64, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float64(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected number, got %T (%s)", s, s.SexpString(nil))
}

func toInt64(s zygo.Sexp) (int64, error) {
	if v, ok := s.(*zygo.SexpInt); ok {
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected integer, got %T (%s)", s, s.SexpString(nil))
}

func toBool(s zygo.Sexp) (bool, error) {
	switch v := s.(type) {
	case *zygo.SexpBool:
		return v.Val, nil
	case *zygo.SexpSentinel:
		// a bare trailing keyword acts as a flag
		if v == zygo.SexpNull {
			return true, nil
		}
	}
	return false, fmt.Errorf("expected boolean, got %T (%s)", s, s.SexpString(nil))
}

// toKeywordString accepts a keyword or a plain string.
func toKeywordString(s zygo.Sexp) (string, error) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", fmt.Errorf("expected keyword or string, got %T (%s)", s, s.SexpString(nil))
	}
	return strings.TrimPrefix(str.S, kwPrefix), nil
}

func toAxis(s zygo.Sexp) (graph.Axis, error) {
	name, err := toKeywordString(s)
	if err != nil {
		return 0, fmt.Errorf("expected axis keyword (:x, :y, :z): %w", err)
	}
	a, ok := graph.ParseAxis(name)
	if !ok {
		return 0, fmt.Errorf("invalid axis %q, expected x, y, or z", name)
	}
	return a, nil
}

func toVec3(s zygo.Sexp) (graph.Vec3, error) {
	if v, ok := s.(*sexpVec3); ok {
		return v.vec, nil
	}
	return graph.Vec3{}, fmt.Errorf("expected vec3, got %T (%s)", s, s.SexpString(nil))
}

func toPlane(s zygo.Sexp) (graph.FixturePlane, error) {
	if p, ok := s.(*sexpPlane); ok {
		return p.p, nil
	}
	return graph.FixturePlane{}, fmt.Errorf("expected plane, got %T (%s)", s, s.SexpString(nil))
}

// toID accepts a string id or a reference returned by node, center or
// construction.
func toID(s zygo.Sexp) (string, error) {
	switch v := s.(type) {
	case *sexpNodeRef:
		return string(v.id), nil
	case *sexpEdgeRef:
		return string(v.id), nil
	case *zygo.SexpStr:
		if _, kw := isKW(v); !kw && v.S != "" {
			return v.S, nil
		}
	}
	return "", fmt.Errorf("expected id or reference, got %T (%s)", s, s.SexpString(nil))
}

// ---------------------------------------------------------------------------
// Recipe builder
// ---------------------------------------------------------------------------

// recipe collects what the builtins declare during one evaluation.
type recipe struct {
	f     graph.Fixture
	nodes map[string]int // id -> index in f.Nodes
	edges map[string]bool
	stamp int64 // last edit stamp handed out
}

func newRecipe() *recipe {
	return &recipe{nodes: make(map[string]int), edges: make(map[string]bool)}
}

// nextStamp hands out edit stamps in declaration order.
func (r *recipe) nextStamp() int64 {
	r.stamp++
	return r.stamp
}

func (r *recipe) addNode(id string, hint graph.Vec3, pa kwArgs) error {
	if _, dup := r.nodes[id]; dup || r.edges[id] {
		return fmt.Errorf("%w %q", graph.ErrDuplicateID, id)
	}
	fn := graph.FixtureNode{ID: id, Base: &hint}
	if v, ok := pa.kw["anchor"]; ok {
		b, err := toBool(v)
		if err != nil {
			return fmt.Errorf("anchor: %w", err)
		}
		fn.Meta.IsAnchor = b
	}
	if v, ok := pa.kw["offset"]; ok {
		off, err := toVec3(v)
		if err != nil {
			return fmt.Errorf("offset: %w", err)
		}
		fn.Offset = &off
	}
	if v, ok := pa.kw["tee-plane"]; ok {
		p, err := toPlane(v)
		if err != nil {
			return fmt.Errorf("tee-plane: %w", err)
		}
		fn.Meta.Tee = &graph.FixtureTee{PlaneRef: &p}
	}
	r.nodes[id] = len(r.f.Nodes)
	r.f.Nodes = append(r.f.Nodes, fn)
	return nil
}

func (r *recipe) addEdge(kind, id, a, b string, pa kwArgs) error {
	if _, dup := r.nodes[id]; dup || r.edges[id] {
		return fmt.Errorf("%w %q", graph.ErrDuplicateID, id)
	}
	fe := graph.FixtureEdge{ID: id, A: a, B: b, Kind: kind}

	if v, ok := pa.kw["mm"]; ok {
		mm, err := toFloat64(v)
		if err != nil {
			return fmt.Errorf("mm: %w", err)
		}
		fe.Dim = &graph.FixtureDim{ValueMm: &mm, Source: "user", Mode: graph.DefaultMode}
		if sv, ok := pa.kw["stamp"]; ok {
			st, err := toInt64(sv)
			if err != nil {
				return fmt.Errorf("stamp: %w", err)
			}
			fe.Dim.UserEditedAt = st
			r.stamp = max(r.stamp, st)
		} else {
			fe.Dim.UserEditedAt = r.nextStamp()
		}
		if lv, ok := pa.kw["label"]; ok {
			s, err := toKeywordString(lv)
			if err != nil {
				return fmt.Errorf("label: %w", err)
			}
			fe.Dim.Label = s
		}
	}

	if v, ok := pa.kw["axis"]; ok {
		ax, err := toAxis(v)
		if err != nil {
			return fmt.Errorf("axis: %w", err)
		}
		fe.Meta.AxisLock = ax.String()
	}
	if v, ok := pa.kw["parallel"]; ok {
		ref, err := toID(v)
		if err != nil {
			return fmt.Errorf("parallel: %w", err)
		}
		fe.Meta.ParallelTo = &graph.FixtureRef{Ref: ref}
	}
	if v, ok := pa.kw["perp"]; ok {
		ref, err := toID(v)
		if err != nil {
			return fmt.Errorf("perp: %w", err)
		}
		fe.Meta.PerpTo = &graph.FixtureRef{Ref: ref}
	}
	if v, ok := pa.kw["angle"]; ok {
		ref, err := toID(v)
		if err != nil {
			return fmt.Errorf("angle: %w", err)
		}
		dv, ok := pa.kw["deg"]
		if !ok {
			return fmt.Errorf("angle: missing :deg")
		}
		deg, err := toFloat64(dv)
		if err != nil {
			return fmt.Errorf("deg: %w", err)
		}
		fe.Meta.AngleTo = &graph.FixtureAngle{Ref: ref, Deg: deg}
	}
	if v, ok := pa.kw["plane"]; ok {
		p, err := toPlane(v)
		if err != nil {
			return fmt.Errorf("plane: %w", err)
		}
		fe.Meta.CoplanarWith = &p
	}

	spec := graph.PipeSpec{}
	for key, dst := range map[string]*float64{"od": &spec.OD, "wt": &spec.WT} {
		if v, ok := pa.kw[key]; ok {
			f, err := toFloat64(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = f
		}
	}
	if v, ok := pa.kw["material"]; ok {
		s, err := toKeywordString(v)
		if err != nil {
			return fmt.Errorf("material: %w", err)
		}
		spec.Material = s
	}
	if spec != (graph.PipeSpec{}) {
		fe.Spec = &spec
	}

	r.edges[id] = true
	r.f.Edges = append(r.f.Edges, fe)
	return nil
}

// ---------------------------------------------------------------------------
// Builtin registration
// ---------------------------------------------------------------------------

// registerBuiltins installs the recipe DSL into env. Source must go
// through preprocessSource first so keywords and kebab-case names match.
func registerBuiltins(env *zygo.Zlisp, r *recipe) {

	// -----------------------------------------------------------------------
	// (vec3 0 100 0)
	// -----------------------------------------------------------------------
	env.AddFunction("vec3", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 3 {
			return zygo.SexpNull, fmt.Errorf("vec3 requires exactly 3 arguments, got %d", len(args))
		}
		var c [3]float64
		for i, a := range args {
			f, err := toFloat64(a)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("vec3: %c: %w", "xyz"[i], err)
			}
			c[i] = f
		}
		return &sexpVec3{vec: graph.Vec3{X: c[0], Y: c[1], Z: c[2]}}, nil
	})

	// -----------------------------------------------------------------------
	// (node "n1" (vec3 0 0 0) :anchor true :offset (vec3 0 5 0)
	//       :tee-plane (plane-normal (vec3 0 1 0)))
	// -----------------------------------------------------------------------
	env.AddFunction("node", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) < 1 {
			return zygo.SexpNull, fmt.Errorf("node requires an id")
		}
		id, err := toID(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("node: id: %w", err)
		}
		var hint graph.Vec3
		if len(pa.positional) > 1 {
			if hint, err = toVec3(pa.positional[1]); err != nil {
				return zygo.SexpNull, fmt.Errorf("node %s: hint: %w", id, err)
			}
		}
		if err := r.addNode(id, hint, pa); err != nil {
			return zygo.SexpNull, fmt.Errorf("node %s: %w", id, err)
		}
		return &sexpNodeRef{id: graph.NodeID(id)}, nil
	})

	// -----------------------------------------------------------------------
	// (center "e1" "n1" "n2" :mm 100 :axis :y :od 50 :wt 3 :material "pvc")
	// (construction "e2" "n2" "n3" :mm 100 :perp "e1" :plane (plane-up "e1"))
	// -----------------------------------------------------------------------
	for _, kind := range []string{"center", "construction"} {
		env.AddFunction(kind, func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			pa := parseArgs(args)
			if len(pa.positional) != 3 {
				return zygo.SexpNull, fmt.Errorf("%s requires an id and two endpoints, got %d arguments", kind, len(pa.positional))
			}
			var ids [3]string
			for i, a := range pa.positional {
				s, err := toID(a)
				if err != nil {
					return zygo.SexpNull, fmt.Errorf("%s: argument %d: %w", kind, i+1, err)
				}
				ids[i] = s
			}
			if err := r.addEdge(kind, ids[0], ids[1], ids[2], pa); err != nil {
				return zygo.SexpNull, fmt.Errorf("%s %s: %w", kind, ids[0], err)
			}
			return &sexpEdgeRef{id: graph.EdgeID(ids[0]), kind: kind}, nil
		})
	}

	// -----------------------------------------------------------------------
	// (plane-edges "e1" "e2") (plane-up "e1") (plane-normal (vec3 0 1 0))
	// -----------------------------------------------------------------------
	env.AddFunction("plane_edges", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 2 {
			return zygo.SexpNull, fmt.Errorf("plane-edges requires two edges, got %d", len(args))
		}
		a, err := toID(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("plane-edges: %w", err)
		}
		b, err := toID(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("plane-edges: %w", err)
		}
		return &sexpPlane{p: graph.FixturePlane{Type: "byEdges", Refs: []string{a, b}}}, nil
	})

	env.AddFunction("plane_up", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("plane-up requires one edge, got %d", len(args))
		}
		ref, err := toID(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("plane-up: %w", err)
		}
		return &sexpPlane{p: graph.FixturePlane{Type: "byEdgeUp", Ref: ref}}, nil
	})

	env.AddFunction("plane_normal", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("plane-normal requires one vec3, got %d", len(args))
		}
		n, err := toVec3(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("plane-normal: %w", err)
		}
		return &sexpPlane{p: graph.FixturePlane{Type: "byNormal", N: &n}}, nil
	})

	// -----------------------------------------------------------------------
	// (on-segment "n6" "n2" "n4")
	// -----------------------------------------------------------------------
	env.AddFunction("on_segment", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 3 {
			return zygo.SexpNull, fmt.Errorf("on-segment requires a node and two segment ends, got %d", len(args))
		}
		var ids [3]string
		for i, a := range args {
			s, err := toID(a)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("on-segment: argument %d: %w", i+1, err)
			}
			ids[i] = s
		}
		idx, ok := r.nodes[ids[0]]
		if !ok {
			return zygo.SexpNull, fmt.Errorf("on-segment: %w %q", graph.ErrUnknownNode, ids[0])
		}
		r.f.Nodes[idx].Meta.OnSegment = &graph.Segment{A: graph.NodeID(ids[1]), B: graph.NodeID(ids[2])}
		return &sexpNodeRef{id: graph.NodeID(ids[0])}, nil
	})
}
