package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by graph mutations and the fixture loader.
var (
	ErrUnknownNode = errors.New("unknown node")
	ErrUnknownEdge = errors.New("unknown edge")
	ErrDuplicateID = errors.New("duplicate id")
	ErrSelfLoop    = errors.New("edge endpoints must differ")
)

// DefaultNearTol is the world-space tolerance for FindNodeNear.
const DefaultNearTol = 1e-4

// EdgeFilter selects edges during adjacency queries and traversal.
// A nil filter accepts every edge.
type EdgeFilter func(*Edge) bool

// OfKind accepts edges of kind k.
func OfKind(k EdgeKind) EdgeFilter {
	return func(e *Edge) bool { return e.Kind == k }
}

func (f EdgeFilter) accept(e *Edge) bool { return f == nil || f(e) }

// Neighbor pairs an incident edge with the node on its far side.
type Neighbor struct {
	Edge  *Edge
	Other NodeID
}

// Graph is the mutable recipe graph. Nodes and edges live in arenas
// indexed by small integers; removed slots are left nil so indices stay
// stable. Iteration order is insertion order, which keeps every solver
// pass deterministic.
type Graph struct {
	nodes   []*Node
	edges   []*Edge
	nodeIdx map[NodeID]int
	edgeIdx map[EdgeID]int
	adj     [][]int // node slot -> incident edge slots, insertion order

	listeners []*listener
	nodeSeq   int
	edgeSeq   int
}

type listener struct {
	fn func(EdgeID)
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		nodeIdx: make(map[NodeID]int),
		edgeIdx: make(map[EdgeID]int),
	}
}

// ---------------------------------------------------------------------------
// Nodes
// ---------------------------------------------------------------------------

// AddNode inserts n. The id must be unique.
func (g *Graph) AddNode(n *Node) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("add node: empty id")
	}
	if _, ok := g.nodeIdx[n.ID]; ok {
		return fmt.Errorf("add node %s: %w", n.ID, ErrDuplicateID)
	}
	g.nodeIdx[n.ID] = len(g.nodes)
	g.nodes = append(g.nodes, n)
	g.adj = append(g.adj, nil)
	return nil
}

// AddNodeAt creates a node with a generated id at hint position pos.
func (g *Graph) AddNodeAt(pos Vec3) *Node {
	for {
		g.nodeSeq++
		id := NodeID(fmt.Sprintf("n%d", g.nodeSeq))
		if _, taken := g.nodeIdx[id]; taken {
			continue
		}
		n := &Node{ID: id, Base: pos}
		_ = g.AddNode(n)
		return n
	}
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id NodeID) *Node {
	i, ok := g.nodeIdx[id]
	if !ok {
		return nil
	}
	return g.nodes[i]
}

// HasNode reports whether id exists.
func (g *Graph) HasNode(id NodeID) bool {
	_, ok := g.nodeIdx[id]
	return ok
}

// Nodes returns all live nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodeIdx))
	for _, n := range g.nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// NodeIDs returns all live node ids in insertion order.
func (g *Graph) NodeIDs() []NodeID {
	out := make([]NodeID, 0, len(g.nodeIdx))
	for _, n := range g.nodes {
		if n != nil {
			out = append(out, n.ID)
		}
	}
	return out
}

// NodeCount returns the number of live nodes.
func (g *Graph) NodeCount() int { return len(g.nodeIdx) }

// NodeWorldPos returns the schematic hint position (base+offset).
func (g *Graph) NodeWorldPos(id NodeID) (Vec3, bool) {
	n := g.Node(id)
	if n == nil {
		return Vec3{}, false
	}
	return n.World(), true
}

// hint returns the hint position or the origin for unknown ids.
func (g *Graph) hint(id NodeID) Vec3 {
	p, _ := g.NodeWorldPos(id)
	return p
}

// SetNodeWorldY moves the hint position vertically by adjusting only
// Offset.Y, so Base stays what the operator drew.
func (g *Graph) SetNodeWorldY(id NodeID, y float64) bool {
	n := g.Node(id)
	if n == nil {
		return false
	}
	cur := n.Base.Y + n.Offset.Y
	n.Offset.Y += y - cur
	return true
}

// FindNodeNear returns the node closest to pos within tol, or nil.
func (g *Graph) FindNodeNear(pos Vec3, tol float64) *Node {
	var best *Node
	bestD2 := tol * tol
	for _, n := range g.nodes {
		if n == nil {
			continue
		}
		d := n.World().Sub(pos)
		d2 := d.Dot(d)
		if d2 <= bestD2 {
			bestD2 = d2
			best = n
		}
	}
	return best
}

// GetOrCreateNodeAt returns an existing node within tol of pos, or a new one.
// The boolean is true when a node was created.
func (g *Graph) GetOrCreateNodeAt(pos Vec3, tol float64) (*Node, bool) {
	if hit := g.FindNodeNear(pos, tol); hit != nil {
		return hit, false
	}
	return g.AddNodeAt(pos), true
}

// RemoveNode deletes a node and every edge incident to it.
func (g *Graph) RemoveNode(id NodeID) error {
	i, ok := g.nodeIdx[id]
	if !ok {
		return fmt.Errorf("remove node %s: %w", id, ErrUnknownNode)
	}
	for _, ei := range append([]int(nil), g.adj[i]...) {
		if e := g.edges[ei]; e != nil {
			_ = g.RemoveEdge(e.ID)
		}
	}
	g.nodes[i] = nil
	g.adj[i] = nil
	delete(g.nodeIdx, id)
	return nil
}

// ---------------------------------------------------------------------------
// Edges
// ---------------------------------------------------------------------------

// AddEdge inserts e. Both endpoints must exist and differ.
func (g *Graph) AddEdge(e *Edge) error {
	if e == nil || e.ID == "" {
		return fmt.Errorf("add edge: empty id")
	}
	if _, ok := g.edgeIdx[e.ID]; ok {
		return fmt.Errorf("add edge %s: %w", e.ID, ErrDuplicateID)
	}
	if e.A == e.B {
		return fmt.Errorf("add edge %s: %w", e.ID, ErrSelfLoop)
	}
	ai, ok := g.nodeIdx[e.A]
	if !ok {
		return fmt.Errorf("add edge %s: endpoint %s: %w", e.ID, e.A, ErrUnknownNode)
	}
	bi, ok := g.nodeIdx[e.B]
	if !ok {
		return fmt.Errorf("add edge %s: endpoint %s: %w", e.ID, e.B, ErrUnknownNode)
	}
	slot := len(g.edges)
	g.edgeIdx[e.ID] = slot
	g.edges = append(g.edges, e)
	g.adj[ai] = append(g.adj[ai], slot)
	g.adj[bi] = append(g.adj[bi], slot)
	return nil
}

// Connect creates an edge with a generated id.
func (g *Graph) Connect(a, b NodeID, kind EdgeKind) (*Edge, error) {
	for {
		g.edgeSeq++
		id := EdgeID(fmt.Sprintf("e%d", g.edgeSeq))
		if _, taken := g.edgeIdx[id]; taken {
			continue
		}
		e := &Edge{ID: id, A: a, B: b, Kind: kind}
		if err := g.AddEdge(e); err != nil {
			return nil, err
		}
		return e, nil
	}
}

// Edge returns the edge with the given id, or nil.
func (g *Graph) Edge(id EdgeID) *Edge {
	i, ok := g.edgeIdx[id]
	if !ok {
		return nil
	}
	return g.edges[i]
}

// Edges returns all live edges in insertion order.
func (g *Graph) Edges() []*Edge {
	out := make([]*Edge, 0, len(g.edgeIdx))
	for _, e := range g.edges {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// EdgeCount returns the number of live edges.
func (g *Graph) EdgeCount() int { return len(g.edgeIdx) }

// RemoveEdge deletes an edge.
func (g *Graph) RemoveEdge(id EdgeID) error {
	i, ok := g.edgeIdx[id]
	if !ok {
		return fmt.Errorf("remove edge %s: %w", id, ErrUnknownEdge)
	}
	e := g.edges[i]
	for _, nid := range []NodeID{e.A, e.B} {
		ni, ok := g.nodeIdx[nid]
		if !ok {
			continue
		}
		bag := g.adj[ni][:0]
		for _, s := range g.adj[ni] {
			if s != i {
				bag = append(bag, s)
			}
		}
		g.adj[ni] = bag
	}
	g.edges[i] = nil
	delete(g.edgeIdx, id)
	return nil
}

// IncidentEdges returns the edges touching id that pass filter.
func (g *Graph) IncidentEdges(id NodeID, filter EdgeFilter) []*Edge {
	i, ok := g.nodeIdx[id]
	if !ok {
		return nil
	}
	var out []*Edge
	for _, s := range g.adj[i] {
		e := g.edges[s]
		if e != nil && filter.accept(e) {
			out = append(out, e)
		}
	}
	return out
}

// Neighbors returns incident edges paired with their far endpoints.
func (g *Graph) Neighbors(id NodeID, filter EdgeFilter) []Neighbor {
	inc := g.IncidentEdges(id, filter)
	out := make([]Neighbor, 0, len(inc))
	for _, e := range inc {
		out = append(out, Neighbor{Edge: e, Other: e.Other(id)})
	}
	return out
}

// EdgeBetween returns the first edge joining a and b that passes filter.
func (g *Graph) EdgeBetween(a, b NodeID, filter EdgeFilter) *Edge {
	for _, e := range g.IncidentEdges(a, filter) {
		if e.Connects(a, b) {
			return e
		}
	}
	return nil
}

// CollectAffectedEdges returns the distinct edges of the given kinds that
// touch any of nodeIDs. With no kinds, center edges are collected.
func (g *Graph) CollectAffectedEdges(nodeIDs []NodeID, kinds ...EdgeKind) []EdgeID {
	if len(kinds) == 0 {
		kinds = []EdgeKind{KindCenter}
	}
	seen := make(map[EdgeID]bool)
	var out []EdgeID
	for _, nid := range nodeIDs {
		for _, e := range g.IncidentEdges(nid, nil) {
			if seen[e.ID] || !kindIn(e.Kind, kinds) {
				continue
			}
			seen[e.ID] = true
			out = append(out, e.ID)
		}
	}
	return out
}

func kindIn(k EdgeKind, kinds []EdgeKind) bool {
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Dimensions and change notification
// ---------------------------------------------------------------------------

// SetEdgeDimension replaces the dimension of an edge. Unless silent,
// every registered listener is invoked synchronously afterwards.
func (g *Graph) SetEdgeDimension(id EdgeID, dim Dimension, silent bool) error {
	e := g.Edge(id)
	if e == nil {
		return fmt.Errorf("set dimension %s: %w", id, ErrUnknownEdge)
	}
	if dim.Mode == "" {
		dim.Mode = DefaultMode
	}
	e.Dim = dim.Clone()
	if silent {
		return nil
	}
	for _, l := range append([]*listener(nil), g.listeners...) {
		l.fn(id)
	}
	return nil
}

// OnEdgeDimensionChanged registers fn to run after every non-silent
// dimension write. The returned func unregisters it.
func (g *Graph) OnEdgeDimensionChanged(fn func(EdgeID)) (unsubscribe func()) {
	l := &listener{fn: fn}
	g.listeners = append(g.listeners, l)
	return func() {
		for i, cur := range g.listeners {
			if cur == l {
				g.listeners = append(g.listeners[:i], g.listeners[i+1:]...)
				return
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Hint geometry
// ---------------------------------------------------------------------------

// EdgeDir describes an edge direction as seen from one endpoint.
type EdgeDir struct {
	Dir Vec3    // unit vector pointing away from the endpoint
	L   float64 // 3D hint length
	Lh  float64 // horizontal (XZ) hint length
}

// EdgeDir3D returns the hint direction of an edge pointing away from at.
func (g *Graph) EdgeDir3D(id EdgeID, at NodeID) (EdgeDir, bool) {
	e := g.Edge(id)
	if e == nil {
		return EdgeDir{}, false
	}
	d := g.hint(e.B).Sub(g.hint(e.A))
	if at == e.B {
		d = d.Neg()
	}
	l := d.Len()
	if l <= structuralEps {
		return EdgeDir{}, false
	}
	return EdgeDir{Dir: d.Scale(1 / l), L: l, Lh: d.HorizLen()}, true
}

// IsRiserEdge reports whether an edge is vertical in hint space.
func (g *Graph) IsRiserEdge(id EdgeID) bool {
	e := g.Edge(id)
	if e == nil {
		return false
	}
	return g.hint(e.B).Sub(g.hint(e.A)).HorizLen() <= HorizEps
}

// Clone returns a deep copy of the graph without listeners.
func (g *Graph) Clone() *Graph {
	c := New()
	c.nodeSeq, c.edgeSeq = g.nodeSeq, g.edgeSeq
	for _, n := range g.Nodes() {
		cp := *n
		cp.Meta = cloneNodeMeta(n.Meta)
		_ = c.AddNode(&cp)
	}
	for _, e := range g.Edges() {
		cp := *e
		cp.Dim = e.Dim.Clone()
		if e.Spec != nil {
			s := *e.Spec
			cp.Spec = &s
		}
		cp.Meta.Constraints = append([]Constraint(nil), e.Meta.Constraints...)
		_ = c.AddEdge(&cp)
	}
	return c
}

func cloneNodeMeta(m NodeMeta) NodeMeta {
	out := m
	if m.OnSegment != nil {
		s := *m.OnSegment
		out.OnSegment = &s
	}
	if m.Tee != nil {
		t := *m.Tee
		out.Tee = &t
	}
	if m.Stress != nil {
		s := *m.Stress
		s.Entries = append([]StressEntry(nil), m.Stress.Entries...)
		out.Stress = &s
	}
	if m.Special != nil {
		s := *m.Special
		out.Special = &s
	}
	out.Risers = append([]EdgeID(nil), m.Risers...)
	out.Notes = append([]string(nil), m.Notes...)
	return out
}
