package solver

import (
	"math"
	"sort"

	"github.com/chazu/isopipe/pkg/graph"
)

// Derivation tags written to Dimension.DerivedFrom.
const (
	FromMetric     = "metric"
	FromAutoDemote = "autoDemote"
	FromAutosolve  = "lockTwo_adjustOldest"
	FromTriangle   = "triangle"
)

// signEps is the axis displacement below which a sign is considered unknown.
const signEps = 1e-9

// HandleEdit is the dimension-change handler: it runs the triangle engine
// and then the reactive solver on the edited edge's component. Writes made
// by either engine are guarded and do not re-enter.
func (c *Context) HandleEdit(id graph.EdgeID) {
	if c.suppressed || c.Graph.Edge(id) == nil {
		return
	}
	end := c.begin("edit")
	defer end(nil)
	c.enforceTriangles(id)
	c.react(id)
}

// React runs only the reactive solver for an edit of id.
func (c *Context) React(id graph.EdgeID) {
	if c.suppressed || c.Graph.Edge(id) == nil {
		return
	}
	end := c.begin("reactive")
	defer end(nil)
	c.react(id)
}

// MetricPos returns the reactive solver's position for a node, if known.
func (c *Context) MetricPos(id graph.NodeID) (graph.Vec3, bool) {
	p, ok := c.metric[id]
	return p, ok
}

func (c *Context) react(id graph.EdgeID) {
	c.recompute(id)

	diags := c.userDiagonals(id)
	if len(diags) == 0 {
		return
	}
	for _, d := range diags {
		c.normalizeLocks(d)
	}
	for _, d := range c.userDiagonals(id) {
		c.recompute(d)
		c.autosolve(d)
	}
}

// userDiagonals lists the user-authored center edges in id's component.
func (c *Context) userDiagonals(id graph.EdgeID) []graph.EdgeID {
	_, edges := c.Graph.ComponentOfEdge(id)
	var out []graph.EdgeID
	for _, eid := range edges {
		e := c.Graph.Edge(eid)
		if e.Kind == graph.KindCenter && e.Dim.IsUser() {
			out = append(out, eid)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Two-phase recompute
// ---------------------------------------------------------------------------

// recompute re-primes metric positions for id's component and then
// derives or validates every edge whose endpoints both have positions.
func (c *Context) recompute(id graph.EdgeID) {
	g := c.Graph
	nodes, edges := g.ComponentOfEdge(id)
	if len(nodes) == 0 {
		return
	}
	for _, n := range nodes {
		delete(c.metric, n)
	}

	hasConstruction := false
	for _, eid := range edges {
		if g.Edge(eid).Kind == graph.KindConstruction {
			hasConstruction = true
			break
		}
	}

	seed := nodes[0]
	for _, n := range nodes {
		if p, _ := g.NodeWorldPos(n); p.Len() <= StructuralEps {
			seed = n
			break
		}
	}
	c.metric[seed] = graph.Vec3{}

	// Phase 1: propagate along measured edges.
	limit := c.Tol.passBound(len(edges))
	for pass := 0; pass < limit; pass++ {
		progress := false
		for _, eid := range edges {
			e := g.Edge(eid)
			if hasConstruction && e.Kind != graph.KindConstruction {
				continue
			}
			if !e.HasLength() {
				continue
			}
			pa, okA := c.metric[e.A]
			pb, okB := c.metric[e.B]
			if okA == okB {
				continue
			}
			dir, ok := c.primeDir(e)
			if !ok {
				continue
			}
			if okA {
				c.metric[e.B] = pa.Add(dir.Scale(e.Length()))
			} else {
				c.metric[e.A] = pb.Sub(dir.Scale(e.Length()))
			}
			progress = true
		}
		if !progress {
			break
		}
	}

	// Phase 2: derive or validate.
	for _, eid := range edges {
		e := g.Edge(eid)
		pa, okA := c.metric[e.A]
		pb, okB := c.metric[e.B]
		if !okA || !okB {
			continue
		}
		d := pa.Dist(pb)

		if e.Dim.IsUser() {
			if !e.HasLength() {
				continue
			}
			delta := math.Abs(e.Dim.ValueMm - d)
			next := *e.Dim.Clone()
			switch {
			case delta > c.Tol.UserConflictMm && e.Dim.Conflict == nil:
				next.Conflict = &graph.Conflict{DeltaMm: delta}
				recordConflict(c.ctx, "reactive")
				c.emit("reactive", "conflict", "", eid, "user length disagrees with the construction", map[string]any{"deltaMm": delta})
			case delta <= c.Tol.UserConflictMm && e.Dim.Conflict != nil:
				next.Conflict = nil
				c.emit("reactive", "conflict_cleared", "", eid, "", nil)
			default:
				continue
			}
			c.write("reactive", eid, next, true)
			continue
		}

		if e.Dim != nil && e.Dim.Source == graph.SourceDerived && e.Dim.Conflict == nil &&
			math.Abs(e.Dim.ValueMm-d) <= StructuralEps {
			continue
		}
		mode, label := dimModeLabel(e.Dim)
		c.write("reactive", eid, graph.Dimension{
			ValueMm:     d,
			Mode:        mode,
			Label:       label,
			Source:      graph.SourceDerived,
			DerivedFrom: FromMetric,
		}, false)
		c.emit("reactive", "derived", "", eid, "", map[string]any{"valueMm": d})
	}
}

// primeDir is the a→b direction used while priming: construction edges
// snap to their dominant world axis, center edges follow the hint.
func (c *Context) primeDir(e *graph.Edge) (graph.Vec3, bool) {
	h := c.hintDelta(e.A, e.B)
	if e.Kind == graph.KindConstruction {
		return axisSigned(h.DominantAxis(), h), true
	}
	return h.Normalize(StructuralEps)
}

func (c *Context) hintDelta(a, b graph.NodeID) graph.Vec3 {
	pa, _ := c.Graph.NodeWorldPos(a)
	pb, _ := c.Graph.NodeWorldPos(b)
	return pb.Sub(pa)
}

func dimModeLabel(d *graph.Dimension) (string, string) {
	if d == nil {
		return graph.DefaultMode, ""
	}
	return d.Mode, d.Label
}

// ---------------------------------------------------------------------------
// Lock normalisation and autosolve
// ---------------------------------------------------------------------------

// leg is one construction edge on a diagonal's path, oriented along the
// path direction.
type leg struct {
	id       graph.EdgeID
	from, to graph.NodeID
	axis     graph.Axis
	stamp    float64
}

// constructionPath returns the legs between a diagonal's endpoints.
func (c *Context) constructionPath(diag *graph.Edge) ([]leg, graph.Path, bool) {
	p, ok := c.Graph.ShortestPath(diag.A, diag.B, graph.OfKind(graph.KindConstruction))
	if !ok || p.Len() == 0 {
		return nil, p, false
	}
	legs := make([]leg, 0, p.Len())
	for i, eid := range p.Edges {
		from, to := p.Nodes[i], p.Nodes[i+1]
		legs = append(legs, leg{
			id:    eid,
			from:  from,
			to:    to,
			axis:  c.hintDelta(from, to).DominantAxis(),
			stamp: c.Graph.Edge(eid).Dim.Stamp(),
		})
	}
	return legs, p, true
}

type ranked struct {
	id    graph.EdgeID
	stamp float64
}

// byRecency sorts newest first; equal stamps fall back to id order.
func byRecency(r []ranked) {
	sort.SliceStable(r, func(i, j int) bool {
		if r[i].stamp != r[j].stamp {
			return r[i].stamp > r[j].stamp
		}
		return r[i].id < r[j].id
	})
}

// normalizeLocks keeps at most k user members around a user diagonal,
// where k is the number of distinct axes on its construction path, and
// demotes the older ones.
func (c *Context) normalizeLocks(diagID graph.EdgeID) {
	diag := c.Graph.Edge(diagID)
	if diag == nil || diag.Kind != graph.KindCenter || !diag.Dim.IsUser() {
		return
	}
	legs, _, ok := c.constructionPath(diag)
	if !ok {
		return
	}
	axes := map[graph.Axis]bool{}
	members := []ranked{{id: diagID, stamp: diag.Dim.Stamp()}}
	for _, l := range legs {
		axes[l.axis] = true
		members = append(members, ranked{id: l.id, stamp: l.stamp})
	}
	k := len(axes)
	if k < 1 {
		k = 1
	}
	byRecency(members)

	demoted := false
	for _, m := range members[min(k, len(members)):] {
		if c.Graph.Edge(m.id).Dim.IsUser() {
			c.demote(m.id)
			demoted = true
		}
	}
	if demoted {
		c.recompute(diagID)
	}
}

// demote turns a user edge into a derived one. Construction legs keep a
// numeric value; a center edge is cleared so the next pass derives it.
func (c *Context) demote(id graph.EdgeID) {
	e := c.Graph.Edge(id)
	if e == nil {
		return
	}
	val := 0.0
	if e.Kind == graph.KindConstruction {
		pa, okA := c.metric[e.A]
		pb, okB := c.metric[e.B]
		switch {
		case e.HasLength():
			val = e.Length()
		case okA && okB:
			val = pa.Dist(pb)
		default:
			h := c.hintDelta(e.A, e.B)
			val = math.Abs(h.Component(h.DominantAxis()))
		}
	}
	mode, label := dimModeLabel(e.Dim)
	c.write("reactive", id, graph.Dimension{
		ValueMm:     val,
		Mode:        mode,
		Label:       label,
		Source:      graph.SourceDerived,
		DerivedFrom: FromAutoDemote,
	}, false)
	c.emit("reactive", "demoted", "", id, "", map[string]any{"valueMm": val})
}

// autosolve locks the two most recent members of a diagonal's path and
// resizes the oldest leg so the path spans exactly the diagonal length.
func (c *Context) autosolve(diagID graph.EdgeID) {
	diag := c.Graph.Edge(diagID)
	if diag == nil || !diag.Dim.IsUser() || !diag.HasLength() {
		return
	}
	legs, path, ok := c.constructionPath(diag)
	if !ok {
		return
	}

	members := []ranked{{id: diagID, stamp: diag.Dim.Stamp()}}
	for _, l := range legs {
		members = append(members, ranked{id: l.id, stamp: l.stamp})
	}
	byRecency(members)
	locked := map[graph.EdgeID]bool{}
	for _, m := range members[:min(2, len(members))] {
		locked[m.id] = true
	}

	var free []leg
	for _, l := range legs {
		if !locked[l.id] {
			free = append(free, l)
		}
	}
	if len(free) == 0 {
		free = append(free, legs...)
	}
	sort.SliceStable(free, func(i, j int) bool {
		if free[i].stamp != free[j].stamp {
			return free[i].stamp < free[j].stamp
		}
		return free[i].id < free[j].id
	})
	pick := free[0]

	if c.Graph.Edge(pick.id).Dim.IsUser() {
		c.demote(pick.id)
		c.recompute(diagID)
	}

	start, okS := c.metric[path.Nodes[0]]
	stop, okE := c.metric[path.Nodes[len(path.Nodes)-1]]
	pf, okF := c.metric[pick.from]
	pt, okT := c.metric[pick.to]
	if !okS || !okE || !okF || !okT {
		return
	}
	total := stop.Sub(start)
	cur := total.Component(pick.axis)
	otherSq := total.Dot(total) - cur*cur
	target := diag.Dim.ValueMm

	reqSq := target*target - otherSq
	if reqSq < -signEps {
		next := *diag.Dim.Clone()
		next.Conflict = &graph.Conflict{DeltaMm: math.Sqrt(otherSq) - target}
		c.write("reactive", diagID, next, false)
		recordConflict(c.ctx, "reactive")
		c.emit("reactive", "conflict", "", diagID, "other axes already exceed the diagonal",
			map[string]any{"deltaMm": next.Conflict.DeltaMm})
		return
	}

	sign := c.legSign(pick, pf, pt)
	if math.Abs(cur) > signEps {
		sign = math.Copysign(1, cur)
	}
	oldPick := pt.Sub(pf).Component(pick.axis)
	newPick := math.Sqrt(math.Max(0, reqSq))*sign - (cur - oldPick)

	e := c.Graph.Edge(pick.id)
	mode, label := dimModeLabel(e.Dim)
	c.write("reactive", pick.id, graph.Dimension{
		ValueMm:     math.Abs(newPick),
		Mode:        mode,
		Label:       label,
		Source:      graph.SourceDerived,
		DerivedFrom: FromAutosolve,
	}, false)
	c.emit("reactive", "autosolved", "", pick.id, "", map[string]any{"valueMm": math.Abs(newPick), "diagonal": string(diagID)})
	c.recompute(diagID)
}

// legSign is the direction of a leg along its axis: from metric positions,
// else from the hint, else +.
func (c *Context) legSign(l leg, from, to graph.Vec3) float64 {
	if d := to.Sub(from).Component(l.axis); math.Abs(d) > signEps {
		return math.Copysign(1, d)
	}
	if d := c.hintDelta(l.from, l.to).Component(l.axis); d != 0 {
		return math.Copysign(1, d)
	}
	return 1
}
