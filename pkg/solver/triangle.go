package solver

import (
	"math"
	"sort"
	"strings"

	"github.com/chazu/isopipe/pkg/graph"
)

// Triangle is a right triangle: two orthogonal construction legs from
// vertex A to P and Q, closed by a center diagonal P–Q.
type Triangle struct {
	A, P, Q graph.NodeID
	LegAP   graph.EdgeID
	LegAQ   graph.EdgeID
	Diag    graph.EdgeID
}

// Member roles inside a Triangle.
const (
	roleLeg1 = "leg1"
	roleLeg2 = "leg2"
	roleDiag = "diag"
)

func (t Triangle) members() []graph.EdgeID {
	return []graph.EdgeID{t.LegAP, t.LegAQ, t.Diag}
}

func (t Triangle) role(id graph.EdgeID) string {
	switch id {
	case t.LegAP:
		return roleLeg1
	case t.LegAQ:
		return roleLeg2
	}
	return roleDiag
}

// EnforceTriangles runs only the triangle engine for an edit of id.
func (c *Context) EnforceTriangles(id graph.EdgeID) {
	if c.suppressed || c.Graph.Edge(id) == nil {
		return
	}
	end := c.begin("triangle")
	defer end(nil)
	c.enforceTriangles(id)
}

func (c *Context) enforceTriangles(id graph.EdgeID) {
	for _, t := range c.TrianglesTouching(id) {
		c.applyTriangle(t, id)
	}
}

// TrianglesTouching finds every right triangle that has id as a member.
func (c *Context) TrianglesTouching(id graph.EdgeID) []Triangle {
	g := c.Graph
	e := g.Edge(id)
	if e == nil {
		return nil
	}
	var out []Triangle
	seen := map[string]bool{}
	add := func(a, p, q graph.NodeID, eAP, eAQ, ePQ *graph.Edge) {
		if eAP == nil || eAQ == nil || ePQ == nil || eAP.ID == eAQ.ID {
			return
		}
		key := []string{string(a), string(p), string(q)}
		sort.Strings(key)
		k := strings.Join(key, "|")
		if seen[k] {
			return
		}
		ax1 := c.hintDelta(eAP.A, eAP.B).DominantAxis()
		ax2 := c.hintDelta(eAQ.A, eAQ.B).DominantAxis()
		if ax1 == ax2 {
			return
		}
		dd := c.hintDelta(p, q)
		if dd.NonZeroAxes(GeomEps) != 2 ||
			math.Abs(dd.Component(ax1)) <= GeomEps || math.Abs(dd.Component(ax2)) <= GeomEps {
			return
		}
		seen[k] = true
		out = append(out, Triangle{A: a, P: p, Q: q, LegAP: eAP.ID, LegAQ: eAQ.ID, Diag: ePQ.ID})
	}

	construction := graph.OfKind(graph.KindConstruction)
	center := graph.OfKind(graph.KindCenter)

	switch e.Kind {
	case graph.KindConstruction:
		for _, a := range []graph.NodeID{e.A, e.B} {
			p := e.Other(a)
			for _, other := range g.IncidentEdges(a, construction) {
				if other.ID == e.ID {
					continue
				}
				q := other.Other(a)
				add(a, p, q, e, other, g.EdgeBetween(p, q, center))
			}
		}
	case graph.KindCenter:
		p, q := e.A, e.B
		for _, eAP := range g.IncidentEdges(p, construction) {
			a := eAP.Other(p)
			for _, eAQ := range g.IncidentEdges(q, construction) {
				if eAQ.Other(q) == a {
					add(a, p, q, eAP, eAQ, e)
				}
			}
		}
	}
	return out
}

// applyTriangle keeps the edited member and the next most recent user
// member as user values and derives the third from Pythagoras.
func (c *Context) applyTriangle(t Triangle, edited graph.EdgeID) {
	g := c.Graph
	values := 0
	for _, id := range t.members() {
		if g.Edge(id).HasLength() {
			values++
		}
	}
	if values < 2 {
		c.emit("triangle", "skipped", t.A, edited, "fewer than two known members", nil)
		return
	}

	var remain []graph.EdgeID
	for _, id := range t.members() {
		if id != edited {
			remain = append(remain, id)
		}
	}
	second := graph.EdgeID("")
	bestStamp := math.Inf(-1)
	for _, id := range remain {
		d := g.Edge(id).Dim
		if !d.IsUser() {
			continue
		}
		if second == "" || d.Stamp() > bestStamp || (d.Stamp() == bestStamp && id < second) {
			second, bestStamp = id, d.Stamp()
		}
	}
	if second == "" {
		for _, id := range remain {
			if g.Edge(id).HasLength() {
				second = id
				break
			}
		}
	}
	if second == "" {
		return
	}

	c.keepAsUser(edited)
	c.keepAsUser(second)

	var target graph.EdgeID
	for _, id := range remain {
		if id != second {
			target = id
		}
	}
	k1, k2 := g.Edge(edited), g.Edge(second)
	if !k1.HasLength() || !k2.HasLength() {
		c.emit("triangle", "skipped", t.A, edited, "locked members have no length", nil)
		return
	}

	r1, r2 := t.role(edited), t.role(second)
	roles := []string{r1, r2}
	sort.Strings(roles)
	joined := strings.Join(roles, "+")

	var val float64
	if joined == roleLeg1+"+"+roleLeg2 {
		val = math.Hypot(k1.Length(), k2.Length())
	} else {
		diag, l := k1.Length(), k2.Length()
		if r2 == roleDiag {
			diag, l = l, diag
		}
		if diag < l {
			cur := graph.Dimension{}
			if d := g.Edge(target).Dim; d != nil {
				cur = *d.Clone()
			}
			cur.Conflict = &graph.Conflict{Reason: "infeasible", Roles: joined, Edited: edited}
			c.write("triangle", target, cur, true)
			recordConflict(c.ctx, "triangle")
			c.emit("triangle", "infeasible", t.A, target, "diagonal shorter than its leg",
				map[string]any{"roles": joined, "edited": string(edited)})
			return
		}
		val = math.Sqrt(diag*diag - l*l)
	}

	mode, label := dimModeLabel(g.Edge(target).Dim)
	c.write("triangle", target, graph.Dimension{
		ValueMm:     val,
		Mode:        mode,
		Label:       label,
		Source:      graph.SourceDerived,
		DerivedFrom: FromTriangle,
	}, false)
	c.emit("triangle", "derived", t.A, target, joined, map[string]any{"valueMm": val})
}

// keepAsUser marks a member as user-authored without changing its value,
// stamping it now if it has never been stamped.
func (c *Context) keepAsUser(id graph.EdgeID) {
	e := c.Graph.Edge(id)
	if e == nil || !e.HasLength() {
		return
	}
	d := *e.Dim.Clone()
	d.Source = graph.SourceUser
	if d.UserEditedAt == 0 {
		d.UserEditedAt = c.Now()
	}
	d.Conflict = nil
	c.write("triangle", id, d, true)
}
