package graph

// ---------------------------------------------------------------------------
// Shared traversal
//
// Every solver stage that walks the graph (reachability, construction-leg
// paths, slope paths, component collection) goes through these helpers so
// that visiting order is identical everywhere: BFS, neighbors in edge
// insertion order, first discovery wins.
// ---------------------------------------------------------------------------

// Path is an ordered walk: Edges[i] joins Nodes[i] and Nodes[i+1].
type Path struct {
	Nodes []NodeID
	Edges []EdgeID
}

// Len returns the number of edges on the path.
func (p Path) Len() int { return len(p.Edges) }

// bfs walks from the start slots over accepted edges. For each newly
// discovered node it records the parent node slot and the edge slot used;
// visit returns true to stop early.
func (g *Graph) bfs(starts []int, filter EdgeFilter, visit func(node int) bool) (parent, via []int) {
	parent = make([]int, len(g.nodes))
	via = make([]int, len(g.nodes))
	for i := range parent {
		parent[i] = -2 // undiscovered
		via[i] = -1
	}
	queue := make([]int, 0, len(g.nodes))
	for _, s := range starts {
		if parent[s] != -2 {
			continue
		}
		parent[s] = -1
		queue = append(queue, s)
		if visit != nil && visit(s) {
			return parent, via
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		curID := g.nodes[cur].ID
		for _, es := range g.adj[cur] {
			e := g.edges[es]
			if e == nil || !filter.accept(e) {
				continue
			}
			next, ok := g.nodeIdx[e.Other(curID)]
			if !ok || parent[next] != -2 {
				continue
			}
			parent[next] = cur
			via[next] = es
			queue = append(queue, next)
			if visit != nil && visit(next) {
				return parent, via
			}
		}
	}
	return parent, via
}

// ShortestPath finds a fewest-edges path from one node to another using
// only edges accepted by filter.
func (g *Graph) ShortestPath(from, to NodeID, filter EdgeFilter) (Path, bool) {
	fi, ok := g.nodeIdx[from]
	if !ok {
		return Path{}, false
	}
	ti, ok := g.nodeIdx[to]
	if !ok {
		return Path{}, false
	}
	if fi == ti {
		return Path{Nodes: []NodeID{from}}, true
	}
	parent, via := g.bfs([]int{fi}, filter, func(n int) bool { return n == ti })
	if parent[ti] == -2 {
		return Path{}, false
	}
	var p Path
	for cur := ti; cur != -1; cur = parent[cur] {
		p.Nodes = append(p.Nodes, g.nodes[cur].ID)
		if via[cur] >= 0 {
			p.Edges = append(p.Edges, g.edges[via[cur]].ID)
		}
	}
	reverseNodes(p.Nodes)
	reverseEdges(p.Edges)
	return p, true
}

// Reachable returns every node reachable from start over accepted edges,
// in BFS order with start first.
func (g *Graph) Reachable(start NodeID, filter EdgeFilter) []NodeID {
	si, ok := g.nodeIdx[start]
	if !ok {
		return nil
	}
	var out []NodeID
	g.bfs([]int{si}, filter, func(n int) bool {
		out = append(out, g.nodes[n].ID)
		return false
	})
	return out
}

// ComponentOfEdge returns the connected component containing an edge:
// nodes in BFS order starting from the edge's endpoints, and edges with
// the seed edge first then in discovery order.
func (g *Graph) ComponentOfEdge(id EdgeID) (nodes []NodeID, edges []EdgeID) {
	e := g.Edge(id)
	if e == nil {
		return nil, nil
	}
	ai, bi := g.nodeIdx[e.A], g.nodeIdx[e.B]
	seenEdge := map[int]bool{g.edgeIdx[id]: true}
	edges = append(edges, id)
	g.bfs([]int{ai, bi}, nil, func(n int) bool {
		nodes = append(nodes, g.nodes[n].ID)
		for _, es := range g.adj[n] {
			if g.edges[es] != nil && !seenEdge[es] {
				seenEdge[es] = true
				edges = append(edges, g.edges[es].ID)
			}
		}
		return false
	})
	return nodes, edges
}

func reverseNodes(s []NodeID) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func reverseEdges(s []EdgeID) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
