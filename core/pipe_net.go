package core

// PipeNets groups nodes into connected components. Each reachable edge is
// treated as undirected for grouping; edges to nodes outside the input
// are ignored. Components come back in the order of their first node in
// the input, and nodes within a component keep input order.
func PipeNets(nodes []*PipeNode) [][]*PipeNode {
	index := make(map[NodeID]int, len(nodes))
	for i, n := range nodes {
		index[n.ID] = i
	}

	parent := make([]int, len(nodes))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if ra < rb {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}

	for i, n := range nodes {
		for id := range n.reachable {
			if j, ok := index[id]; ok {
				union(i, j)
			}
		}
	}

	groups := make(map[int]int)
	var out [][]*PipeNode
	for i, n := range nodes {
		root := find(i)
		g, ok := groups[root]
		if !ok {
			g = len(out)
			groups[root] = g
			out = append(out, nil)
		}
		out[g] = append(out[g], n)
	}
	return out
}

// EqualizePressure sets every node of each pipe net to the net's
// volume-weighted mean pressure, conserving the sum of pressure times
// volume. It returns the number of pipe nets.
//
// This is the simulation's placeholder gas step; it does not model flow
// rates, temperature or mixing.
func EqualizePressure(nodes []*PipeNode) int {
	nets := PipeNets(nodes)
	for _, net := range nets {
		if len(net) < 2 {
			continue
		}
		var pv, v float64
		for _, n := range net {
			vol := n.Air.volume()
			pv += n.Pressure() * vol
			v += vol
		}
		mean := pv / v
		for _, n := range net {
			n.Air.SetPressure(mean)
		}
	}
	return len(nets)
}
