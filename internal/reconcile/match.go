package reconcile

// index maps ids to positions in one sibling list. When an id repeats, the
// first occurrence is the only one that can ever be matched.
type index struct {
	nodes []Node
	byID  map[string]int
}

func newIndex(nodes []Node) index {
	byID := make(map[string]int, len(nodes))
	for i, node := range nodes {
		if node.ID == "" {
			continue
		}
		if _, seen := byID[node.ID]; seen {
			continue
		}
		byID[node.ID] = i
	}
	return index{nodes: nodes, byID: byID}
}

// match returns the old node sharing n's id.
func (ix index) match(n Node) (Node, bool) {
	if n.ID == "" {
		return Node{}, false
	}
	pos, ok := ix.byID[n.ID]
	if !ok {
		return Node{}, false
	}
	return ix.nodes[pos], true
}

// primary reports whether position i holds the indexed occurrence of its id.
func (ix index) primary(i int) bool {
	id := ix.nodes[i].ID
	if id == "" {
		return false
	}
	pos, ok := ix.byID[id]
	return ok && pos == i
}

func (ix index) size() int {
	return len(ix.byID)
}
