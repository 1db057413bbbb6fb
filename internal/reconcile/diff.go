package reconcile

import (
	"cmp"
	"slices"
)

// Pair is a submitted node matched to its stored counterpart.
type Pair struct {
	New            Node
	Old            Node
	Changed        Fields
	OrdinalChanged bool
	// Children is nil when nothing below the pair changed.
	Children *DiffResult
}

func (p Pair) altered() bool {
	return len(p.Changed) > 0 || p.OrdinalChanged || p.Children != nil
}

// DiffResult partitions one sibling level.
type DiffResult struct {
	Added     []Node
	Removed   []Node
	Altered   []Pair
	Unchanged []Pair
}

// Empty reports whether the level needs no writes.
func (d *DiffResult) Empty() bool {
	return d == nil || (len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Altered) == 0)
}

func (d *DiffResult) classify(p Pair) {
	if p.altered() {
		d.Altered = append(d.Altered, p)
		return
	}
	d.Unchanged = append(d.Unchanged, p)
}

// Diff partitions a submitted sibling list against the stored one. Submitted
// ordinals are normalized first; stored ordinals are taken as they are.
func Diff(newList, oldList []Node, lvl *Level) *DiffResult {
	newList = normalizeOrdinals(newList)
	result := &DiffResult{}

	if len(oldList) == 0 {
		result.Added = newList
		return result
	}

	if ReorderOnly(newList, oldList, lvl) {
		return reorderDiff(newList, oldList, lvl)
	}

	idx := newIndex(oldList)
	consumed := make(map[string]struct{}, len(oldList))
	for _, n := range newList {
		old, ok := idx.match(n)
		if ok {
			if _, taken := consumed[n.ID]; taken {
				ok = false
			}
		}
		if !ok {
			result.Added = append(result.Added, n)
			continue
		}
		consumed[n.ID] = struct{}{}
		result.classify(comparePair(n, old, lvl))
	}

	for i, old := range oldList {
		if !idx.primary(i) {
			continue
		}
		if _, taken := consumed[old.ID]; taken {
			continue
		}
		result.Removed = append(result.Removed, old)
	}
	return result
}

func comparePair(n, old Node, lvl *Level) Pair {
	pair := Pair{New: n, Old: old}
	if digest(n, lvl) == digest(old, lvl) {
		return pair
	}
	pair.Changed = changedFields(n.Fields, old.Fields, lvl)
	pair.OrdinalChanged = n.Ordinal != old.Ordinal
	if lvl.hasChildren() && n.Children != nil {
		if children := Diff(n.Children, old.Children, lvl.Child); !children.Empty() {
			pair.Children = children
		}
	}
	return pair
}

// reorderDiff handles levels already known to differ only by position, so
// no field comparison or add/remove partitioning is needed.
func reorderDiff(newList, oldList []Node, lvl *Level) *DiffResult {
	idx := newIndex(oldList)
	result := &DiffResult{}
	for _, n := range newList {
		old, _ := idx.match(n)
		pair := Pair{New: n, Old: old, OrdinalChanged: n.Ordinal != old.Ordinal}
		if lvl.hasChildren() && n.Children != nil && len(old.Children) > 0 {
			if children := reorderDiff(normalizeOrdinals(n.Children), old.Children, lvl.Child); !children.Empty() {
				pair.Children = children
			}
		}
		result.classify(pair)
	}
	return result
}

// normalizeOrdinals returns a copy of nodes ordered by submitted ordinal, ties
// kept in submission order, with ordinals rewritten to 0..n-1.
func normalizeOrdinals(nodes []Node) []Node {
	if len(nodes) == 0 {
		return nil
	}
	out := slices.Clone(nodes)
	slices.SortStableFunc(out, func(a, b Node) int {
		return cmp.Compare(a.Ordinal, b.Ordinal)
	})
	for i := range out {
		out[i].Ordinal = i
	}
	return out
}
