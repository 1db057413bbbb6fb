package reconcile

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// canonical encodes a field value so that equal values compare equal
// regardless of map key order or numeric representation.
func canonical(value any) []byte {
	encoded, err := json.Marshal(value)
	if err != nil {
		return []byte(fmt.Sprintf("%T:%v", value, value))
	}
	return encoded
}

func valuesEqual(a, b any) bool {
	return bytes.Equal(canonical(a), canonical(b))
}

// changedFields returns the submitted fields whose values differ from the
// stored ones. Keys the submission omits are left alone; transient keys are
// never reported.
func changedFields(next, prev Fields, lvl *Level) Fields {
	var changed Fields
	for key, value := range next {
		if lvl.ignored(key) {
			continue
		}
		if stored, ok := prev[key]; ok && valuesEqual(value, stored) {
			continue
		}
		if changed == nil {
			changed = make(Fields)
		}
		changed[key] = value
	}
	return changed
}

// digest hashes a subtree's comparable content: ordinal, non-transient fields
// and child digests in list order. Equal digests mean equal subtrees; unequal
// digests prove nothing and callers fall back to a structural comparison.
func digest(n Node, lvl *Level) [blake2b.Size256]byte {
	h, _ := blake2b.New256(nil)

	var ordinal [8]byte
	binary.BigEndian.PutUint64(ordinal[:], uint64(int64(n.Ordinal)))
	_, _ = h.Write(ordinal[:])

	keys := make([]string, 0, len(n.Fields))
	for key := range n.Fields {
		if !lvl.ignored(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		_, _ = h.Write([]byte(key))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(canonical(n.Fields[key]))
		_, _ = h.Write([]byte{0})
	}

	if lvl.hasChildren() {
		var count [8]byte
		binary.BigEndian.PutUint64(count[:], uint64(len(n.Children)))
		_, _ = h.Write(count[:])
		for _, child := range n.Children {
			sum := digest(child, lvl.Child)
			_, _ = h.Write(sum[:])
		}
	}

	var out [blake2b.Size256]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ReorderOnly reports whether the only difference between two sibling lists,
// at this level and every level below, is ordinal position. Every submitted
// node must carry an id matching exactly one stored node. A node without a
// child list keeps its stored children and so passes at the levels below.
func ReorderOnly(newList, oldList []Node, lvl *Level) bool {
	if len(newList) != len(oldList) {
		return false
	}
	idx := newIndex(oldList)
	if idx.size() != len(oldList) {
		return false
	}
	seen := make(map[string]struct{}, len(newList))
	for _, n := range newList {
		old, ok := idx.match(n)
		if !ok {
			return false
		}
		if _, dup := seen[n.ID]; dup {
			return false
		}
		seen[n.ID] = struct{}{}
		if changedFields(n.Fields, old.Fields, lvl) != nil {
			return false
		}
		if lvl.hasChildren() && n.Children != nil && !ReorderOnly(n.Children, old.Children, lvl.Child) {
			return false
		}
	}
	return true
}
