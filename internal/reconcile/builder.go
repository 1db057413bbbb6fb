package reconcile

import (
	"encoding/json"
	"fmt"
)

// OperationSet is the nested write instruction for one sibling level.
type OperationSet struct {
	Create []Entity `json:"create"`
	Update []Update `json:"update"`
	Delete []Ref    `json:"delete"`
}

// Entity is the payload of a node to create. Data carries the ordinal and
// every non-transient field; Children only ever holds creates.
type Entity struct {
	Data     Fields
	Children *OperationSet
}

// Update targets one stored node. Data holds only what changed.
type Update struct {
	ID       string
	Data     Fields
	Children *OperationSet
}

// Ref names a stored node to delete. Descendants go with it: the storage
// layer cascades.
type Ref struct {
	ID string `json:"id"`
}

func (e Entity) MarshalJSON() ([]byte, error) {
	return json.Marshal(withChildren(e.Data, e.Children))
}

func (u Update) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID   string         `json:"id"`
		Data map[string]any `json:"data"`
	}{ID: u.ID, Data: withChildren(u.Data, u.Children)})
}

func withChildren(data Fields, children *OperationSet) map[string]any {
	out := make(map[string]any, len(data)+1)
	for key, value := range data {
		out[key] = value
	}
	if children != nil {
		out["children"] = children
	}
	return out
}

// Empty reports whether the set carries no instruction.
func (s OperationSet) Empty() bool {
	return len(s.Create) == 0 && len(s.Update) == 0 && len(s.Delete) == 0
}

// Stats counts instructions at every depth. Nodes created inside a created
// parent count as creates.
type Stats struct {
	Creates int `json:"creates"`
	Updates int `json:"updates"`
	Deletes int `json:"deletes"`
}

func (s OperationSet) Stats() Stats {
	var stats Stats
	s.accumulate(&stats)
	return stats
}

func (s OperationSet) accumulate(stats *Stats) {
	stats.Deletes += len(s.Delete)
	for _, entity := range s.Create {
		stats.Creates++
		if entity.Children != nil {
			entity.Children.accumulate(stats)
		}
	}
	for _, update := range s.Update {
		if len(update.Data) > 0 {
			stats.Updates++
		}
		if update.Children != nil {
			update.Children.accumulate(stats)
		}
	}
}

// Build renders a DiffResult into an OperationSet. parentID is the stored id
// of the node owning the level; listPath prefixes error paths.
func Build(d *DiffResult, lvl *Level, parentID, listPath string) (OperationSet, error) {
	ops := OperationSet{
		Create: []Entity{},
		Update: []Update{},
		Delete: []Ref{},
	}
	if d == nil {
		return ops, nil
	}

	for _, n := range d.Removed {
		ops.Delete = append(ops.Delete, Ref{ID: n.ID})
	}

	for _, pair := range d.Altered {
		path := elementPath(listPath, pair.New.Ordinal)
		if err := checkParent(pair.New, lvl, parentID, path); err != nil {
			return OperationSet{}, err
		}
		update := Update{ID: pair.Old.ID, Data: Fields{}}
		for key, value := range pair.Changed {
			update.Data[key] = value
		}
		if pair.OrdinalChanged {
			update.Data["ordinal"] = pair.New.Ordinal
		}
		if pair.Children != nil && lvl.hasChildren() {
			children, err := Build(pair.Children, lvl.Child, pair.Old.ID, childPath(path, lvl.ChildKey))
			if err != nil {
				return OperationSet{}, err
			}
			update.Children = &children
		}
		ops.Update = append(ops.Update, update)
	}

	for _, n := range d.Added {
		entity, err := buildEntity(n, lvl, parentID, elementPath(listPath, n.Ordinal))
		if err != nil {
			return OperationSet{}, err
		}
		ops.Create = append(ops.Create, entity)
	}
	return ops, nil
}

// buildEntity renders a wholly new subtree. Its children are created inline
// and never matched against anything.
func buildEntity(n Node, lvl *Level, parentID, path string) (Entity, error) {
	if err := checkParent(n, lvl, parentID, path); err != nil {
		return Entity{}, err
	}
	for _, key := range lvl.Required {
		if value, ok := n.Fields[key]; !ok || value == nil {
			return Entity{}, &MalformedError{Path: path, Reason: fmt.Sprintf("missing required field %q", key)}
		}
	}

	entity := Entity{Data: strip(n.Fields, lvl)}
	entity.Data["ordinal"] = n.Ordinal

	if lvl.hasChildren() && len(n.Children) > 0 {
		children := OperationSet{Create: []Entity{}, Update: []Update{}, Delete: []Ref{}}
		listPath := childPath(path, lvl.ChildKey)
		for _, child := range normalizeOrdinals(n.Children) {
			created, err := buildEntity(child, lvl.Child, "", elementPath(listPath, child.Ordinal))
			if err != nil {
				return Entity{}, err
			}
			children.Create = append(children.Create, created)
		}
		entity.Children = &children
	}
	return entity, nil
}

// checkParent rejects nodes whose parent key names anything other than the
// stored id of the node they are nested under. Under a new parent any value
// is a dangling reference.
func checkParent(n Node, lvl *Level, parentID, path string) error {
	if lvl.ParentKey == "" {
		return nil
	}
	ref, err := idString(n.Fields[lvl.ParentKey])
	if err != nil {
		return &MalformedError{Path: path, Reason: fmt.Sprintf("%s: %v", lvl.ParentKey, err)}
	}
	if ref == "" || ref == parentID {
		return nil
	}
	if parentID == "" {
		return &MalformedError{Path: path, Reason: fmt.Sprintf("%s %q references a parent that does not exist yet", lvl.ParentKey, ref)}
	}
	return &MalformedError{Path: path, Reason: fmt.Sprintf(
		"%s %q does not match parent %q; a node moved to another parent is deleted and re-created, so clear %s or set it to %q",
		lvl.ParentKey, ref, parentID, lvl.ParentKey, parentID)}
}

func strip(fields Fields, lvl *Level) Fields {
	out := make(Fields, len(fields)+1)
	for key, value := range fields {
		if lvl.ignored(key) {
			continue
		}
		out[key] = value
	}
	return out
}
