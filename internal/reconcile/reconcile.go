package reconcile

import "errors"

var errNoSchema = errors.New("reconcile: nil schema")

// Reconcile compares a submitted tree with the stored one and returns the
// update for the stored root: its changed fields plus the nested operation
// set for its children. Reconciling a tree with itself yields an update with
// no data and no children when stored ordinals are already contiguous.
func Reconcile(newTree, oldTree Node, schema *Level) (Update, error) {
	if schema == nil {
		return Update{}, errNoSchema
	}
	path := rootPath(schema)
	if oldTree.ID == "" {
		return Update{}, &MalformedError{Path: path, Reason: "stored tree has no id"}
	}
	if newTree.ID != "" && newTree.ID != oldTree.ID {
		return Update{}, &MalformedError{Path: path, Reason: "submitted id " + newTree.ID + " does not match " + oldTree.ID}
	}

	update := Update{ID: oldTree.ID, Data: Fields{}}
	for key, value := range changedFields(newTree.Fields, oldTree.Fields, schema) {
		update.Data[key] = value
	}

	if !schema.hasChildren() || newTree.Children == nil {
		return update, nil
	}
	diff := Diff(newTree.Children, oldTree.Children, schema.Child)
	if diff.Empty() {
		return update, nil
	}
	children, err := Build(diff, schema.Child, oldTree.ID, childPath(path, schema.ChildKey))
	if err != nil {
		return Update{}, err
	}
	update.Children = &children
	return update, nil
}

// Create renders a brand-new tree as a single entity with every descendant
// created inline.
func Create(tree Node, schema *Level) (Entity, error) {
	if schema == nil {
		return Entity{}, errNoSchema
	}
	return buildEntity(tree, schema, "", rootPath(schema))
}

// Stats counts the writes an update implies, the root included.
func (u Update) Stats() Stats {
	var stats Stats
	if len(u.Data) > 0 {
		stats.Updates++
	}
	if u.Children != nil {
		u.Children.accumulate(&stats)
	}
	return stats
}

// Empty reports whether applying the update would write nothing.
func (u Update) Empty() bool {
	return len(u.Data) == 0 && (u.Children == nil || u.Children.Empty())
}
