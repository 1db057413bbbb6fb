// Package reconcile computes the nested create/update/delete instructions that
// turn a stored tree (form → questions → options) into a submitted one.
//
// The package is pure: callers hand it two materialized trees and receive an
// OperationSet. Reading the stored tree and applying the result belong to the
// storage layer.
package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
)

// Fields holds the scalar and opaque attributes of one entity.
type Fields map[string]any

// Node is one entity at some nesting level.
type Node struct {
	ID      string
	Ordinal int
	Fields  Fields
	// Children is nil when a submission leaves the child list out, which
	// keeps the stored children as they are. An empty non-nil list removes
	// them all.
	Children []Node
}

// Level describes one nesting level of a tree schema.
type Level struct {
	// Name labels the level in error paths and logs.
	Name string
	// ChildKey is the JSON key of the child list, empty at the leaf level.
	ChildKey string
	// ParentKey is the foreign key field pointing at the parent node.
	ParentKey string
	// Transient fields are ignored when comparing and stripped on emission.
	Transient []string
	// Required fields must be present to create a node at this level.
	Required []string
	Child    *Level
}

func (l *Level) ignored(key string) bool {
	if l == nil {
		return false
	}
	if key == "id" || key == "ordinal" {
		return true
	}
	if l.ParentKey != "" && key == l.ParentKey {
		return true
	}
	if l.ChildKey != "" && key == l.ChildKey {
		return true
	}
	return slices.Contains(l.Transient, key)
}

func (l *Level) hasChildren() bool {
	return l != nil && l.Child != nil && l.ChildKey != ""
}

// DecodeTree reads a JSON document into a Node using lvl as the root level.
// Numbers are kept as json.Number so that stored and submitted values compare
// by their textual form.
func DecodeTree(r io.Reader, lvl *Level) (Node, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return Node{}, fmt.Errorf("decode tree: %w", err)
	}
	return NodeFromMap(raw, lvl)
}

// DecodeTreeBytes is DecodeTree over an in-memory document.
func DecodeTreeBytes(data []byte, lvl *Level) (Node, error) {
	return DecodeTree(bytes.NewReader(data), lvl)
}

// NodeFromMap converts a decoded JSON object into a Node. The id, ordinal and
// child list keys are lifted out of the object; every other key becomes a
// field. A missing ordinal defaults to the position in the enclosing list.
// A missing child list leaves Children nil; an explicit null or [] yields an
// empty list.
func NodeFromMap(raw map[string]any, lvl *Level) (Node, error) {
	return nodeFromMap(raw, lvl, rootPath(lvl), 0)
}

func nodeFromMap(raw map[string]any, lvl *Level, path string, position int) (Node, error) {
	if raw == nil {
		return Node{}, &MalformedError{Path: path, Reason: "node is null"}
	}
	node := Node{Ordinal: position, Fields: make(Fields, len(raw))}

	id, err := idString(raw["id"])
	if err != nil {
		return Node{}, &MalformedError{Path: path, Reason: err.Error()}
	}
	node.ID = id

	if value, ok := raw["ordinal"]; ok && value != nil {
		ordinal, err := intValue(value)
		if err != nil {
			return Node{}, &MalformedError{Path: path, Reason: "ordinal: " + err.Error()}
		}
		node.Ordinal = ordinal
	}

	for key, value := range raw {
		if key == "id" || key == "ordinal" {
			continue
		}
		if lvl.hasChildren() && key == lvl.ChildKey {
			continue
		}
		node.Fields[key] = value
	}

	if !lvl.hasChildren() {
		return node, nil
	}
	rawChildren, ok := raw[lvl.ChildKey]
	if !ok {
		return node, nil
	}
	if rawChildren == nil {
		node.Children = []Node{}
		return node, nil
	}
	list, ok := rawChildren.([]any)
	if !ok {
		return Node{}, &MalformedError{Path: childPath(path, lvl.ChildKey), Reason: "expected a list"}
	}
	node.Children = make([]Node, 0, len(list))
	for i, item := range list {
		itemPath := elementPath(childPath(path, lvl.ChildKey), i)
		object, ok := item.(map[string]any)
		if !ok {
			return Node{}, &MalformedError{Path: itemPath, Reason: "expected an object"}
		}
		child, err := nodeFromMap(object, lvl.Child, itemPath, i)
		if err != nil {
			return Node{}, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

// idString accepts string and numeric ids. Empty and null mean "no id".
func idString(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	default:
		return "", fmt.Errorf("id must be a string or number, got %T", value)
	}
}

func intValue(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int(v), nil
	case json.Number:
		parsed, err := strconv.Atoi(v.String())
		if err != nil {
			return 0, fmt.Errorf("%s is not an integer", v)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", value)
	}
}

func rootPath(lvl *Level) string {
	if lvl == nil || lvl.Name == "" {
		return "$"
	}
	return lvl.Name
}

func childPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func elementPath(listPath string, index int) string {
	return listPath + "[" + strconv.Itoa(index) + "]"
}
