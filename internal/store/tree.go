package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"formsync/api/internal/reconcile"
)

// FormSchema describes the form → questions → options document. Keys the
// server owns are transient so a client echoing them back never produces a
// write.
var FormSchema = &reconcile.Level{
	Name:      "form",
	ChildKey:  "questions",
	Transient: []string{"ownerId", "version", "questionCount", "createdAt", "updatedAt"},
	Required:  []string{"title"},
	Child: &reconcile.Level{
		Name:      "question",
		ChildKey:  "options",
		ParentKey: "formId",
		Transient: []string{"type", "createdAt", "updatedAt"},
		Required:  []string{"text", "typeId"},
		Child: &reconcile.Level{
			Name:      "option",
			ParentKey: "questionId",
			Transient: []string{"createdAt", "updatedAt"},
			Required:  []string{"label"},
		},
	},
}

// FormTree converts a stored form into the node tree reconcile works on. It
// goes through the JSON encoding so stored and submitted documents share one
// shape.
func FormTree(detail FormDetail) (reconcile.Node, error) {
	data, err := json.Marshal(detail)
	if err != nil {
		return reconcile.Node{}, fmt.Errorf("encode form %s: %w", detail.ID, err)
	}
	return reconcile.DecodeTreeBytes(data, FormSchema)
}

type column struct {
	name     string
	required bool
	convert  func(any) (any, error)
}

// table maps one tree level onto its relation. Only whitelisted fields reach
// SQL; column names are never taken from input.
type table struct {
	name         string
	parentColumn string
	idPrefix     string
	ordered      bool
	columns      map[string]column
	child        *table
}

var optionsTable = &table{
	name:         "options",
	parentColumn: "question_id",
	idPrefix:     "opt",
	ordered:      true,
	columns: map[string]column{
		"label": {name: "label", required: true, convert: asString},
		"value": {name: "value", convert: asString},
	},
}

var questionsTable = &table{
	name:         "questions",
	parentColumn: "form_id",
	idPrefix:     "q",
	ordered:      true,
	columns: map[string]column{
		"text":        {name: "text", required: true, convert: asString},
		"description": {name: "description", convert: asString},
		"typeId":      {name: "type_id", required: true, convert: asString},
		"isRequired":  {name: "is_required", convert: asBool},
	},
	child: optionsTable,
}

var formsTable = &table{
	name:         "forms",
	parentColumn: "owner_id",
	idPrefix:     "form",
	columns: map[string]column{
		"title":       {name: "title", required: true, convert: asString},
		"description": {name: "description", convert: asString},
		"isPublished": {name: "is_published", convert: asBool},
	},
	child: questionsTable,
}

type assignment struct {
	column string
	value  any
}

// assignments resolves a payload into column values in key order.
func (t *table) assignments(data reconcile.Fields) ([]assignment, error) {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]assignment, 0, len(keys))
	for _, key := range keys {
		value := data[key]
		if key == "ordinal" {
			if !t.ordered {
				continue
			}
			ordinal, err := asInt(value)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.ordinal: %v", ErrInvalidField, t.name, err)
			}
			out = append(out, assignment{column: "ordinal", value: ordinal})
			continue
		}
		col, ok := t.columns[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s has no field %q", ErrInvalidField, t.name, key)
		}
		if value == nil && col.required {
			return nil, fmt.Errorf("%w: %s.%s cannot be null", ErrInvalidField, t.name, key)
		}
		converted, err := col.convert(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidField, t.name, key, err)
		}
		out = append(out, assignment{column: col.name, value: converted})
	}
	return out, nil
}

func (t *table) insertStatement(id, parentID string, data reconcile.Fields) (string, []any, error) {
	values, err := t.assignments(data)
	if err != nil {
		return "", nil, err
	}
	columns := []string{"id", t.parentColumn}
	args := []any{id, parentID}
	for _, value := range values {
		columns = append(columns, value.column)
		args = append(args, value.value)
	}
	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, t.name, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	return query, args, nil
}

// updateStatement scopes the write to parentID when it is set, so a node can
// only be touched under the parent it was read from.
func (t *table) updateStatement(id, parentID string, data reconcile.Fields, extra ...string) (string, []any, error) {
	values, err := t.assignments(data)
	if err != nil {
		return "", nil, err
	}
	sets := make([]string, 0, len(values)+len(extra)+1)
	args := make([]any, 0, len(values)+2)
	for _, value := range values {
		args = append(args, value.value)
		sets = append(sets, fmt.Sprintf("%s=$%d", value.column, len(args)))
	}
	sets = append(sets, extra...)
	sets = append(sets, "updated_at=NOW()")

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id=$%d`, t.name, strings.Join(sets, ", "), len(args))
	if parentID != "" {
		args = append(args, parentID)
		query += fmt.Sprintf(` AND %s=$%d`, t.parentColumn, len(args))
	}
	return query, args, nil
}

func asString(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	default:
		return nil, fmt.Errorf("expected a string, got %T", value)
	}
}

func asBool(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	default:
		return nil, fmt.Errorf("expected a boolean, got %T", value)
	}
}

func asInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int(v), nil
	case json.Number:
		return strconv.Atoi(v.String())
	default:
		return 0, fmt.Errorf("expected a number, got %T", value)
	}
}
