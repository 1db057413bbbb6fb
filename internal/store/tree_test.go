package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"formsync/api/internal/reconcile"
)

type execCall struct {
	query string
	args  []any
}

type fakeExecer struct {
	calls    []execCall
	affected int64
}

func (f *fakeExecer) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.calls = append(f.calls, execCall{query: query, args: args})
	return driver.RowsAffected(f.affected), nil
}

func sampleDetail() FormDetail {
	stamp := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	choice := QuestionType{ID: "single_choice", Name: "Multiple choice", HasOptions: true}
	return FormDetail{
		Form: Form{ID: "f1", OwnerID: "usr_1", Title: "Survey", Version: 3, CreatedAt: stamp, UpdatedAt: stamp},
		Questions: []Question{
			{
				ID: "q1", FormID: "f1", Ordinal: 0, Text: "Colour?", TypeID: "single_choice", Type: choice,
				Options: []Option{
					{ID: "o1", QuestionID: "q1", Ordinal: 0, Label: "Red", CreatedAt: stamp},
					{ID: "o2", QuestionID: "q1", Ordinal: 1, Label: "Blue", CreatedAt: stamp},
				},
				CreatedAt: stamp,
			},
			{ID: "q2", FormID: "f1", Ordinal: 1, Text: "Why?", TypeID: "long_text", Options: []Option{}},
		},
	}
}

func TestFormTreeRoundTripsThroughJSON(t *testing.T) {
	detail := sampleDetail()
	stored, err := FormTree(detail)
	if err != nil {
		t.Fatalf("FormTree() error = %v", err)
	}
	if stored.ID != "f1" || len(stored.Children) != 2 || len(stored.Children[0].Children) != 2 {
		t.Fatalf("unexpected tree shape: %+v", stored)
	}

	document, err := json.Marshal(detail)
	if err != nil {
		t.Fatalf("marshal detail: %v", err)
	}
	submitted, err := reconcile.DecodeTreeBytes(document, FormSchema)
	if err != nil {
		t.Fatalf("DecodeTreeBytes() error = %v", err)
	}

	update, err := reconcile.Reconcile(submitted, stored, FormSchema)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if !update.Empty() {
		t.Fatalf("echoing the stored document must be a no-op, got %+v", update)
	}
}

func TestApplyOpsWritesDeletesUpdatesThenCreates(t *testing.T) {
	ops := reconcile.OperationSet{
		Delete: []reconcile.Ref{{ID: "q3"}},
		Update: []reconcile.Update{{
			ID:   "q1",
			Data: reconcile.Fields{"text": "New", "ordinal": 1},
			Children: &reconcile.OperationSet{
				Delete: []reconcile.Ref{{ID: "o1"}},
				Create: []reconcile.Entity{{Data: reconcile.Fields{"label": "c", "ordinal": 0}}},
			},
		}},
		Create: []reconcile.Entity{{
			Data: reconcile.Fields{"text": "T", "typeId": "short_text", "ordinal": 2},
			Children: &reconcile.OperationSet{
				Create: []reconcile.Entity{{Data: reconcile.Fields{"label": "yes", "ordinal": 0}}},
			},
		}},
	}

	ex := &fakeExecer{affected: 1}
	if err := applyOps(context.Background(), ex, questionsTable, "f1", ops); err != nil {
		t.Fatalf("applyOps() error = %v", err)
	}

	wantQueries := []string{
		"DELETE FROM questions WHERE id=$1 AND form_id=$2",
		"UPDATE questions SET ordinal=$1, text=$2, updated_at=NOW() WHERE id=$3 AND form_id=$4",
		"DELETE FROM options WHERE id=$1 AND question_id=$2",
		"INSERT INTO options (id, question_id, label, ordinal) VALUES ($1, $2, $3, $4)",
		"INSERT INTO questions (id, form_id, ordinal, text, type_id) VALUES ($1, $2, $3, $4, $5)",
		"INSERT INTO options (id, question_id, label, ordinal) VALUES ($1, $2, $3, $4)",
	}
	gotQueries := make([]string, 0, len(ex.calls))
	for _, call := range ex.calls {
		gotQueries = append(gotQueries, call.query)
	}
	if d := cmp.Diff(wantQueries, gotQueries); d != "" {
		t.Fatalf("statements mismatch (-want +got):\n%s", d)
	}

	if d := cmp.Diff([]any{1, "New", "q1", "f1"}, ex.calls[1].args); d != "" {
		t.Fatalf("update args mismatch (-want +got):\n%s", d)
	}
	if got := ex.calls[3].args[1]; got != "q1" {
		t.Fatalf("option under updated question parented to %v, want q1", got)
	}

	questionID, _ := ex.calls[4].args[0].(string)
	if !strings.HasPrefix(questionID, "q_") {
		t.Fatalf("new question id = %q, want q_ prefix", questionID)
	}
	if got := ex.calls[5].args[1]; got != questionID {
		t.Fatalf("option under new question parented to %v, want %s", got, questionID)
	}
}

func TestApplyRootBumpsVersion(t *testing.T) {
	ex := &fakeExecer{affected: 1}
	update := reconcile.Update{ID: "f1", Data: reconcile.Fields{"title": "Renamed"}}
	if err := applyRoot(context.Background(), ex, "f1", update); err != nil {
		t.Fatalf("applyRoot() error = %v", err)
	}
	want := execCall{
		query: "UPDATE forms SET title=$1, version=version+1, updated_at=NOW() WHERE id=$2",
		args:  []any{"Renamed", "f1"},
	}
	if d := cmp.Diff([]execCall{want}, ex.calls, cmp.AllowUnexported(execCall{})); d != "" {
		t.Fatalf("statements mismatch (-want +got):\n%s", d)
	}
}

func TestApplyOpsMissingRowIsConflict(t *testing.T) {
	ex := &fakeExecer{affected: 0}
	ops := reconcile.OperationSet{Delete: []reconcile.Ref{{ID: "q9"}}}
	err := applyOps(context.Background(), ex, questionsTable, "f1", ops)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("applyOps() error = %v, want ErrVersionConflict", err)
	}
}

func TestAssignmentsValidateFields(t *testing.T) {
	cases := []struct {
		name  string
		table *table
		data  reconcile.Fields
		ok    bool
	}{
		{name: "known fields", table: questionsTable, data: reconcile.Fields{"text": "A", "isRequired": true}, ok: true},
		{name: "null optional clears", table: questionsTable, data: reconcile.Fields{"description": nil}, ok: true},
		{name: "form ordinal dropped", table: formsTable, data: reconcile.Fields{"title": "A", "ordinal": 0}, ok: true},
		{name: "unknown field", table: optionsTable, data: reconcile.Fields{"colour": "red"}},
		{name: "null required", table: formsTable, data: reconcile.Fields{"title": nil}},
		{name: "wrong type", table: questionsTable, data: reconcile.Fields{"isRequired": "yes"}},
		{name: "fractional ordinal", table: optionsTable, data: reconcile.Fields{"ordinal": 1.5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.table.assignments(tc.data)
			if tc.ok && err != nil {
				t.Fatalf("assignments() error = %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidField) {
				t.Fatalf("assignments() error = %v, want ErrInvalidField", err)
			}
		})
	}

	values, err := formsTable.assignments(reconcile.Fields{"title": "A", "ordinal": 0, "description": nil})
	if err != nil {
		t.Fatalf("assignments() error = %v", err)
	}
	want := []assignment{{column: "description", value: ""}, {column: "title", value: "A"}}
	if d := cmp.Diff(want, values, cmp.AllowUnexported(assignment{})); d != "" {
		t.Fatalf("assignments mismatch (-want +got):\n%s", d)
	}
}
