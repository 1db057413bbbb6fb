package revisions

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"formsync/api/internal/store"
)

func sampleForm(title string) store.FormDetail {
	return store.FormDetail{
		Form: store.Form{ID: "form_1", OwnerID: "usr_1", Title: title, Version: 1, UpdatedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
		Questions: []store.Question{{
			ID: "q1", FormID: "form_1", Text: "Colour?", TypeID: "single_choice",
			Options: []store.Option{{ID: "o1", QuestionID: "q1", Label: "Red"}},
		}},
	}
}

func TestFormHistoryLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	first, err := svc.Record(sampleForm("Survey"), "Avery", "Create form")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if first.Hash == "" || first.ParentHash != "" {
		t.Fatalf("unexpected first revision: %+v", first)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "form_1", ".git")); err != nil {
		t.Fatalf("repo missing: %v", err)
	}

	second, err := svc.Record(sampleForm("Renamed survey"), "Avery Quinn", "Update form")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if second.ParentHash != first.Hash {
		t.Fatalf("parent = %q, want %q", second.ParentHash, first.Hash)
	}

	history, err := svc.History("form_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	got := []string{}
	for _, rev := range history {
		got = append(got, rev.Hash)
	}
	if d := cmp.Diff([]string{second.Hash, first.Hash}, got); d != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", d)
	}
	if history[0].Author != "Avery Quinn" {
		t.Fatalf("author = %q", history[0].Author)
	}

	limited, err := svc.History("form_1", 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("History(limit 1) = %+v, %v", limited, err)
	}

	snapshot, rev, err := svc.Snapshot("form_1", first.Hash)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if rev.Hash != first.Hash {
		t.Fatalf("snapshot revision = %q, want %q", rev.Hash, first.Hash)
	}
	if d := cmp.Diff(sampleForm("Survey"), snapshot); d != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", d)
	}
}

func TestRecordUnchangedFormReturnsHead(t *testing.T) {
	svc := New(t.TempDir())
	first, err := svc.Record(sampleForm("Survey"), "Avery", "Create form")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	again, err := svc.Record(sampleForm("Survey"), "Avery", "No-op")
	if err != nil {
		t.Fatalf("Record() unchanged error = %v", err)
	}
	if again.Hash != first.Hash {
		t.Fatalf("unchanged record created %s, want head %s", again.Hash, first.Hash)
	}
}

func TestUnknownFormsAndRevisions(t *testing.T) {
	svc := New(t.TempDir())

	history, err := svc.History("missing", 10)
	if err != nil || len(history) != 0 {
		t.Fatalf("History() on unknown form = %+v, %v", history, err)
	}
	if _, _, err := svc.Snapshot("missing", "abc1234"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Snapshot() unknown form error = %v, want ErrNotFound", err)
	}

	if _, err := svc.Record(sampleForm("Survey"), "Avery", "Create form"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if _, _, err := svc.Snapshot("form_1", "0000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Snapshot() unknown hash error = %v, want ErrNotFound", err)
	}

	if err := svc.Remove("form_1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	history, err = svc.History("form_1", 0)
	if err != nil || len(history) != 0 {
		t.Fatalf("History() after remove = %+v, %v", history, err)
	}
}

func TestConcurrentRecordsSerializePerForm(t *testing.T) {
	svc := New(t.TempDir())
	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			form := sampleForm("Survey")
			form.Version = i + 1
			if _, err := svc.Record(form, "Avery", "Update form"); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Record() error = %v", err)
	}

	history, err := svc.History("form_1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("history length = %d, want 5", len(history))
	}
}

func TestSanitizeEmail(t *testing.T) {
	cases := map[string]string{
		"Avery Quinn": "Avery.Quinn",
		"o'neil_x":    "oneil.x",
		"!!!":         "user",
	}
	for in, want := range cases {
		if got := sanitizeEmail(in); got != want {
			t.Fatalf("sanitizeEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
