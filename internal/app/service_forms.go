package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"

	"formsync/api/internal/cache"
	"formsync/api/internal/export"
	"formsync/api/internal/rbac"
	"formsync/api/internal/reconcile"
	"formsync/api/internal/revisions"
	"formsync/api/internal/search"
	"formsync/api/internal/store"
)

// FormPlan is the outcome of reconciling a submitted form against the stored
// one, before anything is written.
type FormPlan struct {
	FormID  string           `json:"formId"`
	Version int              `json:"version"`
	Empty   bool             `json:"empty"`
	Stats   reconcile.Stats  `json:"stats"`
	Changes reconcile.Update `json:"changes"`
}

type SaveResult struct {
	Form     store.FormDetail    `json:"form"`
	Stats    reconcile.Stats     `json:"stats"`
	Revision *revisions.Revision `json:"revision,omitempty"`
}

// RevisionDetail is a stored snapshot plus what it changed relative to its
// parent. The first revision of a form reports every node as created.
type RevisionDetail struct {
	Revision revisions.Revision `json:"revision"`
	Form     store.FormDetail   `json:"form"`
	Stats    reconcile.Stats    `json:"stats"`
	Changes  *reconcile.Update  `json:"changes,omitempty"`
}

func (s *Service) ListForms(ctx context.Context, session Session) ([]store.Form, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, forbidden()
	}
	return s.store.ListForms(ctx, session.UserID)
}

func (s *Service) GetForm(ctx context.Context, session Session, formID string) (store.FormDetail, error) {
	detail, err := s.loadForm(ctx, formID)
	if err != nil {
		return store.FormDetail{}, err
	}
	if err := s.authorizeRead(session, detail.Form, rbac.ActionRead); err != nil {
		return store.FormDetail{}, err
	}
	return detail, nil
}

// loadForm reads through the cache. Writes always read the database.
func (s *Service) loadForm(ctx context.Context, formID string) (store.FormDetail, error) {
	if s.cache != nil {
		detail, err := s.cache.GetForm(ctx, formID)
		if err == nil {
			return detail, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			log.Warn("read form cache", "form", formID, "err", err)
		}
	}

	detail, err := s.store.GetFormDetail(ctx, formID)
	if err != nil {
		return store.FormDetail{}, err
	}
	if s.cache != nil {
		if err := s.cache.SetForm(ctx, detail); err != nil {
			log.Warn("fill form cache", "form", formID, "err", err)
		}
	}
	return detail, nil
}

// decodeSubmission parses a form document. The optional top-level version
// is the client's optimistic lock.
func decodeSubmission(body []byte) (reconcile.Node, *int, error) {
	var envelope struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return reconcile.Node{}, nil, domainError(http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
	}
	tree, err := reconcile.DecodeTreeBytes(body, store.FormSchema)
	if err != nil {
		return reconcile.Node{}, nil, err
	}
	return tree, envelope.Version, nil
}

func (s *Service) CreateForm(ctx context.Context, session Session, body []byte) (SaveResult, error) {
	if !s.Can(session.Role, rbac.ActionWrite) {
		return SaveResult{}, forbidden()
	}
	tree, _, err := decodeSubmission(body)
	if err != nil {
		return SaveResult{}, err
	}
	entity, err := reconcile.Create(tree, store.FormSchema)
	if err != nil {
		return SaveResult{}, err
	}
	if err := s.authorizePublish(session, entity.Data); err != nil {
		return SaveResult{}, err
	}

	formID, err := s.store.CreateForm(ctx, session.UserID, entity)
	if err != nil {
		return SaveResult{}, err
	}
	detail, err := s.store.GetFormDetail(ctx, formID)
	if err != nil {
		return SaveResult{}, err
	}

	stats := reconcile.OperationSet{Create: []reconcile.Entity{entity}}.Stats()
	log.Info("form created", "form", formID, "owner", session.UserID, "questions", len(detail.Questions))
	return SaveResult{
		Form:     detail,
		Stats:    stats,
		Revision: s.afterWrite(ctx, detail, session.UserName, "Create form"),
	}, nil
}

// PlanFormUpdate reconciles body against the stored form without writing.
func (s *Service) PlanFormUpdate(ctx context.Context, session Session, formID string, body []byte) (FormPlan, error) {
	plan, _, err := s.plan(ctx, session, formID, body)
	return plan, err
}

func (s *Service) plan(ctx context.Context, session Session, formID string, body []byte) (FormPlan, store.FormDetail, error) {
	tree, version, err := decodeSubmission(body)
	if err != nil {
		return FormPlan{}, store.FormDetail{}, err
	}
	current, err := s.store.GetFormDetail(ctx, formID)
	if err != nil {
		return FormPlan{}, store.FormDetail{}, err
	}
	if err := s.authorizeWrite(session, current.Form); err != nil {
		return FormPlan{}, store.FormDetail{}, err
	}
	if version != nil && *version != current.Version {
		return FormPlan{}, store.FormDetail{}, store.ErrVersionConflict
	}

	stored, err := store.FormTree(current)
	if err != nil {
		return FormPlan{}, store.FormDetail{}, err
	}
	update, err := reconcile.Reconcile(tree, stored, store.FormSchema)
	if err != nil {
		return FormPlan{}, store.FormDetail{}, err
	}
	if err := s.authorizePublish(session, update.Data); err != nil {
		return FormPlan{}, store.FormDetail{}, err
	}

	return FormPlan{
		FormID:  formID,
		Version: current.Version,
		Empty:   update.Empty(),
		Stats:   update.Stats(),
		Changes: update,
	}, current, nil
}

// UpdateForm reconciles body against the stored form and applies the
// difference under the version that was read.
func (s *Service) UpdateForm(ctx context.Context, session Session, formID string, body []byte) (SaveResult, error) {
	plan, current, err := s.plan(ctx, session, formID, body)
	if err != nil {
		return SaveResult{}, err
	}
	if plan.Empty {
		return SaveResult{Form: current, Stats: plan.Stats}, nil
	}

	version, err := s.store.ApplyFormUpdate(ctx, formID, plan.Version, plan.Changes)
	if err != nil {
		return SaveResult{}, err
	}
	detail, err := s.store.GetFormDetail(ctx, formID)
	if err != nil {
		return SaveResult{}, err
	}

	log.Info("form updated", "form", formID, "version", version,
		"creates", plan.Stats.Creates, "updates", plan.Stats.Updates, "deletes", plan.Stats.Deletes)
	message := fmt.Sprintf("Update form: %d created, %d updated, %d deleted",
		plan.Stats.Creates, plan.Stats.Updates, plan.Stats.Deletes)
	return SaveResult{
		Form:     detail,
		Stats:    plan.Stats,
		Revision: s.afterWrite(ctx, detail, session.UserName, message),
	}, nil
}

// afterWrite refreshes the cache, the search index and the revision history.
// None of them can fail the write.
func (s *Service) afterWrite(ctx context.Context, detail store.FormDetail, author, message string) *revisions.Revision {
	if s.cache != nil {
		if err := s.cache.InvalidateForm(ctx, detail.ID); err != nil {
			log.Warn("invalidate form cache", "form", detail.ID, "err", err)
		}
	}
	if s.search != nil {
		s.search.IndexForm(detail)
	}
	if s.revisions == nil {
		return nil
	}
	rev, err := s.revisions.Record(detail, author, message)
	if err != nil {
		log.Warn("record revision", "form", detail.ID, "err", err)
		return nil
	}
	return &rev
}

func (s *Service) DeleteForm(ctx context.Context, session Session, formID string) error {
	form, err := s.store.GetForm(ctx, formID)
	if err != nil {
		return err
	}
	if err := s.authorizeWrite(session, form); err != nil {
		return err
	}
	if err := s.store.DeleteForm(ctx, formID); err != nil {
		return err
	}
	log.Info("form deleted", "form", formID, "by", session.UserID)

	if s.cache != nil {
		if err := s.cache.InvalidateForm(ctx, formID); err != nil {
			log.Warn("invalidate form cache", "form", formID, "err", err)
		}
	}
	if s.search != nil {
		s.search.DeleteForm(formID)
	}
	if s.revisions != nil {
		if err := s.revisions.Remove(formID); err != nil {
			log.Warn("remove revisions", "form", formID, "err", err)
		}
	}
	return nil
}

func (s *Service) Revisions(ctx context.Context, session Session, formID string, limit int) ([]revisions.Revision, error) {
	form, err := s.store.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(session, form, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.revisions == nil {
		return []revisions.Revision{}, nil
	}
	return s.revisions.History(formID, limit)
}

func (s *Service) Revision(ctx context.Context, session Session, formID, hash string) (RevisionDetail, error) {
	form, err := s.store.GetForm(ctx, formID)
	if err != nil {
		return RevisionDetail{}, err
	}
	if err := s.authorizeRead(session, form, rbac.ActionRead); err != nil {
		return RevisionDetail{}, err
	}
	if s.revisions == nil {
		return RevisionDetail{}, revisions.ErrNotFound
	}

	snapshot, rev, err := s.revisions.Snapshot(formID, hash)
	if err != nil {
		return RevisionDetail{}, err
	}
	tree, err := store.FormTree(snapshot)
	if err != nil {
		return RevisionDetail{}, err
	}
	result := RevisionDetail{Revision: rev, Form: snapshot}

	if rev.ParentHash == "" {
		result.Stats = reconcile.Stats{Creates: countNodes(tree)}
		return result, nil
	}

	parent, _, err := s.revisions.Snapshot(formID, rev.ParentHash)
	if err != nil {
		return RevisionDetail{}, err
	}
	parentTree, err := store.FormTree(parent)
	if err != nil {
		return RevisionDetail{}, err
	}
	update, err := reconcile.Reconcile(tree, parentTree, store.FormSchema)
	if err != nil {
		return RevisionDetail{}, err
	}
	result.Changes = &update
	result.Stats = update.Stats()
	return result, nil
}

func countNodes(n reconcile.Node) int {
	total := 1
	for _, child := range n.Children {
		total += countNodes(child)
	}
	return total
}

func (s *Service) Export(ctx context.Context, session Session, formID, format string) (*export.Result, error) {
	parsed, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	detail, err := s.loadForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(session, detail.Form, rbac.ActionExport); err != nil {
		return nil, err
	}

	owner := ""
	if user, err := s.store.GetUserByID(ctx, detail.OwnerID); err == nil {
		owner = user.DisplayName
	}
	return s.exporter.Export(ctx, detail, owner, parsed)
}

// Search looks through the caller's own forms; admins search everything.
func (s *Service) Search(ctx context.Context, session Session, text string, limit, offset int) search.Response {
	text = strings.TrimSpace(text)
	if s.search == nil || text == "" {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	q := search.Query{Text: text, OwnerID: session.UserID, Limit: limit, Offset: offset}
	if s.Can(session.Role, rbac.ActionAdmin) {
		q.OwnerID = ""
	}
	return s.search.Search(ctx, q)
}
