package app

import (
	"net/http"

	"formsync/api/internal/rbac"
	"formsync/api/internal/store"
)

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func forbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

// visible reports whether the session may see form at all. Published forms
// are readable by anyone who can read; drafts only by their owner and admins.
func (s *Service) visible(session Session, form store.Form) bool {
	if !s.Can(session.Role, rbac.ActionRead) {
		return false
	}
	if form.OwnerID == session.UserID || form.IsPublished {
		return true
	}
	return s.Can(session.Role, rbac.ActionAdmin)
}

// authorizeRead hides forms the session cannot see behind a 404.
func (s *Service) authorizeRead(session Session, form store.Form, action rbac.Action) error {
	if !s.visible(session, form) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	if !s.Can(session.Role, action) {
		return forbidden()
	}
	return nil
}

// authorizeWrite lets owners with write permission and admins change a form.
func (s *Service) authorizeWrite(session Session, form store.Form) error {
	if err := s.authorizeRead(session, form, rbac.ActionRead); err != nil {
		return err
	}
	if form.OwnerID == session.UserID && s.Can(session.Role, rbac.ActionWrite) {
		return nil
	}
	if s.Can(session.Role, rbac.ActionAdmin) {
		return nil
	}
	return forbidden()
}

// authorizePublish guards changes to isPublished.
func (s *Service) authorizePublish(session Session, data map[string]any) error {
	if _, touched := data["isPublished"]; !touched {
		return nil
	}
	if !s.Can(session.Role, rbac.ActionPublish) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Publishing requires the publish permission", nil)
	}
	return nil
}
