package app

import (
	"net/http"

	"github.com/charmbracelet/log"

	"formsync/api/internal/rbac"
)

// allow gates a route on the session's role before any form is loaded.
// Ownership is checked later by the service.
func (s *HTTPServer) allow(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) bool {
	if s.service.Can(session.Role, action) {
		return true
	}
	s.forbid(w, r, session, action)
	return false
}

// forbid writes a 403 and logs the denial.
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) {
	log.Warn("access denied",
		"user", session.UserID,
		"role", session.Role,
		"action", action,
		"method", r.Method,
		"path", r.URL.Path,
	)
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}
