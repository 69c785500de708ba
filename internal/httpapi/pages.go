package httpapi

import (
	"net/http"

	"opsdesk.org/internal/auth"
)

// handleAppPages guards the browser-facing section. The same decision
// core drives these as the JSON guards; only the deny flavor differs.
func (a *API) handleAppPages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	switch r.URL.Path {
	case "/app/", "/app/tickets":
		claims, ok := a.requirePage(w, r, auth.Authenticated())
		if !ok {
			return
		}
		writePage(w, "Opsdesk", "Signed in as "+claims.Email)
	case "/app/admin":
		claims, ok := a.requirePage(w, r, auth.RoleCapability(auth.RoleAdmin))
		if !ok {
			return
		}
		writePage(w, "Administration", "Welcome, "+claims.DisplayName)
	case "/app/audit":
		_, ok := a.requirePage(w, r, auth.PermissionCapability(auth.PermReadAuditLog))
		if !ok {
			return
		}
		writePage(w, "Audit log", "Role assignment history")
	default:
		http.NotFound(w, r)
	}
}

func writePage(w http.ResponseWriter, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("<!doctype html><title>" + htmlEscape(title) + "</title><h1>" +
		htmlEscape(title) + "</h1><p>" + htmlEscape(body) + "</p>"))
}
