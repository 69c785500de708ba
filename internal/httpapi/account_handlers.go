package httpapi

import (
	"net/http"
	"strings"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/auth"
)

type profileUpdateRequest struct {
	DisplayName *string `json:"display_name"`
	Email       *string `json:"email"`
	Password    *string `json:"password"`
}

// handleMe serves the authenticated user's own account.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := a.requireAPI(w, r, auth.Authenticated())
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		user, err := a.store.GetUser(r.Context(), claims.Subject)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user":        user,
			"roles":       claims.Roles,
			"permissions": claims.Permissions,
		})
	case http.MethodPatch:
		a.updateProfile(w, r, claims)
	case http.MethodDelete:
		a.clearSessionCookie(w)
		a.deleteAccount(w, r, claims.Subject, claims.Subject)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

// updateProfile writes the directory row only. The session token keeps
// the old name and email until the client calls the refresh endpoint.
func (a *API) updateProfile(w http.ResponseWriter, r *http.Request, claims *auth.SessionClaims) {
	var req profileUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	upd := auth.ProfileUpdate{
		DisplayName: req.DisplayName,
		Email:       req.Email,
	}
	if req.Email != nil && !strings.Contains(*req.Email, "@") {
		writeError(w, r, http.StatusBadRequest, "valid email is required")
		return
	}
	if req.Password != nil {
		if strings.TrimSpace(*req.Password) == "" {
			writeError(w, r, http.StatusBadRequest, "password must not be empty")
			return
		}
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		upd.Password = &hash
	}
	user, err := a.store.UpdateUser(r.Context(), claims.Subject, upd)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.ProfileUpdated, map[string]any{
		"user_id": user.ID,
	})
	writeJSON(w, http.StatusOK, user)
}

// handleUserAccount serves administrative access to another account.
func (a *API) handleUserAccount(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.requireAPI(w, r, auth.PermissionCapability(auth.PermManageUsers)); !ok {
			return
		}
		user, err := a.store.GetUser(r.Context(), userID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		claims, ok := a.requireAPI(w, r, auth.PermissionCapability(auth.PermDeleteAccounts))
		if !ok {
			return
		}
		a.deleteAccount(w, r, userID, claims.Subject)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

// deleteAccount runs the cascade and revokes every session of the user.
// The cascade itself is one store transaction.
func (a *API) deleteAccount(w http.ResponseWriter, r *http.Request, userID, actor string) {
	if err := a.store.DeleteAccount(r.Context(), userID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.AccountDeleted, map[string]any{
		"user_id": userID,
		"actor":   actor,
	})
	w.WriteHeader(http.StatusNoContent)
}
