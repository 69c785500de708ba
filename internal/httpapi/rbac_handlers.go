package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/auth"
)

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type setRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

type replaceRolesRequest struct {
	Roles []string `json:"roles"`
}

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.requireAPI(w, r, auth.PermissionCapability(auth.PermManageRoles)); !ok {
			return
		}
		roles, err := a.store.ListRoles(r.Context())
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": roles})
	case http.MethodPost:
		claims, ok := a.requireAPI(w, r, auth.PermissionCapability(auth.PermManageRoles))
		if !ok {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeError(w, r, http.StatusBadRequest, "name is required")
			return
		}
		role, err := a.store.CreateRole(r.Context(), req.Name, req.Description)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), audit.RoleCreated, map[string]any{
			"role":  role.Name,
			"actor": claims.Subject,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.Name))
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	roleName := parts[0]

	switch {
	case len(parts) == 1:
		a.handleRole(w, r, roleName)
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleRolePermissions(w, r, roleName)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRole(w http.ResponseWriter, r *http.Request, roleName string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.requireAPI(w, r, auth.PermissionCapability(auth.PermManageRoles)); !ok {
			return
		}
		role, err := a.store.RoleByName(r.Context(), roleName)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodDelete:
		claims, ok := a.requireAPI(w, r, auth.PermissionCapability(auth.PermManageRoles))
		if !ok {
			return
		}
		if err := a.mutator.DeleteRole(r.Context(), roleName); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), audit.RoleDeleted, map[string]any{
			"role":  roleName,
			"actor": claims.Subject,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request, roleName string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.requireAPI(w, r, auth.PermissionCapability(auth.PermManageRoles)); !ok {
			return
		}
		role, err := a.store.RoleByName(r.Context(), roleName)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		perms, err := a.store.RolePermissions(r.Context(), role.ID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": perms})
	case http.MethodPut:
		claims, ok := a.requireAPI(w, r, auth.PermissionCapability(auth.PermManagePermissions))
		if !ok {
			return
		}
		var req setRolePermissionsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.store.RoleByName(r.Context(), roleName)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		if err := a.store.SetRolePermissions(r.Context(), role.ID, req.Permissions); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), audit.RolePermissionsUpdated, map[string]any{
			"role":  roleName,
			"count": len(req.Permissions),
			"actor": claims.Subject,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handlePermissionsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireAPI(w, r, auth.PermissionCapability(auth.PermManagePermissions)); !ok {
		return
	}
	perms, err := a.store.ListPermissions(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": perms})
}

func (a *API) handlePermissionResource(w http.ResponseWriter, r *http.Request) {
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/permissions/"), "/")
	if name == "" || strings.Contains(name, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	claims, ok := a.requireAPI(w, r, auth.PermissionCapability(auth.PermManagePermissions))
	if !ok {
		return
	}
	if err := a.mutator.DeletePermission(r.Context(), name); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.PermissionDeleted, map[string]any{
		"permission": name,
		"actor":      claims.Subject,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	userID := parts[0]

	switch {
	case len(parts) == 1:
		a.handleUserAccount(w, r, userID)
	case len(parts) == 2 && parts[1] == "roles":
		a.handleUserRoles(w, r, userID)
	case len(parts) == 3 && parts[1] == "roles":
		a.handleUserRole(w, r, userID, parts[2])
	case len(parts) == 2 && parts[1] == "history":
		a.handleUserHistory(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.requireAPI(w, r, auth.PermissionCapability(auth.PermManageUsers)); !ok {
			return
		}
		roles := a.resolver.Roles(r.Context(), userID)
		writeJSON(w, http.StatusOK, map[string]any{"items": roles})
	case http.MethodPost:
		claims, ok := a.requireAPI(w, r, auth.PermissionCapability(auth.PermManageUsers))
		if !ok {
			return
		}
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.mutator.AssignRole(r.Context(), userID, req.Role, claims.Subject); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), audit.RoleAssigned, map[string]any{
			"user_id": userID,
			"role":    req.Role,
			"actor":   claims.Subject,
		})
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPut:
		claims, ok := a.requireAPI(w, r, auth.PermissionCapability(auth.PermManageUsers))
		if !ok {
			return
		}
		var req replaceRolesRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.mutator.ReplaceRoles(r.Context(), userID, req.Roles, claims.Subject); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), audit.RolesReplaced, map[string]any{
			"user_id": userID,
			"count":   len(req.Roles),
			"actor":   claims.Subject,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodPut)
	}
}

func (a *API) handleUserRole(w http.ResponseWriter, r *http.Request, userID, roleName string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	claims, ok := a.requireAPI(w, r, auth.PermissionCapability(auth.PermManageUsers))
	if !ok {
		return
	}
	if err := a.mutator.RemoveRole(r.Context(), userID, roleName, claims.Subject); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.RoleRemoved, map[string]any{
		"user_id": userID,
		"role":    roleName,
		"actor":   claims.Subject,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserHistory(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireAPI(w, r, auth.PermissionCapability(auth.PermReadAuditLog)); !ok {
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 1 || val > 1000 {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = val
	}
	entries, err := a.store.ListHistory(r.Context(), userID, limit)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}
