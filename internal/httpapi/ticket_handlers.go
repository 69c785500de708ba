package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/auth"
)

type createTicketRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type updateTicketStatusRequest struct {
	Status string `json:"status"`
}

func (a *API) handleTicketsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		claims, ok := a.requireAPI(w, r, auth.Authenticated())
		if !ok {
			return
		}
		// Agents see everything; everyone else sees their own tickets.
		author := claims.Subject
		if claims.HasPermission(auth.PermManageTickets) {
			author = ""
		}
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			val, err := strconv.Atoi(raw)
			if err != nil || val < 1 || val > 1000 {
				writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 1000")
				return
			}
			limit = val
		}
		items, err := a.tickets.List(r.Context(), author, limit)
		if err != nil {
			handleTicketError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		claims, ok := a.requireAPI(w, r, auth.Authenticated())
		if !ok {
			return
		}
		var req createTicketRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		ticket, err := a.tickets.Create(r.Context(), claims.Subject, req.Subject, req.Body)
		if err != nil {
			handleTicketError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), audit.TicketCreated, map[string]any{
			"ticket_id": ticket.ID,
		})
		w.Header().Set("Location", "/v1/tickets/"+ticket.ID)
		writeJSON(w, http.StatusCreated, ticket)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleTicketResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/tickets/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	ticketID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		claims, ok := a.requireAPI(w, r, auth.Authenticated())
		if !ok {
			return
		}
		ticket, err := a.tickets.Get(r.Context(), ticketID)
		if err != nil {
			handleTicketError(w, r, err)
			return
		}
		if ticket.AuthorID != claims.Subject && !claims.HasPermission(auth.PermManageTickets) {
			writeError(w, r, http.StatusForbidden, "insufficient privileges")
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodPut:
		claims, ok := a.requireAPI(w, r, auth.PermissionCapability(auth.PermManageTickets))
		if !ok {
			return
		}
		var req updateTicketStatusRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		ticket, err := a.tickets.UpdateStatus(r.Context(), ticketID, req.Status)
		if err != nil {
			handleTicketError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), audit.TicketStatusUpdated, map[string]any{
			"ticket_id": ticket.ID,
			"status":    ticket.Status,
			"actor":     claims.Subject,
		})
		writeJSON(w, http.StatusOK, ticket)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}
