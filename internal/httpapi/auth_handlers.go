package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/auth"
	"opsdesk.org/internal/obs"
)

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expires_at"`
	User      sessionUserPayload `json:"user"`
}

type sessionUserPayload struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type refreshRequest struct {
	DisplayName          *string `json:"display_name"`
	Email                *string `json:"email"`
	RefreshAuthorization bool    `json:"refresh_authorization"`
}

func sessionPayload(s auth.Session) sessionResponse {
	return sessionResponse{
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
		User: sessionUserPayload{
			ID:          s.Claims.Subject,
			Email:       s.Claims.Email,
			DisplayName: s.Claims.DisplayName,
			Roles:       s.Claims.Roles,
			Permissions: s.Claims.Permissions,
		},
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, verifyToken, err := a.issuer.Register(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.UserRegistered, map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
	})
	// The verification token is returned in the response body; a mail
	// sender is the deployment's concern.
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":               user,
		"verification_token": verifyToken,
	})
}

func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.issuer.VerifyEmail(r.Context(), req.Token); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "verified"})
}

func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	session, err := a.issuer.SignInWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		outcome := "failure"
		if errors.Is(err, auth.ErrEmailNotVerified) {
			outcome = "unverified"
		}
		obs.ObserveSignIn("password", outcome)
		handleAuthError(w, r, err)
		return
	}
	obs.ObserveSignIn("password", "success")
	_ = audit.LogEvent(r.Context(), audit.SessionIssued, map[string]any{
		"user_id": session.Claims.Subject,
		"method":  "password",
	})
	a.setSessionCookie(w, session.Token, session.ExpiresAt)
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (a *API) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	claims, ok := a.requireAPI(w, r, auth.Authenticated())
	if !ok {
		return
	}
	if err := a.issuer.SignOut(r.Context(), claims.Subject); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.SessionRevoked, map[string]any{
		"user_id": claims.Subject,
	})
	a.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "signed_out"})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	session, err := a.issuer.Refresh(r.Context(), token, auth.ClaimsPatch{
		DisplayName:          req.DisplayName,
		Email:                req.Email,
		RefreshAuthorization: req.RefreshAuthorization,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.setSessionCookie(w, session.Token, session.ExpiresAt)
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

// --- federated sign-in ---

const (
	oauthStateCookie = "oauth_state"
	oauthNonceCookie = "oauth_nonce"
	oauthCookieTTL   = 10 * time.Minute
)

func (a *API) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	authURL, state, nonce, err := a.oauth.Begin()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "federated sign-in unavailable")
		return
	}
	a.setFlowCookie(w, oauthStateCookie, state)
	a.setFlowCookie(w, oauthNonceCookie, nonce)
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (a *API) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != q.Get("state") {
		writeError(w, r, http.StatusBadRequest, "state mismatch")
		return
	}
	nonce := ""
	if c, err := r.Cookie(oauthNonceCookie); err == nil {
		nonce = c.Value
	}
	a.clearFlowCookie(w, oauthStateCookie)
	a.clearFlowCookie(w, oauthNonceCookie)

	ident, err := a.oauth.Exchange(r.Context(), q.Get("code"), nonce)
	if err != nil {
		obs.ObserveSignIn("federated", "failure")
		writeError(w, r, http.StatusBadGateway, "provider exchange failed")
		return
	}
	session, err := a.issuer.SignInFederated(r.Context(), ident)
	if err != nil {
		obs.ObserveSignIn("federated", "failure")
		handleAuthError(w, r, err)
		return
	}
	obs.ObserveSignIn("federated", "success")
	_ = audit.LogEvent(r.Context(), audit.SessionIssued, map[string]any{
		"user_id":  session.Claims.Subject,
		"method":   "federated",
		"provider": ident.Provider,
	})
	a.setSessionCookie(w, session.Token, session.ExpiresAt)

	target := "/app/"
	if cb := q.Get("callback"); cb != "" && strings.HasPrefix(cb, "/") && !strings.HasPrefix(cb, "//") {
		target = cb
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (a *API) setFlowCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/v1/auth/oauth",
		Expires:  time.Now().Add(oauthCookieTTL),
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearFlowCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/v1/auth/oauth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// --- pages ---

func (a *API) pageSignIn(w http.ResponseWriter, r *http.Request) {
	callback := r.URL.Query().Get("callback")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("<!doctype html><title>Sign in</title><h1>Sign in</h1><p>callback=" +
		htmlEscape(callback) + "</p>"))
}

func (a *API) pageDenied(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte("<!doctype html><title>Access denied</title><h1>Access denied</h1>"))
}

func htmlEscape(s string) string {
	return strings.NewReplacer("<", "&lt;", ">", "&gt;", "&", "&amp;", `"`, "&quot;").Replace(s)
}
