package httpapi

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"opsdesk.org/internal/auth"
	"opsdesk.org/internal/obs"
)

const (
	sessionCookie = "session"
	authHeader    = "Authorization"
	bearer        = "Bearer "
)

// withAuthn extracts and verifies the session token from the cookie or
// the Authorization header and attaches the claims to the context. It
// never fails the request; the guards decide what an absent or invalid
// session means for each route.
func (a *API) withAuthn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := a.codec.Parse(token)
		if err != nil {
			// Expired or tampered tokens are treated as anonymous.
			next.ServeHTTP(w, r)
			return
		}
		ctx := auth.ContextWithClaims(r.Context(), claims)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}

// requireAPI guards a JSON endpoint: the deny flavor is a status code.
// Returns the claims when access is allowed.
func (a *API) requireAPI(w http.ResponseWriter, r *http.Request, capability auth.Capability) (*auth.SessionClaims, bool) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	decision := auth.Decide(claims, capability)
	switch decision {
	case auth.Allow:
		return claims, true
	case auth.DenyUnauthenticated:
		obs.ObserveGuardDenial("api", decision.String())
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return nil, false
	default:
		obs.ObserveGuardDenial("api", decision.String())
		writeError(w, r, http.StatusForbidden, "insufficient privileges")
		return nil, false
	}
}

// requirePage guards a browser page: the deny flavor is a redirect, to
// the sign-in form with a callback, or to the denied page.
func (a *API) requirePage(w http.ResponseWriter, r *http.Request, capability auth.Capability) (*auth.SessionClaims, bool) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	decision := auth.Decide(claims, capability)
	switch decision {
	case auth.Allow:
		return claims, true
	case auth.DenyUnauthenticated:
		obs.ObserveGuardDenial("page", decision.String())
		target := "/signin?callback=" + url.QueryEscape(r.URL.RequestURI())
		http.Redirect(w, r, target, http.StatusSeeOther)
		return nil, false
	default:
		obs.ObserveGuardDenial("page", decision.String())
		http.Redirect(w, r, "/denied", http.StatusSeeOther)
		return nil, false
	}
}

func (a *API) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
