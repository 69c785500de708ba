// Package oidc adapts an OpenID Connect provider to the federated
// sign-in flow. It wraps coreos/go-oidc for discovery and id_token
// verification and x/oauth2 for the code exchange.
package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"opsdesk.org/internal/auth"
)

// Config holds the settings for one upstream provider.
type Config struct {
	Name         string // short provider name stored on the user row, e.g. "google"
	ClientID     string
	ClientSecret string
	RedirectURL  string
	IssuerURL    string
	Scopes       []string
	HTTPClient   *http.Client // optional
}

// Provider performs the authorization-code flow against one issuer.
type Provider struct {
	name     string
	config   *oauth2.Config
	verifier *gooidc.IDTokenVerifier
	upstream *gooidc.Provider
}

// NewProvider runs discovery once and builds the verifier.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		return nil, errors.New("oidc: provider name is required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("oidc: client credentials are required")
	}
	if cfg.RedirectURL == "" {
		return nil, errors.New("oidc: redirect URL is required")
	}
	if cfg.IssuerURL == "" {
		return nil, errors.New("oidc: issuer URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	issuer := strings.TrimSuffix(cfg.IssuerURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	upstream, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{gooidc.ScopeOpenID, "profile", "email"}
	}

	return &Provider{
		name:     cfg.Name,
		upstream: upstream,
		verifier: upstream.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     upstream.Endpoint(),
		},
	}, nil
}

// Name returns the short provider name.
func (p *Provider) Name() string { return p.name }

// Begin returns the authorization URL plus the state and nonce the
// caller must pin in cookies for the callback leg.
func (p *Provider) Begin() (authURL, state, nonce string, err error) {
	state, err = randomString(32)
	if err != nil {
		return "", "", "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err = randomString(32)
	if err != nil {
		return "", "", "", fmt.Errorf("generate nonce: %w", err)
	}
	authURL = p.config.AuthCodeURL(state, oauth2.SetAuthURLParam("nonce", nonce))
	return authURL, state, nonce, nil
}

// Exchange redeems the authorization code, verifies the id_token and
// its nonce, and maps the claims to a federated identity.
func (p *Provider) Exchange(ctx context.Context, code, nonce string) (auth.FederatedIdentity, error) {
	if code == "" {
		return auth.FederatedIdentity{}, errors.New("oidc: authorization code is required")
	}

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return auth.FederatedIdentity{}, fmt.Errorf("exchange code: %w", err)
	}

	rawID, ok := token.Extra("id_token").(string)
	if !ok || rawID == "" {
		return auth.FederatedIdentity{}, errors.New("oidc: token response missing id_token")
	}
	idToken, err := p.verifier.Verify(ctx, rawID)
	if err != nil {
		return auth.FederatedIdentity{}, fmt.Errorf("verify id_token: %w", err)
	}

	var claims struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Nonce         string `json:"nonce"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return auth.FederatedIdentity{}, fmt.Errorf("decode id_token claims: %w", err)
	}
	if nonce != "" && claims.Nonce != nonce {
		return auth.FederatedIdentity{}, errors.New("oidc: nonce mismatch")
	}
	if claims.Sub == "" {
		return auth.FederatedIdentity{}, errors.New("oidc: id_token missing subject")
	}

	identity := auth.FederatedIdentity{
		Provider:     p.name,
		ProviderID:   claims.Sub,
		Email:        strings.ToLower(strings.TrimSpace(claims.Email)),
		DisplayName:  claims.Name,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}

	// Some issuers omit profile claims from the id_token; fall back to
	// the userinfo endpoint for the gaps.
	if identity.Email == "" || identity.DisplayName == "" {
		if err := p.fillFromUserInfo(ctx, token, &identity); err != nil {
			return auth.FederatedIdentity{}, err
		}
	}
	if identity.Email == "" {
		return auth.FederatedIdentity{}, errors.New("oidc: provider did not supply an email")
	}
	return identity, nil
}

func (p *Provider) fillFromUserInfo(ctx context.Context, token *oauth2.Token, identity *auth.FederatedIdentity) error {
	ui, err := p.upstream.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return fmt.Errorf("fetch userinfo: %w", err)
	}
	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := ui.Claims(&claims); err != nil {
		return fmt.Errorf("decode userinfo: %w", err)
	}
	if identity.Email == "" {
		identity.Email = strings.ToLower(strings.TrimSpace(claims.Email))
	}
	if identity.DisplayName == "" {
		identity.DisplayName = claims.Name
	}
	return nil
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:n], nil
}
