package main

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/cleanova/cleanova/src/internal/config"
)

const (
	tokenCookie = "cleanova_token"
	stateCookie = "cleanova_oauth_state"
)

type AuthService struct {
	Config   oauth2.Config
	Enabled  bool
	verifier *oidc.IDTokenVerifier
	secure   bool
	logger   zerolog.Logger
}

func NewAuthService(ctx context.Context, cfg config.WebFrontendConfig, logger zerolog.Logger) *AuthService {
	if cfg.OIDC.ProviderURL == "" {
		logger.Warn().Msg("OIDC_PROVIDER not set, frontend auth disabled")
		return &AuthService{Enabled: false, logger: logger}
	}

	provider, err := oidc.NewProvider(ctx, cfg.OIDC.ProviderURL)
	if err != nil {
		logger.Error().Err(err).Str("provider", cfg.OIDC.ProviderURL).Msg("failed to init OIDC provider")
		return &AuthService{Enabled: false, logger: logger}
	}

	return &AuthService{
		Config: oauth2.Config{
			ClientID:     cfg.OIDC.ClientID,
			ClientSecret: cfg.OIDC.ClientSecret,
			RedirectURL:  cfg.OIDC.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		Enabled:  true,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.OIDC.ClientID}),
		secure:   cfg.SecureCookies,
		logger:   logger,
	}
}

func (s *AuthService) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.Enabled {
		http.Error(w, "Login unavailable", http.StatusServiceUnavailable)
		return
	}
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.Config.AuthCodeURL(state), http.StatusFound)
}

func (s *AuthService) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if !s.Enabled {
		http.Error(w, "Auth disabled", http.StatusBadRequest)
		return
	}

	state, err := r.Cookie(stateCookie)
	if err != nil || state.Value == "" || r.URL.Query().Get("state") != state.Value {
		http.Error(w, "State mismatch", http.StatusBadRequest)
		return
	}
	s.clearCookie(w, stateCookie)

	token, err := s.Config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		s.logger.Warn().Err(err).Msg("token exchange failed")
		http.Error(w, "Failed to exchange token", http.StatusBadGateway)
		return
	}

	if rawIDToken, ok := token.Extra("id_token").(string); ok && s.verifier != nil {
		if _, err := s.verifier.Verify(r.Context(), rawIDToken); err != nil {
			s.logger.Warn().Err(err).Msg("ID token verification failed")
			http.Error(w, "Invalid ID token", http.StatusUnauthorized)
			return
		}
	}

	cookie := &http.Cookie{
		Name:     tokenCookie,
		Value:    token.AccessToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
	cookie.MaxAge = tokenMaxAge(token.Expiry, time.Now())
	http.SetCookie(w, cookie)
	http.Redirect(w, r, "/", http.StatusFound)
}

// tokenMaxAge is the cookie lifetime for a token expiring at expiry. A zero
// expiry gives a session cookie; otherwise the result is at least 1, since a
// non-positive MaxAge deletes the cookie.
func tokenMaxAge(expiry, now time.Time) int {
	if expiry.IsZero() {
		return 0
	}
	secs := int(math.Ceil(expiry.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func (s *AuthService) HandleLogout(w http.ResponseWriter, r *http.Request) {
	s.clearCookie(w, tokenCookie)
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (s *AuthService) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
	})
}

// TokenMiddleware injects the Authorization header if the token cookie is
// present.
func (s *AuthService) TokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(tokenCookie); err == nil && cookie.Value != "" {
			r.Header.Set("Authorization", "Bearer "+cookie.Value)
		}
		next.ServeHTTP(w, r)
	})
}
