// Package auth verifies bearer tokens and provisions the users behind them.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog"

	"github.com/cleanova/cleanova/src/internal/config"
	"github.com/cleanova/cleanova/src/internal/domain"
	"github.com/cleanova/cleanova/src/internal/logging"
	"github.com/cleanova/cleanova/src/internal/services"
)

// VerifiedToken is what a TokenVerifier extracts from a valid token.
type VerifiedToken struct {
	Claims services.Claims
	Expiry time.Time
}

type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (VerifiedToken, error)
}

// OIDCVerifier checks access tokens against the provider's keys.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(ctx context.Context, cfg config.OIDCConfig) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, cfg.ProviderURL)
	if err != nil {
		return nil, fmt.Errorf("query OIDC provider %s: %w", cfg.ProviderURL, err)
	}
	// Access tokens carry the API as audience, not the client ID.
	verifier := provider.Verifier(&oidc.Config{
		ClientID:          cfg.ClientID,
		SkipClientIDCheck: true,
	})
	return &OIDCVerifier{verifier: verifier}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (VerifiedToken, error) {
	tok, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return VerifiedToken{}, err
	}
	var claims struct {
		Sub               string `json:"sub"`
		Email             string `json:"email"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := tok.Claims(&claims); err != nil {
		return VerifiedToken{}, fmt.Errorf("decode claims: %w", err)
	}
	return VerifiedToken{
		Claims: services.Claims{
			Subject:           claims.Sub,
			Email:             claims.Email,
			PreferredUsername: claims.PreferredUsername,
		},
		Expiry: tok.Expiry,
	}, nil
}

// Principal is the authenticated user of a request.
type Principal struct {
	User   *domain.User
	Caller services.Caller
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.User != nil
}

// GetUserID returns the authenticated user ID or "".
func GetUserID(ctx context.Context) string {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return ""
	}
	return p.User.ID
}

type Middleware struct {
	verifier TokenVerifier
	accounts *services.AccountService
	logger   zerolog.Logger
}

// NewMiddleware builds the auth middleware. A nil verifier fails every
// request closed.
func NewMiddleware(verifier TokenVerifier, accounts *services.AccountService, logger zerolog.Logger) *Middleware {
	return &Middleware{verifier: verifier, accounts: accounts, logger: logger}
}

func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := logging.WithContext(ctx, m.logger)

		if m.verifier == nil {
			writeError(w, http.StatusServiceUnavailable, "auth_unavailable", "OIDC not configured on server")
			return
		}

		raw, err := bearerToken(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}

		tok, err := m.verifier.Verify(ctx, raw)
		if err != nil {
			log.Debug().Err(err).Msg("token verification failed")
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		if tok.Claims.Subject == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "token has no subject")
			return
		}

		user, err := m.accounts.Provision(ctx, tok.Claims)
		if err != nil {
			log.Error().Err(err).Str("user_id", tok.Claims.Subject).Msg("user provisioning failed")
			writeError(w, http.StatusInternalServerError, "provisioning_failed", "user provisioning failed")
			return
		}

		ctx = WithPrincipal(ctx, Principal{
			User:   user,
			Caller: services.Caller{UserID: user.ID, ValidUntil: tok.Expiry},
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireSubscription must run after RequireAuth.
func RequireSubscription(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		if !p.User.IsSubscribed {
			writeError(w, http.StatusForbidden, "subscription_required", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

var errBadHeader = errors.New("invalid Authorization header format")

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errBadHeader
	}
	return strings.TrimSpace(token), nil
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]string{"error": code}
	if detail != "" {
		body["detail"] = detail
	}
	json.NewEncoder(w).Encode(body)
}
