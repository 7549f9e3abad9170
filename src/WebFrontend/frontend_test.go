package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/cleanova/cleanova/src/internal/adapters/apiclient"
)

type stubAccounts map[string]*apiclient.Account

func (s stubAccounts) Me(_ context.Context, token string) (*apiclient.Account, error) {
	if token == "down" {
		return nil, errors.New("connection refused")
	}
	acct, ok := s[token]
	if !ok {
		return nil, apiclient.ErrUnauthorized
	}
	return acct, nil
}

func newTestHandler(t *testing.T, controlPlane string, authSvc *AuthService) http.Handler {
	t.Helper()
	gate := NewGate(stubAccounts{
		"paid": {ID: "u1", Email: "paid@example.com", IsSubscribed: true},
		"free": {ID: "u2", Email: "free@example.com"},
	}, zerolog.Nop())
	h, err := newHandler(controlPlane, authSvc, gate, zerolog.Nop())
	require.NoError(t, err)
	return h
}

func get(h http.Handler, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: tokenCookie, Value: token})
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGateRedirects(t *testing.T) {
	h := newTestHandler(t, "http://cp.invalid", &AuthService{})

	rec := get(h, "/", "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	rec = get(h, "/", "expired")
	assert.Equal(t, "/login", rec.Header().Get("Location"))
	assert.Contains(t, rec.Header().Get("Set-Cookie"), tokenCookie+"=;")

	rec = get(h, "/", "free")
	assert.Equal(t, "/subscribe-info", rec.Header().Get("Location"))

	rec = get(h, "/", "down")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = get(h, "/", "paid")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "paid@example.com")

	rec = get(h, "/subscribe-info", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Subscription required")
}

func TestAPIProxyInjectsBearer(t *testing.T) {
	var gotAuth, gotPath string
	cp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Write([]byte(`{}`))
	}))
	defer cp.Close()

	h := newTestHandler(t, cp.URL, &AuthService{})
	rec := get(h, "/api/v1/dashboard", "paid")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bearer paid", gotAuth)
	assert.Equal(t, "/api/v1/dashboard", gotPath)

	rec = get(h, "/media/knife-skills/dice.mp4?exp=1&sig=x", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/media/knife-skills/dice.mp4", gotPath)
}

func TestNewHandlerRejectsRelativeControlPlane(t *testing.T) {
	_, err := newHandler("localhost:8096", &AuthService{}, NewGate(stubAccounts{}, zerolog.Nop()), zerolog.Nop())
	assert.Error(t, err)
}

func TestLoginCallbackRoundTrip(t *testing.T) {
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "the-code" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"abc","token_type":"Bearer","expires_in":3600}`))
	}))
	defer idp.Close()

	authSvc := &AuthService{
		Enabled: true,
		Config: oauth2.Config{
			ClientID:    "web",
			RedirectURL: "http://frontend.test/auth/callback",
			Endpoint:    oauth2.Endpoint{AuthURL: idp.URL + "/auth", TokenURL: idp.URL + "/token"},
		},
		logger: zerolog.Nop(),
	}
	h := newTestHandler(t, "http://cp.invalid", authSvc)

	rec := get(h, "/login", "")
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	var stateCookieValue string
	for _, c := range rec.Result().Cookies() {
		if c.Name == stateCookie {
			stateCookieValue = c.Value
		}
	}
	assert.Equal(t, state, stateCookieValue)

	// forged state
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=the-code&state=other", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: state})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/auth/callback?code=the-code&state="+state, nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: state})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	var token *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == tokenCookie {
			token = c
		}
	}
	require.NotNil(t, token)
	assert.Equal(t, "abc", token.Value)
	assert.True(t, token.HttpOnly)
	assert.Greater(t, token.MaxAge, 3000)
}

func TestLoginDisabled(t *testing.T) {
	h := newTestHandler(t, "http://cp.invalid", &AuthService{})
	rec := get(h, "/login", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "unavailable"))
}

func TestTokenMaxAge(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, tokenMaxAge(time.Time{}, now), "no expiry is a session cookie")
	assert.Equal(t, 3600, tokenMaxAge(now.Add(time.Hour), now))
	assert.Equal(t, 1, tokenMaxAge(now.Add(300*time.Millisecond), now))
	assert.Equal(t, 1, tokenMaxAge(now, now))
	assert.Equal(t, 1, tokenMaxAge(now.Add(-time.Minute), now))
}
