package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/cleanova/cleanova/src/internal/adapters/apiclient"
)

type accountFetcher interface {
	Me(ctx context.Context, token string) (*apiclient.Account, error)
}

type accountKey struct{}

// Gate admits subscribed users only: anonymous visitors go to /login,
// unsubscribed ones to /subscribe-info.
type Gate struct {
	accounts accountFetcher
	logger   zerolog.Logger
}

func NewGate(accounts accountFetcher, logger zerolog.Logger) *Gate {
	return &Gate{accounts: accounts, logger: logger}
}

func (g *Gate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(tokenCookie)
		if err != nil || cookie.Value == "" {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}

		acct, err := g.accounts.Me(r.Context(), cookie.Value)
		switch {
		case errors.Is(err, apiclient.ErrUnauthorized):
			http.SetCookie(w, &http.Cookie{Name: tokenCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		case err != nil:
			g.logger.Error().Err(err).Msg("account lookup failed")
			http.Error(w, "Control Plane unavailable", http.StatusBadGateway)
			return
		}

		if !acct.IsSubscribed {
			http.Redirect(w, r, "/subscribe-info", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey{}, acct)))
	})
}

func accountFrom(ctx context.Context) *apiclient.Account {
	acct, _ := ctx.Value(accountKey{}).(*apiclient.Account)
	return acct
}
