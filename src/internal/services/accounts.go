package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cleanova/cleanova/src/internal/domain"
	"github.com/cleanova/cleanova/src/internal/ports"
)

// Claims are the identity fields taken from a verified bearer token.
type Claims struct {
	Subject           string
	Email             string
	PreferredUsername string
}

type AccountService struct {
	users  ports.UserRepository
	logger zerolog.Logger
	now    func() time.Time
}

func NewAccountService(users ports.UserRepository, logger zerolog.Logger) *AccountService {
	return &AccountService{users: users, logger: logger, now: time.Now}
}

// Provision returns the user for verified claims, creating it on first sight
// and refreshing LastSeen and Email otherwise. New users start unsubscribed;
// the refresh never writes the subscription flag.
func (s *AccountService) Provision(ctx context.Context, c Claims) (*domain.User, error) {
	now := s.now()
	user, err := s.users.GetByID(ctx, c.Subject)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		user = &domain.User{
			ID:        c.Subject,
			Email:     c.Email,
			CreatedAt: now,
			LastSeen:  now,
		}
		if user.Email == "" {
			user.Email = c.PreferredUsername
		}
		if err := s.users.Save(ctx, user); err != nil {
			return nil, fmt.Errorf("create user %s: %w", c.Subject, err)
		}
		s.logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("provisioned new user")
		return user, nil
	case err != nil:
		return nil, fmt.Errorf("load user %s: %w", c.Subject, err)
	}

	if err := s.users.Touch(ctx, user.ID, c.Email, now); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("refreshing user failed")
	}
	user.LastSeen = now
	if c.Email != "" {
		user.Email = c.Email
	}
	return user, nil
}

func (s *AccountService) Me(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.GetByID(ctx, userID)
}

// SetSubscription flips the subscription flag of an existing user.
func (s *AccountService) SetSubscription(ctx context.Context, userID string, subscribed bool) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	user.IsSubscribed = subscribed
	if err := s.users.Save(ctx, user); err != nil {
		return nil, fmt.Errorf("save user %s: %w", userID, err)
	}
	s.logger.Info().Str("user_id", userID).Bool("subscribed", subscribed).Msg("subscription updated")
	return user, nil
}
