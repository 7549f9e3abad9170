package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanova/cleanova/src/internal/adapters/memory"
	"github.com/cleanova/cleanova/src/internal/domain"
)

// subscribeOnRead flips the subscription through a second service right
// after the first read, the way a concurrent `subscribe` command would.
type subscribeOnRead struct {
	*memory.InMemoryUserRepo
	admin *AccountService
	once  sync.Once
}

func (r *subscribeOnRead) GetByID(ctx context.Context, id string) (*domain.User, error) {
	u, err := r.InMemoryUserRepo.GetByID(ctx, id)
	r.once.Do(func() {
		_, _ = r.admin.SetSubscription(ctx, id, true)
	})
	return u, err
}

func TestProvision_CreatesUnsubscribedUser(t *testing.T) {
	users := memory.NewUserRepo()
	accounts := NewAccountService(users, zerolog.Nop())

	u, err := accounts.Provision(context.Background(), Claims{Subject: "u1", PreferredUsername: "chef"})
	require.NoError(t, err)
	assert.Equal(t, "chef", u.Email)
	assert.False(t, u.IsSubscribed)

	stored, err := users.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "chef", stored.Email)
}

func TestProvision_RefreshKeepsConcurrentSubscription(t *testing.T) {
	ctx := context.Background()
	users := memory.NewUserRepo()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, users.Save(ctx, &domain.User{ID: "u1", Email: "old@example.com", CreatedAt: created, LastSeen: created}))

	racing := &subscribeOnRead{InMemoryUserRepo: users, admin: NewAccountService(users, zerolog.Nop())}
	accounts := NewAccountService(racing, zerolog.Nop())
	now := created.Add(48 * time.Hour)
	accounts.now = func() time.Time { return now }

	u, err := accounts.Provision(ctx, Claims{Subject: "u1", Email: "new@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", u.Email)

	stored, err := users.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, stored.IsSubscribed)
	assert.Equal(t, "new@example.com", stored.Email)
	assert.True(t, now.Equal(stored.LastSeen))
	assert.True(t, created.Equal(stored.CreatedAt))
}

func TestProvision_EmptyEmailClaimKeepsStoredEmail(t *testing.T) {
	ctx := context.Background()
	users := memory.NewUserRepo()
	require.NoError(t, users.Save(ctx, &domain.User{ID: "u1", Email: "a@example.com", IsSubscribed: true}))
	accounts := NewAccountService(users, zerolog.Nop())

	u, err := accounts.Provision(ctx, Claims{Subject: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", u.Email)
	assert.True(t, u.IsSubscribed)
}

func TestSetSubscription(t *testing.T) {
	ctx := context.Background()
	users := memory.NewUserRepo()
	accounts := NewAccountService(users, zerolog.Nop())

	_, err := accounts.SetSubscription(ctx, "ghost", true)
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, users.Save(ctx, &domain.User{ID: "u1"}))
	u, err := accounts.SetSubscription(ctx, "u1", true)
	require.NoError(t, err)
	assert.True(t, u.IsSubscribed)

	me, err := accounts.Me(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, me.IsSubscribed)
}
