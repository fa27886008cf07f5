package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/attendance/models"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
)

// tokenStore is the behaviour every backend shares.
type tokenStore interface {
	Create(ctx context.Context, token *models.Token) error
	FindByID(ctx context.Context, tokenID id.TokenID) (*models.Token, error)
	Deactivate(ctx context.Context, tokenID id.TokenID) error
	ExpireStale(ctx context.Context, now time.Time) (int, error)
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

var (
	_ tokenStore = (*InMemoryStore)(nil)
	_ tokenStore = (*PostgresStore)(nil)
	_ tokenStore = (*RedisStore)(nil)
)

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestToken(issuedAt time.Time, ttl time.Duration) *models.Token {
	return &models.Token{
		ID:           id.NewTokenID(),
		IssuerID:     id.UserID(uuid.New()),
		Subject:      "Math",
		OriginLat:    40.0,
		OriginLon:    -73.0,
		RadiusMeters: 100,
		IssuedAt:     issuedAt,
		ExpiresAt:    issuedAt.Add(ttl),
		Active:       true,
	}
}

// runStoreContract exercises a fresh store returned by newStore for each subtest.
func runStoreContract(t *testing.T, newStore func(t *testing.T) tokenStore) {
	ctx := context.Background()

	t.Run("create then find returns an equal copy", func(t *testing.T) {
		s := newStore(t)
		tok := newTestToken(baseTime, 10*time.Minute)
		require.NoError(t, s.Create(ctx, tok))

		got, err := s.FindByID(ctx, tok.ID)
		require.NoError(t, err)
		assert.Equal(t, tok.ID, got.ID)
		assert.Equal(t, tok.IssuerID, got.IssuerID)
		assert.Equal(t, tok.Subject, got.Subject)
		assert.InDelta(t, tok.OriginLat, got.OriginLat, 1e-9)
		assert.InDelta(t, tok.RadiusMeters, got.RadiusMeters, 1e-9)
		assert.True(t, tok.ExpiresAt.Equal(got.ExpiresAt))
		assert.True(t, got.Active)
	})

	t.Run("duplicate id conflicts", func(t *testing.T) {
		s := newStore(t)
		tok := newTestToken(baseTime, time.Minute)
		require.NoError(t, s.Create(ctx, tok))
		require.ErrorIs(t, s.Create(ctx, tok), sentinel.ErrConflict)
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.FindByID(ctx, id.NewTokenID())
		require.ErrorIs(t, err, sentinel.ErrNotFound)
		require.ErrorIs(t, s.Deactivate(ctx, id.NewTokenID()), sentinel.ErrNotFound)
	})

	t.Run("deactivate clears active", func(t *testing.T) {
		s := newStore(t)
		tok := newTestToken(baseTime, time.Minute)
		require.NoError(t, s.Create(ctx, tok))
		require.NoError(t, s.Deactivate(ctx, tok.ID))

		got, err := s.FindByID(ctx, tok.ID)
		require.NoError(t, err)
		assert.False(t, got.Active)
	})

	t.Run("expire stale marks only tokens at or past expiry", func(t *testing.T) {
		s := newStore(t)
		stale := newTestToken(baseTime, time.Minute)
		edge := newTestToken(baseTime, 2*time.Minute)
		fresh := newTestToken(baseTime, 10*time.Minute)
		for _, tok := range []*models.Token{stale, edge, fresh} {
			require.NoError(t, s.Create(ctx, tok))
		}

		n, err := s.ExpireStale(ctx, baseTime.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		got, err := s.FindByID(ctx, fresh.ID)
		require.NoError(t, err)
		assert.True(t, got.Active)
		got, err = s.FindByID(ctx, edge.ID)
		require.NoError(t, err)
		assert.False(t, got.Active)

		n, err = s.ExpireStale(ctx, baseTime.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Zero(t, n, "already inactive tokens are not counted twice")
	})

	t.Run("expire stale never fires inside the expiry millisecond", func(t *testing.T) {
		s := newStore(t)
		tok := newTestToken(baseTime, time.Minute+500*time.Microsecond)
		require.NoError(t, s.Create(ctx, tok))

		n, err := s.ExpireStale(ctx, baseTime.Add(time.Minute+200*time.Microsecond))
		require.NoError(t, err)
		assert.Zero(t, n)
		got, err := s.FindByID(ctx, tok.ID)
		require.NoError(t, err)
		assert.True(t, got.Active)

		n, err = s.ExpireStale(ctx, baseTime.Add(time.Minute+time.Millisecond))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("delete expired evicts before cutoff", func(t *testing.T) {
		s := newStore(t)
		old := newTestToken(baseTime, time.Minute)
		fresh := newTestToken(baseTime, time.Hour)
		require.NoError(t, s.Create(ctx, old))
		require.NoError(t, s.Create(ctx, fresh))

		n, err := s.DeleteExpired(ctx, baseTime.Add(30*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = s.FindByID(ctx, old.ID)
		require.ErrorIs(t, err, sentinel.ErrNotFound)
		_, err = s.FindByID(ctx, fresh.ID)
		require.NoError(t, err)
	})

	t.Run("concurrent creates of distinct tokens all succeed", func(t *testing.T) {
		s := newStore(t)
		const n = 50
		tokens := make([]*models.Token, n)
		for i := range tokens {
			tokens[i] = newTestToken(baseTime, time.Minute)
		}

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for _, tok := range tokens {
			wg.Add(1)
			go func(tok *models.Token) {
				defer wg.Done()
				errs <- s.Create(ctx, tok)
			}(tok)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		for _, tok := range tokens {
			_, err := s.FindByID(ctx, tok.ID)
			require.NoError(t, err)
		}
	})
}
