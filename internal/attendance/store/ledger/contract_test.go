package ledger

import (
	"context"
	"errors"
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

type ledgerStore interface {
	TryCommit(ctx context.Context, record *models.Record) (*models.Record, error)
	ListByHolder(ctx context.Context, holder id.UserID) ([]*models.Record, error)
	ListBySubjectAndDay(ctx context.Context, subject string, day models.Day, issuer *id.UserID) ([]*models.Record, error)
	StatsForDay(ctx context.Context, day models.Day) (models.DayStats, error)
}

var (
	_ ledgerStore = (*InMemoryStore)(nil)
	_ ledgerStore = (*PostgresStore)(nil)
	_ ledgerStore = (*RedisStore)(nil)
)

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newRecord(holder, issuer id.UserID, subject string, day models.Day, at time.Time) *models.Record {
	tokenID := id.NewTokenID()
	return &models.Record{
		ID:         id.NewRecordID(),
		HolderID:   holder,
		IssuerID:   issuer,
		Subject:    subject,
		Day:        day,
		RedeemedAt: at,
		Latitude:   40.0,
		Longitude:  -73.0,
		Method:     models.MethodToken,
		TokenID:    &tokenID,
	}
}

func newUser() id.UserID { return id.UserID(uuid.New()) }

func runLedgerContract(t *testing.T, newStore func(t *testing.T) ledgerStore) {
	ctx := context.Background()

	t.Run("commit then list by holder", func(t *testing.T) {
		s := newStore(t)
		holder, issuer := newUser(), newUser()
		rec := newRecord(holder, issuer, "Math", "2026-03-02", baseTime)

		committed, err := s.TryCommit(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, committed.ID)

		got, err := s.ListByHolder(ctx, holder)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, rec.ID, got[0].ID)
		assert.Equal(t, models.Day("2026-03-02"), got[0].Day)
		require.NotNil(t, got[0].TokenID)
		assert.Equal(t, *rec.TokenID, *got[0].TokenID)
	})

	t.Run("second commit for the same slot is already redeemed", func(t *testing.T) {
		s := newStore(t)
		holder, issuer := newUser(), newUser()
		first := newRecord(holder, issuer, "Math", "2026-03-02", baseTime)
		_, err := s.TryCommit(ctx, first)
		require.NoError(t, err)

		second := newRecord(holder, issuer, "Math", "2026-03-02", baseTime.Add(time.Minute))
		_, err = s.TryCommit(ctx, second)
		require.ErrorIs(t, err, sentinel.ErrAlreadyUsed)

		var already *AlreadyRedeemedError
		require.True(t, errors.As(err, &already))
		assert.True(t, already.RedeemedAt().Equal(baseTime), "carries the first commit time")
		assert.Equal(t, first.ID, already.Existing.ID)

		got, err := s.ListByHolder(ctx, holder)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("other subject or next day is a separate slot", func(t *testing.T) {
		s := newStore(t)
		holder, issuer := newUser(), newUser()
		_, err := s.TryCommit(ctx, newRecord(holder, issuer, "Math", "2026-03-02", baseTime))
		require.NoError(t, err)
		_, err = s.TryCommit(ctx, newRecord(holder, issuer, "Physics", "2026-03-02", baseTime.Add(time.Hour)))
		require.NoError(t, err)
		_, err = s.TryCommit(ctx, newRecord(holder, issuer, "Math", "2026-03-03", baseTime.Add(24*time.Hour)))
		require.NoError(t, err)

		got, err := s.ListByHolder(ctx, holder)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, models.Day("2026-03-03"), got[0].Day, "newest first")
		assert.Equal(t, "Physics", got[1].Subject)
		assert.Equal(t, "Math", got[2].Subject)
	})

	t.Run("concurrent commits for one slot yield exactly one success", func(t *testing.T) {
		s := newStore(t)
		holder, issuer := newUser(), newUser()
		const attempts = 32

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
		)
		start := make(chan struct{})
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				rec := newRecord(holder, issuer, "Math", "2026-03-02", baseTime.Add(time.Duration(i)*time.Millisecond))
				_, err := s.TryCommit(ctx, rec)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, sentinel.ErrAlreadyUsed):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		close(start)
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, attempts-1, conflicts)

		got, err := s.ListByHolder(ctx, holder)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("list by subject and day filters by issuer", func(t *testing.T) {
		s := newStore(t)
		teacherA, teacherB := newUser(), newUser()
		h1, h2, h3 := newUser(), newUser(), newUser()
		_, err := s.TryCommit(ctx, newRecord(h1, teacherA, "Math", "2026-03-02", baseTime))
		require.NoError(t, err)
		_, err = s.TryCommit(ctx, newRecord(h2, teacherB, "Math", "2026-03-02", baseTime.Add(time.Minute)))
		require.NoError(t, err)
		_, err = s.TryCommit(ctx, newRecord(h3, teacherA, "Math", "2026-03-03", baseTime.Add(24*time.Hour)))
		require.NoError(t, err)
		_, err = s.TryCommit(ctx, newRecord(h1, teacherA, "Art", "2026-03-02", baseTime.Add(2*time.Minute)))
		require.NoError(t, err)

		day, err := s.ListBySubjectAndDay(ctx, "Math", "2026-03-02", nil)
		require.NoError(t, err)
		require.Len(t, day, 2)
		assert.Equal(t, h1, day[0].HolderID, "commit order")

		mine, err := s.ListBySubjectAndDay(ctx, "Math", "2026-03-02", &teacherA)
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, h1, mine[0].HolderID)

		allDays, err := s.ListBySubjectAndDay(ctx, "Math", "", &teacherA)
		require.NoError(t, err)
		assert.Len(t, allDays, 2)

		stats, err := s.StatsForDay(ctx, "2026-03-02")
		require.NoError(t, err)
		assert.Equal(t, 3, stats.Total)
		assert.Equal(t, 2, stats.BySubject["Math"])
		assert.Equal(t, 1, stats.BySubject["Art"])

		// stats never reach across days
		next, err := s.StatsForDay(ctx, "2026-03-03")
		require.NoError(t, err)
		assert.Equal(t, 1, next.Total)
		assert.Equal(t, map[string]int{"Math": 1}, next.BySubject)
	})

	t.Run("manual record has no token", func(t *testing.T) {
		s := newStore(t)
		holder := newUser()
		rec := newRecord(holder, newUser(), "Math", "2026-03-02", baseTime)
		rec.Method = models.MethodManual
		rec.TokenID = nil
		_, err := s.TryCommit(ctx, rec)
		require.NoError(t, err)

		got, err := s.ListByHolder(ctx, holder)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Nil(t, got[0].TokenID)
		assert.Equal(t, models.MethodManual, got[0].Method)
	})

	t.Run("empty results are not errors", func(t *testing.T) {
		s := newStore(t)
		got, err := s.ListByHolder(ctx, newUser())
		require.NoError(t, err)
		assert.Empty(t, got)

		stats, err := s.StatsForDay(ctx, "2026-01-01")
		require.NoError(t, err)
		assert.Zero(t, stats.Total)
	})
}
