package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/ratelimit/models"
	"rollcall/internal/ratelimit/store/bucket"
	id "rollcall/pkg/domain"
	"rollcall/pkg/testutil"
)

const holder = "0d9e8f7a-6b5c-4d3e-8f1a-2b3c4d5e6f70"

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (*models.Result, error) {
	return nil, errors.New("redis: connection refused")
}

type countingObserver struct{ n int }

func (o *countingObserver) IncRateLimited(string) { o.n++ }

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func newMiddleware(store Store, opts ...Option) *Middleware {
	return New(store, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func authed(t *testing.T) *http.Request {
	req := testutil.NewRequest(t, http.MethodPost, "/attendance/redeem")
	return testutil.WithAuth(req, holder, id.RoleStudent)
}

func TestPerUser(t *testing.T) {
	t.Run("blocks after the limit with 429", func(t *testing.T) {
		obs := &countingObserver{}
		h := newMiddleware(bucket.NewInMemoryBucketStore(), WithObserver(obs)).PerUser("redeem", 2, time.Minute)(okHandler())

		for range 2 {
			rr := testutil.DoRequest(h, authed(t))
			require.Equal(t, http.StatusNoContent, rr.Code)
		}
		rr := testutil.DoRequest(h, authed(t))

		testutil.AssertStatusAndError(t, rr, http.StatusTooManyRequests, "rate_limit_exceeded")
		assert.Equal(t, "2", rr.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rr.Header().Get("Retry-After"))
		assert.Equal(t, 1, obs.n)
	})

	t.Run("store failure fails open", func(t *testing.T) {
		h := newMiddleware(failingStore{}).PerUser("redeem", 1, time.Minute)(okHandler())
		rr := testutil.DoRequest(h, authed(t))
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("anonymous requests pass through", func(t *testing.T) {
		h := newMiddleware(failingStore{}).PerUser("redeem", 1, time.Minute)(okHandler())
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/attendance/redeem", nil))
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("disabled", func(t *testing.T) {
		h := newMiddleware(bucket.NewInMemoryBucketStore(), WithDisabled(true)).PerUser("redeem", 1, time.Minute)(okHandler())
		for range 3 {
			assert.Equal(t, http.StatusNoContent, testutil.DoRequest(h, authed(t)).Code)
		}
	})

	t.Run("nil middleware is a no-op", func(t *testing.T) {
		var m *Middleware
		h := m.PerUser("redeem", 1, time.Minute)(okHandler())
		assert.Equal(t, http.StatusNoContent, testutil.DoRequest(h, authed(t)).Code)
	})
}

func TestRetryAfterSeconds(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, models.RetryAfterSeconds(now, now))
	assert.Equal(t, 2, models.RetryAfterSeconds(now, now.Add(1500*time.Millisecond)))
	assert.Equal(t, 30, models.RetryAfterSeconds(now, now.Add(30*time.Second)))
}
