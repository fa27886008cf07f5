package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	request "rollcall/pkg/platform/middleware/request"
	"rollcall/pkg/requestcontext"
	"rollcall/pkg/testutil"
)

type echoModule struct {
	requestID string
	device    string
	deadline  bool
	now       time.Time
}

func (p *echoModule) Register(r chi.Router) {
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		p.requestID = requestcontext.RequestID(ctx)
		p.device = requestcontext.Device(ctx)
		_, p.deadline = ctx.Deadline()
		p.now = requestcontext.Now(ctx)
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/panic", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
}

type observation struct {
	route  string
	status int
}

type recordingObserver struct {
	seen []observation
}

func (o *recordingObserver) ObserveRequest(_, route string, status int, _ time.Duration) {
	o.seen = append(o.seen, observation{route: route, status: status})
}

func newTestRouter(ready *Readiness, checks map[string]HealthCheck) (http.Handler, *echoModule, *recordingObserver) {
	p := &echoModule{}
	obs := &recordingObserver{}
	opts := Options{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		RequestTimeout: time.Second,
		Observer:       obs,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
		Checks: checks,
	}
	return NewRouter(opts, ready, p), p, obs
}

func TestRouter_MiddlewareChain(t *testing.T) {
	router, p, obs := newTestRouter(nil, nil)

	req := testutil.NewRequest(t, http.MethodGet, "/items/42")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36")
	req.Header.Set(request.HeaderRequestID, "req-123")
	rr := testutil.DoRequest(router, req)

	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "req-123", p.requestID)
	assert.Equal(t, "req-123", rr.Header().Get(request.HeaderRequestID))
	assert.Equal(t, "Chrome on Android", p.device)
	assert.True(t, p.deadline, "feature routes run under the request timeout")
	assert.False(t, p.now.IsZero())
	require.Len(t, obs.seen, 1)
	assert.Equal(t, "/items/{id}", obs.seen[0].route)
}

func TestRouter_RecoversPanics(t *testing.T) {
	router, _, obs := newTestRouter(nil, nil)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/panic"))

	testutil.AssertStatusAndError(t, rr, http.StatusInternalServerError, "internal_error")
	require.Len(t, obs.seen, 1)
	assert.Equal(t, http.StatusInternalServerError, obs.seen[0].status)
}

func TestRouter_Health(t *testing.T) {
	t.Run("livez is always ok", func(t *testing.T) {
		router, _, _ := newTestRouter(&Readiness{}, nil)
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/livez"))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("healthz waits for readiness", func(t *testing.T) {
		ready := &Readiness{}
		router, _, _ := newTestRouter(ready, nil)

		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

		ready.SetReady(true)
		rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("healthz reports failing dependencies", func(t *testing.T) {
		ready := &Readiness{}
		ready.SetReady(true)
		router, _, _ := newTestRouter(ready, map[string]HealthCheck{
			"postgres": func(context.Context) error { return errors.New("connection refused") },
		})

		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Contains(t, rr.Body.String(), "postgres unavailable")
	})

	t.Run("metrics are mounted", func(t *testing.T) {
		router, _, _ := newTestRouter(nil, nil)
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "# metrics")
	})
}
