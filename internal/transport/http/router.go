package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"rollcall/pkg/platform/middleware/device"
	"rollcall/pkg/platform/middleware/metadata"
	request "rollcall/pkg/platform/middleware/request"
	"rollcall/pkg/platform/middleware/requesttime"
)

// Registrar is implemented by feature handlers that own a route subtree.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Options configures the root router.
type Options struct {
	Logger         *slog.Logger
	RequestTimeout time.Duration
	Observer       request.Observer
	Metrics        http.Handler
	// Checks run on /healthz in addition to the readiness flag.
	Checks map[string]HealthCheck
}

// Readiness flips to ready once background workers are up.
type Readiness struct {
	ready atomic.Bool
}

func (r *Readiness) SetReady(v bool) { r.ready.Store(v) }
func (r *Readiness) Ready() bool     { return r.ready.Load() }

// NewRouter builds the root handler. Middleware runs outermost first; the
// request id is minted before anything logs, and latency wraps recovery so
// panics are still counted as 500s.
func NewRouter(opts Options, ready *Readiness, handlers ...Registrar) http.Handler {
	r := chi.NewRouter()

	r.Use(request.RequestID)
	if opts.Observer != nil {
		r.Use(request.Latency(opts.Observer))
	}
	r.Use(
		request.Recovery(opts.Logger),
		metadata.ClientMetadata,
		device.Middleware,
		requesttime.Middleware,
		request.Logger(opts.Logger),
	)

	r.Get("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/healthz", healthz(opts, ready))
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(request.Timeout(opts.RequestTimeout))
		for _, h := range handlers {
			h.Register(r)
		}
	})
	return r
}

func healthz(opts Options, ready *Readiness) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for name, check := range opts.Checks {
			if err := check(ctx); err != nil {
				opts.Logger.WarnContext(ctx, "health check failed",
					"dependency", name,
					"error", err,
					"request_id", request.GetRequestID(ctx),
				)
				http.Error(w, name+" unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
