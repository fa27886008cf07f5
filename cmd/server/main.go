package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	attendanceHandler "rollcall/internal/attendance/handler"
	attendanceMetrics "rollcall/internal/attendance/metrics"
	"rollcall/internal/attendance/service"
	jwttoken "rollcall/internal/jwt_token"
	"rollcall/internal/platform/config"
	"rollcall/internal/platform/httpserver"
	"rollcall/internal/platform/logger"
	"rollcall/internal/platform/metrics"
	ratelimitMetrics "rollcall/internal/ratelimit/metrics"
	ratelimit "rollcall/internal/ratelimit/middleware"
	httptransport "rollcall/internal/transport/http"
	"rollcall/pkg/platform/audit/publishers/compliance"
	"rollcall/pkg/platform/audit/publishers/ops"
	"rollcall/pkg/platform/audit/publishers/security"
	"rollcall/pkg/platform/circuit"
)

// main loads configuration, builds the backend selected by storage.backend
// and runs the HTTP server alongside the background workers until SIGINT or
// SIGTERM.
func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)
	log := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("rollcall exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Attendance.Location()
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	httpMetrics := metrics.New(reg)
	attMetrics := attendanceMetrics.New(reg)

	b, err := buildBackend(rootCtx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close()

	complianceAuditor := compliance.New(b.auditStore,
		compliance.WithLogger(log),
		compliance.WithMetrics(compliance.NewMetrics(reg)),
	)
	securityAuditor := security.New(b.auditStore,
		security.WithLogger(log),
		security.WithMetrics(security.NewMetrics(reg)),
		security.WithBufferSize(cfg.Audit.SecurityBufferSize),
	)
	opsTracker := ops.New(b.auditStore,
		ops.WithSampler(ops.NewSampler(cfg.Audit.OpsSampleRate, cfg.Audit.OpsActionRates)),
		ops.WithLogger(log),
		ops.WithMetrics(ops.NewMetrics(reg)),
		ops.WithBreaker(circuit.New("audit-ops")),
	)

	svc := service.New(b.tokens, b.ledger, b.runner,
		service.Config{
			DefaultRadiusMeters: cfg.Attendance.DefaultRadiusMeters,
			DefaultDuration:     minutes(cfg.Attendance.DefaultDurationMinutes),
			MaxDuration:         minutes(cfg.Attendance.MaxDurationMinutes),
			Location:            loc,
		},
		service.WithLogger(log),
		service.WithMetrics(attMetrics),
		service.WithBreaker(circuit.New("attendance-store",
			circuit.WithFailureThreshold(cfg.Breaker.FailureThreshold),
			circuit.WithSuccessThreshold(cfg.Breaker.SuccessThreshold),
			circuit.WithCooldown(cfg.Breaker.Cooldown),
		)),
		service.WithComplianceAuditor(complianceAuditor),
		service.WithSecurityAuditor(securityAuditor),
		service.WithOpsTracker(opsTracker),
	)

	sweeper := service.NewSweeper(b.tokens, cfg.Attendance.SweepInterval, cfg.Attendance.RetentionGrace,
		service.WithSweeperLogger(log),
		service.WithSweeperMetrics(attMetrics),
		service.WithSweeperOpsTracker(opsTracker),
	)

	jwtService := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience)
	limiter := ratelimit.New(b.buckets, log,
		ratelimit.WithDisabled(cfg.RateLimit.Disabled),
		ratelimit.WithObserver(ratelimitMetrics.New(reg)),
	)
	handler := attendanceHandler.New(svc, log, jwttoken.NewJWTServiceAdapter(jwtService),
		attendanceHandler.WithAttemptLimit(limiter, cfg.RateLimit.RedeemPerUser, cfg.RateLimit.Window),
	)

	ready := &httptransport.Readiness{}
	router := httptransport.NewRouter(httptransport.Options{
		Logger:         log,
		RequestTimeout: cfg.Server.RequestTimeout,
		Observer:       httpMetrics,
		Metrics:        metrics.Handler(reg),
		Checks:         b.checks,
	}, ready, handler)

	srv := httpserver.New(cfg.Server.Addr, router, cfg.Server.RequestTimeout)

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		log.Info("starting rollcall",
			"addr", cfg.Server.Addr,
			"env", cfg.Server.Env,
			"backend", cfg.Storage.Backend,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return sweeper.Run(ctx) })
	g.Go(func() error { return securityAuditor.Run(ctx) })
	if b.relay != nil {
		g.Go(func() error { return b.relay.Run(ctx) })
		g.Go(func() error { return b.purgeOutbox(ctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		ready.SetReady(false)
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	ready.SetReady(true)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
