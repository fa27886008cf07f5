package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"rollcall/internal/attendance/models"
	"rollcall/internal/attendance/service"
	ratelimit "rollcall/internal/ratelimit/middleware"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/platform/httputil"
	authmw "rollcall/pkg/platform/middleware/auth"
	"rollcall/pkg/requestcontext"
)

const maxBodyBytes = 64 << 10

//go:generate mockgen -source=handler.go -destination=mocks/attendance-mocks.go -package=mocks Service

// Service defines the interface for attendance operations.
type Service interface {
	IssueToken(ctx context.Context, issuer id.UserID, req *models.IssueTokenRequest) (*service.IssuedToken, error)
	RevokeToken(ctx context.Context, issuer id.UserID, tokenID id.TokenID) (*models.Token, error)
	ValidateToken(ctx context.Context, holder id.UserID, req *models.RedeemRequest) (*service.Validation, error)
	Redeem(ctx context.Context, holder id.UserID, req *models.RedeemRequest) (*models.Record, error)
	MarkManual(ctx context.Context, issuer id.UserID, req *models.ManualMarkRequest) (*models.Record, error)
	History(ctx context.Context, holder id.UserID) ([]*models.Record, error)
	ClassAttendance(ctx context.Context, subject string, day models.Day, issuer *id.UserID) ([]*models.Record, error)
	Stats(ctx context.Context, day models.Day) (models.DayStats, error)
}

// Handler handles attendance endpoints.
type Handler struct {
	logger       *slog.Logger
	attendance   Service
	jwtValidator authmw.JWTValidator
	attempts     func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithAttemptLimit throttles redeem and validate calls per holder.
func WithAttemptLimit(limiter *ratelimit.Middleware, perUser int, window time.Duration) Option {
	return func(h *Handler) {
		h.attempts = limiter.PerUser("redeem", perUser, window)
	}
}

func New(attendance Service, logger *slog.Logger, jwtValidator authmw.JWTValidator, opts ...Option) *Handler {
	h := &Handler{
		logger:       logger,
		attendance:   attendance,
		jwtValidator: jwtValidator,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the attendance routes with the chi router. Every route
// requires a bearer token; role gates sit on each group.
func (h *Handler) Register(r chi.Router) {
	r.Route("/attendance", func(r chi.Router) {
		r.Use(authmw.RequireAuth(h.jwtValidator, h.logger))

		r.Get("/history", h.HandleHistory)

		r.Group(func(r chi.Router) {
			r.Use(authmw.RequireRole(h.logger, id.RoleTeacher))
			r.Post("/tokens", h.HandleIssueToken)
			r.Post("/tokens/{id}/revoke", h.HandleRevokeToken)
			r.Post("/manual", h.HandleMarkManual)
		})

		r.Group(func(r chi.Router) {
			r.Use(authmw.RequireRole(h.logger, id.RoleStudent))
			if h.attempts != nil {
				r.Use(h.attempts)
			}
			r.Post("/tokens/validate", h.HandleValidateToken)
			r.Post("/redeem", h.HandleRedeem)
		})

		r.Group(func(r chi.Router) {
			r.Use(authmw.RequireRole(h.logger, id.RoleTeacher, id.RoleAdmin))
			r.Get("/class", h.HandleClassAttendance)
		})

		r.Group(func(r chi.Router) {
			r.Use(authmw.RequireRole(h.logger, id.RoleAdmin))
			r.Get("/stats", h.HandleStats)
		})
	})
}

func (h *Handler) HandleIssueToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	issuer, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req models.IssueTokenRequest
	if !h.decode(w, r, &req) {
		return
	}

	issued, err := h.attendance.IssueToken(ctx, issuer, &req)
	if err != nil {
		h.writeError(ctx, w, "issue token", err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, &models.IssueTokenResponse{
		TokenID:      issued.Token.ID.String(),
		Subject:      issued.Token.Subject,
		ExpiresAt:    issued.Token.ExpiresAt,
		RadiusMeters: issued.Token.RadiusMeters,
		Payload:      issued.Payload,
	})
}

func (h *Handler) HandleRevokeToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	issuer, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	tokenID, err := id.ParseTokenID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "token not found"))
		return
	}

	token, err := h.attendance.RevokeToken(ctx, issuer, tokenID)
	if err != nil {
		h.writeError(ctx, w, "revoke token", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &models.RevokeTokenResponse{
		TokenID: token.ID.String(),
		Active:  token.Active,
	})
}

func (h *Handler) HandleValidateToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	holder, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req models.RedeemRequest
	if !h.decode(w, r, &req) {
		return
	}

	v, err := h.attendance.ValidateToken(ctx, holder, &req)
	if err != nil {
		h.writeError(ctx, w, "validate token", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &models.ValidateTokenResponse{
		TokenID:        v.Token.ID.String(),
		Subject:        v.Token.Subject,
		IssuerID:       v.Token.IssuerID.String(),
		ExpiresAt:      v.Token.ExpiresAt,
		DistanceMeters: v.DistanceMeters,
	})
}

func (h *Handler) HandleRedeem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	holder, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req models.RedeemRequest
	if !h.decode(w, r, &req) {
		return
	}

	record, err := h.attendance.Redeem(ctx, holder, &req)
	if err != nil {
		h.writeError(ctx, w, "redeem", err)
		return
	}
	resp := models.ToRecordResponse(record)
	httputil.WriteJSON(w, http.StatusCreated, &resp)
}

func (h *Handler) HandleMarkManual(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	issuer, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req models.ManualMarkRequest
	if !h.decode(w, r, &req) {
		return
	}

	record, err := h.attendance.MarkManual(ctx, issuer, &req)
	if err != nil {
		h.writeError(ctx, w, "mark manual", err)
		return
	}
	resp := models.ToRecordResponse(record)
	httputil.WriteJSON(w, http.StatusCreated, &resp)
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	holder, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	records, err := h.attendance.History(ctx, holder)
	if err != nil {
		h.writeError(ctx, w, "history", err)
		return
	}
	resp := models.ToRecordListResponse(records)
	httputil.WriteJSON(w, http.StatusOK, &resp)
}

// HandleClassAttendance lists a subject's records. Teachers only see records
// they issued; admins see all of them.
func (h *Handler) HandleClassAttendance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	day, ok := h.parseDay(w, r)
	if !ok {
		return
	}
	var issuer *id.UserID
	if requestcontext.Role(ctx) == id.RoleTeacher {
		issuer = &caller
	}

	records, err := h.attendance.ClassAttendance(ctx, r.URL.Query().Get("subject"), day, issuer)
	if err != nil {
		h.writeError(ctx, w, "class attendance", err)
		return
	}
	resp := models.ToRecordListResponse(records)
	httputil.WriteJSON(w, http.StatusOK, &resp)
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	day, ok := h.parseDay(w, r)
	if !ok {
		return
	}

	stats, err := h.attendance.Stats(ctx, day)
	if err != nil {
		h.writeError(ctx, w, "stats", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &models.StatsResponse{
		Day:       stats.Day.String(),
		Total:     stats.Total,
		BySubject: stats.BySubject,
	})
}

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (id.UserID, bool) {
	ctx := r.Context()
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		// only reachable when RequireAuth is missing from the chain
		h.logger.ErrorContext(ctx, "userID missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return id.UserID{}, false
	}
	return userID, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.WarnContext(ctx, "invalid request body",
			"path", r.URL.Path,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return false
	}
	return true
}

func (h *Handler) parseDay(w http.ResponseWriter, r *http.Request) (models.Day, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		return "", true
	}
	day, err := models.ParseDay(raw)
	if err != nil {
		httputil.WriteError(w, err)
		return "", false
	}
	return day, true
}

// writeError logs at a level matching the failure and renders it. Domain
// rejections are expected traffic; storage faults are not.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	requestID := requestcontext.RequestID(ctx)
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeUnavailable, dErrors.CodeTimeout, dErrors.CodeDuplicateID:
		h.logger.ErrorContext(ctx, op+" failed",
			"error", err,
			"request_id", requestID,
		)
	default:
		h.logger.InfoContext(ctx, op+" rejected",
			"reason", dErrors.CodeOf(err),
			"request_id", requestID,
		)
	}
	httputil.WriteError(w, err)
}
