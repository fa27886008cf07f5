package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rollcall/internal/attendance/models"
	"rollcall/internal/attendance/payload"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/platform/audit"
	"rollcall/pkg/platform/sentinel"
	"rollcall/pkg/platform/tx"
	"rollcall/pkg/requestcontext"
)

// IssuedToken is a persisted token plus its QR payload.
type IssuedToken struct {
	Token   *models.Token
	Payload string
}

// IssueToken creates a token anchored at the issuer's position. Radius and
// duration fall back to the configured defaults.
func (s *Service) IssueToken(ctx context.Context, issuer id.UserID, req *models.IssueTokenRequest) (_ *IssuedToken, err error) {
	ctx, span := s.tracer.Start(ctx, "attendance.IssueToken")
	defer func() { endSpan(span, err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	radius := s.cfg.DefaultRadiusMeters
	if req.RadiusMeters != nil {
		radius = *req.RadiusMeters
	}
	ttl := s.cfg.DefaultDuration
	if req.DurationMinutes != nil {
		// compare in minutes first; the multiplication overflows for huge inputs
		if *req.DurationMinutes > int(s.cfg.MaxDuration/time.Minute) {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "duration_minutes exceeds the allowed maximum")
		}
		ttl = time.Duration(*req.DurationMinutes) * time.Minute
	}
	if ttl > s.cfg.MaxDuration {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "duration_minutes exceeds the allowed maximum")
	}

	now := requestcontext.Now(ctx)
	token, err := models.NewToken(id.NewTokenID(), issuer, req.Subject, *req.Latitude, *req.Longitude, radius, now, ttl)
	if err != nil {
		return nil, err
	}

	err = s.guard(ctx, "token.create", func() error { return s.tokens.Create(ctx, token) })
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.logger.ErrorContext(ctx, "token id collision",
				"token_id", token.ID,
				"request_id", requestcontext.RequestID(ctx),
			)
			return nil, dErrors.Wrap(err, dErrors.CodeDuplicateID, "token id collision")
		}
		return nil, storeError(err, "failed to store token")
	}

	qr, err := payload.Encode(token)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode token payload")
	}

	span.SetAttributes(attribute.String("token.id", token.ID.String()))
	s.metrics.IncTokensIssued()
	if s.ops != nil {
		s.ops.Track(ctx, audit.OpsEvent{
			Timestamp: now,
			UserID:    issuer,
			Subject:   token.Subject,
			Action:    string(audit.EventTokenIssued),
			TokenID:   token.ID.String(),
			RequestID: requestcontext.RequestID(ctx),
		})
	}
	s.logger.InfoContext(ctx, "attendance token issued",
		"token_id", token.ID,
		"subject", token.Subject,
		"expires_at", token.ExpiresAt,
		"request_id", requestcontext.RequestID(ctx),
	)
	return &IssuedToken{Token: token, Payload: qr}, nil
}

// RevokeToken deactivates a token before expiry. Only its issuer may revoke
// it; revoking an inactive token is a no-op.
func (s *Service) RevokeToken(ctx context.Context, issuer id.UserID, tokenID id.TokenID) (_ *models.Token, err error) {
	ctx, span := s.tracer.Start(ctx, "attendance.RevokeToken",
		trace.WithAttributes(attribute.String("token.id", tokenID.String())))
	defer func() { endSpan(span, err) }()

	token, err := s.findToken(ctx, tokenID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidToken) {
			return nil, dErrors.New(dErrors.CodeNotFound, "token not found")
		}
		return nil, err
	}
	if token.IssuerID != issuer {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the issuing teacher may revoke this token")
	}
	if !token.Active {
		return token, nil
	}

	now := requestcontext.Now(ctx)
	err = s.runner.RunInTx(tx.WithShardKey(ctx, tokenID.String()), func(ctx context.Context) error {
		if err := s.guard(ctx, "token.deactivate", func() error { return s.tokens.Deactivate(ctx, tokenID) }); err != nil {
			return err
		}
		return s.emitCompliance(ctx, audit.ComplianceEvent{
			Timestamp: now,
			UserID:    issuer,
			Subject:   token.Subject,
			Action:    string(audit.EventTokenRevoked),
			TokenID:   tokenID.String(),
			Decision:  "revoked",
			RequestID: requestcontext.RequestID(ctx),
		})
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "token not found")
		}
		return nil, storeError(err, "failed to revoke token")
	}

	token.Active = false
	s.logger.InfoContext(ctx, "attendance token revoked",
		"token_id", tokenID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return token, nil
}

// findToken loads a token, mapping a miss to invalid_token.
func (s *Service) findToken(ctx context.Context, tokenID id.TokenID) (*models.Token, error) {
	var token *models.Token
	err := s.guard(ctx, "token.find", func() error {
		var err error
		token, err = s.tokens.FindByID(ctx, tokenID)
		return err
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeInvalidToken, "token not recognised")
		}
		return nil, storeError(err, "failed to load token")
	}
	return token, nil
}

func (s *Service) emitCompliance(ctx context.Context, event audit.ComplianceEvent) error {
	if s.compliance == nil {
		return nil
	}
	if err := s.compliance.Emit(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to write attendance audit")
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("outcome", string(dErrors.CodeOf(err))))
		span.SetStatus(codes.Error, dErrors.MessageOf(err))
	} else {
		span.SetAttributes(attribute.String("outcome", "ok"))
	}
	span.End()
}
