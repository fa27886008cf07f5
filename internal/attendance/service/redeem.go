package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"rollcall/internal/attendance/models"
	"rollcall/internal/attendance/payload"
	"rollcall/internal/geo"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/platform/audit"
	"rollcall/pkg/platform/tx"
	"rollcall/pkg/requestcontext"
)

// Validation is the outcome of the side-effect free checks of a redemption.
type Validation struct {
	Token          *models.Token
	DistanceMeters float64
}

// ValidateToken runs the lookup, expiry and geofence checks without
// committing anything, so a client can pre-check a scan.
func (s *Service) ValidateToken(ctx context.Context, holder id.UserID, req *models.RedeemRequest) (_ *Validation, err error) {
	ctx, span := s.tracer.Start(ctx, "attendance.ValidateToken")
	defer func() { endSpan(span, err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	v, err := s.check(ctx, req, requestcontext.Now(ctx))
	if err != nil {
		s.reportRejection(ctx, holder, req, err)
		return nil, err
	}
	return v, nil
}

// Redeem commits one attendance record for holder. Checks run in a fixed
// order and the first failure wins:
//
//	invalid_token -> token_expired -> out_of_range -> already_redeemed
//
// Only the final commit has side effects.
func (s *Service) Redeem(ctx context.Context, holder id.UserID, req *models.RedeemRequest) (_ *models.Record, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "attendance.Redeem")
	defer func() {
		endSpan(span, err)
		outcome := "redeemed"
		if err != nil {
			outcome = string(dErrors.CodeOf(err))
		}
		s.metrics.IncRedemption(outcome)
		s.metrics.ObserveRedeemLatency(time.Since(start))
	}()

	if holder.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "holder is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	v, err := s.check(ctx, req, now)
	if err != nil {
		s.reportRejection(ctx, holder, req, err)
		return nil, err
	}
	token := v.Token
	span.SetAttributes(
		attribute.String("token.id", token.ID.String()),
		attribute.Float64("distance_meters", v.DistanceMeters),
	)

	tokenID := token.ID
	record := &models.Record{
		ID:                 id.NewRecordID(),
		HolderID:           holder,
		IssuerID:           token.IssuerID,
		Subject:            token.Subject,
		Day:                models.DayOf(now, s.cfg.Location),
		RedeemedAt:         now,
		Latitude:           *req.Latitude,
		Longitude:          *req.Longitude,
		Method:             req.VerificationMethod,
		BiometricConfirmed: req.VerificationMethod == models.MethodBiometric && req.BiometricConfirmed,
		TokenID:            &tokenID,
	}

	committed, err := s.commit(ctx, record, audit.EventAttendanceMarked, "")
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeAlreadyRedeemed) {
			s.reportRejection(ctx, holder, req, err)
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "attendance recorded",
		"record_id", committed.ID,
		"token_id", token.ID,
		"subject", committed.Subject,
		"day", committed.Day,
		"method", committed.Method,
		"request_id", requestcontext.RequestID(ctx),
	)
	return committed, nil
}

// MarkManual records a holder as present on the issuer's authority, without
// a token. The one-record-per-day rule still applies.
func (s *Service) MarkManual(ctx context.Context, issuer id.UserID, req *models.ManualMarkRequest) (_ *models.Record, err error) {
	ctx, span := s.tracer.Start(ctx, "attendance.MarkManual")
	defer func() { endSpan(span, err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	holder, err := id.ParseUserID(req.HolderID)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	record := &models.Record{
		ID:         id.NewRecordID(),
		HolderID:   holder,
		IssuerID:   issuer,
		Subject:    req.Subject,
		Day:        models.DayOf(now, s.cfg.Location),
		RedeemedAt: now,
		Method:     models.MethodManual,
	}
	if req.Latitude != nil {
		record.Latitude = *req.Latitude
		record.Longitude = *req.Longitude
	}

	committed, err := s.commit(ctx, record, audit.EventManualMark, issuer.String())
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "attendance marked manually",
		"record_id", committed.ID,
		"holder_id", holder,
		"subject", committed.Subject,
		"request_id", requestcontext.RequestID(ctx),
	)
	return committed, nil
}

// check performs steps 1-3: lookup, validity, geofence.
func (s *Service) check(ctx context.Context, req *models.RedeemRequest, now time.Time) (*Validation, error) {
	tokenID, err := resolveTokenID(req)
	if err != nil {
		return nil, err
	}
	token, err := s.findToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if !token.ValidAt(now) {
		return nil, dErrors.New(dErrors.CodeTokenExpired, "token has expired")
	}
	distance := geo.DistanceMeters(token.OriginLat, token.OriginLon, *req.Latitude, *req.Longitude)
	if distance > token.RadiusMeters {
		return nil, dErrors.New(dErrors.CodeOutOfRange, "location is outside the allowed radius")
	}
	return &Validation{Token: token, DistanceMeters: distance}, nil
}

// commit writes the record and its compliance event as one unit of work.
// A context that is already done never reaches the ledger.
func (s *Service) commit(ctx context.Context, record *models.Record, action audit.AuditEvent, actorID string) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "request cancelled before commit")
	}

	var committed *models.Record
	key := record.Key()
	err := s.runner.RunInTx(tx.WithShardKey(ctx, key.String()), func(ctx context.Context) error {
		err := s.guard(ctx, "ledger.commit", func() error {
			var err error
			committed, err = s.ledger.TryCommit(ctx, record)
			return err
		})
		if err != nil {
			return err
		}
		var tokenID string
		if record.TokenID != nil {
			tokenID = record.TokenID.String()
		}
		return s.emitCompliance(ctx, audit.ComplianceEvent{
			Timestamp: record.RedeemedAt,
			UserID:    record.HolderID,
			Subject:   record.Subject,
			Action:    string(action),
			TokenID:   tokenID,
			Day:       record.Day.String(),
			Decision:  string(record.Method),
			RequestID: requestcontext.RequestID(ctx),
			ActorID:   actorID,
		})
	})
	if err != nil {
		translated := commitError(err)
		if dErrors.HasCode(translated, dErrors.CodeDuplicateID) {
			s.logger.ErrorContext(ctx, "record id collision",
				"record_id", record.ID,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return nil, translated
	}
	return committed, nil
}

func resolveTokenID(req *models.RedeemRequest) (id.TokenID, error) {
	if req.Payload != "" {
		claims, err := payload.Decode(req.Payload)
		if err != nil {
			return id.TokenID{}, err
		}
		if req.TokenID != "" && req.TokenID != claims.TokenID.String() {
			return id.TokenID{}, dErrors.New(dErrors.CodeInvalidInput, "token_id does not match payload")
		}
		return claims.TokenID, nil
	}
	tokenID, err := id.ParseTokenID(req.TokenID)
	if err != nil {
		return id.TokenID{}, dErrors.New(dErrors.CodeInvalidToken, "token not recognised")
	}
	return tokenID, nil
}

// reportRejection sends domain rejections to the security audit stream.
// Infrastructure failures are not the holder's doing and are only logged.
func (s *Service) reportRejection(ctx context.Context, holder id.UserID, req *models.RedeemRequest, err error) {
	code := dErrors.CodeOf(err)
	var severity audit.Severity
	switch code {
	case dErrors.CodeInvalidToken, dErrors.CodeOutOfRange:
		severity = audit.SeverityWarning
	case dErrors.CodeTokenExpired, dErrors.CodeAlreadyRedeemed:
		severity = audit.SeverityInfo
	default:
		if dErrors.Retryable(err) {
			s.logger.ErrorContext(ctx, "redemption failed",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return
	}

	s.logger.WarnContext(ctx, "redemption rejected",
		"reason", code,
		"holder_id", holder,
		"request_id", requestcontext.RequestID(ctx),
	)
	if s.security == nil {
		return
	}
	tokenRef := req.TokenID
	if tokenRef == "" {
		if claims, derr := payload.Decode(req.Payload); derr == nil {
			tokenRef = claims.TokenID.String()
		}
	}
	s.security.Emit(ctx, audit.SecurityEvent{
		Timestamp: requestcontext.Now(ctx),
		UserID:    holder,
		Action:    string(audit.EventRedemptionRejected),
		TokenID:   tokenRef,
		Reason:    string(code),
		IP:        requestcontext.ClientIP(ctx),
		Device:    requestcontext.Device(ctx),
		RequestID: requestcontext.RequestID(ctx),
		Severity:  severity,
	})
}
