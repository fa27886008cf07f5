package service

import (
	"context"
	"errors"
	"time"

	"rollcall/internal/attendance/store/ledger"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/platform/sentinel"
)

// guard runs a store call behind the breaker. Domain facts reported by the
// store (not found, conflict, already used) count as healthy calls.
func (s *Service) guard(ctx context.Context, op string, fn func() error) error {
	if !s.breaker.Allow() {
		return dErrors.New(dErrors.CodeUnavailable, "attendance storage temporarily unavailable")
	}
	err := fn()
	if err != nil && ctx.Err() != nil {
		// the caller gave up; that says nothing about the store's health
		return err
	}
	if isStoreFault(err) {
		if _, change := s.breaker.RecordFailure(); change.Opened {
			s.metrics.SetBreakerOpen(true)
			s.logger.ErrorContext(ctx, "attendance store breaker opened",
				"op", op,
				"error", err,
			)
		}
		return err
	}
	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.metrics.SetBreakerOpen(false)
		s.logger.InfoContext(ctx, "attendance store breaker closed", "op", op)
	}
	return err
}

func isStoreFault(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound),
		errors.Is(err, sentinel.ErrConflict),
		errors.Is(err, sentinel.ErrAlreadyUsed),
		errors.Is(err, context.Canceled):
		return false
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		// coded errors from the unit of work are already classified
		return de.Code == dErrors.CodeUnavailable || de.Code == dErrors.CodeInternal
	}
	return true
}

// storeError translates an unexpected store failure. Cancellation and
// deadlines surface as timeout, everything else as unavailable.
func storeError(err error, msg string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		switch de.Code {
		case dErrors.CodeUnavailable, dErrors.CodeTimeout:
			return err
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg+": request timed out")
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
}

// commitError translates a TryCommit failure.
func commitError(err error) error {
	var already *ledger.AlreadyRedeemedError
	if errors.As(err, &already) {
		return dErrors.Wrap(err, dErrors.CodeAlreadyRedeemed,
			"attendance already recorded at "+already.RedeemedAt().Format(time.RFC3339))
	}
	if errors.Is(err, sentinel.ErrAlreadyUsed) {
		return dErrors.Wrap(err, dErrors.CodeAlreadyRedeemed, "attendance already recorded")
	}
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.Wrap(err, dErrors.CodeDuplicateID, "record id collision")
	}
	return storeError(err, "failed to record attendance")
}
