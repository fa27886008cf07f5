package service

import (
	"context"
	"strings"

	"rollcall/internal/attendance/models"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/requestcontext"
)

// History lists a holder's records, newest first.
func (s *Service) History(ctx context.Context, holder id.UserID) ([]*models.Record, error) {
	if holder.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "holder is required")
	}
	var records []*models.Record
	err := s.guard(ctx, "ledger.list_holder", func() error {
		var err error
		records, err = s.ledger.ListByHolder(ctx, holder)
		return err
	})
	if err != nil {
		return nil, storeError(err, "failed to load attendance history")
	}
	return records, nil
}

// ClassAttendance lists the records of a subject in redemption order. An
// empty day means every day; a non-nil issuer keeps only records it issued.
func (s *Service) ClassAttendance(ctx context.Context, subject string, day models.Day, issuer *id.UserID) ([]*models.Record, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "subject is required")
	}
	if len(subject) > models.MaxSubjectLength {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "subject must be 200 characters or less")
	}
	var records []*models.Record
	err := s.guard(ctx, "ledger.list_subject", func() error {
		var err error
		records, err = s.ledger.ListBySubjectAndDay(ctx, subject, day, issuer)
		return err
	})
	if err != nil {
		return nil, storeError(err, "failed to load class attendance")
	}
	return records, nil
}

// Stats counts a day's records overall and per subject. An empty day means
// today in the configured timezone.
func (s *Service) Stats(ctx context.Context, day models.Day) (models.DayStats, error) {
	if day == "" {
		day = models.DayOf(requestcontext.Now(ctx), s.cfg.Location)
	}
	var stats models.DayStats
	err := s.guard(ctx, "ledger.stats", func() error {
		var err error
		stats, err = s.ledger.StatsForDay(ctx, day)
		return err
	})
	if err != nil {
		return models.DayStats{}, storeError(err, "failed to compute attendance stats")
	}
	if stats.BySubject == nil {
		stats.BySubject = map[string]int{}
	}
	stats.Day = day
	return stats, nil
}
