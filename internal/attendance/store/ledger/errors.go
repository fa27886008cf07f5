// Package ledger persists committed attendance records and enforces one
// record per holder, subject and day.
package ledger

import (
	"fmt"
	"time"

	"rollcall/internal/attendance/models"
	"rollcall/pkg/platform/sentinel"
)

// AlreadyRedeemedError is returned by TryCommit when the (holder, subject, day)
// slot is taken. It carries the record that holds the slot.
type AlreadyRedeemedError struct {
	Existing *models.Record
}

func (e *AlreadyRedeemedError) Error() string {
	if e.Existing == nil {
		return "attendance already recorded"
	}
	return fmt.Sprintf("attendance already recorded for %s on %s at %s",
		e.Existing.Subject, e.Existing.Day, e.Existing.RedeemedAt.Format(time.RFC3339))
}

func (e *AlreadyRedeemedError) Unwrap() error {
	return sentinel.ErrAlreadyUsed
}

// RedeemedAt returns when the existing record was committed.
func (e *AlreadyRedeemedError) RedeemedAt() time.Time {
	if e.Existing == nil {
		return time.Time{}
	}
	return e.Existing.RedeemedAt
}

func alreadyRedeemed(existing *models.Record) error {
	clone := *existing
	return &AlreadyRedeemedError{Existing: &clone}
}
