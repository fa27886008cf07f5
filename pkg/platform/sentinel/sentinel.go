package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into domain error codes.
//
//   - ErrNotFound: entity does not exist in the store
//   - ErrConflict: a row with the same key already exists
//   - ErrExpired: token has passed its expiry
//   - ErrAlreadyUsed: the (holder, subject, day) slot is already taken
//   - ErrInvalidState: entity in the wrong state for the operation
//   - ErrUnavailable: backing store temporarily unreachable
//
// Validation failures use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
