package models

import (
	"strings"
	"time"

	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
)

const (
	DefaultRadiusMeters    = 100.0
	DefaultDurationMinutes = 10
	MaxSubjectLength       = 200
)

// VerificationMethod records how a holder proved presence.
type VerificationMethod string

const (
	MethodToken     VerificationMethod = "token"
	MethodBiometric VerificationMethod = "biometric"
	MethodManual    VerificationMethod = "manual"
)

func (m VerificationMethod) IsValid() bool {
	switch m {
	case MethodToken, MethodBiometric, MethodManual:
		return true
	}
	return false
}

// Redeemable reports whether holders may use the method when presenting a token.
// Manual marks are entered by the issuer without a token.
func (m VerificationMethod) Redeemable() bool {
	return m == MethodToken || m == MethodBiometric
}

// Token is a short-lived, location-bound attendance code.
type Token struct {
	ID           id.TokenID
	IssuerID     id.UserID
	Subject      string
	OriginLat    float64
	OriginLon    float64
	RadiusMeters float64
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Active       bool
}

// NewToken builds an active token and enforces the token invariants.
func NewToken(tokenID id.TokenID, issuer id.UserID, subject string, lat, lon, radiusMeters float64, issuedAt time.Time, ttl time.Duration) (*Token, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "subject is required")
	}
	if issuer.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "issuer is required")
	}
	if radiusMeters <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "radius must be positive")
	}
	if ttl <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "duration must be positive")
	}
	return &Token{
		ID:           tokenID,
		IssuerID:     issuer,
		Subject:      subject,
		OriginLat:    lat,
		OriginLon:    lon,
		RadiusMeters: radiusMeters,
		IssuedAt:     issuedAt,
		ExpiresAt:    issuedAt.Add(ttl),
		Active:       true,
	}, nil
}

// ValidAt reports whether the token can be redeemed at now. The expiry
// instant itself is still valid.
func (t *Token) ValidAt(now time.Time) bool {
	return t.Active && !now.After(t.ExpiresAt)
}

// Record is an immutable, committed redemption.
type Record struct {
	ID                 id.RecordID
	HolderID           id.UserID
	IssuerID           id.UserID
	Subject            string
	Day                Day
	RedeemedAt         time.Time
	Latitude           float64
	Longitude          float64
	Method             VerificationMethod
	BiometricConfirmed bool
	TokenID            *id.TokenID
}

// Key is the uniqueness triple of a record.
func (r *Record) Key() RecordKey {
	return RecordKey{HolderID: r.HolderID, Subject: r.Subject, Day: r.Day}
}

// RecordKey identifies the single record a holder may have per subject and day.
type RecordKey struct {
	HolderID id.UserID
	Subject  string
	Day      Day
}

func (k RecordKey) String() string {
	return k.HolderID.String() + "|" + k.Subject + "|" + string(k.Day)
}

// DayStats summarises a day's records.
type DayStats struct {
	Day       Day
	Total     int
	BySubject map[string]int
}
