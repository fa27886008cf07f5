package models

import (
	"strings"

	"rollcall/internal/geo"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
)

// IssueTokenRequest is the body of POST /attendance/tokens.
type IssueTokenRequest struct {
	Subject         string   `json:"subject"`
	Latitude        *float64 `json:"latitude"`
	Longitude       *float64 `json:"longitude"`
	RadiusMeters    *float64 `json:"radius_meters,omitempty"`
	DurationMinutes *int     `json:"duration_minutes,omitempty"`
}

func (r *IssueTokenRequest) Normalize() {
	if r == nil {
		return
	}
	r.Subject = strings.TrimSpace(r.Subject)
}

// Follows validation order: Size -> Required -> Syntax -> Semantic.
func (r *IssueTokenRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.Subject) > MaxSubjectLength {
		return dErrors.New(dErrors.CodeInvalidInput, "subject must be 200 characters or less")
	}
	if r.Subject == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "subject is required")
	}
	if r.Latitude == nil || r.Longitude == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "latitude and longitude are required")
	}
	if !geo.ValidCoordinate(*r.Latitude, *r.Longitude) {
		return dErrors.New(dErrors.CodeInvalidInput, "latitude must be in [-90,90] and longitude in [-180,180]")
	}
	if r.RadiusMeters != nil && *r.RadiusMeters <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "radius_meters must be positive")
	}
	if r.DurationMinutes != nil && *r.DurationMinutes <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "duration_minutes must be positive")
	}
	return nil
}

// RedeemRequest is the body of POST /attendance/redeem and /attendance/tokens/validate.
// Either TokenID or Payload identifies the token.
type RedeemRequest struct {
	TokenID            string             `json:"token_id,omitempty"`
	Payload            string             `json:"payload,omitempty"`
	Latitude           *float64           `json:"latitude"`
	Longitude          *float64           `json:"longitude"`
	VerificationMethod VerificationMethod `json:"verification_method,omitempty"`
	BiometricConfirmed bool               `json:"biometric_confirmed,omitempty"`
}

func (r *RedeemRequest) Normalize() {
	if r == nil {
		return
	}
	r.TokenID = strings.TrimSpace(r.TokenID)
	r.Payload = strings.TrimSpace(r.Payload)
	r.VerificationMethod = VerificationMethod(strings.ToLower(strings.TrimSpace(string(r.VerificationMethod))))
	if r.VerificationMethod == "" {
		r.VerificationMethod = MethodToken
	}
}

func (r *RedeemRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.Payload) > 512 {
		return dErrors.New(dErrors.CodeInvalidInput, "payload is too large")
	}
	if r.TokenID == "" && r.Payload == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "token_id or payload is required")
	}
	if r.Latitude == nil || r.Longitude == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "latitude and longitude are required")
	}
	if !geo.ValidCoordinate(*r.Latitude, *r.Longitude) {
		return dErrors.New(dErrors.CodeInvalidInput, "latitude must be in [-90,90] and longitude in [-180,180]")
	}
	if !r.VerificationMethod.Redeemable() {
		return dErrors.New(dErrors.CodeInvalidInput, "verification_method must be 'token' or 'biometric'")
	}
	if r.VerificationMethod == MethodBiometric && !r.BiometricConfirmed {
		return dErrors.New(dErrors.CodeInvalidInput, "biometric verification was not confirmed")
	}
	return nil
}

// ManualMarkRequest is the body of POST /attendance/manual.
type ManualMarkRequest struct {
	HolderID  string   `json:"holder_id"`
	Subject   string   `json:"subject"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

func (r *ManualMarkRequest) Normalize() {
	if r == nil {
		return
	}
	r.HolderID = strings.TrimSpace(r.HolderID)
	r.Subject = strings.TrimSpace(r.Subject)
}

func (r *ManualMarkRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.Subject) > MaxSubjectLength {
		return dErrors.New(dErrors.CodeInvalidInput, "subject must be 200 characters or less")
	}
	if r.HolderID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "holder_id is required")
	}
	if r.Subject == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "subject is required")
	}
	if _, err := id.ParseUserID(r.HolderID); err != nil {
		return err
	}
	if (r.Latitude == nil) != (r.Longitude == nil) {
		return dErrors.New(dErrors.CodeInvalidInput, "latitude and longitude must be given together")
	}
	if r.Latitude != nil && !geo.ValidCoordinate(*r.Latitude, *r.Longitude) {
		return dErrors.New(dErrors.CodeInvalidInput, "latitude must be in [-90,90] and longitude in [-180,180]")
	}
	return nil
}
