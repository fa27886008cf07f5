package models

import "time"

type IssueTokenResponse struct {
	TokenID      string    `json:"token_id"`
	Subject      string    `json:"subject"`
	ExpiresAt    time.Time `json:"expires_at"`
	RadiusMeters float64   `json:"radius_meters"`
	Payload      string    `json:"payload"`
}

type ValidateTokenResponse struct {
	TokenID        string    `json:"token_id"`
	Subject        string    `json:"subject"`
	IssuerID       string    `json:"issuer_id"`
	ExpiresAt      time.Time `json:"expires_at"`
	DistanceMeters float64   `json:"distance_meters"`
}

type RecordResponse struct {
	ID                 string    `json:"id"`
	HolderID           string    `json:"holder_id"`
	IssuerID           string    `json:"issuer_id"`
	Subject            string    `json:"subject"`
	Day                string    `json:"day"`
	RedeemedAt         time.Time `json:"redeemed_at"`
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	VerificationMethod string    `json:"verification_method"`
	BiometricConfirmed bool      `json:"biometric_confirmed"`
	TokenID            *string   `json:"token_id,omitempty"`
}

type RecordListResponse struct {
	Records []RecordResponse `json:"records"`
	Count   int              `json:"count"`
}

type RevokeTokenResponse struct {
	TokenID string `json:"token_id"`
	Active  bool   `json:"active"`
}

type StatsResponse struct {
	Day       string         `json:"day"`
	Total     int            `json:"total"`
	BySubject map[string]int `json:"by_subject"`
}

func ToRecordResponse(r *Record) RecordResponse {
	resp := RecordResponse{
		ID:                 r.ID.String(),
		HolderID:           r.HolderID.String(),
		IssuerID:           r.IssuerID.String(),
		Subject:            r.Subject,
		Day:                string(r.Day),
		RedeemedAt:         r.RedeemedAt,
		Latitude:           r.Latitude,
		Longitude:          r.Longitude,
		VerificationMethod: string(r.Method),
		BiometricConfirmed: r.BiometricConfirmed,
	}
	if r.TokenID != nil {
		s := r.TokenID.String()
		resp.TokenID = &s
	}
	return resp
}

func ToRecordListResponse(records []*Record) RecordListResponse {
	out := make([]RecordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, ToRecordResponse(r))
	}
	return RecordListResponse{Records: out, Count: len(out)}
}
