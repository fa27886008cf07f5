// Package payload encodes issued tokens as compact QR strings: a CBOR array
// [id, subject, exp] rendered as unpadded base64url.
package payload

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"rollcall/internal/attendance/models"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
)

// MaxEncodedLength bounds the accepted string before decoding.
const MaxEncodedLength = 512

type qrPayload struct {
	_       struct{} `cbor:",toarray"`
	ID      []byte
	Subject string
	Exp     int64
}

// Claims is the decoded content of a QR payload. It is advisory: the token
// store remains the source of truth for subject and expiry.
type Claims struct {
	TokenID   id.TokenID
	Subject   string
	ExpiresAt time.Time
}

var decMode cbor.DecMode

func init() {
	var err error
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 16,
		MaxMapPairs:      16,
		MaxNestedLevels:  4,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("payload: cbor decode mode: %v", err))
	}
}

// Encode renders a token as a QR payload.
func Encode(t *models.Token) (string, error) {
	raw := uuid.UUID(t.ID)
	b, err := cbor.Marshal(qrPayload{
		ID:      raw[:],
		Subject: t.Subject,
		Exp:     t.ExpiresAt.Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("encode qr payload: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Decode parses a QR payload. Malformed input is invalid_token, since the
// holder presented something that names no token.
func Decode(s string) (Claims, error) {
	if len(s) == 0 || len(s) > MaxEncodedLength {
		return Claims{}, dErrors.New(dErrors.CodeInvalidToken, "malformed token payload")
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Claims{}, dErrors.Wrap(err, dErrors.CodeInvalidToken, "malformed token payload")
	}
	var p qrPayload
	if err := decMode.Unmarshal(b, &p); err != nil {
		return Claims{}, dErrors.Wrap(err, dErrors.CodeInvalidToken, "malformed token payload")
	}
	u, err := uuid.FromBytes(p.ID)
	if err != nil || u == uuid.Nil {
		return Claims{}, dErrors.New(dErrors.CodeInvalidToken, "malformed token payload")
	}
	return Claims{
		TokenID:   id.TokenID(u),
		Subject:   p.Subject,
		ExpiresAt: time.Unix(p.Exp, 0).UTC(),
	}, nil
}
