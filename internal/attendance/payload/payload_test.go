package payload

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/attendance/models"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
)

func TestEncodeDecode(t *testing.T) {
	tok := &models.Token{
		ID:        id.NewTokenID(),
		Subject:   "Math",
		ExpiresAt: time.Date(2026, 3, 2, 9, 10, 0, 0, time.UTC),
	}

	s, err := Encode(tok)
	require.NoError(t, err)
	assert.NotContains(t, s, "=")
	assert.Less(t, len(s), 80, "payload should stay small enough for a low-density QR code")

	claims, err := Decode(s)
	require.NoError(t, err)
	assert.Equal(t, tok.ID, claims.TokenID)
	assert.Equal(t, "Math", claims.Subject)
	assert.True(t, tok.ExpiresAt.Equal(claims.ExpiresAt))
}

func TestDecode_Rejects(t *testing.T) {
	nilID, err := cbor.Marshal([]any{make([]byte, 16), "Math", int64(0)})
	require.NoError(t, err)
	shortID, err := cbor.Marshal([]any{[]byte{1, 2, 3}, "Math", int64(0)})
	require.NoError(t, err)

	tests := map[string]string{
		"empty":      "",
		"not base64": "***",
		"not cbor":   base64.RawURLEncoding.EncodeToString([]byte{0xff, 0xff}),
		"nil uuid":   base64.RawURLEncoding.EncodeToString(nilID),
		"short uuid": base64.RawURLEncoding.EncodeToString(shortID),
		"too long":   string(make([]byte, MaxEncodedLength+1)),
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(in)
			require.ErrorIs(t, err, dErrors.New(dErrors.CodeInvalidToken, ""))
		})
	}
}
