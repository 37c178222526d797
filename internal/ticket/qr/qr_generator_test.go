package qr

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	gen := NewQRGenerator("test-secret")

	payload := Payload{
		TicketID:   "ticket-123",
		TicketCode: "TKTABCD2345",
		TripID:     "trip-456",
		SeatNumber: 12,
	}

	encrypted, err := gen.EncryptPayload(payload)
	require.NoError(t, err)

	decrypted, err := gen.DecryptPayload(encrypted)
	require.NoError(t, err)
	assert.Equal(t, payload, *decrypted)
}

func TestDecryptWithWrongSecret(t *testing.T) {
	gen := NewQRGenerator("right-secret")
	other := NewQRGenerator("wrong-secret")

	encrypted, err := gen.EncryptPayload(Payload{TicketCode: "TKTXY234Z9AB"})
	require.NoError(t, err)

	// Wrong key yields garbage bytes, which fail JSON decoding.
	_, err = other.DecryptPayload(encrypted)
	assert.Error(t, err)
}

func TestDecryptRejectsShortCiphertext(t *testing.T) {
	gen := NewQRGenerator("secret")
	_, err := gen.DecryptPayload("c2hvcnQ=")
	assert.Error(t, err)
}

func TestGenerateEncryptedQRProducesPNG(t *testing.T) {
	gen := NewQRGenerator("secret")

	png, err := gen.GenerateEncryptedQR(Payload{
		TicketID:   "ticket-1",
		TicketCode: "TKT23456789",
		TripID:     "trip-1",
		SeatNumber: 3,
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")), "expected PNG magic bytes")
}
