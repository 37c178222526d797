package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTicketCodeFormat(t *testing.T) {
	code, err := GenerateTicketCode()
	require.NoError(t, err)

	assert.Len(t, code, 11)
	assert.True(t, strings.HasPrefix(code, "TKT"))
	for _, c := range code[3:] {
		assert.Contains(t, ticketCodeAlphabet, string(c))
	}
}

// The alphabet drops the characters that read ambiguously over a phone.
func TestGenerateTicketCodeAvoidsAmbiguousCharacters(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := GenerateTicketCode()
		require.NoError(t, err)
		body := code[3:]
		assert.NotContains(t, body, "0")
		assert.NotContains(t, body, "O")
		assert.NotContains(t, body, "1")
		assert.NotContains(t, body, "I")
	}
}

func TestGenerateTicketCodeUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		code, err := GenerateTicketCode()
		require.NoError(t, err)
		assert.False(t, seen[code], "duplicate code %s after %d draws", code, i)
		seen[code] = true
	}
}

func TestNormalizeTicketCode(t *testing.T) {
	assert.Equal(t, "TKTABCD2345", NormalizeTicketCode("  tktabcd2345 "))
	assert.Equal(t, "TKTABCD2345", NormalizeTicketCode("TKTABCD2345"))
	assert.Equal(t, "", NormalizeTicketCode("   "))
}

func TestGeneratePaymentReference(t *testing.T) {
	ref := GeneratePaymentReference()
	assert.True(t, strings.HasPrefix(ref, "OM"))
	assert.Greater(t, len(ref), 10)
}
