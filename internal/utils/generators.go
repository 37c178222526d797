package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// ticketCodeAlphabet avoids 0/O and 1/I so codes survive being read over a
// phone and typed into the manual-entry fallback.
const ticketCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const ticketCodeLength = 8

// GenerateTicketCode returns a fresh "TKT" prefixed uppercase code from a
// high-entropy source. Callers still collision-check against the store; the
// ticket_code unique index is the final arbiter.
func GenerateTicketCode() (string, error) {
	var b strings.Builder
	b.WriteString("TKT")
	max := big.NewInt(int64(len(ticketCodeAlphabet)))
	for i := 0; i < ticketCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("ticket code entropy: %w", err)
		}
		b.WriteByte(ticketCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeTicketCode maps whatever a camera frame or a human typed into the
// canonical form codes are stored in.
func NormalizeTicketCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// GeneratePaymentReference returns a provider-style reference for the
// simulated payment flow.
func GeneratePaymentReference() string {
	timestamp := time.Now().Unix()
	randomNum, _ := rand.Int(rand.Reader, big.NewInt(999999))
	return fmt.Sprintf("OM%d%06d", timestamp, randomNum.Int64())
}
