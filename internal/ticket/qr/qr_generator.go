package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"

	"github.com/skip2/go-qrcode"
)

// Payload is what gets encrypted into a ticket's QR image. The ticket code
// alone is enough for the scanner; the rest lets an offline reader show the
// passenger something useful.
type Payload struct {
	TicketID   string `json:"ticket_id"`
	TicketCode string `json:"ticket_code"`
	TripID     string `json:"trip_id"`
	SeatNumber int    `json:"seat_number"`
}

type QRGenerator struct {
	secret []byte
}

func NewQRGenerator(secret string) *QRGenerator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &QRGenerator{secret: hashed[:]}
}

// EncryptPayload produces the string a ticket's QR image carries: the JSON
// payload encrypted and base64-encoded. Scanner devices post this back
// verbatim after decoding the image.
func (q *QRGenerator) EncryptPayload(p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return encryptAES(data, q.secret)
}

// GenerateEncryptedQR encrypts the payload and renders it as a 256px PNG.
func (q *QRGenerator) GenerateEncryptedQR(p Payload) ([]byte, error) {
	encrypted, err := q.EncryptPayload(p)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(encrypted, qrcode.Medium, 256)
}

// DecryptPayload reverses GenerateEncryptedQR's encryption step, turning a
// scanned QR string back into the ticket payload.
func (q *QRGenerator) DecryptPayload(encrypted string) (*Payload, error) {
	data, err := decryptAES(encrypted, q.secret)
	if err != nil {
		return nil, err
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func encryptAES(data []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]

	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

func decryptAES(encoded string, key []byte) ([]byte, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aes.BlockSize {
		return nil, errors.New("ciphertext too short")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	iv := ciphertext[:aes.BlockSize]
	data := make([]byte, len(ciphertext)-aes.BlockSize)
	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(data, ciphertext[aes.BlockSize:])

	return data, nil
}
