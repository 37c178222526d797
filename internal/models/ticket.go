package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketActive    TicketStatus = "active"
	TicketUsed      TicketStatus = "used"
	TicketExpired   TicketStatus = "expired"
	TicketCancelled TicketStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Ticket is a sold, seat-specific right to board a Trip. Rows are never
// deleted, only status-transitioned. At most one non-cancelled ticket may
// exist per (trip_id, seat_number); the partial unique index in the schema
// enforces that.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID               string        `bun:"id,pk" json:"id"`
	TripID           string        `bun:"trip_id,notnull" json:"trip_id"`
	PassengerID      string        `bun:"passenger_id,nullzero" json:"passenger_id,omitempty"`
	PassengerName    string        `bun:"passenger_name,notnull" json:"passenger_name"`
	PassengerPhone   string        `bun:"passenger_phone,notnull" json:"passenger_phone"`
	SeatNumber       int           `bun:"seat_number,notnull" json:"seat_number"`
	TicketCode       string        `bun:"ticket_code,unique,notnull" json:"ticket_code"`
	QRCode           []byte        `bun:"qr_code" json:"-"`
	Status           TicketStatus  `bun:"status,notnull,default:'active'" json:"status"`
	PricePaid        float64       `bun:"price_paid,notnull" json:"price_paid"`
	PaymentStatus    PaymentStatus `bun:"payment_status,notnull,default:'pending'" json:"payment_status"`
	PaymentReference string        `bun:"payment_reference,nullzero" json:"payment_reference,omitempty"`
	PurchasedAt      time.Time     `bun:"purchased_at,notnull,default:current_timestamp" json:"purchased_at"`
	ScannedAt        *time.Time    `bun:"scanned_at,nullzero" json:"scanned_at,omitempty"`
	ScannedBy        string        `bun:"scanned_by,nullzero" json:"scanned_by,omitempty"`

	Trip *Trip `bun:"rel:belongs-to,join:trip_id=id" json:"trip,omitempty"`
}

type ScanResult string

const (
	ScanValid       ScanResult = "valid"
	ScanInvalid     ScanResult = "invalid"
	ScanAlreadyUsed ScanResult = "already_used"
	ScanWrongBus    ScanResult = "wrong_bus"
	ScanExpired     ScanResult = "expired"
)

// TicketScan is an append-only audit record of one scan attempt. Write-once;
// one ticket may accumulate several rows but only the first valid scan
// transitions it.
type TicketScan struct {
	bun.BaseModel `bun:"table:ticket_scans"`

	ID           string     `bun:"id,pk" json:"id"`
	TicketID     string     `bun:"ticket_id,notnull" json:"ticket_id"`
	ScannedBy    string     `bun:"scanned_by,notnull" json:"scanned_by"`
	ScanResult   ScanResult `bun:"scan_result,notnull" json:"scan_result"`
	ScanLocation string     `bun:"scan_location,nullzero" json:"scan_location,omitempty"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`

	Ticket *Ticket `bun:"rel:belongs-to,join:ticket_id=id" json:"ticket,omitempty"`
}
