package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ticketa/internal/auth"
	"ticketa/internal/logger"
	"ticketa/internal/models"
	"ticketa/internal/ticket"
	"ticketa/internal/ticket/qr"
	"ticketa/internal/utils"
)

// Scan rejections. All are semantic, none retryable.
var (
	ErrTicketNotFound = errors.New("ticket not found")
	ErrAlreadyUsed    = errors.New("ticket has already been scanned")
	ErrDriverNotFound = errors.New("driver profile not found")
	ErrWrongCompany   = errors.New("ticket belongs to another company's trip")
	ErrDuplicateScan  = errors.New("duplicate scan suppressed")
	ErrNotAuthorized  = errors.New("caller may not scan tickets")
)

type DBLayer interface {
	GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error)
	GetDriverByUserID(ctx context.Context, userID string) (*models.Driver, error)
	// MarkTicketUsed performs the conditional active -> used transition and
	// reports whether this caller won it. Zero rows affected means another
	// scan got there first.
	MarkTicketUsed(ctx context.Context, ticketID, scannedBy string, at time.Time) (bool, error)
	RecordScan(ctx context.Context, scan *models.TicketScan) error
	ScansByDriver(ctx context.Context, userID string, limit int) ([]models.TicketScan, error)
}

// Debouncer suppresses repeat decodes of the same code from a continuous
// camera feed. Purely a client-courtesy: the conditional update in the store
// is what actually rejects duplicates.
type Debouncer interface {
	Seen(ctx context.Context, code string) (bool, error)
}

type Publisher interface {
	PublishTicketScanned(t models.Ticket, scan models.TicketScan) error
}

// Emitter pushes live ticket updates to boarding-progress subscribers.
type Emitter interface {
	EmitTicketUpdate(t models.Ticket)
}

// Policy is the configurable half of scan authorization. The original
// platform ran a shared driver pool, so the company cross-check is off
// unless deployment config turns it on.
type Policy struct {
	EnforceCompanyMatch bool
}

type Outcome struct {
	Result models.ScanResult `json:"result"`
	Ticket *models.Ticket    `json:"ticket,omitempty"`
	ScanID string            `json:"scan_id,omitempty"`
}

type Service struct {
	DB       DBLayer
	Debounce Debouncer
	Kafka    Publisher
	Live     Emitter
	QR       *qr.QRGenerator
	Policy   Policy
	Logger   *logger.Logger
}

func NewService(db DBLayer, debounce Debouncer, kafka Publisher, live Emitter, qrGen *qr.QRGenerator, policy Policy, log *logger.Logger) *Service {
	return &Service{DB: db, Debounce: debounce, Kafka: kafka, Live: live, QR: qrGen, Policy: policy, Logger: log}
}

// Scan attempts to consume exactly one ticket. Camera frames and manual
// entry both land here; the code is normalized first so case and whitespace
// never matter. Every attempt that resolves to a ticket leaves an immutable
// audit row, whatever the outcome.
func (s *Service) Scan(ctx context.Context, rawCode, location string, session auth.Session) (*Outcome, error) {
	if !session.CanScanTickets() {
		return nil, ErrNotAuthorized
	}

	code := s.resolveCode(rawCode)
	if code == "" {
		return nil, ErrTicketNotFound
	}

	if s.Debounce != nil {
		seen, err := s.Debounce.Seen(ctx, code)
		if err != nil {
			// Redis being down must not stop boarding; fall through to the
			// store, which rejects duplicates on its own.
			s.Logger.Warn("SCAN", fmt.Sprintf("debounce check failed: %v", err))
		} else if seen {
			return nil, ErrDuplicateScan
		}
	}

	driver, err := s.DB.GetDriverByUserID(ctx, session.UserID)
	if err != nil {
		s.Logger.LogScan("REJECT", code, "no driver profile for "+session.UserID)
		return nil, ErrDriverNotFound
	}

	t, err := s.DB.GetTicketByCode(ctx, code)
	if err != nil {
		// No ticket row to hang an audit record on; the rejection still
		// leaves a trace in the log stream.
		s.Logger.LogScan("NOT_FOUND", code, "unknown ticket code")
		return nil, ErrTicketNotFound
	}

	if s.Policy.EnforceCompanyMatch {
		if companyID := t.Trip.CompanyID(); companyID != "" && companyID != driver.CompanyID {
			scan := s.record(ctx, t, session.UserID, models.ScanWrongBus, location)
			return &Outcome{Result: models.ScanWrongBus, Ticket: t, ScanID: scan}, ErrWrongCompany
		}
	}

	switch t.Status {
	case models.TicketUsed:
		scan := s.record(ctx, t, session.UserID, models.ScanAlreadyUsed, location)
		return &Outcome{Result: models.ScanAlreadyUsed, Ticket: t, ScanID: scan}, ErrAlreadyUsed
	case models.TicketExpired:
		scan := s.record(ctx, t, session.UserID, models.ScanExpired, location)
		return &Outcome{Result: models.ScanExpired, Ticket: t, ScanID: scan}, &ticket.InvalidStatusError{Status: t.Status}
	case models.TicketCancelled:
		scan := s.record(ctx, t, session.UserID, models.ScanInvalid, location)
		return &Outcome{Result: models.ScanInvalid, Ticket: t, ScanID: scan}, &ticket.InvalidStatusError{Status: t.Status}
	}

	// Active: the conditional update is the only writer of the used state.
	// Losing it means another device scanned the same ticket concurrently.
	now := time.Now()
	won, err := s.DB.MarkTicketUsed(ctx, t.ID, session.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to mark ticket used: %w", err)
	}
	if !won {
		scan := s.record(ctx, t, session.UserID, models.ScanAlreadyUsed, location)
		return &Outcome{Result: models.ScanAlreadyUsed, Ticket: t, ScanID: scan}, ErrAlreadyUsed
	}

	t.Status = models.TicketUsed
	t.ScannedAt = &now
	t.ScannedBy = session.UserID

	scan := models.TicketScan{
		ID:           uuid.NewString(),
		TicketID:     t.ID,
		ScannedBy:    session.UserID,
		ScanResult:   models.ScanValid,
		ScanLocation: location,
		CreatedAt:    now,
	}
	if err := s.DB.RecordScan(ctx, &scan); err != nil {
		// The transition already happened; losing the audit row is worth a
		// loud error but not a failed boarding.
		s.Logger.Error("SCAN", fmt.Sprintf("failed to record valid scan for %s: %v", t.ID, err))
	}

	if s.Kafka != nil {
		if err := s.Kafka.PublishTicketScanned(*t, scan); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("ticket scanned publish failed: %v", err))
		}
	}
	if s.Live != nil {
		s.Live.EmitTicketUpdate(*t)
	}

	s.Logger.LogScan("VALID", code, fmt.Sprintf("%s seat %d boarded", t.PassengerName, t.SeatNumber))
	return &Outcome{Result: models.ScanValid, Ticket: t, ScanID: scan.ID}, nil
}

// resolveCode accepts both entry paths. Camera devices post the QR image's
// content, which is the booking side's encrypted payload; manual entry posts
// the printed code. Decryption is tried first, and anything that does not
// decrypt is treated as a typed code.
func (s *Service) resolveCode(rawCode string) string {
	if s.QR != nil {
		if p, err := s.QR.DecryptPayload(strings.TrimSpace(rawCode)); err == nil && p.TicketCode != "" {
			return utils.NormalizeTicketCode(p.TicketCode)
		}
	}
	return utils.NormalizeTicketCode(rawCode)
}

// History returns the driver's recent scan attempts, newest first.
func (s *Service) History(ctx context.Context, session auth.Session, limit int) ([]models.TicketScan, error) {
	if !session.CanScanTickets() {
		return nil, ErrNotAuthorized
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.DB.ScansByDriver(ctx, session.UserID, limit)
}

// record appends a rejection audit row. Outcomes are best-effort here; the
// scan result the caller sees does not depend on the audit write.
func (s *Service) record(ctx context.Context, t *models.Ticket, scannedBy string, result models.ScanResult, location string) string {
	scan := models.TicketScan{
		ID:           uuid.NewString(),
		TicketID:     t.ID,
		ScannedBy:    scannedBy,
		ScanResult:   result,
		ScanLocation: location,
		CreatedAt:    time.Now(),
	}
	if err := s.DB.RecordScan(ctx, &scan); err != nil {
		s.Logger.Error("SCAN", fmt.Sprintf("failed to record %s scan for %s: %v", result, t.ID, err))
		return ""
	}
	s.Logger.LogScan(string(result), t.TicketCode, fmt.Sprintf("rejected scan by %s", scannedBy))
	return scan.ID
}
