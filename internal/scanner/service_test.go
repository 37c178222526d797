package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketa/internal/auth"
	"ticketa/internal/logger"
	"ticketa/internal/models"
	"ticketa/internal/ticket"
	"ticketa/internal/ticket/qr"
)

// Mock implementations for testing

type MockScannerDB struct {
	mu              sync.Mutex
	tickets         map[string]*models.Ticket // keyed by ticket code
	drivers         map[string]*models.Driver // keyed by user ID
	scans           []models.TicketScan
	shouldFailOn    string
	staleActiveRead bool
}

func NewMockScannerDB() *MockScannerDB {
	return &MockScannerDB{
		tickets: make(map[string]*models.Ticket),
		drivers: make(map[string]*models.Driver),
	}
}

func (m *MockScannerDB) GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailOn == "GetTicketByCode" {
		return nil, errors.New("db down")
	}
	t, ok := m.tickets[code]
	if !ok {
		return nil, errors.New("no rows")
	}
	copied := *t
	if m.staleActiveRead {
		// Serve the snapshot a racing device would have seen before the
		// other scan committed.
		copied.Status = models.TicketActive
	}
	return &copied, nil
}

func (m *MockScannerDB) GetDriverByUserID(ctx context.Context, userID string) (*models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[userID]
	if !ok {
		return nil, errors.New("no rows")
	}
	return d, nil
}

// MarkTicketUsed mirrors the conditional update: it only succeeds while the
// stored row is still active.
func (m *MockScannerDB) MarkTicketUsed(ctx context.Context, ticketID, scannedBy string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailOn == "MarkTicketUsed" {
		return false, errors.New("db down")
	}
	for _, t := range m.tickets {
		if t.ID == ticketID {
			if t.Status != models.TicketActive {
				return false, nil
			}
			t.Status = models.TicketUsed
			t.ScannedAt = &at
			t.ScannedBy = scannedBy
			return true, nil
		}
	}
	return false, nil
}

func (m *MockScannerDB) RecordScan(ctx context.Context, scan *models.TicketScan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailOn == "RecordScan" {
		return errors.New("db down")
	}
	m.scans = append(m.scans, *scan)
	return nil
}

func (m *MockScannerDB) ScansByDriver(ctx context.Context, userID string, limit int) ([]models.TicketScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TicketScan
	for i := len(m.scans) - 1; i >= 0 && len(out) < limit; i-- {
		if m.scans[i].ScannedBy == userID {
			out = append(out, m.scans[i])
		}
	}
	return out, nil
}

func (m *MockScannerDB) scanResults() []models.ScanResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ScanResult, len(m.scans))
	for i, s := range m.scans {
		out[i] = s.ScanResult
	}
	return out
}

type MockDebouncer struct {
	seen map[string]bool
	fail bool
}

func (m *MockDebouncer) Seen(ctx context.Context, code string) (bool, error) {
	if m.fail {
		return false, errors.New("redis down")
	}
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[code] {
		return true, nil
	}
	m.seen[code] = true
	return false, nil
}

type MockEmitter struct {
	mu      sync.Mutex
	emitted []models.Ticket
}

func (m *MockEmitter) EmitTicketUpdate(t models.Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitted = append(m.emitted, t)
}

func driverSession() auth.Session {
	return auth.Session{UserID: "driver-user", Roles: []models.AppRole{models.RoleDriver}}
}

func passengerSession() auth.Session {
	return auth.Session{UserID: "passenger-user", Roles: []models.AppRole{models.RolePassenger}}
}

func newTestService(db *MockScannerDB, policy Policy) (*Service, *MockEmitter) {
	emitter := &MockEmitter{}
	svc := NewService(db, nil, nil, emitter, nil, policy, logger.NewLogger())
	return svc, emitter
}

func seedTicket(db *MockScannerDB, code string, status models.TicketStatus, companyID string) *models.Ticket {
	t := &models.Ticket{
		ID:            "ticket-" + code,
		TripID:        "trip-1",
		PassengerName: "Jane Doe",
		SeatNumber:    12,
		TicketCode:    code,
		Status:        status,
		Trip: &models.Trip{
			ID:         "trip-1",
			ScheduleID: "sched-1",
			Status:     models.TripBoarding,
			Schedule: &models.Schedule{
				ID:      "sched-1",
				RouteID: "route-1",
				Route:   &models.Route{ID: "route-1", CompanyID: companyID},
			},
		},
	}
	db.tickets[code] = t
	return t
}

func seedDriver(db *MockScannerDB, companyID string) {
	db.drivers["driver-user"] = &models.Driver{
		ID:        "driver-1",
		UserID:    "driver-user",
		CompanyID: companyID,
		IsActive:  true,
	}
}

func TestScanValidTicket(t *testing.T) {
	db := NewMockScannerDB()
	seedDriver(db, "company-1")
	seedTicket(db, "TKTVALID234", models.TicketActive, "company-1")
	svc, emitter := newTestService(db, Policy{})

	outcome, err := svc.Scan(context.Background(), "tktvalid234", "gate-3", driverSession())
	require.NoError(t, err)

	assert.Equal(t, models.ScanValid, outcome.Result)
	assert.Equal(t, models.TicketUsed, outcome.Ticket.Status)
	assert.Equal(t, "driver-user", outcome.Ticket.ScannedBy)
	assert.NotNil(t, outcome.Ticket.ScannedAt)
	assert.NotEmpty(t, outcome.ScanID)

	assert.Equal(t, []models.ScanResult{models.ScanValid}, db.scanResults())
	assert.Len(t, emitter.emitted, 1)
}

func TestScanTwiceSecondRejected(t *testing.T) {
	db := NewMockScannerDB()
	seedDriver(db, "company-1")
	seedTicket(db, "TKTTWICE234", models.TicketActive, "company-1")
	svc, _ := newTestService(db, Policy{})

	_, err := svc.Scan(context.Background(), "TKTTWICE234", "", driverSession())
	require.NoError(t, err)

	outcome, err := svc.Scan(context.Background(), "TKTTWICE234", "", driverSession())
	assert.ErrorIs(t, err, ErrAlreadyUsed)
	assert.Equal(t, models.ScanAlreadyUsed, outcome.Result)

	// No second mutation: scanned_by/at keep the first scan's values.
	assert.Equal(t, models.TicketUsed, db.tickets["TKTTWICE234"].Status)
	assert.Equal(t, []models.ScanResult{models.ScanValid, models.ScanAlreadyUsed}, db.scanResults())
}

func TestScanUnknownCode(t *testing.T) {
	db := NewMockScannerDB()
	seedDriver(db, "company-1")
	svc, _ := newTestService(db, Policy{})

	outcome, err := svc.Scan(context.Background(), "TKTNOSUCH23", "", driverSession())
	assert.ErrorIs(t, err, ErrTicketNotFound)
	assert.Nil(t, outcome)

	// Nothing to audit: no ticket row exists to reference.
	assert.Empty(t, db.scanResults())
}

func TestScanExpiredTicket(t *testing.T) {
	db := NewMockScannerDB()
	seedDriver(db, "company-1")
	seedTicket(db, "TKTEXPIRD23", models.TicketExpired, "company-1")
	svc, _ := newTestService(db, Policy{})

	outcome, err := svc.Scan(context.Background(), "TKTEXPIRD23", "", driverSession())

	var invalid *ticket.InvalidStatusError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.TicketExpired, invalid.Status)
	assert.Equal(t, models.ScanExpired, outcome.Result)
	assert.Equal(t, models.TicketExpired, db.tickets["TKTEXPIRD23"].Status)
}

func TestScanCancelledTicket(t *testing.T) {
	db := NewMockScannerDB()
	seedDriver(db, "company-1")
	seedTicket(db, "TKTCANCEL23", models.TicketCancelled, "company-1")
	svc, _ := newTestService(db, Policy{})

	outcome, err := svc.Scan(context.Background(), "TKTCANCEL23", "", driverSession())

	var invalid *ticket.InvalidStatusError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.ScanInvalid, outcome.Result)
	assert.Equal(t, models.TicketCancelled, db.tickets["TKTCANCEL23"].Status)
}

func TestScanLostRace(t *testing.T) {
	db := NewMockScannerDB()
	seedDriver(db, "company-1")
	seeded := seedTicket(db, "TKTRACE2345", models.TicketActive, "company-1")
	svc, _ := newTestService(db, Policy{})

	// Another device commits between this scan's read and its conditional
	// update: the read still sees active, the update finds used.
	won, err := db.MarkTicketUsed(context.Background(), seeded.ID, "other-device", time.Now())
	require.NoError(t, err)
	require.True(t, won)
	db.staleActiveRead = true

	outcome, err := svc.Scan(context.Background(), "TKTRACE2345", "", driverSession())
	assert.ErrorIs(t, err, ErrAlreadyUsed)
	assert.Equal(t, models.ScanAlreadyUsed, outcome.Result)
	assert.Equal(t, "other-device", db.tickets["TKTRACE2345"].ScannedBy)
}

func TestScanWrongCompanyWithPolicyOn(t *testing.T) {
	db := NewMockScannerDB()
	seedDriver(db, "company-1")
	seedTicket(db, "TKTOTHERCO2", models.TicketActive, "company-2")
	svc, _ := newTestService(db, Policy{EnforceCompanyMatch: true})

	outcome, err := svc.Scan(context.Background(), "TKTOTHERCO2", "", driverSession())
	assert.ErrorIs(t, err, ErrWrongCompany)
	assert.Equal(t, models.ScanWrongBus, outcome.Result)
	assert.Equal(t, models.TicketActive, db.tickets["TKTOTHERCO2"].Status)
	assert.Equal(t, []models.ScanResult{models.ScanWrongBus}, db.scanResults())
}

func TestScanWrongCompanyWithPolicyOff(t *testing.T) {
	db := NewMockScannerDB()
	seedDriver(db, "company-1")
	seedTicket(db, "TKTOTHERCO3", models.TicketActive, "company-2")
	svc, _ := newTestService(db, Policy{EnforceCompanyMatch: false})

	outcome, err := svc.Scan(context.Background(), "TKTOTHERCO3", "", driverSession())
	require.NoError(t, err)
	assert.Equal(t, models.ScanValid, outcome.Result)
}

// A camera device posts the QR image's decoded content, which is the
// encrypted payload, not the printed code.
func TestScanEncryptedQRPayload(t *testing.T) {
	db := NewMockScannerDB()
	seedDriver(db, "company-1")
	seedTicket(db, "TKTQRCAM234", models.TicketActive, "company-1")
	gen := qr.NewQRGenerator("scan-secret")
	svc := NewService(db, nil, nil, nil, gen, Policy{}, logger.NewLogger())

	blob, err := gen.EncryptPayload(qr.Payload{
		TicketID:   "ticket-TKTQRCAM234",
		TicketCode: "TKTQRCAM234",
		TripID:     "trip-1",
		SeatNumber: 12,
	})
	require.NoError(t, err)

	outcome, err := svc.Scan(context.Background(), blob, "gate-1", driverSession())
	require.NoError(t, err)
	assert.Equal(t, models.ScanValid, outcome.Result)
	assert.Equal(t, models.TicketUsed, db.tickets["TKTQRCAM234"].Status)

	// Hand-typed codes keep working alongside the camera path.
	seedTicket(db, "TKTMANUAL23", models.TicketActive, "company-1")
	outcome, err = svc.Scan(context.Background(), "tktmanual23", "gate-1", driverSession())
	require.NoError(t, err)
	assert.Equal(t, models.ScanValid, outcome.Result)
}

func TestScanEncryptedQRWrongSecret(t *testing.T) {
	db := NewMockScannerDB()
	seedDriver(db, "company-1")
	seedTicket(db, "TKTQRCAM234", models.TicketActive, "company-1")
	gen := qr.NewQRGenerator("scan-secret")
	svc := NewService(db, nil, nil, nil, gen, Policy{}, logger.NewLogger())

	// A blob issued under a different key decrypts to garbage and falls
	// through to the code lookup, which cannot match it.
	blob, err := qr.NewQRGenerator("other-secret").EncryptPayload(qr.Payload{TicketCode: "TKTQRCAM234"})
	require.NoError(t, err)

	_, err = svc.Scan(context.Background(), blob, "", driverSession())
	assert.ErrorIs(t, err, ErrTicketNotFound)
	assert.Equal(t, models.TicketActive, db.tickets["TKTQRCAM234"].Status)
}

func TestScanRequiresDriverRole(t *testing.T) {
	db := NewMockScannerDB()
	seedTicket(db, "TKTNOROLE23", models.TicketActive, "company-1")
	svc, _ := newTestService(db, Policy{})

	_, err := svc.Scan(context.Background(), "TKTNOROLE23", "", passengerSession())
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestScanRequiresDriverProfile(t *testing.T) {
	db := NewMockScannerDB()
	seedTicket(db, "TKTNODRIVR2", models.TicketActive, "company-1")
	svc, _ := newTestService(db, Policy{})

	_, err := svc.Scan(context.Background(), "TKTNODRIVR2", "", driverSession())
	assert.ErrorIs(t, err, ErrDriverNotFound)
}

func TestScanDebounceSuppressesRepeats(t *testing.T) {
	db := NewMockScannerDB()
	seedDriver(db, "company-1")
	seedTicket(db, "TKTDEBOUNC2", models.TicketActive, "company-1")
	emitter := &MockEmitter{}
	svc := NewService(db, &MockDebouncer{}, nil, emitter, nil, Policy{}, logger.NewLogger())

	_, err := svc.Scan(context.Background(), "TKTDEBOUNC2", "", driverSession())
	require.NoError(t, err)

	_, err = svc.Scan(context.Background(), "TKTDEBOUNC2", "", driverSession())
	assert.ErrorIs(t, err, ErrDuplicateScan)

	// Duplicate frames are not audited.
	assert.Equal(t, []models.ScanResult{models.ScanValid}, db.scanResults())
}

func TestScanContinuesWhenDebounceFails(t *testing.T) {
	db := NewMockScannerDB()
	seedDriver(db, "company-1")
	seedTicket(db, "TKTREDISDWN", models.TicketActive, "company-1")
	svc := NewService(db, &MockDebouncer{fail: true}, nil, nil, nil, Policy{}, logger.NewLogger())

	outcome, err := svc.Scan(context.Background(), "TKTREDISDWN", "", driverSession())
	require.NoError(t, err)
	assert.Equal(t, models.ScanValid, outcome.Result)
}

func TestConcurrentScansExactlyOneWins(t *testing.T) {
	db := NewMockScannerDB()
	seedDriver(db, "company-1")
	seedTicket(db, "TKTCONCURR2", models.TicketActive, "company-1")
	svc, _ := newTestService(db, Policy{})

	const n = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	valid, rejected := 0, 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := svc.Scan(context.Background(), "TKTCONCURR2", "", driverSession())
			mu.Lock()
			defer mu.Unlock()
			if err == nil && outcome.Result == models.ScanValid {
				valid++
			} else {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, valid, "exactly one scan should win")
	assert.Equal(t, n-1, rejected)
	assert.Equal(t, models.TicketUsed, db.tickets["TKTCONCURR2"].Status)
}

func TestHistoryRequiresScanRole(t *testing.T) {
	db := NewMockScannerDB()
	svc, _ := newTestService(db, Policy{})

	_, err := svc.History(context.Background(), passengerSession(), 10)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestHistoryReturnsDriversScans(t *testing.T) {
	db := NewMockScannerDB()
	seedDriver(db, "company-1")
	seedTicket(db, "TKTHIST2345", models.TicketActive, "company-1")
	svc, _ := newTestService(db, Policy{})

	_, err := svc.Scan(context.Background(), "TKTHIST2345", "", driverSession())
	require.NoError(t, err)

	scans, err := svc.History(context.Background(), driverSession(), 0)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, models.ScanValid, scans[0].ScanResult)
}
