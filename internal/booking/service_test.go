package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketa/internal/auth"
	"ticketa/internal/logger"
	"ticketa/internal/models"
)

// Mock implementations for testing

type MockBookingDB struct {
	mu         sync.Mutex
	trips      map[string]*models.Trip
	tickets    map[string]*models.Ticket // keyed by ticket ID
	seatOwners map[string]string         // "trip:seat" -> ticket ID, non-cancelled only
	codes      map[string]bool
}

func NewMockBookingDB() *MockBookingDB {
	return &MockBookingDB{
		trips:      make(map[string]*models.Trip),
		tickets:    make(map[string]*models.Ticket),
		seatOwners: make(map[string]string),
		codes:      make(map[string]bool),
	}
}

func seatKey(tripID string, seat int) string {
	return fmt.Sprintf("%s:%d", tripID, seat)
}

func (m *MockBookingDB) GetTripForBooking(ctx context.Context, tripID string) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return nil, errors.New("no rows")
	}
	copied := *t
	return &copied, nil
}

func (m *MockBookingDB) BookedSeats(ctx context.Context, tripID string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var seats []int
	for _, t := range m.tickets {
		if t.TripID == tripID && t.Status != models.TicketCancelled {
			seats = append(seats, t.SeatNumber)
		}
	}
	return seats, nil
}

func (m *MockBookingDB) TicketCodeExists(ctx context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[code], nil
}

// AllocateTicket mirrors the transactional insert: the seat-owner map plays
// the partial unique index, the trip counter the conditional decrement.
func (m *MockBookingDB) AllocateTicket(ctx context.Context, t *models.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := seatKey(t.TripID, t.SeatNumber)
	if _, taken := m.seatOwners[key]; taken {
		return ErrSeatTaken
	}

	trip, ok := m.trips[t.TripID]
	if !ok || trip.Status != models.TripScheduled || trip.AvailableSeats <= 0 {
		return ErrTripSoldOut
	}
	trip.AvailableSeats--

	m.tickets[t.ID] = t
	m.seatOwners[key] = t.ID
	m.codes[t.TicketCode] = true
	return nil
}

func (m *MockBookingDB) GetTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, errors.New("no rows")
	}
	copied := *t
	return &copied, nil
}

func (m *MockBookingDB) GetTicketsByPassenger(ctx context.Context, userID string) ([]models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Ticket
	for _, t := range m.tickets {
		if t.PassengerID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *MockBookingDB) CancelTicket(ctx context.Context, ticketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok {
		return errors.New("no rows")
	}
	if t.Status != models.TicketActive {
		return ErrNotCancellable
	}
	t.Status = models.TicketCancelled
	delete(m.seatOwners, seatKey(t.TripID, t.SeatNumber))
	if trip, ok := m.trips[t.TripID]; ok {
		trip.AvailableSeats++
	}
	return nil
}

type MockHolds struct {
	mu    sync.Mutex
	holds map[string]string // "trip:seat" -> owner
}

func NewMockHolds() *MockHolds {
	return &MockHolds{holds: make(map[string]string)}
}

func (m *MockHolds) HoldSeat(ctx context.Context, tripID string, seat int, ownerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := seatKey(tripID, seat)
	if owner, held := m.holds[key]; held {
		return owner == ownerID, nil
	}
	m.holds[key] = ownerID
	return true, nil
}

func (m *MockHolds) ReleaseSeat(ctx context.Context, tripID string, seat int, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := seatKey(tripID, seat)
	if m.holds[key] == ownerID {
		delete(m.holds, key)
	}
	return nil
}

func seedTrip(db *MockBookingDB, id string, status models.TripStatus, seats, capacity int) {
	db.trips[id] = &models.Trip{
		ID:             id,
		ScheduleID:     "sched-1",
		TripDate:       "2025-03-01",
		AvailableSeats: seats,
		Status:         status,
		Schedule: &models.Schedule{
			ID:          "sched-1",
			PriceLeones: 150,
			Bus:         &models.Bus{ID: "bus-1", SeatCapacity: capacity},
			Route:       &models.Route{ID: "route-1", CompanyID: "company-1"},
		},
	}
}

func passenger() auth.Session {
	return auth.Session{UserID: "passenger-1", Roles: []models.AppRole{models.RolePassenger}}
}

func newBookingService(db *MockBookingDB, holds *MockHolds) *Service {
	// No QR generator in unit tests; png generation has its own tests.
	return NewService(db, holds, nil, nil, logger.NewLogger())
}

func TestAllocateSeat(t *testing.T) {
	db := NewMockBookingDB()
	seedTrip(db, "trip-1", models.TripScheduled, 49, 49)
	svc := newBookingService(db, NewMockHolds())

	tk, err := svc.AllocateSeat(context.Background(), "trip-1", Request{
		SeatNumber:     12,
		PassengerName:  "Jane Doe",
		PassengerPhone: "+23276000000",
	}, passenger())
	require.NoError(t, err)

	assert.Equal(t, models.TicketActive, tk.Status)
	assert.Equal(t, 12, tk.SeatNumber)
	assert.Equal(t, "Jane Doe", tk.PassengerName)
	assert.Equal(t, "passenger-1", tk.PassengerID)
	assert.True(t, strings.HasPrefix(tk.TicketCode, "TKT"))
	assert.Equal(t, models.PaymentCompleted, tk.PaymentStatus)
	assert.Equal(t, 150.0, tk.PricePaid)
	assert.Equal(t, 48, db.trips["trip-1"].AvailableSeats)

	seats, err := svc.BookedSeats(context.Background(), "trip-1")
	require.NoError(t, err)
	assert.Equal(t, []int{12}, seats)

	available, err := svc.IsSeatAvailable(context.Background(), "trip-1", 12)
	require.NoError(t, err)
	assert.False(t, available)
}

func TestAllocateSeatTripNotFound(t *testing.T) {
	svc := newBookingService(NewMockBookingDB(), NewMockHolds())

	_, err := svc.AllocateSeat(context.Background(), "nope", Request{SeatNumber: 1, PassengerName: "A", PassengerPhone: "1"}, passenger())
	assert.ErrorIs(t, err, ErrTripNotFound)
}

func TestAllocateSeatTripNotBookable(t *testing.T) {
	db := NewMockBookingDB()
	seedTrip(db, "trip-1", models.TripBoarding, 10, 49)
	svc := newBookingService(db, NewMockHolds())

	_, err := svc.AllocateSeat(context.Background(), "trip-1", Request{SeatNumber: 1, PassengerName: "A", PassengerPhone: "1"}, passenger())
	assert.ErrorIs(t, err, ErrTripNotBookable)
}

func TestAllocateSeatOutOfRange(t *testing.T) {
	db := NewMockBookingDB()
	seedTrip(db, "trip-1", models.TripScheduled, 49, 49)
	svc := newBookingService(db, NewMockHolds())

	for _, seat := range []int{0, -3, 50} {
		_, err := svc.AllocateSeat(context.Background(), "trip-1", Request{SeatNumber: seat, PassengerName: "A", PassengerPhone: "1"}, passenger())
		assert.ErrorIs(t, err, ErrSeatOutOfRange, "seat %d", seat)
	}
}

func TestAllocateSeatSoldOut(t *testing.T) {
	db := NewMockBookingDB()
	seedTrip(db, "trip-1", models.TripScheduled, 0, 49)
	svc := newBookingService(db, NewMockHolds())

	_, err := svc.AllocateSeat(context.Background(), "trip-1", Request{SeatNumber: 5, PassengerName: "A", PassengerPhone: "1"}, passenger())
	assert.ErrorIs(t, err, ErrTripSoldOut)
}

func TestAllocateSeatTaken(t *testing.T) {
	db := NewMockBookingDB()
	seedTrip(db, "trip-1", models.TripScheduled, 49, 49)
	holds := NewMockHolds()
	svc := newBookingService(db, holds)

	first := auth.Session{UserID: "passenger-1", Roles: []models.AppRole{models.RolePassenger}}
	second := auth.Session{UserID: "passenger-2", Roles: []models.AppRole{models.RolePassenger}}

	_, err := svc.AllocateSeat(context.Background(), "trip-1", Request{SeatNumber: 7, PassengerName: "A", PassengerPhone: "1"}, first)
	require.NoError(t, err)

	_, err = svc.AllocateSeat(context.Background(), "trip-1", Request{SeatNumber: 7, PassengerName: "B", PassengerPhone: "2"}, second)
	assert.ErrorIs(t, err, ErrSeatTaken)

	// The loser's hold is released so the seat map recovers.
	assert.Empty(t, holds.holds)
}

func TestAllocateSeatHeldByAnother(t *testing.T) {
	db := NewMockBookingDB()
	seedTrip(db, "trip-1", models.TripScheduled, 49, 49)
	holds := NewMockHolds()
	svc := newBookingService(db, holds)

	other := auth.Session{UserID: "passenger-2", Roles: []models.AppRole{models.RolePassenger}}
	require.NoError(t, svc.HoldSeat(context.Background(), "trip-1", 9, other))

	_, err := svc.AllocateSeat(context.Background(), "trip-1", Request{SeatNumber: 9, PassengerName: "A", PassengerPhone: "1"}, passenger())
	assert.ErrorIs(t, err, ErrSeatHeld)
}

// Two passengers race for seat 5: exactly one ticket exists afterwards.
func TestConcurrentAllocationsExactlyOneWins(t *testing.T) {
	db := NewMockBookingDB()
	seedTrip(db, "trip-1", models.TripScheduled, 49, 49)
	svc := newBookingService(db, NewMockHolds())

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	won, lost := 0, 0

	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			session := auth.Session{UserID: fmt.Sprintf("racer-%d", i), Roles: []models.AppRole{models.RolePassenger}}
			_, err := svc.AllocateSeat(context.Background(), "trip-1", Request{
				SeatNumber:     5,
				PassengerName:  fmt.Sprintf("Racer %d", i),
				PassengerPhone: "1",
			}, session)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won++
			} else if errors.Is(err, ErrSeatTaken) || errors.Is(err, ErrSeatHeld) {
				lost++
			} else {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, n-1, lost)
	assert.Equal(t, 48, db.trips["trip-1"].AvailableSeats)

	seats, err := db.BookedSeats(context.Background(), "trip-1")
	require.NoError(t, err)
	assert.Equal(t, []int{5}, seats)
}

func TestGetTicketOwnership(t *testing.T) {
	db := NewMockBookingDB()
	seedTrip(db, "trip-1", models.TripScheduled, 49, 49)
	svc := newBookingService(db, NewMockHolds())

	tk, err := svc.AllocateSeat(context.Background(), "trip-1", Request{SeatNumber: 3, PassengerName: "A", PassengerPhone: "1"}, passenger())
	require.NoError(t, err)

	// Owner sees it.
	got, err := svc.GetTicket(context.Background(), tk.ID, passenger())
	require.NoError(t, err)
	assert.Equal(t, tk.ID, got.ID)

	// A stranger does not.
	stranger := auth.Session{UserID: "someone-else", Roles: []models.AppRole{models.RolePassenger}}
	_, err = svc.GetTicket(context.Background(), tk.ID, stranger)
	assert.ErrorIs(t, err, ErrNotTicketOwner)

	// An admin does.
	admin := auth.Session{UserID: "admin-1", Roles: []models.AppRole{models.RoleAdmin}}
	got, err = svc.GetTicket(context.Background(), tk.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, got.ID)
}

func TestCancelTicketFreesSeat(t *testing.T) {
	db := NewMockBookingDB()
	seedTrip(db, "trip-1", models.TripScheduled, 49, 49)
	svc := newBookingService(db, NewMockHolds())

	tk, err := svc.AllocateSeat(context.Background(), "trip-1", Request{SeatNumber: 20, PassengerName: "A", PassengerPhone: "1"}, passenger())
	require.NoError(t, err)
	require.Equal(t, 48, db.trips["trip-1"].AvailableSeats)

	require.NoError(t, svc.CancelTicket(context.Background(), tk.ID, passenger()))
	assert.Equal(t, 49, db.trips["trip-1"].AvailableSeats)
	assert.Equal(t, models.TicketCancelled, db.tickets[tk.ID].Status)

	// Seat is sellable again.
	available, err := svc.IsSeatAvailable(context.Background(), "trip-1", 20)
	require.NoError(t, err)
	assert.True(t, available)

	// A used ticket cannot be cancelled.
	tk2, err := svc.AllocateSeat(context.Background(), "trip-1", Request{SeatNumber: 21, PassengerName: "B", PassengerPhone: "2"}, passenger())
	require.NoError(t, err)
	db.tickets[tk2.ID].Status = models.TicketUsed
	err = svc.CancelTicket(context.Background(), tk2.ID, passenger())
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestCancelTicketOwnership(t *testing.T) {
	db := NewMockBookingDB()
	seedTrip(db, "trip-1", models.TripScheduled, 49, 49)
	svc := newBookingService(db, NewMockHolds())

	tk, err := svc.AllocateSeat(context.Background(), "trip-1", Request{SeatNumber: 4, PassengerName: "A", PassengerPhone: "1"}, passenger())
	require.NoError(t, err)

	stranger := auth.Session{UserID: "someone-else", Roles: []models.AppRole{models.RolePassenger}}
	err = svc.CancelTicket(context.Background(), tk.ID, stranger)
	assert.ErrorIs(t, err, ErrNotTicketOwner)
}

func TestGetTicketsByPassenger(t *testing.T) {
	db := NewMockBookingDB()
	seedTrip(db, "trip-1", models.TripScheduled, 49, 49)
	svc := newBookingService(db, NewMockHolds())

	_, err := svc.AllocateSeat(context.Background(), "trip-1", Request{SeatNumber: 1, PassengerName: "A", PassengerPhone: "1"}, passenger())
	require.NoError(t, err)
	_, err = svc.AllocateSeat(context.Background(), "trip-1", Request{SeatNumber: 2, PassengerName: "A", PassengerPhone: "1"}, passenger())
	require.NoError(t, err)

	tickets, err := svc.GetTicketsByPassenger(context.Background(), passenger())
	require.NoError(t, err)
	assert.Len(t, tickets, 2)
}
