package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ticketa/internal/auth"
	"ticketa/internal/logger"
	"ticketa/internal/models"
	"ticketa/internal/ticket/qr"
	"ticketa/internal/utils"
)

// Allocation failures. Semantic rejections, never retried.
var (
	ErrTripNotFound    = errors.New("trip not found")
	ErrTripNotBookable = errors.New("trip is not open for booking")
	ErrTripSoldOut     = errors.New("trip has no seats left")
	ErrSeatOutOfRange  = errors.New("seat number out of range")
	ErrSeatTaken       = errors.New("seat already taken")
	ErrSeatHeld        = errors.New("seat is held by another passenger")
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrNotTicketOwner  = errors.New("ticket belongs to another passenger")
	ErrNotCancellable  = errors.New("ticket can no longer be cancelled")
)

// codeAttempts bounds the collision-check loop for ticket codes. The code
// space is large enough that more than one retry means something is broken.
const codeAttempts = 3

type DBLayer interface {
	GetTripForBooking(ctx context.Context, tripID string) (*models.Trip, error)
	BookedSeats(ctx context.Context, tripID string) ([]int, error)
	TicketCodeExists(ctx context.Context, code string) (bool, error)
	// AllocateTicket inserts the ticket and decrements the trip's seat
	// counter in one transaction. Returns ErrSeatTaken when the partial
	// unique index rejects the insert and ErrTripSoldOut when the
	// conditional decrement matches no row.
	AllocateTicket(ctx context.Context, t *models.Ticket) error
	GetTicketByID(ctx context.Context, id string) (*models.Ticket, error)
	GetTicketsByPassenger(ctx context.Context, userID string) ([]models.Ticket, error)
	// CancelTicket flips active -> cancelled (conditionally) and returns the
	// seat to the trip's counter in one transaction.
	CancelTicket(ctx context.Context, ticketID string) error
}

type SeatHolder interface {
	HoldSeat(ctx context.Context, tripID string, seat int, ownerID string) (bool, error)
	ReleaseSeat(ctx context.Context, tripID string, seat int, ownerID string) error
}

type Publisher interface {
	PublishTicketBooked(t models.Ticket) error
	PublishTicketCancelled(t models.Ticket) error
}

type Request struct {
	SeatNumber     int    `json:"seat_number"`
	PassengerName  string `json:"passenger_name"`
	PassengerPhone string `json:"passenger_phone"`
}

type Service struct {
	DB     DBLayer
	Holds  SeatHolder
	Kafka  Publisher
	QR     *qr.QRGenerator
	Logger *logger.Logger
}

func NewService(db DBLayer, holds SeatHolder, kafka Publisher, qrGen *qr.QRGenerator, log *logger.Logger) *Service {
	return &Service{DB: db, Holds: holds, Kafka: kafka, QR: qrGen, Logger: log}
}

// BookedSeats returns the seat numbers held by non-cancelled tickets, for the
// seat map.
func (s *Service) BookedSeats(ctx context.Context, tripID string) ([]int, error) {
	return s.DB.BookedSeats(ctx, tripID)
}

// IsSeatAvailable reports whether no active or used ticket claims the seat.
func (s *Service) IsSeatAvailable(ctx context.Context, tripID string, seat int) (bool, error) {
	taken, err := s.DB.BookedSeats(ctx, tripID)
	if err != nil {
		return false, err
	}
	for _, n := range taken {
		if n == seat {
			return false, nil
		}
	}
	return true, nil
}

// HoldSeat reserves a seat in Redis while the passenger finishes the booking
// flow. Advisory only: the unique index decides the race at allocation time.
func (s *Service) HoldSeat(ctx context.Context, tripID string, seat int, session auth.Session) error {
	trip, err := s.DB.GetTripForBooking(ctx, tripID)
	if err != nil {
		return ErrTripNotFound
	}
	if err := validateSeat(trip, seat); err != nil {
		return err
	}

	ok, err := s.Holds.HoldSeat(ctx, tripID, seat, session.UserID)
	if err != nil {
		return fmt.Errorf("seat hold: %w", err)
	}
	if !ok {
		return ErrSeatHeld
	}
	return nil
}

// AllocateSeat sells one seat on a trip. The insert and the seat-counter
// decrement happen in a single transaction, with the partial unique index on
// (trip_id, seat_number) rejecting concurrent winners.
func (s *Service) AllocateSeat(ctx context.Context, tripID string, req Request, session auth.Session) (*models.Ticket, error) {
	trip, err := s.DB.GetTripForBooking(ctx, tripID)
	if err != nil {
		return nil, ErrTripNotFound
	}

	if trip.Status != models.TripScheduled {
		return nil, ErrTripNotBookable
	}
	if err := validateSeat(trip, req.SeatNumber); err != nil {
		return nil, err
	}
	if trip.AvailableSeats <= 0 {
		return nil, ErrTripSoldOut
	}

	// Take (or confirm) the hold so a passenger who skipped the hold step
	// still collides early with one who didn't.
	ok, err := s.Holds.HoldSeat(ctx, tripID, req.SeatNumber, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("seat hold: %w", err)
	}
	if !ok {
		return nil, ErrSeatHeld
	}

	code, err := s.freshTicketCode(ctx)
	if err != nil {
		return nil, err
	}

	price := 0.0
	if trip.Schedule != nil {
		price = trip.Schedule.PriceLeones
	}

	t := &models.Ticket{
		ID:               uuid.NewString(),
		TripID:           trip.ID,
		PassengerID:      session.UserID,
		PassengerName:    req.PassengerName,
		PassengerPhone:   req.PassengerPhone,
		SeatNumber:       req.SeatNumber,
		TicketCode:       code,
		Status:           models.TicketActive,
		PricePaid:        price,
		PaymentStatus:    models.PaymentCompleted, // simulated payment
		PaymentReference: utils.GeneratePaymentReference(),
		PurchasedAt:      time.Now(),
	}

	if s.QR != nil {
		qrBytes, err := s.QR.GenerateEncryptedQR(qr.Payload{
			TicketID:   t.ID,
			TicketCode: t.TicketCode,
			TripID:     t.TripID,
			SeatNumber: t.SeatNumber,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to generate QR: %w", err)
		}
		t.QRCode = qrBytes
	}

	if err := s.DB.AllocateTicket(ctx, t); err != nil {
		_ = s.Holds.ReleaseSeat(ctx, tripID, req.SeatNumber, session.UserID)
		return nil, err
	}

	// The ticket row protects the seat from here on.
	_ = s.Holds.ReleaseSeat(ctx, tripID, req.SeatNumber, session.UserID)

	if s.Kafka != nil {
		if err := s.Kafka.PublishTicketBooked(*t); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("ticket booked publish failed: %v", err))
		}
	}
	s.Logger.LogBooking("ALLOCATE", t.ID, fmt.Sprintf("seat %d on trip %s sold to %s", t.SeatNumber, t.TripID, t.PassengerName))

	return t, nil
}

// GetTicket returns one ticket, restricted to its owner and admins.
func (s *Service) GetTicket(ctx context.Context, ticketID string, session auth.Session) (*models.Ticket, error) {
	t, err := s.DB.GetTicketByID(ctx, ticketID)
	if err != nil {
		return nil, ErrTicketNotFound
	}
	if t.PassengerID != session.UserID && !session.IsAdmin() {
		return nil, ErrNotTicketOwner
	}
	return t, nil
}

func (s *Service) GetTicketsByPassenger(ctx context.Context, session auth.Session) ([]models.Ticket, error) {
	return s.DB.GetTicketsByPassenger(ctx, session.UserID)
}

// CancelTicket releases an active ticket's seat back to the trip.
func (s *Service) CancelTicket(ctx context.Context, ticketID string, session auth.Session) error {
	t, err := s.DB.GetTicketByID(ctx, ticketID)
	if err != nil {
		return ErrTicketNotFound
	}
	if t.PassengerID != session.UserID && !session.IsAdmin() {
		return ErrNotTicketOwner
	}

	if err := s.DB.CancelTicket(ctx, ticketID); err != nil {
		return err
	}

	t.Status = models.TicketCancelled
	if s.Kafka != nil {
		if err := s.Kafka.PublishTicketCancelled(*t); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("ticket cancelled publish failed: %v", err))
		}
	}
	s.Logger.LogBooking("CANCEL", t.ID, fmt.Sprintf("seat %d on trip %s released", t.SeatNumber, t.TripID))

	return nil
}

func (s *Service) freshTicketCode(ctx context.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := utils.GenerateTicketCode()
		if err != nil {
			return "", err
		}
		exists, err := s.DB.TicketCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("ticket code check: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", errors.New("could not generate a unique ticket code")
}

func validateSeat(trip *models.Trip, seat int) error {
	capacity := 0
	if trip.Schedule != nil && trip.Schedule.Bus != nil {
		capacity = trip.Schedule.Bus.SeatCapacity
	}
	if seat < 1 || (capacity > 0 && seat > capacity) {
		return ErrSeatOutOfRange
	}
	return nil
}
