package trips

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ticketa/internal/auth"
	"ticketa/internal/logger"
	"ticketa/internal/models"
)

var (
	ErrTripNotFound      = errors.New("trip not found")
	ErrInvalidTransition = errors.New("invalid trip status transition")
	ErrNotAuthorized     = errors.New("caller may not manage this trip")
	ErrBadDate           = errors.New("date must be YYYY-MM-DD")
)

// tripTransitions is the operating lifecycle. cancelled is reachable from any
// non-terminal state and handled separately in CanTransition.
var tripTransitions = map[models.TripStatus][]models.TripStatus{
	models.TripScheduled: {models.TripBoarding, models.TripDeparted},
	models.TripBoarding:  {models.TripDeparted},
	models.TripDeparted:  {models.TripCompleted},
	models.TripCompleted: nil,
	models.TripCancelled: nil,
}

// CanTransition reports whether a trip may move from one status to another.
func CanTransition(from, to models.TripStatus) bool {
	if to == models.TripCancelled {
		return from != models.TripCompleted && from != models.TripCancelled
	}
	for _, next := range tripTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type SearchQuery struct {
	Origin      string
	Destination string
	Date        string
}

type DBLayer interface {
	GetTrip(ctx context.Context, tripID string) (*models.Trip, error)
	SearchTrips(ctx context.Context, q SearchQuery) ([]models.Trip, error)
	SchedulesRunnableOn(ctx context.Context, day time.Weekday) ([]models.Schedule, error)
	// InsertTripIfAbsent relies on the unique (schedule_id, trip_date) index;
	// it reports whether the row was actually created.
	InsertTripIfAbsent(ctx context.Context, trip *models.Trip) (bool, error)
	// UpdateTripStatus transitions only when the row still holds the expected
	// status. Zero rows affected means a concurrent update got there first.
	UpdateTripStatus(ctx context.Context, tripID string, from, to models.TripStatus) (bool, error)
	ExpireTicketsForEndedTrips(ctx context.Context, before string) (int64, error)
	TripsByCompany(ctx context.Context, companyID, date string) ([]models.Trip, error)
	// CompanyForUser resolves which company a driver or company admin acts
	// for. Empty string when the user has no company affiliation.
	CompanyForUser(ctx context.Context, userID string) (string, error)
}

type Service struct {
	DB     DBLayer
	Logger *logger.Logger
}

func NewService(db DBLayer, log *logger.Logger) *Service {
	return &Service{DB: db, Logger: log}
}

// Search returns bookable trips matching the query. Only trips operated by
// approved, active companies are visible to passengers.
func (s *Service) Search(ctx context.Context, q SearchQuery) ([]models.Trip, error) {
	if q.Date != "" {
		if _, err := time.Parse("2006-01-02", q.Date); err != nil {
			return nil, ErrBadDate
		}
	}
	return s.DB.SearchTrips(ctx, q)
}

func (s *Service) GetTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	t, err := s.DB.GetTrip(ctx, tripID)
	if err != nil {
		return nil, ErrTripNotFound
	}
	return t, nil
}

// MaterializeDate turns recurring schedules into concrete trips for one
// calendar date. Safe to run repeatedly; the unique (schedule_id, trip_date)
// index makes each trip exist at most once no matter how many materializers
// race.
func (s *Service) MaterializeDate(ctx context.Context, date string) (int, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0, ErrBadDate
	}

	schedules, err := s.DB.SchedulesRunnableOn(ctx, day.Weekday())
	if err != nil {
		return 0, fmt.Errorf("failed to load schedules: %w", err)
	}

	created := 0
	for i := range schedules {
		sched := &schedules[i]
		capacity := 0
		if sched.Bus != nil {
			capacity = sched.Bus.SeatCapacity
		}
		trip := &models.Trip{
			ID:             uuid.NewString(),
			ScheduleID:     sched.ID,
			TripDate:       date,
			AvailableSeats: capacity,
			Status:         models.TripScheduled,
			CreatedAt:      time.Now(),
			UpdatedAt:      time.Now(),
		}
		inserted, err := s.DB.InsertTripIfAbsent(ctx, trip)
		if err != nil {
			return created, fmt.Errorf("failed to materialize schedule %s: %w", sched.ID, err)
		}
		if inserted {
			created++
		}
	}

	if created > 0 {
		s.Logger.Info("TRIPS", fmt.Sprintf("materialized %d trips for %s", created, date))
	}
	return created, nil
}

// MaterializeWindow materializes every date from today through today+days.
// Run on startup and then daily so the search surface always has trips to
// offer.
func (s *Service) MaterializeWindow(ctx context.Context, days int) (int, error) {
	total := 0
	now := time.Now()
	for i := 0; i <= days; i++ {
		n, err := s.MaterializeDate(ctx, now.AddDate(0, 0, i).Format("2006-01-02"))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// SetStatus moves a trip through its operating lifecycle. Drivers and company
// admins may advance trips of their own company; platform admins any trip.
func (s *Service) SetStatus(ctx context.Context, tripID string, to models.TripStatus, session auth.Session) (*models.Trip, error) {
	t, err := s.DB.GetTrip(ctx, tripID)
	if err != nil {
		return nil, ErrTripNotFound
	}

	if !session.IsAdmin() {
		if !session.HasRole(models.RoleCompanyAdmin) && !session.HasRole(models.RoleDriver) {
			return nil, ErrNotAuthorized
		}
		own, err := s.DB.CompanyForUser(ctx, session.UserID)
		if err != nil || own == "" || own != t.CompanyID() {
			return nil, ErrNotAuthorized
		}
	}

	if !CanTransition(t.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}

	moved, err := s.DB.UpdateTripStatus(ctx, tripID, t.Status, to)
	if err != nil {
		return nil, fmt.Errorf("failed to update trip status: %w", err)
	}
	if !moved {
		return nil, fmt.Errorf("%w: trip status changed concurrently", ErrInvalidTransition)
	}

	t.Status = to
	t.UpdatedAt = time.Now()
	s.Logger.Info("TRIPS", fmt.Sprintf("trip %s -> %s by %s", tripID, to, session.UserID))
	return t, nil
}

// ExpireUnscanned flips active tickets on departed or completed trips dated
// on or before the given day to expired. A no-show's ticket dies here instead
// of staying scannable forever.
func (s *Service) ExpireUnscanned(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.DB.ExpireTicketsForEndedTrips(ctx, before.Format("2006-01-02"))
	if err != nil {
		return 0, fmt.Errorf("failed to expire tickets: %w", err)
	}
	if n > 0 {
		s.Logger.Info("TRIPS", fmt.Sprintf("expired %d unscanned tickets", n))
	}
	return n, nil
}

// CompanyTrips lists a company's trips for its dashboard, optionally filtered
// to one date.
func (s *Service) CompanyTrips(ctx context.Context, companyID, date string, session auth.Session) ([]models.Trip, error) {
	if !session.IsAdmin() {
		own, err := s.DB.CompanyForUser(ctx, session.UserID)
		if err != nil || !session.CanManageCompany(companyID, own) {
			return nil, ErrNotAuthorized
		}
	}
	return s.DB.TripsByCompany(ctx, companyID, date)
}
