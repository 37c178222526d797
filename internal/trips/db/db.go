package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"ticketa/internal/models"
	"ticketa/internal/trips"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) GetTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	var t models.Trip
	err := d.Bun.NewSelect().
		Model(&t).
		Relation("Schedule").
		Relation("Schedule.Route").
		Relation("Schedule.Route.Company").
		Relation("Schedule.Bus").
		Where("trip.id = ?", tripID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SearchTrips joins out to route and company so unapproved or suspended
// operators never surface in passenger search.
func (d *DB) SearchTrips(ctx context.Context, q trips.SearchQuery) ([]models.Trip, error) {
	var found []models.Trip
	query := d.Bun.NewSelect().
		Model(&found).
		Relation("Schedule").
		Relation("Schedule.Route").
		Relation("Schedule.Route.Company").
		Relation("Schedule.Bus").
		Join("JOIN schedules AS s ON s.id = trip.schedule_id").
		Join("JOIN routes AS r ON r.id = s.route_id").
		Join("JOIN bus_companies AS c ON c.id = r.company_id").
		Where("trip.status = ?", models.TripScheduled).
		Where("s.is_active = ?", true).
		Where("r.is_active = ?", true).
		Where("c.is_approved = ?", true).
		Where("c.is_active = ?", true)

	if q.Origin != "" {
		query = query.Where("lower(r.origin) = lower(?)", q.Origin)
	}
	if q.Destination != "" {
		query = query.Where("lower(r.destination) = lower(?)", q.Destination)
	}
	if q.Date != "" {
		query = query.Where("trip.trip_date = ?", q.Date)
	}

	err := query.
		Order("trip.trip_date ASC").
		Order("s.departure_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (d *DB) SchedulesRunnableOn(ctx context.Context, day time.Weekday) ([]models.Schedule, error) {
	var schedules []models.Schedule
	err := d.Bun.NewSelect().
		Model(&schedules).
		Relation("Bus").
		Relation("Route").
		Join("JOIN routes AS r ON r.id = schedule.route_id").
		Join("JOIN bus_companies AS c ON c.id = r.company_id").
		Where("schedule.is_active = ?", true).
		Where("r.is_active = ?", true).
		Where("c.is_approved = ?", true).
		Where("c.is_active = ?", true).
		Where("schedule.days_of_week & ? != 0", 1<<uint(day)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

// InsertTripIfAbsent inserts one materialized trip. The unique
// (schedule_id, trip_date) index turns a concurrent double-materialize into a
// unique violation, which is reported as "already present" rather than an
// error.
func (d *DB) InsertTripIfAbsent(ctx context.Context, trip *models.Trip) (bool, error) {
	_, err := d.Bun.NewInsert().Model(trip).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *DB) UpdateTripStatus(ctx context.Context, tripID string, from, to models.TripStatus) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Trip)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", tripID).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ExpireTicketsForEndedTrips bulk-expires active tickets whose trip already
// departed or completed, dated on or before the given day. Conditional on
// status so a scan that lands mid-sweep is not clobbered.
func (d *DB) ExpireTicketsForEndedTrips(ctx context.Context, before string) (int64, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketExpired).
		Where("status = ?", models.TicketActive).
		Where("trip_id IN (SELECT id FROM trips WHERE status IN (?, ?) AND trip_date <= ?)",
			models.TripDeparted, models.TripCompleted, before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *DB) TripsByCompany(ctx context.Context, companyID, date string) ([]models.Trip, error) {
	var found []models.Trip
	query := d.Bun.NewSelect().
		Model(&found).
		Relation("Schedule").
		Relation("Schedule.Route").
		Relation("Schedule.Bus").
		Join("JOIN schedules AS s ON s.id = trip.schedule_id").
		Join("JOIN routes AS r ON r.id = s.route_id").
		Where("r.company_id = ?", companyID)
	if date != "" {
		query = query.Where("trip.trip_date = ?", date)
	}
	err := query.
		Order("trip.trip_date ASC").
		Order("s.departure_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return found, nil
}

// CompanyForUser checks company_admins first, then drivers. A user holding
// both affiliations acts for the admin one.
func (d *DB) CompanyForUser(ctx context.Context, userID string) (string, error) {
	var admin models.CompanyAdmin
	err := d.Bun.NewSelect().
		Model(&admin).
		Where("user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err == nil {
		return admin.CompanyID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	var driver models.Driver
	err = d.Bun.NewSelect().
		Model(&driver).
		Where("user_id = ?", userID).
		Where("is_active = ?", true).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return driver.CompanyID, nil
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) && pgErr.Field('C') == "23505" {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
