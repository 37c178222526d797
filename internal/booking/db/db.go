package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"ticketa/internal/booking"
	"ticketa/internal/models"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) GetTripForBooking(ctx context.Context, tripID string) (*models.Trip, error) {
	var trip models.Trip
	err := d.Bun.NewSelect().
		Model(&trip).
		Relation("Schedule").
		Relation("Schedule.Bus").
		Relation("Schedule.Route").
		Where("trip.id = ?", tripID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &trip, nil
}

// BookedSeats lists seat numbers of non-cancelled tickets. Cancelled tickets
// free their seat.
func (d *DB) BookedSeats(ctx context.Context, tripID string) ([]int, error) {
	var seats []int
	err := d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Column("seat_number").
		Where("trip_id = ?", tripID).
		Where("status != ?", models.TicketCancelled).
		Scan(ctx, &seats)
	if err != nil {
		return nil, err
	}
	return seats, nil
}

func (d *DB) TicketCodeExists(ctx context.Context, code string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("ticket_code = ?", code).
		Exists(ctx)
}

// AllocateTicket is the logically-atomic sale: insert the ticket row and
// decrement the trip's seat counter in one transaction. The partial unique
// index on (trip_id, seat_number) WHERE status <> 'cancelled' turns a lost
// seat race into ErrSeatTaken instead of a double sale.
func (d *DB) AllocateTicket(ctx context.Context, t *models.Ticket) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(t).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return booking.ErrSeatTaken
			}
			return err
		}

		res, err := tx.NewUpdate().
			Model((*models.Trip)(nil)).
			Set("available_seats = available_seats - 1").
			Set("updated_at = ?", time.Now()).
			Where("id = ?", t.TripID).
			Where("status = ?", models.TripScheduled).
			Where("available_seats > 0").
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return booking.ErrTripSoldOut
		}
		return nil
	})
}

func (d *DB) GetTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	var t models.Ticket
	err := d.Bun.NewSelect().
		Model(&t).
		Relation("Trip").
		Relation("Trip.Schedule").
		Relation("Trip.Schedule.Route").
		Relation("Trip.Schedule.Bus").
		Where("ticket.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (d *DB) GetTicketsByPassenger(ctx context.Context, userID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Relation("Trip").
		Relation("Trip.Schedule").
		Relation("Trip.Schedule.Route").
		Where("ticket.passenger_id = ?", userID).
		Order("ticket.purchased_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// CancelTicket transitions active -> cancelled and gives the seat back.
// The conditional update means a ticket that was scanned or expired in the
// meantime is left alone.
func (d *DB) CancelTicket(ctx context.Context, ticketID string) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", models.TicketCancelled).
			Where("id = ?", ticketID).
			Where("status = ?", models.TicketActive).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return booking.ErrNotCancellable
		}

		var tripID string
		err = tx.NewSelect().
			Model((*models.Ticket)(nil)).
			Column("trip_id").
			Where("id = ?", ticketID).
			Scan(ctx, &tripID)
		if err != nil {
			return err
		}

		_, err = tx.NewUpdate().
			Model((*models.Trip)(nil)).
			Set("available_seats = available_seats + 1").
			Set("updated_at = ?", time.Now()).
			Where("id = ?", tripID).
			Exec(ctx)
		return err
	})
}

// isUniqueViolation matches Postgres (pgdriver, SQLSTATE 23505) and the
// SQLite shim the tests run on.
func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
