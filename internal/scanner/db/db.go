package db

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"ticketa/internal/models"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error) {
	var t models.Ticket
	err := d.Bun.NewSelect().
		Model(&t).
		Relation("Trip").
		Relation("Trip.Schedule").
		Relation("Trip.Schedule.Route").
		Relation("Trip.Schedule.Bus").
		Where("ticket.ticket_code = ?", code).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (d *DB) GetDriverByUserID(ctx context.Context, userID string) (*models.Driver, error) {
	var driver models.Driver
	err := d.Bun.NewSelect().
		Model(&driver).
		Where("user_id = ?", userID).
		Where("is_active = ?", true).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &driver, nil
}

// MarkTicketUsed is the compare-and-swap at the heart of scan validation:
// the transition only happens when the row is still active at write time.
func (d *DB) MarkTicketUsed(ctx context.Context, ticketID, scannedBy string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketUsed).
		Set("scanned_at = ?", at).
		Set("scanned_by = ?", scannedBy).
		Where("id = ?", ticketID).
		Where("status = ?", models.TicketActive).
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

func (d *DB) RecordScan(ctx context.Context, scan *models.TicketScan) error {
	_, err := d.Bun.NewInsert().Model(scan).Exec(ctx)
	return err
}

func (d *DB) ScansByDriver(ctx context.Context, userID string, limit int) ([]models.TicketScan, error) {
	var scans []models.TicketScan
	err := d.Bun.NewSelect().
		Model(&scans).
		Relation("Ticket").
		Where("ticket_scan.scanned_by = ?", userID).
		Order("ticket_scan.created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return scans, nil
}
