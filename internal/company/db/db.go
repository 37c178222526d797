package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ticketa/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// CreateCompany inserts the company and its first admin together so a failed
// admin insert never leaves an orphaned, unmanageable company.
func (d *DB) CreateCompany(ctx context.Context, c *models.BusCompany, admin *models.CompanyAdmin) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(c).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(admin).Exec(ctx)
		return err
	})
}

func (d *DB) GetCompany(ctx context.Context, companyID string) (*models.BusCompany, error) {
	var c models.BusCompany
	err := d.Bun.NewSelect().
		Model(&c).
		Where("id = ?", companyID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (d *DB) ListCompanies(ctx context.Context, approvedOnly bool) ([]models.BusCompany, error) {
	var companies []models.BusCompany
	query := d.Bun.NewSelect().Model(&companies)
	if approvedOnly {
		query = query.Where("is_approved = ?", true).Where("is_active = ?", true)
	}
	err := query.Order("name ASC").Scan(ctx)
	if err != nil {
		return nil, err
	}
	return companies, nil
}

func (d *DB) SetCompanyFlags(ctx context.Context, companyID string, approved, active bool) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.BusCompany)(nil)).
		Set("is_approved = ?", approved).
		Set("is_active = ?", active).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", companyID).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

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

func (d *DB) InsertBus(ctx context.Context, b *models.Bus) error {
	_, err := d.Bun.NewInsert().Model(b).Exec(ctx)
	return err
}

func (d *DB) UpdateBus(ctx context.Context, b *models.Bus) error {
	_, err := d.Bun.NewUpdate().
		Model(b).
		Column("registration_number", "model", "seat_capacity", "status", "updated_at").
		Where("id = ?", b.ID).
		Where("company_id = ?", b.CompanyID).
		Exec(ctx)
	return err
}

func (d *DB) ListBuses(ctx context.Context, companyID string) ([]models.Bus, error) {
	var buses []models.Bus
	err := d.Bun.NewSelect().
		Model(&buses).
		Where("company_id = ?", companyID).
		Order("registration_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return buses, nil
}

func (d *DB) InsertRoute(ctx context.Context, r *models.Route) error {
	_, err := d.Bun.NewInsert().Model(r).Exec(ctx)
	return err
}

func (d *DB) UpdateRoute(ctx context.Context, r *models.Route) error {
	_, err := d.Bun.NewUpdate().
		Model(r).
		Column("origin", "destination", "distance_km", "estimated_duration_minutes", "is_active", "updated_at").
		Where("id = ?", r.ID).
		Where("company_id = ?", r.CompanyID).
		Exec(ctx)
	return err
}

func (d *DB) ListRoutes(ctx context.Context, companyID string) ([]models.Route, error) {
	var routes []models.Route
	err := d.Bun.NewSelect().
		Model(&routes).
		Where("company_id = ?", companyID).
		Order("origin ASC", "destination ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return routes, nil
}

func (d *DB) InsertSchedule(ctx context.Context, s *models.Schedule) error {
	_, err := d.Bun.NewInsert().Model(s).Exec(ctx)
	return err
}

func (d *DB) UpdateSchedule(ctx context.Context, s *models.Schedule) error {
	_, err := d.Bun.NewUpdate().
		Model(s).
		Column("departure_time", "arrival_time", "days_of_week", "price_leones", "is_active", "updated_at").
		Where("id = ?", s.ID).
		Exec(ctx)
	return err
}

// ListSchedules scopes through routes since schedules carry no company_id of
// their own.
func (d *DB) ListSchedules(ctx context.Context, companyID string) ([]models.Schedule, error) {
	var schedules []models.Schedule
	err := d.Bun.NewSelect().
		Model(&schedules).
		Relation("Route").
		Relation("Bus").
		Join("JOIN routes AS r ON r.id = schedule.route_id").
		Where("r.company_id = ?", companyID).
		Order("schedule.departure_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

func (d *DB) InsertDriver(ctx context.Context, driver *models.Driver) error {
	_, err := d.Bun.NewInsert().Model(driver).Exec(ctx)
	return err
}

func (d *DB) SetDriverActive(ctx context.Context, driverID, companyID string, active bool) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Driver)(nil)).
		Set("is_active = ?", active).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", driverID).
		Where("company_id = ?", companyID).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (d *DB) ListDrivers(ctx context.Context, companyID string) ([]models.Driver, error) {
	var drivers []models.Driver
	err := d.Bun.NewSelect().
		Model(&drivers).
		Relation("Bus").
		Where("driver.company_id = ?", companyID).
		Order("driver.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return drivers, nil
}

// GrantRole is idempotent: granting a role the user already holds is a no-op.
func (d *DB) GrantRole(ctx context.Context, userID string, role models.AppRole) error {
	exists, err := d.Bun.NewSelect().
		Model((*models.UserRole)(nil)).
		Where("user_id = ?", userID).
		Where("role = ?", role).
		Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = d.Bun.NewInsert().Model(&models.UserRole{
		ID:        uuid.NewString(),
		UserID:    userID,
		Role:      role,
		CreatedAt: time.Now(),
	}).Exec(ctx)
	return err
}

func (d *DB) RevokeRole(ctx context.Context, userID string, role models.AppRole) error {
	_, err := d.Bun.NewDelete().
		Model((*models.UserRole)(nil)).
		Where("user_id = ?", userID).
		Where("role = ?", role).
		Exec(ctx)
	return err
}
