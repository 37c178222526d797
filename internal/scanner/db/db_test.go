package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ticketa/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	ctx := context.Background()
	for _, model := range []interface{}{
		(*models.BusCompany)(nil),
		(*models.Bus)(nil),
		(*models.Route)(nil),
		(*models.Schedule)(nil),
		(*models.Trip)(nil),
		(*models.Ticket)(nil),
		(*models.TicketScan)(nil),
		(*models.Driver)(nil),
	} {
		require.NoError(t, bunDB.ResetModel(ctx, model))
	}

	return &DB{Bun: bunDB}
}

func seedTicket(t *testing.T, d *DB, code string) *models.Ticket {
	t.Helper()
	ctx := context.Background()

	rows := []interface{}{
		&models.BusCompany{ID: "company-1", Name: "Sierra Express", IsApproved: true, IsActive: true},
		&models.Bus{ID: "bus-1", CompanyID: "company-1", RegistrationNumber: "SLE-001", SeatCapacity: 49},
		&models.Route{ID: "route-1", CompanyID: "company-1", Origin: "Freetown", Destination: "Bo", IsActive: true},
		&models.Schedule{ID: "sched-1", RouteID: "route-1", BusID: "bus-1", DepartureTime: "08:00", DaysOfWeek: 127, PriceLeones: 150, IsActive: true},
		&models.Trip{ID: "trip-1", ScheduleID: "sched-1", TripDate: "2025-03-01", AvailableSeats: 48, Status: models.TripBoarding},
	}
	for _, m := range rows {
		_, err := d.Bun.NewInsert().Model(m).Exec(ctx)
		require.NoError(t, err)
	}

	tk := &models.Ticket{
		ID:             "ticket-1",
		TripID:         "trip-1",
		PassengerID:    "passenger-1",
		PassengerName:  "Jane Doe",
		PassengerPhone: "+23276000000",
		SeatNumber:     12,
		TicketCode:     code,
		Status:         models.TicketActive,
		PricePaid:      150,
		PaymentStatus:  models.PaymentCompleted,
		PurchasedAt:    time.Now(),
	}
	_, err := d.Bun.NewInsert().Model(tk).Exec(ctx)
	require.NoError(t, err)
	return tk
}

func TestGetTicketByCodeLoadsRelations(t *testing.T) {
	d := setupTestDB(t)
	seedTicket(t, d, "TKTABCD2345")

	tk, err := d.GetTicketByCode(context.Background(), "TKTABCD2345")
	require.NoError(t, err)

	assert.Equal(t, "ticket-1", tk.ID)
	require.NotNil(t, tk.Trip)
	require.NotNil(t, tk.Trip.Schedule)
	require.NotNil(t, tk.Trip.Schedule.Route)
	assert.Equal(t, "company-1", tk.Trip.CompanyID())
	assert.Equal(t, models.TripBoarding, tk.Trip.Status)
}

func TestGetTicketByCodeUnknown(t *testing.T) {
	d := setupTestDB(t)

	_, err := d.GetTicketByCode(context.Background(), "TKTZZZZ9999")
	assert.Error(t, err)
}

// Two devices race to mark the same ticket: exactly one update matches the
// active row.
func TestMarkTicketUsedCompareAndSwap(t *testing.T) {
	d := setupTestDB(t)
	seedTicket(t, d, "TKTABCD2345")
	ctx := context.Background()

	now := time.Now()
	won, err := d.MarkTicketUsed(ctx, "ticket-1", "driver-1", now)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = d.MarkTicketUsed(ctx, "ticket-1", "driver-2", now)
	require.NoError(t, err)
	assert.False(t, won)

	tk, err := d.GetTicketByCode(ctx, "TKTABCD2345")
	require.NoError(t, err)
	assert.Equal(t, models.TicketUsed, tk.Status)
	assert.Equal(t, "driver-1", tk.ScannedBy)
	require.NotNil(t, tk.ScannedAt)
}

func TestMarkTicketUsedSkipsNonActive(t *testing.T) {
	d := setupTestDB(t)
	tk := seedTicket(t, d, "TKTABCD2345")
	ctx := context.Background()

	_, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketExpired).
		Where("id = ?", tk.ID).
		Exec(ctx)
	require.NoError(t, err)

	won, err := d.MarkTicketUsed(ctx, tk.ID, "driver-1", time.Now())
	require.NoError(t, err)
	assert.False(t, won)
}

func TestGetDriverByUserID(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	_, err := d.Bun.NewInsert().Model(&models.Driver{
		ID: "driver-1", UserID: "user-driver", CompanyID: "company-1", IsActive: true,
	}).Exec(ctx)
	require.NoError(t, err)
	_, err = d.Bun.NewInsert().Model(&models.Driver{
		ID: "driver-2", UserID: "user-suspended", CompanyID: "company-1", IsActive: false,
	}).Exec(ctx)
	require.NoError(t, err)

	driver, err := d.GetDriverByUserID(ctx, "user-driver")
	require.NoError(t, err)
	assert.Equal(t, "company-1", driver.CompanyID)

	// Deactivated drivers do not resolve.
	_, err = d.GetDriverByUserID(ctx, "user-suspended")
	assert.Error(t, err)
}

func TestScansByDriver(t *testing.T) {
	d := setupTestDB(t)
	seedTicket(t, d, "TKTABCD2345")
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	scans := []*models.TicketScan{
		{ID: "scan-1", TicketID: "ticket-1", ScannedBy: "user-driver", ScanResult: models.ScanValid, ScanLocation: "Freetown terminal", CreatedAt: base},
		{ID: "scan-2", TicketID: "ticket-1", ScannedBy: "user-driver", ScanResult: models.ScanAlreadyUsed, ScanLocation: "Freetown terminal", CreatedAt: base.Add(time.Minute)},
		{ID: "scan-3", TicketID: "ticket-1", ScannedBy: "someone-else", ScanResult: models.ScanValid, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, s := range scans {
		require.NoError(t, d.RecordScan(ctx, s))
	}

	got, err := d.ScansByDriver(ctx, "user-driver", 50)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Newest first, with the ticket joined in.
	assert.Equal(t, "scan-2", got[0].ID)
	assert.Equal(t, "scan-1", got[1].ID)
	require.NotNil(t, got[0].Ticket)
	assert.Equal(t, "TKTABCD2345", got[0].Ticket.TicketCode)

	limited, err := d.ScansByDriver(ctx, "user-driver", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "scan-2", limited[0].ID)
}
