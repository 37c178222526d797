package company

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
	ErrCompanyNotFound = errors.New("company not found")
	ErrNotAuthorized   = errors.New("caller may not manage this company")
	ErrBadRole         = errors.New("unknown role")
	ErrBadInput        = errors.New("invalid input")
)

type DBLayer interface {
	CreateCompany(ctx context.Context, c *models.BusCompany, admin *models.CompanyAdmin) error
	GetCompany(ctx context.Context, companyID string) (*models.BusCompany, error)
	ListCompanies(ctx context.Context, approvedOnly bool) ([]models.BusCompany, error)
	SetCompanyFlags(ctx context.Context, companyID string, approved, active bool) error
	CompanyForUser(ctx context.Context, userID string) (string, error)

	InsertBus(ctx context.Context, b *models.Bus) error
	UpdateBus(ctx context.Context, b *models.Bus) error
	ListBuses(ctx context.Context, companyID string) ([]models.Bus, error)

	InsertRoute(ctx context.Context, r *models.Route) error
	UpdateRoute(ctx context.Context, r *models.Route) error
	ListRoutes(ctx context.Context, companyID string) ([]models.Route, error)

	InsertSchedule(ctx context.Context, s *models.Schedule) error
	UpdateSchedule(ctx context.Context, s *models.Schedule) error
	ListSchedules(ctx context.Context, companyID string) ([]models.Schedule, error)

	InsertDriver(ctx context.Context, d *models.Driver) error
	SetDriverActive(ctx context.Context, driverID, companyID string, active bool) error
	ListDrivers(ctx context.Context, companyID string) ([]models.Driver, error)

	GrantRole(ctx context.Context, userID string, role models.AppRole) error
	RevokeRole(ctx context.Context, userID string, role models.AppRole) error
}

// RoleInvalidator drops cached role sets after a grant or revoke so the change
// is visible on the next request rather than after cache expiry.
type RoleInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

type Service struct {
	DB     DBLayer
	Roles  RoleInvalidator
	Logger *logger.Logger
}

func NewService(db DBLayer, roles RoleInvalidator, log *logger.Logger) *Service {
	return &Service{DB: db, Roles: roles, Logger: log}
}

// Register creates a company pending platform approval and makes the caller
// its first company admin. The company cannot sell until an admin approves it.
func (s *Service) Register(ctx context.Context, c models.BusCompany, session auth.Session) (*models.BusCompany, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("%w: company name is required", ErrBadInput)
	}

	now := time.Now()
	c.ID = uuid.NewString()
	c.IsApproved = false
	c.IsActive = true
	c.CreatedAt = now
	c.UpdatedAt = now

	admin := models.CompanyAdmin{
		ID:        uuid.NewString(),
		UserID:    session.UserID,
		CompanyID: c.ID,
		CreatedAt: now,
	}
	if err := s.DB.CreateCompany(ctx, &c, &admin); err != nil {
		return nil, fmt.Errorf("failed to register company: %w", err)
	}

	if err := s.DB.GrantRole(ctx, session.UserID, models.RoleCompanyAdmin); err != nil {
		s.Logger.Error("COMPANY", fmt.Sprintf("role grant after registration failed for %s: %v", session.UserID, err))
	} else if s.Roles != nil {
		s.Roles.Invalidate(ctx, session.UserID)
	}

	s.Logger.Info("COMPANY", fmt.Sprintf("company %s registered by %s, pending approval", c.ID, session.UserID))
	return &c, nil
}

func (s *Service) GetCompany(ctx context.Context, companyID string) (*models.BusCompany, error) {
	c, err := s.DB.GetCompany(ctx, companyID)
	if err != nil {
		return nil, ErrCompanyNotFound
	}
	return c, nil
}

// ListCompanies shows every company to platform admins and only approved,
// active ones to everyone else.
func (s *Service) ListCompanies(ctx context.Context, session auth.Session) ([]models.BusCompany, error) {
	return s.DB.ListCompanies(ctx, !session.IsAdmin())
}

// authorize resolves the caller's own company and checks it against the
// target. Platform admins pass unconditionally.
func (s *Service) authorize(ctx context.Context, companyID string, session auth.Session) error {
	if session.IsAdmin() {
		return nil
	}
	own, err := s.DB.CompanyForUser(ctx, session.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve caller company: %w", err)
	}
	if !session.CanManageCompany(companyID, own) {
		return ErrNotAuthorized
	}
	return nil
}

func (s *Service) AddBus(ctx context.Context, companyID string, b models.Bus, session auth.Session) (*models.Bus, error) {
	if err := s.authorize(ctx, companyID, session); err != nil {
		return nil, err
	}
	if b.RegistrationNumber == "" || b.SeatCapacity <= 0 {
		return nil, fmt.Errorf("%w: registration number and positive seat capacity are required", ErrBadInput)
	}

	now := time.Now()
	b.ID = uuid.NewString()
	b.CompanyID = companyID
	if b.Status == "" {
		b.Status = models.BusAvailable
	}
	b.CreatedAt = now
	b.UpdatedAt = now
	if err := s.DB.InsertBus(ctx, &b); err != nil {
		return nil, fmt.Errorf("failed to add bus: %w", err)
	}
	return &b, nil
}

func (s *Service) UpdateBus(ctx context.Context, companyID string, b models.Bus, session auth.Session) (*models.Bus, error) {
	if err := s.authorize(ctx, companyID, session); err != nil {
		return nil, err
	}
	b.CompanyID = companyID
	b.UpdatedAt = time.Now()
	if err := s.DB.UpdateBus(ctx, &b); err != nil {
		return nil, fmt.Errorf("failed to update bus: %w", err)
	}
	return &b, nil
}

func (s *Service) ListBuses(ctx context.Context, companyID string, session auth.Session) ([]models.Bus, error) {
	if err := s.authorize(ctx, companyID, session); err != nil {
		return nil, err
	}
	return s.DB.ListBuses(ctx, companyID)
}

func (s *Service) AddRoute(ctx context.Context, companyID string, r models.Route, session auth.Session) (*models.Route, error) {
	if err := s.authorize(ctx, companyID, session); err != nil {
		return nil, err
	}
	if r.Origin == "" || r.Destination == "" {
		return nil, fmt.Errorf("%w: origin and destination are required", ErrBadInput)
	}

	now := time.Now()
	r.ID = uuid.NewString()
	r.CompanyID = companyID
	r.IsActive = true
	r.CreatedAt = now
	r.UpdatedAt = now
	if err := s.DB.InsertRoute(ctx, &r); err != nil {
		return nil, fmt.Errorf("failed to add route: %w", err)
	}
	return &r, nil
}

func (s *Service) UpdateRoute(ctx context.Context, companyID string, r models.Route, session auth.Session) (*models.Route, error) {
	if err := s.authorize(ctx, companyID, session); err != nil {
		return nil, err
	}
	r.CompanyID = companyID
	r.UpdatedAt = time.Now()
	if err := s.DB.UpdateRoute(ctx, &r); err != nil {
		return nil, fmt.Errorf("failed to update route: %w", err)
	}
	return &r, nil
}

func (s *Service) ListRoutes(ctx context.Context, companyID string, session auth.Session) ([]models.Route, error) {
	if err := s.authorize(ctx, companyID, session); err != nil {
		return nil, err
	}
	return s.DB.ListRoutes(ctx, companyID)
}

func (s *Service) AddSchedule(ctx context.Context, companyID string, sched models.Schedule, session auth.Session) (*models.Schedule, error) {
	if err := s.authorize(ctx, companyID, session); err != nil {
		return nil, err
	}
	if sched.RouteID == "" || sched.BusID == "" || sched.DepartureTime == "" {
		return nil, fmt.Errorf("%w: route, bus and departure time are required", ErrBadInput)
	}
	if sched.DaysOfWeek <= 0 || sched.DaysOfWeek > 0x7F {
		return nil, fmt.Errorf("%w: days_of_week must set at least one weekday bit", ErrBadInput)
	}

	now := time.Now()
	sched.ID = uuid.NewString()
	sched.IsActive = true
	sched.CreatedAt = now
	sched.UpdatedAt = now
	if err := s.DB.InsertSchedule(ctx, &sched); err != nil {
		return nil, fmt.Errorf("failed to add schedule: %w", err)
	}
	return &sched, nil
}

func (s *Service) UpdateSchedule(ctx context.Context, companyID string, sched models.Schedule, session auth.Session) (*models.Schedule, error) {
	if err := s.authorize(ctx, companyID, session); err != nil {
		return nil, err
	}
	sched.UpdatedAt = time.Now()
	if err := s.DB.UpdateSchedule(ctx, &sched); err != nil {
		return nil, fmt.Errorf("failed to update schedule: %w", err)
	}
	return &sched, nil
}

func (s *Service) ListSchedules(ctx context.Context, companyID string, session auth.Session) ([]models.Schedule, error) {
	if err := s.authorize(ctx, companyID, session); err != nil {
		return nil, err
	}
	return s.DB.ListSchedules(ctx, companyID)
}

// AddDriver attaches a user to the company as a scanning driver and grants
// the driver role.
func (s *Service) AddDriver(ctx context.Context, companyID string, d models.Driver, session auth.Session) (*models.Driver, error) {
	if err := s.authorize(ctx, companyID, session); err != nil {
		return nil, err
	}
	if d.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrBadInput)
	}

	now := time.Now()
	d.ID = uuid.NewString()
	d.CompanyID = companyID
	d.IsActive = true
	d.CreatedAt = now
	d.UpdatedAt = now
	if err := s.DB.InsertDriver(ctx, &d); err != nil {
		return nil, fmt.Errorf("failed to add driver: %w", err)
	}

	if err := s.DB.GrantRole(ctx, d.UserID, models.RoleDriver); err != nil {
		s.Logger.Error("COMPANY", fmt.Sprintf("driver role grant failed for %s: %v", d.UserID, err))
	} else if s.Roles != nil {
		s.Roles.Invalidate(ctx, d.UserID)
	}
	return &d, nil
}

func (s *Service) SetDriverActive(ctx context.Context, companyID, driverID string, active bool, session auth.Session) error {
	if err := s.authorize(ctx, companyID, session); err != nil {
		return err
	}
	if err := s.DB.SetDriverActive(ctx, driverID, companyID, active); err != nil {
		return fmt.Errorf("failed to update driver: %w", err)
	}
	return nil
}

func (s *Service) ListDrivers(ctx context.Context, companyID string, session auth.Session) ([]models.Driver, error) {
	if err := s.authorize(ctx, companyID, session); err != nil {
		return nil, err
	}
	return s.DB.ListDrivers(ctx, companyID)
}

// Approve marks a pending company as allowed to operate. Platform admins only.
func (s *Service) Approve(ctx context.Context, companyID string, session auth.Session) error {
	return s.setFlags(ctx, companyID, true, true, session, "approved")
}

// Suspend takes an operating company off the marketplace without deleting its
// data. Its trips stop appearing in search.
func (s *Service) Suspend(ctx context.Context, companyID string, session auth.Session) error {
	c, err := s.DB.GetCompany(ctx, companyID)
	if err != nil {
		return ErrCompanyNotFound
	}
	return s.setFlags(ctx, companyID, c.IsApproved, false, session, "suspended")
}

func (s *Service) Reinstate(ctx context.Context, companyID string, session auth.Session) error {
	c, err := s.DB.GetCompany(ctx, companyID)
	if err != nil {
		return ErrCompanyNotFound
	}
	return s.setFlags(ctx, companyID, c.IsApproved, true, session, "reinstated")
}

func (s *Service) setFlags(ctx context.Context, companyID string, approved, active bool, session auth.Session, action string) error {
	if !session.CanManagePlatform() {
		return ErrNotAuthorized
	}
	if err := s.DB.SetCompanyFlags(ctx, companyID, approved, active); err != nil {
		return fmt.Errorf("failed to update company: %w", err)
	}
	s.Logger.Info("COMPANY", fmt.Sprintf("company %s %s by %s", companyID, action, session.UserID))
	return nil
}

// GrantRole and RevokeRole are the platform-admin role management surface.
// Role names outside the closed enum are rejected before touching the store.
func (s *Service) GrantRole(ctx context.Context, userID, role string, session auth.Session) error {
	return s.changeRole(ctx, userID, role, session, s.DB.GrantRole)
}

func (s *Service) RevokeRole(ctx context.Context, userID, role string, session auth.Session) error {
	return s.changeRole(ctx, userID, role, session, s.DB.RevokeRole)
}

func (s *Service) changeRole(ctx context.Context, userID, role string, session auth.Session, apply func(context.Context, string, models.AppRole) error) error {
	if !session.CanManagePlatform() {
		return ErrNotAuthorized
	}
	if !models.ValidRole(role) {
		return fmt.Errorf("%w: %q", ErrBadRole, role)
	}
	if err := apply(ctx, userID, models.AppRole(role)); err != nil {
		return fmt.Errorf("failed to change role: %w", err)
	}
	if s.Roles != nil {
		if err := s.Roles.Invalidate(ctx, userID); err != nil {
			s.Logger.Warn("COMPANY", fmt.Sprintf("role cache invalidation failed for %s: %v", userID, err))
		}
	}
	s.Logger.Info("COMPANY", fmt.Sprintf("role %s changed for %s by %s", role, userID, session.UserID))
	return nil
}
