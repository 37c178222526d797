package auth

import (
	"context"

	"ticketa/internal/models"
)

// RoleSource resolves the roles granted to a user. The production source is
// the user_roles table behind a Redis cache (RoleCache); tests substitute a
// fixed map.
type RoleSource interface {
	RolesForUser(ctx context.Context, userID string) ([]models.AppRole, error)
}

// Session is the verified identity a request acts under. It is passed
// explicitly into every service operation so the allocator and validator stay
// pure functions of (input, session).
type Session struct {
	UserID string
	Roles  []models.AppRole
}

func NewSession(ctx context.Context, userID string, roles RoleSource) (Session, error) {
	granted, err := roles.RolesForUser(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return Session{UserID: userID, Roles: granted}, nil
}

func (s Session) HasRole(role models.AppRole) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (s Session) IsAdmin() bool {
	return s.HasRole(models.RoleAdmin)
}

// CanScanTickets gates the scanner surface. Whether the driver must also
// belong to the trip's operating company is a separate, configurable policy
// applied inside the scan validator.
func (s Session) CanScanTickets() bool {
	return s.HasRole(models.RoleDriver) || s.IsAdmin()
}

// CanManageCompany gates fleet/route/schedule/driver administration for one
// company. Platform admins may manage any company; a company admin only the
// one they belong to.
func (s Session) CanManageCompany(companyID, ownCompanyID string) bool {
	if s.IsAdmin() {
		return true
	}
	return s.HasRole(models.RoleCompanyAdmin) && ownCompanyID == companyID
}

// CanManagePlatform gates company approval and role grants.
func (s Session) CanManagePlatform() bool {
	return s.IsAdmin()
}
