package models

import (
	"time"

	"github.com/uptrace/bun"
)

// AppRole is the closed set of platform roles. Authorization decisions are
// made against these values, never against free-form strings from callers.
type AppRole string

const (
	RoleAdmin        AppRole = "admin"
	RoleCompanyAdmin AppRole = "company_admin"
	RoleDriver       AppRole = "driver"
	RolePassenger    AppRole = "passenger"
)

// ValidRole reports whether s names a known role.
func ValidRole(s string) bool {
	switch AppRole(s) {
	case RoleAdmin, RoleCompanyAdmin, RoleDriver, RolePassenger:
		return true
	}
	return false
}

type Profile struct {
	bun.BaseModel `bun:"table:profiles"`

	ID        string    `bun:"id,pk" json:"id"`
	UserID    string    `bun:"user_id,unique,notnull" json:"user_id"`
	FullName  string    `bun:"full_name,nullzero" json:"full_name,omitempty"`
	Phone     string    `bun:"phone,nullzero" json:"phone,omitempty"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

type UserRole struct {
	bun.BaseModel `bun:"table:user_roles"`

	ID        string    `bun:"id,pk" json:"id"`
	UserID    string    `bun:"user_id,notnull" json:"user_id"`
	Role      AppRole   `bun:"role,notnull" json:"role"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}
