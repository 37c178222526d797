package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Driver links a user identity to the company they scan for, and optionally
// to an assigned bus.
type Driver struct {
	bun.BaseModel `bun:"table:drivers"`

	ID            string    `bun:"id,pk" json:"id"`
	UserID        string    `bun:"user_id,unique,notnull" json:"user_id"`
	CompanyID     string    `bun:"company_id,notnull" json:"company_id"`
	LicenseNumber string    `bun:"license_number,nullzero" json:"license_number,omitempty"`
	AssignedBusID string    `bun:"assigned_bus_id,nullzero" json:"assigned_bus_id,omitempty"`
	IsActive      bool      `bun:"is_active,notnull,default:true" json:"is_active"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`

	Company *BusCompany `bun:"rel:belongs-to,join:company_id=id" json:"company,omitempty"`
	Bus     *Bus        `bun:"rel:belongs-to,join:assigned_bus_id=id" json:"bus,omitempty"`
}
