package models

import (
	"time"

	"github.com/uptrace/bun"
)

// CompanyAdmin links a user identity to the company they administer.
type CompanyAdmin struct {
	bun.BaseModel `bun:"table:company_admins"`

	ID        string    `bun:"id,pk" json:"id"`
	UserID    string    `bun:"user_id,unique,notnull" json:"user_id"`
	CompanyID string    `bun:"company_id,notnull" json:"company_id"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`

	Company *BusCompany `bun:"rel:belongs-to,join:company_id=id" json:"company,omitempty"`
}

type BusCompany struct {
	bun.BaseModel `bun:"table:bus_companies"`

	ID            string    `bun:"id,pk" json:"id"`
	Name          string    `bun:"name,notnull" json:"name"`
	Description   string    `bun:"description,nullzero" json:"description,omitempty"`
	ContactEmail  string    `bun:"contact_email,nullzero" json:"contact_email,omitempty"`
	ContactPhone  string    `bun:"contact_phone,nullzero" json:"contact_phone,omitempty"`
	Address       string    `bun:"address,nullzero" json:"address,omitempty"`
	IsApproved    bool      `bun:"is_approved,notnull,default:false" json:"is_approved"`
	IsActive      bool      `bun:"is_active,notnull,default:true" json:"is_active"`
	AverageRating float64   `bun:"average_rating,notnull,default:0" json:"average_rating"`
	TotalReviews  int       `bun:"total_reviews,notnull,default:0" json:"total_reviews"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}
