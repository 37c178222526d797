package models

import (
	"time"

	"github.com/uptrace/bun"
)

type BusStatus string

const (
	BusAvailable   BusStatus = "available"
	BusFull        BusStatus = "full"
	BusMaintenance BusStatus = "maintenance"
	BusInactive    BusStatus = "inactive"
)

type Bus struct {
	bun.BaseModel `bun:"table:buses"`

	ID                 string    `bun:"id,pk" json:"id"`
	CompanyID          string    `bun:"company_id,notnull" json:"company_id"`
	RegistrationNumber string    `bun:"registration_number,notnull" json:"registration_number"`
	Model              string    `bun:"model,nullzero" json:"model,omitempty"`
	SeatCapacity       int       `bun:"seat_capacity,notnull" json:"seat_capacity"`
	Status             BusStatus `bun:"status,notnull,default:'available'" json:"status"`
	CreatedAt          time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt          time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`

	Company *BusCompany `bun:"rel:belongs-to,join:company_id=id" json:"company,omitempty"`
}

type Route struct {
	bun.BaseModel `bun:"table:routes"`

	ID               string    `bun:"id,pk" json:"id"`
	CompanyID        string    `bun:"company_id,notnull" json:"company_id"`
	Origin           string    `bun:"origin,notnull" json:"origin"`
	Destination      string    `bun:"destination,notnull" json:"destination"`
	DistanceKM       float64   `bun:"distance_km,nullzero" json:"distance_km,omitempty"`
	DurationMinutes  int       `bun:"estimated_duration_minutes,nullzero" json:"estimated_duration_minutes,omitempty"`
	IsActive         bool      `bun:"is_active,notnull,default:true" json:"is_active"`
	CreatedAt        time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt        time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`

	Company *BusCompany `bun:"rel:belongs-to,join:company_id=id" json:"company,omitempty"`
}

// Schedule is a recurring departure a company configures once. DaysOfWeek is
// a bitmask: bit 0 = Sunday ... bit 6 = Saturday.
type Schedule struct {
	bun.BaseModel `bun:"table:schedules"`

	ID            string    `bun:"id,pk" json:"id"`
	RouteID       string    `bun:"route_id,notnull" json:"route_id"`
	BusID         string    `bun:"bus_id,notnull" json:"bus_id"`
	DepartureTime string    `bun:"departure_time,notnull" json:"departure_time"`
	ArrivalTime   string    `bun:"arrival_time,nullzero" json:"arrival_time,omitempty"`
	DaysOfWeek    int       `bun:"days_of_week,notnull" json:"days_of_week"`
	PriceLeones   float64   `bun:"price_leones,notnull" json:"price_leones"`
	IsActive      bool      `bun:"is_active,notnull,default:true" json:"is_active"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`

	Route *Route `bun:"rel:belongs-to,join:route_id=id" json:"route,omitempty"`
	Bus   *Bus   `bun:"rel:belongs-to,join:bus_id=id" json:"bus,omitempty"`
}

// RunsOn reports whether the schedule departs on the given weekday.
func (s *Schedule) RunsOn(day time.Weekday) bool {
	return s.DaysOfWeek&(1<<uint(day)) != 0
}
