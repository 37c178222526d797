package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TripStatus string

const (
	TripScheduled TripStatus = "scheduled"
	TripBoarding  TripStatus = "boarding"
	TripDeparted  TripStatus = "departed"
	TripCompleted TripStatus = "completed"
	TripCancelled TripStatus = "cancelled"
)

// Trip is one dated operating instance of a Schedule. AvailableSeats is
// decremented on every sale and incremented when an active ticket is
// cancelled; both happen through conditional updates only.
type Trip struct {
	bun.BaseModel `bun:"table:trips"`

	ID             string     `bun:"id,pk" json:"id"`
	ScheduleID     string     `bun:"schedule_id,notnull" json:"schedule_id"`
	TripDate       string     `bun:"trip_date,notnull" json:"trip_date"`
	AvailableSeats int        `bun:"available_seats,notnull" json:"available_seats"`
	Status         TripStatus `bun:"status,notnull,default:'scheduled'" json:"status"`
	CreatedAt      time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`

	Schedule *Schedule `bun:"rel:belongs-to,join:schedule_id=id" json:"schedule,omitempty"`
}

// CompanyID walks the loaded relations to the operating company. Empty when
// the schedule/route relations were not selected.
func (t *Trip) CompanyID() string {
	if t.Schedule != nil && t.Schedule.Route != nil {
		return t.Schedule.Route.CompanyID
	}
	return ""
}
