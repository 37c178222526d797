// Package ticket holds the ticket lifecycle rules shared by the booking and
// scanner services. A ticket starts active and can only move along the edges
// below; used, expired and cancelled are terminal. The database enforces the
// same rules through conditional updates, this table is the in-process
// authority for pre-checks and tests.
package ticket

import (
	"fmt"

	"ticketa/internal/models"
)

var transitions = map[models.TicketStatus][]models.TicketStatus{
	models.TicketActive: {
		models.TicketUsed,      // successful scan
		models.TicketCancelled, // passenger/admin cancellation, frees the seat
		models.TicketExpired,   // trip departed without a scan
	},
	models.TicketUsed:      nil,
	models.TicketExpired:   nil,
	models.TicketCancelled: nil,
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
// There is no edge into active: a ticket is only ever active at creation.
func CanTransition(from, to models.TicketStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves the given status.
func Terminal(s models.TicketStatus) bool {
	return len(transitions[s]) == 0
}

// Scannable reports whether a scan may consume a ticket in this status.
func Scannable(s models.TicketStatus) bool {
	return CanTransition(s, models.TicketUsed)
}

// InvalidStatusError reports a scan against a ticket whose status forbids it.
type InvalidStatusError struct {
	Status models.TicketStatus
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("ticket is %s", e.Status)
}
