package sse

import (
	"context"
	"sync"

	"ticketa/internal/models"
)

// BoardingEmitter manages SSE connections and ticket-update broadcasting for
// boarding dashboards. Subscribers are keyed by trip; each successful scan is
// fanned out to every dashboard watching that trip.
type BoardingEmitter struct {
	// key: tripID, value: slice of client channels
	tripClients     map[string][]chan models.Ticket
	tripClientMutex sync.RWMutex
}

func NewBoardingEmitter() *BoardingEmitter {
	return &BoardingEmitter{
		tripClients: make(map[string][]chan models.Ticket),
	}
}

// SubscribeToTrip adds a client to the trip's boarding feed. The channel is
// closed and removed when ctx is cancelled.
func (e *BoardingEmitter) SubscribeToTrip(ctx context.Context, tripID string) chan models.Ticket {
	clientChan := make(chan models.Ticket, 10)

	e.tripClientMutex.Lock()
	e.tripClients[tripID] = append(e.tripClients[tripID], clientChan)
	e.tripClientMutex.Unlock()

	go func() {
		<-ctx.Done()
		e.removeTripClient(tripID, clientChan)
	}()

	return clientChan
}

// EmitTicketUpdate broadcasts a ticket state change to all clients watching
// its trip. Delivery is at-most-once: a client whose buffer is full misses
// the update rather than stalling the emitter.
func (e *BoardingEmitter) EmitTicketUpdate(t models.Ticket) {
	e.tripClientMutex.RLock()
	clients := e.tripClients[t.TripID]
	e.tripClientMutex.RUnlock()

	for _, clientChan := range clients {
		select {
		case clientChan <- t:
		default:
			// Channel buffer full, skip this client for now
		}
	}
}

func (e *BoardingEmitter) removeTripClient(tripID string, clientChan chan models.Ticket) {
	e.tripClientMutex.Lock()
	defer e.tripClientMutex.Unlock()

	clients := e.tripClients[tripID]
	for i, ch := range clients {
		if ch == clientChan {
			e.tripClients[tripID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	if len(e.tripClients[tripID]) == 0 {
		delete(e.tripClients, tripID)
	}
}

// TripClientCount returns the number of clients currently watching a trip.
func (e *BoardingEmitter) TripClientCount(tripID string) int {
	e.tripClientMutex.RLock()
	defer e.tripClientMutex.RUnlock()
	return len(e.tripClients[tripID])
}
