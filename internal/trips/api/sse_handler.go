package trips_api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ticketa/internal/auth"
	"ticketa/internal/logger"
	"ticketa/internal/sse"
	"ticketa/internal/trips"
)

// SSEHandler streams boarding progress for a trip to company dashboards.
type SSEHandler struct {
	Logger  *logger.Logger
	Emitter *sse.BoardingEmitter
	Trips   *trips.Service
}

func NewSSEHandler(log *logger.Logger, emitter *sse.BoardingEmitter, svc *trips.Service) *SSEHandler {
	return &SSEHandler{Logger: log, Emitter: emitter, Trips: svc}
}

// HandleBoardingFeed streams ticket updates for one trip.
// GET /trips/{tripID}/boarding (text/event-stream)
func (h *SSEHandler) HandleBoardingFeed(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripID")
	if tripID == "" {
		http.Error(w, "Trip ID is required", http.StatusBadRequest)
		return
	}

	session, ok := auth.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := h.verifyTripAccess(r, tripID, session); err != nil {
		h.Logger.Error("SSE", fmt.Sprintf("boarding feed access denied: %v", err))
		http.Error(w, "Unauthorized access", http.StatusForbidden)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	setupSSEHeaders(w)

	ctx := r.Context()
	ticketChan := h.Emitter.SubscribeToTrip(ctx, tripID)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"tripID\":%q}\n\n", tripID)
	flusher.Flush()

	h.Logger.Info("SSE", fmt.Sprintf("client connected to boarding feed for trip %s", tripID))

	for {
		select {
		case t, open := <-ticketChan:
			if !open {
				h.Logger.Debug("SSE", fmt.Sprintf("channel closed for trip %s", tripID))
				return
			}

			jsonData, err := json.Marshal(t)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("failed to serialize ticket update: %v", err))
				continue
			}

			fmt.Fprintf(w, "event: ticket\ndata: %s\n\n", jsonData)
			flusher.Flush()

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("client disconnected from boarding feed for trip %s", tripID))
			return
		}
	}
}

// verifyTripAccess restricts the feed to staff of the operating company and
// platform admins. Passengers have no business watching who boarded.
func (h *SSEHandler) verifyTripAccess(r *http.Request, tripID string, session auth.Session) error {
	if session.IsAdmin() {
		return nil
	}

	t, err := h.Trips.GetTrip(r.Context(), tripID)
	if err != nil {
		return fmt.Errorf("trip lookup failed: %w", err)
	}
	companyID := t.CompanyID()
	if companyID == "" {
		return fmt.Errorf("trip %s has no resolvable company", tripID)
	}

	if _, err := h.Trips.CompanyTrips(r.Context(), companyID, "", session); err != nil {
		return fmt.Errorf("user %s may not watch trips of company %s", session.UserID, companyID)
	}
	return nil
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
