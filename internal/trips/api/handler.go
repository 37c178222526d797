package trips_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ticketa/internal/auth"
	"ticketa/internal/logger"
	"ticketa/internal/models"
	"ticketa/internal/trips"
)

type Handler struct {
	Trips  *trips.Service
	Logger *logger.Logger
}

func NewHandler(svc *trips.Service, log *logger.Logger) *Handler {
	return &Handler{Trips: svc, Logger: log}
}

// Search is the public trip search behind the booking flow.
// GET /trips?origin=Freetown&destination=Bo&date=2025-03-01
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := trips.SearchQuery{
		Origin:      r.URL.Query().Get("origin"),
		Destination: r.URL.Query().Get("destination"),
		Date:        r.URL.Query().Get("date"),
	}

	found, err := h.Trips.Search(r.Context(), q)
	if err != nil {
		if errors.Is(err, trips.ErrBadDate) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("trip search: %v", err))
		http.Error(w, "Failed to search trips", http.StatusServiceUnavailable)
		return
	}
	if found == nil {
		found = []models.Trip{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(found)
}

func (h *Handler) GetTrip(w http.ResponseWriter, r *http.Request) {
	t, err := h.Trips.GetTrip(r.Context(), chi.URLParam(r, "tripID"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(t)
}

// SetStatus advances a trip's operating lifecycle.
// Expected PATCH body: {"status": "boarding"}
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var body struct {
		Status models.TripStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	t, err := h.Trips.SetStatus(r.Context(), chi.URLParam(r, "tripID"), body.Status, session)
	if err != nil {
		switch {
		case errors.Is(err, trips.ErrTripNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, trips.ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, trips.ErrNotAuthorized):
			http.Error(w, err.Error(), http.StatusForbidden)
		default:
			h.Logger.Error("API", fmt.Sprintf("trip status: %v", err))
			http.Error(w, "Failed to update trip", http.StatusServiceUnavailable)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(t)
}

// Materialize creates dated trips for upcoming days of recurring schedules.
// Admin-only; the same sweep also runs from the scheduler in main.
func (h *Handler) Materialize(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !session.CanManagePlatform() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var body struct {
		Date string `json:"date"`
		Days int    `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	var created int
	var err error
	if body.Date != "" {
		created, err = h.Trips.MaterializeDate(r.Context(), body.Date)
	} else {
		if body.Days <= 0 {
			body.Days = 7
		}
		created, err = h.Trips.MaterializeWindow(r.Context(), body.Days)
	}
	if err != nil {
		if errors.Is(err, trips.ErrBadDate) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("materialize: %v", err))
		http.Error(w, "Failed to materialize trips", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"created": created})
}

// ExpireTickets runs the unscanned-ticket sweep on demand.
func (h *Handler) ExpireTickets(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !session.CanManagePlatform() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	n, err := h.Trips.ExpireUnscanned(r.Context(), time.Now())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("expire sweep: %v", err))
		http.Error(w, "Failed to expire tickets", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"expired": n})
}

// CompanyTrips lists trips for a company dashboard.
// GET /companies/{companyID}/trips?date=2025-03-01
func (h *Handler) CompanyTrips(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	found, err := h.Trips.CompanyTrips(r.Context(), chi.URLParam(r, "companyID"), r.URL.Query().Get("date"), session)
	if err != nil {
		if errors.Is(err, trips.ErrNotAuthorized) {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("company trips: %v", err))
		http.Error(w, "Failed to load trips", http.StatusServiceUnavailable)
		return
	}
	if found == nil {
		found = []models.Trip{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(found)
}
