package booking_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ticketa/internal/auth"
	"ticketa/internal/booking"
	"ticketa/internal/logger"
)

type Handler struct {
	Booking *booking.Service
	Logger  *logger.Logger
}

func NewHandler(svc *booking.Service, log *logger.Logger) *Handler {
	return &Handler{Booking: svc, Logger: log}
}

// HoldSeat reserves a seat while the passenger fills in the booking form.
func (h *Handler) HoldSeat(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	tripID := chi.URLParam(r, "tripID")

	var body struct {
		SeatNumber int `json:"seat_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.Booking.HoldSeat(r.Context(), tripID, body.SeatNumber, session); err != nil {
		h.writeBookingError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"trip_id":%q,"seat_number":%d,"held":true}`, tripID, body.SeatNumber)
}

// BookSeat sells a seat. Booking collisions come back as 409 so the client
// re-prompts seat selection instead of silently reassigning.
func (h *Handler) BookSeat(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	tripID := chi.URLParam(r, "tripID")

	var req booking.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.PassengerName == "" || req.PassengerPhone == "" {
		http.Error(w, "passenger_name and passenger_phone are required", http.StatusBadRequest)
		return
	}

	t, err := h.Booking.AllocateSeat(r.Context(), tripID, req, session)
	if err != nil {
		h.writeBookingError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(t); err != nil {
		h.Logger.Error("API", fmt.Sprintf("BookSeat: failed to encode response: %v", err))
	}
}

func (h *Handler) BookedSeats(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripID")

	seats, err := h.Booking.BookedSeats(r.Context(), tripID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("BookedSeats: %v", err))
		http.Error(w, "Failed to load booked seats", http.StatusServiceUnavailable)
		return
	}
	if seats == nil {
		seats = []int{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"trip_id":      tripID,
		"booked_seats": seats,
	})
}

func (h *Handler) MyTickets(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	tickets, err := h.Booking.GetTicketsByPassenger(r.Context(), session)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("MyTickets: %v", err))
		http.Error(w, "Failed to load tickets", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tickets)
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ticketID := chi.URLParam(r, "ticketID")

	t, err := h.Booking.GetTicket(r.Context(), ticketID, session)
	if err != nil {
		h.writeBookingError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(t)
}

// TicketQR serves the encrypted QR image the scanner consumes.
func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ticketID := chi.URLParam(r, "ticketID")

	t, err := h.Booking.GetTicket(r.Context(), ticketID, session)
	if err != nil {
		h.writeBookingError(w, err)
		return
	}
	if len(t.QRCode) == 0 {
		http.Error(w, "ticket has no QR code", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(t.QRCode)
}

func (h *Handler) CancelTicket(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ticketID := chi.URLParam(r, "ticketID")

	if err := h.Booking.CancelTicket(r.Context(), ticketID, session); err != nil {
		h.writeBookingError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrTripNotFound), errors.Is(err, booking.ErrTicketNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, booking.ErrSeatOutOfRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, booking.ErrSeatTaken),
		errors.Is(err, booking.ErrSeatHeld),
		errors.Is(err, booking.ErrTripSoldOut),
		errors.Is(err, booking.ErrTripNotBookable),
		errors.Is(err, booking.ErrNotCancellable):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, booking.ErrNotTicketOwner):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		h.Logger.Error("API", fmt.Sprintf("booking error: %v", err))
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
	}
}
