package scanner_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"ticketa/internal/auth"
	"ticketa/internal/logger"
	"ticketa/internal/models"
	"ticketa/internal/scanner"
	"ticketa/internal/ticket"
)

type Handler struct {
	Scanner *scanner.Service
	Logger  *logger.Logger
}

func NewHandler(svc *scanner.Service, log *logger.Logger) *Handler {
	return &Handler{Scanner: svc, Logger: log}
}

// scanResponse mirrors what the driver UI renders: a green confirmation with
// passenger/seat detail or a red indicator with the reason.
type scanResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Result  models.ScanResult `json:"result,omitempty"`
	Ticket  *models.Ticket    `json:"ticket,omitempty"`
	ScanID  string            `json:"scan_id,omitempty"`
}

// ScanTicket validates a decoded or hand-typed ticket code.
// Expected POST body: {"code": "TKT...", "location": "driver_scanner"}
func (h *Handler) ScanTicket(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var body struct {
		Code     string `json:"code"`
		Location string `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if body.Code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}
	if body.Location == "" {
		body.Location = "driver_scanner"
	}

	outcome, err := h.Scanner.Scan(r.Context(), body.Code, body.Location, session)
	if err != nil {
		h.writeScanError(w, body.Code, outcome, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(scanResponse{
		Success: true,
		Message: fmt.Sprintf("Ticket validated: %s - seat %d", outcome.Ticket.PassengerName, outcome.Ticket.SeatNumber),
		Result:  outcome.Result,
		Ticket:  outcome.Ticket,
		ScanID:  outcome.ScanID,
	})
}

// ScanHistory returns the driver's recent scans for the history tab.
func (h *Handler) ScanHistory(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	scans, err := h.Scanner.History(r.Context(), session, limit)
	if err != nil {
		if errors.Is(err, scanner.ErrNotAuthorized) {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("ScanHistory: %v", err))
		http.Error(w, "Failed to load scan history", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(scans)
}

func (h *Handler) writeScanError(w http.ResponseWriter, code string, outcome *scanner.Outcome, err error) {
	resp := scanResponse{Success: false, Message: err.Error()}
	if outcome != nil {
		resp.Result = outcome.Result
		resp.Ticket = outcome.Ticket
		resp.ScanID = outcome.ScanID
	}

	status := http.StatusInternalServerError
	var invalid *ticket.InvalidStatusError
	switch {
	case errors.Is(err, scanner.ErrTicketNotFound):
		status = http.StatusNotFound
		resp.Message = "Ticket not found: " + code
	case errors.Is(err, scanner.ErrAlreadyUsed):
		status = http.StatusConflict
		resp.Message = "This ticket has already been scanned."
	case errors.As(err, &invalid):
		status = http.StatusConflict
		resp.Message = fmt.Sprintf("Ticket is %s.", invalid.Status)
	case errors.Is(err, scanner.ErrWrongCompany):
		status = http.StatusForbidden
	case errors.Is(err, scanner.ErrDriverNotFound), errors.Is(err, scanner.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, scanner.ErrDuplicateScan):
		status = http.StatusTooManyRequests
	default:
		h.Logger.Error("API", fmt.Sprintf("scan error: %v", err))
		status = http.StatusServiceUnavailable
		resp.Message = "Error scanning ticket. Please try again."
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
