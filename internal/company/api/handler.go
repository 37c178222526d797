package company_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ticketa/internal/auth"
	"ticketa/internal/company"
	"ticketa/internal/logger"
	"ticketa/internal/models"
	"ticketa/internal/utils"
)

type Handler struct {
	Company *company.Service
	Logger  *logger.Logger
}

func NewHandler(svc *company.Service, log *logger.Logger) *Handler {
	return &Handler{Company: svc, Logger: log}
}

func sendJSON(w http.ResponseWriter, status int, body utils.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, company.ErrCompanyNotFound):
		sendJSON(w, http.StatusNotFound, utils.ErrorResponse(action+" failed", err.Error()))
	case errors.Is(err, company.ErrNotAuthorized):
		sendJSON(w, http.StatusForbidden, utils.ErrorResponse(action+" failed", err.Error()))
	case errors.Is(err, company.ErrBadInput), errors.Is(err, company.ErrBadRole):
		sendJSON(w, http.StatusBadRequest, utils.ErrorResponse(action+" failed", err.Error()))
	default:
		h.Logger.Error("API", fmt.Sprintf("%s: %v", action, err))
		sendJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse(action+" failed", "store unavailable"))
	}
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (auth.Session, bool) {
	session, ok := auth.SessionFrom(r.Context())
	if !ok {
		sendJSON(w, http.StatusUnauthorized, utils.ErrorResponse("unauthorized", "missing or invalid token"))
	}
	return session, ok
}

// Register creates a company pending approval.
// POST /companies {"name": "...", "contact_email": "...", ...}
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var c models.BusCompany
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		sendJSON(w, http.StatusBadRequest, utils.ErrorResponse("register failed", "invalid request body: "+err.Error()))
		return
	}

	created, err := h.Company.Register(r.Context(), c, session)
	if err != nil {
		h.writeError(w, "register", err)
		return
	}
	sendJSON(w, http.StatusCreated, utils.SuccessResponse("company registered, pending approval", created))
}

func (h *Handler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFrom(r.Context())

	companies, err := h.Company.ListCompanies(r.Context(), session)
	if err != nil {
		h.writeError(w, "list companies", err)
		return
	}
	if companies == nil {
		companies = []models.BusCompany{}
	}
	sendJSON(w, http.StatusOK, utils.SuccessResponse("companies", companies))
}

func (h *Handler) GetCompany(w http.ResponseWriter, r *http.Request) {
	c, err := h.Company.GetCompany(r.Context(), chi.URLParam(r, "companyID"))
	if err != nil {
		h.writeError(w, "get company", err)
		return
	}
	sendJSON(w, http.StatusOK, utils.SuccessResponse("company", c))
}

func (h *Handler) AddBus(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var b models.Bus
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		sendJSON(w, http.StatusBadRequest, utils.ErrorResponse("add bus failed", "invalid request body: "+err.Error()))
		return
	}

	created, err := h.Company.AddBus(r.Context(), chi.URLParam(r, "companyID"), b, session)
	if err != nil {
		h.writeError(w, "add bus", err)
		return
	}
	sendJSON(w, http.StatusCreated, utils.SuccessResponse("bus added", created))
}

func (h *Handler) UpdateBus(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var b models.Bus
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		sendJSON(w, http.StatusBadRequest, utils.ErrorResponse("update bus failed", "invalid request body: "+err.Error()))
		return
	}
	b.ID = chi.URLParam(r, "busID")

	updated, err := h.Company.UpdateBus(r.Context(), chi.URLParam(r, "companyID"), b, session)
	if err != nil {
		h.writeError(w, "update bus", err)
		return
	}
	sendJSON(w, http.StatusOK, utils.SuccessResponse("bus updated", updated))
}

func (h *Handler) ListBuses(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	buses, err := h.Company.ListBuses(r.Context(), chi.URLParam(r, "companyID"), session)
	if err != nil {
		h.writeError(w, "list buses", err)
		return
	}
	if buses == nil {
		buses = []models.Bus{}
	}
	sendJSON(w, http.StatusOK, utils.SuccessResponse("buses", buses))
}

func (h *Handler) AddRoute(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var route models.Route
	if err := json.NewDecoder(r.Body).Decode(&route); err != nil {
		sendJSON(w, http.StatusBadRequest, utils.ErrorResponse("add route failed", "invalid request body: "+err.Error()))
		return
	}

	created, err := h.Company.AddRoute(r.Context(), chi.URLParam(r, "companyID"), route, session)
	if err != nil {
		h.writeError(w, "add route", err)
		return
	}
	sendJSON(w, http.StatusCreated, utils.SuccessResponse("route added", created))
}

func (h *Handler) UpdateRoute(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var route models.Route
	if err := json.NewDecoder(r.Body).Decode(&route); err != nil {
		sendJSON(w, http.StatusBadRequest, utils.ErrorResponse("update route failed", "invalid request body: "+err.Error()))
		return
	}
	route.ID = chi.URLParam(r, "routeID")

	updated, err := h.Company.UpdateRoute(r.Context(), chi.URLParam(r, "companyID"), route, session)
	if err != nil {
		h.writeError(w, "update route", err)
		return
	}
	sendJSON(w, http.StatusOK, utils.SuccessResponse("route updated", updated))
}

func (h *Handler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	routes, err := h.Company.ListRoutes(r.Context(), chi.URLParam(r, "companyID"), session)
	if err != nil {
		h.writeError(w, "list routes", err)
		return
	}
	if routes == nil {
		routes = []models.Route{}
	}
	sendJSON(w, http.StatusOK, utils.SuccessResponse("routes", routes))
}

func (h *Handler) AddSchedule(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var sched models.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		sendJSON(w, http.StatusBadRequest, utils.ErrorResponse("add schedule failed", "invalid request body: "+err.Error()))
		return
	}

	created, err := h.Company.AddSchedule(r.Context(), chi.URLParam(r, "companyID"), sched, session)
	if err != nil {
		h.writeError(w, "add schedule", err)
		return
	}
	sendJSON(w, http.StatusCreated, utils.SuccessResponse("schedule added", created))
}

func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var sched models.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		sendJSON(w, http.StatusBadRequest, utils.ErrorResponse("update schedule failed", "invalid request body: "+err.Error()))
		return
	}
	sched.ID = chi.URLParam(r, "scheduleID")

	updated, err := h.Company.UpdateSchedule(r.Context(), chi.URLParam(r, "companyID"), sched, session)
	if err != nil {
		h.writeError(w, "update schedule", err)
		return
	}
	sendJSON(w, http.StatusOK, utils.SuccessResponse("schedule updated", updated))
}

func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	schedules, err := h.Company.ListSchedules(r.Context(), chi.URLParam(r, "companyID"), session)
	if err != nil {
		h.writeError(w, "list schedules", err)
		return
	}
	if schedules == nil {
		schedules = []models.Schedule{}
	}
	sendJSON(w, http.StatusOK, utils.SuccessResponse("schedules", schedules))
}

func (h *Handler) AddDriver(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var d models.Driver
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		sendJSON(w, http.StatusBadRequest, utils.ErrorResponse("add driver failed", "invalid request body: "+err.Error()))
		return
	}

	created, err := h.Company.AddDriver(r.Context(), chi.URLParam(r, "companyID"), d, session)
	if err != nil {
		h.writeError(w, "add driver", err)
		return
	}
	sendJSON(w, http.StatusCreated, utils.SuccessResponse("driver added", created))
}

// SetDriverActive toggles a driver on or off.
// PATCH /companies/{companyID}/drivers/{driverID} {"is_active": false}
func (h *Handler) SetDriverActive(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var body struct {
		IsActive bool `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendJSON(w, http.StatusBadRequest, utils.ErrorResponse("update driver failed", "invalid request body: "+err.Error()))
		return
	}

	err := h.Company.SetDriverActive(r.Context(), chi.URLParam(r, "companyID"), chi.URLParam(r, "driverID"), body.IsActive, session)
	if err != nil {
		h.writeError(w, "update driver", err)
		return
	}
	sendJSON(w, http.StatusOK, utils.SuccessResponse("driver updated", nil))
}

func (h *Handler) ListDrivers(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	drivers, err := h.Company.ListDrivers(r.Context(), chi.URLParam(r, "companyID"), session)
	if err != nil {
		h.writeError(w, "list drivers", err)
		return
	}
	if drivers == nil {
		drivers = []models.Driver{}
	}
	sendJSON(w, http.StatusOK, utils.SuccessResponse("drivers", drivers))
}

// Admin surface.

func (h *Handler) ApproveCompany(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, "approve", h.Company.Approve)
}

func (h *Handler) SuspendCompany(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, "suspend", h.Company.Suspend)
}

func (h *Handler) ReinstateCompany(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, "reinstate", h.Company.Reinstate)
}

func (h *Handler) adminAction(w http.ResponseWriter, r *http.Request, action string, apply func(ctx context.Context, companyID string, session auth.Session) error) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	companyID := chi.URLParam(r, "companyID")
	if err := apply(r.Context(), companyID, session); err != nil {
		h.writeError(w, action+" company", err)
		return
	}
	sendJSON(w, http.StatusOK, utils.SuccessResponse("company updated", map[string]string{
		"company_id": companyID,
		"action":     action,
	}))
}

// GrantRole and RevokeRole manage the closed role set.
// POST /admin/roles {"user_id": "...", "role": "driver", "revoke": false}
func (h *Handler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var body struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
		Revoke bool   `json:"revoke"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendJSON(w, http.StatusBadRequest, utils.ErrorResponse("change role failed", "invalid request body: "+err.Error()))
		return
	}
	if body.UserID == "" {
		sendJSON(w, http.StatusBadRequest, utils.ErrorResponse("change role failed", "user_id is required"))
		return
	}

	var err error
	if body.Revoke {
		err = h.Company.RevokeRole(r.Context(), body.UserID, body.Role, session)
	} else {
		err = h.Company.GrantRole(r.Context(), body.UserID, body.Role, session)
	}
	if err != nil {
		h.writeError(w, "change role", err)
		return
	}
	sendJSON(w, http.StatusOK, utils.SuccessResponse("role updated", map[string]string{
		"user_id": body.UserID,
		"role":    body.Role,
	}))
}
