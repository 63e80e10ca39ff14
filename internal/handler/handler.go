// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/volunteer-signup/internal/model"
	"github.com/Shivanand-hulikatti/volunteer-signup/internal/service"
)

// EventHandler holds all HTTP handlers for the volunteer sign-up API.
type EventHandler struct {
	admission *service.AdmissionController
	events    *service.EventService
	query     *service.QueryService
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(admission *service.AdmissionController, events *service.EventService, query *service.QueryService) *EventHandler {
	return &EventHandler{admission: admission, events: events, query: query}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code and a stable machine-readable code.
func writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "internal"
	msg := "internal server error"
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			status, code, msg = m.status, m.code, err.Error()
			break
		}
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, model.ErrorResponse{Error: msg, Code: code})
}

var errorMappings = []struct {
	err    error
	status int
	code   string
}{
	{model.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{model.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{model.ErrForbidden, http.StatusForbidden, "forbidden"},
	{model.ErrNotFound, http.StatusNotFound, "not_found"},
	{model.ErrDuplicateRegistration, http.StatusConflict, "duplicate_registration"},
	{model.ErrEventFull, http.StatusConflict, "event_full"},
	{model.ErrEventNotOpen, http.StatusConflict, "event_not_open"},
	{model.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{model.ErrConflict, http.StatusConflict, "conflict"},
	{model.ErrCapacityBelowActive, http.StatusConflict, "capacity_below_active"},
	{model.ErrBusy, http.StatusServiceUnavailable, "busy"},
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return decode(w, r, dst, false)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return decode(w, r, dst, true)
}

func decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: invalid request body: %s", model.ErrInvalidInput, err.Error())
	}
	return nil
}

func statusFilter(r *http.Request) ([]model.RegistrationStatus, error) {
	return model.ParseStatusList(r.URL.Query().Get("status"))
}

func caller(r *http.Request) Identity {
	id, _ := IdentityFrom(r.Context())
	return id
}

// ─── Events ───────────────────────────────────────────────────────────────────

// CreateEvent handles POST /events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	event, err := h.events.CreateEvent(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events?upcoming=true
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	upcoming := false
	if v := r.URL.Query().Get("upcoming"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, fmt.Errorf("%w: upcoming must be a boolean", model.ErrInvalidInput))
			return
		}
		upcoming = b
	}

	events, err := h.query.ListEvents(r.Context(), upcoming)
	if err != nil {
		writeError(w, err)
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.query.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// SetEventStatus handles PATCH /events/{id}/status
func (h *EventHandler) SetEventStatus(w http.ResponseWriter, r *http.Request) {
	var req model.EventStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	event, err := h.events.SetEventStatus(r.Context(), chi.URLParam(r, "id"), model.EventStatus(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// SetCapacity handles PATCH /events/{id}/capacity
func (h *EventHandler) SetCapacity(w http.ResponseWriter, r *http.Request) {
	var req model.CapacityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	event, err := h.events.SetCapacity(r.Context(), chi.URLParam(r, "id"), req.Capacity)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// Counts handles GET /events/{id}/counts
func (h *EventHandler) Counts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.query.CountByStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, counts)
}

// Availability handles GET /events/{id}/availability
func (h *EventHandler) Availability(w http.ResponseWriter, r *http.Request) {
	avail, err := h.query.Availability(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, avail)
}

// ─── Registrations ────────────────────────────────────────────────────────────

// Register handles POST /events/{id}/register
// Signs the authenticated volunteer up for the event.
func (h *EventHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	reg, err := h.admission.Register(r.Context(), chi.URLParam(r, "id"), caller(r).VolunteerID, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, reg)
}

// CancelOwn handles POST /events/{id}/cancel
// Cancels the authenticated volunteer's registration for the event.
func (h *EventHandler) CancelOwn(w http.ResponseWriter, r *http.Request) {
	reg, err := h.admission.CancelByPair(r.Context(), chi.URLParam(r, "id"), caller(r).VolunteerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reg)
}

// ListRegistrations handles GET /events/{id}/registrations?status=a,b
func (h *EventHandler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	statuses, err := statusFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	regs, err := h.query.ListByEvent(r.Context(), chi.URLParam(r, "id"), statuses)
	if err != nil {
		writeError(w, err)
		return
	}

	if regs == nil {
		regs = []model.Registration{}
	}

	writeJSON(w, http.StatusOK, regs)
}

// ListVolunteerRegistrations handles GET /volunteers/{id}/registrations?status=a,b
func (h *EventHandler) ListVolunteerRegistrations(w http.ResponseWriter, r *http.Request) {
	volunteerID := chi.URLParam(r, "id")
	if !caller(r).CanActFor(volunteerID) {
		writeError(w, fmt.Errorf("%w: not your registrations", model.ErrForbidden))
		return
	}
	statuses, err := statusFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	regs, err := h.query.ListByVolunteer(r.Context(), volunteerID, statuses)
	if err != nil {
		writeError(w, err)
		return
	}

	if regs == nil {
		regs = []model.Registration{}
	}

	writeJSON(w, http.StatusOK, regs)
}

// CancelRegistration handles POST /registrations/{id}/cancel
// Owners may cancel their own registrations; admins may cancel any.
func (h *EventHandler) CancelRegistration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := h.query.GetRegistration(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !caller(r).CanActFor(existing.VolunteerID) {
		writeError(w, fmt.Errorf("%w: not your registration", model.ErrForbidden))
		return
	}

	reg, err := h.admission.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reg)
}

// ConfirmRegistration handles POST /registrations/{id}/confirm
func (h *EventHandler) ConfirmRegistration(w http.ResponseWriter, r *http.Request) {
	reg, err := h.admission.Confirm(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reg)
}

// MarkAttendance handles POST /registrations/{id}/attendance
func (h *EventHandler) MarkAttendance(w http.ResponseWriter, r *http.Request) {
	var req model.AttendanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	reg, err := h.admission.MarkAttendance(r.Context(), chi.URLParam(r, "id"), req.Attended)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reg)
}

// DeleteRegistration handles DELETE /registrations/{id}
func (h *EventHandler) DeleteRegistration(w http.ResponseWriter, r *http.Request) {
	if err := h.admission.DeleteRegistration(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
