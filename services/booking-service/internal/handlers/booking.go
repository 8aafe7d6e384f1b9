package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/appointmenthub/hub/libs/httpx"
	"github.com/appointmenthub/hub/services/booking-service/internal/booking"
	"github.com/appointmenthub/hub/services/booking-service/internal/model"
	"github.com/appointmenthub/hub/services/booking-service/internal/reschedule"
	"github.com/appointmenthub/hub/services/booking-service/internal/store"
	"github.com/go-playground/validator/v10"
)

type BookingHandler struct {
	svc      *booking.Service
	logger   *slog.Logger
	validate *validator.Validate
}

func NewBookingHandler(svc *booking.Service, logger *slog.Logger) *BookingHandler {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &BookingHandler{svc: svc, logger: logger, validate: validate}
}

func (h *BookingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/slots", h.Slots)
	mux.HandleFunc("/api/v1/slots/times", h.Times)
	mux.HandleFunc("/api/v1/appointments", h.Appointments)
	mux.HandleFunc("/api/v1/appointments/cancel", h.Cancel)
	mux.HandleFunc("/api/v1/reschedules", h.Propose)
	mux.HandleFunc("/api/v1/reschedules/confirm", h.Confirm)
	mux.HandleFunc("/api/v1/notifications", h.Notifications)
}

type slotsQuery struct {
	ProviderID    string `json:"provider_id" validate:"required,max=128"`
	ReferenceDate string `json:"reference_date" validate:"omitempty,datetime=2006-01-02"`
}

type timesQuery struct {
	ProviderID string `json:"provider_id" validate:"required,max=128"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
}

type timesResponse struct {
	ProviderID string   `json:"provider_id"`
	Date       string   `json:"date"`
	Times      []string `json:"times"`
}

type listQuery struct {
	ProviderID string `json:"provider_id" validate:"required_without=CustomerID,max=128"`
	CustomerID string `json:"customer_id" validate:"max=128"`
}

type listResponse struct {
	Appointments []model.Appointment `json:"appointments"`
}

type bookRequest struct {
	ProviderID string `json:"provider_id" validate:"required,max=128"`
	CustomerID string `json:"customer_id" validate:"required,max=128"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	Time       string `json:"time" validate:"required,datetime=15:04"`
}

type cancelRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required,max=128"`
	Reason        string `json:"reason" validate:"max=500"`
}

type proposeRequest struct {
	ProviderID    string `json:"provider_id" validate:"required,max=128"`
	AppointmentID string `json:"appointment_id" validate:"required,max=128"`
	NewDate       string `json:"new_date" validate:"required,datetime=2006-01-02"`
	NewTime       string `json:"new_time" validate:"required,datetime=15:04"`
	ProviderName  string `json:"provider_name" validate:"required,max=120"`
	ProviderEmoji string `json:"provider_emoji" validate:"max=16"`
}

// Date and Time stay optional here; a missing selection for an alternative is
// reported by the resolver with its own message.
type confirmRequest struct {
	CustomerID     string `json:"customer_id" validate:"required,max=128"`
	NotificationID string `json:"notification_id" validate:"required,max=128"`
	Action         string `json:"action" validate:"required,oneof=confirmed chose_alternative"`
	Date           string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Time           string `json:"time" validate:"omitempty,datetime=15:04"`
	Reason         string `json:"reason" validate:"max=500"`
}

type notificationsQuery struct {
	Audience string `json:"audience" validate:"required,oneof=customer provider"`
	OwnerID  string `json:"owner_id" validate:"required,max=128"`
}

type notificationsResponse struct {
	Notifications []model.Notification `json:"notifications"`
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := slotsQuery{
		ProviderID:    strings.TrimSpace(r.URL.Query().Get("provider_id")),
		ReferenceDate: strings.TrimSpace(r.URL.Query().Get("reference_date")),
	}
	if !h.valid(w, q) {
		return
	}
	cal, err := h.svc.Slots(r.Context(), q.ProviderID, q.ReferenceDate)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cal)
}

func (h *BookingHandler) Times(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := timesQuery{
		ProviderID: strings.TrimSpace(r.URL.Query().Get("provider_id")),
		Date:       strings.TrimSpace(r.URL.Query().Get("date")),
	}
	if !h.valid(w, q) {
		return
	}
	times, err := h.svc.Times(r.Context(), q.ProviderID, q.Date)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, timesResponse{ProviderID: q.ProviderID, Date: q.Date, Times: times})
}

// Appointments serves GET (list) and POST (book) on the collection.
func (h *BookingHandler) Appointments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.book(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *BookingHandler) list(w http.ResponseWriter, r *http.Request) {
	q := listQuery{
		ProviderID: strings.TrimSpace(r.URL.Query().Get("provider_id")),
		CustomerID: strings.TrimSpace(r.URL.Query().Get("customer_id")),
	}
	if !h.valid(w, q) {
		return
	}
	appts, err := h.svc.List(r.Context(), q.ProviderID, q.CustomerID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, listResponse{Appointments: appts})
}

func (h *BookingHandler) book(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if !h.decode(w, r, &req) {
		return
	}
	appt, err := h.svc.Book(r.Context(), booking.BookRequest{
		ProviderID: req.ProviderID,
		CustomerID: req.CustomerID,
		Date:       req.Date,
		Time:       req.Time,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, appt)
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req cancelRequest
	if !h.decode(w, r, &req) {
		return
	}
	appt, err := h.svc.Cancel(r.Context(), req.AppointmentID, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

func (h *BookingHandler) Propose(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req proposeRequest
	if !h.decode(w, r, &req) {
		return
	}
	n, err := h.svc.ProposeReschedule(r.Context(), booking.ProposeRequest{
		ProviderID:    req.ProviderID,
		AppointmentID: req.AppointmentID,
		NewDate:       req.NewDate,
		NewTime:       req.NewTime,
		ProviderName:  req.ProviderName,
		ProviderEmoji: req.ProviderEmoji,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, n)
}

func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req confirmRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.svc.ConfirmReschedule(r.Context(), reschedule.ConfirmRequest{
		CustomerID:     req.CustomerID,
		NotificationID: req.NotificationID,
		Selection: reschedule.Selection{
			Action: model.Action(req.Action),
			Date:   req.Date,
			Time:   req.Time,
			Reason: req.Reason,
		},
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *BookingHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := notificationsQuery{
		Audience: strings.TrimSpace(r.URL.Query().Get("audience")),
		OwnerID:  strings.TrimSpace(r.URL.Query().Get("owner_id")),
	}
	if !h.valid(w, q) {
		return
	}
	list, err := h.svc.Notifications(r.Context(), model.Audience(q.Audience), q.OwnerID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, notificationsResponse{Notifications: list})
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func (h *BookingHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return h.valid(w, dst)
}

func (h *BookingHandler) valid(w http.ResponseWriter, v any) bool {
	if err := h.validate.Struct(v); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "invalid request"
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "required_without":
		return fmt.Sprintf("%s or customer_id is required", fe.Field())
	case "datetime":
		return fmt.Sprintf("%s must match %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "max":
		return fmt.Sprintf("%s is too long", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func (h *BookingHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *reschedule.ValidationError
	var pErr *reschedule.PersistenceError
	switch {
	case errors.As(err, &vErr):
		httpx.WriteError(w, http.StatusBadRequest, vErr.Msg)
	case errors.Is(err, reschedule.ErrNotificationNotFound):
		httpx.WriteError(w, http.StatusNotFound, "notification not found")
	case errors.Is(err, store.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "appointment not found")
	case errors.Is(err, reschedule.ErrAlreadyResolved):
		httpx.WriteError(w, http.StatusConflict, "reschedule already resolved")
	case errors.Is(err, store.ErrSlotTaken):
		httpx.WriteError(w, http.StatusConflict, "time slot already booked")
	case errors.As(err, &pErr):
		h.logger.ErrorContext(r.Context(), "persistence failure", "stage", pErr.Stage, "path", r.URL.Path, "err", pErr.Err)
		httpx.WriteError(w, http.StatusServiceUnavailable, "temporarily unable to save changes, please retry")
	default:
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
