// Package reschedule resolves a customer's answer to a provider's reschedule
// request: Pending moves to Confirmed or AlternativeChosen exactly once.
package reschedule

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/appointmenthub/hub/services/booking-service/internal/availability"
	"github.com/appointmenthub/hub/services/booking-service/internal/metrics"
	"github.com/appointmenthub/hub/services/booking-service/internal/model"
	"github.com/appointmenthub/hub/services/booking-service/internal/outbox"
	"github.com/appointmenthub/hub/services/booking-service/internal/store"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/appointmenthub/hub/services/booking-service/internal/reschedule"

type ConfirmRequest struct {
	CustomerID     string
	NotificationID string
	Selection
}

type Outcome struct {
	State                State                      `json:"state"`
	Decision             model.ConfirmationDecision `json:"decision"`
	ProviderNotification model.Notification         `json:"provider_notification"`

	// Appointment is the moved appointment when the request referenced one.
	Appointment *model.Appointment `json:"appointment,omitempty"`
}

type Options struct {
	Now      func() time.Time
	Location *time.Location
	Metrics  *metrics.Metrics
	NewID    func() string
}

type Resolver struct {
	appts   store.AppointmentStore
	notes   store.NotificationStore
	events  outbox.Emitter
	logger  *slog.Logger
	now     func() time.Time
	loc     *time.Location
	metrics *metrics.Metrics
	newID   func() string
	tracer  trace.Tracer
}

func NewResolver(appts store.AppointmentStore, notes store.NotificationStore, events outbox.Emitter, logger *slog.Logger, opts Options) *Resolver {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		appts:   appts,
		notes:   notes,
		events:  events,
		logger:  logger,
		now:     opts.Now,
		loc:     opts.Location,
		metrics: opts.Metrics,
		newID:   opts.NewID,
		tracer:  otel.Tracer(tracerName),
	}
}

// Confirm applies req to the customer's reschedule notification. The stages
// run in order: move the appointment (when one is referenced), mark the
// customer notification handled, then prepend a reschedule_confirmed notice to
// the provider's list. A failure in a later stage does not undo earlier ones,
// and repeating the request after such a failure completes it.
func (r *Resolver) Confirm(ctx context.Context, req ConfirmRequest) (out Outcome, err error) {
	ctx, span := r.tracer.Start(ctx, "reschedule.Confirm", trace.WithAttributes(
		attribute.String("customer.id", req.CustomerID),
		attribute.String("notification.id", req.NotificationID),
		attribute.String("reschedule.action", string(req.Action)),
	))
	defer func() {
		r.metrics.Confirmation(outcomeLabel(out.State, err))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("reschedule.state", string(out.State)))
		}
		span.End()
	}()

	if err := checkSelection(req.Selection); err != nil {
		return Outcome{State: StatePending}, err
	}

	list, err := r.notes.Read(ctx, model.AudienceCustomer, req.CustomerID)
	if err != nil {
		return Outcome{State: StatePending}, &PersistenceError{Stage: StageReadNotifications, Err: err}
	}
	idx := indexOf(list, req.NotificationID)
	if idx < 0 {
		return Outcome{State: StatePending}, ErrNotificationNotFound
	}
	n := list[idx]
	if n.Type != model.TypeRescheduleRequest || n.Reschedule == nil {
		return Outcome{State: StatePending}, invalid("notification %s is not a reschedule request", n.ID)
	}
	if !n.Pending() {
		return Outcome{State: StatePending}, ErrAlreadyResolved
	}
	providerID := n.Reschedule.ProviderID
	span.SetAttributes(attribute.String("provider.id", providerID))

	snapshot, err := r.appts.FetchAppointments(ctx, providerID)
	if err != nil {
		return Outcome{State: StatePending}, &PersistenceError{Stage: StageFetchAppointments, Err: err}
	}
	if n.Reschedule.AppointmentID != "" {
		date, tm := targetSlot(n.Reschedule, req.Selection)
		snapshot = undoInterruptedMove(snapshot, n.Reschedule, date, tm)
	}
	days := availability.Generate(r.now().In(r.loc), providerID, snapshot)

	state, decision, err := Decide(n, days, req.Selection)
	if err != nil {
		return Outcome{State: StatePending}, err
	}

	out = Outcome{State: state, Decision: decision}
	confirmation := &model.RescheduleConfirmation{
		RequestID:     n.ID,
		ProviderID:    providerID,
		CustomerID:    req.CustomerID,
		AppointmentID: n.Reschedule.AppointmentID,
		Decision:      decision,
	}
	evt, err := outbox.NewEvent(outbox.AggregateReschedule, n.ID, outbox.TopicRescheduleConfirmed, confirmation)
	if err != nil {
		return Outcome{State: StatePending}, err
	}

	// The confirmed event commits with the move. Without an appointment to
	// move it is emitted best-effort once the provider has been told.
	moved := false
	if apptID := n.Reschedule.AppointmentID; apptID != "" {
		appt, err := r.appts.Reschedule(ctx, apptID, decision.NewDate, decision.NewTime, evt)
		switch {
		case errors.Is(err, store.ErrSlotTaken), errors.Is(err, store.ErrNotFound):
			return Outcome{State: StatePending}, err
		case err != nil:
			return Outcome{State: StatePending}, &PersistenceError{Stage: StageMoveAppointment, Err: err}
		}
		r.metrics.Event(outbox.TopicRescheduleConfirmed, nil)
		out.Appointment = &appt
		moved = true
	}

	list[idx] = n.MarkHandled()
	if err := r.notes.Write(ctx, model.AudienceCustomer, req.CustomerID, list); err != nil {
		return out, &PersistenceError{Stage: StageMarkHandled, Err: err}
	}

	notice := model.Notification{
		ID:           r.newID(),
		Type:         model.TypeRescheduleConfirmed,
		CreatedAt:    r.now().UTC(),
		Confirmation: confirmation,
	}
	out.ProviderNotification = notice

	providerList, err := r.notes.Read(ctx, model.AudienceProvider, providerID)
	if err != nil {
		return out, &PersistenceError{Stage: StageNotifyProvider, Err: err}
	}
	if err := r.notes.Write(ctx, model.AudienceProvider, providerID, model.Prepend(providerList, notice)); err != nil {
		return out, &PersistenceError{Stage: StageNotifyProvider, Err: err}
	}

	if !moved {
		r.emit(ctx, evt)
	}
	r.logger.InfoContext(ctx, "reschedule resolved",
		"notification_id", n.ID,
		"provider_id", providerID,
		"customer_id", req.CustomerID,
		"state", string(state),
		"new_date", decision.NewDate,
		"new_time", decision.NewTime,
		"remaining_slots", decision.RemainingSlots,
	)
	return out, nil
}

// emit is best-effort; the confirmation has already been persisted.
func (r *Resolver) emit(ctx context.Context, evt outbox.Event) {
	if r.events == nil {
		return
	}
	err := r.events.Emit(ctx, evt)
	r.metrics.Event(evt.EventType, err)
	if err != nil {
		r.logger.WarnContext(ctx, "reschedule event not recorded", "notification_id", evt.AggregateID, "err", err)
	}
}

// targetSlot is the slot sel asks for.
func targetSlot(req *model.RescheduleRequest, sel Selection) (date, tm string) {
	if sel.Action == model.ActionConfirmed {
		return req.NewDate, req.NewTime
	}
	return strings.TrimSpace(sel.Date), strings.TrimSpace(sel.Time)
}

// undoInterruptedMove puts the request's appointment back in its original
// slot when it already sits in the target one. That happens when an earlier
// attempt moved it and then failed to mark the notification handled; the
// retry must see the calendar the first attempt decided against.
func undoInterruptedMove(snapshot []model.Appointment, req *model.RescheduleRequest, date, tm string) []model.Appointment {
	out := make([]model.Appointment, len(snapshot))
	copy(out, snapshot)
	for i := range out {
		a := &out[i]
		if a.ID == req.AppointmentID && a.Status.Blocks() && a.Date == date && a.Time == tm {
			a.Date, a.Time = req.OldDate, req.OldTime
		}
	}
	return out
}

func indexOf(list []model.Notification, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func outcomeLabel(state State, err error) string {
	var vErr *ValidationError
	var pErr *PersistenceError
	switch {
	case err == nil:
		return string(state)
	case errors.As(err, &vErr):
		return "validation_error"
	case errors.As(err, &pErr):
		return "persistence_error"
	case errors.Is(err, ErrNotificationNotFound), errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyResolved):
		return "already_resolved"
	case errors.Is(err, store.ErrSlotTaken):
		return "slot_taken"
	default:
		return "error"
	}
}
