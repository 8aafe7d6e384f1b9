package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/appointmenthub/hub/services/booking-service/internal/availability"
	"github.com/appointmenthub/hub/services/booking-service/internal/metrics"
	"github.com/appointmenthub/hub/services/booking-service/internal/model"
	"github.com/appointmenthub/hub/services/booking-service/internal/outbox"
	"github.com/appointmenthub/hub/services/booking-service/internal/reschedule"
	"github.com/appointmenthub/hub/services/booking-service/internal/store"
	"github.com/google/uuid"
)

const StageNotifyCustomer = "notify_customer"

type Options struct {
	Now      func() time.Time
	Location *time.Location
	Metrics  *metrics.Metrics
	NewID    func() string
}

// Service is the booking API the HTTP layer talks to. Slot occupancy is
// enforced by the AppointmentStore, which also stores the events of
// appointment changes. events receives the rest, such as proposals.
// Notification lists are read-modify-write.
type Service struct {
	appts    store.AppointmentStore
	notes    store.NotificationStore
	events   outbox.Emitter
	resolver *reschedule.Resolver
	logger   *slog.Logger
	now      func() time.Time
	loc      *time.Location
	metrics  *metrics.Metrics
	newID    func() string
}

func NewService(appts store.AppointmentStore, notes store.NotificationStore, events outbox.Emitter, logger *slog.Logger, opts Options) *Service {
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
	return &Service{
		appts:  appts,
		notes:  notes,
		events: events,
		resolver: reschedule.NewResolver(appts, notes, events, logger, reschedule.Options{
			Now:      opts.Now,
			Location: opts.Location,
			Metrics:  opts.Metrics,
			NewID:    opts.NewID,
		}),
		logger:  logger,
		now:     opts.Now,
		loc:     opts.Location,
		metrics: opts.Metrics,
		newID:   opts.NewID,
	}
}

type Calendar struct {
	ProviderID     string                  `json:"provider_id"`
	ReferenceDate  string                  `json:"reference_date"`
	Days           []availability.DaySlots `json:"days"`
	TotalAvailable int                     `json:"total_available"`
}

// Slots builds the provider's calendar for the horizon after referenceDate,
// today when it is empty.
func (s *Service) Slots(ctx context.Context, providerID, referenceDate string) (Calendar, error) {
	ref, err := s.reference(referenceDate)
	if err != nil {
		return Calendar{}, err
	}
	days, err := s.calendar(ctx, providerID, ref)
	if err != nil {
		return Calendar{}, err
	}
	return Calendar{
		ProviderID:     providerID,
		ReferenceDate:  ref.Format(model.DateLayout),
		Days:           days,
		TotalAvailable: availability.TotalAvailable(days),
	}, nil
}

// Times lists the free times of one horizon date.
func (s *Service) Times(ctx context.Context, providerID, date string) ([]string, error) {
	if _, err := model.ParseDate(date); err != nil {
		return nil, invalid("date must be YYYY-MM-DD")
	}
	days, err := s.calendar(ctx, providerID, s.today())
	if err != nil {
		return nil, err
	}
	return availability.TimesForDate(days, date), nil
}

type BookRequest struct {
	ProviderID string
	CustomerID string
	Date       string
	Time       string
}

func (s *Service) Book(ctx context.Context, req BookRequest) (model.Appointment, error) {
	if err := s.checkSlot(req.Date, req.Time); err != nil {
		s.metrics.Booking("book", "invalid")
		return model.Appointment{}, err
	}
	appt := model.Appointment{
		ID:         s.newID(),
		ProviderID: req.ProviderID,
		CustomerID: req.CustomerID,
		Date:       req.Date,
		Time:       req.Time,
		Status:     model.StatusUpcoming,
		CreatedAt:  s.now().UTC(),
	}
	evt, err := outbox.NewEvent(outbox.AggregateAppointment, appt.ID, outbox.TopicAppointmentBooked, appt)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("encode booked event: %w", err)
	}
	appt, err = s.appts.Create(ctx, appt, evt)
	if errors.Is(err, store.ErrSlotTaken) {
		s.metrics.Booking("book", "slot_taken")
		return model.Appointment{}, err
	}
	if err != nil {
		s.metrics.Booking("book", "error")
		return model.Appointment{}, fmt.Errorf("create appointment: %w", err)
	}
	s.metrics.Booking("book", "ok")
	s.metrics.Event(outbox.TopicAppointmentBooked, nil)

	s.notifyProvider(ctx, appt, model.TypeAppointmentBooked, "")
	s.logger.InfoContext(ctx, "appointment booked", "appointment_id", appt.ID, "provider_id", appt.ProviderID, "slot", appt.Slot().String())
	return appt, nil
}

// List filters by provider and, when set, by customer.
func (s *Service) List(ctx context.Context, providerID, customerID string) ([]model.Appointment, error) {
	appts, err := s.appts.FetchAppointments(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("fetch appointments: %w", err)
	}
	if customerID == "" {
		return appts, nil
	}
	out := make([]model.Appointment, 0, len(appts))
	for _, a := range appts {
		if a.CustomerID == customerID {
			out = append(out, a)
		}
	}
	return out, nil
}

// Cancel frees the appointment's slot. Cancelling twice returns the
// cancelled appointment without notifying again.
func (s *Service) Cancel(ctx context.Context, appointmentID, reason string) (model.Appointment, error) {
	current, err := s.appts.Get(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if current.Status == model.StatusCancelled {
		return current, nil
	}
	cancelled := current
	cancelled.Status = model.StatusCancelled
	cancelled.CancelReason = strings.TrimSpace(reason)
	evt, err := outbox.NewEvent(outbox.AggregateAppointment, cancelled.ID, outbox.TopicAppointmentCancelled, cancelled)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("encode cancelled event: %w", err)
	}
	appt, err := s.appts.Cancel(ctx, appointmentID, cancelled.CancelReason, evt)
	if err != nil {
		s.metrics.Booking("cancel", "error")
		return model.Appointment{}, fmt.Errorf("cancel appointment: %w", err)
	}
	s.metrics.Booking("cancel", "ok")
	s.metrics.Event(outbox.TopicAppointmentCancelled, nil)

	s.notifyProvider(ctx, appt, model.TypeAppointmentCancelled, appt.CancelReason)
	s.logger.InfoContext(ctx, "appointment cancelled", "appointment_id", appt.ID, "provider_id", appt.ProviderID)
	return appt, nil
}

type ProposeRequest struct {
	ProviderID    string
	AppointmentID string
	NewDate       string
	NewTime       string
	ProviderName  string
	ProviderEmoji string
}

// ProposeReschedule puts an action-required reschedule request at the head
// of the customer's notifications. The proposed slot must be free now; it is
// claimed only when the customer confirms.
func (s *Service) ProposeReschedule(ctx context.Context, req ProposeRequest) (model.Notification, error) {
	n, err := s.propose(ctx, req)
	outcome := "ok"
	var vErr *reschedule.ValidationError
	switch {
	case errors.As(err, &vErr):
		outcome = "invalid"
	case errors.Is(err, store.ErrNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	}
	s.metrics.Proposal(outcome)
	return n, err
}

func (s *Service) propose(ctx context.Context, req ProposeRequest) (model.Notification, error) {
	appt, err := s.appts.Get(ctx, req.AppointmentID)
	if err != nil {
		return model.Notification{}, err
	}
	if appt.ProviderID != req.ProviderID {
		return model.Notification{}, store.ErrNotFound
	}
	if !appt.Status.Blocks() {
		return model.Notification{}, invalid("appointment %s is cancelled", appt.ID)
	}
	if err := s.checkSlot(req.NewDate, req.NewTime); err != nil {
		return model.Notification{}, err
	}
	days, err := s.calendar(ctx, appt.ProviderID, s.today())
	if err != nil {
		return model.Notification{}, err
	}
	if !availability.IsAvailable(days, req.NewDate, req.NewTime) {
		return model.Notification{}, invalid("%s %s is not available", req.NewDate, req.NewTime)
	}

	n := model.Notification{
		ID:             s.newID(),
		Type:           model.TypeRescheduleRequest,
		ActionRequired: true,
		CreatedAt:      s.now().UTC(),
		Reschedule: &model.RescheduleRequest{
			AppointmentID: appt.ID,
			ProviderID:    appt.ProviderID,
			CustomerID:    appt.CustomerID,
			OldDate:       appt.Date,
			OldTime:       appt.Time,
			NewDate:       req.NewDate,
			NewTime:       req.NewTime,
			ProviderName:  strings.TrimSpace(req.ProviderName),
			ProviderEmoji: req.ProviderEmoji,
		},
	}
	list, err := s.notes.Read(ctx, model.AudienceCustomer, appt.CustomerID)
	if err != nil {
		return model.Notification{}, &reschedule.PersistenceError{Stage: StageNotifyCustomer, Err: err}
	}
	if err := s.notes.Write(ctx, model.AudienceCustomer, appt.CustomerID, model.Prepend(list, n)); err != nil {
		return model.Notification{}, &reschedule.PersistenceError{Stage: StageNotifyCustomer, Err: err}
	}
	s.emit(ctx, outbox.AggregateReschedule, n.ID, outbox.TopicRescheduleRequested, n.Reschedule)
	return n, nil
}

func (s *Service) ConfirmReschedule(ctx context.Context, req reschedule.ConfirmRequest) (reschedule.Outcome, error) {
	return s.resolver.Confirm(ctx, req)
}

func (s *Service) Notifications(ctx context.Context, audience model.Audience, ownerID string) ([]model.Notification, error) {
	if !audience.Valid() {
		return nil, invalid("audience must be customer or provider")
	}
	list, err := s.notes.Read(ctx, audience, ownerID)
	if err != nil {
		return nil, fmt.Errorf("read notifications: %w", err)
	}
	return list, nil
}

func (s *Service) today() time.Time {
	return s.now().In(s.loc)
}

func (s *Service) reference(date string) (time.Time, error) {
	if date == "" {
		return s.today(), nil
	}
	ref, err := time.ParseInLocation(model.DateLayout, date, s.loc)
	if err != nil {
		return time.Time{}, invalid("reference_date must be YYYY-MM-DD")
	}
	return ref, nil
}

func (s *Service) calendar(ctx context.Context, providerID string, ref time.Time) ([]availability.DaySlots, error) {
	snapshot, err := s.appts.FetchAppointments(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("fetch appointments: %w", err)
	}
	start := time.Now()
	days := availability.Generate(ref, providerID, snapshot)
	s.metrics.ObserveSlotGeneration(time.Since(start).Seconds())
	return days, nil
}

func (s *Service) checkSlot(date, tm string) error {
	if _, err := model.ParseDate(date); err != nil {
		return invalid("date must be YYYY-MM-DD")
	}
	if !model.ValidClock(tm) || !availability.IsSlotTime(tm) {
		return invalid("time must be a half-hour slot between 09:00 and 16:30")
	}
	if !availability.InHorizon(s.today(), date) {
		return invalid("date must be within the next %d days", availability.HorizonDays)
	}
	return nil
}

// notifyProvider is best-effort; the appointment change is already stored.
func (s *Service) notifyProvider(ctx context.Context, appt model.Appointment, typ model.NotificationType, reason string) {
	n := model.Notification{
		ID:        s.newID(),
		Type:      typ,
		CreatedAt: s.now().UTC(),
		Appointment: &model.AppointmentNotice{
			AppointmentID: appt.ID,
			ProviderID:    appt.ProviderID,
			CustomerID:    appt.CustomerID,
			Date:          appt.Date,
			Time:          appt.Time,
			Reason:        reason,
		},
	}
	list, err := s.notes.Read(ctx, model.AudienceProvider, appt.ProviderID)
	if err == nil {
		err = s.notes.Write(ctx, model.AudienceProvider, appt.ProviderID, model.Prepend(list, n))
	}
	if err != nil {
		s.logger.WarnContext(ctx, "provider notification not stored", "appointment_id", appt.ID, "type", string(typ), "err", err)
	}
}

func (s *Service) emit(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) {
	if s.events == nil {
		return
	}
	evt, err := outbox.NewEvent(aggregateType, aggregateID, eventType, payload)
	if err == nil {
		err = s.events.Emit(ctx, evt)
	}
	s.metrics.Event(eventType, err)
	if err != nil {
		s.logger.WarnContext(ctx, "domain event not recorded", "event_type", eventType, "aggregate_id", aggregateID, "err", err)
	}
}

func invalid(format string, args ...any) error {
	return &reschedule.ValidationError{Msg: fmt.Sprintf(format, args...)}
}
