// Package memstore is an in-process implementation of the store contracts,
// used by tests and by STORE_BACKEND=memory.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/appointmenthub/hub/services/booking-service/internal/model"
	"github.com/appointmenthub/hub/services/booking-service/internal/outbox"
	"github.com/appointmenthub/hub/services/booking-service/internal/store"
)

type Appointments struct {
	mu    sync.Mutex
	byID  map[string]model.Appointment
	order []string
	now   func() time.Time

	// Outbox receives the events passed with a mutation before the mutation
	// is applied. An Emit error leaves the appointment unchanged.
	Outbox outbox.Emitter
}

func NewAppointments(seed ...model.Appointment) *Appointments {
	s := &Appointments{byID: map[string]model.Appointment{}, now: time.Now}
	for _, a := range seed {
		s.byID[a.ID] = a
		s.order = append(s.order, a.ID)
	}
	return s
}

func (s *Appointments) FetchAppointments(_ context.Context, providerID string) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []model.Appointment{}
	for _, id := range s.order {
		a := s.byID[id]
		if providerID == "" || a.ProviderID == providerID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Time < out[j].Time
	})
	return out, nil
}

func (s *Appointments) Get(_ context.Context, appointmentID string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[appointmentID]
	if !ok {
		return model.Appointment{}, store.ErrNotFound
	}
	return a, nil
}

func (s *Appointments) Create(ctx context.Context, appt model.Appointment, events ...outbox.Event) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[appt.ID]; exists {
		return model.Appointment{}, fmt.Errorf("appointment %s already exists", appt.ID)
	}
	if appt.Status.Blocks() && s.occupiedLocked(appt.Slot(), "") {
		return model.Appointment{}, store.ErrSlotTaken
	}
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = s.now().UTC()
	}
	if err := s.recordLocked(ctx, events); err != nil {
		return model.Appointment{}, err
	}
	s.byID[appt.ID] = appt
	s.order = append(s.order, appt.ID)
	return appt, nil
}

func (s *Appointments) Reschedule(ctx context.Context, appointmentID, date, tm string, events ...outbox.Event) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[appointmentID]
	if !ok || !a.Status.Blocks() {
		return model.Appointment{}, store.ErrNotFound
	}
	target := model.SlotKey{ProviderID: a.ProviderID, Date: date, Time: tm}
	if s.occupiedLocked(target, appointmentID) {
		return model.Appointment{}, store.ErrSlotTaken
	}
	if err := s.recordLocked(ctx, events); err != nil {
		return model.Appointment{}, err
	}
	a.Date = date
	a.Time = tm
	s.byID[appointmentID] = a
	return a, nil
}

func (s *Appointments) Cancel(ctx context.Context, appointmentID, reason string, events ...outbox.Event) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[appointmentID]
	if !ok {
		return model.Appointment{}, store.ErrNotFound
	}
	if err := s.recordLocked(ctx, events); err != nil {
		return model.Appointment{}, err
	}
	a.Status = model.StatusCancelled
	a.CancelReason = reason
	s.byID[appointmentID] = a
	return a, nil
}

func (s *Appointments) recordLocked(ctx context.Context, events []outbox.Event) error {
	if s.Outbox == nil {
		return nil
	}
	for _, evt := range events {
		if err := s.Outbox.Emit(ctx, evt); err != nil {
			return fmt.Errorf("record %s: %w", evt.EventType, err)
		}
	}
	return nil
}

func (s *Appointments) occupiedLocked(key model.SlotKey, exceptID string) bool {
	for id, a := range s.byID {
		if id != exceptID && a.Status.Blocks() && a.Slot() == key {
			return true
		}
	}
	return false
}

type inboxKey struct {
	audience model.Audience
	owner    string
}

type Notifications struct {
	mu    sync.Mutex
	lists map[inboxKey][]model.Notification

	// FailWrites makes every Write fail, for exercising partial failure paths.
	FailWrites func(audience model.Audience, ownerID string) error
}

func NewNotifications() *Notifications {
	return &Notifications{lists: map[inboxKey][]model.Notification{}}
}

func (s *Notifications) Read(_ context.Context, audience model.Audience, ownerID string) ([]model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[inboxKey{audience, ownerID}]
	out := make([]model.Notification, len(list))
	copy(out, list)
	return out, nil
}

func (s *Notifications) Write(_ context.Context, audience model.Audience, ownerID string, list []model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites != nil {
		if err := s.FailWrites(audience, ownerID); err != nil {
			return err
		}
	}
	cp := make([]model.Notification, len(list))
	copy(cp, list)
	s.lists[inboxKey{audience, ownerID}] = cp
	return nil
}

var (
	_ store.AppointmentStore  = (*Appointments)(nil)
	_ store.NotificationStore = (*Notifications)(nil)
)
