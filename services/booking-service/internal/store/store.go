// Package store declares the persistence contracts shared by the booking and
// reschedule flows. Implementations live in storage (Postgres), notifystore
// (Redis) and memstore (in-process).
package store

import (
	"context"
	"errors"

	"github.com/appointmenthub/hub/services/booking-service/internal/model"
	"github.com/appointmenthub/hub/services/booking-service/internal/outbox"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrSlotTaken means a non-cancelled appointment already holds the
	// (provider, date, time) slot.
	ErrSlotTaken = errors.New("time slot already booked")
)

// AppointmentStore changes appointments together with the events that
// announce them: a mutation and its events are stored atomically, so a failed
// event write fails the mutation.
type AppointmentStore interface {
	// FetchAppointments returns a snapshot of the provider's appointments,
	// every provider's when providerID is empty.
	FetchAppointments(ctx context.Context, providerID string) ([]model.Appointment, error)
	Get(ctx context.Context, appointmentID string) (model.Appointment, error)
	Create(ctx context.Context, appt model.Appointment, events ...outbox.Event) (model.Appointment, error)
	// Reschedule moves a live appointment to a new slot, failing with
	// ErrSlotTaken when another live appointment holds it. Moving an
	// appointment to the slot it already holds succeeds.
	Reschedule(ctx context.Context, appointmentID, date, time string, events ...outbox.Event) (model.Appointment, error)
	Cancel(ctx context.Context, appointmentID, reason string, events ...outbox.Event) (model.Appointment, error)
}

// NotificationStore keeps one most-recent-first list per (audience, owner).
type NotificationStore interface {
	Read(ctx context.Context, audience model.Audience, ownerID string) ([]model.Notification, error)
	Write(ctx context.Context, audience model.Audience, ownerID string, list []model.Notification) error
}
