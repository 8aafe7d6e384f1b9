package outbox

import (
	"context"
	"encoding/json"
	"fmt"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	AggregateAppointment = "appointment"
	AggregateReschedule  = "reschedule"

	TopicAppointmentBooked    = "booking.appointment.booked.v1"
	TopicAppointmentCancelled = "booking.appointment.cancelled.v1"
	TopicRescheduleRequested  = "booking.reschedule.requested.v1"
	TopicRescheduleConfirmed  = "booking.reschedule.confirmed.v1"
)

// Emitter accepts events for asynchronous delivery.
type Emitter interface {
	Emit(ctx context.Context, evt Event) error
}

// NewEvent encodes payload as JSON into an Event.
func NewEvent(aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}
