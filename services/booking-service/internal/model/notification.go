package model

import (
	"errors"
	"fmt"
	"time"
)

type Audience string

const (
	AudienceCustomer Audience = "customer"
	AudienceProvider Audience = "provider"
)

func (a Audience) Valid() bool {
	return a == AudienceCustomer || a == AudienceProvider
}

type NotificationType string

const (
	TypeRescheduleRequest    NotificationType = "reschedule_request"
	TypeRescheduleConfirmed  NotificationType = "reschedule_confirmed"
	TypeAppointmentBooked    NotificationType = "appointment_booked"
	TypeAppointmentCancelled NotificationType = "appointment_cancelled"
)

// Notification is a tagged union: the header is shared and exactly one of the
// variant pointers is set, the one matching Type.
type Notification struct {
	ID             string           `json:"id"`
	Type           NotificationType `json:"type"`
	Read           bool             `json:"read"`
	ActionRequired bool             `json:"action_required"`
	CreatedAt      time.Time        `json:"created_at"`

	Reschedule   *RescheduleRequest      `json:"reschedule,omitempty"`
	Confirmation *RescheduleConfirmation `json:"confirmation,omitempty"`
	Appointment  *AppointmentNotice      `json:"appointment,omitempty"`
}

// RescheduleRequest is sent to a customer when a provider proposes a new time.
type RescheduleRequest struct {
	AppointmentID string `json:"appointment_id,omitempty"`
	ProviderID    string `json:"provider_id"`
	CustomerID    string `json:"customer_id"`
	OldDate       string `json:"old_date"`
	OldTime       string `json:"old_time"`
	NewDate       string `json:"new_date"`
	NewTime       string `json:"new_time"`
	ProviderName  string `json:"provider_name"`
	ProviderEmoji string `json:"provider_emoji,omitempty"`
}

// RescheduleConfirmation tells the provider how the customer answered.
type RescheduleConfirmation struct {
	RequestID     string               `json:"request_id"`
	ProviderID    string               `json:"provider_id"`
	CustomerID    string               `json:"customer_id"`
	AppointmentID string               `json:"appointment_id,omitempty"`
	Decision      ConfirmationDecision `json:"decision"`
}

type AppointmentNotice struct {
	AppointmentID string `json:"appointment_id"`
	ProviderID    string `json:"provider_id"`
	CustomerID    string `json:"customer_id"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Reason        string `json:"reason,omitempty"`
}

type Action string

const (
	ActionConfirmed        Action = "confirmed"
	ActionChoseAlternative Action = "chose_alternative"
)

func (a Action) Valid() bool {
	return a == ActionConfirmed || a == ActionChoseAlternative
}

type ConfirmationDecision struct {
	Action         Action `json:"action"`
	NewDate        string `json:"new_date"`
	NewTime        string `json:"new_time"`
	RemainingSlots int    `json:"remaining_slots"`
	Reason         string `json:"reason,omitempty"`
}

var ErrMalformedNotification = errors.New("malformed notification")

// Validate checks that the populated variant matches Type.
func (n Notification) Validate() error {
	set := 0
	for _, present := range []bool{n.Reschedule != nil, n.Confirmation != nil, n.Appointment != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: %d variants set on %q", ErrMalformedNotification, set, n.ID)
	}

	var ok bool
	switch n.Type {
	case TypeRescheduleRequest:
		ok = n.Reschedule != nil
	case TypeRescheduleConfirmed:
		ok = n.Confirmation != nil
	case TypeAppointmentBooked, TypeAppointmentCancelled:
		ok = n.Appointment != nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedNotification, n.Type)
	}
	if !ok {
		return fmt.Errorf("%w: type %q does not match payload", ErrMalformedNotification, n.Type)
	}
	return nil
}

// Pending reports whether the notification still waits for the recipient.
func (n Notification) Pending() bool {
	return n.ActionRequired && !n.Read
}

// MarkHandled returns a copy flagged as read with no action left.
func (n Notification) MarkHandled() Notification {
	n.Read = true
	n.ActionRequired = false
	return n
}

// Prepend puts n at the head of a most-recent-first list.
func Prepend(list []Notification, n Notification) []Notification {
	out := make([]Notification, 0, len(list)+1)
	out = append(out, n)
	return append(out, list...)
}
