package model

import (
	"fmt"
	"time"
)

// Calendar formats. Dates and slot times travel as strings so the
// provider's calendar day never shifts with the server timezone.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type Status string

const (
	StatusUpcoming  Status = "upcoming"
	StatusConfirmed Status = "confirmed"
	StatusPending   Status = "pending"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusUpcoming, StatusConfirmed, StatusPending, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Blocks reports whether an appointment in this status occupies its slot.
func (s Status) Blocks() bool {
	return s != StatusCancelled
}

type Appointment struct {
	ID           string    `json:"id"`
	ProviderID   string    `json:"provider_id"`
	CustomerID   string    `json:"customer_id"`
	Date         string    `json:"date"`
	Time         string    `json:"time"`
	Status       Status    `json:"status"`
	CancelReason string    `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SlotKey identifies one bookable position of a provider's calendar.
type SlotKey struct {
	ProviderID string
	Date       string
	Time       string
}

func (a Appointment) Slot() SlotKey {
	return SlotKey{ProviderID: a.ProviderID, Date: a.Date, Time: a.Time}
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s@%s %s", k.ProviderID, k.Date, k.Time)
}

// ParseDate validates a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// ValidClock validates an HH:MM wall clock time.
func ValidClock(s string) bool {
	_, err := time.Parse(TimeLayout, s)
	return err == nil && len(s) == len(TimeLayout)
}
