package reschedule

import (
	"errors"
	"fmt"
)

var (
	ErrNotificationNotFound = errors.New("reschedule notification not found")
	// ErrAlreadyResolved is returned for a notification that was already
	// confirmed or answered with an alternative.
	ErrAlreadyResolved = errors.New("reschedule already resolved")
)

// SelectionRequired is shown when an alternative is requested without both a
// date and a time.
const SelectionRequired = "Please select a date and time"

// ValidationError is a recoverable input problem; the notification stays pending.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Persistence stages, in the order Confirm runs them.
const (
	StageReadNotifications = "read_notifications"
	StageFetchAppointments = "fetch_appointments"
	StageMoveAppointment   = "move_appointment"
	StageMarkHandled       = "mark_handled"
	StageNotifyProvider    = "notify_provider"
)

// PersistenceError reports a failed store call. Stages completed before it
// are not rolled back.
type PersistenceError struct {
	Stage string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("reschedule %s: %v", e.Stage, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
