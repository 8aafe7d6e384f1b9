package reschedule

import (
	"strings"

	"github.com/appointmenthub/hub/services/booking-service/internal/availability"
	"github.com/appointmenthub/hub/services/booking-service/internal/model"
)

type State string

const (
	StatePending           State = "pending"
	StateConfirmed         State = "confirmed"
	StateAlternativeChosen State = "alternative_chosen"
)

// DefaultAlternativeReason is recorded when the customer picks another slot
// without saying why.
const DefaultAlternativeReason = "Customer selected a different time"

// Selection is the customer's answer to a reschedule request.
type Selection struct {
	Action model.Action
	Date   string
	Time   string
	Reason string
}

// checkSelection holds the rules that do not depend on the notification or
// the calendar.
func checkSelection(sel Selection) error {
	if !sel.Action.Valid() {
		return invalid("unknown action %q", sel.Action)
	}
	if sel.Action == model.ActionChoseAlternative &&
		(strings.TrimSpace(sel.Date) == "" || strings.TrimSpace(sel.Time) == "") {
		return &ValidationError{Msg: SelectionRequired}
	}
	return nil
}

// Decide moves a pending reschedule request to its terminal state. days is
// the provider's calendar before the decision; RemainingSlots reports what is
// left once the decided slot is taken. On error the state is StatePending.
func Decide(n model.Notification, days []availability.DaySlots, sel Selection) (State, model.ConfirmationDecision, error) {
	if err := checkSelection(sel); err != nil {
		return StatePending, model.ConfirmationDecision{}, err
	}
	if n.Type != model.TypeRescheduleRequest || n.Reschedule == nil {
		return StatePending, model.ConfirmationDecision{}, invalid("notification %s is not a reschedule request", n.ID)
	}
	if !n.Pending() {
		return StatePending, model.ConfirmationDecision{}, ErrAlreadyResolved
	}

	remaining := availability.TotalAvailable(days) - 1
	req := n.Reschedule

	switch sel.Action {
	case model.ActionConfirmed:
		if req.NewDate == "" || req.NewTime == "" {
			return StatePending, model.ConfirmationDecision{}, invalid("notification %s has no proposed time", n.ID)
		}
		return StateConfirmed, model.ConfirmationDecision{
			Action:         model.ActionConfirmed,
			NewDate:        req.NewDate,
			NewTime:        req.NewTime,
			RemainingSlots: remaining,
			Reason:         strings.TrimSpace(sel.Reason),
		}, nil

	default:
		date, tm := strings.TrimSpace(sel.Date), strings.TrimSpace(sel.Time)
		if len(availability.TimesForDate(days, date)) == 0 {
			return StatePending, model.ConfirmationDecision{}, invalid("no available times on %s", date)
		}
		if !availability.IsAvailable(days, date, tm) {
			return StatePending, model.ConfirmationDecision{}, invalid("%s %s is not available", date, tm)
		}
		reason := strings.TrimSpace(sel.Reason)
		if reason == "" {
			reason = DefaultAlternativeReason
		}
		return StateAlternativeChosen, model.ConfirmationDecision{
			Action:         model.ActionChoseAlternative,
			NewDate:        date,
			NewTime:        tm,
			RemainingSlots: remaining,
			Reason:         reason,
		}, nil
	}
}
