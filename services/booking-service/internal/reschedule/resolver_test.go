package reschedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/appointmenthub/hub/services/booking-service/internal/availability"
	"github.com/appointmenthub/hub/services/booking-service/internal/memstore"
	"github.com/appointmenthub/hub/services/booking-service/internal/metrics"
	"github.com/appointmenthub/hub/services/booking-service/internal/model"
	"github.com/appointmenthub/hub/services/booking-service/internal/outbox"
	"github.com/appointmenthub/hub/services/booking-service/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	providerID = "prov-1"
	customerID = "cust-1"
	requestID  = "req-1"
)

// 2024-05-31 puts the horizon at 2024-06-01 .. 2024-06-30.
var reference = time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC)

type recordingEmitter struct {
	mu     sync.Mutex
	events []outbox.Event
	err    error
}

func (e *recordingEmitter) Emit(_ context.Context, evt outbox.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.events = append(e.events, evt)
	return nil
}

type fixture struct {
	resolver *Resolver
	appts    *memstore.Appointments
	notes    *memstore.Notifications
	events   *recordingEmitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	appts := memstore.NewAppointments(model.Appointment{
		ID: "appt-1", ProviderID: providerID, CustomerID: customerID,
		Date: "2024-06-05", Time: "10:00", Status: model.StatusConfirmed,
	})
	notes := memstore.NewNotifications()
	require.NoError(t, notes.Write(ctx, model.AudienceCustomer, customerID, []model.Notification{{
		ID:             requestID,
		Type:           model.TypeRescheduleRequest,
		ActionRequired: true,
		CreatedAt:      reference,
		Reschedule: &model.RescheduleRequest{
			AppointmentID: "appt-1",
			ProviderID:    providerID,
			CustomerID:    customerID,
			OldDate:       "2024-06-05",
			OldTime:       "10:00",
			NewDate:       "2024-06-07",
			NewTime:       "11:00",
			ProviderName:  "Dr. Rivera",
			ProviderEmoji: "🩺",
		},
	}}))

	events := &recordingEmitter{}
	appts.Outbox = events
	ids := 0
	r := NewResolver(appts, notes, events, slog.New(slog.NewTextHandler(io.Discard, nil)), Options{
		Now:     func() time.Time { return reference },
		Metrics: metrics.New(),
		NewID: func() string {
			ids++
			return "note-" + string(rune('0'+ids))
		},
	})
	return &fixture{resolver: r, appts: appts, notes: notes, events: events}
}

func (f *fixture) customerRequest(t *testing.T) model.Notification {
	t.Helper()
	list, err := f.notes.Read(context.Background(), model.AudienceCustomer, customerID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	return list[0]
}

func TestConfirm_AlternativeChosenScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.resolver.Confirm(ctx, ConfirmRequest{
		CustomerID:     customerID,
		NotificationID: requestID,
		Selection:      Selection{Action: model.ActionChoseAlternative, Date: "2024-06-10", Time: "14:30"},
	})
	require.NoError(t, err)

	assert.Equal(t, StateAlternativeChosen, out.State)
	assert.Equal(t, model.ConfirmationDecision{
		Action:         model.ActionChoseAlternative,
		NewDate:        "2024-06-10",
		NewTime:        "14:30",
		RemainingSlots: 478,
		Reason:         DefaultAlternativeReason,
	}, out.Decision)

	handled := f.customerRequest(t)
	assert.True(t, handled.Read)
	assert.False(t, handled.ActionRequired)

	providerList, err := f.notes.Read(ctx, model.AudienceProvider, providerID)
	require.NoError(t, err)
	require.Len(t, providerList, 1)
	head := providerList[0]
	assert.Equal(t, model.TypeRescheduleConfirmed, head.Type)
	require.NoError(t, head.Validate())
	assert.Equal(t, requestID, head.Confirmation.RequestID)
	assert.Equal(t, out.Decision, head.Confirmation.Decision)

	moved, err := f.appts.Get(ctx, "appt-1")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-10", moved.Date)
	assert.Equal(t, "14:30", moved.Time)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, outbox.TopicRescheduleConfirmed, f.events.events[0].EventType)
}

func TestConfirm_AcceptSuggestedTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.resolver.Confirm(ctx, ConfirmRequest{
		CustomerID:     customerID,
		NotificationID: requestID,
		Selection:      Selection{Action: model.ActionConfirmed},
	})
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, out.State)
	assert.Equal(t, "2024-06-07", out.Decision.NewDate)
	assert.Equal(t, "11:00", out.Decision.NewTime)
	// 30*16 - 1 booked, minus the slot being taken.
	assert.Equal(t, 478, out.Decision.RemainingSlots)
	require.NotNil(t, out.Appointment)
	assert.Equal(t, "2024-06-07", out.Appointment.Date)
}

func TestConfirm_NewestProviderNotificationFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	older := model.Notification{ID: "older", Type: model.TypeAppointmentBooked, Appointment: &model.AppointmentNotice{AppointmentID: "appt-9"}}
	require.NoError(t, f.notes.Write(ctx, model.AudienceProvider, providerID, []model.Notification{older}))

	_, err := f.resolver.Confirm(ctx, ConfirmRequest{CustomerID: customerID, NotificationID: requestID, Selection: Selection{Action: model.ActionConfirmed}})
	require.NoError(t, err)

	providerList, err := f.notes.Read(ctx, model.AudienceProvider, providerID)
	require.NoError(t, err)
	require.Len(t, providerList, 2)
	assert.Equal(t, model.TypeRescheduleConfirmed, providerList[0].Type)
	assert.Equal(t, "older", providerList[1].ID)
}

func TestConfirm_MissingSelectionLeavesPending(t *testing.T) {
	for name, sel := range map[string]Selection{
		"no date": {Action: model.ActionChoseAlternative, Time: "14:30"},
		"no time": {Action: model.ActionChoseAlternative, Date: "2024-06-10"},
		"neither": {Action: model.ActionChoseAlternative, Date: "  "},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			out, err := f.resolver.Confirm(ctx, ConfirmRequest{CustomerID: customerID, NotificationID: requestID, Selection: sel})
			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Equal(t, SelectionRequired, vErr.Msg)
			assert.Equal(t, StatePending, out.State)

			assert.True(t, f.customerRequest(t).Pending())
			providerList, err := f.notes.Read(ctx, model.AudienceProvider, providerID)
			require.NoError(t, err)
			assert.Empty(t, providerList)
			assert.Empty(t, f.events.events)
		})
	}
}

func TestConfirm_MissingSelectionFailsForAnyNotification(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver.Confirm(context.Background(), ConfirmRequest{
		CustomerID:     "someone-else",
		NotificationID: "does-not-exist",
		Selection:      Selection{Action: model.ActionChoseAlternative},
	})
	var vErr *ValidationError
	assert.True(t, errors.As(err, &vErr))
}

func TestConfirm_UnavailableAlternativeRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.appts.Create(ctx, model.Appointment{
		ID: "appt-2", ProviderID: providerID, CustomerID: "cust-2",
		Date: "2024-06-10", Time: "14:30", Status: model.StatusUpcoming,
	})
	require.NoError(t, err)

	for _, sel := range []Selection{
		{Action: model.ActionChoseAlternative, Date: "2024-06-10", Time: "14:30"},
		{Action: model.ActionChoseAlternative, Date: "2024-06-10", Time: "17:00"},
		{Action: model.ActionChoseAlternative, Date: "2024-07-15", Time: "10:00"},
	} {
		_, err := f.resolver.Confirm(ctx, ConfirmRequest{CustomerID: customerID, NotificationID: requestID, Selection: sel})
		var vErr *ValidationError
		assert.True(t, errors.As(err, &vErr), "selection %+v", sel)
	}
	assert.True(t, f.customerRequest(t).Pending())
}

func TestConfirm_LostRaceLeavesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Someone else books the proposed slot before the customer answers.
	_, err := f.appts.Create(ctx, model.Appointment{
		ID: "appt-3", ProviderID: providerID, CustomerID: "cust-3",
		Date: "2024-06-07", Time: "11:00", Status: model.StatusUpcoming,
	})
	require.NoError(t, err)

	out, err := f.resolver.Confirm(ctx, ConfirmRequest{CustomerID: customerID, NotificationID: requestID, Selection: Selection{Action: model.ActionConfirmed}})
	assert.ErrorIs(t, err, store.ErrSlotTaken)
	assert.Equal(t, StatePending, out.State)
	assert.True(t, f.customerRequest(t).Pending())

	appt, err := f.appts.Get(ctx, "appt-1")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-05", appt.Date)
}

func TestConfirm_ResolvesOnlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := ConfirmRequest{CustomerID: customerID, NotificationID: requestID, Selection: Selection{Action: model.ActionConfirmed}}

	_, err := f.resolver.Confirm(ctx, req)
	require.NoError(t, err)
	_, err = f.resolver.Confirm(ctx, req)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestConfirm_UnknownNotification(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver.Confirm(context.Background(), ConfirmRequest{
		CustomerID: customerID, NotificationID: "nope", Selection: Selection{Action: model.ActionConfirmed},
	})
	assert.ErrorIs(t, err, ErrNotificationNotFound)
}

func TestConfirm_WrongNotificationType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.notes.Write(ctx, model.AudienceCustomer, customerID, []model.Notification{{
		ID: "booked-1", Type: model.TypeAppointmentBooked, ActionRequired: true,
		Appointment: &model.AppointmentNotice{AppointmentID: "appt-1"},
	}}))

	_, err := f.resolver.Confirm(ctx, ConfirmRequest{CustomerID: customerID, NotificationID: "booked-1", Selection: Selection{Action: model.ActionConfirmed}})
	var vErr *ValidationError
	assert.True(t, errors.As(err, &vErr))
}

func TestConfirm_ProviderWriteFailureKeepsEarlierStages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notes.FailWrites = func(audience model.Audience, _ string) error {
		if audience == model.AudienceProvider {
			return errors.New("redis: connection refused")
		}
		return nil
	}

	out, err := f.resolver.Confirm(ctx, ConfirmRequest{CustomerID: customerID, NotificationID: requestID, Selection: Selection{Action: model.ActionConfirmed}})
	var pErr *PersistenceError
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, StageNotifyProvider, pErr.Stage)
	assert.Equal(t, StateConfirmed, out.State)

	assert.False(t, f.customerRequest(t).Pending(), "customer stage is not rolled back")
	require.Len(t, f.events.events, 1, "the event was stored with the move")
}

func TestConfirm_RetryAfterMarkHandledFailure(t *testing.T) {
	for name, sel := range map[string]Selection{
		"alternative": {Action: model.ActionChoseAlternative, Date: "2024-06-10", Time: "14:30"},
		"suggested":   {Action: model.ActionConfirmed},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			req := ConfirmRequest{CustomerID: customerID, NotificationID: requestID, Selection: sel}

			f.notes.FailWrites = func(model.Audience, string) error { return errors.New("redis down") }
			_, err := f.resolver.Confirm(ctx, req)
			var pErr *PersistenceError
			require.True(t, errors.As(err, &pErr))
			require.Equal(t, StageMarkHandled, pErr.Stage)
			require.True(t, f.customerRequest(t).Pending())

			f.notes.FailWrites = nil
			out, err := f.resolver.Confirm(ctx, req)
			require.NoError(t, err)
			assert.NotEqual(t, StatePending, out.State)
			assert.Equal(t, 478, out.Decision.RemainingSlots, "same calendar as the first attempt")
			assert.False(t, f.customerRequest(t).Pending())

			appt, err := f.appts.Get(ctx, "appt-1")
			require.NoError(t, err)
			assert.Equal(t, out.Decision.NewDate, appt.Date)
			assert.Equal(t, out.Decision.NewTime, appt.Time)

			providerList, err := f.notes.Read(ctx, model.AudienceProvider, providerID)
			require.NoError(t, err)
			require.Len(t, providerList, 1)
		})
	}
}

func TestConfirm_RetryCanPickAnotherSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.notes.FailWrites = func(model.Audience, string) error { return errors.New("redis down") }
	_, err := f.resolver.Confirm(ctx, ConfirmRequest{CustomerID: customerID, NotificationID: requestID, Selection: Selection{Action: model.ActionConfirmed}})
	require.Error(t, err)
	f.notes.FailWrites = nil

	out, err := f.resolver.Confirm(ctx, ConfirmRequest{
		CustomerID: customerID, NotificationID: requestID,
		Selection: Selection{Action: model.ActionChoseAlternative, Date: "2024-06-12", Time: "09:00"},
	})
	require.NoError(t, err)
	assert.Equal(t, StateAlternativeChosen, out.State)
	appt, err := f.appts.Get(ctx, "appt-1")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-12", appt.Date)
}

func TestConfirm_EventFailureAbortsMove(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("outbox unavailable")
	ctx := context.Background()

	out, err := f.resolver.Confirm(ctx, ConfirmRequest{CustomerID: customerID, NotificationID: requestID, Selection: Selection{Action: model.ActionConfirmed}})
	var pErr *PersistenceError
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, StageMoveAppointment, pErr.Stage)
	assert.Equal(t, StatePending, out.State)
	assert.True(t, f.customerRequest(t).Pending())

	appt, err := f.appts.Get(ctx, "appt-1")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-05", appt.Date)
}

func TestConfirm_EventIsBestEffortWithoutAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := f.customerRequest(t)
	n.Reschedule.AppointmentID = ""
	require.NoError(t, f.notes.Write(ctx, model.AudienceCustomer, customerID, []model.Notification{n}))
	f.events.err = errors.New("outbox unavailable")

	out, err := f.resolver.Confirm(ctx, ConfirmRequest{CustomerID: customerID, NotificationID: requestID, Selection: Selection{Action: model.ActionConfirmed}})
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, out.State)
	assert.Nil(t, out.Appointment)
	assert.False(t, f.customerRequest(t).Pending())
}

func TestDecide_ConfirmedDecrementsByOne(t *testing.T) {
	n := model.Notification{
		ID: "n", Type: model.TypeRescheduleRequest, ActionRequired: true,
		Reschedule: &model.RescheduleRequest{ProviderID: providerID, NewDate: "2024-06-02", NewTime: "09:00"},
	}
	for _, booked := range [][]model.Appointment{
		nil,
		{{ProviderID: providerID, Date: "2024-06-03", Time: "09:30", Status: model.StatusUpcoming}},
		{{ProviderID: providerID, Date: "2024-06-03", Time: "09:30", Status: model.StatusCancelled}},
	} {
		days := availability.Generate(reference, providerID, booked)
		state, decision, err := Decide(n, days, Selection{Action: model.ActionConfirmed})
		require.NoError(t, err)
		assert.Equal(t, StateConfirmed, state)
		assert.Equal(t, availability.TotalAvailable(days)-1, decision.RemainingSlots)
	}
}

func TestDecide_KeepsCustomerReason(t *testing.T) {
	n := model.Notification{
		ID: "n", Type: model.TypeRescheduleRequest, ActionRequired: true,
		Reschedule: &model.RescheduleRequest{ProviderID: providerID, NewDate: "2024-06-02", NewTime: "09:00"},
	}
	days := availability.Generate(reference, providerID, nil)
	_, decision, err := Decide(n, days, Selection{Action: model.ActionChoseAlternative, Date: "2024-06-04", Time: "16:30", Reason: " work trip "})
	require.NoError(t, err)
	assert.Equal(t, "work trip", decision.Reason)

	_, _, err = Decide(n, days, Selection{Action: "maybe"})
	var vErr *ValidationError
	assert.True(t, errors.As(err, &vErr))
}
