package notifystore

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/appointmenthub/hub/services/booking-service/internal/model"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRejectsMalformed(t *testing.T) {
	_, err := encodeList([]model.Notification{{ID: "n1", Type: model.TypeRescheduleRequest}})
	assert.True(t, errors.Is(err, model.ErrMalformedNotification))
}

func TestCapListKeepsPendingRequests(t *testing.T) {
	booked := func(id string) model.Notification {
		return model.Notification{ID: id, Type: model.TypeAppointmentBooked, Appointment: &model.AppointmentNotice{AppointmentID: id}}
	}
	pending := model.Notification{ID: "req", Type: model.TypeRescheduleRequest, ActionRequired: true}

	// Newest first: the pending request is the oldest entry.
	list := []model.Notification{booked("n4"), booked("n3"), booked("n2"), pending}
	got := capList(list, 2)
	ids := make([]string, len(got))
	for i, n := range got {
		ids[i] = n.ID
	}
	assert.Equal(t, []string{"n4", "req"}, ids)

	assert.Len(t, capList(list, 0), 4, "zero keeps everything")
	assert.Len(t, capList(list, 10), 4)

	allPending := []model.Notification{pending, pending, pending}
	assert.Len(t, capList(allPending, 1), 3, "pending entries are never dropped")
}

func TestEncodeDecodeKeepsOrderAndVariant(t *testing.T) {
	list := []model.Notification{
		{ID: "n2", Type: model.TypeRescheduleConfirmed, Confirmation: &model.RescheduleConfirmation{
			RequestID: "n1",
			Decision:  model.ConfirmationDecision{Action: model.ActionConfirmed, NewDate: "2024-06-10", NewTime: "14:30", RemainingSlots: 478},
		}},
		{ID: "n1", Type: model.TypeAppointmentBooked, Appointment: &model.AppointmentNotice{AppointmentID: "a1"}},
	}
	raw, err := encodeList(list)
	require.NoError(t, err)

	got, err := decodeList(raw)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "n2", got[0].ID)
	require.NotNil(t, got[0].Confirmation)
	assert.Equal(t, 478, got[0].Confirmation.Decision.RemainingSlots)
	assert.Nil(t, got[0].Appointment)

	empty, err := encodeList(nil)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(empty))
}

func TestKeyLayout(t *testing.T) {
	s := NewRedisStore(nil, "")
	assert.Equal(t, "notifications:provider:p1", s.key(model.AudienceProvider, "p1"))
}

// TestRedisStore_Live runs against TEST_REDIS_ADDR when set.
func TestRedisStore_Live(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	require.NoError(t, ReadyCheck(rdb)(ctx))

	s := NewRedisStore(rdb, "test-notifications-"+uuid.NewString())
	s.MaxItems = 1

	got, err := s.Read(ctx, model.AudienceCustomer, "c1")
	require.NoError(t, err)
	assert.Empty(t, got)

	list := []model.Notification{
		{ID: "new", Type: model.TypeAppointmentBooked, Appointment: &model.AppointmentNotice{}},
		{ID: "old", Type: model.TypeAppointmentBooked, Appointment: &model.AppointmentNotice{}},
	}
	require.NoError(t, s.Write(ctx, model.AudienceCustomer, "c1", list))

	got, err = s.Read(ctx, model.AudienceCustomer, "c1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
	_ = rdb.Del(ctx, s.key(model.AudienceCustomer, "c1")).Err()
}
