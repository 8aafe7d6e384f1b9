package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.Confirmation("confirmed")
	m.Confirmation("confirmed")
	m.Booking("book", "slot_taken")
	m.Event("booking.appointment.booked.v1", errors.New("down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.confirmations.WithLabelValues("confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookings.WithLabelValues("book", "slot_taken")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("booking.appointment.booked.v1", "error")))

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "booking_reschedule_confirmations_total"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Confirmation("confirmed")
	m.Booking("book", "ok")
	m.ObserveSlotGeneration(0.1)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
