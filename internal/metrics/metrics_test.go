package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
		IncNotification("email", "sent")
		AddExpiredHolds(2)
	})
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(bookingTransitions.WithLabelValues("pending", "approved"))
	IncBookingTransition("pending", "approved")
	assert.Equal(t, before+1, testutil.ToFloat64(bookingTransitions.WithLabelValues("pending", "approved")))

	before = testutil.ToFloat64(paymentCallbacks.WithLabelValues("invalid_signature"))
	IncPaymentCallback("invalid_signature")
	assert.Equal(t, before+1, testutil.ToFloat64(paymentCallbacks.WithLabelValues("invalid_signature")))

	before = testutil.ToFloat64(calendarConflicts)
	IncCalendarConflict()
	assert.Equal(t, before+1, testutil.ToFloat64(calendarConflicts))
}

func TestHandler(t *testing.T) {
	Register()
	IncCalendarConflict()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "resortwala_calendar_conflicts_total")
}
