package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Registered("registered")
	m.Registered("waiting_list")
	m.Registered("registered")
	m.Rejected(ReasonCapacityExceeded)
	m.Cancelled()
	m.Promoted(2)
	m.Generated(5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Registrations.WithLabelValues("registered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejections.WithLabelValues(ReasonCapacityExceeded)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Promotions))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.OccurrencesGenerated))

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "club_events_cancellations_total 1")
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Registered("registered")
		m.Rejected(ReasonNotEligible)
		m.Cancelled()
		m.Promoted(1)
		m.Generated(1)
	})
}
