package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(JobsProcessed.WithLabelValues(OutcomeDeadLettered))
	JobsProcessed.WithLabelValues(OutcomeDeadLettered).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(JobsProcessed.WithLabelValues(OutcomeDeadLettered)))

	before = testutil.ToFloat64(MailSendFailure.WithLabelValues("smtp.example.com"))
	MailSendFailure.WithLabelValues("smtp.example.com").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(MailSendFailure.WithLabelValues("smtp.example.com")))
}

func TestHandler(t *testing.T) {
	JobsPublished.WithLabelValues(ResultSuccess).Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "otp_jobs_published_total")
	assert.Contains(t, rec.Body.String(), "otp_worker_jobs_processed_total")
}
