// Package metrics holds the Prometheus collectors shared by the API and the worker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Label values
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultRejected = "rejected"

	OutcomeAcked        = "acked"
	OutcomeRequeued     = "requeued"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeDropped      = "dropped"
)

var (
	JobsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_jobs_published_total",
		Help: "Total number of OTP jobs handed to the broker, by result",
	}, []string{"result"})

	JobsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_worker_jobs_processed_total",
		Help: "Total number of deliveries settled by the worker, by outcome",
	}, []string{"outcome"})
	// Failures keyed by the stage the job could not reach and the failure kind
	StageFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_worker_stage_failures_total",
		Help: "Total number of processing failures by stage and kind",
	}, []string{"stage", "kind"})
	JobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "otp_worker_job_duration_seconds",
		Help:    "Time from receipt to settlement of a delivery",
		Buckets: prometheus.DefBuckets,
	})

	CacheWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_cache_writes_total",
		Help: "Total number of OTP cache writes, by result",
	}, []string{"result"})

	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_mail_send_success_total",
		Help: "Total number of OTP emails accepted by the SMTP relay",
	}, []string{"host"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_mail_send_failure_total",
		Help: "Total number of OTP emails the SMTP relay did not accept",
	}, []string{"host"})

	AuditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "otp_audit_write_failures_total",
		Help: "Total number of delivery outcomes that could not be stored",
	})
)

func init() {
	prometheus.MustRegister(JobsPublished)
	prometheus.MustRegister(JobsProcessed)
	prometheus.MustRegister(StageFailures)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(CacheWrites)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(AuditWriteFailures)
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
