package router

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuongbtq/otp-delivery/internal/api/handler"
	"github.com/cuongbtq/otp-delivery/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	count int
}

func (r *recordingPublisher) Publish(context.Context, domain.OTPJob) error {
	r.count++
	return nil
}

type connectedBroker struct{}

func (connectedBroker) IsConnected() bool { return true }

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(pub handler.OTPPublisher) *gin.Engine {
	return SetupRouter(&handler.Dependencies{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Publisher: pub,
		Broker:    connectedBroker{},
	})
}

func TestSetupRouter_Routes(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{name: "versioned send", method: http.MethodPost, path: "/api/v1/otp/send", body: `{"email":"a@b.com","otp":"123456"}`, wantStatus: http.StatusOK},
		{name: "legacy send", method: http.MethodPost, path: "/send-otp", body: `{"email":"a@b.com","otp":"123456"}`, wantStatus: http.StatusOK},
		{name: "health", method: http.MethodGet, path: "/health", wantStatus: http.StatusOK},
		{name: "metrics", method: http.MethodGet, path: "/metrics", wantStatus: http.StatusOK},
		{name: "unknown route", method: http.MethodGet, path: "/api/v1/jobs", wantStatus: http.StatusNotFound},
		{name: "preflight", method: http.MethodOptions, path: "/api/v1/otp/send", wantStatus: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&recordingPublisher{})

			req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestSetupRouter_MetricsExposeCounters(t *testing.T) {
	r := newTestRouter(&recordingPublisher{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "otp_audit_write_failures_total")
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Run("generates id", func(t *testing.T) {
		r := newTestRouter(&recordingPublisher{})

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
	})

	t.Run("propagates id", func(t *testing.T) {
		r := newTestRouter(&recordingPublisher{})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	})
}

func TestCORSMiddleware(t *testing.T) {
	r := newTestRouter(&recordingPublisher{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}
