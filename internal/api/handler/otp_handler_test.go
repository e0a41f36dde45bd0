package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuongbtq/otp-delivery/internal/api/dto"
	"github.com/cuongbtq/otp-delivery/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	jobs []domain.OTPJob
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, job domain.OTPJob) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeBroker struct {
	connected bool
}

func (f fakeBroker) IsConnected() bool { return f.connected }

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestHandler(pub OTPPublisher, broker ConnectionChecker, otpLength int) *OTPHandler {
	return NewOTPHandler(&Dependencies{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Publisher: pub,
		Broker:    broker,
		OTPLength: otpLength,
	})
}

func TestOTPHandler_SendOTP(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		otpLength   int
		publishErr  error
		wantStatus  int
		wantMessage string
		wantError   string
		wantJobs    int
	}{
		{
			name:        "valid request is queued",
			body:        `{"email":"a@b.com","otp":"123456"}`,
			wantStatus:  http.StatusOK,
			wantMessage: "OTP sent to queue successfully",
			wantJobs:    1,
		},
		{
			name:        "configured length is honoured",
			body:        `{"email":"a@b.com","otp":"1234"}`,
			otpLength:   4,
			wantStatus:  http.StatusOK,
			wantMessage: "OTP sent to queue successfully",
			wantJobs:    1,
		},
		{
			name:       "malformed json",
			body:       `{"email":`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request body",
		},
		{
			name:       "missing email",
			body:       `{"otp":"123456"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request body",
		},
		{
			name:       "invalid email",
			body:       `{"email":"not-an-email","otp":"123456"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request body",
		},
		{
			name:       "non numeric otp",
			body:       `{"email":"a@b.com","otp":"12ab56"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request body",
		},
		{
			name:       "wrong otp length",
			body:       `{"email":"a@b.com","otp":"12345"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request body",
		},
		{
			name:       "broker failure",
			body:       `{"email":"a@b.com","otp":"123456"}`,
			publishErr: domain.ErrPublish,
			wantStatus: http.StatusInternalServerError,
			wantError:  "Failed to queue OTP",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{err: tt.publishErr}
			h := newTestHandler(pub, fakeBroker{connected: true}, tt.otpLength)

			r := gin.New()
			r.POST("/send", h.SendOTP)

			req := httptest.NewRequest(http.MethodPost, "/send", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Len(t, pub.jobs, tt.wantJobs)

			if tt.wantMessage != "" {
				var resp dto.SendOTPResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tt.wantMessage, resp.Message)
			}
			if tt.wantError != "" {
				var resp dto.ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tt.wantError, resp.Error)
			}
		})
	}
}

func TestOTPHandler_SendOTP_PublishesJob(t *testing.T) {
	pub := &fakePublisher{}
	h := newTestHandler(pub, fakeBroker{connected: true}, 0)

	r := gin.New()
	r.POST("/send", h.SendOTP)

	req := httptest.NewRequest(http.MethodPost, "/send", bytes.NewBufferString(`{"email":"user@example.com","otp":"654321"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, pub.jobs, 1)
	assert.Equal(t, "user@example.com", pub.jobs[0].Email)
	assert.Equal(t, "654321", pub.jobs[0].OTP)
}

func TestOTPHandler_SendOTP_DoesNotLeakPublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("dial tcp 10.0.0.5:5672: connection refused")}
	h := newTestHandler(pub, fakeBroker{connected: true}, 0)

	r := gin.New()
	r.POST("/send", h.SendOTP)

	req := httptest.NewRequest(http.MethodPost, "/send", bytes.NewBufferString(`{"email":"a@b.com","otp":"123456"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}

func TestOTPHandler_Health(t *testing.T) {
	tests := []struct {
		name       string
		broker     ConnectionChecker
		wantStatus int
		wantState  string
	}{
		{name: "connected", broker: fakeBroker{connected: true}, wantStatus: http.StatusOK, wantState: "healthy"},
		{name: "disconnected", broker: fakeBroker{connected: false}, wantStatus: http.StatusServiceUnavailable, wantState: "unhealthy"},
		{name: "no broker", broker: nil, wantStatus: http.StatusServiceUnavailable, wantState: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&fakePublisher{}, tt.broker, 0)

			r := gin.New()
			r.GET("/health", h.Health)

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp dto.HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantState, resp.Status)
			assert.Equal(t, "otp-api-service", resp.Service)
		})
	}
}
