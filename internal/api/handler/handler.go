package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/otp-delivery/internal/domain"
)

// OTPPublisher enqueues OTP jobs
type OTPPublisher interface {
	Publish(ctx context.Context, job domain.OTPJob) error
}

// ConnectionChecker reports broker connectivity
type ConnectionChecker interface {
	IsConnected() bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Publisher   OTPPublisher
	Broker      ConnectionChecker
	ServiceName string
	OTPLength   int
}

// OTPHandler handles OTP-related HTTP requests
type OTPHandler struct {
	logger      *slog.Logger
	publisher   OTPPublisher
	broker      ConnectionChecker
	serviceName string
	otpLength   int
}

// NewOTPHandler creates a new OTPHandler instance
func NewOTPHandler(deps *Dependencies) *OTPHandler {
	h := &OTPHandler{
		logger:      deps.Logger,
		publisher:   deps.Publisher,
		broker:      deps.Broker,
		serviceName: deps.ServiceName,
		otpLength:   deps.OTPLength,
	}
	if h.otpLength == 0 {
		h.otpLength = domain.DefaultOTPLength
	}
	if h.serviceName == "" {
		h.serviceName = "otp-api-service"
	}
	return h
}
