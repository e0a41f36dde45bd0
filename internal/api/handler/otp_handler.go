package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/otp-delivery/internal/api/dto"
	"github.com/cuongbtq/otp-delivery/internal/domain"
	"github.com/gin-gonic/gin"
)

// SendOTP handles POST /api/v1/otp/send (and the legacy POST /send-otp).
// A 200 means the job is durably queued, not that the email was delivered.
func (h *OTPHandler) SendOTP(c *gin.Context) {
	var req dto.SendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "Invalid request body",
			Details: err.Error(),
		})
		return
	}

	if len(req.OTP) != h.otpLength {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "Invalid request body",
			Details: fmt.Sprintf("otp must be exactly %d digits", h.otpLength),
		})
		return
	}

	if err := h.publisher.Publish(c.Request.Context(), domain.NewOTPJob(req.Email, req.OTP)); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error: "Failed to queue OTP",
		})
		return
	}

	c.JSON(http.StatusOK, dto.SendOTPResponse{
		Message: "OTP sent to queue successfully",
	})
}

// Health handles GET /health
func (h *OTPHandler) Health(c *gin.Context) {
	if h.broker == nil || !h.broker.IsConnected() {
		c.JSON(http.StatusServiceUnavailable, dto.HealthResponse{
			Status:   "unhealthy",
			Service:  h.serviceName,
			RabbitMQ: "disconnected",
		})
		return
	}

	c.JSON(http.StatusOK, dto.HealthResponse{
		Status:   "healthy",
		Service:  h.serviceName,
		RabbitMQ: "connected",
	})
}
