package router

import (
	"github.com/cuongbtq/otp-delivery/internal/api/handler"
	"github.com/cuongbtq/otp-delivery/internal/metrics"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	otpHandler := handler.NewOTPHandler(deps)

	r.GET("/health", otpHandler.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Kept for clients of the original single-endpoint service
	r.POST("/send-otp", otpHandler.SendOTP)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		otp := v1.Group("/otp")
		{
			// POST /api/v1/otp/send - Queue an OTP email
			otp.POST("/send", otpHandler.SendOTP)
		}
	}

	return r
}
