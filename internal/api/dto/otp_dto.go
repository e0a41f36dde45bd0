package dto

// SendOTPRequest is the body of POST /api/v1/otp/send
type SendOTPRequest struct {
	Email string `json:"email" binding:"required,email"`
	OTP   string `json:"otp" binding:"required,number"`
}

// SendOTPResponse acknowledges that the job was queued
type SendOTPResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is returned for every non-2xx response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse reports broker connectivity
type HealthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	RabbitMQ string `json:"rabbitmq"`
}
