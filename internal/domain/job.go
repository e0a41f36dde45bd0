package domain

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// OTPJob is the message carried from the API to the worker.
//
// Version is omitted on the wire when zero; a missing version is read as 1.
type OTPJob struct {
	Version   int    `json:"version,omitempty"`
	Email     string `json:"email" validate:"required,email"`
	OTP       string `json:"otp" validate:"required,number,min=4,max=10"`
	QueueName string `json:"queue_name"`
}

// NewOTPJob builds a job for the default queue.
func NewOTPJob(email, otp string) OTPJob {
	return OTPJob{
		Version:   JobVersion,
		Email:     email,
		OTP:       otp,
		QueueName: QueueName,
	}
}

// SchemaVersion returns the effective payload version.
func (j OTPJob) SchemaVersion() int {
	if j.Version == 0 {
		return 1
	}
	return j.Version
}

// Validate checks the email and OTP formats and the schema version.
func (j OTPJob) Validate() error {
	if v := j.SchemaVersion(); v > JobVersion {
		return fmt.Errorf("unsupported job version %d", v)
	}
	if err := validate.Struct(j); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	return nil
}

// Encode serializes a job to its JSON wire form.
func Encode(j OTPJob) ([]byte, error) {
	body, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal otp job: %w", err)
	}
	return body, nil
}

// Decode parses and validates a message body. All failures wrap ErrDeserialization.
func Decode(body []byte) (OTPJob, error) {
	var j OTPJob
	if err := json.Unmarshal(body, &j); err != nil {
		return OTPJob{}, fmt.Errorf("%w: %w", ErrDeserialization, err)
	}
	if err := j.Validate(); err != nil {
		return OTPJob{}, fmt.Errorf("%w: %w", ErrDeserialization, err)
	}
	return j, nil
}

// CheckOTPLength rejects an OTP that is not exactly n characters long.
// Failures wrap ErrDeserialization.
func (j OTPJob) CheckOTPLength(n int) error {
	if len(j.OTP) != n {
		return fmt.Errorf("%w: otp must be exactly %d digits, got %d", ErrDeserialization, n, len(j.OTP))
	}
	return nil
}
