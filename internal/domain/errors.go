package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTopology is returned when the broker exchange, queue or binding cannot be declared
	ErrTopology = errors.New("topology error")

	// ErrPublish is returned when a job could not be handed to the broker
	ErrPublish = errors.New("publish error")

	// ErrDeserialization is returned when a message body is not a valid OTP job
	ErrDeserialization = errors.New("deserialization error")

	// ErrCache is returned when the OTP could not be written to the cache
	ErrCache = errors.New("cache error")

	// ErrTemplate is returned when the email template is missing or cannot be rendered
	ErrTemplate = errors.New("template error")

	// ErrSend is returned when the SMTP exchange fails
	ErrSend = errors.New("send error")
)

// FailureKind classifies a processing failure for the ack policy.
type FailureKind string

const (
	KindDeserialization FailureKind = "deserialization"
	KindCache           FailureKind = "cache"
	KindTemplate        FailureKind = "template"
	KindSend            FailureKind = "send"
	KindUnknown         FailureKind = "unknown"
)

// KindOf maps err onto the failure taxonomy.
func KindOf(err error) FailureKind {
	switch {
	case errors.Is(err, ErrDeserialization):
		return KindDeserialization
	case errors.Is(err, ErrCache):
		return KindCache
	case errors.Is(err, ErrTemplate):
		return KindTemplate
	case errors.Is(err, ErrSend):
		return KindSend
	default:
		return KindUnknown
	}
}

// Wrap tags err with kind unless it already carries it.
func Wrap(kind, err error) error {
	if err == nil || errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
