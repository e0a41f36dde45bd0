package domain

import "time"

// Broker topology. These names are shared with every producer and consumer
// of the queue and must not change.
const (
	ExchangeName        = "otp_exchange"
	ExchangeType        = "direct"
	QueueName           = "otp_queue"
	RoutingKey          = QueueName
	DeadLetterQueueName = "otp_queue.dlq"
)

// Cache layout
const (
	CacheKeyPrefix = "otp:"
	CacheTTL       = 300 * time.Second
)

// Email content
const (
	MailSubject      = "Your OTP Code"
	MailTextFallback = "This is a fallback text for email clients that don't support HTML."
)

// OTP format bounds
const (
	DefaultOTPLength = 6
	MinOTPLength     = 4
	MaxOTPLength     = 10
)

// JobVersion is the newest payload schema this build understands.
const JobVersion = 1

const ContentTypeJSON = "application/json"

// CacheKey returns the cache key holding the latest OTP for email.
func CacheKey(email string) string {
	return CacheKeyPrefix + email
}
