package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/otp-delivery/internal/domain"
	"github.com/cuongbtq/otp-delivery/internal/metrics"
	"github.com/cuongbtq/otp-delivery/shared/rabbitmq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishedMessage struct {
	exchange   string
	routingKey string
	msg        amqp.Publishing
	deadline   bool
}

type fakeBroker struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
}

func (f *fakeBroker) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	_, hasDeadline := ctx.Deadline()
	f.published = append(f.published, publishedMessage{exchange: exchange, routingKey: routingKey, msg: msg, deadline: hasDeadline})
	return nil
}

func newTestPublisher(broker Broker, cfg Config) *Publisher {
	return New(broker, cfg, slog.New(slog.DiscardHandler))
}

func TestPublisher_Publish(t *testing.T) {
	broker := &fakeBroker{}
	p := newTestPublisher(broker, Config{Timeout: time.Second})

	before := testutil.ToFloat64(metrics.JobsPublished.WithLabelValues(metrics.ResultSuccess))
	require.NoError(t, p.Publish(context.Background(), domain.OTPJob{Email: "user@gmail.com", OTP: "123456"}))

	require.Len(t, broker.published, 1)
	got := broker.published[0]
	assert.Equal(t, "otp_exchange", got.exchange)
	assert.Equal(t, "otp_queue", got.routingKey)
	assert.Equal(t, uint8(amqp.Persistent), got.msg.DeliveryMode)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.NotEmpty(t, got.msg.MessageId)
	assert.True(t, got.deadline)

	job, err := domain.Decode(got.msg.Body)
	require.NoError(t, err)
	assert.Equal(t, domain.NewOTPJob("user@gmail.com", "123456"), job)

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.JobsPublished.WithLabelValues(metrics.ResultSuccess)))
}

func TestPublisher_CustomDestination(t *testing.T) {
	broker := &fakeBroker{}
	p := newTestPublisher(broker, Config{Exchange: "staging_exchange", RoutingKey: "staging_queue"})

	require.NoError(t, p.Publish(context.Background(), domain.NewOTPJob("a@b.com", "000000")))

	require.Len(t, broker.published, 1)
	assert.Equal(t, "staging_exchange", broker.published[0].exchange)
	assert.Equal(t, "staging_queue", broker.published[0].routingKey)
}

func TestPublisher_Errors(t *testing.T) {
	tests := []struct {
		name         string
		job          domain.OTPJob
		brokerErr    error
		wantTopology bool
	}{
		{
			name: "invalid email is rejected before publishing",
			job:  domain.OTPJob{Email: "nope", OTP: "123456"},
		},
		{
			name: "non numeric otp is rejected before publishing",
			job:  domain.OTPJob{Email: "a@b.com", OTP: "abcdef"},
		},
		{
			name:      "broker unreachable",
			job:       domain.NewOTPJob("a@b.com", "123456"),
			brokerErr: rabbitmq.ErrNotConnected,
		},
		{
			name:      "broker nacked",
			job:       domain.NewOTPJob("a@b.com", "123456"),
			brokerErr: rabbitmq.ErrPublishNacked,
		},
		{
			name:         "topology mismatch",
			job:          domain.NewOTPJob("a@b.com", "123456"),
			brokerErr:    errors.Join(rabbitmq.ErrNotConnected, rabbitmq.ErrTopology),
			wantTopology: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := &fakeBroker{err: tt.brokerErr}
			p := newTestPublisher(broker, Config{})

			err := p.Publish(context.Background(), tt.job)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrPublish)
			if tt.brokerErr != nil {
				assert.ErrorIs(t, err, tt.brokerErr)
			}
			assert.Equal(t, tt.wantTopology, errors.Is(err, domain.ErrTopology))
			assert.Empty(t, broker.published)
		})
	}
}
