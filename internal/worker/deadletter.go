package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/otp-delivery/internal/domain"
	"github.com/cuongbtq/otp-delivery/internal/metrics"
	"github.com/cuongbtq/otp-delivery/internal/worker/storage"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Headers attached to dead-lettered messages
const (
	HeaderFailureStage = "x-failure-stage"
	HeaderFailureKind  = "x-failure-kind"
	HeaderFailureError = "x-failure-error"
	HeaderFailedAt     = "x-failed-at"
	HeaderRedelivered  = "x-redelivered"
)

const deadLetterTimeout = 10 * time.Second

// deadLetter republishes the original body to the dead-letter queue and acks
// the delivery. If the republish fails the delivery is requeued instead.
func (w *Worker) deadLetter(ctx context.Context, d amqp.Delivery, job domain.OTPJob, stage domain.Stage, cause error) {
	attrs := []any{
		slog.Uint64("delivery_tag", d.DeliveryTag),
		slog.String("email", job.Email),
		slog.String("stage", stage.String()),
	}

	if w.deadLetterKey == "" {
		if err := d.Nack(false, false); err != nil {
			w.logger.Error("Failed to reject message", append(attrs, slog.String("error", err.Error()))...)
			return
		}
		metrics.JobsProcessed.WithLabelValues(metrics.OutcomeDropped).Inc()
		w.logger.Warn("Message rejected without dead-letter queue", attrs...)
		w.record(ctx, d, job, storage.StatusDropped, stage, cause)
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadLetterTimeout)
	defer cancel()

	err := w.broker.Publish(pubCtx, w.exchange, w.deadLetterKey, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Timestamp:    time.Now().UTC(),
		Body:         d.Body,
		Headers: amqp.Table{
			HeaderFailureStage: stage.String(),
			HeaderFailureKind:  string(domain.KindOf(cause)),
			HeaderFailureError: cause.Error(),
			HeaderFailedAt:     time.Now().UTC().Format(time.RFC3339),
			HeaderRedelivered:  d.Redelivered,
		},
	})
	if err != nil {
		w.logger.Error("Failed to publish to dead-letter queue", append(attrs, slog.String("error", err.Error()))...)
		w.requeue(d, attrs)
		return
	}

	if err := d.Ack(false); err != nil {
		w.logger.Error("Failed to ACK dead-lettered message", append(attrs, slog.String("error", err.Error()))...)
		return
	}

	metrics.JobsProcessed.WithLabelValues(metrics.OutcomeDeadLettered).Inc()
	w.logger.Warn("Message moved to dead-letter queue", append(attrs, slog.String("queue", w.deadLetterKey))...)
	w.record(ctx, d, job, storage.StatusDeadLettered, stage, cause)
}
