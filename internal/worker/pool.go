package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/otp-delivery/internal/domain"
	"github.com/cuongbtq/otp-delivery/internal/metrics"
	"github.com/cuongbtq/otp-delivery/internal/worker/storage"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/samber/lo"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg, ok := <-w.jobsChan:
			if !ok {
				return
			}
			w.handleDelivery(ctx, workerName, msg)
		}
	}
}

// handleDelivery runs one job under its own timeout and settles the delivery.
// The job context survives shutdown so a started job finishes its SMTP exchange.
func (w *Worker) handleDelivery(ctx context.Context, workerName string, msg *jobMessage) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.jobTimeout)
	job, err := w.processJob(jobCtx, msg.delivery)
	cancel()

	w.settle(ctx, workerName, msg.delivery, job, err)
	metrics.JobDuration.Observe(time.Since(msg.receivedAt).Seconds())
}

// settle acks on success and applies the failure policy otherwise
func (w *Worker) settle(ctx context.Context, workerName string, d amqp.Delivery, job domain.OTPJob, err error) {
	attrs := []any{
		slog.String("worker_name", workerName),
		slog.Uint64("delivery_tag", d.DeliveryTag),
		slog.String("email", job.Email),
		slog.Bool("redelivered", d.Redelivered),
	}

	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			w.logger.Error("Failed to ACK message", append(attrs, slog.String("error", ackErr.Error()))...)
			return
		}
		metrics.JobsProcessed.WithLabelValues(metrics.OutcomeAcked).Inc()
		w.logger.Info("OTP job completed", attrs...)
		w.record(ctx, d, job, storage.StatusDelivered, domain.StageAcknowledged, nil)
		return
	}

	stage := failedStage(err)
	kind := domain.KindOf(err)
	action := w.policy.Decide(err, d.Redelivered)
	metrics.StageFailures.WithLabelValues(stage.String(), string(kind)).Inc()

	w.logger.Error("OTP job failed", append(attrs,
		slog.String("stage", stage.String()),
		slog.String("kind", string(kind)),
		slog.String("action", string(action)),
		slog.String("error", err.Error()),
	)...)

	switch action {
	case ActionAck:
		if ackErr := d.Ack(false); ackErr != nil {
			w.logger.Error("Failed to ACK message", append(attrs, slog.String("error", ackErr.Error()))...)
			return
		}
		metrics.JobsProcessed.WithLabelValues(metrics.OutcomeDropped).Inc()
		w.record(ctx, d, job, storage.StatusDropped, stage, err)

	case ActionDeadLetter:
		w.deadLetter(ctx, d, job, stage, err)

	default:
		w.requeue(d, attrs)
	}
}

func (w *Worker) requeue(d amqp.Delivery, attrs []any) {
	if nackErr := d.Nack(false, true); nackErr != nil {
		w.logger.Error("Failed to NACK message", append(attrs, slog.String("error", nackErr.Error()))...)
		return
	}
	metrics.JobsProcessed.WithLabelValues(metrics.OutcomeRequeued).Inc()
	w.logger.Info("Message NACKed", append(attrs, slog.Bool("requeue", true))...)
}

// record stores the outcome when an audit store is configured. Failures are logged only.
func (w *Worker) record(ctx context.Context, d amqp.Delivery, job domain.OTPJob, status string, stage domain.Stage, cause error) {
	if w.recorder == nil {
		return
	}

	o := storage.Outcome{
		Email:       job.Email,
		QueueName:   lo.CoalesceOrEmpty(job.QueueName, d.RoutingKey),
		MessageID:   d.MessageId,
		Status:      status,
		Stage:       stage.String(),
		Redelivered: d.Redelivered,
	}
	if cause != nil {
		o.ErrorMessage = cause.Error()
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := w.recorder.RecordOutcome(recordCtx, o); err != nil {
		metrics.AuditWriteFailures.Inc()
		w.logger.Warn("Failed to record delivery outcome",
			slog.String("status", status),
			slog.String("error", err.Error()),
		)
	}
}

func failedStage(err error) domain.Stage {
	var stageErr *domain.StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return domain.StageReceived
}
