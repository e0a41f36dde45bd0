package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/otp-delivery/internal/domain"
	"github.com/cuongbtq/otp-delivery/internal/metrics"
	"github.com/cuongbtq/otp-delivery/shared/mail"
	amqp "github.com/rabbitmq/amqp091-go"
)

// processJob runs decode, cache write, render and send in order. The first
// failure stops the pipeline, so no email goes out unless the OTP is cached.
// A panic in any step is returned as an error for the step being attempted.
func (w *Worker) processJob(ctx context.Context, d amqp.Delivery) (job domain.OTPJob, err error) {
	next := domain.StageDeserialized
	defer func() {
		if r := recover(); r != nil {
			err = domain.NewStageError(next, fmt.Errorf("panic: %v", r))
		}
	}()

	job, err = domain.Decode(d.Body)
	if err != nil {
		return job, domain.NewStageError(next, err)
	}
	if err = job.CheckOTPLength(w.otpLength); err != nil {
		return job, domain.NewStageError(next, err)
	}

	w.logger.Debug("Processing OTP job",
		slog.String("email", job.Email),
		slog.Uint64("delivery_tag", d.DeliveryTag),
	)

	next = domain.StageCacheWritten
	if err = w.cache.Set(ctx, domain.CacheKey(job.Email), job.OTP, domain.CacheTTL); err != nil {
		metrics.CacheWrites.WithLabelValues(metrics.ResultFailure).Inc()
		return job, domain.NewStageError(next, domain.Wrap(domain.ErrCache, err))
	}
	metrics.CacheWrites.WithLabelValues(metrics.ResultSuccess).Inc()

	next = domain.StageEmailRendered
	html, err := w.renderer.Render(job.OTP)
	if err != nil {
		return job, domain.NewStageError(next, domain.Wrap(domain.ErrTemplate, err))
	}

	next = domain.StageEmailSent
	msg := mail.Message{
		From:     w.mailFrom,
		To:       []string{job.Email},
		Subject:  domain.MailSubject,
		TextBody: domain.MailTextFallback,
		HTMLBody: html,
	}
	if err = w.mailer.Send(ctx, msg); err != nil {
		metrics.MailSendFailure.WithLabelValues(w.mailHost).Inc()
		return job, domain.NewStageError(next, domain.Wrap(domain.ErrSend, err))
	}
	metrics.MailSendSuccess.WithLabelValues(w.mailHost).Inc()

	return job, nil
}
