package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Delivery outcome statuses
const (
	StatusDelivered    = "delivered"
	StatusDeadLettered = "dead_lettered"
	StatusDropped      = "dropped"
)

const schema = `
CREATE TABLE IF NOT EXISTS otp_deliveries (
	id            UUID PRIMARY KEY,
	email         TEXT NOT NULL,
	queue_name    TEXT NOT NULL,
	message_id    TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	stage         TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	redelivered   BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_otp_deliveries_email_created_at
	ON otp_deliveries (email, created_at DESC);
`

// Outcome is one settled delivery. The OTP itself is never stored.
type Outcome struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	QueueName    string    `db:"queue_name" json:"queue_name"`
	MessageID    string    `db:"message_id" json:"message_id"`
	Status       string    `db:"status" json:"status"`
	Stage        string    `db:"stage" json:"stage"`
	ErrorMessage string    `db:"error_message" json:"error_message,omitempty"`
	Redelivered  bool      `db:"redelivered" json:"redelivered"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Storage records delivery outcomes in PostgreSQL
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the outcome table if it does not exist
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create otp_deliveries schema: %w", err)
	}
	return nil
}

// RecordOutcome inserts o, filling ID and CreatedAt when empty
func (s *Storage) RecordOutcome(ctx context.Context, o Outcome) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO otp_deliveries
			(id, email, queue_name, message_id, status, stage, error_message, redelivered, created_at)
		VALUES
			(:id, :email, :queue_name, :message_id, :status, :stage, :error_message, :redelivered, :created_at)
	`

	if _, err := s.db.NamedExecContext(ctx, query, o); err != nil {
		return fmt.Errorf("failed to record delivery outcome: %w", err)
	}

	s.logger.Debug("Delivery outcome recorded",
		slog.String("id", o.ID),
		slog.String("status", o.Status),
	)

	return nil
}

// ListByEmail returns the most recent outcomes for email, newest first
func (s *Storage) ListByEmail(ctx context.Context, email string, limit int) ([]Outcome, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, email, queue_name, message_id, status, stage, error_message, redelivered, created_at
		FROM otp_deliveries
		WHERE email = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	var outcomes []Outcome
	if err := s.db.SelectContext(ctx, &outcomes, query, email, limit); err != nil {
		return nil, fmt.Errorf("failed to list delivery outcomes: %w", err)
	}

	return outcomes, nil
}
