package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/quickbites/quickbites-backend/internal/models"
)

var (
	ErrDuplicateWebhookEvent = errors.New("webhook event already recorded")
)

const (
	InsertWebhookEventQuery = `
		INSERT INTO
			webhook_events (external_order_id, raw_status, event_ts)
		VALUES ($1, $2, $3)
	`
	DeleteWebhookEventQuery = `
		DELETE FROM
			webhook_events
		WHERE
			external_order_id = $1 AND raw_status = $2 AND event_ts = $3
	`
)

// RecordDeliveryEvent inserts the (externalOrderId, rawStatus, timestamp)
// idempotency key before any side effect is applied. Courier webhooks are
// at-least-once; a replay hits the primary key and comes back as
// ErrDuplicateWebhookEvent. Payloads without a timestamp carry the zero
// sentinel, which collapses their key to (externalOrderId, rawStatus).
func (d *Database) RecordDeliveryEvent(ctx context.Context, event models.DeliveryEvent) error {
	_, err := d.db.Exec(ctx, InsertWebhookEventQuery,
		event.ExternalOrderID, event.Status, event.Timestamp,
	)
	if err != nil {
		var e *pgconn.PgError
		if errors.As(err, &e) && e.Code == pgerrcode.UniqueViolation {
			return ErrDuplicateWebhookEvent
		}
		return fmt.Errorf("failed to record webhook event: %w", err)
	}

	return nil
}

// DeleteDeliveryEvent removes a recorded idempotency key so that a courier
// retry of the same payload can be processed after a reconciliation failure.
func (d *Database) DeleteDeliveryEvent(ctx context.Context, event models.DeliveryEvent) error {
	_, err := d.db.Exec(ctx, DeleteWebhookEventQuery,
		event.ExternalOrderID, event.Status, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to delete webhook event: %w", err)
	}

	return nil
}
