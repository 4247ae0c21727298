package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/quickbites/quickbites-backend/internal/models"
)

var (
	ErrDuplicatePayment = errors.New("payment record already exists")
)

const (
	InsertPaymentQuery = `
		INSERT INTO
			payments (id, gateway_order_id, status, amount, currency)
		VALUES ($1, $2, $3, $4, $5)
	`
	SelectPaymentQuery = `
		SELECT
			id,
			gateway_order_id,
			gateway_payment_id,
			status,
			amount,
			currency,
			created_at,
			paid_at,
			refunded_at
		FROM
			payments
		WHERE
			id = $1
	`
	SelectPaymentByGatewayOrderQuery = `
		SELECT
			id,
			gateway_order_id,
			gateway_payment_id,
			status,
			amount,
			currency,
			created_at,
			paid_at,
			refunded_at
		FROM
			payments
		WHERE
			gateway_order_id = $1
	`
	MarkPaymentPaidQuery = `
		UPDATE
			payments
		SET
			status = 'PAID',
			gateway_payment_id = $2,
			paid_at = $3
		WHERE
			id = $1
	`
	MarkPaymentRefundedQuery = `
		UPDATE
			payments
		SET
			status = 'REFUND',
			refunded_at = $2
		WHERE
			id = $1
	`
)

func (d *Database) CreatePayment(ctx context.Context, payment *models.PaymentRecord) error {
	_, err := d.db.Exec(ctx, InsertPaymentQuery,
		payment.ID, payment.GatewayOrderID, string(payment.Status), payment.Amount, payment.Currency,
	)
	if err != nil {
		var e *pgconn.PgError
		if errors.As(err, &e) && e.Code == pgerrcode.UniqueViolation {
			return ErrDuplicatePayment
		}
		return fmt.Errorf("failed to create payment record: %w", err)
	}

	return nil
}

func (d *Database) scanPayment(row pgx.Row) (*models.PaymentRecord, error) {
	var (
		payment models.PaymentRecord
		status  string
	)

	err := row.Scan(
		&payment.ID, &payment.GatewayOrderID, &payment.GatewayPaymentID, &status,
		&payment.Amount, &payment.Currency, &payment.CreatedAt, &payment.PaidAt, &payment.RefundedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find payment record: %w", err)
	}

	payment.Status = models.PaymentStatus(status)

	return &payment, nil
}

// FindPayment returns nil without an error when the record does not exist.
func (d *Database) FindPayment(ctx context.Context, paymentID string) (*models.PaymentRecord, error) {
	return d.scanPayment(d.db.QueryRow(ctx, SelectPaymentQuery, paymentID))
}

func (d *Database) FindPaymentByGatewayOrder(ctx context.Context, gatewayOrderID string) (*models.PaymentRecord, error) {
	return d.scanPayment(d.db.QueryRow(ctx, SelectPaymentByGatewayOrderQuery, gatewayOrderID))
}

func (d *Database) MarkPaymentPaid(ctx context.Context, paymentID, gatewayPaymentID string, paidAt time.Time) error {
	_, err := d.db.Exec(ctx, MarkPaymentPaidQuery, paymentID, gatewayPaymentID, paidAt)
	if err != nil {
		return fmt.Errorf("failed to mark payment as paid: %w", err)
	}

	return nil
}

func (d *Database) MarkPaymentRefunded(ctx context.Context, paymentID string, refundedAt time.Time) error {
	_, err := d.db.Exec(ctx, MarkPaymentRefundedQuery, paymentID, refundedAt)
	if err != nil {
		return fmt.Errorf("failed to mark payment as refunded: %w", err)
	}

	return nil
}
