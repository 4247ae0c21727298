package models

import "time"

type PaymentStatus string

const (
	PaymentStatusCreated   PaymentStatus = "CREATED"
	PaymentStatusPaid      PaymentStatus = "PAID"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
	PaymentStatusRefund    PaymentStatus = "REFUND"
)

// PaymentRecord is created before the Order in the online-payment flow. The
// Order references it by PaymentID only, so payment history survives order
// lifecycle changes.
type PaymentRecord struct {
	ID               string        `json:"paymentId"`
	GatewayOrderID   string        `json:"gatewayOrderId"`
	GatewayPaymentID *string       `json:"gatewayPaymentId,omitempty"`
	Status           PaymentStatus `json:"status"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	CreatedAt        time.Time     `json:"createdAt"`
	PaidAt           *time.Time    `json:"paidAt,omitempty"`
	RefundedAt       *time.Time    `json:"refundedAt,omitempty"`
}
