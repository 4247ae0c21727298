package models

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type OrderItemRequest struct {
	FoodItemID  string   `json:"foodItemId"`
	Quantity    int      `json:"quantity"`
	Additionals []string `json:"additionals,omitempty"`
}

type CreateOrderRequest struct {
	UserID       string             `json:"-"`
	RestaurantID string             `json:"restaurantId"`
	Items        []OrderItemRequest `json:"items"`
	PaymentType  PaymentType        `json:"paymentType"`
	Dropoff      Coordinates        `json:"dropoff"`
}

// CreateOrderResult carries the persisted order plus the gateway order id
// when a payment intent was created, so the client can open the checkout.
type CreateOrderResult struct {
	Order          *Order  `json:"order"`
	GatewayOrderID *string `json:"gatewayOrderId,omitempty"`
}

type PaymentVerification struct {
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	Signature        string `json:"signature"`
}

// DeliveryEvent is the courier aggregator webhook payload.
type DeliveryEvent struct {
	Event           string    `json:"event"`
	ExternalOrderID string    `json:"externalOrderId"`
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
}

type TrackingInfo struct {
	Status        string       `json:"status"`
	RiderLocation *Coordinates `json:"riderLocation,omitempty"`
}

//go:generate mockgen -destination=mocks/mock_order.go . OrderService
type OrderService interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error)

	GetOrder(ctx context.Context, orderID, userID string) (*Order, error)

	VerifyPayment(ctx context.Context, verification PaymentVerification) error

	DispatchDelivery(ctx context.Context, orderID string) (*Order, error)

	CancelOrder(ctx context.Context, orderID, userID string) error

	TrackOrder(ctx context.Context, orderID, userID string) (*TrackingInfo, error)

	AddFeedback(ctx context.Context, orderID, userID string, feedback Feedback) error

	ReconcileDeliveryEvent(ctx context.Context, event DeliveryEvent) error
}

// JWTService validates bearer tokens minted by the authentication service.
// Minting itself lives there; this backend only ever checks tokens.
//
//go:generate mockgen -destination=mocks/mock_jwt.go . JWTService
type JWTService interface {
	ValidateToken(token string) (*jwt.Token, error)
}

//go:generate mockgen -destination=mocks/mock_user.go . UserService
type UserService interface {
	GetUser(ctx context.Context, userID string) (*User, error)
}
