package models

import (
	"github.com/quickbites/quickbites-backend/internal/utils"
)

type OrderStatus string

const (
	StatusPending        OrderStatus = "PENDING"
	StatusConfirmed      OrderStatus = "CONFIRMED"
	StatusAssigned       OrderStatus = "ASSIGNED"
	StatusInTransit      OrderStatus = "IN_TRANSIT"
	StatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	StatusDelivered      OrderStatus = "DELIVERED"
	StatusCancelled      OrderStatus = "CANCELLED"
	StatusFailed         OrderStatus = "FAILED"
)

// statusRank orders the happy-path states so that webhook updates can be
// checked for forward progress. CANCELLED and FAILED are not part of the
// ladder; they are reachable from any non-terminal state.
var statusRank = map[OrderStatus]int{
	StatusPending:        0,
	StatusConfirmed:      1,
	StatusAssigned:       2,
	StatusInTransit:      3,
	StatusOutForDelivery: 4,
	StatusDelivered:      5,
}

func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is a legal,
// non-regressing transition. Equal-state transitions are allowed so that
// replayed courier updates stay idempotent.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == next {
		return !s.Terminal()
	}

	if s.Terminal() {
		return false
	}

	if next == StatusCancelled || next == StatusFailed {
		return true
	}

	return statusRank[next] > statusRank[s]
}

type PaymentType string

const (
	PaymentTypeOnline PaymentType = "ONLINE"
	PaymentTypeCOD    PaymentType = "COD"
)

type FoodItemRef struct {
	FoodItemID  string   `json:"foodItemId"`
	Name        string   `json:"name"`
	Quantity    int      `json:"quantity"`
	UnitPrice   int64    `json:"unitPrice"`
	Additionals []string `json:"additionals,omitempty"`
}

// Pricing holds the server-side price breakdown. All amounts are integers in
// the smallest currency unit; FinalPayable is always recomputed, never taken
// from the client.
type Pricing struct {
	ItemsTotal   int64 `json:"itemsTotal"`
	DeliveryFee  int64 `json:"deliveryFee"`
	PlatformFee  int64 `json:"platformFee"`
	Tax          int64 `json:"tax"`
	Discount     int64 `json:"discount"`
	PackagingFee int64 `json:"packagingFee"`
	FinalPayable int64 `json:"finalPayable"`
}

type PaymentInfo struct {
	PaymentID *string     `json:"paymentId,omitempty"`
	Type      PaymentType `json:"paymentType"`
}

// CourierRef is the dispatch record issued by the courier aggregator. Status
// keeps the raw courier vocabulary string last applied by reconciliation.
type CourierRef struct {
	ExternalID    string `json:"externalId"`
	SourceOrderID string `json:"sourceOrderId"`
	BillAmount    int64  `json:"billAmount"`
	Status        string `json:"status"`
}

type Delivery struct {
	Pickup     Coordinates `json:"pickup"`
	Dropoff    Coordinates `json:"dropoff"`
	DistanceKm float64     `json:"distanceKm"`
	Courier    *CourierRef `json:"courier,omitempty"`
}

type Feedback struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

type Order struct {
	ID           string            `json:"id"`
	UserID       string            `json:"userId"`
	RestaurantID string            `json:"restaurantId"`
	FoodItems    []FoodItemRef     `json:"foodItems"`
	Pricing      Pricing           `json:"pricing"`
	Payment      PaymentInfo       `json:"payment"`
	Delivery     Delivery          `json:"delivery"`
	Status       OrderStatus       `json:"orderStatus"`
	Feedback     *Feedback         `json:"feedback,omitempty"`
	CreatedAt    utils.RFC3339Date `json:"createdAt"`
	UpdatedAt    utils.RFC3339Date `json:"updatedAt"`
}
