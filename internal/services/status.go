package services

import (
	"github.com/quickbites/quickbites-backend/internal/models"
)

// UnmappedStatusPolicy decides what the webhook flow does with a courier
// status string missing from the translation table.
type UnmappedStatusPolicy string

const (
	// UnmappedStatusIgnore acknowledges the webhook, logs the unknown value
	// and leaves the order untouched.
	UnmappedStatusIgnore UnmappedStatusPolicy = "ignore"
	// UnmappedStatusReject answers the courier with a client error.
	UnmappedStatusReject UnmappedStatusPolicy = "reject"
)

type CourierStatusMapping struct {
	Status      models.OrderStatus
	Description string
}

// courierStatusTable translates the courier aggregator vocabulary (parent
// order statuses plus fulfillment statuses) into the internal state machine.
// Every known courier string maps to exactly one internal status.
var courierStatusTable = map[string]CourierStatusMapping{
	// Parent-level statuses.
	"PENDING":   {models.StatusConfirmed, "Delivery accepted, rider being assigned"},
	"FULFILLED": {models.StatusDelivered, "Delivery fulfilled"},
	"COMPLETED": {models.StatusDelivered, "Delivery completed"},
	"CANCELLED": {models.StatusCancelled, "Delivery cancelled by courier"},

	// Fulfillment-level statuses.
	"CREATED":          {models.StatusConfirmed, "Delivery order created"},
	"OUT_FOR_PICKUP":   {models.StatusAssigned, "Rider is heading to the restaurant"},
	"PICKED_UP":        {models.StatusInTransit, "Rider picked up the order"},
	"IN_TRANSIT":       {models.StatusInTransit, "Order is on the way"},
	"OUT_FOR_DELIVERY": {models.StatusOutForDelivery, "Rider is near the drop location"},
	"DELIVERED":        {models.StatusDelivered, "Order delivered"},
	"UNDELIVERED":      {models.StatusFailed, "Delivery attempt failed"},
	"RTO_INITIATED":    {models.StatusFailed, "Order is being returned to the restaurant"},
	"RTO_DELIVERED":    {models.StatusFailed, "Order returned to the restaurant"},
	"LOST":             {models.StatusFailed, "Shipment lost in transit"},
	"DAMAGED":          {models.StatusFailed, "Shipment damaged in transit"},
}

// NormalizeCourierStatus maps a courier vocabulary string to the internal
// order status. The second return value is false for unrecognized input; the
// caller applies the configured UnmappedStatusPolicy instead of failing.
func NormalizeCourierStatus(raw string) (CourierStatusMapping, bool) {
	mapping, ok := courierStatusTable[raw]
	return mapping, ok
}
