package services

import (
	"math"

	"github.com/quickbites/quickbites-backend/internal/models"
)

const earthRadiusKm = 6371.0

const (
	// Monetary constants are in the smallest currency unit.
	deliveryRatePerKm = 15
	platformFee       = 10
	taxRatePercent    = 5
)

// DistanceKm returns the great-circle distance between two coordinates using
// the haversine formula. Symmetric, zero for identical points.
func DistanceKm(from, to models.Coordinates) float64 {
	lat1 := degreesToRadians(from.Latitude)
	lon1 := degreesToRadians(from.Longitude)
	lat2 := degreesToRadians(to.Latitude)
	lon2 := degreesToRadians(to.Longitude)

	dlat := lat2 - lat1
	dlon := lon2 - lon1
	a := math.Pow(math.Sin(dlat/2), 2) + math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dlon/2), 2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func degreesToRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// CalculatePricing derives the full price breakdown from the resolved food
// items, the computed distance and the restaurant packaging fee. Integer
// arithmetic throughout; tax is rounded half-up.
func CalculatePricing(items []models.FoodItemRef, distanceKm float64, packagingFee int64) models.Pricing {
	var itemsTotal int64
	for _, item := range items {
		itemsTotal += item.UnitPrice * int64(item.Quantity)
	}

	deliveryFee := int64(math.Ceil(distanceKm)) * deliveryRatePerKm
	tax := (itemsTotal*taxRatePercent + 50) / 100

	pricing := models.Pricing{
		ItemsTotal:   itemsTotal,
		DeliveryFee:  deliveryFee,
		PlatformFee:  platformFee,
		Tax:          tax,
		Discount:     0,
		PackagingFee: packagingFee,
	}
	pricing.FinalPayable = pricing.ItemsTotal + pricing.DeliveryFee + pricing.PlatformFee +
		pricing.Tax + pricing.PackagingFee - pricing.Discount

	return pricing
}
