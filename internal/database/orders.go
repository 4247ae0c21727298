package database

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/quickbites/quickbites-backend/internal/models"
	"github.com/quickbites/quickbites-backend/internal/utils"
)

var (
	ErrDuplicateOrder = errors.New("order already exists")
)

const (
	InsertOrderQuery = `
		INSERT INTO
			orders (
				id, user_id, restaurant_id, order_status, food_items,
				items_total, delivery_fee, platform_fee, tax, discount, packaging_fee, final_payable,
				payment_id, payment_type,
				pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, distance_km
			)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	selectOrderColumns = `
		SELECT
			id,
			user_id,
			restaurant_id,
			order_status,
			food_items,
			items_total,
			delivery_fee,
			platform_fee,
			tax,
			discount,
			packaging_fee,
			final_payable,
			payment_id,
			payment_type,
			pickup_lat,
			pickup_lon,
			dropoff_lat,
			dropoff_lon,
			distance_km,
			courier_external_id,
			courier_source_order_id,
			courier_bill_amount,
			courier_status,
			feedback,
			created_at,
			updated_at
		FROM
			orders
	`
	SelectOrderQuery          = selectOrderColumns + ` WHERE id = $1`
	SelectOrderByCourierQuery = selectOrderColumns + ` WHERE courier_external_id = $1`
	SelectOrderByPaymentQuery = selectOrderColumns + ` WHERE payment_id = $1`
	UpdateOrderStatusQuery    = `
		UPDATE
			orders
		SET
			order_status = $3,
			updated_at = now()
		WHERE
			id = $1 AND order_status = $2
	`
	UpdateDeliveryStatusQuery = `
		UPDATE
			orders
		SET
			order_status = $3,
			courier_status = $4,
			updated_at = now()
		WHERE
			id = $1 AND order_status = $2
	`
	AttachCourierQuery = `
		UPDATE
			orders
		SET
			courier_external_id = $2,
			courier_source_order_id = $3,
			courier_bill_amount = $4,
			courier_status = $5,
			updated_at = now()
		WHERE
			id = $1
	`
	SetFeedbackQuery = `
		UPDATE
			orders
		SET
			feedback = $2,
			updated_at = now()
		WHERE
			id = $1
	`
)

// OrderStatusDB adapts the models enum to the database text column.
type OrderStatusDB struct {
	models.OrderStatus
}

func (s *OrderStatusDB) Scan(value interface{}) error {
	strVal, ok := value.(string)
	if !ok {
		return fmt.Errorf("order status must be a string, got %T", value)
	}

	*s = OrderStatusDB{models.OrderStatus(strVal)}
	return nil
}

func (s OrderStatusDB) Value() (driver.Value, error) {
	return string(s.OrderStatus), nil
}

// CreateOrder persists the full order aggregate. The courier reference is
// never present at creation time; it is attached by delivery dispatch.
func (d *Database) CreateOrder(ctx context.Context, order *models.Order) error {
	foodItems, err := json.Marshal(order.FoodItems)
	if err != nil {
		return fmt.Errorf("failed to marshal food items: %w", err)
	}

	_, err = d.db.Exec(ctx, InsertOrderQuery,
		order.ID, order.UserID, order.RestaurantID, OrderStatusDB{order.Status}, foodItems,
		order.Pricing.ItemsTotal, order.Pricing.DeliveryFee, order.Pricing.PlatformFee,
		order.Pricing.Tax, order.Pricing.Discount, order.Pricing.PackagingFee, order.Pricing.FinalPayable,
		order.Payment.PaymentID, string(order.Payment.Type),
		order.Delivery.Pickup.Latitude, order.Delivery.Pickup.Longitude,
		order.Delivery.Dropoff.Latitude, order.Delivery.Dropoff.Longitude,
		order.Delivery.DistanceKm,
	)
	if err != nil {
		var e *pgconn.PgError
		if errors.As(err, &e) && e.Code == pgerrcode.UniqueViolation {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("failed to create order: %w", err)
	}

	return nil
}

func (d *Database) scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		order         models.Order
		status        OrderStatusDB
		foodItems     []byte
		paymentType   string
		externalID    *string
		sourceOrderID *string
		billAmount    *int64
		courierStatus *string
		feedback      []byte
		createdAt     time.Time
		updatedAt     time.Time
	)

	err := row.Scan(
		&order.ID, &order.UserID, &order.RestaurantID, &status, &foodItems,
		&order.Pricing.ItemsTotal, &order.Pricing.DeliveryFee, &order.Pricing.PlatformFee,
		&order.Pricing.Tax, &order.Pricing.Discount, &order.Pricing.PackagingFee, &order.Pricing.FinalPayable,
		&order.Payment.PaymentID, &paymentType,
		&order.Delivery.Pickup.Latitude, &order.Delivery.Pickup.Longitude,
		&order.Delivery.Dropoff.Latitude, &order.Delivery.Dropoff.Longitude,
		&order.Delivery.DistanceKm,
		&externalID, &sourceOrderID, &billAmount, &courierStatus,
		&feedback, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find order: %w", err)
	}

	order.Status = status.OrderStatus
	order.Payment.Type = models.PaymentType(paymentType)
	order.CreatedAt = utils.RFC3339Date{Time: createdAt}
	order.UpdatedAt = utils.RFC3339Date{Time: updatedAt}

	if err := json.Unmarshal(foodItems, &order.FoodItems); err != nil {
		return nil, fmt.Errorf("failed to unmarshal food items: %w", err)
	}

	if externalID != nil {
		ref := models.CourierRef{ExternalID: *externalID}
		if sourceOrderID != nil {
			ref.SourceOrderID = *sourceOrderID
		}
		if billAmount != nil {
			ref.BillAmount = *billAmount
		}
		if courierStatus != nil {
			ref.Status = *courierStatus
		}
		order.Delivery.Courier = &ref
	}

	if feedback != nil {
		var fb models.Feedback
		if err := json.Unmarshal(feedback, &fb); err != nil {
			return nil, fmt.Errorf("failed to unmarshal feedback: %w", err)
		}
		order.Feedback = &fb
	}

	return &order, nil
}

// FindOrder returns nil without an error when the order does not exist.
func (d *Database) FindOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return d.scanOrder(d.db.QueryRow(ctx, SelectOrderQuery, orderID))
}

func (d *Database) FindOrderByCourierID(ctx context.Context, externalOrderID string) (*models.Order, error) {
	return d.scanOrder(d.db.QueryRow(ctx, SelectOrderByCourierQuery, externalOrderID))
}

func (d *Database) FindOrderByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	return d.scanOrder(d.db.QueryRow(ctx, SelectOrderByPaymentQuery, paymentID))
}

// UpdateOrderStatus performs a compare-and-swap on the status column so that
// a concurrent webhook and an orchestrator flow cannot overwrite each other.
// It reports whether the row was updated.
func (d *Database) UpdateOrderStatus(ctx context.Context, orderID string, from, to models.OrderStatus) (bool, error) {
	tag, err := d.db.Exec(ctx, UpdateOrderStatusQuery, orderID, OrderStatusDB{from}, OrderStatusDB{to})
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// UpdateDeliveryStatus applies a reconciled webhook update: both the internal
// status and the raw courier status, guarded by the same CAS.
func (d *Database) UpdateDeliveryStatus(ctx context.Context, orderID string, from, to models.OrderStatus, courierStatus string) (bool, error) {
	tag, err := d.db.Exec(ctx, UpdateDeliveryStatusQuery, orderID, OrderStatusDB{from}, OrderStatusDB{to}, courierStatus)
	if err != nil {
		return false, fmt.Errorf("failed to update delivery status: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// AttachCourier stores the dispatch record issued by the courier aggregator.
func (d *Database) AttachCourier(ctx context.Context, orderID string, ref models.CourierRef) error {
	_, err := d.db.Exec(ctx, AttachCourierQuery,
		orderID, ref.ExternalID, ref.SourceOrderID, ref.BillAmount, ref.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to attach courier reference: %w", err)
	}

	return nil
}

func (d *Database) SetFeedback(ctx context.Context, orderID string, feedback models.Feedback) error {
	data, err := json.Marshal(feedback)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback: %w", err)
	}

	_, err = d.db.Exec(ctx, SetFeedbackQuery, orderID, data)
	if err != nil {
		return fmt.Errorf("failed to set feedback: %w", err)
	}

	return nil
}
