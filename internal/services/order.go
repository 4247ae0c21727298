package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lucsky/cuid"
	"github.com/quickbites/quickbites-backend/internal/database"
	"github.com/quickbites/quickbites-backend/internal/logger"
	"github.com/quickbites/quickbites-backend/internal/models"
	"go.uber.org/zap"
)

var (
	ErrValidation            = errors.New("invalid request")
	ErrRestaurantNotFound    = errors.New("restaurant not found")
	ErrOrderNotFound         = errors.New("order not found")
	ErrPaymentNotFound       = errors.New("payment record not found")
	ErrOrderNotDispatchable  = errors.New("order cannot be dispatched in its current status")
	ErrOrderNotCancellable   = errors.New("order cannot be cancelled in its current status")
	ErrOrderNotDispatched    = errors.New("order has no dispatched delivery")
	ErrOrderNotDelivered     = errors.New("order is not delivered yet")
	ErrUnmappedCourierStatus = errors.New("unrecognized courier status")
)

const paymentCurrency = "INR"

type orderStorage interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	FindOrder(ctx context.Context, orderID string) (*models.Order, error)
	FindOrderByCourierID(ctx context.Context, externalOrderID string) (*models.Order, error)
	FindOrderByPaymentID(ctx context.Context, paymentID string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, from, to models.OrderStatus) (bool, error)
	UpdateDeliveryStatus(ctx context.Context, orderID string, from, to models.OrderStatus, courierStatus string) (bool, error)
	AttachCourier(ctx context.Context, orderID string, ref models.CourierRef) error
	SetFeedback(ctx context.Context, orderID string, feedback models.Feedback) error
	RecordDeliveryEvent(ctx context.Context, event models.DeliveryEvent) error
	DeleteDeliveryEvent(ctx context.Context, event models.DeliveryEvent) error

	CreatePayment(ctx context.Context, payment *models.PaymentRecord) error
	FindPayment(ctx context.Context, paymentID string) (*models.PaymentRecord, error)
	FindPaymentByGatewayOrder(ctx context.Context, gatewayOrderID string) (*models.PaymentRecord, error)
	MarkPaymentPaid(ctx context.Context, paymentID, gatewayPaymentID string, paidAt time.Time) error
	MarkPaymentRefunded(ctx context.Context, paymentID string, refundedAt time.Time) error

	FindFoodItems(ctx context.Context, ids []string) ([]models.FoodItem, error)
	FindRestaurant(ctx context.Context, restaurantID string) (*models.Restaurant, error)
	FindUser(ctx context.Context, userID string) (*models.User, error)
}

type paymentGateway interface {
	CreateIntent(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (string, error)
	VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) bool
	Refund(ctx context.Context, gatewayPaymentID string, amount *int64) error
}

type deliveryProvider interface {
	CreateOrder(ctx context.Context, order DeliveryOrderRequest) (*DeliveryOrderRef, error)
	Cancel(ctx context.Context, externalOrderID string) error
	TrackingStatus(ctx context.Context, externalOrderID string) (*models.TrackingInfo, error)
}

type orderNotifier interface {
	OrderStatusChanged(order *models.Order, description string)
}

// OrderService sequences pricing, payment, persistence, delivery dispatch and
// webhook reconciliation, and owns the partial-failure policy of each flow.
type OrderService struct {
	storage        orderStorage
	gateway        paymentGateway
	courier        deliveryProvider
	notifier       orderNotifier
	unmappedPolicy UnmappedStatusPolicy
}

func NewOrderService(
	storage orderStorage,
	gateway paymentGateway,
	courier deliveryProvider,
	notifier orderNotifier,
	unmappedPolicy UnmappedStatusPolicy,
) *OrderService {
	return &OrderService{
		storage:        storage,
		gateway:        gateway,
		courier:        courier,
		notifier:       notifier,
		unmappedPolicy: unmappedPolicy,
	}
}

type stepPolicy int

const (
	// policyAbort fails the whole flow on a step error.
	policyAbort stepPolicy = iota
	// policyContinue logs the step error and moves on. This is how payment
	// gateway outages are kept from blocking order placement.
	policyContinue
)

type pipelineStep struct {
	name   string
	policy stepPolicy
	run    func(ctx context.Context) error
}

func (os *OrderService) runPipeline(ctx context.Context, orderID string, steps []pipelineStep) error {
	for _, step := range steps {
		err := step.run(ctx)
		if err == nil {
			continue
		}

		if step.policy == policyContinue {
			logger.Log.Warn("pipeline step failed, continuing",
				zap.String("step", step.name),
				zap.String("orderID", orderID),
				zap.Error(err),
			)
			continue
		}

		return fmt.Errorf("%s: %w", step.name, err)
	}

	return nil
}

func validateCreateOrder(req models.CreateOrderRequest) error {
	if req.RestaurantID == "" {
		return fmt.Errorf("%w: restaurant id is required", ErrValidation)
	}

	if len(req.Items) == 0 {
		return fmt.Errorf("%w: order contains no items", ErrValidation)
	}

	for _, item := range req.Items {
		if item.FoodItemID == "" {
			return fmt.Errorf("%w: food item id is required", ErrValidation)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
		}
	}

	if req.PaymentType != models.PaymentTypeOnline && req.PaymentType != models.PaymentTypeCOD {
		return fmt.Errorf("%w: unknown payment type %q", ErrValidation, req.PaymentType)
	}

	return nil
}

// CreateOrder runs the create-order pipeline. A payment gateway failure is
// deliberately non-fatal: the order is persisted without a linked payment and
// stays PENDING until verification catches up.
func (os *OrderService) CreateOrder(ctx context.Context, req models.CreateOrderRequest) (*models.CreateOrderResult, error) {
	if err := validateCreateOrder(req); err != nil {
		return nil, err
	}

	order := models.Order{
		ID:           cuid.New(),
		UserID:       req.UserID,
		RestaurantID: req.RestaurantID,
		Status:       models.StatusPending,
		Payment:      models.PaymentInfo{Type: req.PaymentType},
		Delivery:     models.Delivery{Dropoff: req.Dropoff},
	}

	var (
		restaurant     *models.Restaurant
		gatewayOrderID *string
	)

	steps := []pipelineStep{
		{
			name:   "resolve restaurant",
			policy: policyAbort,
			run: func(ctx context.Context) error {
				found, err := os.storage.FindRestaurant(ctx, req.RestaurantID)
				if err != nil {
					return err
				}
				if found == nil {
					return ErrRestaurantNotFound
				}

				restaurant = found
				order.Delivery.Pickup = restaurant.Location
				return nil
			},
		},
		{
			name:   "resolve food items",
			policy: policyAbort,
			run: func(ctx context.Context) error {
				items, err := os.resolveFoodItems(ctx, req.Items)
				if err != nil {
					return err
				}

				order.FoodItems = items
				return nil
			},
		},
		{
			name:   "compute pricing",
			policy: policyAbort,
			run: func(ctx context.Context) error {
				order.Delivery.DistanceKm = DistanceKm(order.Delivery.Pickup, order.Delivery.Dropoff)
				order.Pricing = CalculatePricing(order.FoodItems, order.Delivery.DistanceKm, restaurant.PackagingFee)
				return nil
			},
		},
		{
			name:   "create payment intent",
			policy: policyContinue,
			run: func(ctx context.Context) error {
				if req.PaymentType == models.PaymentTypeCOD {
					// Nothing to collect up front; the order confirms directly.
					order.Status = models.StatusConfirmed
					return nil
				}

				intentID, err := os.gateway.CreateIntent(ctx, order.Pricing.FinalPayable, paymentCurrency, order.ID, map[string]string{
					"orderId": order.ID,
					"userId":  order.UserID,
				})
				if err != nil {
					return err
				}

				payment := models.PaymentRecord{
					ID:             cuid.New(),
					GatewayOrderID: intentID,
					Status:         models.PaymentStatusCreated,
					Amount:         order.Pricing.FinalPayable,
					Currency:       paymentCurrency,
				}
				if err := os.storage.CreatePayment(ctx, &payment); err != nil {
					return err
				}

				order.Payment.PaymentID = &payment.ID
				order.Status = models.StatusConfirmed
				gatewayOrderID = &intentID
				return nil
			},
		},
		{
			name:   "persist order",
			policy: policyAbort,
			run: func(ctx context.Context) error {
				return os.storage.CreateOrder(ctx, &order)
			},
		},
		{
			name:   "notify",
			policy: policyContinue,
			run: func(ctx context.Context) error {
				os.notifier.OrderStatusChanged(&order, "Order placed")
				return nil
			},
		},
	}

	if err := os.runPipeline(ctx, order.ID, steps); err != nil {
		return nil, err
	}

	return &models.CreateOrderResult{Order: &order, GatewayOrderID: gatewayOrderID}, nil
}

// resolveFoodItems looks up the requested menu items in bulk. A requested id
// missing from the catalog fails the whole order; items are never dropped
// silently.
func (os *OrderService) resolveFoodItems(ctx context.Context, items []models.OrderItemRequest) ([]models.FoodItemRef, error) {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.FoodItemID
	}

	found, err := os.storage.FindFoodItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]models.FoodItem, len(found))
	for _, item := range found {
		byID[item.ID] = item
	}

	result := make([]models.FoodItemRef, len(items))
	for i, requested := range items {
		item, ok := byID[requested.FoodItemID]
		if !ok {
			return nil, fmt.Errorf("%w: unknown food item %s", ErrValidation, requested.FoodItemID)
		}

		result[i] = models.FoodItemRef{
			FoodItemID:  item.ID,
			Name:        item.Name,
			Quantity:    requested.Quantity,
			UnitPrice:   item.Price,
			Additionals: requested.Additionals,
		}
	}

	return result, nil
}

// GetOrder returns the order for its owner; foreign and missing orders are
// indistinguishable to the caller.
func (os *OrderService) GetOrder(ctx context.Context, orderID, userID string) (*models.Order, error) {
	order, err := os.storage.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order == nil || order.UserID != userID {
		return nil, ErrOrderNotFound
	}

	return order, nil
}

// VerifyPayment checks the client-submitted checkout signature. A mismatch is
// a security boundary: the payment stays unlinked and the order is untouched.
func (os *OrderService) VerifyPayment(ctx context.Context, verification models.PaymentVerification) error {
	payment, err := os.storage.FindPaymentByGatewayOrder(ctx, verification.GatewayOrderID)
	if err != nil {
		return err
	}

	if payment == nil {
		return ErrPaymentNotFound
	}

	if !os.gateway.VerifySignature(verification.GatewayOrderID, verification.GatewayPaymentID, verification.Signature) {
		logger.Log.Warn("payment signature mismatch",
			zap.String("gatewayOrderID", verification.GatewayOrderID),
			zap.String("gatewayPaymentID", verification.GatewayPaymentID),
		)
		return ErrSignatureInvalid
	}

	if err := os.storage.MarkPaymentPaid(ctx, payment.ID, verification.GatewayPaymentID, time.Now()); err != nil {
		return err
	}

	os.confirmPaidOrder(ctx, payment.ID)

	return nil
}

// confirmPaidOrder moves a PENDING order to CONFIRMED after its payment is
// verified. Failures here do not undo the payment; they are logged for
// operators.
func (os *OrderService) confirmPaidOrder(ctx context.Context, paymentID string) {
	order, err := os.storage.FindOrderByPaymentID(ctx, paymentID)
	if err != nil || order == nil {
		if err != nil {
			logger.Log.Error("failed to look up order for verified payment",
				zap.String("paymentID", paymentID),
				zap.Error(err),
			)
		}
		return
	}

	if order.Status != models.StatusPending {
		return
	}

	updated, err := os.storage.UpdateOrderStatus(ctx, order.ID, models.StatusPending, models.StatusConfirmed)
	if err != nil {
		logger.Log.Error("failed to confirm paid order",
			zap.String("orderID", order.ID),
			zap.Error(err),
		)
		return
	}

	if updated {
		order.Status = models.StatusConfirmed
		os.notifier.OrderStatusChanged(order, "Payment received, order confirmed")
	}
}

// DispatchDelivery hands a confirmed order to the courier aggregator. The
// call is retried once; after that the flow compensates (refund of a PAID
// payment, order FAILED) and surfaces the provider error.
func (os *OrderService) DispatchDelivery(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := os.storage.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order == nil {
		return nil, ErrOrderNotFound
	}

	if order.Delivery.Courier != nil {
		// Already dispatched; repeated calls are a no-op.
		return order, nil
	}

	if order.Status != models.StatusConfirmed {
		return nil, ErrOrderNotDispatchable
	}

	restaurant, err := os.storage.FindRestaurant(ctx, order.RestaurantID)
	if err != nil {
		return nil, err
	}
	if restaurant == nil {
		return nil, ErrRestaurantNotFound
	}

	user, err := os.storage.FindUser(ctx, order.UserID)
	if err != nil {
		return nil, err
	}

	payload := DeliveryOrderRequest{
		SenderDetail: DeliveryContact{
			Name:     restaurant.Name,
			Address:  restaurant.Address,
			Location: restaurant.Location,
		},
		Trips: []DeliveryTrip{{
			SourceOrderID: order.ID,
			Dropoff:       order.Delivery.Dropoff,
			BillAmount:    order.Pricing.FinalPayable,
		}},
	}
	if user != nil {
		payload.PocDetail = DeliveryContact{
			Name:     user.Name,
			Phone:    user.Phone,
			Location: order.Delivery.Dropoff,
		}
	}

	ref, err := os.courier.CreateOrder(ctx, payload)
	if err != nil && !errors.Is(err, ErrDeliveryAuth) {
		logger.Log.Warn("delivery dispatch failed, retrying once",
			zap.String("orderID", order.ID),
			zap.Error(err),
		)
		ref, err = os.courier.CreateOrder(ctx, payload)
	}
	if err != nil {
		os.compensateDispatchFailure(ctx, order)
		return nil, fmt.Errorf("delivery dispatch: %w", err)
	}

	courier := models.CourierRef{
		ExternalID:    ref.ExternalOrderID,
		SourceOrderID: ref.SourceOrderID,
		BillAmount:    order.Pricing.FinalPayable,
		Status:        "CREATED",
	}
	if err := os.storage.AttachCourier(ctx, order.ID, courier); err != nil {
		return nil, err
	}

	order.Delivery.Courier = &courier

	return order, nil
}

// compensateDispatchFailure is the recovery path for a delivery dispatch that
// failed after payment already succeeded: refund the PAID payment and move
// the order to FAILED. Refund failures are logged at error level so operators
// can step in.
func (os *OrderService) compensateDispatchFailure(ctx context.Context, order *models.Order) {
	if order.Payment.PaymentID != nil {
		payment, err := os.storage.FindPayment(ctx, *order.Payment.PaymentID)
		if err != nil {
			logger.Log.Error("dispatch compensation: failed to load payment, manual refund may be required",
				zap.String("orderID", order.ID),
				zap.String("paymentID", *order.Payment.PaymentID),
				zap.Error(err),
			)
		} else if payment != nil && payment.Status == models.PaymentStatusPaid && payment.GatewayPaymentID != nil {
			if err := os.gateway.Refund(ctx, *payment.GatewayPaymentID, nil); err != nil {
				logger.Log.Error("dispatch compensation: refund failed, manual refund required",
					zap.String("orderID", order.ID),
					zap.String("paymentID", payment.ID),
					zap.Error(err),
				)
			} else if err := os.storage.MarkPaymentRefunded(ctx, payment.ID, time.Now()); err != nil {
				logger.Log.Error("dispatch compensation: failed to record refund",
					zap.String("orderID", order.ID),
					zap.String("paymentID", payment.ID),
					zap.Error(err),
				)
			}
		}
	}

	updated, err := os.storage.UpdateOrderStatus(ctx, order.ID, order.Status, models.StatusFailed)
	if err != nil {
		logger.Log.Error("dispatch compensation: failed to fail order",
			zap.String("orderID", order.ID),
			zap.Error(err),
		)
		return
	}

	if updated {
		order.Status = models.StatusFailed
		os.notifier.OrderStatusChanged(order, "Delivery could not be arranged")
	}
}

// CancelOrder cancels a non-terminal order on behalf of its owner: courier
// cancellation when dispatched, refund when paid, then the status swap.
func (os *OrderService) CancelOrder(ctx context.Context, orderID, userID string) error {
	order, err := os.GetOrder(ctx, orderID, userID)
	if err != nil {
		return err
	}

	if order.Status.Terminal() {
		return ErrOrderNotCancellable
	}

	if order.Delivery.Courier != nil {
		if err := os.courier.Cancel(ctx, order.Delivery.Courier.ExternalID); err != nil {
			return fmt.Errorf("courier cancellation: %w", err)
		}
	}

	if order.Payment.PaymentID != nil {
		payment, err := os.storage.FindPayment(ctx, *order.Payment.PaymentID)
		if err != nil {
			return err
		}
		if payment != nil && payment.Status == models.PaymentStatusPaid && payment.GatewayPaymentID != nil {
			if err := os.gateway.Refund(ctx, *payment.GatewayPaymentID, nil); err != nil {
				return fmt.Errorf("refund: %w", err)
			}
			if err := os.storage.MarkPaymentRefunded(ctx, payment.ID, time.Now()); err != nil {
				return err
			}
		}
	}

	updated, err := os.storage.UpdateOrderStatus(ctx, order.ID, order.Status, models.StatusCancelled)
	if err != nil {
		return err
	}

	if !updated {
		return ErrOrderNotCancellable
	}

	order.Status = models.StatusCancelled
	os.notifier.OrderStatusChanged(order, "Order cancelled")

	return nil
}

// TrackOrder proxies the courier tracking endpoint for a dispatched order.
func (os *OrderService) TrackOrder(ctx context.Context, orderID, userID string) (*models.TrackingInfo, error) {
	order, err := os.GetOrder(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}

	if order.Delivery.Courier == nil {
		return nil, ErrOrderNotDispatched
	}

	return os.courier.TrackingStatus(ctx, order.Delivery.Courier.ExternalID)
}

func (os *OrderService) AddFeedback(ctx context.Context, orderID, userID string, feedback models.Feedback) error {
	if feedback.Rating < 1 || feedback.Rating > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}

	order, err := os.GetOrder(ctx, orderID, userID)
	if err != nil {
		return err
	}

	if order.Status != models.StatusDelivered {
		return ErrOrderNotDelivered
	}

	return os.storage.SetFeedback(ctx, orderID, feedback)
}

// ReconcileDeliveryEvent applies a courier webhook to the order state
// machine. Deduplication happens before any side effect; a payload without a
// timestamp keeps the zero sentinel, so identical replays collapse onto the
// same (externalOrderId, rawStatus) key no matter when they arrive.
// Regressions of a terminal state and replayed updates degrade to logged
// no-ops.
func (os *OrderService) ReconcileDeliveryEvent(ctx context.Context, event models.DeliveryEvent) error {
	if err := os.storage.RecordDeliveryEvent(ctx, event); err != nil {
		if errors.Is(err, database.ErrDuplicateWebhookEvent) {
			logger.Log.Info("duplicate courier webhook ignored",
				zap.String("externalOrderID", event.ExternalOrderID),
				zap.String("rawStatus", event.Status),
			)
			return nil
		}
		return err
	}

	if err := os.applyDeliveryEvent(ctx, event); err != nil {
		// Release the idempotency key, otherwise the courier's retry of this
		// payload would be swallowed as a duplicate while the status update
		// never landed.
		if delErr := os.storage.DeleteDeliveryEvent(ctx, event); delErr != nil {
			logger.Log.Error("failed to release webhook event after reconciliation error",
				zap.String("externalOrderID", event.ExternalOrderID),
				zap.String("rawStatus", event.Status),
				zap.Error(delErr),
			)
		}
		return err
	}

	return nil
}

func (os *OrderService) applyDeliveryEvent(ctx context.Context, event models.DeliveryEvent) error {
	order, err := os.storage.FindOrderByCourierID(ctx, event.ExternalOrderID)
	if err != nil {
		return err
	}

	if order == nil {
		return ErrOrderNotFound
	}

	mapping, ok := NormalizeCourierStatus(event.Status)
	if !ok {
		logger.Log.Warn("unmapped courier status",
			zap.String("orderID", order.ID),
			zap.String("externalOrderID", event.ExternalOrderID),
			zap.String("rawStatus", event.Status),
		)

		if os.unmappedPolicy == UnmappedStatusReject {
			return fmt.Errorf("%w: %s", ErrUnmappedCourierStatus, event.Status)
		}

		return nil
	}

	if !order.Status.CanTransitionTo(mapping.Status) {
		logger.Log.Info("ignoring non-progressing courier update",
			zap.String("orderID", order.ID),
			zap.String("currentStatus", string(order.Status)),
			zap.String("rawStatus", event.Status),
		)
		return nil
	}

	updated, err := os.storage.UpdateDeliveryStatus(ctx, order.ID, order.Status, mapping.Status, event.Status)
	if err != nil {
		return err
	}

	if !updated {
		// Lost the CAS race; re-read and try once more against the fresh state.
		order, err = os.storage.FindOrderByCourierID(ctx, event.ExternalOrderID)
		if err != nil || order == nil {
			return err
		}

		if !order.Status.CanTransitionTo(mapping.Status) {
			return nil
		}

		updated, err = os.storage.UpdateDeliveryStatus(ctx, order.ID, order.Status, mapping.Status, event.Status)
		if err != nil {
			return err
		}

		if !updated {
			logger.Log.Warn("delivery status update lost two races, giving up",
				zap.String("orderID", order.ID),
				zap.String("rawStatus", event.Status),
			)
			return nil
		}
	}

	order.Status = mapping.Status
	if order.Delivery.Courier != nil {
		order.Delivery.Courier.Status = event.Status
	}

	os.notifier.OrderStatusChanged(order, mapping.Description)

	return nil
}
