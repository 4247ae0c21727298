package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/quickbites/quickbites-backend/internal/database"
	"github.com/quickbites/quickbites-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStorage is an in-memory orderStorage with the same CAS semantics as the
// postgres implementation.
type fakeStorage struct {
	restaurants map[string]*models.Restaurant
	foodItems   map[string]models.FoodItem
	users       map[string]*models.User
	orders      map[string]*models.Order
	payments    map[string]*models.PaymentRecord
	events      map[string]struct{}

	createPaymentErr error
	findByCourierErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		restaurants: make(map[string]*models.Restaurant),
		foodItems:   make(map[string]models.FoodItem),
		users:       make(map[string]*models.User),
		orders:      make(map[string]*models.Order),
		payments:    make(map[string]*models.PaymentRecord),
		events:      make(map[string]struct{}),
	}
}

func cloneOrder(order *models.Order) *models.Order {
	clone := *order
	if order.Delivery.Courier != nil {
		courier := *order.Delivery.Courier
		clone.Delivery.Courier = &courier
	}
	return &clone
}

func (fs *fakeStorage) CreateOrder(_ context.Context, order *models.Order) error {
	fs.orders[order.ID] = cloneOrder(order)
	return nil
}

func (fs *fakeStorage) FindOrder(_ context.Context, orderID string) (*models.Order, error) {
	order, ok := fs.orders[orderID]
	if !ok {
		return nil, nil
	}
	return cloneOrder(order), nil
}

func (fs *fakeStorage) FindOrderByCourierID(_ context.Context, externalOrderID string) (*models.Order, error) {
	if fs.findByCourierErr != nil {
		err := fs.findByCourierErr
		fs.findByCourierErr = nil
		return nil, err
	}
	for _, order := range fs.orders {
		if order.Delivery.Courier != nil && order.Delivery.Courier.ExternalID == externalOrderID {
			return cloneOrder(order), nil
		}
	}
	return nil, nil
}

func (fs *fakeStorage) FindOrderByPaymentID(_ context.Context, paymentID string) (*models.Order, error) {
	for _, order := range fs.orders {
		if order.Payment.PaymentID != nil && *order.Payment.PaymentID == paymentID {
			return cloneOrder(order), nil
		}
	}
	return nil, nil
}

func (fs *fakeStorage) UpdateOrderStatus(_ context.Context, orderID string, from, to models.OrderStatus) (bool, error) {
	order, ok := fs.orders[orderID]
	if !ok || order.Status != from {
		return false, nil
	}
	order.Status = to
	return true, nil
}

func (fs *fakeStorage) UpdateDeliveryStatus(_ context.Context, orderID string, from, to models.OrderStatus, courierStatus string) (bool, error) {
	order, ok := fs.orders[orderID]
	if !ok || order.Status != from {
		return false, nil
	}
	order.Status = to
	if order.Delivery.Courier != nil {
		order.Delivery.Courier.Status = courierStatus
	}
	return true, nil
}

func (fs *fakeStorage) AttachCourier(_ context.Context, orderID string, ref models.CourierRef) error {
	order, ok := fs.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	order.Delivery.Courier = &ref
	return nil
}

func (fs *fakeStorage) SetFeedback(_ context.Context, orderID string, feedback models.Feedback) error {
	order, ok := fs.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	order.Feedback = &feedback
	return nil
}

func eventKey(event models.DeliveryEvent) string {
	return event.ExternalOrderID + "|" + event.Status + "|" + event.Timestamp.UTC().Format(time.RFC3339)
}

func (fs *fakeStorage) RecordDeliveryEvent(_ context.Context, event models.DeliveryEvent) error {
	if _, ok := fs.events[eventKey(event)]; ok {
		return database.ErrDuplicateWebhookEvent
	}
	fs.events[eventKey(event)] = struct{}{}
	return nil
}

func (fs *fakeStorage) DeleteDeliveryEvent(_ context.Context, event models.DeliveryEvent) error {
	delete(fs.events, eventKey(event))
	return nil
}

func (fs *fakeStorage) CreatePayment(_ context.Context, payment *models.PaymentRecord) error {
	if fs.createPaymentErr != nil {
		return fs.createPaymentErr
	}
	clone := *payment
	fs.payments[payment.ID] = &clone
	return nil
}

func (fs *fakeStorage) FindPayment(_ context.Context, paymentID string) (*models.PaymentRecord, error) {
	payment, ok := fs.payments[paymentID]
	if !ok {
		return nil, nil
	}
	return payment, nil
}

func (fs *fakeStorage) FindPaymentByGatewayOrder(_ context.Context, gatewayOrderID string) (*models.PaymentRecord, error) {
	for _, payment := range fs.payments {
		if payment.GatewayOrderID == gatewayOrderID {
			return payment, nil
		}
	}
	return nil, nil
}

func (fs *fakeStorage) MarkPaymentPaid(_ context.Context, paymentID, gatewayPaymentID string, paidAt time.Time) error {
	payment, ok := fs.payments[paymentID]
	if !ok {
		return fmt.Errorf("payment %s not found", paymentID)
	}
	payment.Status = models.PaymentStatusPaid
	payment.GatewayPaymentID = &gatewayPaymentID
	payment.PaidAt = &paidAt
	return nil
}

func (fs *fakeStorage) MarkPaymentRefunded(_ context.Context, paymentID string, refundedAt time.Time) error {
	payment, ok := fs.payments[paymentID]
	if !ok {
		return fmt.Errorf("payment %s not found", paymentID)
	}
	payment.Status = models.PaymentStatusRefund
	payment.RefundedAt = &refundedAt
	return nil
}

func (fs *fakeStorage) FindFoodItems(_ context.Context, ids []string) ([]models.FoodItem, error) {
	var found []models.FoodItem
	for _, id := range ids {
		if item, ok := fs.foodItems[id]; ok {
			found = append(found, item)
		}
	}
	return found, nil
}

func (fs *fakeStorage) FindRestaurant(_ context.Context, restaurantID string) (*models.Restaurant, error) {
	return fs.restaurants[restaurantID], nil
}

func (fs *fakeStorage) FindUser(_ context.Context, userID string) (*models.User, error) {
	return fs.users[userID], nil
}

type fakeGateway struct {
	intentErr error
	intents   int
	verifyOK  bool
	refunds   []string
	refundErr error
}

func (fg *fakeGateway) CreateIntent(_ context.Context, _ int64, _, receipt string, _ map[string]string) (string, error) {
	if fg.intentErr != nil {
		return "", fg.intentErr
	}
	fg.intents++
	return "gw_" + receipt, nil
}

func (fg *fakeGateway) VerifySignature(_, _, _ string) bool {
	return fg.verifyOK
}

func (fg *fakeGateway) Refund(_ context.Context, gatewayPaymentID string, _ *int64) error {
	if fg.refundErr != nil {
		return fg.refundErr
	}
	fg.refunds = append(fg.refunds, gatewayPaymentID)
	return nil
}

type fakeCourier struct {
	failures  int
	authFail  bool
	calls     int
	cancelled []string
	tracking  *models.TrackingInfo
}

func (fc *fakeCourier) CreateOrder(_ context.Context, order DeliveryOrderRequest) (*DeliveryOrderRef, error) {
	fc.calls++
	if fc.authFail {
		return nil, ErrDeliveryAuth
	}
	if fc.calls <= fc.failures {
		return nil, ErrDeliveryProvider
	}
	return &DeliveryOrderRef{
		SourceOrderID:   order.Trips[0].SourceOrderID,
		ExternalOrderID: "ext-100",
	}, nil
}

func (fc *fakeCourier) Cancel(_ context.Context, externalOrderID string) error {
	fc.cancelled = append(fc.cancelled, externalOrderID)
	return nil
}

func (fc *fakeCourier) TrackingStatus(_ context.Context, _ string) (*models.TrackingInfo, error) {
	return fc.tracking, nil
}

type notification struct {
	status      models.OrderStatus
	description string
}

type fakeNotifier struct {
	sent []notification
}

func (fn *fakeNotifier) OrderStatusChanged(order *models.Order, description string) {
	fn.sent = append(fn.sent, notification{status: order.Status, description: description})
}

func newOrderFixture() (*OrderService, *fakeStorage, *fakeGateway, *fakeCourier, *fakeNotifier) {
	storage := newFakeStorage()
	storage.restaurants["rest-1"] = &models.Restaurant{
		ID:           "rest-1",
		Name:         "Pizza Palace",
		Address:      "12 MG Road",
		Location:     models.Coordinates{Latitude: 12.9716, Longitude: 77.5946},
		PackagingFee: 20,
	}
	storage.foodItems["item-1"] = models.FoodItem{ID: "item-1", Name: "Margherita", Price: 100}
	storage.foodItems["item-2"] = models.FoodItem{ID: "item-2", Name: "Farmhouse", Price: 250}
	storage.users["user-1"] = &models.User{ID: "user-1", Name: "Asha", Phone: "9999999999", PushTokens: []string{"tok"}}

	gateway := &fakeGateway{verifyOK: true}
	courier := &fakeCourier{}
	notifier := &fakeNotifier{}

	return NewOrderService(storage, gateway, courier, notifier, UnmappedStatusIgnore), storage, gateway, courier, notifier
}

func onlineOrderRequest() models.CreateOrderRequest {
	return models.CreateOrderRequest{
		UserID:       "user-1",
		RestaurantID: "rest-1",
		Items:        []models.OrderItemRequest{{FoodItemID: "item-1", Quantity: 2}},
		PaymentType:  models.PaymentTypeOnline,
		Dropoff:      models.Coordinates{Latitude: 12.9352, Longitude: 77.6146},
	}
}

func TestOrderServiceCreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("Should place an online order with a payment intent", func(t *testing.T) {
		orderService, storage, gateway, _, notifier := newOrderFixture()

		result, err := orderService.CreateOrder(ctx, onlineOrderRequest())

		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, result.Order.Status)
		require.NotNil(t, result.GatewayOrderID)
		assert.Equal(t, "gw_"+result.Order.ID, *result.GatewayOrderID)
		assert.Equal(t, 1, gateway.intents)

		require.NotNil(t, result.Order.Payment.PaymentID)
		payment := storage.payments[*result.Order.Payment.PaymentID]
		require.NotNil(t, payment)
		assert.Equal(t, models.PaymentStatusCreated, payment.Status)
		assert.Equal(t, result.Order.Pricing.FinalPayable, payment.Amount)

		assert.Contains(t, storage.orders, result.Order.ID)
		require.Len(t, notifier.sent, 1)
		assert.Equal(t, "Order placed", notifier.sent[0].description)
	})

	t.Run("Should price the order server-side", func(t *testing.T) {
		orderService, _, _, _, _ := newOrderFixture()

		result, err := orderService.CreateOrder(ctx, onlineOrderRequest())

		require.NoError(t, err)
		pricing := result.Order.Pricing
		assert.Equal(t, int64(200), pricing.ItemsTotal)
		assert.Equal(t, int64(75), pricing.DeliveryFee)
		assert.Equal(t, int64(20), pricing.PackagingFee)
		assert.Equal(t, int64(10), pricing.PlatformFee)
		assert.Equal(t, int64(10), pricing.Tax)
		assert.Equal(t, int64(315), pricing.FinalPayable)
	})

	t.Run("Should confirm COD orders without touching the gateway", func(t *testing.T) {
		orderService, _, gateway, _, _ := newOrderFixture()

		req := onlineOrderRequest()
		req.PaymentType = models.PaymentTypeCOD

		result, err := orderService.CreateOrder(ctx, req)

		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, result.Order.Status)
		assert.Nil(t, result.Order.Payment.PaymentID)
		assert.Nil(t, result.GatewayOrderID)
		assert.Zero(t, gateway.intents)
	})

	t.Run("Should keep the order PENDING when the gateway is down", func(t *testing.T) {
		orderService, storage, gateway, _, _ := newOrderFixture()
		gateway.intentErr = ErrPaymentGateway

		result, err := orderService.CreateOrder(ctx, onlineOrderRequest())

		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, result.Order.Status)
		assert.Nil(t, result.Order.Payment.PaymentID)
		assert.Nil(t, result.GatewayOrderID)
		assert.Contains(t, storage.orders, result.Order.ID)
	})

	t.Run("Should reject an unknown restaurant", func(t *testing.T) {
		orderService, _, _, _, _ := newOrderFixture()

		req := onlineOrderRequest()
		req.RestaurantID = "rest-404"

		_, err := orderService.CreateOrder(ctx, req)

		assert.ErrorIs(t, err, ErrRestaurantNotFound)
	})

	t.Run("Should reject an unknown food item instead of dropping it", func(t *testing.T) {
		orderService, _, _, _, _ := newOrderFixture()

		req := onlineOrderRequest()
		req.Items = append(req.Items, models.OrderItemRequest{FoodItemID: "item-404", Quantity: 1})

		_, err := orderService.CreateOrder(ctx, req)

		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("Should validate the request", func(t *testing.T) {
		testCases := []struct {
			name   string
			mutate func(req *models.CreateOrderRequest)
		}{
			{"missing restaurant", func(req *models.CreateOrderRequest) { req.RestaurantID = "" }},
			{"no items", func(req *models.CreateOrderRequest) { req.Items = nil }},
			{"zero quantity", func(req *models.CreateOrderRequest) { req.Items[0].Quantity = 0 }},
			{"unknown payment type", func(req *models.CreateOrderRequest) { req.PaymentType = "CRYPTO" }},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				orderService, _, _, _, _ := newOrderFixture()

				req := onlineOrderRequest()
				tc.mutate(&req)

				_, err := orderService.CreateOrder(ctx, req)

				assert.ErrorIs(t, err, ErrValidation)
			})
		}
	})
}

func TestOrderServiceVerifyPayment(t *testing.T) {
	ctx := context.Background()

	placePendingOrder := func(t *testing.T, orderService *OrderService, storage *fakeStorage) (*models.Order, *models.PaymentRecord) {
		t.Helper()

		result, err := orderService.CreateOrder(ctx, onlineOrderRequest())
		require.NoError(t, err)

		// Simulate an order that was placed but not yet paid.
		storage.orders[result.Order.ID].Status = models.StatusPending

		return result.Order, storage.payments[*result.Order.Payment.PaymentID]
	}

	t.Run("Should mark the payment paid and confirm the order", func(t *testing.T) {
		orderService, storage, _, _, notifier := newOrderFixture()
		order, payment := placePendingOrder(t, orderService, storage)
		notifier.sent = nil

		err := orderService.VerifyPayment(ctx, models.PaymentVerification{
			GatewayOrderID:   payment.GatewayOrderID,
			GatewayPaymentID: "pay_P1",
			Signature:        "valid",
		})

		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusPaid, payment.Status)
		require.NotNil(t, payment.GatewayPaymentID)
		assert.Equal(t, "pay_P1", *payment.GatewayPaymentID)
		assert.Equal(t, models.StatusConfirmed, storage.orders[order.ID].Status)
		require.Len(t, notifier.sent, 1)
		assert.Equal(t, models.StatusConfirmed, notifier.sent[0].status)
	})

	t.Run("Should leave everything untouched on a signature mismatch", func(t *testing.T) {
		orderService, storage, gateway, _, notifier := newOrderFixture()
		order, payment := placePendingOrder(t, orderService, storage)
		notifier.sent = nil
		gateway.verifyOK = false

		err := orderService.VerifyPayment(ctx, models.PaymentVerification{
			GatewayOrderID:   payment.GatewayOrderID,
			GatewayPaymentID: "pay_P1",
			Signature:        "forged",
		})

		assert.ErrorIs(t, err, ErrSignatureInvalid)
		assert.Equal(t, models.PaymentStatusCreated, payment.Status)
		assert.Equal(t, models.StatusPending, storage.orders[order.ID].Status)
		assert.Empty(t, notifier.sent)
	})

	t.Run("Should reject an unknown gateway order", func(t *testing.T) {
		orderService, _, _, _, _ := newOrderFixture()

		err := orderService.VerifyPayment(ctx, models.PaymentVerification{
			GatewayOrderID:   "gw_unknown",
			GatewayPaymentID: "pay_P1",
			Signature:        "valid",
		})

		assert.ErrorIs(t, err, ErrPaymentNotFound)
	})
}

func TestOrderServiceDispatchDelivery(t *testing.T) {
	ctx := context.Background()

	placeConfirmedOrder := func(t *testing.T, orderService *OrderService) *models.Order {
		t.Helper()

		result, err := orderService.CreateOrder(ctx, onlineOrderRequest())
		require.NoError(t, err)
		require.Equal(t, models.StatusConfirmed, result.Order.Status)

		return result.Order
	}

	t.Run("Should attach the courier reference on success", func(t *testing.T) {
		orderService, storage, _, courier, _ := newOrderFixture()
		order := placeConfirmedOrder(t, orderService)

		dispatched, err := orderService.DispatchDelivery(ctx, order.ID)

		require.NoError(t, err)
		require.NotNil(t, dispatched.Delivery.Courier)
		assert.Equal(t, "ext-100", dispatched.Delivery.Courier.ExternalID)
		assert.Equal(t, order.ID, dispatched.Delivery.Courier.SourceOrderID)
		assert.Equal(t, "CREATED", dispatched.Delivery.Courier.Status)
		assert.Equal(t, order.Pricing.FinalPayable, dispatched.Delivery.Courier.BillAmount)
		assert.NotNil(t, storage.orders[order.ID].Delivery.Courier)
		assert.Equal(t, 1, courier.calls)
	})

	t.Run("Should be idempotent once dispatched", func(t *testing.T) {
		orderService, _, _, courier, _ := newOrderFixture()
		order := placeConfirmedOrder(t, orderService)

		_, err := orderService.DispatchDelivery(ctx, order.ID)
		require.NoError(t, err)

		again, err := orderService.DispatchDelivery(ctx, order.ID)

		require.NoError(t, err)
		assert.Equal(t, "ext-100", again.Delivery.Courier.ExternalID)
		assert.Equal(t, 1, courier.calls)
	})

	t.Run("Should retry a transient courier failure once", func(t *testing.T) {
		orderService, _, _, courier, _ := newOrderFixture()
		courier.failures = 1
		order := placeConfirmedOrder(t, orderService)

		dispatched, err := orderService.DispatchDelivery(ctx, order.ID)

		require.NoError(t, err)
		assert.NotNil(t, dispatched.Delivery.Courier)
		assert.Equal(t, 2, courier.calls)
	})

	t.Run("Should refund and fail the order when dispatch keeps failing", func(t *testing.T) {
		orderService, storage, gateway, courier, notifier := newOrderFixture()
		courier.failures = 2
		order := placeConfirmedOrder(t, orderService)

		payment := storage.payments[*order.Payment.PaymentID]
		require.NoError(t, storage.MarkPaymentPaid(ctx, payment.ID, "pay_P1", time.Now()))
		notifier.sent = nil

		_, err := orderService.DispatchDelivery(ctx, order.ID)

		assert.ErrorIs(t, err, ErrDeliveryProvider)
		assert.Equal(t, 2, courier.calls)
		assert.Equal(t, []string{"pay_P1"}, gateway.refunds)
		assert.Equal(t, models.PaymentStatusRefund, payment.Status)
		assert.Equal(t, models.StatusFailed, storage.orders[order.ID].Status)
		require.Len(t, notifier.sent, 1)
		assert.Equal(t, models.StatusFailed, notifier.sent[0].status)
	})

	t.Run("Should not retry an authentication failure", func(t *testing.T) {
		orderService, storage, _, courier, _ := newOrderFixture()
		courier.authFail = true
		order := placeConfirmedOrder(t, orderService)

		_, err := orderService.DispatchDelivery(ctx, order.ID)

		assert.ErrorIs(t, err, ErrDeliveryAuth)
		assert.Equal(t, 1, courier.calls)
		assert.Equal(t, models.StatusFailed, storage.orders[order.ID].Status)
	})

	t.Run("Should reject dispatch of a pending order", func(t *testing.T) {
		orderService, storage, _, _, _ := newOrderFixture()
		order := placeConfirmedOrder(t, orderService)
		storage.orders[order.ID].Status = models.StatusPending

		_, err := orderService.DispatchDelivery(ctx, order.ID)

		assert.ErrorIs(t, err, ErrOrderNotDispatchable)
	})

	t.Run("Should reject an unknown order", func(t *testing.T) {
		orderService, _, _, _, _ := newOrderFixture()

		_, err := orderService.DispatchDelivery(ctx, "ord-404")

		assert.ErrorIs(t, err, ErrOrderNotFound)
	})
}

func TestOrderServiceCancelOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("Should cancel the courier, refund and swap the status", func(t *testing.T) {
		orderService, storage, gateway, courier, notifier := newOrderFixture()

		result, err := orderService.CreateOrder(ctx, onlineOrderRequest())
		require.NoError(t, err)
		order := result.Order

		payment := storage.payments[*order.Payment.PaymentID]
		require.NoError(t, storage.MarkPaymentPaid(ctx, payment.ID, "pay_P1", time.Now()))

		_, err = orderService.DispatchDelivery(ctx, order.ID)
		require.NoError(t, err)
		notifier.sent = nil

		require.NoError(t, orderService.CancelOrder(ctx, order.ID, "user-1"))

		assert.Equal(t, []string{"ext-100"}, courier.cancelled)
		assert.Equal(t, []string{"pay_P1"}, gateway.refunds)
		assert.Equal(t, models.PaymentStatusRefund, payment.Status)
		assert.Equal(t, models.StatusCancelled, storage.orders[order.ID].Status)
		require.Len(t, notifier.sent, 1)
		assert.Equal(t, models.StatusCancelled, notifier.sent[0].status)
	})

	t.Run("Should refuse to cancel a delivered order", func(t *testing.T) {
		orderService, storage, _, _, _ := newOrderFixture()

		result, err := orderService.CreateOrder(ctx, onlineOrderRequest())
		require.NoError(t, err)
		storage.orders[result.Order.ID].Status = models.StatusDelivered

		assert.ErrorIs(t, orderService.CancelOrder(ctx, result.Order.ID, "user-1"), ErrOrderNotCancellable)
	})

	t.Run("Should hide foreign orders", func(t *testing.T) {
		orderService, _, _, _, _ := newOrderFixture()

		result, err := orderService.CreateOrder(ctx, onlineOrderRequest())
		require.NoError(t, err)

		assert.ErrorIs(t, orderService.CancelOrder(ctx, result.Order.ID, "user-2"), ErrOrderNotFound)
	})
}

func TestOrderServiceTrackOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("Should proxy the courier tracking status", func(t *testing.T) {
		orderService, _, _, courier, _ := newOrderFixture()
		courier.tracking = &models.TrackingInfo{Status: "IN_TRANSIT"}

		result, err := orderService.CreateOrder(ctx, onlineOrderRequest())
		require.NoError(t, err)
		_, err = orderService.DispatchDelivery(ctx, result.Order.ID)
		require.NoError(t, err)

		tracking, err := orderService.TrackOrder(ctx, result.Order.ID, "user-1")

		require.NoError(t, err)
		assert.Equal(t, "IN_TRANSIT", tracking.Status)
	})

	t.Run("Should reject tracking before dispatch", func(t *testing.T) {
		orderService, _, _, _, _ := newOrderFixture()

		result, err := orderService.CreateOrder(ctx, onlineOrderRequest())
		require.NoError(t, err)

		_, err = orderService.TrackOrder(ctx, result.Order.ID, "user-1")

		assert.ErrorIs(t, err, ErrOrderNotDispatched)
	})
}

func TestOrderServiceAddFeedback(t *testing.T) {
	ctx := context.Background()

	t.Run("Should store feedback for a delivered order", func(t *testing.T) {
		orderService, storage, _, _, _ := newOrderFixture()

		result, err := orderService.CreateOrder(ctx, onlineOrderRequest())
		require.NoError(t, err)
		storage.orders[result.Order.ID].Status = models.StatusDelivered

		require.NoError(t, orderService.AddFeedback(ctx, result.Order.ID, "user-1", models.Feedback{Rating: 5, Comment: "hot and fast"}))

		feedback := storage.orders[result.Order.ID].Feedback
		require.NotNil(t, feedback)
		assert.Equal(t, 5, feedback.Rating)
	})

	t.Run("Should reject feedback before delivery", func(t *testing.T) {
		orderService, _, _, _, _ := newOrderFixture()

		result, err := orderService.CreateOrder(ctx, onlineOrderRequest())
		require.NoError(t, err)

		err = orderService.AddFeedback(ctx, result.Order.ID, "user-1", models.Feedback{Rating: 4})

		assert.ErrorIs(t, err, ErrOrderNotDelivered)
	})

	t.Run("Should reject an out-of-range rating", func(t *testing.T) {
		orderService, _, _, _, _ := newOrderFixture()

		err := orderService.AddFeedback(ctx, "ord-1", "user-1", models.Feedback{Rating: 6})

		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestOrderServiceReconcileDeliveryEvent(t *testing.T) {
	ctx := context.Background()

	dispatchOrder := func(t *testing.T, orderService *OrderService) *models.Order {
		t.Helper()

		result, err := orderService.CreateOrder(ctx, onlineOrderRequest())
		require.NoError(t, err)
		dispatched, err := orderService.DispatchDelivery(ctx, result.Order.ID)
		require.NoError(t, err)

		return dispatched
	}

	courierEvent := func(status string, at time.Time) models.DeliveryEvent {
		return models.DeliveryEvent{
			Event:           "order_status_update",
			ExternalOrderID: "ext-100",
			Status:          status,
			Timestamp:       at,
		}
	}

	t.Run("Should apply a forward transition and notify once", func(t *testing.T) {
		orderService, storage, _, _, notifier := newOrderFixture()
		order := dispatchOrder(t, orderService)
		notifier.sent = nil

		err := orderService.ReconcileDeliveryEvent(ctx, courierEvent("OUT_FOR_DELIVERY", time.Now()))

		require.NoError(t, err)
		stored := storage.orders[order.ID]
		assert.Equal(t, models.StatusOutForDelivery, stored.Status)
		assert.Equal(t, "OUT_FOR_DELIVERY", stored.Delivery.Courier.Status)
		require.Len(t, notifier.sent, 1)
		assert.Equal(t, models.StatusOutForDelivery, notifier.sent[0].status)
		assert.Equal(t, "Rider is near the drop location", notifier.sent[0].description)
	})

	t.Run("Should swallow a replayed webhook after the first delivery", func(t *testing.T) {
		orderService, storage, _, _, notifier := newOrderFixture()
		order := dispatchOrder(t, orderService)
		notifier.sent = nil

		event := courierEvent("IN_TRANSIT", time.Now())

		require.NoError(t, orderService.ReconcileDeliveryEvent(ctx, event))
		require.NoError(t, orderService.ReconcileDeliveryEvent(ctx, event))

		assert.Equal(t, models.StatusInTransit, storage.orders[order.ID].Status)
		assert.Len(t, notifier.sent, 1)
	})

	t.Run("Should deduplicate a replayed payload without a timestamp", func(t *testing.T) {
		orderService, storage, _, _, notifier := newOrderFixture()
		order := dispatchOrder(t, orderService)
		notifier.sent = nil

		event := models.DeliveryEvent{
			Event:           "order_status_update",
			ExternalOrderID: "ext-100",
			Status:          "IN_TRANSIT",
		}

		require.NoError(t, orderService.ReconcileDeliveryEvent(ctx, event))
		// Replay well past a wall-clock second boundary.
		time.Sleep(1100 * time.Millisecond)
		require.NoError(t, orderService.ReconcileDeliveryEvent(ctx, event))

		assert.Equal(t, models.StatusInTransit, storage.orders[order.ID].Status)
		assert.Len(t, notifier.sent, 1)
	})

	t.Run("Should let the courier retry after a transient reconciliation failure", func(t *testing.T) {
		orderService, storage, _, _, notifier := newOrderFixture()
		order := dispatchOrder(t, orderService)
		notifier.sent = nil
		storage.findByCourierErr = errors.New("connection reset")

		event := courierEvent("IN_TRANSIT", time.Now())

		require.Error(t, orderService.ReconcileDeliveryEvent(ctx, event))
		require.NoError(t, orderService.ReconcileDeliveryEvent(ctx, event))

		assert.Equal(t, models.StatusInTransit, storage.orders[order.ID].Status)
		assert.Len(t, notifier.sent, 1)
	})

	t.Run("Should never regress a terminal state", func(t *testing.T) {
		orderService, storage, _, _, notifier := newOrderFixture()
		order := dispatchOrder(t, orderService)
		notifier.sent = nil

		now := time.Now()
		require.NoError(t, orderService.ReconcileDeliveryEvent(ctx, courierEvent("DELIVERED", now)))
		require.NoError(t, orderService.ReconcileDeliveryEvent(ctx, courierEvent("IN_TRANSIT", now.Add(time.Second))))

		assert.Equal(t, models.StatusDelivered, storage.orders[order.ID].Status)
		assert.Len(t, notifier.sent, 1)
	})

	t.Run("Should acknowledge an unmapped status under the ignore policy", func(t *testing.T) {
		orderService, storage, _, _, notifier := newOrderFixture()
		order := dispatchOrder(t, orderService)
		notifier.sent = nil

		err := orderService.ReconcileDeliveryEvent(ctx, courierEvent("TELEPORTED", time.Now()))

		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, storage.orders[order.ID].Status)
		assert.Empty(t, notifier.sent)
	})

	t.Run("Should reject an unmapped status under the reject policy", func(t *testing.T) {
		_, storage, gateway, courier, notifier := newOrderFixture()
		orderService := NewOrderService(storage, gateway, courier, notifier, UnmappedStatusReject)
		dispatchOrder(t, orderService)

		err := orderService.ReconcileDeliveryEvent(ctx, courierEvent("TELEPORTED", time.Now()))

		assert.ErrorIs(t, err, ErrUnmappedCourierStatus)
	})

	t.Run("Should report an event for an unknown delivery", func(t *testing.T) {
		orderService, _, _, _, _ := newOrderFixture()

		err := orderService.ReconcileDeliveryEvent(ctx, courierEvent("IN_TRANSIT", time.Now()))

		assert.ErrorIs(t, err, ErrOrderNotFound)
	})
}
