package router

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/quickbites/quickbites-backend/internal/middlewares"
	"github.com/quickbites/quickbites-backend/internal/models"
	"github.com/quickbites/quickbites-backend/internal/services"
)

func CreateOrder(w http.ResponseWriter, r *http.Request) {
	req := middlewares.GetParsedJSONData[models.CreateOrderRequest](w, r)

	orderService := middlewares.GetServiceFromContext[models.OrderService](w, r, middlewares.OrderServiceKey)
	user := middlewares.GetUserFromContext(w, r)

	if orderService == nil || user == nil {
		return
	}

	req.UserID = user.ID

	result, err := (*orderService).CreateOrder(r.Context(), req)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if errors.Is(err, services.ErrRestaurantNotFound) {
			http.Error(w, "Restaurant not found", http.StatusNotFound)
			return
		}

		http.Error(w, fmt.Sprintf("Error occurred during creating order: %s", err.Error()), http.StatusInternalServerError)
		return
	}

	middlewares.EncodeJSONResponse(w, result)
}

func GetOrder(w http.ResponseWriter, r *http.Request) {
	orderService := middlewares.GetServiceFromContext[models.OrderService](w, r, middlewares.OrderServiceKey)
	user := middlewares.GetUserFromContext(w, r)

	if orderService == nil || user == nil {
		return
	}

	order, err := (*orderService).GetOrder(r.Context(), chi.URLParam(r, "orderID"), user.ID)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			http.Error(w, "Order not found", http.StatusNotFound)
			return
		}

		http.Error(w, fmt.Sprintf("Error occurred during getting order: %s", err.Error()), http.StatusInternalServerError)
		return
	}

	middlewares.EncodeJSONResponse(w, order)
}

func VerifyPayment(w http.ResponseWriter, r *http.Request) {
	verification := middlewares.GetParsedJSONData[models.PaymentVerification](w, r)

	orderService := middlewares.GetServiceFromContext[models.OrderService](w, r, middlewares.OrderServiceKey)
	if orderService == nil {
		return
	}

	if err := (*orderService).VerifyPayment(r.Context(), verification); err != nil {
		if errors.Is(err, services.ErrPaymentNotFound) {
			http.Error(w, "Payment record not found", http.StatusNotFound)
			return
		}

		if errors.Is(err, services.ErrSignatureInvalid) {
			http.Error(w, "Payment signature mismatch", http.StatusBadRequest)
			return
		}

		http.Error(w, fmt.Sprintf("Error occurred during verifying payment: %s", err.Error()), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func DispatchDelivery(w http.ResponseWriter, r *http.Request) {
	orderService := middlewares.GetServiceFromContext[models.OrderService](w, r, middlewares.OrderServiceKey)
	if orderService == nil {
		return
	}

	order, err := (*orderService).DispatchDelivery(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) || errors.Is(err, services.ErrRestaurantNotFound) {
			http.Error(w, "Order not found", http.StatusNotFound)
			return
		}

		if errors.Is(err, services.ErrOrderNotDispatchable) {
			http.Error(w, "Order cannot be dispatched in its current status", http.StatusConflict)
			return
		}

		if errors.Is(err, services.ErrDeliveryAuth) || errors.Is(err, services.ErrDeliveryProvider) {
			http.Error(w, "Delivery provider is unavailable", http.StatusBadGateway)
			return
		}

		http.Error(w, fmt.Sprintf("Error occurred during dispatching delivery: %s", err.Error()), http.StatusInternalServerError)
		return
	}

	middlewares.EncodeJSONResponse(w, order)
}

func TrackOrder(w http.ResponseWriter, r *http.Request) {
	orderService := middlewares.GetServiceFromContext[models.OrderService](w, r, middlewares.OrderServiceKey)
	user := middlewares.GetUserFromContext(w, r)

	if orderService == nil || user == nil {
		return
	}

	tracking, err := (*orderService).TrackOrder(r.Context(), chi.URLParam(r, "orderID"), user.ID)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			http.Error(w, "Order not found", http.StatusNotFound)
			return
		}

		if errors.Is(err, services.ErrOrderNotDispatched) {
			http.Error(w, "Order has no dispatched delivery", http.StatusConflict)
			return
		}

		if errors.Is(err, services.ErrDeliveryAuth) || errors.Is(err, services.ErrDeliveryProvider) {
			http.Error(w, "Delivery provider is unavailable", http.StatusBadGateway)
			return
		}

		http.Error(w, fmt.Sprintf("Error occurred during tracking order: %s", err.Error()), http.StatusInternalServerError)
		return
	}

	middlewares.EncodeJSONResponse(w, tracking)
}

func CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderService := middlewares.GetServiceFromContext[models.OrderService](w, r, middlewares.OrderServiceKey)
	user := middlewares.GetUserFromContext(w, r)

	if orderService == nil || user == nil {
		return
	}

	if err := (*orderService).CancelOrder(r.Context(), chi.URLParam(r, "orderID"), user.ID); err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			http.Error(w, "Order not found", http.StatusNotFound)
			return
		}

		if errors.Is(err, services.ErrOrderNotCancellable) {
			http.Error(w, "Order cannot be cancelled in its current status", http.StatusConflict)
			return
		}

		if errors.Is(err, services.ErrDeliveryAuth) || errors.Is(err, services.ErrDeliveryProvider) {
			http.Error(w, "Delivery provider is unavailable", http.StatusBadGateway)
			return
		}

		http.Error(w, fmt.Sprintf("Error occurred during cancelling order: %s", err.Error()), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func AddFeedback(w http.ResponseWriter, r *http.Request) {
	feedback := middlewares.GetParsedJSONData[models.Feedback](w, r)

	orderService := middlewares.GetServiceFromContext[models.OrderService](w, r, middlewares.OrderServiceKey)
	user := middlewares.GetUserFromContext(w, r)

	if orderService == nil || user == nil {
		return
	}

	if err := (*orderService).AddFeedback(r.Context(), chi.URLParam(r, "orderID"), user.ID, feedback); err != nil {
		if errors.Is(err, services.ErrValidation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if errors.Is(err, services.ErrOrderNotFound) {
			http.Error(w, "Order not found", http.StatusNotFound)
			return
		}

		if errors.Is(err, services.ErrOrderNotDelivered) {
			http.Error(w, "Order is not delivered yet", http.StatusConflict)
			return
		}

		http.Error(w, fmt.Sprintf("Error occurred during saving feedback: %s", err.Error()), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
