package router

import (
	"crypto/hmac"
	"errors"
	"net/http"
	"strings"

	"github.com/quickbites/quickbites-backend/internal/logger"
	"github.com/quickbites/quickbites-backend/internal/middlewares"
	"github.com/quickbites/quickbites-backend/internal/models"
	"github.com/quickbites/quickbites-backend/internal/services"
	"go.uber.org/zap"
)

// webhookAuth authenticates the courier aggregator by its static shared
// secret. No user context, no further processing on mismatch.
func (router *Router) webhookAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		if token == "" || !hmac.Equal([]byte(token), []byte(router.config.WebhookSecret)) {
			http.Error(w, "Invalid webhook token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// DeliveryWebhook reconciles a courier status callback into the order state
// machine. Reconciliation failures never crash the endpoint; the courier only
// ever sees an HTTP status.
func DeliveryWebhook(w http.ResponseWriter, r *http.Request) {
	event := middlewares.GetParsedJSONData[models.DeliveryEvent](w, r)

	if event.ExternalOrderID == "" || event.Status == "" {
		http.Error(w, "externalOrderId and status are required", http.StatusBadRequest)
		return
	}

	orderService := middlewares.GetServiceFromContext[models.OrderService](w, r, middlewares.OrderServiceKey)
	if orderService == nil {
		return
	}

	if err := (*orderService).ReconcileDeliveryEvent(r.Context(), event); err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			http.Error(w, "Unknown delivery order", http.StatusNotFound)
			return
		}

		if errors.Is(err, services.ErrUnmappedCourierStatus) {
			http.Error(w, "Unrecognized delivery status", http.StatusBadRequest)
			return
		}

		logger.Log.Error("failed to reconcile delivery webhook",
			zap.String("externalOrderID", event.ExternalOrderID),
			zap.String("rawStatus", event.Status),
			zap.Error(err),
		)
		http.Error(w, "Failed to process webhook", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
