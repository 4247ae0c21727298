package router

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/quickbites/quickbites-backend/internal/logger"
	"github.com/quickbites/quickbites-backend/internal/middlewares"
	"github.com/quickbites/quickbites-backend/internal/models"
)

type Config struct {
	Endpoint string
	// WebhookSecret authenticates the courier aggregator callbacks.
	WebhookSecret string
}

type Router struct {
	config       Config
	orderService models.OrderService
	jwtService   models.JWTService
	userService  models.UserService
}

func New(
	config Config,
	orderService models.OrderService,
	jwtService models.JWTService,
	userService models.UserService,
) *Router {
	return &Router{
		config,
		orderService,
		jwtService,
		userService,
	}
}

func (router *Router) get() chi.Router {
	r := chi.NewRouter()

	r.Use(
		middlewares.ServiceInjectorMiddleware(
			router.orderService,
			router.jwtService,
			router.userService,
		),
		logger.RequestLogger,
		middlewares.AuthMiddleware().WithExcludedPaths(
			"/api/webhooks",
		).Middleware,
	)

	r.Route("/api/user/orders", func(r chi.Router) {
		r.With(middlewares.JSONMiddleware[models.CreateOrderRequest]).Post("/", CreateOrder)
		r.With(middlewares.JSONMiddleware[models.PaymentVerification]).Post("/payment/verify", VerifyPayment)

		r.Get("/{orderID}", GetOrder)
		r.Post("/{orderID}/dispatch", DispatchDelivery)
		r.Get("/{orderID}/tracking", TrackOrder)
		r.Post("/{orderID}/cancel", CancelOrder)
		r.With(middlewares.JSONMiddleware[models.Feedback]).Post("/{orderID}/feedback", AddFeedback)
	})

	r.Route("/api/webhooks", func(r chi.Router) {
		r.With(
			router.webhookAuth,
			middlewares.JSONMiddleware[models.DeliveryEvent],
		).Post("/delivery", DeliveryWebhook)
	})

	return r
}

func (router *Router) Run() {
	log.Fatal(http.ListenAndServe(router.config.Endpoint, router.get()))
}
