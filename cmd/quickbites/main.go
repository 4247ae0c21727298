package main

import (
	"context"
	"log"

	"github.com/quickbites/quickbites-backend/internal/database"
	router "github.com/quickbites/quickbites-backend/internal/http"
	"github.com/quickbites/quickbites-backend/internal/logger"
	"github.com/quickbites/quickbites-backend/internal/services"
	"github.com/quickbites/quickbites-backend/internal/utils"
)

func main() {
	ctx := context.Background()
	config := NewConfig()

	if err := logger.Initialize(config.logLevel, config.env); err != nil {
		log.Fatalf("Logger wasn't initialized due to %s", err)
	}

	db, err := database.New(ctx, config.dsn)

	if err != nil {
		log.Fatalf("Database wasn't initialized due to %s", err)
	}

	if err := db.RunMigrations(); err != nil {
		log.Fatalf("Migrations weren't run due to %s", err)
	}

	log.Printf("Running server on %s\n", config.endpoint)

	jobQueueService := services.NewJobQueueService(ctx, 100, 2)
	notifyService := services.NewNotifyService(
		jobQueueService,
		services.NewRealtimeClient(config.realtimeEndpoint),
		services.NewPushClient(config.pushEndpoint),
		db,
	)
	paymentService := services.NewPaymentService(config.paymentEndpoint, config.paymentKeyID, config.paymentSecret)
	deliveryService := services.NewDeliveryService(config.deliveryEndpoint, config.deliveryUsername, config.deliveryPassword)

	utils.HandleTerminationProcess(func() {
		jobQueueService.Shutdown()
		db.Close()
	})

	router.New(
		router.Config{
			Endpoint:      config.endpoint,
			WebhookSecret: config.deliveryWebhookSecret,
		},
		services.NewOrderService(db, paymentService, deliveryService, notifyService, config.unmappedStatusPolicy),
		services.NewJWTService(config.authSecretKey),
		services.NewUserLookupService(db),
	).Run()
}
