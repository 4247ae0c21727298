package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"log"
	"os"

	"github.com/quickbites/quickbites-backend/internal/services"
)

type Config struct {
	endpoint              string
	dsn                   string
	logLevel              string
	env                   string
	authSecretKey         string
	paymentEndpoint       string
	paymentKeyID          string
	paymentSecret         string
	deliveryEndpoint      string
	deliveryUsername      string
	deliveryPassword      string
	deliveryWebhookSecret string
	realtimeEndpoint      string
	pushEndpoint          string
	unmappedStatusPolicy  services.UnmappedStatusPolicy
}

func generateRandomString(length int) string {
	b := make([]byte, length)
	_, err := rand.Read(b)
	if err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func NewConfig() Config {
	var (
		endpoint string
		dsn      string
	)

	flag.StringVar(&endpoint, "a", "localhost:8090", "address and port to run server")
	flag.StringVar(&dsn, "d", "", "data source name for database connection")
	flag.Parse()

	if address := os.Getenv("RUN_ADDRESS"); address != "" {
		endpoint = address
	}

	if d := os.Getenv("DATABASE_URI"); d != "" {
		dsn = d
	}

	env := envOrDefault("ENV", "production")

	authSecretKey := os.Getenv("AUTH_SECRET_KEY")
	if authSecretKey == "" {
		if env == "production" {
			authSecretKey = generateRandomString(10)
			log.Printf("WARNING: AUTH_SECRET_KEY has to be defined for production environment\n")
		} else {
			authSecretKey = "development-key"
		}
	}

	deliveryWebhookSecret := os.Getenv("DELIVERY_WEBHOOK_SECRET")
	if deliveryWebhookSecret == "" {
		deliveryWebhookSecret = generateRandomString(24)
		log.Printf("WARNING: DELIVERY_WEBHOOK_SECRET is not defined, webhooks will be rejected\n")
	}

	unmappedStatusPolicy := services.UnmappedStatusIgnore
	if policy := os.Getenv("UNMAPPED_STATUS_POLICY"); policy == string(services.UnmappedStatusReject) {
		unmappedStatusPolicy = services.UnmappedStatusReject
	}

	return Config{
		endpoint:              endpoint,
		dsn:                   dsn,
		logLevel:              envOrDefault("LOG_LEVEL", "error"),
		env:                   env,
		authSecretKey:         authSecretKey,
		paymentEndpoint:       envOrDefault("PAYMENT_GATEWAY_ADDRESS", "http://localhost:8091"),
		paymentKeyID:          os.Getenv("PAYMENT_GATEWAY_KEY_ID"),
		paymentSecret:         os.Getenv("PAYMENT_GATEWAY_SECRET"),
		deliveryEndpoint:      envOrDefault("DELIVERY_ADDRESS", "http://localhost:8092"),
		deliveryUsername:      os.Getenv("DELIVERY_USERNAME"),
		deliveryPassword:      os.Getenv("DELIVERY_PASSWORD"),
		deliveryWebhookSecret: deliveryWebhookSecret,
		realtimeEndpoint:      envOrDefault("REALTIME_ADDRESS", "http://localhost:8093"),
		pushEndpoint:          envOrDefault("PUSH_ADDRESS", "http://localhost:8094"),
		unmappedStatusPolicy:  unmappedStatusPolicy,
	}
}
