package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/quickbites/quickbites-backend/internal/logger"
	"github.com/quickbites/quickbites-backend/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrDeliveryProvider = errors.New("delivery provider request failed")
	ErrDeliveryAuth     = errors.New("delivery provider authentication exhausted")
)

// DeliveryService is the courier aggregator client. It owns the process-wide
// bearer token: created lazily on first call, refreshed reactively behind a
// singleflight guard when a request comes back 401, replayed once. A second
// 401 after replay surfaces ErrDeliveryAuth.
type DeliveryService struct {
	endpoint string
	username string
	password string
	client   *http.Client

	mu      sync.Mutex
	token   string
	refresh singleflight.Group
}

func NewDeliveryService(endpoint, username, password string) *DeliveryService {
	return &DeliveryService{
		endpoint: endpoint,
		username: username,
		password: password,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

type deliveryLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type deliveryLoginResponse struct {
	Token string `json:"token"`
}

// Login authenticates against the courier aggregator and returns a fresh
// token without touching the cache.
func (ds *DeliveryService) Login(ctx context.Context) (string, error) {
	var reqBody bytes.Buffer

	if err := json.NewEncoder(&reqBody).Encode(deliveryLoginRequest{
		Username: ds.username,
		Password: ds.password,
	}); err != nil {
		return "", fmt.Errorf("failed to encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ds.endpoint+"/login", &reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to create login request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	res, err := ds.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDeliveryProvider, err)
	}

	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: login returned status %d", ErrDeliveryProvider, res.StatusCode)
	}

	var parsed deliveryLoginResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to unmarshal login response: %w", err)
	}

	if parsed.Token == "" {
		return "", fmt.Errorf("%w: login response contains no token", ErrDeliveryProvider)
	}

	return parsed.Token, nil
}

// authToken returns the cached token, logging in lazily on first use.
func (ds *DeliveryService) authToken(ctx context.Context) (string, error) {
	ds.mu.Lock()
	token := ds.token
	ds.mu.Unlock()

	if token != "" {
		return token, nil
	}

	return ds.refreshToken(ctx, "")
}

// refreshToken replaces a stale token. Concurrent callers share a single
// login via singleflight; a caller whose stale token was already replaced
// gets the cached one without another round trip.
func (ds *DeliveryService) refreshToken(ctx context.Context, stale string) (string, error) {
	result, err, _ := ds.refresh.Do("login", func() (any, error) {
		ds.mu.Lock()
		current := ds.token
		ds.mu.Unlock()

		if current != "" && current != stale {
			return current, nil
		}

		token, err := ds.Login(ctx)
		if err != nil {
			return "", err
		}

		ds.mu.Lock()
		ds.token = token
		ds.mu.Unlock()

		return token, nil
	})
	if err != nil {
		return "", err
	}

	return result.(string), nil
}

type DeliveryQuoteRequest struct {
	Pickup models.Coordinates   `json:"pickup"`
	Drops  []models.Coordinates `json:"drop"`
}

type DeliveryQuoteOption struct {
	Provider   string  `json:"provider"`
	Amount     int64   `json:"amount"`
	ETAMinutes int     `json:"eta_minutes"`
	DistanceKm float64 `json:"distance_km"`
}

// Quote returns priced delivery options for a pickup and a set of drops.
func (ds *DeliveryService) Quote(ctx context.Context, quote DeliveryQuoteRequest) ([]DeliveryQuoteOption, error) {
	var parsed struct {
		Options []DeliveryQuoteOption `json:"options"`
	}

	if err := ds.do(ctx, http.MethodPost, "/quote", quote, &parsed); err != nil {
		return nil, err
	}

	return parsed.Options, nil
}

type DeliveryContact struct {
	Name     string             `json:"name"`
	Phone    string             `json:"phone"`
	Address  string             `json:"address"`
	Location models.Coordinates `json:"location"`
}

type DeliveryTrip struct {
	SourceOrderID string             `json:"source_order_id"`
	Dropoff       models.Coordinates `json:"dropoff"`
	BillAmount    int64              `json:"bill_amount"`
}

type DeliveryOrderRequest struct {
	SenderDetail DeliveryContact `json:"sender_detail"`
	PocDetail    DeliveryContact `json:"poc_detail"`
	Trips        []DeliveryTrip  `json:"trips"`
}

type DeliveryOrderRef struct {
	SourceOrderID   string
	ExternalOrderID string
}

// CreateOrder dispatches a delivery. The aggregator answers with a single-key
// map of the caller-supplied source order id to its own external id.
func (ds *DeliveryService) CreateOrder(ctx context.Context, order DeliveryOrderRequest) (*DeliveryOrderRef, error) {
	var parsed map[string]string

	if err := ds.do(ctx, http.MethodPost, "/order", order, &parsed); err != nil {
		return nil, err
	}

	for sourceOrderID, externalOrderID := range parsed {
		return &DeliveryOrderRef{
			SourceOrderID:   sourceOrderID,
			ExternalOrderID: externalOrderID,
		}, nil
	}

	return nil, fmt.Errorf("%w: order response contains no mapping", ErrDeliveryProvider)
}

func (ds *DeliveryService) Cancel(ctx context.Context, externalOrderID string) error {
	return ds.do(ctx, http.MethodPost, "/order/"+externalOrderID+"/cancel", nil, nil)
}

// TrackingStatus polls the aggregator for the current fulfillment status and
// rider location of a dispatched order.
func (ds *DeliveryService) TrackingStatus(ctx context.Context, externalOrderID string) (*models.TrackingInfo, error) {
	var parsed models.TrackingInfo

	if err := ds.do(ctx, http.MethodGet, "/order/"+externalOrderID+"/fulfillment/tracking", nil, &parsed); err != nil {
		return nil, err
	}

	return &parsed, nil
}

func (ds *DeliveryService) do(ctx context.Context, method, path string, body, out any) error {
	token, err := ds.authToken(ctx)
	if err != nil {
		return err
	}

	status, data, err := ds.send(ctx, method, path, token, body)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized {
		logger.Log.Info("delivery provider token rejected, re-authenticating",
			zap.String("path", path),
		)

		token, err = ds.refreshToken(ctx, token)
		if err != nil {
			return err
		}

		status, data, err = ds.send(ctx, method, path, token, body)
		if err != nil {
			return err
		}

		if status == http.StatusUnauthorized {
			return ErrDeliveryAuth
		}
	}

	if status >= http.StatusBadRequest {
		return fmt.Errorf("%w: %s returned status %d", ErrDeliveryProvider, path, status)
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal delivery response: %w", err)
	}

	return nil
}

func (ds *DeliveryService) send(ctx context.Context, method, path, token string, body any) (int, []byte, error) {
	var reqBody bytes.Buffer

	if body != nil {
		if err := json.NewEncoder(&reqBody).Encode(body); err != nil {
			return 0, nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, ds.endpoint+path, &reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	// The aggregator expects the raw token, no "Bearer" prefix.
	req.Header.Set("Authorization", token)

	res, err := ds.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrDeliveryProvider, err)
	}

	defer res.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(res.Body); err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return res.StatusCode, buf.Bytes(), nil
}
