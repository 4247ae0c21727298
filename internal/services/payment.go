package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrPaymentGateway   = errors.New("payment gateway request failed")
	ErrSignatureInvalid = errors.New("payment signature mismatch")
)

// PaymentService talks to the payment gateway. CreateIntent failures are
// expected to be treated as non-fatal by the order flow; signature
// verification failures are a security boundary and always fatal.
type PaymentService struct {
	endpoint string
	keyID    string
	secret   string
	client   *http.Client
}

func NewPaymentService(endpoint, keyID, secret string) *PaymentService {
	return &PaymentService{
		endpoint: endpoint,
		keyID:    keyID,
		secret:   secret,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type paymentIntentRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type paymentIntentResponse struct {
	ID string `json:"id"`
}

// CreateIntent registers a checkout attempt with the gateway and returns the
// gateway order id.
func (ps *PaymentService) CreateIntent(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (string, error) {
	var parsed paymentIntentResponse

	err := ps.do(ctx, http.MethodPost, "/orders", paymentIntentRequest{
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
		Notes:    notes,
	}, &parsed)
	if err != nil {
		return "", err
	}

	if parsed.ID == "" {
		return "", fmt.Errorf("%w: response contains no order id", ErrPaymentGateway)
	}

	return parsed.ID, nil
}

// VerifySignature checks the client-submitted checkout signature:
// HMAC-SHA256 over "gatewayOrderID|gatewayPaymentID" with the gateway secret,
// compared in constant time.
func (ps *PaymentService) VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) bool {
	mac := hmac.New(sha256.New, []byte(ps.secret))
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

type GatewayPayment struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

func (ps *PaymentService) FetchOrder(ctx context.Context, gatewayOrderID string) (*GatewayOrder, error) {
	var parsed GatewayOrder

	if err := ps.do(ctx, http.MethodGet, "/orders/"+gatewayOrderID, nil, &parsed); err != nil {
		return nil, err
	}

	return &parsed, nil
}

func (ps *PaymentService) FetchPayments(ctx context.Context, gatewayOrderID string) ([]GatewayPayment, error) {
	var parsed struct {
		Items []GatewayPayment `json:"items"`
	}

	if err := ps.do(ctx, http.MethodGet, "/orders/"+gatewayOrderID+"/payments", nil, &parsed); err != nil {
		return nil, err
	}

	return parsed.Items, nil
}

type refundRequest struct {
	Amount *int64 `json:"amount,omitempty"`
}

// Refund refunds a captured payment. A nil amount refunds the full payment.
func (ps *PaymentService) Refund(ctx context.Context, gatewayPaymentID string, amount *int64) error {
	return ps.do(ctx, http.MethodPost, "/payments/"+gatewayPaymentID+"/refund", refundRequest{Amount: amount}, nil)
}

func (ps *PaymentService) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody bytes.Buffer

	if body != nil {
		if err := json.NewEncoder(&reqBody).Encode(body); err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, ps.endpoint+path, &reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(ps.keyID, ps.secret)

	res, err := ps.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPaymentGateway, err)
	}

	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: unexpected status %d", ErrPaymentGateway, res.StatusCode)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to unmarshal gateway response: %w", err)
	}

	return nil
}
