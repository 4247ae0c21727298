package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/quickbites/quickbites-backend/internal/logger"
	"github.com/quickbites/quickbites-backend/internal/models"
	"go.uber.org/zap"
)

// RoomBroadcaster delivers a payload to a logical room ("user:{id}",
// "restaurant:{id}"). The socket transport behind it lives in another service.
type RoomBroadcaster interface {
	Notify(ctx context.Context, room string, payload any) error
}

// PushSender delivers a push notification to a set of device tokens.
type PushSender interface {
	Send(ctx context.Context, tokens []string, title, body string, data map[string]string) error
}

type notifyJobQueue interface {
	Enqueue(job Job) error
	ScheduleJob(job Job, delay time.Duration)
}

type notifyStorage interface {
	FindUser(ctx context.Context, userID string) (*models.User, error)
}

// NotifyService fans out order events best-effort: dispatch goes through the
// job queue so it never blocks the caller, and every failure is logged and
// swallowed, never surfaced to the primary flow.
type NotifyService struct {
	jobQueue notifyJobQueue
	rooms    RoomBroadcaster
	push     PushSender
	storage  notifyStorage
}

func NewNotifyService(jobQueue notifyJobQueue, rooms RoomBroadcaster, push PushSender, storage notifyStorage) *NotifyService {
	return &NotifyService{
		jobQueue: jobQueue,
		rooms:    rooms,
		push:     push,
		storage:  storage,
	}
}

type orderStatusPayload struct {
	Type        string             `json:"type"`
	OrderID     string             `json:"orderId"`
	Status      models.OrderStatus `json:"status"`
	Description string             `json:"description,omitempty"`
}

// OrderStatusChanged broadcasts the new status to the user and restaurant
// rooms and pushes to the user's devices.
func (ns *NotifyService) OrderStatusChanged(order *models.Order, description string) {
	payload := orderStatusPayload{
		Type:        "order_status_changed",
		OrderID:     order.ID,
		Status:      order.Status,
		Description: description,
	}

	userID := order.UserID
	restaurantID := order.RestaurantID

	err := ns.jobQueue.Enqueue(func(ctx context.Context) {
		ns.notifyRoom(ctx, fmt.Sprintf("user:%s", userID), payload)
		ns.notifyRoom(ctx, fmt.Sprintf("restaurant:%s", restaurantID), payload)
		ns.pushToUser(ctx, userID, payload)
	})
	if err != nil {
		logger.Log.Error("failed to enqueue notification dispatch",
			zap.String("orderID", order.ID),
			zap.Error(err),
		)
	}
}

// roomRetryDelay spaces the single retry of a failed room broadcast, enough
// for the socket gateway to come back from a restart.
const roomRetryDelay = 5 * time.Second

func (ns *NotifyService) notifyRoom(ctx context.Context, room string, payload orderStatusPayload) {
	err := ns.rooms.Notify(ctx, room, payload)
	if err == nil {
		return
	}

	logger.Log.Warn("room notification failed, retrying once",
		zap.String("room", room),
		zap.String("orderID", payload.OrderID),
		zap.Error(err),
	)

	ns.jobQueue.ScheduleJob(func(ctx context.Context) {
		if err := ns.rooms.Notify(ctx, room, payload); err != nil {
			logger.Log.Warn("suppressed room notification failure",
				zap.String("room", room),
				zap.String("orderID", payload.OrderID),
				zap.Error(err),
			)
		}
	}, roomRetryDelay)
}

func (ns *NotifyService) pushToUser(ctx context.Context, userID string, payload orderStatusPayload) {
	user, err := ns.storage.FindUser(ctx, userID)
	if err != nil || user == nil || len(user.PushTokens) == 0 {
		if err != nil {
			logger.Log.Warn("suppressed push lookup failure",
				zap.String("userID", userID),
				zap.Error(err),
			)
		}
		return
	}

	err = ns.push.Send(ctx, user.PushTokens, "Order update", payload.Description, map[string]string{
		"type":    payload.Type,
		"orderId": payload.OrderID,
		"status":  string(payload.Status),
	})
	if err != nil {
		logger.Log.Warn("suppressed push notification failure",
			zap.String("userID", userID),
			zap.String("orderID", payload.OrderID),
			zap.Error(err),
		)
	}
}

// RealtimeClient bridges room notifications to the socket gateway service.
type RealtimeClient struct {
	endpoint string
	client   *http.Client
}

func NewRealtimeClient(endpoint string) *RealtimeClient {
	return &RealtimeClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (rc *RealtimeClient) Notify(ctx context.Context, room string, payload any) error {
	return postJSON(ctx, rc.client, rc.endpoint+"/notify", map[string]any{
		"room":    room,
		"payload": payload,
	})
}

// PushClient bridges push notifications to the push gateway service.
type PushClient struct {
	endpoint string
	client   *http.Client
}

func NewPushClient(endpoint string) *PushClient {
	return &PushClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (pc *PushClient) Send(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	return postJSON(ctx, pc.client, pc.endpoint+"/send", map[string]any{
		"tokens": tokens,
		"title":  title,
		"body":   body,
		"data":   data,
	})
}

func postJSON(ctx context.Context, client *http.Client, url string, body any) error {
	var reqBody bytes.Buffer

	if err := json.NewEncoder(&reqBody).Encode(body); err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unexpected status %d from %s", res.StatusCode, url)
	}

	return nil
}
