package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	bridgeChannel  = "notify:events"
	publishTimeout = 5 * time.Second
)

// bridgePayload is the message published to Redis for cross-instance fan-out.
// Origin lets instances skip their own publications.
type bridgePayload struct {
	Origin       string       `json:"origin"`
	Notification Notification `json:"notification"`
}

// RedisBridge forwards notifications between instances over Redis pub/sub.
type RedisBridge struct {
	client     *redis.Client
	logger     *zap.Logger
	instanceID string
}

// NewRedisBridge creates a bridge with a unique instance identity.
func NewRedisBridge(client *redis.Client, logger *zap.Logger) *RedisBridge {
	return &RedisBridge{client: client, logger: logger, instanceID: uuid.New().String()}
}

// Publish sends a notification to the shared channel.
func (b *RedisBridge) Publish(n Notification) error {
	body, err := json.Marshal(bridgePayload{Origin: b.instanceID, Notification: n})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return b.client.Publish(ctx, bridgeChannel, body).Err()
}

// Subscribe listens for notifications from other instances and passes them to
// handler. Own publications are skipped. Returns a cancel function that stops
// the subscription.
func (b *RedisBridge) Subscribe(handler func(Notification)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := b.client.Subscribe(ctx, bridgeChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p bridgePayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					b.logger.Warn("invalid bridge payload", zap.Error(err))
					continue
				}
				if p.Origin == b.instanceID {
					continue
				}
				handler(p.Notification)
			}
		}
	}()
	return func() { cancelCtx() }, nil
}
