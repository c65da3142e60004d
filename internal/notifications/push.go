package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/medtrack/medtrack-backend/pkg/db/models"
)

const pushTypeNotificationCreated = "notification_created"

// PushMessage is the frame the WebSocket gateway relays to the user's sockets.
type PushMessage struct {
	Type string   `json:"type"`
	Data PushData `json:"data"`
}

type PushData struct {
	ID      uuid.UUID `json:"id"`
	Title   string    `json:"title"`
	Content string    `json:"content"`
	Type    string    `json:"type"`
}

func pushMessageFor(n *models.Notification) PushMessage {
	return PushMessage{
		Type: pushTypeNotificationCreated,
		Data: PushData{
			ID:      n.ID,
			Title:   n.Title,
			Content: n.Content,
			Type:    string(n.Channel),
		},
	}
}

// Pusher delivers a frame to every socket of a user.
type Pusher interface {
	Push(ctx context.Context, userID uuid.UUID, message PushMessage) error
}

type channelPublisher interface {
	Publish(ctx context.Context, channel string, payload any) (int64, error)
	PushChannel(userID string) string
}

// RedisPusher fans frames out over Redis pub/sub; the gateway subscribes to user_<id> channels.
type RedisPusher struct {
	client channelPublisher
}

func NewRedisPusher(client channelPublisher) (*RedisPusher, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	return &RedisPusher{client: client}, nil
}

func (p *RedisPusher) Push(ctx context.Context, userID uuid.UUID, message PushMessage) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode push message: %w", err)
	}
	if _, err := p.client.Publish(ctx, p.client.PushChannel(userID.String()), payload); err != nil {
		return fmt.Errorf("publish push message: %w", err)
	}
	return nil
}
