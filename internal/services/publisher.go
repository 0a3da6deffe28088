package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"douly-backend/internal/models"
)

// SessionChannel is the pub/sub channel carrying one session's events.
func SessionChannel(sessionID string) string {
	return fmt.Sprintf("session_updates:%s", sessionID)
}

// RedisPublisher fans session events out through Redis so every server
// instance holding a websocket for the session can forward them.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, sessionID string, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("publisher: failed to marshal %s event: %v", msg.Type, err)
		return
	}
	if err := p.client.Publish(ctx, SessionChannel(sessionID), data).Err(); err != nil {
		log.Printf("publisher: failed to publish %s for session %s: %v", msg.Type, sessionID, err)
	}
}
