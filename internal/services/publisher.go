package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"cropdoc-backend/internal/models"
)

// SessionChannel is the pub/sub channel carrying updates for one browser session.
func SessionChannel(sessionID string) string {
	return fmt.Sprintf("session_updates:%s", sessionID)
}

// publishClient is the part of *redis.Client the publisher needs.
type publishClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher fans session updates out to every server instance via Redis pub/sub.
type RedisPublisher struct {
	redis publishClient
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{redis: client}
}

// Publish sends a WebSocket update via Redis pub/sub
func (p *RedisPublisher) Publish(ctx context.Context, sessionID string, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to encode %s update: %v", msg.Type, err)
		return
	}
	if err := p.redis.Publish(ctx, SessionChannel(sessionID), string(data)).Err(); err != nil {
		log.Printf("Failed to publish %s update for session %s: %v", msg.Type, sessionID, err)
	}
}
