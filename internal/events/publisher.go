// Package events broadcasts document status transitions.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/your-org/docconv/internal/domain"
)

// DefaultChannel is used when no channel is configured
const DefaultChannel = "docconv:documents"

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// redisPublisher is the subset of *redis.Client used here
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisPublisher publishes DocumentEvents as JSON on a Redis channel
type RedisPublisher struct {
	client  redisPublisher
	channel string
	logger  *zap.Logger
}

// NewRedisPublisher connects to Redis and verifies the connection
func NewRedisPublisher(cfg RedisConfig, logger *zap.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("connected to redis", zap.String("addr", cfg.Addr), zap.String("channel", channelOrDefault(cfg.Channel)))
	return newRedisPublisher(client, cfg.Channel, logger), nil
}

func newRedisPublisher(client redisPublisher, channel string, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		channel: channelOrDefault(channel),
		logger:  logger,
	}
}

// Publish sends event; a zero timestamp is set to now
func (p *RedisPublisher) Publish(ctx context.Context, event domain.DocumentEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal document event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, string(data)).Err(); err != nil {
		return fmt.Errorf("publish document event: %w", err)
	}

	p.logger.Debug("document event published",
		zap.String("document_id", event.DocumentID),
		zap.String("status", string(event.Status)),
	)
	return nil
}

// Close releases the Redis connection pool
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// NopPublisher discards every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, domain.DocumentEvent) error { return nil }
func (NopPublisher) Close() error                                        { return nil }

// EventFor builds the event describing the current state of doc
func EventFor(doc domain.StagedDocument) domain.DocumentEvent {
	ts := doc.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return domain.DocumentEvent{
		DocumentID:   doc.ID,
		Status:       doc.Status,
		OriginalName: doc.OriginalName,
		FileType:     doc.Type,
		ArtifactPath: doc.ArtifactPath,
		Error:        doc.LastError,
		Timestamp:    ts.UTC(),
	}
}

func channelOrDefault(channel string) string {
	if channel == "" {
		return DefaultChannel
	}
	return channel
}

var (
	_ domain.EventPublisher = (*RedisPublisher)(nil)
	_ domain.EventPublisher = NopPublisher{}
)
