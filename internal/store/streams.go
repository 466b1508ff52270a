package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"smartwake/internal/models"
)

// DefaultEventStream 默认的唤醒事件流名称
const DefaultEventStream = "smartwake:events"

// EventPublisher 把最终确认的唤醒事件发布到 Redis Streams，
// 供下游分析消费者（睡眠报告、统计等）订阅
type EventPublisher struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

// NewEventPublisher 创建事件发布器，stream 为空时使用默认流
func NewEventPublisher(client *redis.Client, stream string, logger *zap.Logger) *EventPublisher {
	if stream == "" {
		stream = DefaultEventStream
	}
	return &EventPublisher{
		client: client,
		stream: stream,
		logger: logger,
	}
}

// Publish 发布唤醒事件，返回流消息 ID
func (p *EventPublisher) Publish(ctx context.Context, event *models.WakeEvent) (string, error) {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal wake event: %w", err)
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"data":      string(jsonData),
			"timestamp": time.Now().Unix(),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish wake event to stream: %w", err)
	}

	p.logger.Debug("Published wake event to stream",
		zap.String("stream", p.stream),
		zap.String("message_id", id),
		zap.String("session_id", event.SessionID),
	)

	return id, nil
}
