package sensors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"smartwake/internal/models"
)

// RealtimeVitals 设备桥写入的实时体征缓存格式
type RealtimeVitals struct {
	HeartRate *int   `json:"heart_rate,omitempty"` // bpm
	Motion    string `json:"motion"`
	Timestamp int64  `json:"timestamp"` // unix 秒
}

// RedisVitalsSource 从 Redis 实时缓存读取体征与体动。
// 佩戴设备的采集固件把最新体征写入 smartwake:<pairing>:vitals，
// 本类型同时实现 monitor.BiosignalSource 与 monitor.MotionSource。
// 调用方（Agent 的采样循环）串行访问，无需内部加锁。
type RedisVitalsSource struct {
	client *redis.Client
	key    string
	logger *zap.Logger
	lastTS int64 // 已消费样本的时间戳，避免重复计入同一样本
}

// NewRedisVitalsSource 创建实时体征数据源
func NewRedisVitalsSource(client *redis.Client, pairingID string, logger *zap.Logger) *RedisVitalsSource {
	return &RedisVitalsSource{
		client: client,
		key:    fmt.Sprintf("smartwake:%s:vitals", pairingID),
		logger: logger,
	}
}

func (s *RedisVitalsSource) read(ctx context.Context) (*RealtimeVitals, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get vitals cache: %w", err)
	}
	var vitals RealtimeVitals
	if err := json.Unmarshal([]byte(val), &vitals); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vitals: %w", err)
	}
	return &vitals, nil
}

// PullSamples 返回自上次调用以来的新心率样本。
// 缓存不存在或样本未更新时返回空，不视为错误。
func (s *RedisVitalsSource) PullSamples(ctx context.Context) ([]models.Sample, error) {
	vitals, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	if vitals == nil || vitals.Timestamp <= s.lastTS {
		return nil, nil
	}
	s.lastTS = vitals.Timestamp

	return []models.Sample{{
		Timestamp: time.Unix(vitals.Timestamp, 0),
		HeartRate: vitals.HeartRate,
		Motion:    parseMotion(vitals.Motion),
	}}, nil
}

// Current 返回当前体动等级，缓存缺失时按 still 处理
func (s *RedisVitalsSource) Current(ctx context.Context) (models.MotionLevel, error) {
	vitals, err := s.read(ctx)
	if err != nil {
		return models.MotionStill, err
	}
	if vitals == nil {
		return models.MotionStill, nil
	}
	return parseMotion(vitals.Motion), nil
}

func parseMotion(v string) models.MotionLevel {
	switch models.MotionLevel(v) {
	case models.MotionLight:
		return models.MotionLight
	case models.MotionSignificant:
		return models.MotionSignificant
	default:
		return models.MotionStill
	}
}
