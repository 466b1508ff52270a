package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartwake/internal/models"
)

func setupTestStore(t *testing.T) (*miniredis.Miniredis, *redis.Client, *SessionStore) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	logger := zap.NewNop()
	sessionStore := NewSessionStore(NewRedisKV(redisClient), "pairing-1", logger)

	return mr, redisClient, sessionStore
}

func TestSessionStore_SaveAndLoad(t *testing.T) {
	_, _, sessionStore := setupTestStore(t)
	ctx := context.Background()

	deadline := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	session := &models.WakeSession{
		SessionID:      "session-1",
		TargetDeadline: deadline,
		Window:         30 * time.Minute,
		Enabled:        true,
		State:          models.StateConfigured,
	}

	require.NoError(t, sessionStore.SaveSession(ctx, session))

	loaded, err := sessionStore.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "session-1", loaded.SessionID)
	assert.True(t, loaded.TargetDeadline.Equal(deadline))
	assert.Equal(t, 30*time.Minute, loaded.Window)
	assert.Equal(t, models.StateConfigured, loaded.State)
}

func TestSessionStore_LoadMiss(t *testing.T) {
	_, _, sessionStore := setupTestStore(t)

	_, err := sessionStore.LoadSession(context.Background())
	assert.ErrorIs(t, err, ErrMiss)
}

func TestSessionStore_Delete(t *testing.T) {
	_, _, sessionStore := setupTestStore(t)
	ctx := context.Background()

	session := &models.WakeSession{
		SessionID:      "session-2",
		TargetDeadline: time.Now().Add(time.Hour),
		Window:         10 * time.Minute,
		State:          models.StateConfigured,
	}
	require.NoError(t, sessionStore.SaveSession(ctx, session))
	require.NoError(t, sessionStore.DeleteSession(ctx))

	_, err := sessionStore.LoadSession(ctx)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestSessionStore_LastEvent(t *testing.T) {
	_, _, sessionStore := setupTestStore(t)
	ctx := context.Background()

	hr := 62
	latency := int64(4200)
	event := &models.WakeEvent{
		SessionID:         "session-3",
		TriggerTime:       time.Date(2026, 3, 1, 6, 52, 30, 0, time.UTC),
		Stage:             models.StageLight,
		HeartRate:         &hr,
		ResponseLatencyMS: &latency,
	}

	require.NoError(t, sessionStore.SaveLastEvent(ctx, event))

	loaded, err := sessionStore.LoadLastEvent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "session-3", loaded.SessionID)
	assert.Equal(t, models.StageLight, loaded.Stage)
	require.NotNil(t, loaded.HeartRate)
	assert.Equal(t, 62, *loaded.HeartRate)
	require.NotNil(t, loaded.ResponseLatencyMS)
	assert.Equal(t, int64(4200), *loaded.ResponseLatencyMS)
}

func TestEventPublisher_Publish(t *testing.T) {
	mr, redisClient, _ := setupTestStore(t)
	ctx := context.Background()

	publisher := NewEventPublisher(redisClient, "", zap.NewNop())

	event := &models.WakeEvent{
		SessionID:   "session-4",
		TriggerTime: time.Now(),
		Stage:       models.StageUnknown,
	}

	id, err := publisher.Publish(ctx, event)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// 流中应有一条消息
	entries, err := mr.Stream(DefaultEventStream)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
