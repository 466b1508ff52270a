package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartwake/internal/models"
)

func TestConfigure_RoundTrip(t *testing.T) {
	deadline := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	session := &models.WakeSession{
		SessionID:      "session-1",
		TargetDeadline: deadline,
		Window:         30 * time.Minute,
		Enabled:        true,
		State:          models.StateConfigured,
	}

	env, err := NewConfigure(session)
	require.NoError(t, err)
	assert.Equal(t, TypeConfigure, env.Type)
	assert.Equal(t, "session-1", env.SessionID)

	data, err := env.Encode()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	restored, err := decoded.DecodeConfigure()
	require.NoError(t, err)
	assert.Equal(t, "session-1", restored.SessionID)
	assert.True(t, restored.TargetDeadline.Equal(deadline))
	assert.Equal(t, 30*time.Minute, restored.Window)
	assert.True(t, restored.Enabled)
	assert.Equal(t, models.StateConfigured, restored.State)
}

func TestWakeEvent_RoundTrip(t *testing.T) {
	hr := 62
	triggerTime := time.Date(2026, 3, 1, 6, 52, 30, 0, time.UTC)
	event := &models.WakeEvent{
		SessionID:   "session-2",
		TriggerTime: triggerTime,
		Stage:       models.StageLight,
		HeartRate:   &hr,
	}

	env, err := NewWakeEvent(event)
	require.NoError(t, err)

	data, err := env.Encode()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	restored, err := decoded.DecodeWakeEvent()
	require.NoError(t, err)
	assert.Equal(t, "session-2", restored.SessionID)
	assert.True(t, restored.TriggerTime.Equal(triggerTime))
	assert.Equal(t, models.StageLight, restored.Stage)
	require.NotNil(t, restored.HeartRate)
	assert.Equal(t, 62, *restored.HeartRate)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)

	// 缺少消息类型
	_, err = Decode([]byte(`{"session_id":"s-1"}`))
	assert.Error(t, err)
}

func TestDecode_TypeMismatch(t *testing.T) {
	env := NewCancel("session-3")
	assert.Equal(t, TypeCancel, env.Type)
	assert.Empty(t, env.Payload)

	_, err := env.DecodeWakeEvent()
	assert.Error(t, err)
	_, err = env.DecodeConfigure()
	assert.Error(t, err)
}
