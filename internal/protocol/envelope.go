package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"smartwake/internal/models"
)

// MessageType 传输消息类型
type MessageType string

const (
	TypeConfigure MessageType = "configure"
	TypeCancel    MessageType = "cancel"
	TypeStop      MessageType = "stop"
	TypeWakeEvent MessageType = "wake_event"
)

// Envelope 传输信封 {type, session_id, payload}
// 传输层是尽力而为的异步通道：消息可能丢失、延迟、重复、乱序，
// 协议正确性不依赖任何一条消息的送达。
type Envelope struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ConfigurePayload Configure消息负载（设备侧线格式：unix毫秒 + 整数秒）
type ConfigurePayload struct {
	DeadlineUnixMS int64 `json:"deadline_unix_ms"`
	WindowSeconds  int64 `json:"window_seconds"`
	Enabled        bool  `json:"enabled"`
}

// WakeEventPayload WakeEvent消息负载
type WakeEventPayload struct {
	TriggerTimeUnixMS int64  `json:"trigger_time_unix_ms"`
	Stage             string `json:"stage"`
	HeartRate         *int   `json:"heart_rate,omitempty"`
}

// NewConfigure 根据会话构造Configure信封
func NewConfigure(session *models.WakeSession) (Envelope, error) {
	payload, err := json.Marshal(ConfigurePayload{
		DeadlineUnixMS: session.TargetDeadline.UnixMilli(),
		WindowSeconds:  int64(session.Window / time.Second),
		Enabled:        session.Enabled,
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal configure payload: %w", err)
	}
	return Envelope{Type: TypeConfigure, SessionID: session.SessionID, Payload: payload}, nil
}

// NewCancel 构造Cancel信封
func NewCancel(sessionID string) Envelope {
	return Envelope{Type: TypeCancel, SessionID: sessionID}
}

// NewStop 构造Stop信封（用户响应后由 host 发送）
func NewStop(sessionID string) Envelope {
	return Envelope{Type: TypeStop, SessionID: sessionID}
}

// NewWakeEvent 根据唤醒事件构造WakeEvent信封
func NewWakeEvent(event *models.WakeEvent) (Envelope, error) {
	payload, err := json.Marshal(WakeEventPayload{
		TriggerTimeUnixMS: event.TriggerTime.UnixMilli(),
		Stage:             string(event.Stage),
		HeartRate:         event.HeartRate,
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal wake event payload: %w", err)
	}
	return Envelope{Type: TypeWakeEvent, SessionID: event.SessionID, Payload: payload}, nil
}

// DecodeConfigure 从信封还原唤醒会话（状态置为 configured）
func (e *Envelope) DecodeConfigure() (*models.WakeSession, error) {
	if e.Type != TypeConfigure {
		return nil, fmt.Errorf("unexpected message type: %s", e.Type)
	}
	var payload ConfigurePayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configure payload: %w", err)
	}
	return &models.WakeSession{
		SessionID:      e.SessionID,
		TargetDeadline: time.UnixMilli(payload.DeadlineUnixMS),
		Window:         time.Duration(payload.WindowSeconds) * time.Second,
		Enabled:        payload.Enabled,
		State:          models.StateConfigured,
	}, nil
}

// DecodeWakeEvent 从信封还原唤醒事件
func (e *Envelope) DecodeWakeEvent() (*models.WakeEvent, error) {
	if e.Type != TypeWakeEvent {
		return nil, fmt.Errorf("unexpected message type: %s", e.Type)
	}
	var payload WakeEventPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal wake event payload: %w", err)
	}
	return &models.WakeEvent{
		SessionID:   e.SessionID,
		TriggerTime: time.UnixMilli(payload.TriggerTimeUnixMS),
		Stage:       models.StageEstimate(payload.Stage),
		HeartRate:   payload.HeartRate,
	}, nil
}

// Encode 序列化信封
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// Decode 反序列化信封
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope missing message type")
	}
	return env, nil
}
