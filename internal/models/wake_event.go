package models

import "time"

// WakeEvent 唤醒事件（每个会话至多产生一次）
// 可能由三条路径产生：monitor 的决策路径、monitor 的本地失效保护、host 的失效保护，
// 三者对同一 session_id 幂等。session_id 用于拒绝被取代会话的陈旧事件。
type WakeEvent struct {
	SessionID         string        `json:"session_id"`
	TriggerTime       time.Time     `json:"trigger_time"`
	Stage             StageEstimate `json:"stage"`
	HeartRate         *int          `json:"heart_rate,omitempty"`          // 触发时心率（bpm），可缺失
	ResponseLatencyMS *int64        `json:"response_latency_ms,omitempty"` // 用户响应延迟（毫秒），响应后填充
}
