package models

import (
	"fmt"
	"time"
)

// SessionState 唤醒会话状态
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateConfigured SessionState = "configured"
	StateMonitoring SessionState = "monitoring"
	StateTriggered  SessionState = "triggered"
	StateResponded  SessionState = "responded"
	StateCancelled  SessionState = "cancelled"
	StateExpired    SessionState = "expired"
)

// allowedTransitions 状态机转移表（单调，终态不可复活）
var allowedTransitions = map[SessionState][]SessionState{
	StateIdle:       {StateConfigured, StateCancelled},
	StateConfigured: {StateMonitoring, StateTriggered, StateCancelled, StateExpired},
	StateMonitoring: {StateTriggered, StateCancelled, StateExpired},
	StateTriggered:  {StateResponded, StateCancelled, StateExpired},
	StateResponded:  {},
	StateCancelled:  {},
	StateExpired:    {},
}

// IsTerminal 是否为终态
func (s SessionState) IsTerminal() bool {
	return s == StateResponded || s == StateCancelled || s == StateExpired
}

// WakeSession 唤醒会话（每次 schedule 生成新的 session_id）
type WakeSession struct {
	SessionID      string        `json:"session_id"`
	TargetDeadline time.Time     `json:"target_deadline"`
	Window         time.Duration `json:"window"`
	Enabled        bool          `json:"enabled"`
	State          SessionState  `json:"state"`
}

// WindowStart 唤醒窗口起点 = deadline - window
func (s *WakeSession) WindowStart() time.Time {
	return s.TargetDeadline.Add(-s.Window)
}

// IsActive 未进入终态即为活动会话
func (s *WakeSession) IsActive() bool {
	return !s.State.IsTerminal()
}

// Transition 执行状态转移，非法转移返回错误
func (s *WakeSession) Transition(to SessionState) error {
	for _, allowed := range allowedTransitions[s.State] {
		if allowed == to {
			s.State = to
			return nil
		}
	}
	return fmt.Errorf("invalid session state transition: %s -> %s", s.State, to)
}
