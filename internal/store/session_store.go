package store

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"smartwake/internal/models"
)

// SessionStore 唤醒会话持久化（每个配对至多一条活动会话记录）
type SessionStore struct {
	kv        KV
	pairingID string
	logger    *zap.Logger
}

// NewSessionStore 创建会话存储
func NewSessionStore(kv KV, pairingID string, logger *zap.Logger) *SessionStore {
	return &SessionStore{
		kv:        kv,
		pairingID: pairingID,
		logger:    logger,
	}
}

func (s *SessionStore) sessionKey() string {
	return fmt.Sprintf("smartwake:%s:session", s.pairingID)
}

func (s *SessionStore) lastEventKey() string {
	return fmt.Sprintf("smartwake:%s:last-event", s.pairingID)
}

// SaveSession 持久化会话
func (s *SessionStore) SaveSession(ctx context.Context, session *models.WakeSession) error {
	jsonData, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.kv.Set(ctx, s.sessionKey(), string(jsonData), 0); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// LoadSession 读取持久化的会话，不存在时返回 ErrMiss
func (s *SessionStore) LoadSession(ctx context.Context) (*models.WakeSession, error) {
	val, err := s.kv.Get(ctx, s.sessionKey())
	if err != nil {
		if err == ErrMiss {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var session models.WakeSession
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// DeleteSession 删除持久化的会话
func (s *SessionStore) DeleteSession(ctx context.Context) error {
	if err := s.kv.Delete(ctx, s.sessionKey()); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// SaveLastEvent 持久化最近一次唤醒事件
func (s *SessionStore) SaveLastEvent(ctx context.Context, event *models.WakeEvent) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal wake event: %w", err)
	}
	if err := s.kv.Set(ctx, s.lastEventKey(), string(jsonData), 0); err != nil {
		return fmt.Errorf("failed to save wake event: %w", err)
	}
	return nil
}

// LoadLastEvent 读取最近一次唤醒事件，不存在时返回 ErrMiss
func (s *SessionStore) LoadLastEvent(ctx context.Context) (*models.WakeEvent, error) {
	val, err := s.kv.Get(ctx, s.lastEventKey())
	if err != nil {
		if err == ErrMiss {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("failed to load wake event: %w", err)
	}
	var event models.WakeEvent
	if err := json.Unmarshal([]byte(val), &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal wake event: %w", err)
	}
	return &event, nil
}
