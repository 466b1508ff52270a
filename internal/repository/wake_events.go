package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smartwake/internal/models"
)

// WakeEventRecord wake_events 表的一行
type WakeEventRecord struct {
	EventID           string
	PairingID         string
	SessionID         string
	TriggerTime       time.Time
	Stage             string
	HeartRate         *int
	ResponseLatencyMS *int64
	CreatedAt         time.Time
}

// WakeEventsRepository 唤醒事件历史（PostgreSQL）
type WakeEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWakeEventsRepository 创建唤醒事件仓库
func NewWakeEventsRepository(db *sql.DB, logger *zap.Logger) *WakeEventsRepository {
	return &WakeEventsRepository{
		db:     db,
		logger: logger,
	}
}

// CreateWakeEvent 写入一条最终确认的唤醒事件
func (r *WakeEventsRepository) CreateWakeEvent(ctx context.Context, pairingID string, event *models.WakeEvent) error {
	query := `
		INSERT INTO wake_events (
			event_id, pairing_id, session_id, trigger_time,
			stage, heart_rate, response_latency_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	eventID := uuid.New().String()
	_, err := r.db.ExecContext(ctx, query,
		eventID,
		pairingID,
		event.SessionID,
		event.TriggerTime,
		string(event.Stage),
		event.HeartRate,
		event.ResponseLatencyMS,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to create wake event: %w", err)
	}

	r.logger.Info("Wake event recorded",
		zap.String("event_id", eventID),
		zap.String("session_id", event.SessionID),
		zap.String("stage", string(event.Stage)),
	)

	return nil
}

// ListRecentWakeEvents 按触发时间倒序列出最近的唤醒事件
func (r *WakeEventsRepository) ListRecentWakeEvents(ctx context.Context, pairingID string, limit int) ([]WakeEventRecord, error) {
	query := `
		SELECT event_id, pairing_id, session_id, trigger_time,
		       stage, heart_rate, response_latency_ms, created_at
		FROM wake_events
		WHERE pairing_id = $1
		ORDER BY trigger_time DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, pairingID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list wake events: %w", err)
	}
	defer rows.Close()

	var records []WakeEventRecord
	for rows.Next() {
		var rec WakeEventRecord
		if err := rows.Scan(
			&rec.EventID,
			&rec.PairingID,
			&rec.SessionID,
			&rec.TriggerTime,
			&rec.Stage,
			&rec.HeartRate,
			&rec.ResponseLatencyMS,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan wake event: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate wake events: %w", err)
	}

	return records, nil
}
