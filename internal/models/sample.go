package models

import "time"

// MotionLevel 离散化的体动等级
type MotionLevel string

const (
	MotionStill       MotionLevel = "still"
	MotionLight       MotionLevel = "light"
	MotionSignificant MotionLevel = "significant"
)

// StageEstimate 睡眠阶段估计（每个采样周期重算，不做持久化）
type StageEstimate string

const (
	StageUnknown    StageEstimate = "unknown"
	StageDeep       StageEstimate = "deep"
	StageLight      StageEstimate = "light"
	StageCore       StageEstimate = "core"
	StageAwakeOrREM StageEstimate = "awake_or_rem"
)

// Sample 单个体征样本（心率可缺失，样本可能乱序到达）
type Sample struct {
	Timestamp time.Time   `json:"timestamp"`
	HeartRate *int        `json:"heart_rate,omitempty"` // bpm
	Motion    MotionLevel `json:"motion"`
}
