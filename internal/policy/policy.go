package policy

import (
	"time"

	"smartwake/internal/models"
)

// LastChance 最后机会时限：距 deadline 不足该时长且不处于深睡时立即触发
const LastChance = 60 * time.Second

// ShouldTrigger 唤醒决策：给定当前睡眠阶段与时间，决定是否立即触发。
//
// 偏好次序：最优路径（light）→ 最后机会（临近 deadline 且非 deep）→
// 失效保护计时器（deadline 时刻本身由计时器独占，本函数不在 deadline
// 之后被咨询）。
func ShouldTrigger(stage models.StageEstimate, now, windowStart, deadline time.Time) bool {
	// 窗口开始之前绝不触发
	if now.Before(windowStart) {
		return false
	}
	// 最优路径：浅睡立即唤醒
	if stage == models.StageLight {
		return true
	}
	// 最后机会：避免只能从深睡中被失效保护唤醒
	if deadline.Sub(now) <= LastChance && stage != models.StageDeep {
		return true
	}
	return false
}
