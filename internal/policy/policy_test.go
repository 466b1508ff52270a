package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"smartwake/internal/models"
)

func TestShouldTrigger_NeverBeforeWindowStart(t *testing.T) {
	deadline := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	windowStart := deadline.Add(-30 * time.Minute)
	now := windowStart.Add(-time.Minute)

	// 浅睡也不能在窗口外触发
	assert.False(t, ShouldTrigger(models.StageLight, now, windowStart, deadline))
	assert.False(t, ShouldTrigger(models.StageAwakeOrREM, now, windowStart, deadline))
}

func TestShouldTrigger_LightIsOptimal(t *testing.T) {
	deadline := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	windowStart := deadline.Add(-30 * time.Minute)
	now := windowStart.Add(5 * time.Minute)

	assert.True(t, ShouldTrigger(models.StageLight, now, windowStart, deadline))
}

func TestShouldTrigger_WaitsOutsideLastChance(t *testing.T) {
	deadline := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	windowStart := deadline.Add(-30 * time.Minute)
	now := deadline.Add(-10 * time.Minute)

	// 距 deadline 尚远：非 light 阶段继续等待
	assert.False(t, ShouldTrigger(models.StageDeep, now, windowStart, deadline))
	assert.False(t, ShouldTrigger(models.StageCore, now, windowStart, deadline))
	assert.False(t, ShouldTrigger(models.StageUnknown, now, windowStart, deadline))
	assert.False(t, ShouldTrigger(models.StageAwakeOrREM, now, windowStart, deadline))
}

func TestShouldTrigger_LastChance(t *testing.T) {
	deadline := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	windowStart := deadline.Add(-30 * time.Minute)
	now := deadline.Add(-LastChance)

	// 非 deep 阶段在最后机会时限内触发
	assert.True(t, ShouldTrigger(models.StageCore, now, windowStart, deadline))
	assert.True(t, ShouldTrigger(models.StageAwakeOrREM, now, windowStart, deadline))
	assert.True(t, ShouldTrigger(models.StageUnknown, now, windowStart, deadline))
}

func TestShouldTrigger_DeepBlocksLastChance(t *testing.T) {
	deadline := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	windowStart := deadline.Add(-30 * time.Minute)

	// 深睡阶段把唤醒留给 deadline 时刻的失效保护
	assert.False(t, ShouldTrigger(models.StageDeep, deadline.Add(-LastChance), windowStart, deadline))
	assert.False(t, ShouldTrigger(models.StageDeep, deadline.Add(-time.Second), windowStart, deadline))
}
