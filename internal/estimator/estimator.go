package estimator

import (
	"sort"

	"smartwake/internal/models"
)

// MinSamples 窗口内的最少样本数，不足时估计为 unknown
const MinSamples = 3

// Estimate 根据最近窗口内的样本估计睡眠阶段。
//
// 规则按固定顺序评估，窄的 deep/light 判定先于宽的 awake/REM 兜底判定，
// 顺序本身是启发式的一部分，不可调换：
//  1. 窗口样本数 < 3 → unknown
//  2. variation = 窗口内心率最大值 - 最小值
//  3. partialMovement = 存在体动样本但并非全部样本都有体动
//  4. variation < 5 且 partialMovement → light
//  5. variation < 3 且无 significant 体动样本 → deep
//  6. variation > 7 或（partialMovement 且 末次心率 > 首次心率+5）→ awake_or_rem
//  7. 其余 → core
//
// 心率缺失的样本不参与 variation 与首末心率比较；窗口内完全没有
// 心率样本时返回 unknown（传感器缺失按非致命降级处理）。
func Estimate(window []models.Sample) models.StageEstimate {
	if len(window) < MinSamples {
		return models.StageUnknown
	}

	// 样本可能乱序到达，先按时间排序
	samples := make([]models.Sample, len(window))
	copy(samples, window)
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})

	var heartRates []int
	movedCount := 0
	significantCount := 0
	for _, s := range samples {
		if s.HeartRate != nil {
			heartRates = append(heartRates, *s.HeartRate)
		}
		if s.Motion == models.MotionLight || s.Motion == models.MotionSignificant {
			movedCount++
		}
		if s.Motion == models.MotionSignificant {
			significantCount++
		}
	}
	if len(heartRates) == 0 {
		return models.StageUnknown
	}

	minHR, maxHR := heartRates[0], heartRates[0]
	for _, hr := range heartRates[1:] {
		if hr < minHR {
			minHR = hr
		}
		if hr > maxHR {
			maxHR = hr
		}
	}
	variation := maxHR - minHR
	partialMovement := movedCount > 0 && movedCount < len(samples)

	switch {
	case variation < 5 && partialMovement:
		return models.StageLight
	case variation < 3 && significantCount == 0:
		return models.StageDeep
	case variation > 7 || (partialMovement && heartRates[len(heartRates)-1] > heartRates[0]+5):
		return models.StageAwakeOrREM
	default:
		return models.StageCore
	}
}
