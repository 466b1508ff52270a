package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"smartwake/internal/estimator"
	"smartwake/internal/models"
	"smartwake/internal/notify"
	"smartwake/internal/policy"
	"smartwake/internal/protocol"
	"smartwake/internal/transport"
)

// BiosignalSource 体征数据源。
// 返回自上次调用以来带时间戳的心率样本；没有新样本不是错误。
type BiosignalSource interface {
	PullSamples(ctx context.Context) ([]models.Sample, error)
}

// MotionSource 体动数据源，每个采样周期返回一次离散体动等级
type MotionSource interface {
	Current(ctx context.Context) (models.MotionLevel, error)
}

// DefaultSampleInterval 默认采样间隔
const DefaultSampleInterval = 30 * time.Second

// DefaultLookBack 样本滑动窗口的默认回看时长
const DefaultLookBack = 5 * time.Minute

// Agent 佩戴设备侧的监测代理。
// 每个采样周期拉取体征样本，估计睡眠阶段并评估唤醒决策；
// 每个会话至多发出一次 WakeEvent。本地失效保护计时器独立于
// 传输通道在 deadline 时刻兜底。
//
// 采样回调、消息回调与计时器回调以互斥锁串行化（单写者纪律）。
type Agent struct {
	mu         sync.Mutex
	logger     *zap.Logger
	transport  transport.Transport
	dispatcher notify.Dispatcher
	bio        BiosignalSource
	motion     MotionSource

	sampleInterval time.Duration
	lookBack       time.Duration

	session   *models.WakeSession
	window    []models.Sample
	triggered bool // 会话级幂等标志：触发后的采样周期是空操作，绝不二次发送

	failsafe   *time.Timer
	startTimer *time.Timer
	stopTick   chan struct{}

	now func() time.Time
}

// NewAgent 创建监测代理。采样间隔与回看时长传 0 时使用默认值。
func NewAgent(
	tp transport.Transport,
	dispatcher notify.Dispatcher,
	bio BiosignalSource,
	motion MotionSource,
	sampleInterval time.Duration,
	lookBack time.Duration,
	logger *zap.Logger,
) *Agent {
	if sampleInterval <= 0 {
		sampleInterval = DefaultSampleInterval
	}
	if lookBack <= 0 {
		lookBack = DefaultLookBack
	}
	return &Agent{
		logger:         logger,
		transport:      tp,
		dispatcher:     dispatcher,
		bio:            bio,
		motion:         motion,
		sampleInterval: sampleInterval,
		lookBack:       lookBack,
		now:            time.Now,
	}
}

// Start 订阅来自 host 的消息
func (a *Agent) Start(ctx context.Context) error {
	if err := a.transport.Subscribe(a.handleEnvelope); err != nil {
		a.logger.Warn("Transport subscribe failed", zap.Error(err))
	}
	return nil
}

// Stop 停止采样并清理当前会话
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clearSessionLocked()
}

// handleEnvelope 传输回调：monitor 侧消费 Configure/Cancel/Stop
func (a *Agent) handleEnvelope(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeConfigure:
		session, err := env.DecodeConfigure()
		if err != nil {
			a.logger.Error("Failed to decode configure", zap.Error(err))
			return
		}
		a.OnConfigure(session)
	case protocol.TypeCancel:
		a.OnCancel(env.SessionID)
	case protocol.TypeStop:
		a.OnStop(env.SessionID)
	default:
		a.logger.Debug("Ignoring envelope not addressed to monitor",
			zap.String("type", string(env.Type)),
		)
	}
}

// OnConfigure 接受新的会话配置。
// now 已在 [windowStart, deadline] 内时立即开始采样（会话中途才得知
// 配置的 monitor 不会等待一整个窗口的数据）；否则把采样推迟到
// windowStart。失效保护计时器在 deadline 武装，与传输可用性无关。
func (a *Agent) OnConfigure(session *models.WakeSession) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// 同一会话的重发/重复投递是幂等的
	if a.session != nil && a.session.SessionID == session.SessionID {
		a.logger.Debug("Duplicate configure ignored",
			zap.String("session_id", session.SessionID),
		)
		return
	}

	now := a.now()
	if now.After(session.TargetDeadline) {
		// deadline 已过的配置是陈旧消息，绝不补触发
		a.logger.Info("Dropping configure past deadline",
			zap.String("session_id", session.SessionID),
			zap.Time("deadline", session.TargetDeadline),
		)
		return
	}

	// 新会话取代旧会话
	a.clearSessionLocked()

	a.session = session
	a.triggered = false

	a.failsafe = time.AfterFunc(session.TargetDeadline.Sub(now), a.onFailsafeFired)

	windowStart := session.WindowStart()
	if !now.Before(windowStart) {
		a.beginSamplingLocked()
	} else {
		a.startTimer = time.AfterFunc(windowStart.Sub(now), a.beginSampling)
	}

	a.logger.Info("Session configured",
		zap.String("session_id", session.SessionID),
		zap.Time("deadline", session.TargetDeadline),
		zap.Time("window_start", windowStart),
	)
}

// OnCancel host 要求取消会话
func (a *Agent) OnCancel(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session == nil || a.session.SessionID != sessionID {
		a.logger.Debug("Cancel for non-current session ignored",
			zap.String("session_id", sessionID),
		)
		return
	}
	a.logger.Info("Session cancelled by host",
		zap.String("session_id", sessionID),
	)
	a.clearSessionLocked()
}

// OnStop 用户已响应，host 要求停止
func (a *Agent) OnStop(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session == nil || a.session.SessionID != sessionID {
		a.logger.Debug("Stop for non-current session ignored",
			zap.String("session_id", sessionID),
		)
		return
	}
	a.logger.Info("Session stopped by host",
		zap.String("session_id", sessionID),
	)
	a.clearSessionLocked()
}

func (a *Agent) beginSampling() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.beginSamplingLocked()
}

func (a *Agent) beginSamplingLocked() {
	if a.session == nil || a.triggered || a.stopTick != nil {
		return
	}
	if a.session.State == models.StateConfigured {
		if err := a.session.Transition(models.StateMonitoring); err != nil {
			a.logger.Error("Failed to transition session to monitoring", zap.Error(err))
			return
		}
	}

	stop := make(chan struct{})
	a.stopTick = stop

	go func() {
		ticker := time.NewTicker(a.sampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.onSampleTick()
			case <-stop:
				return
			}
		}
	}()

	a.logger.Info("Sampling started",
		zap.String("session_id", a.session.SessionID),
		zap.Duration("interval", a.sampleInterval),
	)
}

// onSampleTick 单个采样周期：拉取样本 → 窗口淘汰 → 阶段估计 → 唤醒决策
func (a *Agent) onSampleTick() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session == nil || a.triggered {
		return
	}

	now := a.now()
	// deadline 之后不再咨询决策，唤醒由失效保护计时器独占
	if !now.Before(a.session.TargetDeadline) {
		return
	}

	ctx := context.Background()

	motionLevel := models.MotionStill
	if a.motion != nil {
		level, err := a.motion.Current(ctx)
		if err != nil {
			// 传感器缺失非致命：该周期按 still 处理
			a.logger.Debug("Motion source unavailable", zap.Error(err))
		} else {
			motionLevel = level
		}
	}

	var pulled []models.Sample
	if a.bio != nil {
		samples, err := a.bio.PullSamples(ctx)
		if err != nil {
			a.logger.Debug("Biosignal source unavailable", zap.Error(err))
		} else {
			pulled = samples
		}
	}

	if len(pulled) == 0 {
		// 本周期没有心率样本，仍记录一条体动样本
		a.window = append(a.window, models.Sample{Timestamp: now, Motion: motionLevel})
	} else {
		for _, s := range pulled {
			if s.Motion == "" {
				s.Motion = motionLevel
			}
			a.window = append(a.window, s)
		}
	}

	// 淘汰回看时长之外的样本，窗口内存有界
	cutoff := now.Add(-a.lookBack)
	kept := a.window[:0]
	for _, s := range a.window {
		if s.Timestamp.After(cutoff) {
			kept = append(kept, s)
		}
	}
	a.window = kept

	stage := estimator.Estimate(a.window)
	if !policy.ShouldTrigger(stage, now, a.session.WindowStart(), a.session.TargetDeadline) {
		return
	}

	event := &models.WakeEvent{
		SessionID:   a.session.SessionID,
		TriggerTime: now,
		Stage:       stage,
		HeartRate:   latestHeartRate(a.window),
	}
	a.triggerLocked(event)
}

// onFailsafeFired monitor 本地失效保护：会话尚未触发时合成
// stage=unknown 的唤醒事件。这是设备侧的第二道防线，覆盖 host
// 自身失效保护也失效（如进程被挂起）的情况；其正确性是无条件的。
func (a *Agent) onFailsafeFired() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session == nil || a.triggered {
		return
	}

	a.logger.Info("Local failsafe timer fired",
		zap.String("session_id", a.session.SessionID),
		zap.Time("deadline", a.session.TargetDeadline),
	)

	event := &models.WakeEvent{
		SessionID:   a.session.SessionID,
		TriggerTime: a.session.TargetDeadline,
		Stage:       models.StageUnknown,
	}
	a.triggerLocked(event)
}

// triggerLocked 触发路径的公共部分：置幂等标志、停止采样、
// 尽力而为地发送事件并本地通知。发送失败只记日志——host 侧的
// 失效保护会兜底。
func (a *Agent) triggerLocked(event *models.WakeEvent) {
	a.triggered = true
	a.stopSamplingLocked()
	a.disarmTimersLocked()

	if err := a.session.Transition(models.StateTriggered); err != nil {
		a.logger.Error("Failed to transition session to triggered", zap.Error(err))
	}

	env, err := protocol.NewWakeEvent(event)
	if err != nil {
		a.logger.Error("Failed to encode wake event", zap.Error(err))
	} else if err := a.transport.Publish(env); err != nil {
		a.logger.Warn("Failed to send wake event to host",
			zap.String("session_id", event.SessionID),
			zap.Error(err),
		)
	}

	a.dispatcher.Notify("Smart Wake", "Time to wake up", notify.CategoryWakeAlarm)

	a.logger.Info("Wake event emitted",
		zap.String("session_id", event.SessionID),
		zap.Time("trigger_time", event.TriggerTime),
		zap.String("stage", string(event.Stage)),
	)
}

// clearSessionLocked 停止采样、丢弃窗口、清除幂等标志、解除所有计时器
func (a *Agent) clearSessionLocked() {
	a.stopSamplingLocked()
	a.disarmTimersLocked()
	a.session = nil
	a.window = nil
	a.triggered = false
}

func (a *Agent) stopSamplingLocked() {
	if a.stopTick != nil {
		close(a.stopTick)
		a.stopTick = nil
	}
}

func (a *Agent) disarmTimersLocked() {
	if a.failsafe != nil {
		a.failsafe.Stop()
		a.failsafe = nil
	}
	if a.startTimer != nil {
		a.startTimer.Stop()
		a.startTimer = nil
	}
}

func latestHeartRate(window []models.Sample) *int {
	var latest *int
	var latestTS time.Time
	for i := range window {
		if window[i].HeartRate != nil && !window[i].Timestamp.Before(latestTS) {
			latest = window[i].HeartRate
			latestTS = window[i].Timestamp
		}
	}
	return latest
}
