package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smartwake/internal/models"
	"smartwake/internal/notify"
	"smartwake/internal/protocol"
	"smartwake/internal/repository"
	"smartwake/internal/store"
	"smartwake/internal/transport"
)

var (
	// ErrInvalidSchedule deadline/window 非法，调用被拒绝，什么都不会被调度
	ErrInvalidSchedule = errors.New("invalid schedule")
	// ErrStaleEvent 事件属于非当前会话，丢弃并记录日志，绝不上抛给用户
	ErrStaleEvent = errors.New("stale wake event")
	// ErrNoActiveSession 当前没有活动会话
	ErrNoActiveSession = errors.New("no active session")
	// ErrNotTriggered 会话尚未触发，无法响应
	ErrNotTriggered = errors.New("session not triggered")
)

// DefaultSafetyHorizon 重启恢复时丢弃陈旧会话记录的默认安全时限
const DefaultSafetyHorizon = 24 * time.Hour

// Options Coordinator 可选依赖
type Options struct {
	SafetyHorizon time.Duration                    // 默认 24h
	History       *repository.WakeEventsRepository // 可选：唤醒事件历史
	Events        *store.EventPublisher            // 可选：唤醒事件流
}

// ScheduleResult ScheduleWake 的结果
type ScheduleResult struct {
	Session           models.WakeSession
	TransportDegraded bool   // 调度时对端不可达（仅提示，调度仍然生效）
	Advisory          string // 给用户的提示文案
}

// Coordinator 主设备侧的唤醒协调器。
// 拥有会话的创建/取消/响应，消费 monitor 上报的唤醒事件，
// 并维护本地失效保护计时器：无论连通性如何，用户最迟在 deadline 被唤醒。
//
// 公开操作内部以互斥锁串行化（消息回调、计时器回调、用户操作共用
// 同一份会话状态，单写者纪律），但方法本身对调用方不可重入。
type Coordinator struct {
	mu         sync.Mutex
	logger     *zap.Logger
	sessions   *store.SessionStore
	transport  transport.Transport
	dispatcher notify.Dispatcher
	history    *repository.WakeEventsRepository
	events     *store.EventPublisher
	pairingID  string

	safetyHorizon time.Duration
	session       *models.WakeSession
	lastEvent     *models.WakeEvent
	failsafe      *time.Timer
	onTriggered   func(models.WakeEvent)

	now func() time.Time
}

// NewCoordinator 创建协调器
func NewCoordinator(
	sessions *store.SessionStore,
	tp transport.Transport,
	dispatcher notify.Dispatcher,
	pairingID string,
	logger *zap.Logger,
	opts Options,
) *Coordinator {
	horizon := opts.SafetyHorizon
	if horizon <= 0 {
		horizon = DefaultSafetyHorizon
	}
	return &Coordinator{
		logger:        logger,
		sessions:      sessions,
		transport:     tp,
		dispatcher:    dispatcher,
		history:       opts.History,
		events:        opts.Events,
		pairingID:     pairingID,
		safetyHorizon: horizon,
		now:           time.Now,
	}
}

// SetTriggerHandler 注册触发回调（显式订阅，取代广播式事件通知）。
// 回调在触发路径上同步调用，必须在 Start/ScheduleWake 之前注册。
func (c *Coordinator) SetTriggerHandler(handler func(models.WakeEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTriggered = handler
}

// Start 订阅传输通道并恢复持久化的会话。
// 传输不可用不致命：系统降级为仅靠本地失效保护计时。
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.transport.Subscribe(c.handleEnvelope); err != nil {
		c.logger.Warn("Transport subscribe failed, running on failsafe only",
			zap.Error(err),
		)
	}
	return c.resume(ctx)
}

// Stop 解除失效保护计时器（传输通道由外层负责关闭）
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disarmFailsafeLocked()
}

// resume 重启语义：重新加载持久化会话。
// deadline 已过：标记 Expired，绝不补触发；超过安全时限：直接丢弃记录；
// 仍在窗口内：重发 Configure 并为剩余时间重新武装失效保护。
func (c *Coordinator) resume(ctx context.Context) error {
	session, err := c.sessions.LoadSession(ctx)
	if err != nil {
		if errors.Is(err, store.ErrMiss) {
			return nil
		}
		return err
	}

	lastEvent, err := c.sessions.LoadLastEvent(ctx)
	if err == nil {
		c.mu.Lock()
		c.lastEvent = lastEvent
		c.mu.Unlock()
	} else if !errors.Is(err, store.ErrMiss) {
		c.logger.Warn("Failed to load last wake event", zap.Error(err))
	}

	if !session.IsActive() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if now.After(session.TargetDeadline.Add(c.safetyHorizon)) {
		// 超过安全时限的陈旧记录整体丢弃
		if err := c.sessions.DeleteSession(ctx); err != nil {
			c.logger.Warn("Failed to discard stale session", zap.Error(err))
		}
		c.logger.Info("Discarded session past safety horizon",
			zap.String("session_id", session.SessionID),
		)
		return nil
	}

	if now.After(session.TargetDeadline) {
		if err := session.Transition(models.StateExpired); err != nil {
			return err
		}
		if err := c.sessions.SaveSession(ctx, session); err != nil {
			c.logger.Warn("Failed to persist expired session", zap.Error(err))
		}
		c.logger.Info("Session expired during downtime, not re-triggering",
			zap.String("session_id", session.SessionID),
			zap.Time("deadline", session.TargetDeadline),
		)
		return nil
	}

	c.session = session

	if session.State == models.StateTriggered {
		// 已触发、等待用户响应的会话不重发 Configure：
		// 重启后的 monitor 会重新进入唤醒路径并二次告警
		c.logger.Info("Resumed triggered session awaiting response",
			zap.String("session_id", session.SessionID),
		)
		return nil
	}

	c.armFailsafeLocked(session)
	c.sendConfigureLocked(session)
	c.logger.Info("Resumed active session",
		zap.String("session_id", session.SessionID),
		zap.Time("deadline", session.TargetDeadline),
	)
	return nil
}

// ScheduleWake 创建新的唤醒会话，取代任何已有的活动会话。
// deadline 必须在未来，0 < window <= deadline - now。
func (c *Coordinator) ScheduleWake(ctx context.Context, deadline time.Time, window time.Duration) (*ScheduleResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !deadline.After(now) {
		return nil, fmt.Errorf("%w: deadline must be in the future", ErrInvalidSchedule)
	}
	if window <= 0 {
		return nil, fmt.Errorf("%w: window must be positive", ErrInvalidSchedule)
	}
	if window > deadline.Sub(now) {
		return nil, fmt.Errorf("%w: window exceeds time until deadline", ErrInvalidSchedule)
	}

	// 取代已有的活动会话（尽力而为地通知 monitor 取消）
	if c.session != nil && c.session.IsActive() {
		c.cancelSessionLocked(ctx)
	}

	session := &models.WakeSession{
		SessionID:      uuid.New().String(),
		TargetDeadline: deadline,
		Window:         window,
		Enabled:        true,
		State:          models.StateConfigured,
	}

	if err := c.sessions.SaveSession(ctx, session); err != nil {
		return nil, err
	}

	c.session = session
	c.lastEvent = nil
	c.armFailsafeLocked(session)

	result := &ScheduleResult{Session: *session}
	if err := c.sendConfigureLocked(session); err != nil {
		// 对端不可达仅提示，host 侧失效保护仍然保证 deadline 唤醒
		result.TransportDegraded = true
		result.Advisory = "companion device unreachable; wake is guaranteed at the deadline only"
		c.dispatcher.Notify("Smart Wake", result.Advisory, notify.CategoryAdvisory)
	}

	c.logger.Info("Wake session scheduled",
		zap.String("session_id", session.SessionID),
		zap.Time("deadline", deadline),
		zap.Duration("window", window),
		zap.Bool("transport_degraded", result.TransportDegraded),
	)

	return result, nil
}

// CancelWake 取消当前会话；没有活动会话时为幂等的空操作
func (c *Coordinator) CancelWake(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || !c.session.IsActive() {
		c.logger.Debug("CancelWake with no active session")
		return nil
	}
	return c.cancelSessionLocked(ctx)
}

func (c *Coordinator) cancelSessionLocked(ctx context.Context) error {
	session := c.session
	if err := session.Transition(models.StateCancelled); err != nil {
		return err
	}
	c.disarmFailsafeLocked()
	if err := c.sessions.SaveSession(ctx, session); err != nil {
		c.logger.Warn("Failed to persist cancelled session", zap.Error(err))
	}
	if err := c.transport.Publish(protocol.NewCancel(session.SessionID)); err != nil {
		c.logger.Warn("Failed to send cancel to monitor",
			zap.String("session_id", session.SessionID),
			zap.Error(err),
		)
	}
	c.logger.Info("Wake session cancelled",
		zap.String("session_id", session.SessionID),
	)
	return nil
}

// OnWakeEventReceived 消费 monitor 上报的唤醒事件。
// 非当前会话的事件返回 ErrStaleEvent（只记日志，不面向用户）；
// 重复投递同一会话的事件只有第一次改变状态。
func (c *Coordinator) OnWakeEventReceived(ctx context.Context, event *models.WakeEvent) error {
	c.mu.Lock()

	if c.session == nil || c.session.SessionID != event.SessionID {
		c.mu.Unlock()
		c.logger.Info("Dropping wake event for non-current session",
			zap.String("event_session_id", event.SessionID),
		)
		return ErrStaleEvent
	}
	if c.session.State == models.StateTriggered || c.session.State.IsTerminal() {
		// 重复投递：幂等，无操作
		c.mu.Unlock()
		c.logger.Debug("Duplicate wake event ignored",
			zap.String("session_id", event.SessionID),
		)
		return nil
	}

	handler := c.triggerLocked(ctx, event)
	c.mu.Unlock()

	if handler != nil {
		handler()
	}
	return nil
}

// onFailsafeFired host 侧失效保护：monitor 的事件没有到达时，
// 在 deadline 时刻合成 stage=unknown 的本地唤醒事件。
// 这是系统唯一的硬实时契约。
func (c *Coordinator) onFailsafeFired() {
	c.mu.Lock()

	if c.session == nil || !c.session.IsActive() || c.session.State == models.StateTriggered {
		c.mu.Unlock()
		return
	}

	session := c.session
	event := &models.WakeEvent{
		SessionID:   session.SessionID,
		TriggerTime: session.TargetDeadline,
		Stage:       models.StageUnknown,
	}
	c.logger.Info("Host failsafe timer fired",
		zap.String("session_id", session.SessionID),
		zap.Time("deadline", session.TargetDeadline),
	)

	handler := c.triggerLocked(context.Background(), event)
	c.mu.Unlock()

	if handler != nil {
		handler()
	}
}

// triggerLocked 触发路径的公共部分：状态迁移、持久化、通知。
// 返回待在锁外调用的触发回调（回调可能回调 Coordinator 本身）。
func (c *Coordinator) triggerLocked(ctx context.Context, event *models.WakeEvent) func() {
	if err := c.session.Transition(models.StateTriggered); err != nil {
		c.logger.Error("Failed to transition session to triggered", zap.Error(err))
		return nil
	}
	c.disarmFailsafeLocked()
	c.lastEvent = event

	if err := c.sessions.SaveSession(ctx, c.session); err != nil {
		c.logger.Warn("Failed to persist triggered session", zap.Error(err))
	}
	if err := c.sessions.SaveLastEvent(ctx, event); err != nil {
		c.logger.Warn("Failed to persist wake event", zap.Error(err))
	}

	c.dispatcher.Notify("Smart Wake", "Time to wake up", notify.CategoryWakeAlarm)

	c.logger.Info("Wake session triggered",
		zap.String("session_id", event.SessionID),
		zap.Time("trigger_time", event.TriggerTime),
		zap.String("stage", string(event.Stage)),
	)

	if c.onTriggered == nil {
		return nil
	}
	cb := c.onTriggered
	ev := *event
	return func() { cb(ev) }
}

// RespondToWake 用户响应唤醒。仅在 Triggered 状态下有效：
// 计算响应延迟，迁移到 Responded，向 monitor 发送 Stop，持久化最终事件。
func (c *Coordinator) RespondToWake(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return ErrNoActiveSession
	}
	if c.session.State != models.StateTriggered {
		return ErrNotTriggered
	}

	if c.lastEvent == nil {
		// 触发与事件落盘之间崩溃的恢复路径：事件记录丢失，
		// 合成不带延迟信息的最终事件
		c.lastEvent = &models.WakeEvent{
			SessionID:   c.session.SessionID,
			TriggerTime: c.session.TargetDeadline,
			Stage:       models.StageUnknown,
		}
	} else {
		latency := c.now().Sub(c.lastEvent.TriggerTime).Milliseconds()
		c.lastEvent.ResponseLatencyMS = &latency
	}

	if err := c.session.Transition(models.StateResponded); err != nil {
		return err
	}
	c.disarmFailsafeLocked()

	if err := c.sessions.SaveSession(ctx, c.session); err != nil {
		c.logger.Warn("Failed to persist responded session", zap.Error(err))
	}
	if err := c.sessions.SaveLastEvent(ctx, c.lastEvent); err != nil {
		c.logger.Warn("Failed to persist final wake event", zap.Error(err))
	}

	if err := c.transport.Publish(protocol.NewStop(c.session.SessionID)); err != nil {
		c.logger.Warn("Failed to send stop to monitor",
			zap.String("session_id", c.session.SessionID),
			zap.Error(err),
		)
	}

	// 历史与事件流均为尽力而为的旁路
	if c.history != nil {
		if err := c.history.CreateWakeEvent(ctx, c.pairingID, c.lastEvent); err != nil {
			c.logger.Warn("Failed to record wake event history", zap.Error(err))
		}
	}
	if c.events != nil {
		if _, err := c.events.Publish(ctx, c.lastEvent); err != nil {
			c.logger.Warn("Failed to publish wake event to stream", zap.Error(err))
		}
	}

	c.logger.Info("Wake responded",
		zap.String("session_id", c.session.SessionID),
		zap.Int64p("response_latency_ms", c.lastEvent.ResponseLatencyMS),
	)

	return nil
}

// Session 当前会话的快照，没有时返回 nil
func (c *Coordinator) Session() *models.WakeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	snapshot := *c.session
	return &snapshot
}

// LastEvent 最近一次唤醒事件的快照，没有时返回 nil
func (c *Coordinator) LastEvent() *models.WakeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastEvent == nil {
		return nil
	}
	snapshot := *c.lastEvent
	return &snapshot
}

// handleEnvelope 传输回调：host 侧只消费 WakeEvent
func (c *Coordinator) handleEnvelope(env protocol.Envelope) {
	if env.Type != protocol.TypeWakeEvent {
		c.logger.Debug("Ignoring envelope not addressed to host",
			zap.String("type", string(env.Type)),
		)
		return
	}
	event, err := env.DecodeWakeEvent()
	if err != nil {
		c.logger.Error("Failed to decode wake event", zap.Error(err))
		return
	}
	if err := c.OnWakeEventReceived(context.Background(), event); err != nil {
		// 陈旧事件只记日志
		c.logger.Debug("Wake event dropped", zap.Error(err))
	}
}

func (c *Coordinator) sendConfigureLocked(session *models.WakeSession) error {
	env, err := protocol.NewConfigure(session)
	if err != nil {
		return err
	}
	if err := c.transport.Publish(env); err != nil {
		c.logger.Warn("Failed to send configure to monitor",
			zap.String("session_id", session.SessionID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (c *Coordinator) armFailsafeLocked(session *models.WakeSession) {
	c.disarmFailsafeLocked()
	d := session.TargetDeadline.Sub(c.now())
	if d < 0 {
		d = 0
	}
	c.failsafe = time.AfterFunc(d, c.onFailsafeFired)
}

func (c *Coordinator) disarmFailsafeLocked() {
	if c.failsafe != nil {
		c.failsafe.Stop()
		c.failsafe = nil
	}
}
