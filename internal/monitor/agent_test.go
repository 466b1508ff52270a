package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartwake/internal/models"
	"smartwake/internal/protocol"
	"smartwake/internal/transport"
)

// fakeTransport 记录发布的信封
type fakeTransport struct {
	mu        sync.Mutex
	published []protocol.Envelope
	handler   transport.Handler
}

func (f *fakeTransport) Publish(env protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, env)
	return nil
}

func (f *fakeTransport) Subscribe(handler transport.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	return nil
}

func (f *fakeTransport) Close() {}

func (f *fakeTransport) wakeEvents() []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Envelope
	for _, env := range f.published {
		if env.Type == protocol.TypeWakeEvent {
			out = append(out, env)
		}
	}
	return out
}

// fakeDispatcher 记录通知
type fakeDispatcher struct {
	mu            sync.Mutex
	notifications []string
}

func (f *fakeDispatcher) Notify(title, body, category string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, category)
}

func (f *fakeDispatcher) count(category string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.notifications {
		if c == category {
			n++
		}
	}
	return n
}

// scriptedBio 按调用次序返回预设的样本批次，脚本耗尽后返回 defaultBatch
type scriptedBio struct {
	mu           sync.Mutex
	batches      [][]models.Sample
	defaultBatch func() []models.Sample
	calls        int
}

func (s *scriptedBio) PullSamples(ctx context.Context) ([]models.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.batches) > 0 {
		batch := s.batches[0]
		s.batches = s.batches[1:]
		return batch, nil
	}
	if s.defaultBatch != nil {
		return s.defaultBatch(), nil
	}
	return nil, nil
}

func (s *scriptedBio) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stillMotion 始终返回 still
type stillMotion struct{}

func (stillMotion) Current(ctx context.Context) (models.MotionLevel, error) {
	return models.MotionStill, nil
}

func intPtr(v int) *int { return &v }

func flatSample(hr int) models.Sample {
	return models.Sample{Timestamp: time.Now(), HeartRate: intPtr(hr), Motion: models.MotionStill}
}

func setupAgent(t *testing.T, bio BiosignalSource, interval time.Duration) (*Agent, *fakeTransport, *fakeDispatcher) {
	tp := &fakeTransport{}
	dispatcher := &fakeDispatcher{}
	agent := NewAgent(tp, dispatcher, bio, stillMotion{}, interval, DefaultLookBack, zap.NewNop())
	require.NoError(t, agent.Start(context.Background()))
	t.Cleanup(agent.Stop)
	return agent, tp, dispatcher
}

func configureSession(deadline time.Time, window time.Duration) *models.WakeSession {
	return &models.WakeSession{
		SessionID:      "session-1",
		TargetDeadline: deadline,
		Window:         window,
		Enabled:        true,
		State:          models.StateConfigured,
	}
}

func TestScenarioA_PartialMovementTriggersLight(t *testing.T) {
	// 心率平稳、体动 still 时保持 deep；单个样本出现 light 体动
	// （partialMovement 且 variation < 5）后，该采样周期必须触发，
	// 且严格早于 deadline
	bio := &scriptedBio{
		batches: [][]models.Sample{
			{flatSample(60), flatSample(60), flatSample(60)}, // → deep
			nil, // 无新样本 → 仍 deep
			{{Timestamp: time.Now(), HeartRate: intPtr(62), Motion: models.MotionLight}}, // → light
		},
	}
	agent, tp, dispatcher := setupAgent(t, bio, 20*time.Millisecond)

	deadline := time.Now().Add(500 * time.Millisecond)
	agent.OnConfigure(configureSession(deadline, 400*time.Millisecond))

	require.Eventually(t, func() bool {
		return len(tp.wakeEvents()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	events := tp.wakeEvents()
	event, err := events[0].DecodeWakeEvent()
	require.NoError(t, err)
	assert.Equal(t, "session-1", event.SessionID)
	assert.Equal(t, models.StageLight, event.Stage)
	assert.True(t, event.TriggerTime.Before(deadline))
	require.NotNil(t, event.HeartRate)
	assert.Equal(t, 62, *event.HeartRate)

	// 触发后幂等：等过 deadline 也绝不二次发送
	time.Sleep(time.Until(deadline) + 100*time.Millisecond)
	assert.Len(t, tp.wakeEvents(), 1)
	assert.Equal(t, 1, dispatcher.count("wake_alarm"))
}

func TestScenarioB_DeepBlocksLastChance_FailsafeAtDeadline(t *testing.T) {
	// 心率与体动始终平稳：阶段保持 deep，最后机会规则不触发，
	// 唤醒事件恰好在 deadline 由本地失效保护产生
	bio := &scriptedBio{
		batches: [][]models.Sample{
			{flatSample(60), flatSample(60), flatSample(60)},
		},
		defaultBatch: func() []models.Sample {
			return []models.Sample{flatSample(60)}
		},
	}
	agent, tp, _ := setupAgent(t, bio, 20*time.Millisecond)

	// 线格式时间戳精确到毫秒，对齐后才能做相等比较
	deadline := time.Now().Add(300 * time.Millisecond).Truncate(time.Millisecond)
	agent.OnConfigure(configureSession(deadline, 250*time.Millisecond))

	require.Eventually(t, func() bool {
		return len(tp.wakeEvents()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	event, err := tp.wakeEvents()[0].DecodeWakeEvent()
	require.NoError(t, err)
	assert.Equal(t, models.StageUnknown, event.Stage)
	assert.True(t, event.TriggerTime.Equal(deadline))
}

func TestOnConfigure_DelaysSamplingUntilWindowStart(t *testing.T) {
	bio := &scriptedBio{}
	agent, _, _ := setupAgent(t, bio, 20*time.Millisecond)

	// windowStart 在 200ms 之后
	deadline := time.Now().Add(500 * time.Millisecond)
	agent.OnConfigure(configureSession(deadline, 300*time.Millisecond))

	// 窗口开始前不采样
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, bio.callCount())

	// 窗口开始后开始采样
	require.Eventually(t, func() bool {
		return bio.callCount() > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOnConfigure_MidWindowStartsImmediately(t *testing.T) {
	bio := &scriptedBio{}
	agent, _, _ := setupAgent(t, bio, 20*time.Millisecond)

	// now 已在窗口内：立即开始采样，不等待一整个窗口的数据
	deadline := time.Now().Add(200 * time.Millisecond)
	agent.OnConfigure(configureSession(deadline, 200*time.Millisecond))

	require.Eventually(t, func() bool {
		return bio.callCount() > 0
	}, time.Second, 5*time.Millisecond)
}

func TestOnConfigure_PastDeadlineDropped(t *testing.T) {
	bio := &scriptedBio{}
	agent, tp, dispatcher := setupAgent(t, bio, 20*time.Millisecond)

	// deadline 已过的陈旧配置：绝不补触发
	deadline := time.Now().Add(-time.Minute)
	agent.OnConfigure(configureSession(deadline, 30*time.Second))

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, tp.wakeEvents())
	assert.Equal(t, 0, dispatcher.count("wake_alarm"))
}

func TestOnConfigure_DuplicateIsIdempotent(t *testing.T) {
	bio := &scriptedBio{
		defaultBatch: func() []models.Sample {
			return []models.Sample{flatSample(60)}
		},
	}
	agent, tp, _ := setupAgent(t, bio, 20*time.Millisecond)

	deadline := time.Now().Add(250 * time.Millisecond)
	session := configureSession(deadline, 200*time.Millisecond)
	agent.OnConfigure(session)
	// 重发同一会话的 Configure
	duplicate := *session
	agent.OnConfigure(&duplicate)

	require.Eventually(t, func() bool {
		return len(tp.wakeEvents()) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// 重复配置不得产生第二个事件
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, tp.wakeEvents(), 1)
}

func TestOnCancel_StopsSamplingAndFailsafe(t *testing.T) {
	bio := &scriptedBio{}
	agent, tp, dispatcher := setupAgent(t, bio, 20*time.Millisecond)

	deadline := time.Now().Add(200 * time.Millisecond)
	agent.OnConfigure(configureSession(deadline, 150*time.Millisecond))
	agent.OnCancel("session-1")

	// 取消后等过 deadline：没有任何唤醒事件
	time.Sleep(time.Until(deadline) + 150*time.Millisecond)
	assert.Empty(t, tp.wakeEvents())
	assert.Equal(t, 0, dispatcher.count("wake_alarm"))
}

func TestOnCancel_NonCurrentSessionIgnored(t *testing.T) {
	bio := &scriptedBio{}
	agent, tp, _ := setupAgent(t, bio, 20*time.Millisecond)

	deadline := time.Now().Add(200 * time.Millisecond)
	agent.OnConfigure(configureSession(deadline, 150*time.Millisecond))

	// 其他会话的 Cancel 不影响当前会话：失效保护仍在 deadline 触发
	agent.OnCancel("session-other")

	require.Eventually(t, func() bool {
		return len(tp.wakeEvents()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleEnvelope_ConfigureViaTransport(t *testing.T) {
	bio := &scriptedBio{}
	_, tp, _ := setupAgent(t, bio, 20*time.Millisecond)

	session := configureSession(time.Now().Add(200*time.Millisecond), 150*time.Millisecond)
	env, err := protocol.NewConfigure(session)
	require.NoError(t, err)

	// 经传输通道投递 Configure，失效保护照常工作
	require.NotNil(t, tp.handler)
	tp.handler(env)

	require.Eventually(t, func() bool {
		return len(tp.wakeEvents()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
