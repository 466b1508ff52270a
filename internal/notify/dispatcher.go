package notify

import "go.uber.org/zap"

// 通知类别
const (
	CategoryWakeAlarm = "wake_alarm"
	CategoryAdvisory  = "advisory"
)

// Dispatcher 通知分发器（fire-and-forget，送达不回传）
type Dispatcher interface {
	Notify(title, body, category string)
}

// LogDispatcher 把通知写入日志的实现（通知投递机制由外围应用负责）
type LogDispatcher struct {
	logger *zap.Logger
}

func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Notify(title, body, category string) {
	d.logger.Info("Notification dispatched",
		zap.String("title", title),
		zap.String("body", body),
		zap.String("category", category),
	)
}
