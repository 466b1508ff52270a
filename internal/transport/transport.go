package transport

import (
	"errors"

	"smartwake/internal/protocol"
)

// ErrUnavailable 表示传输通道当前不可达（非致命：系统降级为仅靠失效保护计时）
var ErrUnavailable = errors.New("transport unavailable")

// Handler 信封处理函数
type Handler func(env protocol.Envelope)

// Transport host 与 monitor 之间的抽象异步通道。
// 发送是 fire-and-forget：不要求确认，失效保护计时器替代了重试。
type Transport interface {
	// Publish 向对端发送信封，尽力而为
	Publish(env protocol.Envelope) error
	// Subscribe 注册来自对端的信封处理函数
	Subscribe(handler Handler) error
	// Close 关闭通道
	Close()
}

// Unavailable 始终不可达的占位传输。
// broker 连接失败时 host 用它降级运行：唤醒退化为失效保护计时，
// 正确性不受影响。
type Unavailable struct{}

func (Unavailable) Publish(env protocol.Envelope) error { return ErrUnavailable }
func (Unavailable) Subscribe(handler Handler) error     { return ErrUnavailable }
func (Unavailable) Close()                              {}
