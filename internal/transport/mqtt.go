package transport

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"smartwake/internal/config"
	"smartwake/internal/protocol"
)

// MQTTTransport 基于MQTT的传输实现。
// host 与 monitor 各自持有一个实例，发布话题与订阅话题互为镜像。
type MQTTTransport struct {
	client         mqtt.Client
	publishTopic   string
	subscribeTopic string
	qos            byte
	logger         *zap.Logger
}

// NewMQTTTransport 创建MQTT传输并连接 broker
func NewMQTTTransport(cfg *config.MQTTConfig, publishTopic, subscribeTopic string, logger *zap.Logger) (*MQTTTransport, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &MQTTTransport{
		client:         client,
		publishTopic:   publishTopic,
		subscribeTopic: subscribeTopic,
		qos:            cfg.QoS,
		logger:         logger,
	}, nil
}

// Publish 发布信封到对端话题
func (t *MQTTTransport) Publish(env protocol.Envelope) error {
	if !t.client.IsConnected() {
		return fmt.Errorf("%w: MQTT client disconnected", ErrUnavailable)
	}

	data, err := env.Encode()
	if err != nil {
		return err
	}

	token := t.client.Publish(t.publishTopic, t.qos, false, data)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("%w: failed to publish to topic %s: %v", ErrUnavailable, t.publishTopic, token.Error())
	}

	t.logger.Debug("Published envelope",
		zap.String("topic", t.publishTopic),
		zap.String("type", string(env.Type)),
		zap.String("session_id", env.SessionID),
	)

	return nil
}

// Subscribe 订阅对端话题并注册处理函数
func (t *MQTTTransport) Subscribe(handler Handler) error {
	token := t.client.Subscribe(t.subscribeTopic, t.qos, func(client mqtt.Client, msg mqtt.Message) {
		env, err := protocol.Decode(msg.Payload())
		if err != nil {
			// 解析失败的消息丢弃，不中断订阅
			t.logger.Error("Failed to decode envelope",
				zap.String("topic", msg.Topic()),
				zap.Error(err),
			)
			return
		}
		handler(env)
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", t.subscribeTopic, token.Error())
	}

	t.logger.Info("Subscribed to peer topic",
		zap.String("topic", t.subscribeTopic),
	)

	return nil
}

// Close 断开连接
func (t *MQTTTransport) Close() {
	t.client.Disconnect(250) // 250ms等待时间
}
