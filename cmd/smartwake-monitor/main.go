package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"smartwake/internal/config"
	"smartwake/internal/logger"
	"smartwake/internal/monitor"
	"smartwake/internal/notify"
	"smartwake/internal/sensors"
	"smartwake/internal/store"
	"smartwake/internal/transport"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "smartwake-monitor")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Redis（采集固件写入的实时体征缓存）
	redisClient := store.NewRedisClient(&cfg.Redis)
	if err := store.Ping(ctx, redisClient); err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	vitals := sensors.NewRedisVitalsSource(redisClient, cfg.SmartWake.PairingID, log)

	// 4. MQTT传输（monitor 依赖传输接收 Configure，连接失败直接退出）
	tp, err := transport.NewMQTTTransport(&cfg.MQTT, cfg.ToHostTopic(), cfg.ToMonitorTopic(), log)
	if err != nil {
		log.Fatal("Failed to connect to MQTT broker", zap.Error(err))
	}
	defer tp.Close()

	// 5. 创建监测代理
	dispatcher := notify.NewLogDispatcher(log)
	agent := monitor.NewAgent(
		tp,
		dispatcher,
		vitals,
		vitals,
		time.Duration(cfg.SmartWake.SampleInterval)*time.Second,
		time.Duration(cfg.SmartWake.LookBack)*time.Second,
		log,
	)
	if err := agent.Start(ctx); err != nil {
		log.Fatal("Failed to start agent", zap.Error(err))
	}
	defer agent.Stop()

	log.Info("Monitor agent started",
		zap.String("pairing_id", cfg.SmartWake.PairingID),
		zap.Int("sample_interval_sec", cfg.SmartWake.SampleInterval),
	)

	// 6. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received signal, shutting down",
		zap.String("signal", sig.String()),
	)

	log.Info("Monitor agent stopped")
}
