package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"smartwake/internal/config"
	"smartwake/internal/host"
	"smartwake/internal/logger"
	"smartwake/internal/notify"
	"smartwake/internal/repository"
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
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "smartwake-host")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Redis（会话持久化与事件流）
	redisClient := store.NewRedisClient(&cfg.Redis)
	if err := store.Ping(ctx, redisClient); err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	sessions := store.NewSessionStore(store.NewRedisKV(redisClient), cfg.SmartWake.PairingID, log)

	opts := host.Options{
		SafetyHorizon: time.Duration(cfg.SmartWake.SafetyHorizon) * time.Hour,
		Events:        store.NewEventPublisher(redisClient, "", log),
	}

	// 4. PostgreSQL（可选：唤醒事件历史）
	var history *repository.WakeEventsRepository
	if cfg.Database.Enabled {
		db, err := sql.Open("postgres", cfg.Database.GetDSN())
		if err != nil {
			log.Fatal("Failed to open database", zap.Error(err))
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		history = repository.NewWakeEventsRepository(db, log)
		opts.History = history
	}

	// 5. MQTT传输（不可达时降级为仅靠失效保护计时）
	var tp transport.Transport
	mqttTransport, err := transport.NewMQTTTransport(&cfg.MQTT, cfg.ToMonitorTopic(), cfg.ToHostTopic(), log)
	if err != nil {
		log.Warn("MQTT broker unreachable, degrading to failsafe-only timing",
			zap.Error(err),
		)
		tp = transport.Unavailable{}
	} else {
		tp = mqttTransport
		defer mqttTransport.Close()
	}

	// 6. 创建协调器并恢复持久化会话
	var dispatcher notify.Dispatcher = notify.NewLogDispatcher(log)
	if cfg.Notify.PushURL != "" {
		dispatcher = notify.NewPushDispatcher(cfg.Notify.PushURL, cfg.Notify.PushToken, log)
	}
	coordinator := host.NewCoordinator(sessions, tp, dispatcher, cfg.SmartWake.PairingID, log, opts)
	if err := coordinator.Start(ctx); err != nil {
		log.Fatal("Failed to start coordinator", zap.Error(err))
	}
	defer coordinator.Stop()

	// 7. HTTP服务
	api := host.NewAPI(coordinator, history, cfg.SmartWake.PairingID, log)
	server := host.NewServer(cfg.HTTP.Addr, api.Routes(), log)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	// 8. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
		)
	case err := <-serverErrChan:
		log.Error("HTTP server error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop HTTP server", zap.Error(err))
	}

	log.Info("Host coordinator stopped")
}
