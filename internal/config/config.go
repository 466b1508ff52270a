package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
}

// DatabaseConfig 数据库配置（可选，用于唤醒事件历史）
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// Config Smart-Wake服务配置（host 与 monitor 共用）
type Config struct {
	Redis    RedisConfig    `yaml:"redis"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Database DatabaseConfig `yaml:"database"`

	SmartWake struct {
		PairingID      string `yaml:"pairing_id"`      // 设备配对ID，话题与缓存键均以其区分
		SampleInterval int    `yaml:"sample_interval"` // 采样间隔（秒），默认 30秒
		LookBack       int    `yaml:"look_back"`       // 样本滑动窗口回看时长（秒），默认 300秒
		SafetyHorizon  int    `yaml:"safety_horizon"`  // 重启恢复的安全时限（小时），默认 24小时
	} `yaml:"smartwake"`

	HTTP struct {
		Addr string `yaml:"addr"` // host 服务监听地址
	} `yaml:"http"`

	Notify struct {
		PushURL   string `yaml:"push_url"` // 推送网关地址，空时通知仅写日志
		PushToken string `yaml:"push_token"`
	} `yaml:"notify"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// ToMonitorTopic host→monitor 方向的MQTT话题
func (c *Config) ToMonitorTopic() string {
	return fmt.Sprintf("smartwake/%s/to-monitor", c.SmartWake.PairingID)
}

// ToHostTopic monitor→host 方向的MQTT话题
func (c *Config) ToHostTopic() string {
	return fmt.Sprintf("smartwake/%s/to-host", c.SmartWake.PairingID)
}

// Load 加载配置：默认值 → 可选的 CONFIG_FILE（YAML）→ 环境变量
func Load() (*Config, error) {
	cfg := &Config{}

	// 默认值
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.DB = 0

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.QoS = 1

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "smartwake"
	cfg.Database.SSLMode = "disable"

	cfg.SmartWake.PairingID = "default"
	cfg.SmartWake.SampleInterval = 30
	cfg.SmartWake.LookBack = 300
	cfg.SmartWake.SafetyHorizon = 24

	cfg.HTTP.Addr = ":8080"

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	// 可选的 YAML 配置文件
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// 环境变量覆盖
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", cfg.MQTT.Password)

	if enabled := os.Getenv("DB_ENABLED"); enabled != "" {
		cfg.Database.Enabled = enabled == "true"
	}
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	if port := os.Getenv("DB_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &cfg.Database.Port)
	}
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnv("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)

	cfg.SmartWake.PairingID = getEnv("PAIRING_ID", cfg.SmartWake.PairingID)
	if v := os.Getenv("SAMPLE_INTERVAL"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.SmartWake.SampleInterval)
	}
	if v := os.Getenv("LOOK_BACK"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.SmartWake.LookBack)
	}
	if v := os.Getenv("SAFETY_HORIZON"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.SmartWake.SafetyHorizon)
	}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)

	cfg.Notify.PushURL = getEnv("PUSH_URL", cfg.Notify.PushURL)
	cfg.Notify.PushToken = getEnv("PUSH_TOKEN", cfg.Notify.PushToken)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
