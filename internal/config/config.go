package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig 数据库配置（外部设置存储）
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置（本地 KV 存储 + 事件流）
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置（短信网关接入）
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// 服务角色
const (
	RoleController = "controller"
	RoleResponder  = "responder"
	RoleBoth       = "both"
)

// 短信出站通道类型
const (
	SMSTransportMQTT = "mqtt"
	SMSTransportHTTP = "http"
)

// Config rakshak 服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	// 角色：controller（发起位置检查）、responder（自动回复位置）、both
	Role string

	// HTTP API 监听地址
	HTTPAddr string

	SMS struct {
		// 短信发送通道：mqtt（网关 outbound 主题）或 http（网关 REST API）
		Transport string
		// MQTT 网关配置
		GatewayID     string // 出站网关 ID，如 "gw-1"
		InboundTopic  string // 入站订阅主题，默认 "sms/+/inbound"
		OutboundTopic string // 出站主题模板，默认 "sms/%s/outbound"
		// HTTP 网关配置
		HTTPBaseURL string
		HTTPAPIKey  string
	}

	Position struct {
		// GPS 网关 REST API 地址（responder 角色使用）
		BaseURL      string
		HighAccuracy bool
		TimeoutMs    int
		MaxAgeMs     int
	}

	Engine struct {
		// 轮询兜底：间隔与超时（毫秒）
		PollIntervalMs int
		PollTimeoutMs  int
		// 持久化后对外部存储的延迟对账（毫秒，0 表示立即）
		ReconcileDelayMs int

		// 入站事件流配置（Redis Streams）
		EventStream   string // 事件流名称，如 "sms:inbound:stream"
		ConsumerGroup string // 消费者组名称，如 "rakshak-group"
		ConsumerName  string // 消费者名称，如 "rakshak-1"
		BatchSize     int    // 批量处理大小，默认 10
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "rakshak")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "rakshak")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	cfg.Role = getEnv("ROLE", RoleController)
	if cfg.Role != RoleController && cfg.Role != RoleResponder && cfg.Role != RoleBoth {
		return nil, fmt.Errorf("invalid ROLE: %s (expected controller, responder or both)", cfg.Role)
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8089")

	cfg.SMS.Transport = getEnv("SMS_TRANSPORT", SMSTransportMQTT)
	if cfg.SMS.Transport != SMSTransportMQTT && cfg.SMS.Transport != SMSTransportHTTP {
		return nil, fmt.Errorf("invalid SMS_TRANSPORT: %s (expected mqtt or http)", cfg.SMS.Transport)
	}
	cfg.SMS.GatewayID = getEnv("SMS_GATEWAY_ID", "gw-1")
	cfg.SMS.InboundTopic = getEnv("SMS_INBOUND_TOPIC", "sms/+/inbound")
	cfg.SMS.OutboundTopic = getEnv("SMS_OUTBOUND_TOPIC", "sms/%s/outbound")
	cfg.SMS.HTTPBaseURL = getEnv("SMS_HTTP_BASE_URL", "")
	cfg.SMS.HTTPAPIKey = getEnv("SMS_HTTP_API_KEY", "")

	cfg.Position.BaseURL = getEnv("POSITION_BASE_URL", "")
	cfg.Position.HighAccuracy = getEnv("POSITION_HIGH_ACCURACY", "true") == "true"
	cfg.Position.TimeoutMs = getEnvInt("POSITION_TIMEOUT_MS", 15000)
	cfg.Position.MaxAgeMs = getEnvInt("POSITION_MAX_AGE_MS", 10000)

	cfg.Engine.PollIntervalMs = getEnvInt("POLL_INTERVAL_MS", 2000)
	cfg.Engine.PollTimeoutMs = getEnvInt("POLL_TIMEOUT_MS", 60000)
	cfg.Engine.ReconcileDelayMs = getEnvInt("RECONCILE_DELAY_MS", 2000)
	cfg.Engine.EventStream = getEnv("SMS_EVENT_STREAM", "sms:inbound:stream")
	cfg.Engine.ConsumerGroup = getEnv("SMS_CONSUMER_GROUP", "rakshak-group")
	cfg.Engine.ConsumerName = getEnv("SMS_CONSUMER_NAME", "rakshak-1")
	cfg.Engine.BatchSize = getEnvInt("SMS_BATCH_SIZE", 10)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}
