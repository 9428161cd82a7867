package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/himanshuu932/rakshak/internal/config"
	"github.com/himanshuu932/rakshak/internal/locparse"
	"github.com/himanshuu932/rakshak/internal/models"
	"github.com/himanshuu932/rakshak/internal/mqtt"
	"github.com/himanshuu932/rakshak/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// gatewayMessage 短信网关的入站载荷
type gatewayMessage struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"` // epoch 毫秒，缺省用接收时间
}

// PhoneResolver 入站号码到已登记联系人的解析接口
type PhoneResolver interface {
	FindByPhone(ctx context.Context, phoneNumber string) (*models.Contact, error)
}

// GatewayConsumer 订阅短信网关的 MQTT 入站主题，
// 规范化为内部事件后写入 Redis Streams 供关联引擎消费
type GatewayConsumer struct {
	mqttClient  *mqtt.Client
	redisClient *redis.Client
	resolver    PhoneResolver
	config      *config.Config
	logger      *zap.Logger
}

// NewGatewayConsumer 创建网关消费者
func NewGatewayConsumer(mqttClient *mqtt.Client, redisClient *redis.Client, resolver PhoneResolver, cfg *config.Config, logger *zap.Logger) *GatewayConsumer {
	return &GatewayConsumer{
		mqttClient:  mqttClient,
		redisClient: redisClient,
		resolver:    resolver,
		config:      cfg,
		logger:      logger,
	}
}

// Start 订阅入站主题
func (c *GatewayConsumer) Start() error {
	topic := c.config.SMS.InboundTopic
	if err := c.mqttClient.Subscribe(topic, 1, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to inbound topic: %w", err)
	}
	c.logger.Info("Gateway consumer started", zap.String("topic", topic))
	return nil
}

// Stop 取消订阅
func (c *GatewayConsumer) Stop() {
	if err := c.mqttClient.Unsubscribe(c.config.SMS.InboundTopic); err != nil {
		c.logger.Warn("Failed to unsubscribe from inbound topic", zap.Error(err))
	}
}

// handleMessage 处理一条网关消息：解码、富化、入流
func (c *GatewayConsumer) handleMessage(topic string, payload []byte) error {
	var msg gatewayMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal gateway message: %w", err)
	}
	if msg.From == "" {
		return fmt.Errorf("gateway message missing sender address")
	}

	event := c.buildEvent(&msg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msgID, err := store.PublishJSONToStream(ctx, c.redisClient, c.config.Engine.EventStream, event)
	if err != nil {
		return fmt.Errorf("failed to publish inbound event: %w", err)
	}

	c.logger.Debug("Inbound SMS queued",
		zap.String("topic", topic),
		zap.String("source", event.SourceAddress),
		zap.String("stream_id", msgID),
		zap.Bool("parsed", event.Parsed),
	)
	return nil
}

// buildEvent 组装入站事件：尽早解析正文，关联失败不阻塞入流
func (c *GatewayConsumer) buildEvent(msg *gatewayMessage) *models.InboundEvent {
	ts := msg.Timestamp
	if ts <= 0 {
		ts = time.Now().UnixMilli()
	}

	event := &models.InboundEvent{
		SourceAddress: msg.From,
		RawMessage:    msg.Body,
		Timestamp:     ts,
	}

	// 入流前尽早解析，下游消费者（包括外部订阅者）直接拿到结构化坐标
	if parsed := locparse.Parse(msg.Body); parsed != nil {
		event.Parsed = true
		event.Latitude = parsed.Latitude
		event.Longitude = parsed.Longitude
		event.MapURL = parsed.MapURL
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	contact, err := c.resolver.FindByPhone(ctx, msg.From)
	if err != nil {
		c.logger.Warn("Contact lookup failed for inbound sender", zap.Error(err))
	} else if contact != nil {
		event.CanonicalPhone = contact.PhoneNumber
	}

	return event
}
