package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/himanshuu932/rakshak/internal/config"
	"github.com/himanshuu932/rakshak/internal/engine"
	"github.com/himanshuu932/rakshak/internal/models"
	"github.com/himanshuu932/rakshak/internal/responder"
	"github.com/himanshuu932/rakshak/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// EventConsumer 消费入站短信事件流，按角色分发给关联引擎和应答端
// 单 goroutine 顺序消费，保证同一联系人的事件按到达顺序处理
type EventConsumer struct {
	redisClient *redis.Client
	engine      *engine.Engine       // controller 角色，可为 nil
	responder   *responder.Responder // responder 角色，可为 nil
	config      *config.Config
	logger      *zap.Logger
}

// NewEventConsumer 创建事件消费者
func NewEventConsumer(redisClient *redis.Client, eng *engine.Engine, resp *responder.Responder, cfg *config.Config, logger *zap.Logger) *EventConsumer {
	return &EventConsumer{
		redisClient: redisClient,
		engine:      eng,
		responder:   resp,
		config:      cfg,
		logger:      logger,
	}
}

// Start 启动消费循环（阻塞，ctx 取消后返回）
func (c *EventConsumer) Start(ctx context.Context) error {
	stream := c.config.Engine.EventStream
	group := c.config.Engine.ConsumerGroup

	if err := store.CreateConsumerGroup(ctx, c.redisClient, stream, group); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Event consumer started",
		zap.String("stream", stream),
		zap.String("group", group),
		zap.String("consumer", c.config.Engine.ConsumerName),
	)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Event consumer stopping")
			return nil
		default:
		}

		messages, err := store.ReadFromStream(ctx, c.redisClient, stream, group, c.config.Engine.ConsumerName, int64(c.config.Engine.BatchSize))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to read from event stream",
				zap.Error(err),
				zap.Duration("retry_in", backoff),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			// 指数退避，上限 30 秒
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			if err := c.processMessage(ctx, &msg); err != nil {
				// 单条消息失败不致命，记录后继续
				c.logger.Error("Failed to process inbound event",
					zap.String("message_id", msg.ID),
					zap.Error(err),
				)
			}
			if err := store.AckMessage(ctx, c.redisClient, stream, group, msg.ID); err != nil {
				c.logger.Warn("Failed to ack message",
					zap.String("message_id", msg.ID),
					zap.Error(err),
				)
			}
		}
	}
}

// processMessage 解码并分发一条事件
func (c *EventConsumer) processMessage(ctx context.Context, msg *store.StreamMessage) error {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return fmt.Errorf("message %s has no data field", msg.ID)
	}

	var event models.InboundEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return fmt.Errorf("failed to unmarshal inbound event: %w", err)
	}

	if c.engine != nil {
		c.engine.HandleEvent(ctx, &event)
	}

	if c.responder != nil {
		replied, err := c.responder.HandleInbound(ctx, event.SourceAddress, event.RawMessage)
		if err != nil {
			return fmt.Errorf("responder failed: %w", err)
		}
		if replied {
			c.logger.Info("Location reply sent",
				zap.String("source", event.SourceAddress),
			)
		}
	}

	return nil
}
