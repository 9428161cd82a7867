package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/himanshuu932/rakshak/internal/mqtt"

	"go.uber.org/zap"
)

// MQTTSender 经由 GSM 网关 outbound 主题发送短信
type MQTTSender struct {
	client    *mqtt.Client
	topic     string // 完整出站主题，如 "sms/gw-1/outbound"
	qos       byte
	logger    *zap.Logger
	gatewayID string
}

// NewMQTTSender 创建 MQTT 短信发送器
// topicTemplate 形如 "sms/%s/outbound"，以网关 ID 填充
func NewMQTTSender(client *mqtt.Client, topicTemplate, gatewayID string, qos byte, logger *zap.Logger) *MQTTSender {
	return &MQTTSender{
		client:    client,
		topic:     fmt.Sprintf(topicTemplate, gatewayID),
		qos:       qos,
		logger:    logger,
		gatewayID: gatewayID,
	}
}

// Send 发布出站短信到网关主题
func (s *MQTTSender) Send(ctx context.Context, phoneNumber, text string) error {
	payload, err := json.Marshal(OutboundMessage{To: phoneNumber, Body: text})
	if err != nil {
		return fmt.Errorf("failed to marshal outbound message: %w", err)
	}

	if err := s.client.Publish(s.topic, s.qos, false, payload); err != nil {
		return fmt.Errorf("failed to send SMS via gateway %s: %w", s.gatewayID, err)
	}

	s.logger.Info("SMS handed to gateway",
		zap.String("gateway_id", s.gatewayID),
		zap.String("to", phoneNumber),
		zap.Int("body_len", len(text)),
	)
	return nil
}
