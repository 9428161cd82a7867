package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// HTTPSendResponse 网关 REST API 的发送响应
type HTTPSendResponse struct {
	Status string `json:"status"`
	Msg    string `json:"msg,omitempty"`
}

// HTTPSender 经由网关 REST API 发送短信（MQTT 通道的替代，按配置选择）
type HTTPSender struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewHTTPSender 创建 HTTP 短信发送器
func NewHTTPSender(baseURL, apiKey string, logger *zap.Logger) *HTTPSender {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if apiKey != "" {
		client.SetHeader("Authorization", apiKey)
	}

	return &HTTPSender{
		httpClient: client,
		logger:     logger,
	}
}

// Send 调用网关 /send 接口发送短信
func (s *HTTPSender) Send(ctx context.Context, phoneNumber, text string) error {
	var result HTTPSendResponse

	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody(OutboundMessage{To: phoneNumber, Body: text}).
		SetResult(&result).
		Post("/send")
	if err != nil {
		return fmt.Errorf("sms gateway request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("sms gateway returned status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.Status != "" && result.Status != "ok" && result.Status != "sent" {
		return fmt.Errorf("sms gateway rejected message: %s", result.Msg)
	}

	s.logger.Info("SMS handed to HTTP gateway",
		zap.String("to", phoneNumber),
		zap.Int("body_len", len(text)),
	)
	return nil
}
