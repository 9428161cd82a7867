package transport

import "context"

// SMSSender 短信发送通道抽象
// 发送失败向上返回错误，由调用方决定是否放弃本轮检查（不自动重试）
type SMSSender interface {
	Send(ctx context.Context, phoneNumber, text string) error
}

// OutboundMessage 发给网关的出站短信载荷
type OutboundMessage struct {
	To   string `json:"to"`
	Body string `json:"body"`
}
