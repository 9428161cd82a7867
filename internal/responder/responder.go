package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/himanshuu932/rakshak/internal/locparse"
	"github.com/himanshuu932/rakshak/internal/models"
	"github.com/himanshuu932/rakshak/internal/phone"
	"github.com/himanshuu932/rakshak/internal/position"
	"github.com/himanshuu932/rakshak/internal/transport"

	"go.uber.org/zap"
)

// 回复文案（定位失败时也必须回一条，发起方才不会一直等）
const (
	replyPrefix        = "Here is my current location: "
	replyNoFix         = "Could not get location. Please ensure GPS is enabled."
	replyPositionError = "Failed to get location due to an error."
)

// TrustedDirectory 可信发送者列表的最小接口
type TrustedDirectory interface {
	ListTrustedSenders(ctx context.Context) ([]*models.TrustedSender, error)
}

// Responder 应答端：可信发送者的暗号命中后自动回发当前位置
type Responder struct {
	trusted  TrustedDirectory
	provider position.Provider
	sender   transport.SMSSender
	opts     position.Options
	logger   *zap.Logger
}

// NewResponder 创建应答端
func NewResponder(trusted TrustedDirectory, provider position.Provider, sender transport.SMSSender, opts position.Options, logger *zap.Logger) *Responder {
	return &Responder{
		trusted:  trusted,
		provider: provider,
		sender:   sender,
		opts:     opts,
		logger:   logger,
	}
}

// HandleInbound 处理一条入站短信：命中可信名单 + 暗号才回发位置
// 返回值表示是否触发了回复
func (r *Responder) HandleInbound(ctx context.Context, sourceAddress, body string) (bool, error) {
	sender := r.matchTrusted(ctx, sourceAddress, body)
	if sender == nil {
		return false, nil
	}

	r.logger.Info("Trusted check request received",
		zap.String("source", sourceAddress),
		zap.String("keyword", sender.Keyword),
	)

	reply := r.buildReply(ctx)
	if err := r.sender.Send(ctx, sourceAddress, reply); err != nil {
		return false, fmt.Errorf("failed to send location reply: %w", err)
	}
	return true, nil
}

// matchTrusted 名单按序匹配，第一个命中生效
// 号码按宽松规则匹配，暗号按大小写不敏感的包含匹配
func (r *Responder) matchTrusted(ctx context.Context, sourceAddress, body string) *models.TrustedSender {
	senders, err := r.trusted.ListTrustedSenders(ctx)
	if err != nil {
		r.logger.Error("Failed to list trusted senders", zap.Error(err))
		return nil
	}
	lowerBody := strings.ToLower(body)
	for _, s := range senders {
		if s.Keyword == "" {
			continue
		}
		if !phone.Matches(sourceAddress, s.PhoneNumber) {
			continue
		}
		if strings.Contains(lowerBody, strings.ToLower(s.Keyword)) {
			return s
		}
	}
	return nil
}

// buildReply 取当前定位并组装回复文本，定位失败回退到固定文案
func (r *Responder) buildReply(ctx context.Context) string {
	pos, err := r.provider.GetCurrentPosition(ctx, r.opts)
	if err != nil {
		if errors.Is(err, position.ErrNoFix) {
			return replyNoFix
		}
		r.logger.Warn("Position provider failed", zap.Error(err))
		return replyPositionError
	}
	if pos == nil {
		return replyNoFix
	}
	return replyPrefix + locparse.CanonicalMapURL(pos.Latitude, pos.Longitude)
}
