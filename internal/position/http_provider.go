package position

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// HTTPProvider 通过 GPS 网关 REST API 获取当前位置
type HTTPProvider struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewHTTPProvider 创建 HTTP 定位提供者
func NewHTTPProvider(baseURL string, logger *zap.Logger) *HTTPProvider {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Accept", "application/json")

	return &HTTPProvider{
		httpClient: client,
		logger:     logger,
	}
}

// GetCurrentPosition 请求网关 /position 接口
func (p *HTTPProvider) GetCurrentPosition(ctx context.Context, opts Options) (*Position, error) {
	var result Position

	resp, err := p.httpClient.R().
		SetContext(ctx).
		SetQueryParam("high_accuracy", strconv.FormatBool(opts.HighAccuracy)).
		SetQueryParam("timeout_ms", strconv.Itoa(opts.TimeoutMs)).
		SetQueryParam("max_age_ms", strconv.Itoa(opts.MaxAgeMs)).
		SetResult(&result).
		Get("/position")
	if err != nil {
		return nil, fmt.Errorf("position gateway request failed: %w", err)
	}
	if resp.StatusCode() == 404 {
		// 网关约定：404 表示当前无定位（不是故障）
		return nil, ErrNoFix
	}
	if resp.IsError() {
		return nil, fmt.Errorf("position gateway returned status %d: %s", resp.StatusCode(), resp.String())
	}

	p.logger.Debug("Position acquired",
		zap.Float64("latitude", result.Latitude),
		zap.Float64("longitude", result.Longitude),
	)
	return &result, nil
}
