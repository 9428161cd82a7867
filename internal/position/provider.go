package position

import (
	"context"
	"errors"
)

// ErrNoFix 定位服务正常但没有可用定位（GPS 关闭或暂无信号）
var ErrNoFix = errors.New("no position fix available")

// Position 定位结果
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// Options 定位请求参数
type Options struct {
	HighAccuracy bool
	TimeoutMs    int
	MaxAgeMs     int
}

// Provider 定位能力抽象（responder 角色回复位置时使用）
type Provider interface {
	GetCurrentPosition(ctx context.Context, opts Options) (*Position, error)
}
