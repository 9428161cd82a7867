package models

// CheckState 位置检查周期的状态机
// Idle → AwaitingReply →（Resolved | 超时回到 Idle）
type CheckState string

const (
	CheckStateIdle          CheckState = "Idle"
	CheckStateAwaitingReply CheckState = "AwaitingReply"
	CheckStateResolved      CheckState = "Resolved"
)

// CheckStatus 对外暴露的检查状态快照
type CheckStatus struct {
	ContactID    string          `json:"contactId"`
	State        CheckState      `json:"state"`
	Status       string          `json:"status"` // 人类可读状态文案
	LastLocation *LocationRecord `json:"lastLocation,omitempty"`
	UpdatedAt    int64           `json:"updatedAt"` // epoch 毫秒
}
