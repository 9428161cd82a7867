package models

import "time"

// Contact 控制端（Controller）登记的被关注联系人
// 发起位置检查时向其手机号发送暗号短信
type Contact struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	PhoneNumber string    `json:"phoneNumber"`
	SecretCode  string    `json:"secretCode,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
}

// TrustedSender 应答端（Responder）登记的可信发送者
// 该号码发来的短信中包含关键词时自动回复当前位置
type TrustedSender struct {
	PhoneNumber string    `json:"phoneNumber"`
	Keyword     string    `json:"keyword"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}
