package models

// LocationRecord 每个联系人仅保留一条最新位置记录
// 不变式：latitude+longitude、mapUrl、rawMessage 至少一项非空，否则视为空记录，不允许持久化
type LocationRecord struct {
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	MapURL     string   `json:"mapUrl,omitempty"`
	RawMessage string   `json:"rawMessage,omitempty"`
	Timestamp  int64    `json:"timestamp"` // epoch 毫秒
}

// HasCoordsOrURL 记录是否包含可展示的坐标或地图链接
func (r *LocationRecord) HasCoordsOrURL() bool {
	if r == nil {
		return false
	}
	if r.Latitude != nil && r.Longitude != nil {
		return true
	}
	return r.MapURL != ""
}

// IsEmpty 空记录判定（坐标、链接、原文均无）
func (r *LocationRecord) IsEmpty() bool {
	if r == nil {
		return true
	}
	return !r.HasCoordsOrURL() && r.RawMessage == ""
}

// SamePayload 两条记录的坐标/链接是否相同（时间戳不参与比较）
func (r *LocationRecord) SamePayload(other *LocationRecord) bool {
	if r == nil || other == nil {
		return false
	}
	if r.Latitude != nil && r.Longitude != nil && other.Latitude != nil && other.Longitude != nil {
		return *r.Latitude == *other.Latitude && *r.Longitude == *other.Longitude
	}
	if r.MapURL != "" && other.MapURL != "" {
		return r.MapURL == other.MapURL
	}
	return false
}

// InboundEvent 短信网关投递的入站事件（瞬态，不落库）
type InboundEvent struct {
	SourceAddress  string   `json:"sourceAddress"`
	CanonicalPhone string   `json:"canonicalPhone,omitempty"`
	RawMessage     string   `json:"rawMessage,omitempty"`
	Timestamp      int64    `json:"timestamp"` // epoch 毫秒
	Parsed         bool     `json:"parsed"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	MapURL         string   `json:"mapUrl,omitempty"`
}

// Record 将事件携带的载荷转为位置记录
func (e *InboundEvent) Record() *LocationRecord {
	return &LocationRecord{
		Latitude:   e.Latitude,
		Longitude:  e.Longitude,
		MapURL:     e.MapURL,
		RawMessage: e.RawMessage,
		Timestamp:  e.Timestamp,
	}
}
