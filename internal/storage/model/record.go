package model

// RequestRecord 已终结请求的归档记录
type RequestRecord struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestID    string `gorm:"index" json:"requestId"`
	Session      string `gorm:"index" json:"session"`
	FrameID      string `json:"frameId"`
	URL          string `json:"url"`
	Method       string `json:"method"`
	ResourceType string `json:"resourceType"`
	Outcome      string `gorm:"index" json:"outcome"`
	StatusCode   int    `json:"statusCode"`
	ErrorCode    string `json:"errorCode"`
	RedirectHops int    `json:"redirectHops"`
	Timestamp    int64  `gorm:"index" json:"timestamp"`
}
