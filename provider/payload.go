package provider

import "time"

// Validation 登记号校验结果
type Validation struct {
	IsValid    bool           `json:"is_valid"`
	Identifier string         `json:"identifier"`
	LegalName  string         `json:"legal_name,omitempty"`
	Status     string         `json:"status,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// RiskLevel 风险等级
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// 评分区间，与主流征信机构的 0~1000 量表一致
const (
	ScoreMin = 0
	ScoreMax = 1000
)

// LevelFor 按评分划分风险等级: >=700 LOW，>=500 MEDIUM，其余 HIGH
func LevelFor(score int) RiskLevel {
	switch {
	case score >= 700:
		return RiskLow
	case score >= 500:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// RiskReport 风险评估结果
type RiskReport struct {
	Subject         string    `json:"subject"`
	Score           int       `json:"score"`
	RiskLevel       RiskLevel `json:"risk_level"`
	HasNegatives    bool      `json:"has_negatives"`
	Recommendations []string  `json:"recommendations,omitempty"`
	// Mock 为 true 表示评分是占位值，不代表真实征信结果
	Mock bool `json:"mock,omitempty"`
}

// Message 待发送的通知
type Message struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

// Receipt 发送回执
type Receipt struct {
	Success   bool      `json:"success"`
	MessageID string    `json:"message_id,omitempty"`
	Provider  string    `json:"provider"`
	Timestamp time.Time `json:"timestamp"`
}
