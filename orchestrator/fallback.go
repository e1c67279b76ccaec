package orchestrator

import (
	"hash/fnv"

	"github.com/ceyewan/bulwark/provider"
)

// 占位评分区间 [mockScoreMin, mockScoreMax]
const (
	mockScoreMin = 300
	mockScoreMax = 850
)

// MockRiskReport 由 subject 的 FNV-1a 哈希确定的占位评分，同一 subject 结果恒定
func MockRiskReport(subject string) *provider.RiskReport {
	h := fnv.New32a()
	_, _ = h.Write([]byte(subject))
	score := mockScoreMin + int(h.Sum32()%uint32(mockScoreMax-mockScoreMin+1))

	return &provider.RiskReport{
		Subject:   subject,
		Score:     score,
		RiskLevel: provider.LevelFor(score),
		Recommendations: []string{
			"placeholder score: no credit bureau was reachable, do not use for credit decisions",
			"retry the analysis once a bureau is available",
		},
		Mock: true,
	}
}
