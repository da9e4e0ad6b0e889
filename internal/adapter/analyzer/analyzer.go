// Package analyzer 对一个账号的 scorecard 做统计
package analyzer

import (
	"math"
	"sort"

	"scorecard-monitor/internal/domain"
	"scorecard-monitor/internal/port"

	"github.com/samber/lo"
)

// CalculateAverageScore 计算平均分，保留一位小数
// hideMissing 为 false 时没有分数的仓库按 0 分计入；没有任何可计入的仓库时返回 0
func CalculateAverageScore(requests []*domain.ScorecardRequest, hideMissing bool) float64 {
	var sum float64
	var count int
	for _, req := range requests {
		score := req.Score()
		if score == nil {
			if !hideMissing {
				count++
			}
			continue
		}
		sum += *score
		count++
	}

	if count == 0 {
		return 0
	}
	return roundOneDecimal(sum / float64(count))
}

func roundOneDecimal(v float64) float64 {
	return math.Round(v*10) / 10
}

// Lowest 返回分数最低的 n 个仓库，没有分数的不参与
func Lowest(requests []*domain.ScorecardRequest, n int) []*domain.ScorecardRequest {
	scored := lo.Filter(requests, func(req *domain.ScorecardRequest, _ int) bool {
		return req.Score() != nil
	})
	sort.SliceStable(scored, func(i, j int) bool {
		return *scored[i].Score() < *scored[j].Score()
	})
	if n >= 0 && len(scored) > n {
		scored = scored[:n]
	}
	return scored
}

// Summarize 汇总账号的 scorecard 情况，供通知和命令行展示
func Summarize(account *domain.Account, requests []*domain.ScorecardRequest, hideMissing bool, lowestN int) *port.AccountSummary {
	with := lo.CountBy(requests, func(req *domain.ScorecardRequest) bool {
		return req.Score() != nil
	})

	return &port.AccountSummary{
		Account:          account,
		AverageScore:     CalculateAverageScore(requests, hideMissing),
		Repositories:     len(requests),
		WithScorecard:    with,
		MissingScorecard: len(requests) - with,
		Lowest:           Lowest(requests, lowestN),
	}
}
