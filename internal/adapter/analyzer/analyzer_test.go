package analyzer

import (
	"testing"

	"scorecard-monitor/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// request 创建一个 scorecard 请求，score 为 nil 表示没有 scorecard
func request(name string, score *float64) *domain.ScorecardRequest {
	req := &domain.ScorecardRequest{
		Repository: &domain.Repository{Name: name, URL: "https://github.com/test/" + name},
		LoadState:  domain.LoadStateSuccess,
	}
	if score != nil {
		req.Scorecard = &domain.Scorecard{Score: score}
	}
	return req
}

func ptr(v float64) *float64 { return &v }

func TestCalculateAverageScore(t *testing.T) {
	tests := []struct {
		name        string
		requests    []*domain.ScorecardRequest
		hideMissing bool
		want        float64
	}{
		{
			name:     "空列表",
			requests: nil,
			want:     0,
		},
		{
			name:     "缺失的按 0 分计入",
			requests: []*domain.ScorecardRequest{request("a", ptr(10)), request("b", nil)},
			want:     5.0,
		},
		{
			name:        "忽略缺失的仓库",
			requests:    []*domain.ScorecardRequest{request("a", ptr(10)), request("b", nil)},
			hideMissing: true,
			want:        10,
		},
		{
			name:        "全部缺失且忽略",
			requests:    []*domain.ScorecardRequest{request("a", nil), request("b", nil)},
			hideMissing: true,
			want:        0,
		},
		{
			name:     "保留一位小数",
			requests: []*domain.ScorecardRequest{request("a", ptr(7.2)), request("b", ptr(8.1)), request("c", ptr(5))},
			want:     6.8,
		},
		{
			name:     "scorecard 存在但没有分数",
			requests: []*domain.ScorecardRequest{request("a", ptr(6)), {Repository: &domain.Repository{Name: "b"}, Scorecard: &domain.Scorecard{}}},
			want:     3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateAverageScore(tt.requests, tt.hideMissing)
			assert.InDelta(t, tt.want, got, 0.0001)
		})
	}
}

func TestLowest(t *testing.T) {
	requests := []*domain.ScorecardRequest{
		request("a", ptr(9)),
		request("b", nil),
		request("c", ptr(2.5)),
		request("d", ptr(6)),
	}

	lowest := Lowest(requests, 2)

	require.Len(t, lowest, 2)
	assert.Equal(t, "c", lowest[0].Repository.Name)
	assert.Equal(t, "d", lowest[1].Repository.Name)
	assert.Len(t, Lowest(requests, 10), 3, "没有分数的不参与")
	assert.Equal(t, "a", requests[0].Repository.Name, "不修改输入的顺序")
}

func TestSummarize(t *testing.T) {
	account := &domain.Account{Service: domain.ServiceGitHub, Tag: "ossf"}
	requests := []*domain.ScorecardRequest{
		request("a", ptr(8)),
		request("b", nil),
		request("c", ptr(4)),
	}

	summary := Summarize(account, requests, false, 1)

	assert.Same(t, account, summary.Account)
	assert.Equal(t, 3, summary.Repositories)
	assert.Equal(t, 2, summary.WithScorecard)
	assert.Equal(t, 1, summary.MissingScorecard)
	assert.InDelta(t, 4.0, summary.AverageScore, 0.0001)
	require.Len(t, summary.Lowest, 1)
	assert.Equal(t, "c", summary.Lowest[0].Repository.Name)
}
