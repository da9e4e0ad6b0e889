package filter

import (
	"testing"
	"time"

	"scorecard-monitor/internal/common"
	"scorecard-monitor/internal/domain"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRequest(name string, score *float64, stars int, archived bool, updated time.Time) *domain.ScorecardRequest {
	req := &domain.ScorecardRequest{
		Repository: &domain.Repository{
			Name:        name,
			StarCount:   stars,
			Archived:    archived,
			LastUpdated: updated,
		},
		LoadState: domain.LoadStateSuccess,
	}
	if score != nil {
		req.Scorecard = &domain.Scorecard{Score: score}
	}
	return req
}

func names(requests []*domain.ScorecardRequest) []string {
	return lo.Map(requests, func(req *domain.ScorecardRequest, _ int) string {
		return req.Repository.Name
	})
}

func fixtures() []*domain.ScorecardRequest {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return []*domain.ScorecardRequest{
		makeRequest("scorecard", lo.ToPtr(8.5), 4000, false, base.AddDate(0, 0, 3)),
		makeRequest("allstar", nil, 1200, false, base.AddDate(0, 0, 5)),
		makeRequest("legacy-scanner", lo.ToPtr(3.0), 10, true, base),
		makeRequest("Scorecard-action", lo.ToPtr(8.5), 300, false, base.AddDate(0, 0, 1)),
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{
			name: "默认按分数排序，缺失的在最后",
			opts: Options{},
			want: []string{"scorecard", "Scorecard-action", "legacy-scanner", "allstar"},
		},
		{
			name: "隐藏已归档",
			opts: Options{HideArchived: true, SortBy: SortByScore},
			want: []string{"scorecard", "Scorecard-action", "allstar"},
		},
		{
			name: "名称过滤不区分大小写",
			opts: Options{NameContains: "SCORECARD", SortBy: SortByName},
			want: []string{"scorecard", "Scorecard-action"},
		},
		{
			name: "按 star 排序",
			opts: Options{SortBy: SortByStars},
			want: []string{"scorecard", "allstar", "Scorecard-action", "legacy-scanner"},
		},
		{
			name: "按更新时间排序",
			opts: Options{SortBy: SortByUpdated},
			want: []string{"allstar", "scorecard", "Scorecard-action", "legacy-scanner"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := fixtures()
			got := Apply(input, tt.opts)
			assert.Equal(t, tt.want, names(got))
			assert.Equal(t, "scorecard", input[0].Repository.Name, "输入不被修改")
		})
	}
}

func TestParseSortBy(t *testing.T) {
	got, err := ParseSortBy("")
	require.NoError(t, err)
	assert.Equal(t, SortByScore, got)

	got, err = ParseSortBy(" Stars ")
	require.NoError(t, err)
	assert.Equal(t, SortByStars, got)

	_, err = ParseSortBy("forks")
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.ErrCodeInvalidInput, appErr.Code)
}
