// Package filter 为展示层筛选和排序 scorecard 请求
package filter

import (
	"fmt"
	"sort"
	"strings"

	"scorecard-monitor/internal/common"
	"scorecard-monitor/internal/domain"

	"github.com/samber/lo"
)

// SortBy 排序字段
type SortBy string

const (
	SortByScore   SortBy = "score"
	SortByName    SortBy = "name"
	SortByStars   SortBy = "stars"
	SortByUpdated SortBy = "updated"
)

// ParseSortBy 解析排序字段，空字符串按分数排序
func ParseSortBy(value string) (SortBy, error) {
	switch SortBy(strings.ToLower(strings.TrimSpace(value))) {
	case "", SortByScore:
		return SortByScore, nil
	case SortByName:
		return SortByName, nil
	case SortByStars:
		return SortByStars, nil
	case SortByUpdated:
		return SortByUpdated, nil
	default:
		return "", common.NewError(common.ErrCodeInvalidInput,
			fmt.Sprintf("不支持的排序字段 %q，可选值: score, name, stars, updated", value))
	}
}

// Options 筛选条件
type Options struct {
	HideArchived bool
	NameContains string
	SortBy       SortBy
}

// Apply 返回筛选排序后的新切片，不修改输入
func Apply(requests []*domain.ScorecardRequest, opts Options) []*domain.ScorecardRequest {
	needle := strings.ToLower(strings.TrimSpace(opts.NameContains))

	result := lo.Filter(requests, func(req *domain.ScorecardRequest, _ int) bool {
		if req == nil || req.Repository == nil {
			return false
		}
		if opts.HideArchived && req.Repository.Archived {
			return false
		}
		if needle != "" && !strings.Contains(strings.ToLower(req.Repository.Name), needle) {
			return false
		}
		return true
	})

	sort.SliceStable(result, less(result, opts.SortBy))
	return result
}

func less(items []*domain.ScorecardRequest, by SortBy) func(i, j int) bool {
	byName := func(i, j int) bool {
		return strings.ToLower(items[i].Repository.Name) < strings.ToLower(items[j].Repository.Name)
	}

	switch by {
	case SortByName:
		return byName
	case SortByStars:
		return func(i, j int) bool {
			return items[i].Repository.StarCount > items[j].Repository.StarCount
		}
	case SortByUpdated:
		return func(i, j int) bool {
			return items[i].Repository.LastUpdated.After(items[j].Repository.LastUpdated)
		}
	default:
		// 分数高的在前，没有分数的排在最后
		return func(i, j int) bool {
			a, b := items[i].Score(), items[j].Score()
			switch {
			case a == nil && b == nil:
				return byName(i, j)
			case a == nil:
				return false
			case b == nil:
				return true
			case *a != *b:
				return *a > *b
			default:
				return byName(i, j)
			}
		}
	}
}
