package domain

import (
	"sort"
	"strings"
	"time"
)

// Priority 检查项的重要程度
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// Weight 排序权重，越大越靠前
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// checkPriorities 按 OpenSSF 官方风险等级整理，键为小写检查项名称
var checkPriorities = map[string]Priority{
	"binary-artifacts":       PriorityHigh,
	"branch-protection":      PriorityHigh,
	"ci-tests":               PriorityLow,
	"cii-best-practices":     PriorityLow,
	"code-review":            PriorityHigh,
	"contributors":           PriorityLow,
	"dangerous-workflow":     PriorityCritical,
	"dependency-update-tool": PriorityHigh,
	"fuzzing":                PriorityMedium,
	"license":                PriorityLow,
	"maintained":             PriorityHigh,
	"packaging":              PriorityMedium,
	"pinned-dependencies":    PriorityMedium,
	"sast":                   PriorityMedium,
	"security-policy":        PriorityMedium,
	"signed-releases":        PriorityHigh,
	"token-permissions":      PriorityHigh,
	"vulnerabilities":        PriorityHigh,
}

// CheckNames 返回所有已知的检查项名称
func CheckNames() []string {
	names := make([]string, 0, len(checkPriorities))
	for name := range checkPriorities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PriorityForCheck 未知的检查项默认为 MEDIUM
func PriorityForCheck(name string) Priority {
	if p, ok := checkPriorities[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p
	}
	return PriorityMedium
}

// Check scorecard 中的单个检查项
type Check struct {
	Name               string   `json:"name"`
	Score              *int     `json:"score,omitempty"` // nil 表示结果不确定
	Reason             string   `json:"reason"`
	Priority           Priority `json:"priority"`
	DocumentationURL   string   `json:"documentation_url"`
	DocumentationShort string   `json:"documentation_short"`
}

// Scorecard 单个仓库的安全评分报告
type Scorecard struct {
	Score         *float64  `json:"score,omitempty"` // 0-10，平台无数据时为 nil
	Checks        []Check   `json:"checks"`
	ViewerURL     string    `json:"viewer_url"`
	DateGenerated time.Time `json:"date_generated"`
}

// Clone 深拷贝
func (s *Scorecard) Clone() *Scorecard {
	if s == nil {
		return nil
	}
	c := *s
	if s.Score != nil {
		v := *s.Score
		c.Score = &v
	}
	c.Checks = make([]Check, len(s.Checks))
	for i, check := range s.Checks {
		if check.Score != nil {
			v := *check.Score
			check.Score = &v
		}
		c.Checks[i] = check
	}
	return &c
}

// Prioritize 为每个检查项设置优先级，并按权重降序稳定排序
func (s *Scorecard) Prioritize() {
	if s == nil {
		return
	}
	for i := range s.Checks {
		s.Checks[i].Priority = PriorityForCheck(s.Checks[i].Name)
	}
	sort.SliceStable(s.Checks, func(i, j int) bool {
		return s.Checks[i].Priority.Weight() > s.Checks[j].Priority.Weight()
	})
}
