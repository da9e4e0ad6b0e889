package domain

import (
	"fmt"
	"strings"
	"time"
)

// Service 代码托管平台
type Service string

const (
	ServiceGitHub Service = "GITHUB"
	ServiceGitLab Service = "GITLAB"
)

// Services 返回所有支持的平台
func Services() []Service {
	return []Service{ServiceGitHub, ServiceGitLab}
}

// ParseService 解析平台标识，大小写不敏感
func ParseService(value string) (Service, bool) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(ServiceGitHub):
		return ServiceGitHub, true
	case string(ServiceGitLab):
		return ServiceGitLab, true
	default:
		return "", false
	}
}

// Host 返回 Scorecard API 使用的平台域名
func (s Service) Host() string {
	switch s {
	case ServiceGitHub:
		return "github.com"
	case ServiceGitLab:
		return "gitlab.com"
	default:
		return ""
	}
}

// DisplayName 用于展示和错误提示
func (s Service) DisplayName() string {
	switch s {
	case ServiceGitHub:
		return "GitHub"
	case ServiceGitLab:
		return "GitLab"
	default:
		return string(s)
	}
}

// Namespace GitLab 账号所在的命名空间类型
type Namespace string

const (
	NamespaceGroup Namespace = "group"
	NamespaceUser  Namespace = "user"
)

// Account 代表一个被关注的用户或组织
type Account struct {
	Service           Service   `json:"service"`
	Tag               string    `json:"tag"` // 平台上的用户名 / slug
	Name              string    `json:"name"`
	Icon              string    `json:"icon"`
	Description       string    `json:"description"`
	FollowerCount     int       `json:"follower_count"`
	TotalRepositories int       `json:"total_repositories"` // 平台给出的数字，仅供参考
	URL               string    `json:"url"`
	APIToken          string    `json:"api_token,omitempty"`
	Namespace         Namespace `json:"namespace,omitempty"` // 仅 GitLab 使用
}

// AccountKey 账号在缓存中的唯一键
func AccountKey(service Service, tag string) string {
	return fmt.Sprintf("%s:%s", strings.ToLower(string(service)), strings.ToLower(strings.TrimSpace(tag)))
}

// Key 返回账号的缓存键
func (a *Account) Key() string {
	return AccountKey(a.Service, a.Tag)
}

// Repository 账号下的一个仓库
type Repository struct {
	Name         string     `json:"name"` // 在账号内唯一
	URL          string     `json:"url"`  // 缓存键
	LastUpdated  time.Time  `json:"last_updated"`
	StarCount    int        `json:"star_count"`
	Description  string     `json:"description"`
	Archived     bool       `json:"archived"`
	Scorecard    *Scorecard `json:"scorecard,omitempty"`
	HasScorecard *bool      `json:"has_scorecard,omitempty"` // nil 表示未知
}

// Clone 深拷贝仓库，避免观察者之间共享可变状态
func (r *Repository) Clone() *Repository {
	if r == nil {
		return nil
	}
	c := *r
	if r.Scorecard != nil {
		c.Scorecard = r.Scorecard.Clone()
	}
	if r.HasScorecard != nil {
		v := *r.HasScorecard
		c.HasScorecard = &v
	}
	return &c
}

// KnownWithoutScorecard 之前已经确认没有 scorecard
func (r *Repository) KnownWithoutScorecard() bool {
	return r.HasScorecard != nil && !*r.HasScorecard
}

// SetHasScorecard 设置三态标记
func (r *Repository) SetHasScorecard(v bool) {
	r.HasScorecard = &v
}

// LoadState 单个 scorecard 请求的加载状态
type LoadState string

const (
	LoadStateLoading LoadState = "LOADING"
	LoadStateSuccess LoadState = "LOAD_SUCCESS"
)

// ScorecardRequest 仓库与其 scorecard 的组合
type ScorecardRequest struct {
	Repository *Repository `json:"repository"`
	Scorecard  *Scorecard  `json:"scorecard,omitempty"`
	LoadState  LoadState   `json:"load_state"`
}

// Clone 深拷贝
func (r *ScorecardRequest) Clone() *ScorecardRequest {
	if r == nil {
		return nil
	}
	return &ScorecardRequest{
		Repository: r.Repository.Clone(),
		Scorecard:  r.Scorecard.Clone(),
		LoadState:  r.LoadState,
	}
}

// Score 返回分数，没有 scorecard 或没有分数时返回 nil
func (r *ScorecardRequest) Score() *float64 {
	if r == nil || r.Scorecard == nil {
		return nil
	}
	return r.Scorecard.Score
}
