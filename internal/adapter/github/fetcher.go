package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"scorecard-monitor/internal/common"
	"scorecard-monitor/internal/domain"
	"scorecard-monitor/internal/port"

	"github.com/google/go-github/v53/github"
	"golang.org/x/oauth2"
)

// Fetcher 实现了 port.Provider 接口
type Fetcher struct {
	baseURL *url.URL
}

var _ port.Provider = (*Fetcher)(nil)

// Option 配置 Fetcher
type Option func(*Fetcher)

// WithBaseURL 指向 GitHub Enterprise 或测试服务器，必须以 / 结尾
func WithBaseURL(u *url.URL) Option {
	return func(f *Fetcher) {
		f.baseURL = u
	}
}

// OptionsFromConfig 把配置里的 baseUrl 转成 Option，为空时使用 api.github.com
func OptionsFromConfig(baseURL string) ([]Option, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, nil
	}
	u, err := url.Parse(strings.TrimSuffix(strings.TrimSpace(baseURL), "/") + "/")
	if err != nil {
		return nil, common.WrapError(common.ErrCodeInvalidInput, "github.baseUrl 无效", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, common.NewError(common.ErrCodeInvalidInput, fmt.Sprintf("github.baseUrl 无效: %q", baseURL))
	}
	return []Option{WithBaseURL(u)}, nil
}

// NewFetcher 创建 GitHub 适配器
// Token 跟着账号走，所以客户端在每次调用时按账号创建
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// client 按 token 创建 GitHub 客户端
// token 为空时匿名访问，限制 60次/小时
func (f *Fetcher) client(ctx context.Context, token string) *github.Client {
	var client *github.Client

	if token == "" {
		client = github.NewClient(nil)
	} else {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc := oauth2.NewClient(ctx, ts)
		client = github.NewClient(tc)
	}

	if f.baseURL != nil {
		client.BaseURL = f.baseURL
	}
	return client
}

// Service 平台标识
func (f *Fetcher) Service() domain.Service {
	return domain.ServiceGitHub
}

// LookupAccount 查询用户或组织
func (f *Fetcher) LookupAccount(ctx context.Context, tag, token string) (*domain.Account, error) {
	client := f.client(ctx, token)

	user, _, err := client.Users.Get(ctx, tag)
	if err != nil {
		return nil, classify(err, tag)
	}

	account := &domain.Account{
		Service:           domain.ServiceGitHub,
		Tag:               user.GetLogin(),
		Name:              user.GetName(),
		Icon:              user.GetAvatarURL(),
		Description:       user.GetBio(),
		FollowerCount:     user.GetFollowers(),
		TotalRepositories: user.GetPublicRepos(),
		URL:               user.GetHTMLURL(),
		APIToken:          token,
	}
	if account.Tag == "" {
		account.Tag = tag
	}
	if account.Name == "" {
		account.Name = account.Tag
	}

	// 组织的简介不在 users 接口里，拿不到就算了
	if user.GetType() == "Organization" && account.Description == "" {
		if org, _, orgErr := client.Organizations.Get(ctx, account.Tag); orgErr == nil {
			account.Description = org.GetDescription()
		}
	}

	return account, nil
}

// CountRepositories 用 public_repos 作为总数
func (f *Fetcher) CountRepositories(ctx context.Context, account *domain.Account) (int, error) {
	user, _, err := f.client(ctx, account.APIToken).Users.Get(ctx, account.Tag)
	if err != nil {
		return 0, classify(err, account.Tag)
	}
	return user.GetPublicRepos(), nil
}

// ListRepositories 拉取一页账号拥有的仓库，按更新时间排序
func (f *Fetcher) ListRepositories(ctx context.Context, account *domain.Account, page, perPage int) ([]*domain.Repository, error) {
	opts := &github.RepositoryListOptions{
		Type: "owner",
		Sort: "updated",
		ListOptions: github.ListOptions{
			Page:    page,
			PerPage: perPage,
		},
	}

	items, _, err := f.client(ctx, account.APIToken).Repositories.List(ctx, account.Tag, opts)
	if err != nil {
		return nil, classify(err, account.Tag)
	}

	// 将 GitHub 的数据结构转换为我们的 Domain 实体
	repos := make([]*domain.Repository, 0, len(items))
	for _, item := range items {
		repos = append(repos, &domain.Repository{
			Name:        item.GetName(),
			URL:         item.GetHTMLURL(),
			LastUpdated: item.GetUpdatedAt().Time,
			StarCount:   item.GetStargazersCount(),
			Description: item.GetDescription(),
			Archived:    item.GetArchived(),
		})
	}
	return repos, nil
}

// classify 把 go-github 的错误映射到应用错误
func classify(err error, tag string) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return common.RateLimited(domain.ServiceGitHub.DisplayName(), err)
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusTooManyRequests, http.StatusForbidden:
			return common.RateLimited(domain.ServiceGitHub.DisplayName(), err)
		case http.StatusNotFound:
			return common.AccountNotFound(domain.ServiceGitHub.DisplayName(), strings.TrimSpace(tag), err)
		case http.StatusUnauthorized:
			return common.InvalidAPIToken(domain.ServiceGitHub.DisplayName(), err)
		}
	}
	return common.WrapError(common.ErrCodeInternal, "GitHub API 调用失败", err)
}
