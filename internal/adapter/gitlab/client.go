// Package gitlab 通过 GitLab REST v4 查询账号和仓库
//
// GitLab 的账号可能是 group 也可能是 user，两者的接口不同。
// 查询时先按 group 找，找不到再按 user 找，并把结果记在 Account.Namespace 上。
package gitlab

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"scorecard-monitor/internal/common"
	"scorecard-monitor/internal/domain"
	"scorecard-monitor/internal/port"

	"github.com/go-resty/resty/v2"
	"github.com/samber/lo"
)

// DefaultBaseURL gitlab.com 的 API 地址
const DefaultBaseURL = "https://gitlab.com/api/v4"

const defaultTimeout = 30 * time.Second

type group struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	FullPath    string `json:"full_path"`
	Description string `json:"description"`
	AvatarURL   string `json:"avatar_url"`
	WebURL      string `json:"web_url"`
}

type user struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Name      string `json:"name"`
	Bio       string `json:"bio"`
	AvatarURL string `json:"avatar_url"`
	WebURL    string `json:"web_url"`
	Followers int    `json:"followers"`
}

type project struct {
	Name           string    `json:"name"`
	Path           string    `json:"path"`
	Description    string    `json:"description"`
	WebURL         string    `json:"web_url"`
	StarCount      int       `json:"star_count"`
	Archived       bool      `json:"archived"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Client 实现了 port.Provider 接口
type Client struct {
	*resty.Client
}

var _ port.Provider = (*Client)(nil)

// NewClient baseURL 为空时使用 gitlab.com
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(defaultTimeout)

	return &Client{Client: client}
}

// Service 平台标识
func (c *Client) Service() domain.Service {
	return domain.ServiceGitLab
}

func (c *Client) request(ctx context.Context, token string) *resty.Request {
	req := c.R().SetContext(ctx)
	if token != "" {
		req.SetHeader("PRIVATE-TOKEN", token)
	}
	return req
}

// LookupAccount 先按 group 查，账号不存在时再按 user 查一次
// 其他错误（限流、Token 无效）直接返回
func (c *Client) LookupAccount(ctx context.Context, tag, token string) (*domain.Account, error) {
	account, err := c.lookupGroup(ctx, tag, token)
	if err == nil {
		return account, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	return c.lookupUser(ctx, tag, token)
}

func (c *Client) lookupGroup(ctx context.Context, tag, token string) (*domain.Account, error) {
	var g group
	resp, err := c.request(ctx, token).
		SetResult(&g).
		Get("/groups/" + url.PathEscape(tag))
	if err != nil {
		return nil, fmt.Errorf("GitLab API 调用失败: %w", err)
	}
	if resp.IsError() {
		return nil, classify(resp, tag)
	}

	count, err := c.count(ctx, "/groups/"+url.PathEscape(tag)+"/projects", token)
	if err != nil {
		count = 0
	}

	return &domain.Account{
		Service:           domain.ServiceGitLab,
		Tag:               tag,
		Name:              lo.CoalesceOrEmpty(g.Name, g.FullPath, tag),
		Icon:              g.AvatarURL,
		Description:       g.Description,
		TotalRepositories: count,
		URL:               g.WebURL,
		APIToken:          token,
		Namespace:         domain.NamespaceGroup,
	}, nil
}

func (c *Client) lookupUser(ctx context.Context, tag, token string) (*domain.Account, error) {
	var users []user
	resp, err := c.request(ctx, token).
		SetResult(&users).
		SetQueryParam("username", tag).
		Get("/users")
	if err != nil {
		return nil, fmt.Errorf("GitLab API 调用失败: %w", err)
	}
	if resp.IsError() {
		return nil, classify(resp, tag)
	}
	if len(users) == 0 {
		return nil, common.AccountNotFound(domain.ServiceGitLab.DisplayName(), tag, nil)
	}

	u := users[0]
	count, err := c.count(ctx, "/users/"+url.PathEscape(tag)+"/projects", token)
	if err != nil {
		count = 0
	}

	return &domain.Account{
		Service:           domain.ServiceGitLab,
		Tag:               tag,
		Name:              lo.CoalesceOrEmpty(u.Name, u.Username, tag),
		Icon:              u.AvatarURL,
		Description:       u.Bio,
		FollowerCount:     u.Followers,
		TotalRepositories: count,
		URL:               u.WebURL,
		APIToken:          token,
		Namespace:         domain.NamespaceUser,
	}, nil
}

// CountRepositories 从 per_page=1 的列表响应里读 X-Total
func (c *Client) CountRepositories(ctx context.Context, account *domain.Account) (int, error) {
	if account.Namespace != "" {
		return c.count(ctx, projectsPath(account.Namespace, account.Tag), account.APIToken)
	}

	count, err := c.count(ctx, projectsPath(domain.NamespaceGroup, account.Tag), account.APIToken)
	if err == nil || !isNotFound(err) {
		return count, err
	}
	return c.count(ctx, projectsPath(domain.NamespaceUser, account.Tag), account.APIToken)
}

// ListRepositories 拉取一页仓库；没有记住命名空间时同样先试 group 再试 user
func (c *Client) ListRepositories(ctx context.Context, account *domain.Account, page, perPage int) ([]*domain.Repository, error) {
	if account.Namespace != "" {
		return c.list(ctx, account.Namespace, account, page, perPage)
	}

	repos, err := c.list(ctx, domain.NamespaceGroup, account, page, perPage)
	if err == nil || !isNotFound(err) {
		return repos, err
	}
	return c.list(ctx, domain.NamespaceUser, account, page, perPage)
}

func (c *Client) list(ctx context.Context, ns domain.Namespace, account *domain.Account, page, perPage int) ([]*domain.Repository, error) {
	var projects []project
	resp, err := c.request(ctx, account.APIToken).
		SetResult(&projects).
		SetQueryParams(map[string]string{
			"page":     strconv.Itoa(page),
			"per_page": strconv.Itoa(perPage),
			"order_by": "last_activity_at",
			"sort":     "desc",
		}).
		Get(projectsPath(ns, account.Tag))
	if err != nil {
		return nil, fmt.Errorf("GitLab API 调用失败: %w", err)
	}
	if resp.IsError() {
		return nil, classify(resp, account.Tag)
	}

	repos := make([]*domain.Repository, 0, len(projects))
	for _, p := range projects {
		repos = append(repos, &domain.Repository{
			Name:        lo.CoalesceOrEmpty(p.Path, p.Name),
			URL:         p.WebURL,
			LastUpdated: p.LastActivityAt,
			StarCount:   p.StarCount,
			Description: p.Description,
			Archived:    p.Archived,
		})
	}
	return repos, nil
}

func (c *Client) count(ctx context.Context, path, token string) (int, error) {
	resp, err := c.request(ctx, token).
		SetQueryParam("per_page", "1").
		Get(path)
	if err != nil {
		return 0, fmt.Errorf("GitLab API 调用失败: %w", err)
	}
	if resp.IsError() {
		return 0, classify(resp, path)
	}

	total := resp.Header().Get("X-Total")
	if total == "" {
		// 超过 10000 个项目时 GitLab 不再返回 X-Total
		return 0, nil
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, fmt.Errorf("无法解析 X-Total %q: %w", total, err)
	}
	return n, nil
}

func projectsPath(ns domain.Namespace, tag string) string {
	if ns == domain.NamespaceUser {
		return "/users/" + url.PathEscape(tag) + "/projects"
	}
	return "/groups/" + url.PathEscape(tag) + "/projects"
}

// classify 把 HTTP 状态码映射到应用错误
func classify(resp *resty.Response, tag string) error {
	name := domain.ServiceGitLab.DisplayName()
	cause := fmt.Errorf("HTTP %d: %s", resp.StatusCode(), string(resp.Body()))

	switch resp.StatusCode() {
	case http.StatusTooManyRequests, http.StatusForbidden:
		return common.RateLimited(name, cause)
	case http.StatusNotFound:
		return common.AccountNotFound(name, tag, cause)
	case http.StatusUnauthorized:
		return common.InvalidAPIToken(name, cause)
	default:
		return common.WrapError(common.ErrCodeInternal, "GitLab API 调用失败", cause)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, common.ErrAccountNotFound)
}
