// Package scorecard 调用 OpenSSF Scorecard API
package scorecard

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"scorecard-monitor/internal/common"
	"scorecard-monitor/internal/domain"
	"scorecard-monitor/internal/port"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultAPIBase OpenSSF Scorecard API 地址
	DefaultAPIBase = "https://api.securityscorecards.dev"
	// ViewerBase 网页版 scorecard
	ViewerBase = "https://scorecard.dev/viewer/"

	defaultTimeout = 30 * time.Second
)

// scorecardResponse API 的原始响应，只保留用到的字段
type scorecardResponse struct {
	Date   string        `json:"date"`
	Score  *float64      `json:"score"`
	Checks []checkResult `json:"checks"`
}

type checkResult struct {
	Name          string        `json:"name"`
	Score         int           `json:"score"`
	Reason        string        `json:"reason"`
	Documentation documentation `json:"documentation"`
}

type documentation struct {
	URL   string `json:"url"`
	Short string `json:"short"`
}

// Client 实现了 port.ScorecardSource 接口
type Client struct {
	*resty.Client
}

var _ port.ScorecardSource = (*Client)(nil)

// NewClient baseURL 为空时使用官方 API
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIBase
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(defaultTimeout)

	return &Client{Client: client}
}

// GetScorecard 返回的 checks 顺序与 API 一致，不做排序
// 仓库没有被评估过时返回 ScorecardNotFound
func (c *Client) GetScorecard(ctx context.Context, host, owner, repo string) (*domain.Scorecard, error) {
	project := fmt.Sprintf("%s/%s/%s", host, owner, repo)

	var response scorecardResponse
	resp, err := c.R().
		SetContext(ctx).
		SetResult(&response).
		SetPathParams(map[string]string{
			"host":  host,
			"owner": owner,
			"repo":  repo,
		}).
		Get("/projects/{host}/{owner}/{repo}")
	if err != nil {
		return nil, fmt.Errorf("请求 scorecard %s 失败: %w", project, err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, common.ScorecardNotFound(project, nil)
	case resp.IsError():
		return nil, common.WrapError(common.ErrCodeInternal,
			fmt.Sprintf("请求 scorecard %s 失败", project),
			fmt.Errorf("HTTP %d: %s", resp.StatusCode(), string(resp.Body())))
	}

	return toScorecard(&response, project), nil
}

// ViewerURL 网页版 scorecard 的地址
func ViewerURL(project string) string {
	return ViewerBase + "?uri=" + url.QueryEscape(project)
}

func toScorecard(response *scorecardResponse, project string) *domain.Scorecard {
	sc := &domain.Scorecard{
		Score:         response.Score,
		Checks:        make([]domain.Check, 0, len(response.Checks)),
		ViewerURL:     ViewerURL(project),
		DateGenerated: parseDate(response.Date),
	}
	for _, check := range response.Checks {
		var score *int
		// -1 表示结论不确定
		if check.Score >= 0 {
			s := check.Score
			score = &s
		}
		sc.Checks = append(sc.Checks, domain.Check{
			Name:               check.Name,
			Score:              score,
			Reason:             check.Reason,
			DocumentationURL:   check.Documentation.URL,
			DocumentationShort: check.Documentation.Short,
		})
	}
	return sc
}

// parseDate API 的 date 有时是完整时间，有时只有日期
func parseDate(value string) time.Time {
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
