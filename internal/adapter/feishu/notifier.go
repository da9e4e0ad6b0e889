package feishu

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"scorecard-monitor/internal/common"
	"scorecard-monitor/internal/port"

	"github.com/go-resty/resty/v2"
)

// webhookResponse 飞书即使出错也可能返回 200，需要看 code
type webhookResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Notifier 实现了 port.Notifier 接口
type Notifier struct {
	webhookURL   string
	client       *resty.Client
	maxRetries   int
	initialDelay time.Duration
}

var _ port.Notifier = (*Notifier)(nil)

// Option 配置 Notifier
type Option func(*Notifier)

// WithRetry 设置推送失败时的重试策略
func WithRetry(maxRetries int, initialDelay time.Duration) Option {
	return func(n *Notifier) {
		n.maxRetries = maxRetries
		n.initialDelay = initialDelay
	}
}

func NewNotifier(webhook string, log *slog.Logger, opts ...Option) *Notifier {
	if webhook == "" {
		log.Warn("飞书 Webhook 为空，推送功能将无法工作")
	}
	n := &Notifier{
		webhookURL:   webhook,
		client:       resty.New().SetTimeout(10 * time.Second),
		maxRetries:   3,
		initialDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify 发送账号汇总卡片 (Schema 2.0)
func (n *Notifier) Notify(ctx context.Context, summary *port.AccountSummary) error {
	if n.webhookURL == "" {
		return common.NewError(common.ErrCodeNotification, "Webhook URL 为空")
	}
	if summary == nil || summary.Account == nil {
		return common.NewError(common.ErrCodeInvalidInput, "汇总信息为空")
	}

	payload := buildCard(summary)

	err := common.Do(ctx, func() error {
		var result webhookResponse
		resp, postErr := n.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(payload).
			SetResult(&result).
			Post(n.webhookURL)
		if postErr != nil {
			return postErr
		}
		if resp.IsError() {
			return fmt.Errorf("飞书 API 报错: 状态码 %d", resp.StatusCode())
		}
		if result.Code != 0 {
			// 签名、格式之类的错误重试也没用
			return common.Permanent(fmt.Errorf("飞书 API 报错: code=%d msg=%s", result.Code, result.Msg))
		}
		return nil
	},
		common.WithMaxRetries(n.maxRetries),
		common.WithInitialDelay(n.initialDelay),
	)
	if err != nil {
		return common.WrapError(common.ErrCodeNotification, "发送飞书通知失败", err)
	}

	return nil
}

func buildCard(summary *port.AccountSummary) map[string]any {
	account := summary.Account
	title := fmt.Sprintf("🛡️ %s 安全评分: %.1f", account.Name, summary.AverageScore)

	template := "green"
	switch {
	case summary.AverageScore < 4:
		template = "red"
	case summary.AverageScore < 7:
		template = "orange"
	}

	var md strings.Builder
	fmt.Fprintf(&md, "**平台:** %s  |  **账号:** %s\n", account.Service.DisplayName(), account.Tag)
	fmt.Fprintf(&md, "**仓库数:** %d  |  **有 Scorecard:** %d  |  **缺失:** %d\n",
		summary.Repositories, summary.WithScorecard, summary.MissingScorecard)
	if len(summary.Lowest) > 0 {
		md.WriteString("\n**📉 分数最低的仓库:**\n")
		for _, req := range summary.Lowest {
			fmt.Fprintf(&md, "- [%s](%s) %.1f\n", req.Repository.Name, req.Repository.URL, *req.Score())
		}
	}

	elements := []map[string]any{
		{
			"tag":       "markdown",
			"content":   md.String(),
			"text_size": "normal",
		},
	}
	if account.URL != "" {
		elements = append(elements, map[string]any{
			"tag": "button",
			"text": map[string]any{
				"tag":     "plain_text",
				"content": "🔗 查看账号",
			},
			"type": "primary",
			"behaviors": []map[string]any{
				{
					"type":        "open_url",
					"default_url": account.URL,
				},
			},
		})
	}

	return map[string]any{
		"msg_type": "interactive",
		"card": map[string]any{
			"schema": "2.0",
			"config": map[string]any{
				"update_multi": true,
			},
			"header": map[string]any{
				"title": map[string]any{
					"tag":     "plain_text",
					"content": title,
				},
				"template": template,
			},
			"body": map[string]any{
				"direction": "vertical",
				"elements":  elements,
			},
		},
	}
}
