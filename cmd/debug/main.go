package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"scorecard-monitor/internal/adapter/analyzer"
	"scorecard-monitor/internal/adapter/feishu"
	"scorecard-monitor/internal/adapter/github"
	"scorecard-monitor/internal/adapter/gitlab"
	"scorecard-monitor/internal/adapter/scorecard"
	"scorecard-monitor/internal/config"
	"scorecard-monitor/internal/domain"
	"scorecard-monitor/internal/logging"
	"scorecard-monitor/internal/port"
)

func main() {
	serviceName := flag.String("service", "github", "github | gitlab")
	tag := flag.String("tag", "ossf", "账号")
	limit := flag.Int("limit", 5, "最多获取多少个仓库的 scorecard")
	notify := flag.Bool("notify", false, "把汇总推送到飞书")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ 配置无效: %v", err)
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("❌ 日志配置无效: %v", err)
	}

	ctx := context.Background()

	service, ok := domain.ParseService(*serviceName)
	if !ok {
		log.Fatalf("❌ 不支持的平台: %s", *serviceName)
	}
	githubOpts, err := github.OptionsFromConfig(cfg.GitHub.BaseURL)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	var provider port.Provider = github.NewFetcher(githubOpts...)
	if service == domain.ServiceGitLab {
		provider = gitlab.NewClient(cfg.GitLab.BaseURL)
	}
	source := scorecard.NewClient(cfg.Scorecard.APIURL)

	fmt.Printf("🔍 调试模式：检查 %s 账号 %s\n", service.DisplayName(), *tag)

	// 1. 账号
	account, err := provider.LookupAccount(ctx, *tag, cfg.Tokens()[service])
	if err != nil {
		log.Fatalf("❌ 查询账号失败: %v", err)
	}
	fmt.Printf("✅ 账号: %s (%s)，平台显示 %d 个仓库\n", account.Name, account.URL, account.TotalRepositories)

	// 2. 仓库总数和第一页
	total, err := provider.CountRepositories(ctx, account)
	if err != nil {
		log.Printf("⚠️ 获取仓库总数失败: %v", err)
	}
	fmt.Printf("📥 仓库总数上限: %d\n", total)

	repos, err := provider.ListRepositories(ctx, account, 1, *limit)
	if err != nil {
		log.Fatalf("❌ 拉取仓库失败: %v", err)
	}
	fmt.Printf("✅ 第一页拿到 %d 个仓库\n", len(repos))
	if len(repos) == 0 {
		fmt.Println("❌ 账号下没有仓库")
		return
	}

	// 3. Scorecard
	fmt.Println("🧪 开始获取 scorecard...")
	requests := make([]*domain.ScorecardRequest, 0, len(repos))
	for i, repo := range repos {
		fmt.Printf("  仓库 #%d: %s\n", i+1, repo.Name)
		req := &domain.ScorecardRequest{Repository: repo, LoadState: domain.LoadStateSuccess}
		requests = append(requests, req)

		sc, err := source.GetScorecard(ctx, service.Host(), account.Tag, repo.Name)
		if err != nil {
			fmt.Printf("    ⚠️ %v\n", err)
			continue
		}
		sc.Prioritize()
		req.Scorecard = sc

		if sc.Score != nil {
			fmt.Printf("    总分: %.1f\n", *sc.Score)
		}
		for _, check := range sc.Checks {
			if check.Priority != domain.PriorityCritical && check.Priority != domain.PriorityHigh {
				continue
			}
			score := "?"
			if check.Score != nil {
				score = fmt.Sprintf("%d", *check.Score)
			}
			fmt.Printf("    [%s] %s: %s\n", check.Priority, check.Name, score)
		}
		fmt.Printf("    查看: %s\n", sc.ViewerURL)
	}

	// 4. 汇总
	summary := analyzer.Summarize(account, requests, false, 3)
	fmt.Printf("⭐ 平均分 %.1f，%d 个有 scorecard，%d 个没有\n",
		summary.AverageScore, summary.WithScorecard, summary.MissingScorecard)

	if *notify {
		if cfg.Notifications.Feishu.Webhook == "" {
			fmt.Println("❌ 没有配置飞书 Webhook")
			os.Exit(1)
		}
		if err := feishu.NewNotifier(cfg.Notifications.Feishu.Webhook, logger).Notify(ctx, summary); err != nil {
			log.Fatalf("❌ 推送失败: %v", err)
		}
		fmt.Println("✅ 已推送到飞书")
	}
}
