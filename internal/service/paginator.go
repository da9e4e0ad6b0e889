package service

import (
	"context"
	"log/slog"

	"scorecard-monitor/internal/domain"
	"scorecard-monitor/internal/metrics"
	"scorecard-monitor/internal/port"
)

// PageSize 每页仓库数，GitHub 和 GitLab 的上限都是 100
const PageSize = 100

// Paginator 按页拉取账号下的所有仓库，每拉完一页就推送一次
type Paginator struct {
	lister  port.RepositoryLister
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewPaginator 创建分页器
func NewPaginator(lister port.RepositoryLister, log *slog.Logger, m *metrics.Metrics) *Paginator {
	return &Paginator{lister: lister, log: log, metrics: m}
}

// Fetch 顺序拉取第 1、2、3… 页，直到某一页不满
// 每页合并后把集合的副本交给 emit。
// ctx 在每次请求前后都会检查：一旦取消，不再发请求也不再推送，
// 返回已拉到的部分集合和 ctx.Err()
func (p *Paginator) Fetch(ctx context.Context, account *domain.Account, emit func(*domain.RepositoryCollection)) (*domain.RepositoryCollection, error) {
	total, err := p.lister.CountRepositories(ctx, account)
	if err != nil {
		p.log.Warn("获取仓库总数失败，进度将显示为 0", "account", account.Key(), "error", err)
		total = 0
	}

	collection := domain.NewRepositoryCollection(total)
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return collection, err
		}

		repos, err := p.lister.ListRepositories(ctx, account, page, PageSize)
		if err != nil {
			return collection, err
		}
		if err := ctx.Err(); err != nil {
			return collection, err
		}
		p.metrics.PageFetched(string(account.Service))

		collection.AddRepositories(repos)
		if len(repos) < PageSize {
			collection.Complete()
		}

		p.log.Debug("拉取了一页仓库",
			"account", account.Key(),
			"page", page,
			"loaded", collection.LoadedCount(),
			"percentage", collection.LoadPercentage(),
		)
		if emit != nil {
			emit(collection.Clone())
		}

		if collection.Completed {
			return collection, nil
		}
	}
}
