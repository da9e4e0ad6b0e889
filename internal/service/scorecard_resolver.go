package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"scorecard-monitor/internal/cache"
	"scorecard-monitor/internal/common"
	"scorecard-monitor/internal/domain"
	"scorecard-monitor/internal/metrics"
	"scorecard-monitor/internal/port"
)

// ScorecardResolver 先查缓存再调 API；“没有 scorecard”同样会被缓存
type ScorecardResolver struct {
	source  port.ScorecardSource
	cache   *cache.Table[*domain.Scorecard]
	ttl     time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewScorecardResolver ttl 同时用于命中和未命中的结果
func NewScorecardResolver(source port.ScorecardSource, table *cache.Table[*domain.Scorecard], ttl time.Duration, log *slog.Logger, m *metrics.Metrics) *ScorecardResolver {
	return &ScorecardResolver{
		source:  source,
		cache:   table,
		ttl:     ttl,
		log:     log,
		metrics: m,
	}
}

// GetScorecard 返回仓库的 scorecard，没有时返回 nil
// 会更新 repo 的 Scorecard 和 HasScorecard，调用方应传入自己的副本
func (r *ScorecardResolver) GetScorecard(ctx context.Context, account *domain.Account, repo *domain.Repository, force bool) *domain.Scorecard {
	// 1. 之前确认过没有 scorecard
	if repo.KnownWithoutScorecard() && !force {
		r.metrics.RemoteRequest("scorecard", metrics.OutcomeSkipped)
		return nil
	}

	// 2. 缓存
	if !force {
		item, err := r.cache.Get(ctx, repo.URL)
		if err != nil {
			r.log.Warn("读取 scorecard 缓存失败，改为直接请求", "repository", repo.URL, "error", err)
		} else if item != nil {
			apply(repo, item.Value)
			return item.Value
		}
	}

	if ctx.Err() != nil {
		return nil
	}

	// 3. 远程请求
	sc, err := r.source.GetScorecard(ctx, account.Service.Host(), account.Tag, repo.Name)
	if err != nil {
		if ctx.Err() != nil {
			// 被取消的请求不代表仓库没有 scorecard，不能缓存
			return nil
		}
		if errors.Is(err, common.ErrScorecardNotFound) {
			r.metrics.RemoteRequest("scorecard", metrics.OutcomeNotFound)
			r.log.Debug("仓库没有 scorecard", "repository", repo.URL)
		} else {
			r.metrics.RemoteRequest("scorecard", metrics.OutcomeError)
			r.log.Warn("获取 scorecard 失败，按没有 scorecard 处理", "repository", repo.URL, "error", err)
		}
		sc = nil
	} else {
		r.metrics.RemoteRequest("scorecard", metrics.OutcomeSuccess)
		sc.Prioritize()
	}

	sc = r.store(ctx, repo.URL, sc, force)
	apply(repo, sc)
	return sc
}

func (r *ScorecardResolver) store(ctx context.Context, key string, sc *domain.Scorecard, force bool) *domain.Scorecard {
	var (
		stored *domain.Scorecard
		err    error
	)
	if force {
		stored, err = r.cache.Replace(ctx, key, sc, r.ttl)
	} else {
		stored, err = r.cache.Add(ctx, key, sc, r.ttl)
	}
	if err != nil {
		r.log.Warn("写入 scorecard 缓存失败", "repository", key, "error", err)
		return sc
	}
	return stored
}

func apply(repo *domain.Repository, sc *domain.Scorecard) {
	repo.Scorecard = sc
	repo.SetHasScorecard(sc != nil)
}
