package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"scorecard-monitor/internal/adapter/feishu"
	"scorecard-monitor/internal/adapter/github"
	"scorecard-monitor/internal/adapter/gitlab"
	"scorecard-monitor/internal/adapter/scorecard"
	"scorecard-monitor/internal/adapter/store"
	"scorecard-monitor/internal/common"
	"scorecard-monitor/internal/config"
	"scorecard-monitor/internal/domain"
	"scorecard-monitor/internal/logging"
	"scorecard-monitor/internal/metrics"
	"scorecard-monitor/internal/port"
	"scorecard-monitor/internal/service"

	"github.com/prometheus/client_golang/prometheus"
)

// application 一次命令执行所需的全部依赖
type application struct {
	cfg      config.Config
	log      *slog.Logger
	svc      *service.SyncService
	sweeper  port.Sweeper
	registry *prometheus.Registry
}

// appFactory 测试时替换为内存实现
type appFactory func(ctx context.Context) (*application, error)

// newApplication 按配置组装各个适配器
func newApplication(ctx context.Context) (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, common.WrapError(common.ErrCodeInvalidInput, "配置无效", err)
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, common.WrapError(common.ErrCodeInvalidInput, "日志配置无效", err)
	}
	slog.SetDefault(log)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	var backend interface {
		port.Backend
		port.Sweeper
	}
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresBackend(ctx, cfg.Database.DSN, log)
		if err != nil {
			return nil, err
		}
		backend = pg
	} else {
		log.Info("没有配置数据库，缓存只保存在内存中")
		backend = store.NewMemoryBackend()
	}

	githubOpts, err := github.OptionsFromConfig(cfg.GitHub.BaseURL)
	if err != nil {
		return nil, err
	}

	var notifier port.Notifier
	if cfg.Notifications.Feishu.Webhook != "" {
		notifier = feishu.NewNotifier(cfg.Notifications.Feishu.Webhook, log)
	}

	opts := service.DefaultOptions()
	opts.AccountTTL = cfg.Cache.AccountTTL()
	opts.RepositoryTTL = cfg.Cache.RepositoryTTL()
	opts.ScorecardTTL = cfg.Cache.ScorecardTTL()
	opts.Concurrency = cfg.Scorecard.Concurrency
	opts.Tokens = cfg.Tokens()
	opts.SummaryLowest = cfg.Notifications.Feishu.LowestRepositories
	if svc, ok := domain.ParseService(cfg.DefaultAccount.Service); ok {
		opts.DefaultService = svc
	}
	opts.DefaultTag = cfg.DefaultAccount.Tag

	svc := service.NewSyncService(
		[]port.Provider{
			github.NewFetcher(githubOpts...),
			gitlab.NewClient(cfg.GitLab.BaseURL),
		},
		scorecard.NewClient(cfg.Scorecard.APIURL),
		backend,
		notifier,
		opts,
		log,
		m,
	)

	return &application{
		cfg:      cfg,
		log:      log,
		svc:      svc,
		sweeper:  backend,
		registry: registry,
	}, nil
}

// describe 把应用错误渲染成“标题: 说明”
func describe(err error) string {
	var appErr *common.AppError
	if errors.As(err, &appErr) && appErr.Title != "" {
		return fmt.Sprintf("%s: %s", appErr.Title, appErr.Message)
	}
	return err.Error()
}
