package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"scorecard-monitor/internal/adapter/filter"
	"scorecard-monitor/internal/common"
	"scorecard-monitor/internal/domain"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

func newRootCmd(factory appFactory) *cobra.Command {
	root := &cobra.Command{
		Use:           "scorecard-monitor",
		Short:         "跟踪 GitHub / GitLab 账号下所有仓库的 OpenSSF Scorecard",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.AddCommand(
		newAccountsCmd(factory),
		newShowCmd(factory),
		newRefreshCmd(factory),
		newWatchCmd(factory),
	)
	return root
}

func newAccountsCmd(factory appFactory) *cobra.Command {
	accounts := &cobra.Command{
		Use:   "accounts",
		Short: "管理关注的账号",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "列出关注的账号",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			defer app.svc.Close()

			if _, err := app.svc.EnsureDefaultAccount(cmd.Context()); err != nil {
				return err
			}
			all, err := app.svc.Accounts(cmd.Context())
			if err != nil {
				return err
			}
			return renderAccounts(cmd.OutOrStdout(), all)
		},
	}

	var token string
	add := &cobra.Command{
		Use:   "add <service> <tag>",
		Short: "关注一个账号 (service: github | gitlab)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			defer app.svc.Close()

			account, err := app.svc.FollowAccount(cmd.Context(), args[0], args[1], token)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ 已关注 %s 账号 %s (%d 个仓库)\n",
				account.Service.DisplayName(), account.Tag, account.TotalRepositories)
			return nil
		},
	}
	add.Flags().StringVar(&token, "token", "", "该账号使用的 API Token，默认使用环境变量里的")

	remove := &cobra.Command{
		Use:     "delete <service> <tag>",
		Aliases: []string{"rm"},
		Short:   "取消关注一个账号",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			defer app.svc.Close()

			if err := app.svc.DeleteAccount(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "🗑️ 已取消关注 %s\n", args[1])
			return nil
		},
	}

	accounts.AddCommand(list, add, remove)
	return accounts
}

type showFlags struct {
	sortBy       string
	nameContains string
	hideArchived bool
	hideMissing  string
}

func newShowCmd(factory appFactory) *cobra.Command {
	var flags showFlags

	cmd := &cobra.Command{
		Use:   "show [service] [tag]",
		Short: "显示账号下所有仓库的 scorecard，不指定账号时显示第一个关注的账号",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sortBy, err := filter.ParseSortBy(flags.sortBy)
			if err != nil {
				return err
			}

			app, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			defer app.svc.Close()

			ctx := cmd.Context()
			service, tag, err := resolveTarget(ctx, app, args)
			if err != nil {
				return err
			}

			if flags.hideMissing != "" {
				hide, err := strconv.ParseBool(flags.hideMissing)
				if err != nil {
					return common.WrapError(common.ErrCodeInvalidInput, "--hide-missing 只能是 true 或 false", err)
				}
				if err := app.svc.SetIgnoreReposWithMissingScorecards(ctx, hide); err != nil {
					return err
				}
			}

			if err := selectAndWait(ctx, app, service, tag, cmd); err != nil {
				return err
			}

			streams := app.svc.Streams()
			requests := filter.Apply(streams.Scorecards.Get(), filter.Options{
				HideArchived: flags.hideArchived,
				NameContains: flags.nameContains,
				SortBy:       sortBy,
			})
			return renderScorecards(cmd.OutOrStdout(), streams.Account.Get(), requests, streams.AverageScore.Get())
		},
	}

	cmd.Flags().StringVar(&flags.sortBy, "sort", "score", "排序: score | name | stars | updated")
	cmd.Flags().StringVar(&flags.nameContains, "filter", "", "只显示名称包含该字符串的仓库")
	cmd.Flags().BoolVar(&flags.hideArchived, "hide-archived", false, "隐藏已归档的仓库")
	cmd.Flags().StringVar(&flags.hideMissing, "hide-missing", "", "计算平均分时是否忽略没有 scorecard 的仓库 (true | false)，会被记住")
	return cmd
}

func newRefreshCmd(factory appFactory) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "refresh <service> <tag>",
		Short: "重新拉取账号的仓库和 scorecard",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			defer app.svc.Close()

			ctx := cmd.Context()
			if err := selectAndWait(ctx, app, args[0], args[1], cmd); err != nil {
				return err
			}
			if _, err := app.svc.ReloadRepositories(ctx, force); err != nil {
				return err
			}
			if force {
				if err := app.svc.ReloadScorecards(ctx, true); err != nil {
					return err
				}
			}

			streams := app.svc.Streams()
			account := streams.Account.Get()
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s: %d 个仓库，平均分 %.1f\n",
				account.Key(), streams.Repositories.Get().LoadedCount(), streams.AverageScore.Get())
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "忽略缓存")
	return cmd
}

func newWatchCmd(factory appFactory) *cobra.Command {
	var schedule, metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "定时刷新所有关注的账号",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			defer app.svc.Close()

			if schedule == "" {
				schedule = app.cfg.Watch.Schedule
			}
			if metricsAddr == "" {
				metricsAddr = app.cfg.Watch.MetricsAddr
			}
			return runWatch(cmd.Context(), app, schedule, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&schedule, "schedule", "", "cron 表达式，默认使用配置里的 watch.schedule")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus 指标监听地址，例如 :9090")
	return cmd
}

// runWatch 启动时先执行一次，之后按 cron 表达式执行，直到 ctx 结束
func runWatch(ctx context.Context, app *application, schedule, metricsAddr string) error {
	scheduler := cron.New()

	if _, err := scheduler.AddFunc(schedule, func() { refreshAll(ctx, app) }); err != nil {
		return fmt.Errorf("无效的 cron 表达式 %q: %w", schedule, err)
	}
	if app.sweeper != nil && app.cfg.Watch.SweepSchedule != "" {
		_, err := scheduler.AddFunc(app.cfg.Watch.SweepSchedule, func() {
			purged, err := app.sweeper.PurgeExpired(ctx, time.Now())
			if err != nil {
				app.log.Warn("清理过期缓存失败", "error", err)
				return
			}
			app.log.Info("清理过期缓存", "purged", purged)
		})
		if err != nil {
			return fmt.Errorf("无效的 cron 表达式 %q: %w", app.cfg.Watch.SweepSchedule, err)
		}
	}

	var server *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))
		server = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				app.log.Error("指标服务异常退出", "error", err)
			}
		}()
		app.log.Info("指标服务已启动", "addr", metricsAddr)
	}

	app.log.Info("定时刷新已启动", "schedule", schedule)
	refreshAll(ctx, app)
	scheduler.Start()

	<-ctx.Done()
	app.log.Info("收到停止信号，正在退出")
	<-scheduler.Stop().Done()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
	return nil
}

// refreshAll 依次刷新每个关注的账号，单个账号失败不影响其他账号
func refreshAll(ctx context.Context, app *application) {
	if _, err := app.svc.EnsureDefaultAccount(ctx); err != nil {
		app.log.Error("没有可刷新的账号", "error", err)
		return
	}
	accounts, err := app.svc.Accounts(ctx)
	if err != nil {
		app.log.Error("读取关注的账号失败", "error", err)
		return
	}

	for _, account := range accounts {
		if ctx.Err() != nil {
			return
		}
		if _, err := app.svc.SetAccount(ctx, string(account.Service), account.Tag); err != nil {
			app.log.Warn("刷新账号失败", "account", account.Key(), "error", err)
			continue
		}
		if err := app.svc.Wait(ctx); err != nil {
			return
		}
		app.log.Info("账号已刷新",
			"account", account.Key(),
			"repositories", app.svc.Streams().Repositories.Get().LoadedCount(),
			"average", app.svc.Streams().AverageScore.Get(),
		)
	}
}

// resolveTarget 没有指定账号时使用第一个关注的账号
func resolveTarget(ctx context.Context, app *application, args []string) (string, string, error) {
	switch len(args) {
	case 2:
		return args[0], args[1], nil
	case 0:
		account, err := app.svc.EnsureDefaultAccount(ctx)
		if err != nil {
			return "", "", err
		}
		return string(account.Service), account.Tag, nil
	default:
		return "", "", errors.New("需要同时指定 service 和 tag")
	}
}

// selectAndWait 选中账号并等待加载完成，期间在标准错误上显示进度
func selectAndWait(ctx context.Context, app *application, service, tag string, cmd *cobra.Command) error {
	progressCtx, stopProgress := context.WithCancel(ctx)
	defer stopProgress()

	updates := app.svc.Streams().Repositories.Subscribe(progressCtx)
	printed := make(chan bool, 1)
	go func() {
		shown := false
		for collection := range updates {
			if collection != nil && !collection.Completed {
				fmt.Fprintf(cmd.ErrOrStderr(), "\r⏳ 正在加载仓库 %d%%", collection.LoadPercentage())
				shown = true
			}
		}
		printed <- shown
	}()

	if _, err := app.svc.SetAccount(ctx, service, tag); err != nil {
		return err
	}
	if err := app.svc.Wait(ctx); err != nil {
		return err
	}
	stopProgress()
	if <-printed {
		fmt.Fprintln(cmd.ErrOrStderr())
	}

	if app.svc.Streams().Repositories.Get() == nil {
		return fmt.Errorf("加载 %s 的仓库失败，请查看日志", domain.AccountKey(domain.Service(service), tag))
	}
	return nil
}
