package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scorecard-monitor/internal/adapter/analyzer"
	"scorecard-monitor/internal/cache"
	"scorecard-monitor/internal/common"
	"scorecard-monitor/internal/domain"
	"scorecard-monitor/internal/metrics"
	"scorecard-monitor/internal/port"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// Options SyncService 的可调参数
type Options struct {
	AccountTTL    time.Duration
	RepositoryTTL time.Duration
	ScorecardTTL  time.Duration

	// Concurrency 同时进行的 scorecard 请求数
	Concurrency int

	// Tokens 按平台配置的默认 API Token
	Tokens map[domain.Service]string

	// DefaultService / DefaultTag 没有任何关注账号时自动关注的账号
	DefaultService domain.Service
	DefaultTag     string

	// SummaryLowest 通知里列出分数最低的仓库个数
	SummaryLowest int

	// Clock 缓存使用的时钟，测试时注入
	Clock func() time.Time
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		AccountTTL:     7 * cache.Day,
		RepositoryTTL:  1 * cache.Day,
		ScorecardTTL:   3 * cache.Day,
		Concurrency:    8,
		DefaultService: domain.ServiceGitHub,
		DefaultTag:     "ossf",
		SummaryLowest:  5,
	}
}

// Streams 展示层可以订阅的所有状态
type Streams struct {
	Account           *Cell[*domain.Account]
	Repositories      *Cell[*domain.RepositoryCollection]
	Scorecards        *Cell[[]*domain.ScorecardRequest]
	LoadingCount      *Cell[int]
	ScorecardsLoading *Cell[domain.LoadState]
	AverageScore      *Cell[float64]
	Errors            *Stream[error]
}

func newStreams() *Streams {
	return &Streams{
		Account:           NewCell[*domain.Account](nil),
		Repositories:      NewCell[*domain.RepositoryCollection](nil),
		Scorecards:        NewCell[[]*domain.ScorecardRequest](nil),
		LoadingCount:      NewCell(0),
		ScorecardsLoading: NewCell(domain.LoadStateSuccess),
		AverageScore:      NewCell(0.0),
		Errors:            NewStream[error](),
	}
}

// SyncService 管理当前选中的账号：切换账号、分页加载仓库、并发获取 scorecard、计算平均分
//
// 每次选中账号都会创建新的 context 和代号 (generation)。
// 所有状态更新都在 mu 下进行，并且只有代号一致、context 未取消时才生效，
// 被取代的后台任务即使还在运行也不会再改变任何可观察的状态。
type SyncService struct {
	providers    map[domain.Service]port.Provider
	resolver     *ScorecardResolver
	accounts     *cache.Table[*domain.Account]
	repositories *cache.Table[[]*domain.Repository]
	prefs        *cache.Preferences
	notifier     port.Notifier
	opts         Options
	log          *slog.Logger
	metrics      *metrics.Metrics
	streams      *Streams

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu          sync.Mutex
	generation  uint64
	selCtx      context.Context
	selCancel   context.CancelFunc
	done        chan struct{}
	account     *domain.Account
	collection  *domain.RepositoryCollection
	requests    map[string]*domain.ScorecardRequest
	order       []string
	hideMissing bool
}

// NewSyncService notifier 可以为 nil
func NewSyncService(
	providers []port.Provider,
	source port.ScorecardSource,
	backend port.Backend,
	notifier port.Notifier,
	opts Options,
	log *slog.Logger,
	m *metrics.Metrics,
) *SyncService {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	tableOpts := []cache.Option{cache.WithMetrics(m)}
	if opts.Clock != nil {
		tableOpts = append(tableOpts, cache.WithClock(opts.Clock))
	}

	byService := make(map[domain.Service]port.Provider, len(providers))
	for _, p := range providers {
		byService[p.Service()] = p
	}

	scorecards := cache.NewTable[*domain.Scorecard](backend, cache.TableScorecards, tableOpts...)
	baseCtx, baseCancel := context.WithCancel(context.Background())

	return &SyncService{
		providers:    byService,
		resolver:     NewScorecardResolver(source, scorecards, opts.ScorecardTTL, log, m),
		accounts:     cache.NewTable[*domain.Account](backend, cache.TableAccounts, tableOpts...),
		repositories: cache.NewTable[[]*domain.Repository](backend, cache.TableRepositories, tableOpts...),
		prefs:        cache.NewPreferences(backend),
		notifier:     notifier,
		opts:         opts,
		log:          log,
		metrics:      m,
		streams:      newStreams(),
		baseCtx:      baseCtx,
		baseCancel:   baseCancel,
		requests:     make(map[string]*domain.ScorecardRequest),
	}
}

// Streams 返回可订阅的状态
func (s *SyncService) Streams() *Streams {
	return s.streams
}

func (s *SyncService) provider(value string) (domain.Service, port.Provider, error) {
	service, ok := domain.ParseService(value)
	if !ok {
		return "", nil, common.ServiceNotSupported(value)
	}
	p, ok := s.providers[service]
	if !ok {
		return "", nil, common.ServiceNotSupported(value)
	}
	return service, p, nil
}

// SetAccount 选中一个账号：取消之前的任务，清空状态，
// 查询账号（优先缓存），然后在后台加载仓库和 scorecard
func (s *SyncService) SetAccount(ctx context.Context, service, tag string) (*domain.Account, error) {
	svc, provider, err := s.provider(service)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.selCancel != nil {
		s.selCancel()
	}
	s.generation++
	gen := s.generation
	selCtx, selCancel := context.WithCancel(s.baseCtx)
	s.selCtx, s.selCancel = selCtx, selCancel
	done := make(chan struct{})
	s.done = done
	s.resetLocked()
	s.mu.Unlock()

	// 账号查询同时受调用方和本次选择的控制
	lookupCtx, stop := s.bind(ctx, selCtx)
	account, err := s.loadAccount(lookupCtx, svc, provider, tag, s.opts.Tokens[svc])
	if err != nil && lookupCtx.Err() != nil {
		err = context.Cause(lookupCtx)
	}
	stop()
	if err != nil {
		close(done)
		s.publishError(selCtx, gen, err)
		return nil, err
	}

	// 取消旧选择之后再读偏好
	hide, err := s.prefs.Bool(selCtx, cache.PreferenceHideMissingScorecards, false)
	if err != nil {
		s.log.Warn("读取偏好设置失败", "error", err)
	}

	s.mu.Lock()
	if !s.liveLocked(selCtx, gen) {
		s.mu.Unlock()
		close(done)
		return nil, context.Canceled
	}
	s.hideMissing = hide
	s.account = account
	s.streams.Account.Set(cloneAccount(account))
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.load(selCtx, gen, account)
	}()

	return cloneAccount(account), nil
}

// load 选中账号后的后台任务
func (s *SyncService) load(ctx context.Context, gen uint64, account *domain.Account) {
	if _, err := s.reloadRepositories(ctx, gen, account, false); err != nil {
		s.publishError(ctx, gen, err)
		return
	}
	s.reloadScorecards(ctx, gen, account, false)
}

// Wait 阻塞到当前选择的后台任务结束
func (s *SyncService) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 取消所有后台任务
func (s *SyncService) Close() {
	s.baseCancel()
}

// ReloadRepositories 重新加载当前账号的仓库，完成后重新获取 scorecard
// force 为 true 时跳过缓存
func (s *SyncService) ReloadRepositories(ctx context.Context, force bool) (*domain.RepositoryCollection, error) {
	opCtx, gen, account, stop, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	defer stop()

	s.mu.Lock()
	previous := s.collection.Clone()
	s.mu.Unlock()

	collection, err := s.reloadRepositories(opCtx, gen, account, force)
	if err != nil {
		if opCtx.Err() != nil {
			s.restoreCollection(gen, previous)
			return nil, context.Cause(opCtx)
		}
		return nil, err
	}
	s.reloadScorecards(opCtx, gen, account, false)
	if err := context.Cause(opCtx); err != nil {
		return nil, err
	}
	return collection.Clone(), nil
}

func (s *SyncService) reloadRepositories(ctx context.Context, gen uint64, account *domain.Account, force bool) (*domain.RepositoryCollection, error) {
	key := account.Key()

	if !force {
		item, err := s.repositories.Get(ctx, key)
		if err != nil {
			s.log.Warn("读取仓库缓存失败，改为重新拉取", "account", key, "error", err)
		} else if item != nil {
			collection := domain.NewCompletedCollection(item.Value)
			s.applyCollection(ctx, gen, collection)
			s.refineTotal(ctx, gen, collection.LoadedCount())
			return collection, nil
		}
	}

	provider, ok := s.providers[account.Service]
	if !ok {
		return nil, common.ServiceNotSupported(string(account.Service))
	}

	paginator := NewPaginator(provider, s.log, s.metrics)
	collection, err := paginator.Fetch(ctx, account, func(c *domain.RepositoryCollection) {
		s.applyCollection(ctx, gen, c)
	})
	if err != nil {
		return nil, err
	}

	repos := collection.Repositories()
	if force {
		_, err = s.repositories.Replace(ctx, key, repos, s.opts.RepositoryTTL)
	} else {
		_, err = s.repositories.Add(ctx, key, repos, s.opts.RepositoryTTL)
	}
	if err != nil {
		s.log.Warn("写入仓库缓存失败", "account", key, "error", err)
	}

	s.refineTotal(ctx, gen, collection.LoadedCount())
	return collection, nil
}

func (s *SyncService) applyCollection(ctx context.Context, gen uint64, collection *domain.RepositoryCollection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.liveLocked(ctx, gen) {
		return
	}
	s.collection = collection.Clone()
	s.streams.Repositories.Set(collection.Clone())
}

// refineTotal 加载完成后用真实数量替换平台给出的仓库总数
func (s *SyncService) refineTotal(ctx context.Context, gen uint64, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.liveLocked(ctx, gen) || s.account == nil || s.account.TotalRepositories == total {
		return
	}
	refined := cloneAccount(s.account)
	refined.TotalRepositories = total
	s.account = refined
	s.streams.Account.Set(cloneAccount(refined))
}

// ReloadScorecards 重新获取当前所有仓库的 scorecard
func (s *SyncService) ReloadScorecards(ctx context.Context, force bool) error {
	opCtx, gen, account, stop, err := s.current(ctx)
	if err != nil {
		return err
	}
	defer stop()

	s.reloadScorecards(opCtx, gen, account, force)
	return context.Cause(opCtx)
}

func (s *SyncService) reloadScorecards(ctx context.Context, gen uint64, account *domain.Account, force bool) {
	s.mu.Lock()
	if !s.liveLocked(ctx, gen) || s.collection == nil {
		s.mu.Unlock()
		return
	}
	repos := s.collection.Repositories()
	previous := s.requests
	s.requests = make(map[string]*domain.ScorecardRequest, len(repos))
	s.order = make([]string, 0, len(repos))
	prior := make(map[string]*domain.ScorecardRequest, len(repos))
	for _, repo := range repos {
		if _, dup := s.requests[repo.URL]; dup {
			continue
		}
		req := &domain.ScorecardRequest{
			Repository: repo.Clone(),
			Scorecard:  repo.Scorecard.Clone(),
			LoadState:  domain.LoadStateLoading,
		}
		if old, ok := previous[repo.URL]; ok {
			prior[repo.URL] = old.Clone()
		} else {
			prior[repo.URL] = req.Clone()
		}
		s.requests[repo.URL] = req
		s.order = append(s.order, repo.URL)
	}
	pending := lo.PickByKeys(s.requests, s.order)
	jobs := lo.Map(s.order, func(url string, _ int) *domain.Repository {
		return s.requests[url].Repository.Clone()
	})
	s.publishRequestsLocked()
	s.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for _, repo := range jobs {
		if ctx.Err() != nil {
			break
		}
		repo := repo
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			sc := s.resolver.GetScorecard(ctx, account, repo, force)
			s.applyScorecard(ctx, gen, repo, sc)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		s.restoreRequests(gen, pending, prior)
		return
	}
	s.notify(ctx, gen)
}

// ReloadScorecard 重新获取单个仓库的 scorecard
func (s *SyncService) ReloadScorecard(ctx context.Context, repoURL string, force bool) (*domain.ScorecardRequest, error) {
	opCtx, gen, account, stop, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	defer stop()

	s.mu.Lock()
	req, ok := s.requests[repoURL]
	if !ok {
		s.mu.Unlock()
		return nil, common.RepositoryNotFound(repoURL)
	}
	prior := req.Clone()
	req.LoadState = domain.LoadStateLoading
	repo := req.Repository.Clone()
	s.publishRequestsLocked()
	s.mu.Unlock()

	sc := s.resolver.GetScorecard(opCtx, account, repo, force)
	if !s.applyScorecard(opCtx, gen, repo, sc) {
		s.restoreRequests(gen,
			map[string]*domain.ScorecardRequest{repoURL: req},
			map[string]*domain.ScorecardRequest{repoURL: prior})
		if err := context.Cause(opCtx); err != nil {
			return nil, err
		}
		return nil, context.Canceled
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[repoURL].Clone(), nil
}

// applyScorecard 把一个结果写回请求表，所有请求都完成时重新计算平均分
func (s *SyncService) applyScorecard(ctx context.Context, gen uint64, repo *domain.Repository, sc *domain.Scorecard) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.liveLocked(ctx, gen) {
		return false
	}
	req, ok := s.requests[repo.URL]
	if !ok {
		return false
	}
	req.Repository = repo.Clone()
	req.Scorecard = sc.Clone()
	req.LoadState = domain.LoadStateSuccess
	if s.collection != nil {
		s.collection.AddRepositories([]*domain.Repository{repo.Clone()})
	}
	s.publishRequestsLocked()
	return true
}

// SetIgnoreReposWithMissingScorecards 保存偏好并重新计算平均分
func (s *SyncService) SetIgnoreReposWithMissingScorecards(ctx context.Context, hide bool) error {
	if err := s.prefs.SetBool(ctx, cache.PreferenceHideMissingScorecards, hide); err != nil {
		return fmt.Errorf("保存偏好设置失败: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.hideMissing = hide
	s.streams.AverageScore.Set(analyzer.CalculateAverageScore(s.snapshotLocked(), hide))
	return nil
}

// FollowAccount 关注一个新账号
func (s *SyncService) FollowAccount(ctx context.Context, service, tag, token string) (*domain.Account, error) {
	svc, provider, err := s.provider(service)
	if err != nil {
		return nil, err
	}

	key := domain.AccountKey(svc, tag)
	existing, err := s.accounts.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, common.DuplicateAccount(svc.DisplayName(), tag)
	}

	if token == "" {
		token = s.opts.Tokens[svc]
	}
	return s.loadAccount(ctx, svc, provider, tag, token)
}

// Accounts 所有关注的账号
func (s *SyncService) Accounts(ctx context.Context) ([]*domain.Account, error) {
	return s.accounts.GetAll(ctx)
}

// EnsureDefaultAccount 没有任何关注账号时关注默认账号，返回第一个关注的账号
func (s *SyncService) EnsureDefaultAccount(ctx context.Context) (*domain.Account, error) {
	accounts, err := s.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	if len(accounts) > 0 {
		return accounts[0], nil
	}
	if s.opts.DefaultTag == "" {
		return nil, common.NewError(common.ErrCodeInvalidInput, "没有关注的账号，也没有配置默认账号")
	}

	s.log.Info("没有关注的账号，关注默认账号", "service", s.opts.DefaultService, "tag", s.opts.DefaultTag)
	return s.FollowAccount(ctx, string(s.opts.DefaultService), s.opts.DefaultTag, "")
}

// DeleteAccount 取消关注；至少要保留一个账号
// 删除的是当前选中的账号时，取消它的后台任务并清空状态
func (s *SyncService) DeleteAccount(ctx context.Context, service, tag string) error {
	svc, _, err := s.provider(service)
	if err != nil {
		return err
	}

	accounts, err := s.Accounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) <= 1 {
		return common.MinimumAccountViolation()
	}

	key := domain.AccountKey(svc, tag)
	if !lo.ContainsBy(accounts, func(a *domain.Account) bool { return a.Key() == key }) {
		return common.AccountNotFound(svc.DisplayName(), tag, nil)
	}

	if err := s.accounts.Delete(ctx, key); err != nil {
		return err
	}
	if err := s.repositories.Delete(ctx, key); err != nil {
		s.log.Warn("删除仓库缓存失败", "account", key, "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account != nil && s.account.Key() == key {
		if s.selCancel != nil {
			s.selCancel()
		}
		s.generation++
		s.resetLocked()
	}
	return nil
}

// loadAccount 先查缓存，没有再调平台接口，结果写入缓存
func (s *SyncService) loadAccount(ctx context.Context, svc domain.Service, provider port.AccountProvider, tag, token string) (*domain.Account, error) {
	key := domain.AccountKey(svc, tag)

	item, err := s.accounts.Get(ctx, key)
	if err != nil {
		s.log.Warn("读取账号缓存失败，改为直接查询", "account", key, "error", err)
	} else if item != nil {
		return item.Value, nil
	}

	account, err := provider.LookupAccount(ctx, tag, token)
	if err != nil {
		s.metrics.RemoteRequest("account", metrics.OutcomeError)
		return nil, err
	}
	s.metrics.RemoteRequest("account", metrics.OutcomeSuccess)

	stored, err := s.accounts.Add(ctx, key, account, s.opts.AccountTTL)
	if err != nil {
		s.log.Warn("写入账号缓存失败", "account", key, "error", err)
		return account, nil
	}
	return stored, nil
}

// notify 所有 scorecard 加载完成后推送汇总
func (s *SyncService) notify(ctx context.Context, gen uint64) {
	if s.notifier == nil {
		return
	}

	s.mu.Lock()
	if !s.liveLocked(ctx, gen) || s.loadingLocked() > 0 {
		s.mu.Unlock()
		return
	}
	summary := analyzer.Summarize(cloneAccount(s.account), s.snapshotLocked(), s.hideMissing, s.opts.SummaryLowest)
	s.mu.Unlock()

	if err := s.notifier.Notify(ctx, summary); err != nil {
		s.log.Warn("推送汇总失败", "account", summary.Account.Key(), "error", err)
		s.publishError(ctx, gen, err)
	}
}

// current 当前选择的 context（同时受调用方控制）、代号和账号
func (s *SyncService) current(ctx context.Context) (context.Context, uint64, *domain.Account, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.account == nil || s.selCtx == nil {
		return nil, 0, nil, nil, common.NewError(common.ErrCodeInvalidInput, "还没有选中账号")
	}
	opCtx, stop := s.bind(ctx, s.selCtx)
	return opCtx, s.generation, s.account, stop, nil
}

// bind 返回一个在 parent 或 sel 任一结束时结束的 context
// parent 先结束时 context.Cause 返回 parent 的原因，调用方可以区分超时和取消
func (s *SyncService) bind(parent, sel context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(sel)
	stopAfter := context.AfterFunc(parent, func() {
		cancel(context.Cause(parent))
	})
	return ctx, func() {
		stopAfter()
		cancel(nil)
	}
}

func (s *SyncService) liveLocked(ctx context.Context, gen uint64) bool {
	return s.generation == gen && ctx.Err() == nil
}

// selectionLiveLocked 只看选择本身，不看调用方的 context
func (s *SyncService) selectionLiveLocked(gen uint64) bool {
	return s.generation == gen && s.selCtx != nil && s.selCtx.Err() == nil
}

// restoreRequests 调用方取消了刷新但选择没变：还在 LOADING 的请求恢复成刷新前的结果
func (s *SyncService) restoreRequests(gen uint64, pending, prior map[string]*domain.ScorecardRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.selectionLiveLocked(gen) {
		return
	}
	restored := 0
	for url, req := range pending {
		if s.requests[url] != req || req.LoadState != domain.LoadStateLoading {
			continue
		}
		previous := prior[url].Clone()
		previous.LoadState = domain.LoadStateSuccess
		s.requests[url] = previous
		restored++
	}
	if restored > 0 {
		s.publishRequestsLocked()
	}
}

// restoreCollection 调用方取消了分页但选择没变：恢复分页前的仓库集合
func (s *SyncService) restoreCollection(gen uint64, previous *domain.RepositoryCollection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.selectionLiveLocked(gen) {
		return
	}
	s.collection = previous
	s.streams.Repositories.Set(previous.Clone())
}

func (s *SyncService) publishError(ctx context.Context, gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.liveLocked(ctx, gen) {
		return
	}
	if dropped := s.streams.Errors.Publish(err); dropped > 0 {
		s.log.Debug("错误事件被丢弃", "subscribers", dropped)
	}
}

// resetLocked 清空状态并推送清空后的值
func (s *SyncService) resetLocked() {
	s.account = nil
	s.collection = nil
	s.requests = make(map[string]*domain.ScorecardRequest)
	s.order = nil

	s.streams.Account.Set(nil)
	s.streams.Repositories.Set(nil)
	s.streams.Scorecards.Set(nil)
	s.streams.LoadingCount.Set(0)
	s.streams.ScorecardsLoading.Set(domain.LoadStateSuccess)
	s.streams.AverageScore.Set(0)
}

func (s *SyncService) loadingLocked() int {
	return lo.CountBy(lo.Values(s.requests), func(req *domain.ScorecardRequest) bool {
		return req.LoadState == domain.LoadStateLoading
	})
}

func (s *SyncService) snapshotLocked() []*domain.ScorecardRequest {
	return lo.FilterMap(s.order, func(url string, _ int) (*domain.ScorecardRequest, bool) {
		req, ok := s.requests[url]
		if !ok {
			return nil, false
		}
		return req.Clone(), true
	})
}

// publishRequestsLocked 推送请求表和加载计数；计数归零时重新计算平均分
func (s *SyncService) publishRequestsLocked() {
	loading := s.loadingLocked()

	s.streams.Scorecards.Set(s.snapshotLocked())
	s.streams.LoadingCount.Set(loading)
	if loading > 0 {
		s.streams.ScorecardsLoading.Set(domain.LoadStateLoading)
		return
	}
	s.streams.ScorecardsLoading.Set(domain.LoadStateSuccess)
	s.streams.AverageScore.Set(analyzer.CalculateAverageScore(s.snapshotLocked(), s.hideMissing))
}

func cloneAccount(a *domain.Account) *domain.Account {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}
