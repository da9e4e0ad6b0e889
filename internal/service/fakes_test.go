package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"scorecard-monitor/internal/common"
	"scorecard-monitor/internal/domain"
	"scorecard-monitor/internal/port"

	"github.com/stretchr/testify/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProvider 内存中的平台，可以让某一页阻塞
type fakeProvider struct {
	service domain.Service

	mu        sync.Mutex
	accounts  map[string]*domain.Account
	repos     map[string][]*domain.Repository
	listCalls map[string][]int
	lookups   int

	// blockPage 非 0 时，拉取该页前先通知 reached 再等待 release
	blockTag  string
	blockPage int
	reached   chan struct{}
	release   chan struct{}
	returned  chan struct{}
}

func newFakeProvider(service domain.Service) *fakeProvider {
	return &fakeProvider{
		service:   service,
		accounts:  make(map[string]*domain.Account),
		repos:     make(map[string][]*domain.Repository),
		listCalls: make(map[string][]int),
	}
}

// addAccount 添加账号和 n 个仓库
func (p *fakeProvider) addAccount(tag string, n int) {
	p.accounts[tag] = &domain.Account{
		Service:           p.service,
		Tag:               tag,
		Name:              tag,
		TotalRepositories: n,
	}
	repos := make([]*domain.Repository, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%s-repo-%03d", tag, i)
		repos = append(repos, &domain.Repository{
			Name: name,
			URL:  fmt.Sprintf("https://%s/%s/%s", p.service.Host(), tag, name),
		})
	}
	p.repos[tag] = repos
}

func (p *fakeProvider) blockAt(tag string, page int) {
	p.blockTag = tag
	p.blockPage = page
	p.reached = make(chan struct{})
	p.release = make(chan struct{})
	p.returned = make(chan struct{})
}

func (p *fakeProvider) Service() domain.Service { return p.service }

func (p *fakeProvider) LookupAccount(_ context.Context, tag, token string) (*domain.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lookups++

	account, ok := p.accounts[tag]
	if !ok {
		return nil, common.AccountNotFound(p.service.DisplayName(), tag, nil)
	}
	c := *account
	c.APIToken = token
	return &c, nil
}

func (p *fakeProvider) CountRepositories(_ context.Context, account *domain.Account) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.repos[account.Tag]), nil
}

func (p *fakeProvider) ListRepositories(_ context.Context, account *domain.Account, page, perPage int) ([]*domain.Repository, error) {
	p.mu.Lock()
	p.listCalls[account.Tag] = append(p.listCalls[account.Tag], page)
	block := account.Tag == p.blockTag && page == p.blockPage
	all := p.repos[account.Tag]
	p.mu.Unlock()

	if block {
		close(p.reached)
		<-p.release
		defer close(p.returned)
	}

	start := (page - 1) * perPage
	if start >= len(all) {
		return nil, nil
	}
	end := min(start+perPage, len(all))
	out := make([]*domain.Repository, 0, end-start)
	for _, r := range all[start:end] {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (p *fakeProvider) pages(tag string) []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.listCalls[tag]...)
}

// MockScorecardSource 使用 testify/mock 模拟 Scorecard API
type MockScorecardSource struct {
	mock.Mock
}

func (m *MockScorecardSource) GetScorecard(ctx context.Context, host, owner, repo string) (*domain.Scorecard, error) {
	args := m.Called(ctx, host, owner, repo)
	sc, _ := args.Get(0).(*domain.Scorecard)
	return sc, args.Error(1)
}

// staticScorecards 按仓库名返回固定分数，没有的返回 ScorecardNotFound
// block 之后，该 owner 的请求会先通知 reached，再等待 release；release 为 nil 时一直等到 ctx 结束
type staticScorecards struct {
	mu     sync.Mutex
	scores map[string]float64
	calls  map[string]int

	blockOwner string
	reached    chan struct{}
	reachOnce  *sync.Once
	release    chan struct{}
	inFlight   int
}

func newStaticScorecards(scores map[string]float64) *staticScorecards {
	if scores == nil {
		scores = make(map[string]float64)
	}
	return &staticScorecards{scores: scores, calls: make(map[string]int)}
}

func (s *staticScorecards) block(owner string, release chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockOwner = owner
	s.reached = make(chan struct{})
	s.reachOnce = &sync.Once{}
	s.release = release
}

func (s *staticScorecards) setScore(repo string, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[repo] = score
}

func (s *staticScorecards) GetScorecard(ctx context.Context, host, owner, repo string) (*domain.Scorecard, error) {
	s.mu.Lock()
	s.calls[repo]++
	blocked := owner == s.blockOwner
	reached, release, once := s.reached, s.release, s.reachOnce
	if blocked {
		s.inFlight++
	}
	s.mu.Unlock()

	if blocked {
		defer func() {
			s.mu.Lock()
			s.inFlight--
			s.mu.Unlock()
		}()
		once.Do(func() { close(reached) })
		if release == nil {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		// 故意忽略 ctx，模拟被取消之后才返回的请求
		<-release
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	score, ok := s.scores[repo]
	if !ok {
		return nil, common.ScorecardNotFound(host+"/"+owner+"/"+repo, nil)
	}
	return &domain.Scorecard{Score: &score}, nil
}

func (s *staticScorecards) callCount(repo string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[repo]
}

func (s *staticScorecards) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// recordingNotifier 记录收到的汇总
type recordingNotifier struct {
	mu        sync.Mutex
	summaries []string
}

func (n *recordingNotifier) Notify(_ context.Context, summary *port.AccountSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, fmt.Sprintf("%s=%.1f", summary.Account.Key(), summary.AverageScore))
	return nil
}

func (n *recordingNotifier) received() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.summaries...)
}
