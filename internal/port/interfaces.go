package port

import (
	"context"
	"time"

	"scorecard-monitor/internal/domain"
)

// AccountProvider (账号查询): 根据平台上的用户名查询账号信息
type AccountProvider interface {
	Service() domain.Service

	// LookupAccount 返回分类后的错误: RateLimited / AccountNotFound / InvalidApiToken
	LookupAccount(ctx context.Context, tag, token string) (*domain.Account, error)
}

// RepositoryLister (仓库分页): 一页一页地拉取账号下的仓库
type RepositoryLister interface {
	// CountRepositories 轻量调用，获取仓库总数的上限；拿不到时返回 0
	CountRepositories(ctx context.Context, account *domain.Account) (int, error)

	// ListRepositories page 从 1 开始
	ListRepositories(ctx context.Context, account *domain.Account, page, perPage int) ([]*domain.Repository, error)
}

// Provider 一个代码托管平台的完整适配器
type Provider interface {
	AccountProvider
	RepositoryLister
}

// ScorecardSource (评分来源): 调用 OpenSSF Scorecard API
// 返回的 Scorecard 尚未排序，由 ScorecardResolver 负责整理
type ScorecardSource interface {
	GetScorecard(ctx context.Context, host, owner, repo string) (*domain.Scorecard, error)
}

// CacheEntry 缓存介质中的一条原始记录
type CacheEntry struct {
	Table   string
	Key     string
	Value   []byte
	Expires *time.Time
}

// Backend (缓存介质): TTL 缓存的底层存储，可以是内存也可以是数据库
type Backend interface {
	// Get 未命中时返回 nil, nil
	Get(ctx context.Context, table, key string) (*CacheEntry, error)

	// Insert 只在 key 不存在时写入，返回是否真的写入了
	Insert(ctx context.Context, entry CacheEntry) (bool, error)

	List(ctx context.Context, table string) ([]CacheEntry, error)

	Delete(ctx context.Context, table, key string) error
}

// Sweeper 可选接口：批量清理过期记录
// 惰性过期只在读取时回收空间，长期运行的进程需要定期清理
type Sweeper interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// AccountSummary 一个账号所有 scorecard 加载完成后的汇总
type AccountSummary struct {
	Account          *domain.Account
	AverageScore     float64
	Repositories     int
	WithScorecard    int
	MissingScorecard int
	Lowest           []*domain.ScorecardRequest
}

// Notifier (信使): 把账号汇总推送出去 (飞书等)
type Notifier interface {
	Notify(ctx context.Context, summary *AccountSummary) error
}
