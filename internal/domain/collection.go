package domain

import "math"

// RepositoryCollection 分页加载过程中逐步完善的仓库集合
type RepositoryCollection struct {
	TotalExpected int  `json:"total_expected"` // 平台给出的上限，未知时为 0
	Completed     bool `json:"completed"`

	order []string
	items map[string]*Repository
}

// NewRepositoryCollection 创建空集合
func NewRepositoryCollection(totalExpected int) *RepositoryCollection {
	if totalExpected < 0 {
		totalExpected = 0
	}
	return &RepositoryCollection{
		TotalExpected: totalExpected,
		items:         make(map[string]*Repository),
	}
}

// NewCompletedCollection 包装一个已经完整的列表（缓存命中时使用）
func NewCompletedCollection(repos []*Repository) *RepositoryCollection {
	c := NewRepositoryCollection(0)
	c.AddRepositories(repos)
	c.TotalExpected = c.LoadedCount()
	c.Completed = true
	return c
}

// AddRepositories 按名称合并，重复的名称只保留一份
func (c *RepositoryCollection) AddRepositories(batch []*Repository) {
	if c.items == nil {
		c.items = make(map[string]*Repository)
	}
	for _, repo := range batch {
		if repo == nil {
			continue
		}
		if _, ok := c.items[repo.Name]; !ok {
			c.order = append(c.order, repo.Name)
		}
		c.items[repo.Name] = repo
	}
}

// Complete 标记不会再有新的分页
func (c *RepositoryCollection) Complete() {
	c.Completed = true
}

// LoadedCount 已加载的仓库数量
func (c *RepositoryCollection) LoadedCount() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}

// LoadPercentage 加载进度 (0-100)
func (c *RepositoryCollection) LoadPercentage() int {
	if c == nil {
		return 0
	}
	if c.Completed {
		return 100
	}
	if c.TotalExpected == 0 {
		return 0
	}
	pct := int(math.Round(float64(c.LoadedCount()) / float64(c.TotalExpected) * 100))
	if pct > 100 {
		return 100
	}
	return pct
}

// Get 按名称查找
func (c *RepositoryCollection) Get(name string) (*Repository, bool) {
	if c == nil {
		return nil, false
	}
	repo, ok := c.items[name]
	return repo, ok
}

// Repositories 按首次加入的顺序返回
func (c *RepositoryCollection) Repositories() []*Repository {
	if c == nil {
		return nil
	}
	repos := make([]*Repository, 0, len(c.order))
	for _, name := range c.order {
		repos = append(repos, c.items[name])
	}
	return repos
}

// Clone 深拷贝，推送给观察者前调用
func (c *RepositoryCollection) Clone() *RepositoryCollection {
	if c == nil {
		return nil
	}
	clone := NewRepositoryCollection(c.TotalExpected)
	clone.Completed = c.Completed
	for _, name := range c.order {
		clone.order = append(clone.order, name)
		clone.items[name] = c.items[name].Clone()
	}
	return clone
}
