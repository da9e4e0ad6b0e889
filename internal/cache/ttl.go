// Package cache 在任意缓存介质之上实现带过期时间的键值表
//
// 过期是惰性的：读取时发现过期才删除，没有后台清理。
// 写入遵循“先写者胜”：key 已存在时 Add 不会覆盖。
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"scorecard-monitor/internal/metrics"
	"scorecard-monitor/internal/port"
)

// 表名
const (
	TableAccounts     = "accounts"
	TableRepositories = "repositories"
	TableScorecards   = "scorecards"
	TablePreferences  = "preferences"
)

// Day 配置里的 TTL 以天为单位
const Day = 24 * time.Hour

// Item 一条缓存记录，Expires 为 nil 表示永不过期
type Item[T any] struct {
	Key     string
	Value   T
	Expires *time.Time
}

// Option 配置 Table
type Option func(*options)

type options struct {
	now     func() time.Time
	metrics *metrics.Metrics
}

// WithClock 注入当前时间，便于测试
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMetrics 记录命中 / 未命中 / 过期
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Table 一张逻辑表，多张表共享同一个 Backend，按表名隔离
type Table[T any] struct {
	name    string
	backend port.Backend
	opts    options
}

// NewTable 创建逻辑表
func NewTable[T any](backend port.Backend, name string, opts ...Option) *Table[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Table[T]{name: name, backend: backend, opts: o}
}

// Name 表名
func (t *Table[T]) Name() string {
	return t.name
}

// Get 未命中或已过期时返回 nil；过期的记录会被顺手删除
func (t *Table[T]) Get(ctx context.Context, key string) (*Item[T], error) {
	entry, err := t.backend.Get(ctx, t.name, key)
	if err != nil {
		t.opts.metrics.CacheLookup(t.name, metrics.ResultError)
		return nil, fmt.Errorf("读取缓存 %s/%s 失败: %w", t.name, key, err)
	}
	if entry == nil {
		t.opts.metrics.CacheLookup(t.name, metrics.ResultMiss)
		return nil, nil
	}
	if t.expired(entry) {
		t.opts.metrics.CacheLookup(t.name, metrics.ResultExpired)
		if err := t.backend.Delete(ctx, t.name, key); err != nil {
			return nil, fmt.Errorf("删除过期缓存 %s/%s 失败: %w", t.name, key, err)
		}
		return nil, nil
	}

	item, err := t.decode(entry)
	if err != nil {
		return nil, err
	}
	t.opts.metrics.CacheLookup(t.name, metrics.ResultHit)
	return item, nil
}

// Add 写入 value；key 已存在（且未过期）时不覆盖，返回已存储的值
// ttl <= 0 表示永不过期
func (t *Table[T]) Add(ctx context.Context, key string, value T, ttl time.Duration) (T, error) {
	existing, err := t.Get(ctx, key)
	if err != nil {
		return value, err
	}
	if existing != nil {
		return existing.Value, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return value, fmt.Errorf("序列化缓存 %s/%s 失败: %w", t.name, key, err)
	}
	entry := port.CacheEntry{Table: t.name, Key: key, Value: raw}
	if ttl > 0 {
		expires := t.opts.now().Add(ttl)
		entry.Expires = &expires
	}

	inserted, err := t.backend.Insert(ctx, entry)
	if err != nil {
		return value, fmt.Errorf("写入缓存 %s/%s 失败: %w", t.name, key, err)
	}
	if inserted {
		return value, nil
	}

	// 并发写入时以先写入的为准
	winner, err := t.Get(ctx, key)
	if err != nil {
		return value, err
	}
	if winner == nil {
		return value, nil
	}
	return winner.Value, nil
}

// Replace 删除旧值后重新写入，用于强制刷新
func (t *Table[T]) Replace(ctx context.Context, key string, value T, ttl time.Duration) (T, error) {
	if err := t.Delete(ctx, key); err != nil {
		return value, err
	}
	return t.Add(ctx, key, value, ttl)
}

// GetAll 返回所有未过期的值，过期的记录会被删除
func (t *Table[T]) GetAll(ctx context.Context) ([]T, error) {
	entries, err := t.backend.List(ctx, t.name)
	if err != nil {
		return nil, fmt.Errorf("读取缓存表 %s 失败: %w", t.name, err)
	}

	values := make([]T, 0, len(entries))
	for i := range entries {
		entry := &entries[i]
		if t.expired(entry) {
			if err := t.backend.Delete(ctx, t.name, entry.Key); err != nil {
				return nil, fmt.Errorf("删除过期缓存 %s/%s 失败: %w", t.name, entry.Key, err)
			}
			continue
		}
		item, err := t.decode(entry)
		if err != nil {
			return nil, err
		}
		values = append(values, item.Value)
	}
	return values, nil
}

// Delete 删除一条记录，不存在时不报错
func (t *Table[T]) Delete(ctx context.Context, key string) error {
	if err := t.backend.Delete(ctx, t.name, key); err != nil {
		return fmt.Errorf("删除缓存 %s/%s 失败: %w", t.name, key, err)
	}
	return nil
}

func (t *Table[T]) expired(entry *port.CacheEntry) bool {
	return entry.Expires != nil && t.opts.now().After(*entry.Expires)
}

func (t *Table[T]) decode(entry *port.CacheEntry) (*Item[T], error) {
	var value T
	if err := json.Unmarshal(entry.Value, &value); err != nil {
		return nil, fmt.Errorf("解析缓存 %s/%s 失败: %w", t.name, entry.Key, err)
	}
	return &Item[T]{Key: entry.Key, Value: value, Expires: entry.Expires}, nil
}
