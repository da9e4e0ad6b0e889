package store

import (
	"context"
	"sort"
	"strings"
	"time"

	"scorecard-monitor/internal/port"

	gocache "github.com/patrickmn/go-cache"
)

const keySeparator = "/"

// MemoryBackend 实现了 port.Backend 接口，数据只保存在进程内
// 过期由上层的 cache.Table 判断，这里的条目本身永不过期
type MemoryBackend struct {
	items *gocache.Cache
}

var _ port.Backend = (*MemoryBackend)(nil)

// NewMemoryBackend 创建内存介质
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: gocache.New(gocache.NoExpiration, 0)}
}

func memoryKey(table, key string) string {
	return table + keySeparator + key
}

// Get 读取一条记录，不存在时返回 nil
func (b *MemoryBackend) Get(_ context.Context, table, key string) (*port.CacheEntry, error) {
	v, ok := b.items.Get(memoryKey(table, key))
	if !ok {
		return nil, nil
	}
	entry := v.(port.CacheEntry)
	return &entry, nil
}

// Insert go-cache 的 Add 本身就是“不存在才写入”
func (b *MemoryBackend) Insert(_ context.Context, entry port.CacheEntry) (bool, error) {
	if err := b.items.Add(memoryKey(entry.Table, entry.Key), entry, gocache.NoExpiration); err != nil {
		return false, nil
	}
	return true, nil
}

// List 按 key 排序返回一张表的所有记录
func (b *MemoryBackend) List(_ context.Context, table string) ([]port.CacheEntry, error) {
	prefix := table + keySeparator
	var entries []port.CacheEntry
	for k, item := range b.items.Items() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		entries = append(entries, item.Object.(port.CacheEntry))
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
	return entries, nil
}

// Delete 删除一条记录
func (b *MemoryBackend) Delete(_ context.Context, table, key string) error {
	b.items.Delete(memoryKey(table, key))
	return nil
}

// PurgeExpired 清理所有已过期的记录，返回删除的条数
func (b *MemoryBackend) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	var purged int64
	for k, item := range b.items.Items() {
		entry := item.Object.(port.CacheEntry)
		if entry.Expires != nil && now.After(*entry.Expires) {
			b.items.Delete(k)
			purged++
		}
	}
	return purged, nil
}
