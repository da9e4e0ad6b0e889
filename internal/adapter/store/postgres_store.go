package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scorecard-monitor/internal/common"
	"scorecard-monitor/internal/port"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// cacheItem 对应 cache_items 表的一行
type cacheItem struct {
	Bucket    string     `gorm:"primaryKey;size:64"`
	ItemKey   string     `gorm:"primaryKey;size:512"`
	Value     []byte     `gorm:"type:bytea"`
	ExpiresAt *time.Time `gorm:"index"`
}

func (cacheItem) TableName() string {
	return "cache_items"
}

// PostgresBackend 实现了 port.Backend 接口，提供持久化的缓存介质
type PostgresBackend struct {
	db *gorm.DB
}

var _ port.Backend = (*PostgresBackend)(nil)

// NewPostgresBackend 连接数据库并自动迁移表结构
// 数据库可能比程序晚启动，所以连接和迁移都带重试
func NewPostgresBackend(ctx context.Context, dsn string, log *slog.Logger) (*PostgresBackend, error) {
	var db *gorm.DB
	err := common.Do(ctx, func() error {
		var openErr error
		db, openErr = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		})
		if openErr != nil {
			return openErr
		}
		return db.WithContext(ctx).AutoMigrate(&cacheItem{})
	},
		common.WithMaxRetries(5),
		common.WithInitialDelay(time.Second),
		common.WithOnRetry(func(attempt int, delay time.Duration, err error) {
			log.Warn("连接缓存数据库失败，稍后重试", "attempt", attempt, "delay", delay, "error", err)
		}),
	)
	if err != nil {
		return nil, common.WrapError(common.ErrCodeDatabase, "连接缓存数据库失败", err)
	}

	return &PostgresBackend{db: db}, nil
}

// NewPostgresBackendFromDB 使用已有的连接，不做迁移
func NewPostgresBackendFromDB(db *gorm.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// Get 读取一条记录，不存在时返回 nil
func (b *PostgresBackend) Get(ctx context.Context, table, key string) (*port.CacheEntry, error) {
	var row cacheItem
	err := b.db.WithContext(ctx).
		Where("bucket = ? AND item_key = ?", table, key).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entry := toEntry(row)
	return &entry, nil
}

// Insert 主键冲突时什么也不做 (ON CONFLICT DO NOTHING)
func (b *PostgresBackend) Insert(ctx context.Context, entry port.CacheEntry) (bool, error) {
	row := cacheItem{
		Bucket:    entry.Table,
		ItemKey:   entry.Key,
		Value:     entry.Value,
		ExpiresAt: entry.Expires,
	}
	result := b.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// List 按 key 排序返回一张表的所有记录（包括已过期的）
func (b *PostgresBackend) List(ctx context.Context, table string) ([]port.CacheEntry, error) {
	var rows []cacheItem
	err := b.db.WithContext(ctx).
		Where("bucket = ?", table).
		Order("item_key").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	entries := make([]port.CacheEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, toEntry(row))
	}
	return entries, nil
}

// Delete 删除一条记录
func (b *PostgresBackend) Delete(ctx context.Context, table, key string) error {
	return b.db.WithContext(ctx).
		Where("bucket = ? AND item_key = ?", table, key).
		Delete(&cacheItem{}).Error
}

// PurgeExpired 清理所有已过期的记录，返回删除的行数
// 惰性过期只在读取时回收，长期运行时需要定期调用它
func (b *PostgresBackend) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result := b.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Delete(&cacheItem{})
	if result.Error != nil {
		return 0, fmt.Errorf("清理过期缓存失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func toEntry(row cacheItem) port.CacheEntry {
	return port.CacheEntry{
		Table:   row.Bucket,
		Key:     row.ItemKey,
		Value:   row.Value,
		Expires: row.ExpiresAt,
	}
}
