package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"scorecard-monitor/internal/port"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupMockDB 创建一个模拟的数据库连接
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	// 禁用日志以减少输出
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open gorm db: %v", err)
	}

	return gormDB, mock, func() { db.Close() }
}

func TestPostgresBackend_Get(t *testing.T) {
	expires := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		setupMock   func(sqlmock.Sqlmock)
		expectError bool
		verify      func(*testing.T, *port.CacheEntry)
	}{
		{
			name: "命中",
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"bucket", "item_key", "value", "expires_at"}).
					AddRow("scorecards", "https://github.com/ossf/scorecard", []byte(`{"score":8}`), expires)
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "cache_items" WHERE bucket = $1 AND item_key = $2`)).
					WillReturnRows(rows)
			},
			verify: func(t *testing.T, entry *port.CacheEntry) {
				require.NotNil(t, entry)
				assert.Equal(t, "scorecards", entry.Table)
				assert.Equal(t, "https://github.com/ossf/scorecard", entry.Key)
				assert.JSONEq(t, `{"score":8}`, string(entry.Value))
				require.NotNil(t, entry.Expires)
				assert.True(t, expires.Equal(*entry.Expires))
			},
		},
		{
			name: "未命中返回 nil",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "cache_items"`)).
					WillReturnRows(sqlmock.NewRows([]string{"bucket", "item_key", "value", "expires_at"}))
			},
			verify: func(t *testing.T, entry *port.CacheEntry) {
				assert.Nil(t, entry)
			},
		},
		{
			name: "数据库错误",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "cache_items"`)).
					WillReturnError(errors.New("connection reset"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock, cleanup := setupMockDB(t)
			defer cleanup()
			tt.setupMock(mock)

			backend := NewPostgresBackendFromDB(gormDB)
			entry, err := backend.Get(context.Background(), "scorecards", "https://github.com/ossf/scorecard")

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				tt.verify(t, entry)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresBackend_Insert(t *testing.T) {
	tests := []struct {
		name         string
		setupMock    func(sqlmock.Sqlmock)
		wantInserted bool
		expectError  bool
	}{
		{
			name: "新记录写入成功",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "cache_items"`)).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			wantInserted: true,
		},
		{
			name: "主键冲突时不覆盖",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT DO NOTHING`)).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectCommit()
			},
			wantInserted: false,
		},
		{
			name: "写入失败",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "cache_items"`)).
					WillReturnError(errors.New("disk full"))
				mock.ExpectRollback()
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock, cleanup := setupMockDB(t)
			defer cleanup()
			tt.setupMock(mock)

			backend := NewPostgresBackendFromDB(gormDB)
			inserted, err := backend.Insert(context.Background(), port.CacheEntry{
				Table: "accounts",
				Key:   "github:ossf",
				Value: []byte(`{"tag":"ossf"}`),
			})

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.wantInserted, inserted)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresBackend_List(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"bucket", "item_key", "value", "expires_at"}).
		AddRow("accounts", "github:kubernetes", []byte(`{}`), nil).
		AddRow("accounts", "github:ossf", []byte(`{}`), nil)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "cache_items" WHERE bucket = $1 ORDER BY item_key`)).
		WithArgs("accounts").
		WillReturnRows(rows)

	entries, err := NewPostgresBackendFromDB(gormDB).List(context.Background(), "accounts")

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "github:kubernetes", entries[0].Key)
	assert.Nil(t, entries[0].Expires)
	assert.Equal(t, "github:ossf", entries[1].Key)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_Delete(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "cache_items" WHERE bucket = $1 AND item_key = $2`)).
		WithArgs("repositories", "github:ossf").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewPostgresBackendFromDB(gormDB).Delete(context.Background(), "repositories", "github:ossf")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_PurgeExpired(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "cache_items" WHERE expires_at IS NOT NULL AND expires_at < $1`)).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	purged, err := NewPostgresBackendFromDB(gormDB).PurgeExpired(context.Background(), now)

	assert.NoError(t, err)
	assert.Equal(t, int64(3), purged)
	assert.NoError(t, mock.ExpectationsWereMet())
}
