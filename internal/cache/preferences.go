package cache

import (
	"context"

	"scorecard-monitor/internal/port"
)

// PreferenceHideMissingScorecards 计算平均分时是否忽略没有 scorecard 的仓库
const PreferenceHideMissingScorecards = "hide-missing-scorecards-from-average"

// Preferences 界面偏好设置，永不过期，Set 会直接覆盖
type Preferences struct {
	table *Table[bool]
}

// NewPreferences 偏好设置与缓存表共用介质，但单独一张表
func NewPreferences(backend port.Backend) *Preferences {
	return &Preferences{table: NewTable[bool](backend, TablePreferences)}
}

// Bool 读取布尔偏好，不存在时返回 fallback
func (p *Preferences) Bool(ctx context.Context, key string, fallback bool) (bool, error) {
	item, err := p.table.Get(ctx, key)
	if err != nil {
		return fallback, err
	}
	if item == nil {
		return fallback, nil
	}
	return item.Value, nil
}

// SetBool 覆盖写入
func (p *Preferences) SetBool(ctx context.Context, key string, value bool) error {
	_, err := p.table.Replace(ctx, key, value, 0)
	return err
}
