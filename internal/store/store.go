// Package store 持久化授权记录。所有对单个授权的修改都经过 Update，
// 保证 读取 -> 判定 -> 修改 -> 保存 在同一授权上串行执行。
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"license-server/internal/model"
)

var (
	ErrNotFound      = errors.New("记录不存在")
	ErrDuplicateCode = errors.New("授权码已存在")
)

// MutateFunc 在持有记录锁期间执行，返回 false 表示不写回
type MutateFunc func(l *model.License) (bool, error)

// Filter 列表过滤条件
type Filter string

const (
	FilterNone    Filter = ""
	FilterActive  Filter = "active"
	FilterExpired Filter = "expired"
	FilterRevoked Filter = "revoked"
)

// ParseFilter 解析过滤条件，"all" 等同于不过滤
func ParseFilter(s string) (Filter, bool) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case FilterNone, FilterActive, FilterExpired, FilterRevoked:
		return f, true
	case "all":
		return FilterNone, true
	default:
		return FilterNone, false
	}
}

// ListQuery 列表查询
type ListQuery struct {
	Filter Filter
	Search string
	Offset int
	Limit  int
	Now    time.Time
}

// Stats 授权统计
type Stats struct {
	Total   int64 `json:"total"`
	Active  int64 `json:"active"`
	Expired int64 `json:"expired"` // 未吊销但已过期
	Revoked int64 `json:"revoked"`
	Devices int64 `json:"devices"`
}

// Store 授权存储
type Store interface {
	// Create 插入新授权，授权码冲突时返回 ErrDuplicateCode
	Create(ctx context.Context, l *model.License) error
	Get(ctx context.Context, id string) (*model.License, error)
	GetByCode(ctx context.Context, code string) (*model.License, error)
	// Update 对单个授权原子地执行读改写
	Update(ctx context.Context, id string, fn MutateFunc) (*model.License, error)
	UpdateByCode(ctx context.Context, code string, fn MutateFunc) (*model.License, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, q ListQuery) ([]*model.License, int64, error)
	Stats(ctx context.Context, now time.Time) (Stats, error)
}

// AuditStore 管理操作日志
type AuditStore interface {
	Record(ctx context.Context, entry *model.AuditLog) error
}

func matchesSearch(l *model.License, search string) bool {
	if search == "" {
		return true
	}
	search = strings.ToLower(search)
	return strings.Contains(strings.ToLower(l.Code), search) ||
		strings.Contains(strings.ToLower(l.CustomerEmail), search) ||
		strings.Contains(strings.ToLower(l.CustomerName), search)
}

func matchesFilter(l *model.License, f Filter, now time.Time) bool {
	switch f {
	case FilterActive:
		return l.IsActive(now)
	case FilterExpired:
		return !l.ExpiresAt.After(now)
	case FilterRevoked:
		return l.Revoked
	default:
		return true
	}
}
