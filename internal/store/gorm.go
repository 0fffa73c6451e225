package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"license-server/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore 基于 gorm 的存储。Update 在事务内对授权行加 FOR UPDATE 锁，
// 同一授权的并发激活在数据库层串行执行。
type GormStore struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewGormStore 创建存储，timeout 为单次操作的上限
func NewGormStore(db *gorm.DB, timeout time.Duration) *GormStore {
	return &GormStore{db: db, timeout: timeout}
}

func (s *GormStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func orderedDevices(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func (s *GormStore) Create(ctx context.Context, l *model.License) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.db.WithContext(ctx).Omit(clause.Associations).Create(l).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateCode
	}
	if err != nil {
		return fmt.Errorf("创建授权失败: %w", err)
	}
	if l.Devices == nil {
		l.Devices = []model.Device{}
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*model.License, error) {
	return s.find(ctx, "id = ?", id)
}

func (s *GormStore) GetByCode(ctx context.Context, code string) (*model.License, error) {
	return s.find(ctx, "code = ?", code)
}

func (s *GormStore) find(ctx context.Context, query string, arg string) (*model.License, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var l model.License
	err := s.db.WithContext(ctx).
		Preload("Devices", orderedDevices).
		Where(query, arg).
		Take(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询授权失败: %w", err)
	}
	return &l, nil
}

func (s *GormStore) Update(ctx context.Context, id string, fn MutateFunc) (*model.License, error) {
	return s.update(ctx, "id = ?", id, fn)
}

func (s *GormStore) UpdateByCode(ctx context.Context, code string, fn MutateFunc) (*model.License, error) {
	return s.update(ctx, "code = ?", code, fn)
}

func (s *GormStore) update(ctx context.Context, query string, arg string, fn MutateFunc) (*model.License, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var l model.License
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(query, arg).
			Take(&l).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := orderedDevices(tx).Where("license_id = ?", l.ID).Find(&l.Devices).Error; err != nil {
			return err
		}

		persist, err := fn(&l)
		if err != nil || !persist {
			return err
		}

		if err := tx.Omit(clause.Associations).Save(&l).Error; err != nil {
			return err
		}
		for i := range l.Devices {
			l.Devices[i].LicenseID = l.ID
			if err := tx.Save(&l.Devices[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("更新授权失败: %w", err)
	}
	return &l, nil
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("license_id = ?", id).Delete(&model.Device{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.License{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("删除授权失败: %w", err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *GormStore) List(ctx context.Context, q ListQuery) ([]*model.License, int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := s.db.WithContext(ctx).Model(&model.License{})
	switch q.Filter {
	case FilterActive:
		query = query.Where("revoked = ? AND expires_at >= ?", false, q.Now)
	case FilterExpired:
		query = query.Where("expires_at <= ?", q.Now)
	case FilterRevoked:
		query = query.Where("revoked = ?", true)
	}
	if q.Search != "" {
		pattern := "%" + likeEscaper.Replace(strings.ToLower(q.Search)) + "%"
		query = query.Where("LOWER(code) LIKE ? OR LOWER(customer_email) LIKE ? OR LOWER(customer_name) LIKE ?",
			pattern, pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计授权失败: %w", err)
	}

	var licenses []*model.License
	if err := query.Preload("Devices", orderedDevices).
		Order("created_at DESC").
		Offset(q.Offset).
		Limit(q.Limit).
		Find(&licenses).Error; err != nil {
		return nil, 0, fmt.Errorf("查询授权列表失败: %w", err)
	}
	return licenses, total, nil
}

func (s *GormStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	db := s.db.WithContext(ctx)
	var st Stats
	counts := []struct {
		dst   *int64
		model any
		where []any
	}{
		{&st.Total, &model.License{}, nil},
		{&st.Active, &model.License{}, []any{"revoked = ? AND expires_at >= ?", false, now}},
		{&st.Expired, &model.License{}, []any{"revoked = ? AND expires_at < ?", false, now}},
		{&st.Revoked, &model.License{}, []any{"revoked = ?", true}},
		{&st.Devices, &model.Device{}, nil},
	}
	for _, c := range counts {
		q := db.Model(c.model)
		if len(c.where) > 0 {
			q = q.Where(c.where[0], c.where[1:]...)
		}
		if err := q.Count(c.dst).Error; err != nil {
			return Stats{}, fmt.Errorf("统计授权失败: %w", err)
		}
	}
	return st, nil
}

// GormAuditStore 审计日志写入数据库
type GormAuditStore struct {
	db *gorm.DB
}

func NewGormAuditStore(db *gorm.DB) *GormAuditStore {
	return &GormAuditStore{db: db}
}

func (s *GormAuditStore) Record(ctx context.Context, entry *model.AuditLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}
