package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"license-server/internal/model"

	"github.com/google/uuid"
)

// MemoryStore 进程内存储，用于开发模式和测试。
// 单条记录的读改写由按授权 ID 的互斥锁串行化，不同授权互不影响。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*memoryEntry
	codes   map[string]string // code -> id
	seq     uint64
	locks   *keyLock
	timeout time.Duration
}

type memoryEntry struct {
	license *model.License
	seq     uint64
}

// NewMemoryStore 创建内存存储，timeout 为单次操作等待锁的上限
func NewMemoryStore(timeout time.Duration) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*memoryEntry),
		codes:   make(map[string]string),
		locks:   newKeyLock(),
		timeout: timeout,
	}
}

func (s *MemoryStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *MemoryStore) Create(ctx context.Context, l *model.License) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[l.Code]; exists {
		return ErrDuplicateCode
	}
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	l.UpdatedAt = l.CreatedAt
	if l.Devices == nil {
		l.Devices = []model.Device{}
	}
	for i := range l.Devices {
		l.Devices[i].LicenseID = l.ID
	}

	s.seq++
	s.records[l.ID] = &memoryEntry{license: l.Clone(), seq: s.seq}
	s.codes[l.Code] = l.ID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.License, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.license.Clone(), nil
}

func (s *MemoryStore) GetByCode(ctx context.Context, code string) (*model.License, error) {
	id, ok := s.lookupCode(code)
	if !ok {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *MemoryStore) lookupCode(code string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codes[code]
	return id, ok
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn MutateFunc) (*model.License, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s.mu.RLock()
	entry, ok := s.records[id]
	var current *model.License
	if ok {
		current = entry.license.Clone()
	}
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	persist, err := fn(current)
	if err != nil {
		return nil, err
	}
	if !persist {
		return current, nil
	}

	current.UpdatedAt = time.Now().UTC()
	for i := range current.Devices {
		current.Devices[i].LicenseID = current.ID
		if current.Devices[i].ID == "" {
			current.Devices[i].ID = uuid.New().String()
			current.Devices[i].CreatedAt = current.UpdatedAt
		}
		current.Devices[i].UpdatedAt = current.UpdatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// 持锁期间记录可能已被删除
	entry, ok = s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	entry.license = current.Clone()
	return current, nil
}

func (s *MemoryStore) UpdateByCode(ctx context.Context, code string, fn MutateFunc) (*model.License, error) {
	id, ok := s.lookupCode(code)
	if !ok {
		return nil, ErrNotFound
	}
	return s.Update(ctx, id, fn)
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.codes, entry.license.Code)
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, q ListQuery) ([]*model.License, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	matched := make([]*memoryEntry, 0, len(s.records))
	for _, entry := range s.records {
		if matchesFilter(entry.license, q.Filter, q.Now) && matchesSearch(entry.license, q.Search) {
			matched = append(matched, entry)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.license.CreatedAt.Equal(b.license.CreatedAt) {
			return a.license.CreatedAt.After(b.license.CreatedAt)
		}
		return a.seq > b.seq
	})

	total := int64(len(matched))
	if q.Offset >= len(matched) {
		return []*model.License{}, total, nil
	}
	end := len(matched)
	if q.Limit > 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}

	out := make([]*model.License, 0, end-q.Offset)
	for _, entry := range matched[q.Offset:end] {
		out = append(out, entry.license.Clone())
	}
	return out, total, nil
}

func (s *MemoryStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	for _, entry := range s.records {
		l := entry.license
		st.Total++
		st.Devices += int64(len(l.Devices))
		switch {
		case l.Revoked:
			st.Revoked++
		case l.IsActive(now):
			st.Active++
		default:
			st.Expired++
		}
	}
	return st, nil
}

// MemoryAuditStore 内存审计日志
type MemoryAuditStore struct {
	mu      sync.Mutex
	entries []model.AuditLog
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Record(_ context.Context, entry *model.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.entries = append(s.entries, *entry)
	return nil
}

// Entries 返回已记录的日志副本
func (s *MemoryAuditStore) Entries() []model.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditLog(nil), s.entries...)
}
