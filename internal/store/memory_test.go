package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"license-server/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, s Store, code string, mutate func(l *model.License)) *model.License {
	t.Helper()
	l := &model.License{
		Code:       code,
		ExpiresAt:  now.Add(24 * time.Hour),
		MaxDevices: 1,
	}
	if mutate != nil {
		mutate(l)
	}
	require.NoError(t, s.Create(context.Background(), l))
	return l
}

// activate 模拟服务层的判定后绑定
func activate(fp string) MutateFunc {
	return func(l *model.License) (bool, error) {
		if l.Validate(now) != model.ValidityValid || l.CanActivate(fp) != model.AdmissionAllow {
			return false, nil
		}
		l.Activate(fp, nil, "", now)
		return true, nil
	}
}

func TestMemoryStoreCreateDuplicateCode(t *testing.T) {
	s := NewMemoryStore(time.Second)
	seed(t, s, "AAAA-BBBB-CCCC-DDDD", nil)

	err := s.Create(context.Background(), &model.License{Code: "AAAA-BBBB-CCCC-DDDD"})
	assert.ErrorIs(t, err, ErrDuplicateCode)
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore(time.Second)
	l := seed(t, s, "AAAA-BBBB-CCCC-DDDD", nil)

	got, err := s.GetByCode(context.Background(), l.Code)
	require.NoError(t, err)
	got.Revoked = true
	got.Activate("A", nil, "", now)

	again, err := s.Get(context.Background(), l.ID)
	require.NoError(t, err)
	assert.False(t, again.Revoked)
	assert.Empty(t, again.Devices)
}

func TestMemoryStoreUpdateNotFound(t *testing.T) {
	s := NewMemoryStore(time.Second)
	_, err := s.Update(context.Background(), "missing", activate("A"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.UpdateByCode(context.Background(), "missing", activate("A"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreUpdateWithoutPersist(t *testing.T) {
	s := NewMemoryStore(time.Second)
	l := seed(t, s, "AAAA-BBBB-CCCC-DDDD", nil)

	_, err := s.Update(context.Background(), l.ID, func(l *model.License) (bool, error) {
		l.Revoked = true
		return false, nil
	})
	require.NoError(t, err)

	got, err := s.Get(context.Background(), l.ID)
	require.NoError(t, err)
	assert.False(t, got.Revoked)
}

func TestMemoryStoreConcurrentActivationNeverExceedsCapacity(t *testing.T) {
	s := NewMemoryStore(5 * time.Second)
	const maxDevices = 3
	l := seed(t, s, "AAAA-BBBB-CCCC-DDDD", func(l *model.License) { l.MaxDevices = maxDevices })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.UpdateByCode(context.Background(), l.Code, activate(fmt.Sprintf("fp-%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.Get(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Len(t, got.Devices, maxDevices)
	for _, d := range got.Devices {
		assert.NotEmpty(t, d.ID)
		assert.Equal(t, l.ID, d.LicenseID)
	}
	assert.Zero(t, s.locks.size())
}

func TestMemoryStoreConcurrentReactivationCountsEveryCall(t *testing.T) {
	s := NewMemoryStore(5 * time.Second)
	l := seed(t, s, "AAAA-BBBB-CCCC-DDDD", nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(context.Background(), l.ID, activate("A"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(context.Background(), l.ID)
	require.NoError(t, err)
	require.Len(t, got.Devices, 1)
	assert.Equal(t, 20, got.Devices[0].ActivationCount)
}

func TestMemoryStoreDifferentLicensesDoNotContend(t *testing.T) {
	s := NewMemoryStore(time.Second)
	a := seed(t, s, "AAAA-AAAA-AAAA-AAAA", nil)
	b := seed(t, s, "BBBB-BBBB-BBBB-BBBB", nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = s.Update(context.Background(), a.ID, func(*model.License) (bool, error) {
			close(entered)
			<-release
			return false, nil
		})
	}()
	<-entered
	defer close(release)

	var done atomic.Bool
	_, err := s.Update(context.Background(), b.ID, func(*model.License) (bool, error) {
		done.Store(true)
		return false, nil
	})
	require.NoError(t, err)
	assert.True(t, done.Load())
}

func TestMemoryStoreUpdateTimesOutWhileLocked(t *testing.T) {
	s := NewMemoryStore(50 * time.Millisecond)
	l := seed(t, s, "AAAA-BBBB-CCCC-DDDD", nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = s.Update(context.Background(), l.ID, func(*model.License) (bool, error) {
			close(entered)
			<-release
			return false, nil
		})
	}()
	<-entered
	defer close(release)

	_, err := s.Update(context.Background(), l.ID, activate("A"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryStoreDelete(t *testing.T) {
	s := NewMemoryStore(time.Second)
	l := seed(t, s, "AAAA-BBBB-CCCC-DDDD", nil)

	require.NoError(t, s.Delete(context.Background(), l.ID))
	assert.ErrorIs(t, s.Delete(context.Background(), l.ID), ErrNotFound)

	_, err := s.GetByCode(context.Background(), l.Code)
	assert.ErrorIs(t, err, ErrNotFound)

	// 授权码释放后可重新使用
	seed(t, s, l.Code, nil)
}

func TestMemoryStoreListAndStats(t *testing.T) {
	s := NewMemoryStore(time.Second)
	ctx := context.Background()

	active := seed(t, s, "ACTV-0000-0000-0000", func(l *model.License) {
		l.CreatedAt = now.Add(-3 * time.Hour)
		l.CustomerEmail = "Alice@Example.com"
	})
	expired := seed(t, s, "EXPD-0000-0000-0000", func(l *model.License) {
		l.CreatedAt = now.Add(-2 * time.Hour)
		l.ExpiresAt = now.Add(-time.Hour)
		l.CustomerName = "Bob"
	})
	revoked := seed(t, s, "RVKD-0000-0000-0000", func(l *model.License) {
		l.CreatedAt = now.Add(-time.Hour)
		l.Revoked = true
	})
	revokedExpired := seed(t, s, "RVEX-0000-0000-0000", func(l *model.License) {
		l.CreatedAt = now
		l.Revoked = true
		l.ExpiresAt = now.Add(-time.Hour)
	})
	_, err := s.Update(ctx, active.ID, activate("A"))
	require.NoError(t, err)

	ids := func(ls []*model.License) []string {
		out := make([]string, 0, len(ls))
		for _, l := range ls {
			out = append(out, l.ID)
		}
		return out
	}

	all, total, err := s.List(ctx, ListQuery{Now: now})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	assert.Equal(t, []string{revokedExpired.ID, revoked.ID, expired.ID, active.ID}, ids(all))

	got, _, err := s.List(ctx, ListQuery{Filter: FilterActive, Now: now})
	require.NoError(t, err)
	assert.Equal(t, []string{active.ID}, ids(got))

	got, _, err = s.List(ctx, ListQuery{Filter: FilterExpired, Now: now})
	require.NoError(t, err)
	assert.Equal(t, []string{revokedExpired.ID, expired.ID}, ids(got))

	got, _, err = s.List(ctx, ListQuery{Filter: FilterRevoked, Now: now})
	require.NoError(t, err)
	assert.Equal(t, []string{revokedExpired.ID, revoked.ID}, ids(got))

	got, _, err = s.List(ctx, ListQuery{Search: "alice@", Now: now})
	require.NoError(t, err)
	assert.Equal(t, []string{active.ID}, ids(got))

	got, _, err = s.List(ctx, ListQuery{Search: "bob", Now: now})
	require.NoError(t, err)
	assert.Equal(t, []string{expired.ID}, ids(got))

	got, _, err = s.List(ctx, ListQuery{Search: "rvkd", Now: now})
	require.NoError(t, err)
	assert.Equal(t, []string{revoked.ID}, ids(got))

	page, total, err := s.List(ctx, ListQuery{Offset: 2, Limit: 1, Now: now})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	assert.Equal(t, []string{expired.ID}, ids(page))

	page, _, err = s.List(ctx, ListQuery{Offset: 10, Limit: 5, Now: now})
	require.NoError(t, err)
	assert.Empty(t, page)

	st, err := s.Stats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 4, Active: 1, Expired: 1, Revoked: 2, Devices: 1}, st)
}

func TestParseFilter(t *testing.T) {
	for in, want := range map[string]Filter{
		"":         FilterNone,
		"all":      FilterNone,
		"Active":   FilterActive,
		"expired":  FilterExpired,
		" revoked": FilterRevoked,
	} {
		got, ok := ParseFilter(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseFilter("pending")
	assert.False(t, ok)
}

func TestMemoryAuditStore(t *testing.T) {
	s := NewMemoryAuditStore()
	require.NoError(t, s.Record(context.Background(), &model.AuditLog{Action: model.ActionRevoke}))

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
	assert.Equal(t, model.ActionRevoke, entries[0].Action)
}

func TestMemoryStoreExpiryBoundaryMatchesValidate(t *testing.T) {
	s := NewMemoryStore(time.Second)
	ctx := context.Background()

	edge := seed(t, s, "EDGE-0000-0000-0000", func(l *model.License) {
		l.ExpiresAt = now
	})
	require.Equal(t, model.ValidityValid, edge.Validate(now))

	got, total, err := s.List(ctx, ListQuery{Filter: FilterActive, Now: now})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, edge.ID, got[0].ID)

	st, err := s.Stats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 1, Active: 1}, st)

	st, err = s.Stats(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 1, Expired: 1}, st)
}
