package reservation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hitoshi/nmrsched/internal/model"
	"github.com/hitoshi/nmrsched/internal/repository"
)

// memRepo はメモリ上のReservationRepository。
// WithDateLockは日付ごとのミューテックスで直列化し、fnが成功した場合のみ挿入を反映する。
type memRepo struct {
	mu     sync.Mutex
	byDate map[string][]*model.Reservation
	locks  map[string]*sync.Mutex

	lockCalls    int
	deleteResult *bool // nilでなければDeleteByIDの結果を上書きする
	listErr      error
}

func newMemRepo() *memRepo {
	return &memRepo{
		byDate: map[string][]*model.Reservation{},
		locks:  map[string]*sync.Mutex{},
	}
}

func (m *memRepo) dateLock(date string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockCalls++
	l, ok := m.locks[date]
	if !ok {
		l = &sync.Mutex{}
		m.locks[date] = l
	}
	return l
}

func (m *memRepo) snapshot(date string) []*model.Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([]*model.Reservation(nil), m.byDate[date]...)
	sort.Slice(list, func(i, j int) bool { return list[i].StartTime < list[j].StartTime })
	return list
}

func (m *memRepo) FindByID(ctx context.Context, id string) (*model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, list := range m.byDate {
		for _, r := range list {
			if r.ID == id {
				return r, nil
			}
		}
	}
	return nil, nil
}

func (m *memRepo) ListByDate(ctx context.Context, date string) ([]*model.Reservation, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.snapshot(date), nil
}

func (m *memRepo) ListAll(ctx context.Context) ([]*model.Reservation, error) {
	m.mu.Lock()
	var all []*model.Reservation
	for _, list := range m.byDate {
		all = append(all, list...)
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Date != all[j].Date {
			return all[i].Date > all[j].Date
		}
		return all[i].StartTime < all[j].StartTime
	})
	return all, nil
}

func (m *memRepo) DeleteByID(ctx context.Context, id string) (bool, error) {
	if m.deleteResult != nil {
		return *m.deleteResult, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for date, list := range m.byDate {
		for i, r := range list {
			if r.ID == id {
				m.byDate[date] = append(list[:i:i], list[i+1:]...)
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *memRepo) WithDateLock(ctx context.Context, date string, fn func(tx repository.DateTx) error) error {
	l := m.dateLock(date)
	l.Lock()
	defer l.Unlock()

	tx := &memTx{repo: m, date: date}
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	m.byDate[date] = append(m.byDate[date], tx.pending...)
	m.mu.Unlock()
	return nil
}

type memTx struct {
	repo    *memRepo
	date    string
	pending []*model.Reservation
}

func (t *memTx) Date() string { return t.date }

func (t *memTx) ListByDate(ctx context.Context) ([]*model.Reservation, error) {
	if t.repo.listErr != nil {
		return nil, t.repo.listErr
	}
	return append(t.repo.snapshot(t.date), t.pending...), nil
}

func (t *memTx) Create(ctx context.Context, r *model.Reservation) error {
	if r.Date != t.date {
		return fmt.Errorf("date mismatch: %s != %s", r.Date, t.date)
	}
	t.pending = append(t.pending, r)
	return nil
}

var _ repository.ReservationRepository = (*memRepo)(nil)
