package infrastructure

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"eshop-ordering/internal/service/ordering/domain"
)

// MemoryStateStore 用于本地开发和测试，进程重启后数据丢失
type MemoryStateStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{data: make(map[string]map[string][]byte)}
}

func (s *MemoryStateStore) Get(ctx context.Context, orderID, key string) ([]byte, error) {
	value, ok, _ := s.TryGet(ctx, orderID, key)
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "%s of order %s", key, orderID)
	}
	return value, nil
}

func (s *MemoryStateStore) TryGet(_ context.Context, orderID, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[orderID][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (s *MemoryStateStore) Set(ctx context.Context, orderID, key string, value []byte) error {
	return s.SetMany(ctx, orderID, map[string][]byte{key: value})
}

func (s *MemoryStateStore) SetMany(_ context.Context, orderID string, values map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.data[orderID]
	if !ok {
		entry = make(map[string][]byte, len(values))
		s.data[orderID] = entry
	}
	for k, v := range values {
		entry[k] = append([]byte(nil), v...)
	}
	return nil
}
