package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/lock"
)

// Records is a document-style store that can read and replace whole orders
// but cannot express a conditional update on its own.
type Records interface {
	FindByID(ctx context.Context, id string) (Order, error)
	Save(ctx context.Context, o Order) error
}

// MemoryStore keeps orders in process memory. Useful for local dev and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]Order
}

func NewMemoryStore(seed ...Order) *MemoryStore {
	m := &MemoryStore{orders: make(map[string]Order, len(seed))}
	for _, o := range seed {
		m.orders[o.ID] = o
	}
	return m
}

func (m *MemoryStore) FindByID(_ context.Context, id string) (Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return o, nil
}

func (m *MemoryStore) Save(_ context.Context, o Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.UpdatedAt = time.Now().UTC()
	m.orders[o.ID] = o
	return nil
}

// LockedStore turns Records into a Store by wrapping the read-modify-write
// of UpdateStatus in an order-scoped lock.
type LockedStore struct {
	Records
	Locker lock.Locker
}

func NewLockedStore(r Records, l lock.Locker) *LockedStore {
	return &LockedStore{Records: r, Locker: l}
}

func (s *LockedStore) UpdateStatus(ctx context.Context, id string, expected, next Status) (bool, error) {
	unlock, err := s.Locker.Lock(ctx, "order:"+id)
	if err != nil {
		return false, fmt.Errorf("lock order %s: %w", id, err)
	}
	defer unlock()

	o, err := s.Records.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if o.Status != expected {
		return false, nil
	}
	o.Status = next
	if err := s.Records.Save(ctx, o); err != nil {
		return false, fmt.Errorf("save order %s: %w", id, err)
	}
	return true, nil
}
