// Package memory holds in-process implementations of the store
// interfaces. They back the dev mode of the server binary and the unit
// tests; semantics match the Postgres implementations, including
// per-order write serialization.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jfeld/orderdesk/internal/store"
	"github.com/jfeld/orderdesk/pkg/models"
)

type OrderStore struct {
	mu     sync.RWMutex
	orders map[string]*models.Order

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders: make(map[string]*models.Order),
		locks:  make(map[string]*sync.Mutex),
	}
}

// orderLock returns the serialization lock for one order id. Writes to
// distinct orders proceed in parallel.
func (s *OrderStore) orderLock(id string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *OrderStore) Create(_ context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[o.ID]; exists {
		return fmt.Errorf("order %s already exists: %w", o.ID, store.ErrValidation)
	}
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *OrderStore) Get(_ context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, store.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (s *OrderStore) List(_ context.Context, f store.OrderFilter) ([]*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*models.Order
	for _, o := range s.orders {
		if f.ID != "" && o.ID != f.ID {
			continue
		}
		if f.RequesterID != "" && o.RequesterID != f.RequesterID {
			continue
		}
		if f.FulfillerID != "" && o.FulfillerID != f.FulfillerID {
			continue
		}
		cp := *o
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

func (s *OrderStore) Mutate(_ context.Context, id string, fn func(o *models.Order) error) (*models.Order, error) {
	l := s.orderLock(id)
	l.Lock()
	defer l.Unlock()

	s.mu.RLock()
	o, ok := s.orders[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, store.ErrNotFound)
	}

	cp := *o
	if err := fn(&cp); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.orders[id] = &cp
	s.mu.Unlock()

	out := cp
	return &out, nil
}

func (s *OrderStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return fmt.Errorf("order %s: %w", id, store.ErrNotFound)
	}
	delete(s.orders, id)
	return nil
}

type MessageStore struct {
	mu       sync.RWMutex
	messages map[string][]models.Message
	nextSeq  int64
}

func NewMessageStore() *MessageStore {
	return &MessageStore{messages: make(map[string][]models.Message)}
}

func (s *MessageStore) Append(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	m.Seq = s.nextSeq
	s.messages[m.OrderID] = append(s.messages[m.OrderID], *m)
	return nil
}

func (s *MessageStore) List(_ context.Context, orderID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.messages[orderID]
	out := make([]models.Message, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

type NotificationQueue struct {
	mu      sync.Mutex
	entries map[int64]*store.Notification
	nextID  int64
}

func NewNotificationQueue() *NotificationQueue {
	return &NotificationQueue{entries: make(map[int64]*store.Notification)}
}

func (q *NotificationQueue) Enqueue(_ context.Context, n *store.Notification) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	n.ID = q.nextID
	n.Status = store.QueuePending
	now := time.Now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now
	cp := *n
	q.entries[n.ID] = &cp
	return nil
}

func (q *NotificationQueue) Pending(_ context.Context, limit, maxAttempts int, now time.Time) ([]*store.Notification, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var res []*store.Notification
	for _, n := range q.entries {
		if n.Status != store.QueuePending && n.Status != store.QueueFailed {
			continue
		}
		if n.AttemptCount >= maxAttempts {
			continue
		}
		if !n.NextAttemptAt.IsZero() && n.NextAttemptAt.After(now) {
			continue
		}
		cp := *n
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (q *NotificationQueue) MarkDone(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, id)
	return nil
}

func (q *NotificationQueue) MarkFailed(_ context.Context, id int64, attempts int, status store.QueueStatus, nextAttempt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	n, ok := q.entries[id]
	if !ok {
		return fmt.Errorf("notification %d: %w", id, store.ErrNotFound)
	}
	n.AttemptCount = attempts
	n.Status = status
	n.NextAttemptAt = nextAttempt
	n.UpdatedAt = time.Now().UTC()
	return nil
}
