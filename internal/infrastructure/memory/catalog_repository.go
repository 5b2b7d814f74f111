package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/execution-hub/commission-hub/internal/domain/catalog"
)

var ErrDuplicate = errors.New("record already exists")

// ServiceRepository implements catalog.ServiceRepository.
type ServiceRepository struct {
	mu     sync.RWMutex
	nextID int64
	items  map[uuid.UUID]catalog.Service
}

func NewServiceRepository() *ServiceRepository {
	return &ServiceRepository{items: map[uuid.UUID]catalog.Service{}}
}

func (r *ServiceRepository) Create(ctx context.Context, s *catalog.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[s.ServiceID]; ok {
		return ErrDuplicate
	}
	r.nextID++
	s.ID = r.nextID
	r.items[s.ServiceID] = cloneService(*s)
	return nil
}

func (r *ServiceRepository) GetByID(ctx context.Context, serviceID uuid.UUID) (*catalog.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.items[serviceID]
	if !ok {
		return nil, nil
	}
	out := cloneService(s)
	return &out, nil
}

func (r *ServiceRepository) SetCommission(ctx context.Context, serviceID uuid.UUID, cache *catalog.CommissionCache) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[serviceID]
	if !ok {
		return nil
	}
	if cache == nil {
		s.Commission = nil
	} else {
		c := *cache
		s.Commission = &c
	}
	s.UpdatedAt = time.Now().UTC()
	r.items[serviceID] = s
	return nil
}

// snapshot captures the commission caches only. Services themselves are
// created outside transactions and survive a rollback.
func (r *ServiceRepository) snapshot() func() {
	r.mu.RLock()
	caches := make(map[uuid.UUID]*catalog.CommissionCache, len(r.items))
	for id, s := range r.items {
		caches[id] = s.Commission
	}
	r.mu.RUnlock()
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for id, s := range r.items {
			s.Commission = caches[id]
			r.items[id] = s
		}
	}
}

func cloneService(s catalog.Service) catalog.Service {
	if s.Commission != nil {
		c := *s.Commission
		s.Commission = &c
	}
	return s
}

// OrderRepository implements catalog.OrderRepository.
type OrderRepository struct {
	mu     sync.RWMutex
	nextID int64
	items  map[uuid.UUID]catalog.Order
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{items: map[uuid.UUID]catalog.Order{}}
}

func (r *OrderRepository) Create(ctx context.Context, o *catalog.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[o.OrderID]; ok {
		return ErrDuplicate
	}
	r.nextID++
	o.ID = r.nextID
	r.items[o.OrderID] = *o
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, orderID uuid.UUID) (*catalog.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.items[orderID]
	if !ok {
		return nil, nil
	}
	return &o, nil
}
