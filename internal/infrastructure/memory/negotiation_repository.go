// Package memory holds in-process repositories with the same contracts as the
// postgres ones. Records are cloned on the way in and out.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/execution-hub/commission-hub/internal/domain/negotiation"
)

// NegotiationRepository implements negotiation.Repository.
type NegotiationRepository struct {
	mu     sync.RWMutex
	nextID int64
	items  map[uuid.UUID]*negotiation.Negotiation
}

func NewNegotiationRepository() *NegotiationRepository {
	return &NegotiationRepository{items: map[uuid.UUID]*negotiation.Negotiation{}}
}

func (r *NegotiationRepository) Create(ctx context.Context, n *negotiation.Negotiation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := n.Subject().Key()
	for _, existing := range r.items {
		if existing.IsActive && existing.Status.IsLive() && existing.Subject().Key() == key {
			return negotiation.ErrConflictingOffer
		}
	}
	r.nextID++
	n.ID = r.nextID
	r.items[n.NegotiationID] = n.Clone()
	return nil
}

// snapshot captures the stored records. Records are replaced, never mutated
// in place, so keeping the pointers is enough. Negotiations are only written
// inside transactions, so records added since the snapshot are dropped.
func (r *NegotiationRepository) snapshot() func() {
	r.mu.RLock()
	items := make(map[uuid.UUID]*negotiation.Negotiation, len(r.items))
	for id, n := range r.items {
		items[id] = n
	}
	r.mu.RUnlock()
	return func() {
		r.mu.Lock()
		r.items = items
		r.mu.Unlock()
	}
}

func (r *NegotiationRepository) Update(ctx context.Context, n *negotiation.Negotiation, expectedVersion int64, appended []negotiation.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[n.NegotiationID]
	if !ok || stored.Version != expectedVersion {
		return negotiation.ErrStaleState
	}
	if n.IsActive && n.Status.IsLive() && !(stored.IsActive && stored.Status.IsLive()) {
		key := n.Subject().Key()
		for id, other := range r.items {
			if id != n.NegotiationID && other.IsActive && other.Status.IsLive() && other.Subject().Key() == key {
				return negotiation.ErrConflictingOffer
			}
		}
	}
	next := n.Clone()
	next.History = append(append([]negotiation.HistoryEntry{}, stored.History...), appended...)
	next.Version = expectedVersion + 1
	r.items[n.NegotiationID] = next
	n.Version = next.Version
	n.History = append([]negotiation.HistoryEntry{}, next.History...)
	return nil
}

func (r *NegotiationRepository) GetByID(ctx context.Context, negotiationID uuid.UUID) (*negotiation.Negotiation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.items[negotiationID]
	if !ok {
		return nil, nil
	}
	return n.Clone(), nil
}

func (r *NegotiationRepository) FindLive(ctx context.Context, subject negotiation.Subject) (*negotiation.Negotiation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := subject.Key()
	for _, n := range r.items {
		if n.IsActive && n.Status.IsLive() && n.Subject().Key() == key {
			return n.Clone(), nil
		}
	}
	return nil, nil
}

func (r *NegotiationRepository) ListAccepted(ctx context.Context, managerID uuid.UUID, serviceID *uuid.UUID) ([]*negotiation.Negotiation, error) {
	key := negotiation.Subject{ManagerID: managerID, ServiceID: serviceID}.Key()
	r.mu.RLock()
	var out []*negotiation.Negotiation
	for _, n := range r.items {
		if n.IsActive && n.Status == negotiation.StatusAccepted && n.Subject().Key() == key {
			out = append(out, n.Clone())
		}
	}
	r.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func (r *NegotiationRepository) List(ctx context.Context, filter negotiation.Filter, limit, offset int) ([]*negotiation.Negotiation, error) {
	now := filter.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	r.mu.RLock()
	var out []*negotiation.Negotiation
	for _, n := range r.items {
		if matches(n, filter, now) {
			out = append(out, n.Clone())
		}
	}
	r.mu.RUnlock()
	sortNewestFirst(out)
	return page(out, limit, offset), nil
}

func matches(n *negotiation.Negotiation, f negotiation.Filter, now time.Time) bool {
	if f.ManagerID != nil && n.ManagerID != *f.ManagerID {
		return false
	}
	if f.GlobalOnly && n.ServiceID != nil {
		return false
	}
	if f.ServiceID != nil && (n.ServiceID == nil || *n.ServiceID != *f.ServiceID) {
		return false
	}
	if f.Status != nil && n.EffectiveStatus(now) != *f.Status {
		return false
	}
	if f.IsActive != nil && n.IsActive != *f.IsActive {
		return false
	}
	return true
}

func sortNewestFirst(items []*negotiation.Negotiation) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
