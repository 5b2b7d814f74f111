package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/execution-hub/commission-hub/internal/domain/audit"
)

// AuditRepository implements audit.Repository. Entries are append-only.
type AuditRepository struct {
	mu     sync.RWMutex
	nextID int64
	logs   []audit.AuditLog
}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Create(ctx context.Context, log *audit.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	log.ID = r.nextID
	r.logs = append(r.logs, *log)
	return nil
}

func (r *AuditRepository) GetByID(ctx context.Context, auditID uuid.UUID) (*audit.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.logs {
		if l.AuditID == auditID {
			out := l
			return &out, nil
		}
	}
	return nil, nil
}

func (r *AuditRepository) Query(ctx context.Context, filter audit.QueryFilter, cursor *audit.Cursor, limit int) ([]*audit.AuditLog, *audit.Cursor, error) {
	r.mu.RLock()
	var matched []*audit.AuditLog
	for _, l := range r.logs {
		if !matchesAudit(l, filter) {
			continue
		}
		if cursor != nil && !before(l, *cursor) {
			continue
		}
		item := l
		matched = append(matched, &item)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	var next *audit.Cursor
	if limit > 0 && len(matched) == limit {
		last := matched[len(matched)-1]
		next = &audit.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return matched, next, nil
}

func (r *AuditRepository) GetByEntityID(ctx context.Context, entityType audit.EntityType, entityID string) ([]*audit.AuditLog, error) {
	logs, _, err := r.Query(ctx, audit.QueryFilter{EntityType: &entityType, EntityID: &entityID}, nil, 0)
	return logs, err
}

// before reports whether l sorts after the cursor in created_at DESC, id DESC order.
func before(l audit.AuditLog, c audit.Cursor) bool {
	if l.CreatedAt.Equal(c.CreatedAt) {
		return l.ID < c.ID
	}
	return l.CreatedAt.Before(c.CreatedAt)
}

func matchesAudit(l audit.AuditLog, f audit.QueryFilter) bool {
	if f.EntityType != nil && l.EntityType != *f.EntityType {
		return false
	}
	if f.EntityID != nil && l.EntityID != *f.EntityID {
		return false
	}
	if f.Action != nil && l.Action != *f.Action {
		return false
	}
	if f.Actor != nil && l.Actor != *f.Actor {
		return false
	}
	if f.RiskLevel != nil && l.RiskLevel != *f.RiskLevel {
		return false
	}
	if f.StartTime != nil && l.CreatedAt.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && l.CreatedAt.After(*f.EndTime) {
		return false
	}
	if f.TraceID != nil && l.TraceID != *f.TraceID {
		return false
	}
	for _, want := range f.Tags {
		found := false
		for _, tag := range l.Tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
