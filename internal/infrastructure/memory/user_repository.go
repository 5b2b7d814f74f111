package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/execution-hub/commission-hub/internal/domain/session"
	"github.com/execution-hub/commission-hub/internal/domain/user"
)

// UserRepository implements user.Repository.
type UserRepository struct {
	mu     sync.RWMutex
	nextID int64
	items  map[uuid.UUID]user.User
}

func NewUserRepository() *UserRepository {
	return &UserRepository{items: map[uuid.UUID]user.User{}}
}

func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.Username == u.Username {
			return ErrDuplicate
		}
	}
	r.nextID++
	u.ID = r.nextID
	r.items[u.UserID] = *u
	return nil
}

func (r *UserRepository) Update(ctx context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[u.UserID]; !ok {
		return nil
	}
	r.items[u.UserID] = *u
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.items[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.items {
		if u.Username == username {
			out := u
			return &out, nil
		}
	}
	return nil, nil
}

func (r *UserRepository) List(ctx context.Context, filter user.Filter, limit, offset int) ([]*user.User, error) {
	r.mu.RLock()
	var out []*user.User
	for _, u := range r.items {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		if filter.Status != nil && u.Status != *filter.Status {
			continue
		}
		if filter.Username != nil && u.Username != *filter.Username {
			continue
		}
		item := u
		out = append(out, &item)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, limit, offset), nil
}

func (r *UserRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items), nil
}

// SessionRepository implements session.Repository.
type SessionRepository struct {
	mu     sync.RWMutex
	nextID int64
	items  map[uuid.UUID]session.Session
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{items: map[uuid.UUID]session.Session{}}
}

func (r *SessionRepository) Create(ctx context.Context, s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s.ID = r.nextID
	r.items[s.SessionID] = *s
	return nil
}

func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.items {
		if s.TokenHash == tokenHash {
			out := s
			return &out, nil
		}
	}
	return nil, nil
}

func (r *SessionRepository) DeleteByID(ctx context.Context, sessionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, sessionID)
	return nil
}

func (r *SessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.items {
		if s.TokenHash == tokenHash {
			delete(r.items, id)
		}
	}
	return nil
}

func (r *SessionRepository) UpdateLastSeen(ctx context.Context, sessionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[sessionID]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	s.LastSeenAt = &now
	r.items[sessionID] = s
	return nil
}

func (r *SessionRepository) DeleteExpired(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for id, s := range r.items {
		if s.IsExpired(now) {
			delete(r.items, id)
			n++
		}
	}
	return n, nil
}
