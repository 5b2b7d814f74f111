package negotiation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter controls negotiation listing. Status is matched against the
// effective status at Now, so lazily expired records list as expired.
type Filter struct {
	ManagerID  *uuid.UUID
	ServiceID  *uuid.UUID
	GlobalOnly bool
	Status     *Status
	IsActive   *bool
	Now        time.Time
}

// Repository defines persistence for negotiations and their history.
type Repository interface {
	// Create inserts a new record together with its history. It returns
	// ErrConflictingOffer when an active live record exists for the subject.
	Create(ctx context.Context, n *Negotiation) error
	// Update stores n if the persisted version still equals expectedVersion and
	// appends the given history entries. It returns ErrStaleState otherwise and
	// bumps n.Version on success.
	Update(ctx context.Context, n *Negotiation, expectedVersion int64, appended []HistoryEntry) error
	GetByID(ctx context.Context, negotiationID uuid.UUID) (*Negotiation, error)
	// FindLive returns the active record for the subject whose stored status is
	// pending, negotiating or accepted, or nil.
	FindLive(ctx context.Context, subject Subject) (*Negotiation, error)
	// ListAccepted returns active accepted records for the manager, newest first.
	// A nil serviceID selects manager-global records only.
	ListAccepted(ctx context.Context, managerID uuid.UUID, serviceID *uuid.UUID) ([]*Negotiation, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Negotiation, error)
}

// Transactor runs fn inside one storage transaction. Repositories called with
// the context passed to fn participate in that transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
