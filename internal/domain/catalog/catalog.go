package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommissionCache is the agreement currently attached to a service for fast reads.
type CommissionCache struct {
	NegotiationID uuid.UUID       `json:"negotiationId"`
	Percentage    decimal.Decimal `json:"percentage"`
	ValidFrom     *time.Time      `json:"validFrom,omitempty"`
	ValidUntil    *time.Time      `json:"validUntil,omitempty"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// UsableAt reports whether the cached agreement is within its validity window.
func (c *CommissionCache) UsableAt(now time.Time) bool {
	if c == nil {
		return false
	}
	if c.ValidFrom != nil && c.ValidFrom.After(now) {
		return false
	}
	if c.ValidUntil != nil && !c.ValidUntil.After(now) {
		return false
	}
	return true
}

// Service is a listed service owned by a manager.
type Service struct {
	ID         int64            `json:"id"`
	ServiceID  uuid.UUID        `json:"serviceId"`
	ManagerID  uuid.UUID        `json:"managerId"`
	Name       string           `json:"name"`
	Commission *CommissionCache `json:"commission,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// Order is a placed order referencing a service.
type Order struct {
	ID        int64           `json:"id"`
	OrderID   uuid.UUID       `json:"orderId"`
	ServiceID uuid.UUID       `json:"serviceId"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ServiceRepository reads services and maintains their commission cache.
type ServiceRepository interface {
	Create(ctx context.Context, s *Service) error
	GetByID(ctx context.Context, serviceID uuid.UUID) (*Service, error)
	// SetCommission replaces the cache; a nil cache clears it.
	SetCommission(ctx context.Context, serviceID uuid.UUID, cache *CommissionCache) error
}

// OrderRepository reads orders.
type OrderRepository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, orderID uuid.UUID) (*Order, error)
}
