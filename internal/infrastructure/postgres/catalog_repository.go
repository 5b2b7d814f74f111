package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/execution-hub/commission-hub/internal/domain/catalog"
)

// ServiceRepository implements catalog.ServiceRepository.
type ServiceRepository struct {
	pool *pgxpool.Pool
}

func NewServiceRepository(pool *pgxpool.Pool) *ServiceRepository {
	return &ServiceRepository{pool: pool}
}

func (r *ServiceRepository) Create(ctx context.Context, s *catalog.Service) error {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO services (service_id, manager_id, name, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, s.ServiceID, s.ManagerID, s.Name, s.CreatedAt, s.UpdatedAt)
	return row.Scan(&s.ID)
}

func (r *ServiceRepository) GetByID(ctx context.Context, serviceID uuid.UUID) (*catalog.Service, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, service_id, manager_id, name, commission_negotiation_id, commission_percentage::text,
		       commission_valid_from, commission_valid_until, commission_updated_at, created_at, updated_at
		FROM services WHERE service_id=$1
	`, serviceID)
	return scanService(row)
}

func (r *ServiceRepository) SetCommission(ctx context.Context, serviceID uuid.UUID, cache *catalog.CommissionCache) error {
	var (
		negotiationID *uuid.UUID
		percentage    *string
		validFrom     *time.Time
		validUntil    *time.Time
		updatedAt     *time.Time
	)
	if cache != nil {
		negotiationID = &cache.NegotiationID
		percentage = decimalArg(&cache.Percentage)
		validFrom, validUntil = cache.ValidFrom, cache.ValidUntil
		updatedAt = &cache.UpdatedAt
	}
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE services
		SET commission_negotiation_id=$1, commission_percentage=$2, commission_valid_from=$3,
		    commission_valid_until=$4, commission_updated_at=$5, updated_at=NOW()
		WHERE service_id=$6
	`, negotiationID, percentage, validFrom, validUntil, updatedAt, serviceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("service %s not found", serviceID)
	}
	return nil
}

func scanService(row pgx.Row) (*catalog.Service, error) {
	var (
		s             catalog.Service
		negotiationID *uuid.UUID
		percentage    *string
		validFrom     *time.Time
		validUntil    *time.Time
		updatedAt     *time.Time
	)
	if err := row.Scan(&s.ID, &s.ServiceID, &s.ManagerID, &s.Name, &negotiationID, &percentage,
		&validFrom, &validUntil, &updatedAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if negotiationID != nil && percentage != nil {
		pct, err := parseDecimal(percentage)
		if err != nil {
			return nil, err
		}
		s.Commission = &catalog.CommissionCache{
			NegotiationID: *negotiationID,
			Percentage:    *pct,
			ValidFrom:     validFrom,
			ValidUntil:    validUntil,
		}
		if updatedAt != nil {
			s.Commission.UpdatedAt = *updatedAt
		}
	}
	return &s, nil
}

// OrderRepository implements catalog.OrderRepository.
type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) Create(ctx context.Context, o *catalog.Order) error {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO orders (order_id, service_id, total, currency, created_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, o.OrderID, o.ServiceID, o.Total.String(), o.Currency, o.CreatedAt)
	return row.Scan(&o.ID)
}

func (r *OrderRepository) GetByID(ctx context.Context, orderID uuid.UUID) (*catalog.Order, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, order_id, service_id, total::text, currency, created_at
		FROM orders WHERE order_id=$1
	`, orderID)
	var (
		o     catalog.Order
		total string
	)
	if err := row.Scan(&o.ID, &o.OrderID, &o.ServiceID, &total, &o.Currency, &o.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	t, err := parseDecimal(&total)
	if err != nil {
		return nil, err
	}
	o.Total = *t
	return &o, nil
}
