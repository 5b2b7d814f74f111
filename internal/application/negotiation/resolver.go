package negotiation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/execution-hub/commission-hub/internal/domain/catalog"
	domain "github.com/execution-hub/commission-hub/internal/domain/negotiation"
	"github.com/execution-hub/commission-hub/internal/domain/settlement"
	"github.com/execution-hub/commission-hub/internal/domain/user"
)

// Source names the precedence tier that produced an effective percentage.
type Source string

const (
	SourceServiceCache  Source = "service_cache"
	SourceService       Source = "service"
	SourceManagerGlobal Source = "manager_global"
	SourceNone          Source = "none"
)

// Resolution is the effective percentage for a service and where it came from.
type Resolution struct {
	ServiceID     uuid.UUID       `json:"serviceId"`
	Percentage    decimal.Decimal `json:"percentage"`
	Source        Source          `json:"source"`
	NegotiationID *uuid.UUID      `json:"negotiationId,omitempty"`
}

// SettlementOutcome is the settlement of one order.
type SettlementOutcome struct {
	OrderID    uuid.UUID         `json:"orderId"`
	Currency   string            `json:"currency"`
	Resolution Resolution        `json:"resolution"`
	Result     settlement.Result `json:"settlement"`
}

// ResolveEffectivePercentage returns the single percentage used to settle
// orders of the service, or zero when no agreement applies.
func (s *Service) ResolveEffectivePercentage(ctx context.Context, serviceID uuid.UUID) (decimal.Decimal, error) {
	res, err := s.ResolveEffective(ctx, serviceID)
	if err != nil {
		return decimal.Zero, err
	}
	return res.Percentage, nil
}

// ResolveEffective is ResolveEffectivePercentage with the deciding tier.
// The service cache and the agreements are read in one transaction, so a
// concurrent transition is seen either entirely or not at all.
func (s *Service) ResolveEffective(ctx context.Context, serviceID uuid.UUID) (*Resolution, error) {
	var res *Resolution
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		svc, err := s.loadService(ctx, serviceID)
		if err != nil {
			return err
		}
		res, err = s.resolve(ctx, svc, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// resolve walks the precedence tiers: service cache, service-scoped
// agreement, manager-global agreement, zero. With an order, candidates whose
// bounds or condition exclude it are skipped.
func (s *Service) resolve(ctx context.Context, svc *catalog.Service, order *domain.OrderContext) (*Resolution, error) {
	now := s.now()
	res := &Resolution{ServiceID: svc.ServiceID}

	if cache := svc.Commission; cache.UsableAt(now) {
		usable := true
		if order != nil {
			n, err := s.repo.GetByID(ctx, cache.NegotiationID)
			if err != nil {
				return nil, err
			}
			usable = n != nil && n.MatchesOrder(*order)
		}
		if usable {
			id := cache.NegotiationID
			res.Percentage, res.Source, res.NegotiationID = cache.Percentage, SourceServiceCache, &id
			return res, nil
		}
	}

	serviceID := svc.ServiceID
	tiers := []struct {
		serviceID *uuid.UUID
		source    Source
	}{
		{&serviceID, SourceService},
		{nil, SourceManagerGlobal},
	}
	for _, tier := range tiers {
		candidates, err := s.repo.ListAccepted(ctx, svc.ManagerID, tier.serviceID)
		if err != nil {
			return nil, fmt.Errorf("failed to list agreements: %w", err)
		}
		for _, n := range candidates {
			if !n.UsableAt(now) {
				continue
			}
			if order != nil && !n.MatchesOrder(*order) {
				continue
			}
			id := n.NegotiationID
			res.Percentage, res.Source, res.NegotiationID = *n.FinalPercentage, tier.source, &id
			return res, nil
		}
	}

	res.Percentage, res.Source = decimal.Zero, SourceNone
	return res, nil
}

// ComputeSettlement splits orderTotal using percentage.
func (s *Service) ComputeSettlement(orderTotal, percentage decimal.Decimal) (settlement.Result, error) {
	if err := settlement.Validate(orderTotal, percentage); err != nil {
		if errors.Is(err, settlement.ErrInvalidPercentage) {
			return settlement.Result{}, domain.ErrInvalidPercentage
		}
		return settlement.Result{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return settlement.Compute(orderTotal, percentage), nil
}

// SettleOrder resolves the effective percentage for the order's service and
// settles the order total. Admins may settle any order; managers only their own.
func (s *Service) SettleOrder(ctx context.Context, actor Actor, orderID uuid.UUID) (*SettlementOutcome, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	var (
		svc *catalog.Service
		res *Resolution
	)
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if svc, err = s.loadService(ctx, order.ServiceID); err != nil {
			return err
		}
		switch actor.Role {
		case user.RoleAdmin:
		case user.RoleManager:
			if svc.ManagerID != actor.UserID {
				return domain.ErrForbidden
			}
		default:
			return domain.ErrForbidden
		}
		res, err = s.resolve(ctx, svc, &domain.OrderContext{
			OrderTotal: order.Total,
			ServiceID:  svc.ServiceID,
			ManagerID:  svc.ManagerID,
			Currency:   order.Currency,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	result, err := s.ComputeSettlement(order.Total, res.Percentage)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("orderId", orderID.String()).
		Str("serviceId", svc.ServiceID.String()).
		Str("source", string(res.Source)).
		Str("percentage", res.Percentage.String()).
		Str("commission", result.CommissionAmount.String()).
		Msg("order settled")

	return &SettlementOutcome{
		OrderID:    orderID,
		Currency:   order.Currency,
		Resolution: *res,
		Result:     result,
	}, nil
}
