package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	appAudit "github.com/execution-hub/commission-hub/internal/application/audit"
	"github.com/execution-hub/commission-hub/internal/domain/audit"
	"github.com/execution-hub/commission-hub/internal/domain/catalog"
	domain "github.com/execution-hub/commission-hub/internal/domain/negotiation"
	"github.com/execution-hub/commission-hub/internal/domain/notice"
	"github.com/execution-hub/commission-hub/internal/domain/user"
)

// Actor describes an authenticated actor.
type Actor struct {
	UserID   uuid.UUID
	Username string
	Role     user.Role
}

// ActorString is the actor as written to audit logs.
func (a Actor) ActorString() string {
	return "user:" + a.Username
}

// AuditLogger records negotiation transitions.
type AuditLogger interface {
	LogNegotiation(ctx context.Context, change appAudit.NegotiationChange)
}

// Service orchestrates negotiation transitions, rate resolution and settlement.
type Service struct {
	repo     domain.Repository
	tx       domain.Transactor
	services catalog.ServiceRepository
	orders   catalog.OrderRepository
	sink     notice.Sink
	audit    AuditLogger
	now      func() time.Time
	logger   zerolog.Logger
}

// NewService creates a negotiation service.
func NewService(
	repo domain.Repository,
	tx domain.Transactor,
	services catalog.ServiceRepository,
	orders catalog.OrderRepository,
	sink notice.Sink,
	auditLogger AuditLogger,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		tx:       tx,
		services: services,
		orders:   orders,
		sink:     sink,
		audit:    auditLogger,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		logger:   logger.With().Str("service", "negotiation").Logger(),
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateOfferInput defines a new manager offer.
type CreateOfferInput struct {
	ServiceID     *uuid.UUID
	Percentage    decimal.Decimal
	Notes         *string
	ValidUntil    *time.Time
	MinOrderValue *decimal.Decimal
	MaxOrderValue *decimal.Decimal
	Condition     *string
}

// AdminRespondInput defines an admin response.
type AdminRespondInput struct {
	Action            string
	CounterPercentage *decimal.Decimal
	Notes             *string
	ValidUntil        *time.Time
}

// ManagerRespondInput defines a manager response to an admin counter.
type ManagerRespondInput struct {
	Action            string
	CounterPercentage *decimal.Decimal
	Notes             *string
}

// ListFilter controls negotiation listing.
type ListFilter struct {
	ManagerID  *uuid.UUID
	ServiceID  *uuid.UUID
	GlobalOnly bool
	Status     *domain.Status
	IsActive   *bool
}

// CreateOffer opens a pending negotiation for the actor's subject.
func (s *Service) CreateOffer(ctx context.Context, actor Actor, input CreateOfferInput) (*domain.Negotiation, error) {
	if actor.Role != user.RoleManager {
		return nil, domain.ErrForbidden
	}
	if input.ServiceID != nil {
		svc, err := s.loadService(ctx, *input.ServiceID)
		if err != nil {
			return nil, err
		}
		if svc.ManagerID != actor.UserID {
			return nil, domain.ErrForbidden
		}
	}

	now := s.now()
	n, err := domain.NewOffer(domain.OfferInput{
		Subject:       domain.Subject{ManagerID: actor.UserID, ServiceID: input.ServiceID},
		Percentage:    input.Percentage,
		Notes:         input.Notes,
		ValidUntil:    input.ValidUntil,
		MinOrderValue: input.MinOrderValue,
		MaxOrderValue: input.MaxOrderValue,
		Condition:     input.Condition,
	}, now)
	if err != nil {
		return nil, err
	}

	var retired, retiredFrom *domain.Negotiation
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.FindLive(ctx, n.Subject())
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.IsLive(now) {
				return domain.ErrConflictingOffer
			}
			expected := existing.Version
			prior := existing.Clone()
			if existing.Retire(now) {
				if err := s.repo.Update(ctx, existing, expected, nil); err != nil {
					return err
				}
				if err := s.clearCacheFor(ctx, existing); err != nil {
					return err
				}
				retired, retiredFrom = existing, prior
			}
		}
		return s.repo.Create(ctx, n)
	})
	if err != nil {
		return nil, err
	}

	if retired != nil {
		s.logTransition(retired, "retire")
		s.recordAudit(ctx, actor, retiredFrom, retired, auditActionForRetire(retired), "superseded by "+n.NegotiationID.String())
	}
	s.logTransition(n, string(domain.ActionOffer))
	s.recordAudit(ctx, actor, nil, n, audit.ActionCreate, "")
	s.postNotice(ctx, n, notice.KindOffered, fmt.Sprintf("%s offered a commission of %s%%", actor.Username, n.OfferedPercentage.String()))
	return n, nil
}

// UpdateOffer revises the live offer before the admin answers it.
func (s *Service) UpdateOffer(ctx context.Context, actor Actor, negotiationID uuid.UUID, percentage decimal.Decimal, notes *string) (*domain.Negotiation, error) {
	if actor.Role != user.RoleManager {
		return nil, domain.ErrForbidden
	}
	before, n, err := s.mutate(ctx, negotiationID, func(n *domain.Negotiation, now time.Time) ([]domain.HistoryEntry, error) {
		return n.UpdateOffer(actor.UserID, percentage, notes, now)
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(n, string(domain.ActionOfferUpdated))
	s.recordAudit(ctx, actor, before, n, audit.ActionUpdate, "")
	s.postNotice(ctx, n, notice.KindOffered, fmt.Sprintf("%s revised the offer to %s%%", actor.Username, n.OfferedPercentage.String()))
	return n, nil
}

// AdminRespond applies an admin accept, reject or counter to any negotiation.
func (s *Service) AdminRespond(ctx context.Context, actor Actor, negotiationID uuid.UUID, input AdminRespondInput) (*domain.Negotiation, error) {
	if actor.Role != user.RoleAdmin {
		return nil, domain.ErrForbidden
	}
	action, err := domain.ParseResponse(input.Action)
	if err != nil {
		return nil, err
	}
	before, n, err := s.mutate(ctx, negotiationID, func(n *domain.Negotiation, now time.Time) ([]domain.HistoryEntry, error) {
		return n.AdminRespond(domain.AdminResponse{
			AdminID:           actor.UserID,
			Action:            action,
			CounterPercentage: input.CounterPercentage,
			Notes:             input.Notes,
			ValidUntil:        input.ValidUntil,
		}, now)
	})
	if err != nil {
		return nil, err
	}
	s.afterResponse(ctx, actor, before, n, action)
	return n, nil
}

// ManagerRespond applies the owning manager's answer to an admin counter.
func (s *Service) ManagerRespond(ctx context.Context, actor Actor, negotiationID uuid.UUID, input ManagerRespondInput) (*domain.Negotiation, error) {
	if actor.Role != user.RoleManager {
		return nil, domain.ErrForbidden
	}
	action, err := domain.ParseResponse(input.Action)
	if err != nil {
		return nil, err
	}
	before, n, err := s.mutate(ctx, negotiationID, func(n *domain.Negotiation, now time.Time) ([]domain.HistoryEntry, error) {
		return n.ManagerRespond(domain.ManagerResponse{
			ManagerID:         actor.UserID,
			Action:            action,
			CounterPercentage: input.CounterPercentage,
			Notes:             input.Notes,
		}, now)
	})
	if err != nil {
		return nil, err
	}
	s.afterResponse(ctx, actor, before, n, action)
	return n, nil
}

// Deactivate soft-disables a negotiation and drops it from any service cache.
func (s *Service) Deactivate(ctx context.Context, actor Actor, negotiationID uuid.UUID, reason string) (*domain.Negotiation, error) {
	if actor.Role != user.RoleAdmin {
		return nil, domain.ErrForbidden
	}
	changed := false
	before, n, err := s.mutate(ctx, negotiationID, func(n *domain.Negotiation, now time.Time) ([]domain.HistoryEntry, error) {
		changed = n.Deactivate(now)
		if !changed {
			return nil, errUnchanged
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.logTransition(n, "deactivate")
		s.recordAudit(ctx, actor, before, n, audit.ActionDeactivate, reason)
	}
	return n, nil
}

// Get returns one negotiation visible to the actor, with lazy expiry applied.
func (s *Service) Get(ctx context.Context, actor Actor, negotiationID uuid.UUID) (*domain.Negotiation, error) {
	n, err := s.load(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	if actor.Role == user.RoleManager && n.ManagerID != actor.UserID {
		return nil, domain.ErrForbidden
	}
	if actor.Role != user.RoleManager && actor.Role != user.RoleAdmin {
		return nil, domain.ErrForbidden
	}
	n.ApplyExpiry(s.now())
	return n, nil
}

// List returns negotiations newest first. Managers only see their own records.
func (s *Service) List(ctx context.Context, actor Actor, filter ListFilter, limit, offset int) ([]*domain.Negotiation, error) {
	switch actor.Role {
	case user.RoleManager:
		if filter.ManagerID != nil && *filter.ManagerID != actor.UserID {
			return nil, domain.ErrForbidden
		}
		id := actor.UserID
		filter.ManagerID = &id
	case user.RoleAdmin:
	default:
		return nil, domain.ErrForbidden
	}

	now := s.now()
	items, err := s.repo.List(ctx, domain.Filter{
		ManagerID:  filter.ManagerID,
		ServiceID:  filter.ServiceID,
		GlobalOnly: filter.GlobalOnly,
		Status:     filter.Status,
		IsActive:   filter.IsActive,
		Now:        now,
	}, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list negotiations: %w", err)
	}
	for _, n := range items {
		n.ApplyExpiry(now)
	}
	return items, nil
}

type mutation func(n *domain.Negotiation, now time.Time) ([]domain.HistoryEntry, error)

// errUnchanged aborts a mutation that has nothing to persist.
var errUnchanged = errors.New("negotiation unchanged")

// mutate loads a record, applies fn against the state observed at load time
// and persists it with a version check, all inside one transaction. It
// returns the record as loaded and as stored.
func (s *Service) mutate(ctx context.Context, negotiationID uuid.UUID, fn mutation) (*domain.Negotiation, *domain.Negotiation, error) {
	now := s.now()
	var before, out *domain.Negotiation
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		n, err := s.load(ctx, negotiationID)
		if err != nil {
			return err
		}
		before = n.Clone()
		expected := n.Version
		appended, err := fn(n, now)
		if err == errUnchanged {
			out = n
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.repo.Update(ctx, n, expected, appended); err != nil {
			return err
		}
		if err := s.syncCache(ctx, n); err != nil {
			return err
		}
		out = n
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return before, out, nil
}

// syncCache keeps the service commission cache pointing at the current agreement.
func (s *Service) syncCache(ctx context.Context, n *domain.Negotiation) error {
	if n.ServiceID == nil {
		return nil
	}
	if n.Status == domain.StatusAccepted && n.IsActive && n.FinalPercentage != nil {
		return s.services.SetCommission(ctx, *n.ServiceID, &catalog.CommissionCache{
			NegotiationID: n.NegotiationID,
			Percentage:    *n.FinalPercentage,
			ValidFrom:     n.ValidFrom,
			ValidUntil:    n.ValidUntil,
			UpdatedAt:     n.UpdatedAt,
		})
	}
	return s.clearCacheFor(ctx, n)
}

func (s *Service) clearCacheFor(ctx context.Context, n *domain.Negotiation) error {
	if n.ServiceID == nil {
		return nil
	}
	svc, err := s.services.GetByID(ctx, *n.ServiceID)
	if err != nil {
		return err
	}
	if svc == nil || svc.Commission == nil || svc.Commission.NegotiationID != n.NegotiationID {
		return nil
	}
	return s.services.SetCommission(ctx, *n.ServiceID, nil)
}

func (s *Service) load(ctx context.Context, negotiationID uuid.UUID) (*domain.Negotiation, error) {
	n, err := s.repo.GetByID(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("negotiation %s: %w", negotiationID, domain.ErrNotFound)
	}
	return n, nil
}

func (s *Service) loadService(ctx context.Context, serviceID uuid.UUID) (*catalog.Service, error) {
	svc, err := s.services.GetByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, fmt.Errorf("service %s: %w", serviceID, domain.ErrNotFound)
	}
	return svc, nil
}

func (s *Service) afterResponse(ctx context.Context, actor Actor, before, n *domain.Negotiation, action domain.Response) {
	last := n.History[len(n.History)-1]
	s.logTransition(n, string(last.Action))

	var (
		kind        notice.Kind
		auditAction audit.Action
		body        string
	)
	switch action {
	case domain.ResponseAccept:
		kind, auditAction = notice.KindAccepted, audit.ActionAccept
		body = fmt.Sprintf("Commission agreed at %s%%", n.FinalPercentage.String())
	case domain.ResponseReject:
		kind, auditAction = notice.KindRejected, audit.ActionReject
		body = fmt.Sprintf("%s rejected the commission proposal", actor.Username)
	default:
		kind, auditAction = notice.KindCounter, audit.ActionCounter
		body = fmt.Sprintf("%s countered with %s%%", actor.Username, last.Percentage.String())
	}
	s.recordAudit(ctx, actor, before, n, auditAction, "")
	s.postNotice(ctx, n, kind, body)
}

func (s *Service) logTransition(n *domain.Negotiation, action string) {
	s.logger.Info().
		Str("negotiationId", n.NegotiationID.String()).
		Str("managerId", n.ManagerID.String()).
		Str("action", action).
		Str("status", string(n.Status)).
		Int64("version", n.Version).
		Msg("negotiation transition")
}

func (s *Service) recordAudit(ctx context.Context, actor Actor, before, after *domain.Negotiation, action audit.Action, reason string) {
	if s.audit == nil {
		return
	}
	s.audit.LogNegotiation(ctx, appAudit.NegotiationChange{
		Actor:  actor.ActorString(),
		Role:   string(actor.Role),
		Action: action,
		Before: before,
		After:  after,
		Reason: reason,
	})
}

func auditActionForRetire(n *domain.Negotiation) audit.Action {
	if n.Status == domain.StatusExpired {
		return audit.ActionExpire
	}
	return audit.ActionDeactivate
}

// postNotice is fire-and-forget; sink failures never undo a transition.
func (s *Service) postNotice(ctx context.Context, n *domain.Negotiation, kind notice.Kind, body string) {
	if s.sink == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"negotiationId": n.NegotiationID,
		"status":        n.Status,
		"version":       n.Version,
	})
	if err := s.sink.Post(ctx, notice.New(n.ManagerID, n.NegotiationID, kind, body, payload)); err != nil {
		s.logger.Warn().Err(err).
			Str("negotiationId", n.NegotiationID.String()).
			Str("kind", string(kind)).
			Msg("failed to post negotiation notice")
	}
}
