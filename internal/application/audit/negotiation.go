package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/execution-hub/commission-hub/internal/domain/audit"
	"github.com/execution-hub/commission-hub/internal/domain/negotiation"
)

// NegotiationChange is one audited negotiation transition. Before is nil
// for a new offer.
type NegotiationChange struct {
	Actor  string
	Role   string
	Action audit.Action
	Before *negotiation.Negotiation
	After  *negotiation.Negotiation
	Reason string
}

// negotiationSnapshot is the audited view of a record. History is left out;
// it lives in its own append-only table.
type negotiationSnapshot struct {
	Status            negotiation.Status `json:"status"`
	OfferedPercentage string             `json:"offeredPercentage"`
	CounterPercentage string             `json:"counterPercentage,omitempty"`
	FinalPercentage   string             `json:"finalPercentage,omitempty"`
	ServiceID         *uuid.UUID         `json:"serviceId,omitempty"`
	ValidUntil        *time.Time         `json:"validUntil,omitempty"`
	IsActive          bool               `json:"isActive"`
	Version           int64              `json:"version"`
}

func snapshotOf(n *negotiation.Negotiation) ([]byte, error) {
	if n == nil {
		return nil, nil
	}
	snap := negotiationSnapshot{
		Status:            n.Status,
		OfferedPercentage: n.OfferedPercentage.String(),
		ServiceID:         n.ServiceID,
		ValidUntil:        n.ValidUntil,
		IsActive:          n.IsActive,
		Version:           n.Version,
	}
	if n.CounterPercentage != nil {
		snap.CounterPercentage = n.CounterPercentage.String()
	}
	if n.FinalPercentage != nil {
		snap.FinalPercentage = n.FinalPercentage.String()
	}
	return json.Marshal(snap)
}

// ManagerTag marks every entry about a negotiation of the manager.
func ManagerTag(managerID uuid.UUID) string { return "manager:" + managerID.String() }

// ServiceTag marks entries about service-scoped negotiations.
func ServiceTag(serviceID uuid.UUID) string { return "service:" + serviceID.String() }

// NegotiationEntry builds the audit entry for change.
func NegotiationEntry(change NegotiationChange) (*audit.AuditEntry, error) {
	before, err := snapshotOf(change.Before)
	if err != nil {
		return nil, err
	}
	after, err := snapshotOf(change.After)
	if err != nil {
		return nil, err
	}
	n := change.After
	tags := []string{ManagerTag(n.ManagerID)}
	if n.ServiceID != nil {
		tags = append(tags, ServiceTag(*n.ServiceID))
	}
	var roles []string
	if change.Role != "" {
		roles = []string{change.Role}
	}
	return &audit.AuditEntry{
		EntityType: audit.EntityTypeNegotiation,
		EntityID:   n.NegotiationID.String(),
		Action:     change.Action,
		Actor:      change.Actor,
		ActorRoles: roles,
		OldValues:  before,
		NewValues:  after,
		Reason:     change.Reason,
		Tags:       tags,
	}, nil
}

// LogNegotiation records change in the background.
func (s *Service) LogNegotiation(ctx context.Context, change NegotiationChange) {
	entry, err := NegotiationEntry(change)
	if err != nil {
		s.logger.Error().Err(err).
			Str("negotiationId", change.After.NegotiationID.String()).
			Str("action", string(change.Action)).
			Msg("failed to build negotiation audit entry")
		return
	}
	s.Log(ctx, entry)
}

// NegotiationHistory returns the audit trail of one negotiation, newest first.
func (s *Service) NegotiationHistory(ctx context.Context, negotiationID uuid.UUID) ([]*audit.AuditLog, error) {
	return s.EntityHistory(ctx, audit.EntityTypeNegotiation, negotiationID.String())
}

// ManagerHistory pages through negotiation entries of one manager, including
// entries written by admins acting on the manager's records.
func (s *Service) ManagerHistory(ctx context.Context, managerID uuid.UUID, cursor string, limit int) (*Page, error) {
	entity := audit.EntityTypeNegotiation
	return s.Query(ctx, audit.QueryFilter{
		EntityType: &entity,
		Tags:       []string{ManagerTag(managerID)},
	}, cursor, limit)
}
