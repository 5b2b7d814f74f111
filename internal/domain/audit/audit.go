package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// EntityType identifies the kind of audited entity.
type EntityType string

const (
	EntityTypeNegotiation EntityType = "NEGOTIATION"
	EntityTypeService     EntityType = "SERVICE"
	EntityTypeUser        EntityType = "USER"
	EntityTypeSession     EntityType = "SESSION"
)

// Action is the audited operation.
type Action string

const (
	ActionCreate     Action = "CREATE"
	ActionUpdate     Action = "UPDATE"
	ActionAccept     Action = "ACCEPT"
	ActionReject     Action = "REJECT"
	ActionCounter    Action = "COUNTER"
	ActionExpire     Action = "EXPIRE"
	ActionDeactivate Action = "DEACTIVATE"
	ActionLogin      Action = "LOGIN"
	ActionLogout     Action = "LOGOUT"
)

// RiskLevel grades an audited operation.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

var (
	ErrMissingEntity = errors.New("audit entry requires entity type and id")
	ErrMissingAction = errors.New("audit entry requires action")
	ErrMissingActor  = errors.New("audit entry requires actor")
)

// AuditEntry is the input for a new audit log.
type AuditEntry struct {
	EntityType EntityType
	EntityID   string
	Action     Action
	Actor      string
	ActorRoles []string
	OldValues  json.RawMessage
	NewValues  json.RawMessage
	Reason     string
	RiskLevel  RiskLevel
	Tags       []string
	TraceID    string
}

// AuditLog is a persisted, optionally signed audit record.
type AuditLog struct {
	ID         int64           `json:"id"`
	AuditID    uuid.UUID       `json:"auditId"`
	EntityType EntityType      `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Action     Action          `json:"action"`
	Actor      string          `json:"actor"`
	ActorRoles []string        `json:"actorRoles,omitempty"`
	OldValues  json.RawMessage `json:"oldValues,omitempty"`
	NewValues  json.RawMessage `json:"newValues,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	RiskLevel  RiskLevel       `json:"riskLevel"`
	Tags       []string        `json:"tags,omitempty"`
	Signature  []byte          `json:"signature,omitempty"`
	TraceID    string          `json:"traceId,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// NewAuditLog validates an entry and builds the log record.
func NewAuditLog(entry *AuditEntry) (*AuditLog, error) {
	if entry.EntityType == "" || entry.EntityID == "" {
		return nil, ErrMissingEntity
	}
	if entry.Action == "" {
		return nil, ErrMissingAction
	}
	if entry.Actor == "" {
		return nil, ErrMissingActor
	}
	risk := entry.RiskLevel
	if risk == "" {
		risk = DefaultRiskLevel(entry.Action)
	}
	return &AuditLog{
		AuditID:    uuid.New(),
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		Actor:      entry.Actor,
		ActorRoles: entry.ActorRoles,
		OldValues:  entry.OldValues,
		NewValues:  entry.NewValues,
		Reason:     entry.Reason,
		RiskLevel:  risk,
		Tags:       entry.Tags,
		TraceID:    entry.TraceID,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// DefaultRiskLevel assigns a risk level from the action.
func DefaultRiskLevel(action Action) RiskLevel {
	switch action {
	case ActionAccept, ActionDeactivate:
		return RiskLevelHigh
	case ActionReject, ActionCounter, ActionUpdate:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// Cursor marks a position in a created_at DESC, id DESC listing.
type Cursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        int64     `json:"id"`
}

// QueryFilter narrows audit log queries.
type QueryFilter struct {
	EntityType *EntityType
	EntityID   *string
	Action     *Action
	Actor      *string
	RiskLevel  *RiskLevel
	StartTime  *time.Time
	EndTime    *time.Time
	Tags       []string
	TraceID    *string
}

// Repository defines persistence for audit logs. Logs are insert-only.
type Repository interface {
	Create(ctx context.Context, log *AuditLog) error
	GetByID(ctx context.Context, auditID uuid.UUID) (*AuditLog, error)
	Query(ctx context.Context, filter QueryFilter, cursor *Cursor, limit int) ([]*AuditLog, *Cursor, error)
	GetByEntityID(ctx context.Context, entityType EntityType, entityID string) ([]*AuditLog, error)
}
