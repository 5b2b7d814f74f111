package negotiation

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents negotiation status.
type Status string

const (
	StatusPending     Status = "pending"
	StatusNegotiating Status = "negotiating"
	StatusAccepted    Status = "accepted"
	StatusRejected    Status = "rejected"
	StatusExpired     Status = "expired"
)

// IsTerminal reports whether no further transitions are permitted.
func (s Status) IsTerminal() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusExpired
}

// IsLive reports whether the status counts toward the one-record-per-subject rule.
func (s Status) IsLive() bool {
	return s == StatusPending || s == StatusNegotiating || s == StatusAccepted
}

// ParseStatus validates a status string.
func ParseStatus(value string) (Status, error) {
	switch s := Status(value); s {
	case StatusPending, StatusNegotiating, StatusAccepted, StatusRejected, StatusExpired:
		return s, nil
	}
	return "", ErrInvalidInput
}

// Action is a history entry action.
type Action string

const (
	ActionOffer                Action = "offer"
	ActionOfferUpdated         Action = "offer_updated"
	ActionCounter              Action = "counter"
	ActionAccept               Action = "accept"
	ActionReject               Action = "reject"
	ActionManagerCounter       Action = "manager_counter"
	ActionManagerAcceptCounter Action = "manager_accept_counter"
	ActionManagerRejectCounter Action = "manager_reject_counter"
)

// Response is what an actor asks to do with a negotiation.
type Response string

const (
	ResponseAccept  Response = "accept"
	ResponseReject  Response = "reject"
	ResponseCounter Response = "counter"
)

// ParseResponse validates a response string.
func ParseResponse(value string) (Response, error) {
	switch r := Response(value); r {
	case ResponseAccept, ResponseReject, ResponseCounter:
		return r, nil
	}
	return "", ErrInvalidAction
}

// ActorRole identifies the side of the negotiation that acted.
type ActorRole string

const (
	ActorRoleManager ActorRole = "manager"
	ActorRoleAdmin   ActorRole = "admin"
)

// TypeManagerOffer is the only negotiation type; every record starts from a manager offer.
const TypeManagerOffer = "manager_offer"

var (
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("actor not allowed to act on negotiation")
	ErrConflictingOffer     = errors.New("an active negotiation already exists for this subject")
	ErrInvalidPercentage    = errors.New("invalid percentage")
	ErrAlreadyFinalized     = errors.New("negotiation already finalized")
	ErrNoCounterToRespondTo = errors.New("no admin counter to respond to")
	ErrStaleState           = errors.New("negotiation was modified concurrently")
	ErrInvalidAction        = errors.New("invalid action")
	ErrInvalidInput         = errors.New("invalid input")
)

var hundred = decimal.NewFromInt(100)

// HistoryEntry is one immutable record of an action taken on a negotiation.
type HistoryEntry struct {
	Sequence   int              `json:"sequence"`
	Timestamp  time.Time        `json:"timestamp"`
	Action     Action           `json:"action"`
	Percentage *decimal.Decimal `json:"percentage,omitempty"`
	Notes      *string          `json:"notes,omitempty"`
	Actor      uuid.UUID        `json:"actor"`
	ActorRole  ActorRole        `json:"actorRole"`
}

// Subject identifies what is being negotiated. A nil ServiceID means the
// negotiation covers every service of the manager.
type Subject struct {
	ManagerID uuid.UUID  `json:"managerId"`
	ServiceID *uuid.UUID `json:"serviceId,omitempty"`
}

// IsGlobal reports whether the subject applies to all of the manager's services.
func (s Subject) IsGlobal() bool {
	return s.ServiceID == nil
}

// Key returns a stable string key for the subject.
func (s Subject) Key() string {
	if s.ServiceID == nil {
		return s.ManagerID.String() + "/*"
	}
	return s.ManagerID.String() + "/" + s.ServiceID.String()
}

// Negotiation is one commission negotiation between a manager and the platform.
type Negotiation struct {
	ID                int64            `json:"id"`
	NegotiationID     uuid.UUID        `json:"negotiationId"`
	ManagerID         uuid.UUID        `json:"managerId"`
	ServiceID         *uuid.UUID       `json:"serviceId,omitempty"`
	Type              string           `json:"type"`
	OfferedPercentage decimal.Decimal  `json:"offeredPercentage"`
	CounterPercentage *decimal.Decimal `json:"counterPercentage,omitempty"`
	FinalPercentage   *decimal.Decimal `json:"finalPercentage,omitempty"`
	Status            Status           `json:"status"`
	ManagerNotes      *string          `json:"managerNotes,omitempty"`
	AdminID           *uuid.UUID       `json:"adminId,omitempty"`
	AdminNotes        *string          `json:"adminNotes,omitempty"`
	AdminRespondedAt  *time.Time       `json:"adminRespondedAt,omitempty"`
	ValidFrom         *time.Time       `json:"validFrom,omitempty"`
	ValidUntil        *time.Time       `json:"validUntil,omitempty"`
	MinOrderValue     *decimal.Decimal `json:"minOrderValue,omitempty"`
	MaxOrderValue     *decimal.Decimal `json:"maxOrderValue,omitempty"`
	Condition         *string          `json:"condition,omitempty"`
	IsActive          bool             `json:"isActive"`
	Version           int64            `json:"version"`
	History           []HistoryEntry   `json:"history"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
	AcceptedAt        *time.Time       `json:"acceptedAt,omitempty"`
	DeactivatedAt     *time.Time       `json:"deactivatedAt,omitempty"`
}

// OfferInput carries the fields of a new manager offer.
type OfferInput struct {
	Subject       Subject
	Percentage    decimal.Decimal
	Notes         *string
	ValidUntil    *time.Time
	MinOrderValue *decimal.Decimal
	MaxOrderValue *decimal.Decimal
	Condition     *string
}

// AdminResponse carries an admin's answer to the live offer.
type AdminResponse struct {
	AdminID           uuid.UUID
	Action            Response
	CounterPercentage *decimal.Decimal
	Notes             *string
	ValidUntil        *time.Time
}

// ManagerResponse carries a manager's answer to an admin counter.
type ManagerResponse struct {
	ManagerID         uuid.UUID
	Action            Response
	CounterPercentage *decimal.Decimal
	Notes             *string
}

// ValidatePercentage checks that p lies in [0,100].
func ValidatePercentage(p decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThan(hundred) {
		return ErrInvalidPercentage
	}
	return nil
}

// validateCounter checks a counter value, which must be in (0,100].
func validateCounter(p *decimal.Decimal) error {
	if p == nil || !p.IsPositive() || p.GreaterThan(hundred) {
		return ErrInvalidPercentage
	}
	return nil
}

// NewOffer validates input and opens a pending negotiation with its first history entry.
func NewOffer(in OfferInput, now time.Time) (*Negotiation, error) {
	if in.Subject.ManagerID == uuid.Nil {
		return nil, ErrInvalidInput
	}
	if in.Subject.ServiceID != nil && *in.Subject.ServiceID == uuid.Nil {
		return nil, ErrInvalidInput
	}
	if err := ValidatePercentage(in.Percentage); err != nil {
		return nil, err
	}
	if in.ValidUntil != nil && !in.ValidUntil.After(now) {
		return nil, ErrInvalidInput
	}
	if err := validateBounds(in.MinOrderValue, in.MaxOrderValue); err != nil {
		return nil, err
	}
	if in.Condition != nil {
		if err := ValidateCondition(*in.Condition); err != nil {
			return nil, err
		}
	}

	pct := in.Percentage
	n := &Negotiation{
		NegotiationID:     uuid.New(),
		ManagerID:         in.Subject.ManagerID,
		ServiceID:         in.Subject.ServiceID,
		Type:              TypeManagerOffer,
		OfferedPercentage: pct,
		Status:            StatusPending,
		ManagerNotes:      in.Notes,
		ValidUntil:        in.ValidUntil,
		MinOrderValue:     in.MinOrderValue,
		MaxOrderValue:     in.MaxOrderValue,
		Condition:         in.Condition,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	n.appendHistory(now, ActionOffer, &pct, in.Notes, in.Subject.ManagerID, ActorRoleManager)
	return n, nil
}

func validateBounds(minValue, maxValue *decimal.Decimal) error {
	if minValue != nil && minValue.IsNegative() {
		return ErrInvalidInput
	}
	if maxValue != nil && maxValue.IsNegative() {
		return ErrInvalidInput
	}
	if minValue != nil && maxValue != nil && minValue.GreaterThan(*maxValue) {
		return ErrInvalidInput
	}
	return nil
}

// Subject returns the negotiated subject.
func (n *Negotiation) Subject() Subject {
	return Subject{ManagerID: n.ManagerID, ServiceID: n.ServiceID}
}

// IsExpiredAt reports whether a non-terminal record has outlived its validity window.
func (n *Negotiation) IsExpiredAt(now time.Time) bool {
	if n.Status.IsTerminal() || n.ValidUntil == nil {
		return false
	}
	return n.ValidUntil.Before(now)
}

// EffectiveStatus returns the status as observed at now, with lazy expiry applied.
func (n *Negotiation) EffectiveStatus(now time.Time) Status {
	if n.IsExpiredAt(now) {
		return StatusExpired
	}
	return n.Status
}

// ApplyExpiry marks the record expired when its window has passed. It reports
// whether the status changed. No history entry is written for expiry.
func (n *Negotiation) ApplyExpiry(now time.Time) bool {
	if !n.IsExpiredAt(now) {
		return false
	}
	n.Status = StatusExpired
	return true
}

// IsLive reports whether the record blocks a new offer for its subject.
// An accepted agreement stops blocking once its window has closed.
func (n *Negotiation) IsLive(now time.Time) bool {
	return n.IsActive && n.EffectiveStatus(now).IsLive() && !n.isLapsed(now)
}

func (n *Negotiation) isLapsed(now time.Time) bool {
	return n.Status == StatusAccepted && n.ValidUntil != nil && !n.ValidUntil.After(now)
}

// Retire releases a record that no longer blocks its subject so a new offer
// can take its place: open records past their window become expired and
// lapsed agreements are deactivated. It reports whether anything changed.
func (n *Negotiation) Retire(now time.Time) bool {
	if n.ApplyExpiry(now) {
		return true
	}
	if n.isLapsed(now) {
		return n.Deactivate(now)
	}
	return false
}

// UsableAt reports whether the record is an agreement that can price orders at now.
func (n *Negotiation) UsableAt(now time.Time) bool {
	if !n.IsActive || n.Status != StatusAccepted || n.FinalPercentage == nil {
		return false
	}
	if n.ValidFrom != nil && n.ValidFrom.After(now) {
		return false
	}
	if n.ValidUntil != nil && !n.ValidUntil.After(now) {
		return false
	}
	return true
}

// AcceptsOrderTotal reports whether total falls within the record's order-value bounds.
func (n *Negotiation) AcceptsOrderTotal(total decimal.Decimal) bool {
	if n.MinOrderValue != nil && total.LessThan(*n.MinOrderValue) {
		return false
	}
	if n.MaxOrderValue != nil && total.GreaterThan(*n.MaxOrderValue) {
		return false
	}
	return true
}

func (n *Negotiation) checkOpen(now time.Time) error {
	n.ApplyExpiry(now)
	if n.Status.IsTerminal() {
		return ErrAlreadyFinalized
	}
	if !n.IsActive {
		return ErrAlreadyFinalized
	}
	return nil
}

// UpdateOffer revises the live offer while the admin has not yet answered it.
func (n *Negotiation) UpdateOffer(managerID uuid.UUID, percentage decimal.Decimal, notes *string, now time.Time) ([]HistoryEntry, error) {
	if managerID != n.ManagerID {
		return nil, ErrForbidden
	}
	if err := n.checkOpen(now); err != nil {
		return nil, err
	}
	if n.Status != StatusPending {
		return nil, ErrInvalidAction
	}
	if err := ValidatePercentage(percentage); err != nil {
		return nil, err
	}

	from := len(n.History)
	n.OfferedPercentage = percentage
	if notes != nil {
		n.ManagerNotes = notes
	}
	n.UpdatedAt = now
	n.appendHistory(now, ActionOfferUpdated, &percentage, notes, managerID, ActorRoleManager)
	return n.History[from:], nil
}

// AdminRespond applies an admin accept, reject or counter. It returns the
// history entries appended by the transition.
func (n *Negotiation) AdminRespond(in AdminResponse, now time.Time) ([]HistoryEntry, error) {
	if err := n.checkOpen(now); err != nil {
		return nil, err
	}
	if in.ValidUntil != nil && !in.ValidUntil.After(now) {
		return nil, ErrInvalidInput
	}

	from := len(n.History)
	switch in.Action {
	case ResponseAccept:
		final := n.OfferedPercentage
		n.accept(final, now)
		n.appendHistory(now, ActionAccept, &final, in.Notes, in.AdminID, ActorRoleAdmin)
	case ResponseReject:
		offered := n.OfferedPercentage
		n.Status = StatusRejected
		n.appendHistory(now, ActionReject, &offered, in.Notes, in.AdminID, ActorRoleAdmin)
	case ResponseCounter:
		if err := validateCounter(in.CounterPercentage); err != nil {
			return nil, err
		}
		counter := *in.CounterPercentage
		n.Status = StatusNegotiating
		n.CounterPercentage = &counter
		n.appendHistory(now, ActionCounter, &counter, in.Notes, in.AdminID, ActorRoleAdmin)
	default:
		return nil, ErrInvalidAction
	}

	adminID := in.AdminID
	n.AdminID = &adminID
	n.AdminNotes = in.Notes
	n.AdminRespondedAt = &now
	if in.ValidUntil != nil {
		n.ValidUntil = in.ValidUntil
	}
	n.UpdatedAt = now
	return n.History[from:], nil
}

// ManagerRespond applies the manager's answer to an admin counter.
func (n *Negotiation) ManagerRespond(in ManagerResponse, now time.Time) ([]HistoryEntry, error) {
	if in.ManagerID != n.ManagerID {
		return nil, ErrForbidden
	}
	if err := n.checkOpen(now); err != nil {
		return nil, err
	}
	if n.Status != StatusNegotiating || n.CounterPercentage == nil {
		return nil, ErrNoCounterToRespondTo
	}

	from := len(n.History)
	switch in.Action {
	case ResponseAccept:
		final := *n.CounterPercentage
		n.accept(final, now)
		n.appendHistory(now, ActionManagerAcceptCounter, &final, in.Notes, in.ManagerID, ActorRoleManager)
	case ResponseReject:
		counter := *n.CounterPercentage
		n.Status = StatusRejected
		n.appendHistory(now, ActionManagerRejectCounter, &counter, in.Notes, in.ManagerID, ActorRoleManager)
	case ResponseCounter:
		if err := validateCounter(in.CounterPercentage); err != nil {
			return nil, err
		}
		offered := *in.CounterPercentage
		n.Status = StatusPending
		n.OfferedPercentage = offered
		n.CounterPercentage = nil
		n.AdminID = nil
		n.AdminNotes = nil
		n.AdminRespondedAt = nil
		n.appendHistory(now, ActionManagerCounter, &offered, in.Notes, in.ManagerID, ActorRoleManager)
	default:
		return nil, ErrInvalidAction
	}

	if in.Notes != nil {
		n.ManagerNotes = in.Notes
	}
	n.UpdatedAt = now
	return n.History[from:], nil
}

// Deactivate soft-disables the record. Deactivating an inactive record is a no-op.
func (n *Negotiation) Deactivate(now time.Time) bool {
	if !n.IsActive {
		return false
	}
	n.IsActive = false
	n.DeactivatedAt = &now
	n.UpdatedAt = now
	return true
}

func (n *Negotiation) accept(final decimal.Decimal, now time.Time) {
	n.Status = StatusAccepted
	n.FinalPercentage = &final
	n.AcceptedAt = &now
	n.ValidFrom = &now
}

func (n *Negotiation) appendHistory(now time.Time, action Action, pct *decimal.Decimal, notes *string, actor uuid.UUID, role ActorRole) {
	n.History = append(n.History, HistoryEntry{
		Sequence:   len(n.History) + 1,
		Timestamp:  now,
		Action:     action,
		Percentage: pct,
		Notes:      notes,
		Actor:      actor,
		ActorRole:  role,
	})
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (n *Negotiation) Clone() *Negotiation {
	if n == nil {
		return nil
	}
	out := *n
	out.ServiceID = cloneUUID(n.ServiceID)
	out.CounterPercentage = cloneDecimal(n.CounterPercentage)
	out.FinalPercentage = cloneDecimal(n.FinalPercentage)
	out.ManagerNotes = cloneString(n.ManagerNotes)
	out.AdminID = cloneUUID(n.AdminID)
	out.AdminNotes = cloneString(n.AdminNotes)
	out.AdminRespondedAt = cloneTime(n.AdminRespondedAt)
	out.ValidFrom = cloneTime(n.ValidFrom)
	out.ValidUntil = cloneTime(n.ValidUntil)
	out.MinOrderValue = cloneDecimal(n.MinOrderValue)
	out.MaxOrderValue = cloneDecimal(n.MaxOrderValue)
	out.Condition = cloneString(n.Condition)
	out.AcceptedAt = cloneTime(n.AcceptedAt)
	out.DeactivatedAt = cloneTime(n.DeactivatedAt)
	if n.History != nil {
		out.History = make([]HistoryEntry, len(n.History))
		copy(out.History, n.History)
	}
	return &out
}

func cloneUUID(v *uuid.UUID) *uuid.UUID {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneDecimal(v *decimal.Decimal) *decimal.Decimal {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
