package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/execution-hub/commission-hub/internal/domain/negotiation"
	"github.com/execution-hub/commission-hub/internal/p2p/protocol"
)

const (
	EventCreated     = "NEGOTIATION_CREATED"
	EventOfferUpdate = "OFFER_UPDATED"
	EventAdmin       = "ADMIN_RESPONDED"
	EventManager     = "MANAGER_RESPONDED"
	EventDeactivated = "NEGOTIATION_DEACTIVATED"
	EventRetired     = "NEGOTIATION_RETIRED"
)

// Event is one committed change to a negotiation, in ledger order.
type Event struct {
	EventID       string          `json:"eventId"`
	NegotiationID string          `json:"negotiationId"`
	Type          string          `json:"type"`
	Actor         string          `json:"actor"`
	Status        string          `json:"status"`
	Version       int64           `json:"version"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	TxID          string          `json:"txId"`
}

type snapshot struct {
	Negotiations        map[string]*negotiation.Negotiation `json:"negotiations"`
	NegotiationsBySubj  map[string][]string                 `json:"negotiationsBySubject"`
	EventsByNegotiation map[string][]Event                  `json:"eventsByNegotiation"`
	AppliedTx           map[string]bool                     `json:"appliedTx"`
	Seq                 int64                               `json:"seq"`
}

// Machine is the deterministic negotiation ledger. Every transition runs
// through the negotiation state machine with the tx timestamp as the clock.
type Machine struct {
	mu sync.RWMutex
	s  snapshot
}

func NewMachine() *Machine {
	m := &Machine{}
	m.s = emptySnapshot()
	return m
}

func emptySnapshot() snapshot {
	return snapshot{
		Negotiations:        map[string]*negotiation.Negotiation{},
		NegotiationsBySubj:  map[string][]string{},
		EventsByNegotiation: map[string][]Event{},
		AppliedTx:           map[string]bool{},
	}
}

// Marshal serializes current machine snapshot.
func (m *Machine) Marshal() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return json.Marshal(m.s)
}

// Unmarshal restores machine state from snapshot payload.
func (m *Machine) Unmarshal(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty snapshot")
	}
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	normalizeSnapshot(&s)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
	return nil
}

func normalizeSnapshot(s *snapshot) {
	if s.Negotiations == nil {
		s.Negotiations = map[string]*negotiation.Negotiation{}
	}
	if s.EventsByNegotiation == nil {
		s.EventsByNegotiation = map[string][]Event{}
	}
	if s.AppliedTx == nil {
		s.AppliedTx = map[string]bool{}
	}
	// The subject index is derived; rebuild it in creation order.
	s.NegotiationsBySubj = map[string][]string{}
	ids := make([]string, 0, len(s.Negotiations))
	for id := range s.Negotiations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.Negotiations[ids[i]].ID < s.Negotiations[ids[j]].ID
	})
	for _, id := range ids {
		key := s.Negotiations[id].Subject().Key()
		s.NegotiationsBySubj[key] = append(s.NegotiationsBySubj[key], id)
	}
}

// ApplyTx validates and applies one signed transaction. Replayed tx ids are no-ops.
func (m *Machine) ApplyTx(tx protocol.Tx) error {
	if err := tx.Verify(); err != nil {
		return err
	}
	role, actorID, err := protocol.ParseActor(tx.Actor)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s.AppliedTx[tx.TxID] {
		return nil
	}
	at := tx.Timestamp.UTC()

	switch tx.Op {
	case protocol.OpNegotiationCreate:
		err = m.applyCreateLocked(tx, role, actorID, at)
	case protocol.OpOfferUpdate:
		err = m.applyOfferUpdateLocked(tx, role, actorID, at)
	case protocol.OpAdminRespond:
		err = m.applyAdminRespondLocked(tx, role, actorID, at)
	case protocol.OpManagerRespond:
		err = m.applyManagerRespondLocked(tx, role, actorID, at)
	case protocol.OpNegotiationDeactivate:
		err = m.applyDeactivateLocked(tx, role, at)
	default:
		err = fmt.Errorf("unsupported op: %s", tx.Op)
	}
	if err != nil {
		return err
	}
	m.s.AppliedTx[tx.TxID] = true
	return nil
}

func (m *Machine) applyCreateLocked(tx protocol.Tx, role negotiation.ActorRole, actorID uuid.UUID, at time.Time) error {
	if role != negotiation.ActorRoleManager {
		return negotiation.ErrForbidden
	}
	payload, err := protocol.DecodePayload[protocol.NegotiationCreatePayload](tx.Payload)
	if err != nil {
		return err
	}
	id, err := parseID(payload.NegotiationID)
	if err != nil {
		return err
	}
	if _, ok := m.s.Negotiations[id.String()]; ok {
		return fmt.Errorf("negotiation already exists: %s", id)
	}
	var serviceID *uuid.UUID
	if payload.ServiceID != nil {
		sid, err := parseID(*payload.ServiceID)
		if err != nil {
			return err
		}
		serviceID = &sid
	}

	n, err := negotiation.NewOffer(negotiation.OfferInput{
		Subject:       negotiation.Subject{ManagerID: actorID, ServiceID: serviceID},
		Percentage:    payload.Percentage,
		Notes:         payload.Notes,
		ValidUntil:    payload.ValidUntil,
		MinOrderValue: payload.MinOrderValue,
		MaxOrderValue: payload.MaxOrderValue,
		Condition:     payload.Condition,
	}, at)
	if err != nil {
		return err
	}
	n.NegotiationID = id

	key := n.Subject().Key()
	var lapsed []*negotiation.Negotiation
	for _, existingID := range m.s.NegotiationsBySubj[key] {
		existing := m.s.Negotiations[existingID]
		if !existing.IsActive || !existing.Status.IsLive() {
			continue
		}
		if existing.IsLive(at) {
			return negotiation.ErrConflictingOffer
		}
		lapsed = append(lapsed, existing)
	}
	for _, existing := range lapsed {
		next := existing.Clone()
		if next.Retire(at) {
			next.Version++
			m.s.Negotiations[next.NegotiationID.String()] = next
			m.appendEventLocked(next, EventRetired, tx.Actor, nil, at, tx.TxID)
		}
	}

	m.s.Seq++
	n.ID = m.s.Seq
	m.s.Negotiations[id.String()] = n
	m.s.NegotiationsBySubj[key] = append(m.s.NegotiationsBySubj[key], id.String())
	m.appendEventLocked(n, EventCreated, tx.Actor, tx.Payload, at, tx.TxID)
	return nil
}

func (m *Machine) applyOfferUpdateLocked(tx protocol.Tx, role negotiation.ActorRole, actorID uuid.UUID, at time.Time) error {
	if role != negotiation.ActorRoleManager {
		return negotiation.ErrForbidden
	}
	payload, err := protocol.DecodePayload[protocol.OfferUpdatePayload](tx.Payload)
	if err != nil {
		return err
	}
	return m.mutateLocked(payload.NegotiationID, payload.ExpectedVersion, func(n *negotiation.Negotiation) error {
		_, err := n.UpdateOffer(actorID, payload.Percentage, payload.Notes, at)
		return err
	}, EventOfferUpdate, tx, at)
}

func (m *Machine) applyAdminRespondLocked(tx protocol.Tx, role negotiation.ActorRole, actorID uuid.UUID, at time.Time) error {
	if role != negotiation.ActorRoleAdmin {
		return negotiation.ErrForbidden
	}
	payload, err := protocol.DecodePayload[protocol.AdminRespondPayload](tx.Payload)
	if err != nil {
		return err
	}
	action, err := negotiation.ParseResponse(strings.ToLower(strings.TrimSpace(payload.Action)))
	if err != nil {
		return err
	}
	return m.mutateLocked(payload.NegotiationID, payload.ExpectedVersion, func(n *negotiation.Negotiation) error {
		_, err := n.AdminRespond(negotiation.AdminResponse{
			AdminID:           actorID,
			Action:            action,
			CounterPercentage: payload.CounterPercentage,
			Notes:             payload.Notes,
			ValidUntil:        payload.ValidUntil,
		}, at)
		return err
	}, EventAdmin, tx, at)
}

func (m *Machine) applyManagerRespondLocked(tx protocol.Tx, role negotiation.ActorRole, actorID uuid.UUID, at time.Time) error {
	if role != negotiation.ActorRoleManager {
		return negotiation.ErrForbidden
	}
	payload, err := protocol.DecodePayload[protocol.ManagerRespondPayload](tx.Payload)
	if err != nil {
		return err
	}
	action, err := negotiation.ParseResponse(strings.ToLower(strings.TrimSpace(payload.Action)))
	if err != nil {
		return err
	}
	return m.mutateLocked(payload.NegotiationID, payload.ExpectedVersion, func(n *negotiation.Negotiation) error {
		_, err := n.ManagerRespond(negotiation.ManagerResponse{
			ManagerID:         actorID,
			Action:            action,
			CounterPercentage: payload.CounterPercentage,
			Notes:             payload.Notes,
		}, at)
		return err
	}, EventManager, tx, at)
}

func (m *Machine) applyDeactivateLocked(tx protocol.Tx, role negotiation.ActorRole, at time.Time) error {
	if role != negotiation.ActorRoleAdmin {
		return negotiation.ErrForbidden
	}
	payload, err := protocol.DecodePayload[protocol.DeactivatePayload](tx.Payload)
	if err != nil {
		return err
	}
	return m.mutateLocked(payload.NegotiationID, payload.ExpectedVersion, func(n *negotiation.Negotiation) error {
		if !n.Deactivate(at) {
			return errors.New("negotiation already inactive")
		}
		return nil
	}, EventDeactivated, tx, at)
}

// mutateLocked applies fn to a copy of the record and commits it only when
// expectedVersion matches and fn succeeds.
func (m *Machine) mutateLocked(rawID string, expectedVersion int64, fn func(n *negotiation.Negotiation) error, eventType string, tx protocol.Tx, at time.Time) error {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	if tx.NegotiationID != "" && !strings.EqualFold(strings.TrimSpace(tx.NegotiationID), id.String()) {
		return errors.New("tx negotiation_id does not match payload")
	}
	current, ok := m.s.Negotiations[id.String()]
	if !ok {
		return fmt.Errorf("negotiation %s: %w", id, negotiation.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return negotiation.ErrStaleState
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return err
	}
	next.Version = expectedVersion + 1
	m.s.Negotiations[id.String()] = next
	m.appendEventLocked(next, eventType, tx.Actor, tx.Payload, at, tx.TxID)
	return nil
}

func (m *Machine) appendEventLocked(n *negotiation.Negotiation, eventType, actor string, payload json.RawMessage, at time.Time, txID string) {
	id := n.NegotiationID.String()
	events := m.s.EventsByNegotiation[id]
	m.s.EventsByNegotiation[id] = append(events, Event{
		EventID:       fmt.Sprintf("%s:%d", txID, len(events)+1),
		NegotiationID: id,
		Type:          eventType,
		Actor:         actor,
		Status:        string(n.Status),
		Version:       n.Version,
		Payload:       payload,
		CreatedAt:     at,
		TxID:          txID,
	})
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: invalid id %q", negotiation.ErrInvalidInput, raw)
	}
	return id, nil
}

// HasApplied reports whether txID has already been committed.
func (m *Machine) HasApplied(txID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.AppliedTx[txID]
}

// GetNegotiation returns a copy of the record with lazy expiry applied at at.
func (m *Machine) GetNegotiation(negotiationID string, at time.Time) (*negotiation.Negotiation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.s.Negotiations[strings.TrimSpace(negotiationID)]
	if !ok {
		return nil, false
	}
	out := n.Clone()
	out.ApplyExpiry(at)
	return out, true
}

// ListBySubject returns the manager's records for a subject, oldest first.
func (m *Machine) ListBySubject(subject negotiation.Subject, at time.Time, limit, offset int) []*negotiation.Negotiation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.s.NegotiationsBySubj[subject.Key()]
	start, end := pageWindow(len(ids), limit, offset)
	out := make([]*negotiation.Negotiation, 0, end-start)
	for _, id := range ids[start:end] {
		n := m.s.Negotiations[id].Clone()
		n.ApplyExpiry(at)
		out = append(out, n)
	}
	return out
}

// ListEvents returns a negotiation's events, newest first.
func (m *Machine) ListEvents(negotiationID string, limit, offset int) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := append([]Event(nil), m.s.EventsByNegotiation[strings.TrimSpace(negotiationID)]...)
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	start, end := pageWindow(len(items), limit, offset)
	return append([]Event(nil), items[start:end]...)
}

func pageWindow(total, limit, offset int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	if limit <= 0 {
		limit = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return offset, end
}

type Stats struct {
	Negotiations int `json:"negotiations"`
	Pending      int `json:"pending"`
	Negotiating  int `json:"negotiating"`
	Accepted     int `json:"accepted"`
	Rejected     int `json:"rejected"`
	Expired      int `json:"expired"`
	Inactive     int `json:"inactive"`
	Events       int `json:"events"`
	AppliedTx    int `json:"appliedTx"`
}

func (m *Machine) StateStats(at time.Time) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := Stats{
		Negotiations: len(m.s.Negotiations),
		AppliedTx:    len(m.s.AppliedTx),
	}
	for _, n := range m.s.Negotiations {
		if !n.IsActive {
			stats.Inactive++
		}
		switch n.EffectiveStatus(at) {
		case negotiation.StatusPending:
			stats.Pending++
		case negotiation.StatusNegotiating:
			stats.Negotiating++
		case negotiation.StatusAccepted:
			stats.Accepted++
		case negotiation.StatusRejected:
			stats.Rejected++
		case negotiation.StatusExpired:
			stats.Expired++
		}
	}
	for _, events := range m.s.EventsByNegotiation {
		stats.Events += len(events)
	}
	return stats
}
