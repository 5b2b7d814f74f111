package state

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/execution-hub/commission-hub/internal/domain/negotiation"
	"github.com/execution-hub/commission-hub/internal/p2p/protocol"
)

func TestMachineEndToEnd(t *testing.T) {
	m := NewMachine()
	_, priv := mustKey(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	manager := protocol.FormatActor(negotiation.ActorRoleManager, uuid.New())
	admin := protocol.FormatActor(negotiation.ActorRoleAdmin, uuid.New())
	serviceID := uuid.NewString()
	id := uuid.NewString()

	mustApply(t, m, signedTx(t, priv, "tx-001", id, manager, base,
		protocol.OpNegotiationCreate, protocol.NegotiationCreatePayload{
			NegotiationID: id,
			ServiceID:     ptr(serviceID),
			Percentage:    dec("15"),
			Notes:         ptr("launch pricing"),
		}))
	mustApply(t, m, signedTx(t, priv, "tx-002", id, manager, base.Add(time.Second),
		protocol.OpOfferUpdate, protocol.OfferUpdatePayload{NegotiationID: id, ExpectedVersion: 0, Percentage: dec("14")}))
	mustApply(t, m, signedTx(t, priv, "tx-003", id, admin, base.Add(2*time.Second),
		protocol.OpAdminRespond, protocol.AdminRespondPayload{NegotiationID: id, ExpectedVersion: 1, Action: "counter", CounterPercentage: ptr(dec("10"))}))
	mustApply(t, m, signedTx(t, priv, "tx-004", id, manager, base.Add(3*time.Second),
		protocol.OpManagerRespond, protocol.ManagerRespondPayload{NegotiationID: id, ExpectedVersion: 2, Action: "accept"}))

	n, ok := m.GetNegotiation(id, base.Add(4*time.Second))
	if !ok {
		t.Fatalf("negotiation not found")
	}
	if n.Status != negotiation.StatusAccepted {
		t.Fatalf("expected accepted, got %s", n.Status)
	}
	if n.FinalPercentage == nil || !n.FinalPercentage.Equal(dec("10")) {
		t.Fatalf("expected final 10, got %v", n.FinalPercentage)
	}
	if n.Version != 3 {
		t.Fatalf("expected version 3, got %d", n.Version)
	}
	if len(n.History) != 4 {
		t.Fatalf("expected 4 history entries, got %d", len(n.History))
	}

	events := m.ListEvents(id, 100, 0)
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	if events[0].Type != EventManager || events[3].Type != EventCreated {
		t.Fatalf("expected newest-first events, got %s..%s", events[0].Type, events[3].Type)
	}

	mustApply(t, m, signedTx(t, priv, "tx-005", id, admin, base.Add(5*time.Second),
		protocol.OpNegotiationDeactivate, protocol.DeactivatePayload{NegotiationID: id, ExpectedVersion: 3, Reason: "contract ended"}))
	n, _ = m.GetNegotiation(id, base.Add(6*time.Second))
	if n.IsActive {
		t.Fatalf("expected inactive after deactivate")
	}

	stats := m.StateStats(base.Add(6 * time.Second))
	if stats.Negotiations != 1 || stats.Accepted != 1 || stats.Inactive != 1 || stats.AppliedTx != 5 || stats.Events != 5 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestMachineRejectsStaleVersion(t *testing.T) {
	m := NewMachine()
	_, priv := mustKey(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	manager := protocol.FormatActor(negotiation.ActorRoleManager, uuid.New())
	admin := protocol.FormatActor(negotiation.ActorRoleAdmin, uuid.New())
	id := uuid.NewString()

	mustApply(t, m, signedTx(t, priv, "tx-001", id, manager, base,
		protocol.OpNegotiationCreate, protocol.NegotiationCreatePayload{NegotiationID: id, Percentage: dec("12")}))
	mustApply(t, m, signedTx(t, priv, "tx-002", id, admin, base.Add(time.Second),
		protocol.OpAdminRespond, protocol.AdminRespondPayload{NegotiationID: id, ExpectedVersion: 0, Action: "reject"}))

	err := m.ApplyTx(signedTx(t, priv, "tx-003", id, admin, base.Add(2*time.Second),
		protocol.OpAdminRespond, protocol.AdminRespondPayload{NegotiationID: id, ExpectedVersion: 0, Action: "accept"}))
	if !errors.Is(err, negotiation.ErrStaleState) {
		t.Fatalf("expected stale state, got %v", err)
	}

	err = m.ApplyTx(signedTx(t, priv, "tx-004", id, admin, base.Add(3*time.Second),
		protocol.OpAdminRespond, protocol.AdminRespondPayload{NegotiationID: id, ExpectedVersion: 1, Action: "accept"}))
	if !errors.Is(err, negotiation.ErrAlreadyFinalized) {
		t.Fatalf("expected already finalized, got %v", err)
	}

	n, _ := m.GetNegotiation(id, base.Add(4*time.Second))
	if n.Status != negotiation.StatusRejected || n.Version != 1 {
		t.Fatalf("failed tx must not change state: %s v%d", n.Status, n.Version)
	}
}

func TestMachineEnforcesRoles(t *testing.T) {
	m := NewMachine()
	_, priv := mustKey(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	managerID := uuid.New()
	manager := protocol.FormatActor(negotiation.ActorRoleManager, managerID)
	other := protocol.FormatActor(negotiation.ActorRoleManager, uuid.New())
	admin := protocol.FormatActor(negotiation.ActorRoleAdmin, uuid.New())
	id := uuid.NewString()

	err := m.ApplyTx(signedTx(t, priv, "tx-000", id, admin, base,
		protocol.OpNegotiationCreate, protocol.NegotiationCreatePayload{NegotiationID: id, Percentage: dec("12")}))
	if !errors.Is(err, negotiation.ErrForbidden) {
		t.Fatalf("expected admin create to be forbidden, got %v", err)
	}

	mustApply(t, m, signedTx(t, priv, "tx-001", id, manager, base,
		protocol.OpNegotiationCreate, protocol.NegotiationCreatePayload{NegotiationID: id, Percentage: dec("12")}))

	err = m.ApplyTx(signedTx(t, priv, "tx-002", id, other, base.Add(time.Second),
		protocol.OpOfferUpdate, protocol.OfferUpdatePayload{NegotiationID: id, Percentage: dec("11")}))
	if !errors.Is(err, negotiation.ErrForbidden) {
		t.Fatalf("expected foreign manager update to be forbidden, got %v", err)
	}

	err = m.ApplyTx(signedTx(t, priv, "tx-003", id, manager, base.Add(time.Second),
		protocol.OpAdminRespond, protocol.AdminRespondPayload{NegotiationID: id, Action: "accept"}))
	if !errors.Is(err, negotiation.ErrForbidden) {
		t.Fatalf("expected manager admin-respond to be forbidden, got %v", err)
	}

	err = m.ApplyTx(signedTx(t, priv, "tx-004", id, manager, base.Add(time.Second),
		protocol.OpNegotiationDeactivate, protocol.DeactivatePayload{NegotiationID: id}))
	if !errors.Is(err, negotiation.ErrForbidden) {
		t.Fatalf("expected manager deactivate to be forbidden, got %v", err)
	}
}

func TestMachineConflictAndRetire(t *testing.T) {
	m := NewMachine()
	_, priv := mustKey(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	manager := protocol.FormatActor(negotiation.ActorRoleManager, uuid.New())
	first := uuid.NewString()
	second := uuid.NewString()
	third := uuid.NewString()
	until := base.Add(time.Hour)

	mustApply(t, m, signedTx(t, priv, "tx-001", first, manager, base,
		protocol.OpNegotiationCreate, protocol.NegotiationCreatePayload{NegotiationID: first, Percentage: dec("12"), ValidUntil: &until}))

	err := m.ApplyTx(signedTx(t, priv, "tx-002", second, manager, base.Add(time.Minute),
		protocol.OpNegotiationCreate, protocol.NegotiationCreatePayload{NegotiationID: second, Percentage: dec("13")}))
	if !errors.Is(err, negotiation.ErrConflictingOffer) {
		t.Fatalf("expected conflicting offer, got %v", err)
	}

	mustApply(t, m, signedTx(t, priv, "tx-003", third, manager, base.Add(2*time.Hour),
		protocol.OpNegotiationCreate, protocol.NegotiationCreatePayload{NegotiationID: third, Percentage: dec("13")}))

	old, _ := m.GetNegotiation(first, base.Add(2*time.Hour))
	if old.Status != negotiation.StatusExpired || old.Version != 1 {
		t.Fatalf("expected lapsed offer retired as expired v1, got %s v%d", old.Status, old.Version)
	}
	if got := m.ListEvents(first, 10, 0); len(got) != 2 || got[0].Type != EventRetired {
		t.Fatalf("expected retire event, got %+v", got)
	}
	subject, _ := m.GetNegotiation(third, base.Add(2*time.Hour))
	if got := m.ListBySubject(subject.Subject(), base.Add(2*time.Hour), 10, 0); len(got) != 2 {
		t.Fatalf("expected two records for subject, got %d", len(got))
	}
}

func TestMachineDuplicateTxIsNoop(t *testing.T) {
	m := NewMachine()
	_, priv := mustKey(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	manager := protocol.FormatActor(negotiation.ActorRoleManager, uuid.New())
	id := uuid.NewString()

	tx := signedTx(t, priv, "tx-001", id, manager, base,
		protocol.OpNegotiationCreate, protocol.NegotiationCreatePayload{NegotiationID: id, Percentage: dec("12")})
	mustApply(t, m, tx)
	mustApply(t, m, tx)

	if got := m.ListEvents(id, 10, 0); len(got) != 1 {
		t.Fatalf("expected one event after replay, got %d", len(got))
	}
}

func TestMachineRejectsBadSignature(t *testing.T) {
	m := NewMachine()
	_, priv := mustKey(t)
	id := uuid.NewString()
	tx := signedTx(t, priv, "tx-001", id, protocol.FormatActor(negotiation.ActorRoleManager, uuid.New()), time.Now().UTC(),
		protocol.OpNegotiationCreate, protocol.NegotiationCreatePayload{NegotiationID: id, Percentage: dec("12")})
	tx.Payload = rawJSON(`{"negotiation_id":"` + id + `","percentage":"99"}`)
	if err := m.ApplyTx(tx); err == nil {
		t.Fatalf("expected signature failure")
	}
}

func TestMachineSnapshotRoundTrip(t *testing.T) {
	m := NewMachine()
	_, priv := mustKey(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	manager := protocol.FormatActor(negotiation.ActorRoleManager, uuid.New())
	id := uuid.NewString()

	mustApply(t, m, signedTx(t, priv, "tx-001", id, manager, base,
		protocol.OpNegotiationCreate, protocol.NegotiationCreatePayload{NegotiationID: id, Percentage: dec("12")}))

	raw, err := m.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored := NewMachine()
	if err := restored.Unmarshal(raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	n, ok := restored.GetNegotiation(id, base)
	if !ok || !n.OfferedPercentage.Equal(dec("12")) {
		t.Fatalf("restored negotiation mismatch: %+v", n)
	}

	second := uuid.NewString()
	err = restored.ApplyTx(signedTx(t, priv, "tx-002", second, manager, base.Add(time.Second),
		protocol.OpNegotiationCreate, protocol.NegotiationCreatePayload{NegotiationID: second, Percentage: dec("13")}))
	if !errors.Is(err, negotiation.ErrConflictingOffer) {
		t.Fatalf("expected subject index rebuilt after restore, got %v", err)
	}
	if err := restored.Unmarshal(nil); err == nil {
		t.Fatalf("expected error for empty snapshot")
	}
}

func mustKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func rawJSON(s string) json.RawMessage {
	return json.RawMessage([]byte(s))
}

func ptr[T any](v T) *T {
	return &v
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustApply(t *testing.T, m *Machine, tx protocol.Tx) {
	t.Helper()
	if err := m.ApplyTx(tx); err != nil {
		t.Fatalf("apply tx %s: %v", tx.TxID, err)
	}
}

func signedTx(t *testing.T, priv ed25519.PrivateKey, txID, negotiationID, actor string, at time.Time, op protocol.Operation, payload any) protocol.Tx {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	tx := protocol.Tx{
		TxID:          txID,
		NegotiationID: negotiationID,
		Nonce:         txID,
		Timestamp:     at,
		Actor:         actor,
		Op:            op,
		Payload:       raw,
	}
	if err := tx.Sign(priv); err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	return tx
}
