package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/commission-hub/internal/domain/negotiation"
	"github.com/execution-hub/commission-hub/internal/p2p/consensus"
	"github.com/execution-hub/commission-hub/internal/p2p/protocol"
	"github.com/execution-hub/commission-hub/internal/p2p/state"
)

// localNode applies txs straight to a machine, standing in for a single-node cluster.
type localNode struct {
	machine *state.Machine
	leader  bool
	joined  map[string]string
}

func newLocalNode() *localNode {
	return &localNode{machine: state.NewMachine(), leader: true, joined: map[string]string{}}
}

func (n *localNode) IsLeader() bool          { return n.leader }
func (n *localNode) Machine() *state.Machine { return n.machine }

func (n *localNode) Status(at time.Time) consensus.ClusterStatus {
	return consensus.ClusterStatus{
		NodeID:   "node-1",
		RaftAddr: "127.0.0.1:7000",
		State:    "Leader",
		Leader:   "127.0.0.1:7000",
		LeaderID: "node-1",
		IsLeader: n.leader,
		Peers:    []consensus.Peer{{NodeID: "node-1", RaftAddr: "127.0.0.1:7000"}},
		Ledger:   n.machine.StateStats(at),
	}
}

func (n *localNode) RemovePeer(context.Context, string) error {
	return consensus.ErrNotLeader
}

// ApplyTx mirrors the receipt the raft FSM builds for a committed entry.
func (n *localNode) ApplyTx(_ context.Context, tx protocol.Tx) (*consensus.Receipt, error) {
	if !n.leader {
		return nil, consensus.ErrNotLeader
	}
	duplicate := n.machine.HasApplied(tx.TxID)
	if err := n.machine.ApplyTx(tx); err != nil {
		return nil, err
	}
	receipt := &consensus.Receipt{TxID: tx.TxID, Op: tx.Op, NegotiationID: tx.NegotiationID, Duplicate: duplicate}
	if rec, ok := n.machine.GetNegotiation(tx.NegotiationID, tx.Timestamp); ok {
		receipt.Status, receipt.Version = rec.Status, rec.Version
	}
	return receipt, nil
}

func (n *localNode) AddVoter(_ context.Context, peer consensus.Peer) error {
	n.joined[peer.NodeID] = peer.RaftAddr
	return nil
}

type txSigner struct {
	priv ed25519.PrivateKey
	seq  int
}

func newSigner(t *testing.T) *txSigner {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return &txSigner{priv: priv}
}

func (s *txSigner) tx(t *testing.T, actor string, op protocol.Operation, negotiationID string, payload any) protocol.Tx {
	t.Helper()
	s.seq++
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	tx := protocol.Tx{
		TxID:          uuid.NewString(),
		NegotiationID: negotiationID,
		Nonce:         uuid.NewString(),
		Timestamp:     time.Now().UTC().Add(time.Duration(s.seq) * time.Millisecond),
		Actor:         actor,
		Op:            op,
		Payload:       raw,
	}
	require.NoError(t, tx.Sign(s.priv))
	return tx
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw)))
	return rec
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestSubmitTxAndQuery(t *testing.T) {
	node := newLocalNode()
	h := NewServer(node, zerolog.Nop()).Router()
	signer := newSigner(t)
	managerID := uuid.New()
	manager := protocol.FormatActor(negotiation.ActorRoleManager, managerID)
	admin := protocol.FormatActor(negotiation.ActorRoleAdmin, uuid.New())
	id := uuid.NewString()

	rec := post(t, h, "/v1/ledger/tx", signer.tx(t, manager, protocol.OpNegotiationCreate, id, protocol.NegotiationCreatePayload{
		NegotiationID: id,
		Percentage:    decimal.RequireFromString("15"),
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	accept := signer.tx(t, admin, protocol.OpAdminRespond, id, protocol.AdminRespondPayload{
		NegotiationID: id, ExpectedVersion: 0, Action: "accept",
	})
	rec = post(t, h, "/v1/ledger/tx", accept)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var applied struct {
		consensus.Receipt
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &applied))
	assert.Equal(t, "APPLIED", applied.Status)
	assert.Equal(t, negotiation.StatusAccepted, applied.Receipt.Status)
	assert.Equal(t, int64(1), applied.Version)

	rec = post(t, h, "/v1/ledger/tx", accept)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"DUPLICATE"`)

	rec = post(t, h, "/v1/ledger/tx", signer.tx(t, admin, protocol.OpAdminRespond, id, protocol.AdminRespondPayload{
		NegotiationID: id, ExpectedVersion: 0, Action: "reject",
	}))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "STALE_STATE")

	rec = get(t, h, "/v1/ledger/negotiations/"+id)
	require.Equal(t, http.StatusOK, rec.Code)
	var n negotiation.Negotiation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &n))
	assert.Equal(t, negotiation.StatusAccepted, n.Status)
	require.NotNil(t, n.FinalPercentage)
	assert.True(t, n.FinalPercentage.Equal(decimal.RequireFromString("15")))

	rec = get(t, h, "/v1/ledger/negotiations/"+id+"/events")
	require.Equal(t, http.StatusOK, rec.Code)
	var events struct {
		Events []state.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.Len(t, events.Events, 2)

	rec = get(t, h, "/v1/ledger/managers/"+managerID.String()+"/negotiations")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Negotiations []negotiation.Negotiation `json:"negotiations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed.Negotiations, 1)

	rec = get(t, h, "/v1/ledger/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats state.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Accepted)
	assert.Equal(t, 2, stats.AppliedTx)
}

func TestSubmitTxErrors(t *testing.T) {
	node := newLocalNode()
	h := NewServer(node, zerolog.Nop()).Router()
	signer := newSigner(t)
	id := uuid.NewString()
	admin := protocol.FormatActor(negotiation.ActorRoleAdmin, uuid.New())

	rec := post(t, h, "/v1/ledger/tx", signer.tx(t, admin, protocol.OpNegotiationCreate, id, protocol.NegotiationCreatePayload{
		NegotiationID: id, Percentage: decimal.RequireFromString("15"),
	}))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = post(t, h, "/v1/ledger/tx", signer.tx(t, admin, protocol.OpNegotiationDeactivate, id, protocol.DeactivatePayload{NegotiationID: id}))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = post(t, h, "/v1/ledger/tx", map[string]any{"unknown": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, h, "/v1/ledger/negotiations/"+id)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, h, "/v1/ledger/managers/not-a-uuid/negotiations")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	node.leader = false
	rec = post(t, h, "/v1/ledger/tx", signer.tx(t, admin, protocol.OpNegotiationDeactivate, id, protocol.DeactivatePayload{NegotiationID: id}))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_LEADER")
}

func TestRaftMembership(t *testing.T) {
	node := newLocalNode()
	h := NewServer(node, zerolog.Nop()).Router()

	rec := post(t, h, "/v1/ledger/raft/join", consensus.Peer{NodeID: "node-2", RaftAddr: "127.0.0.1:7001"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "127.0.0.1:7001", node.joined["node-2"])

	rec = post(t, h, "/v1/ledger/raft/remove", raftRemoveRequest{NodeID: "node-2"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = get(t, h, "/v1/ledger/raft")
	require.Equal(t, http.StatusOK, rec.Code)
	var status consensus.ClusterStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.IsLeader)
	assert.Equal(t, "node-1", status.LeaderID)
	assert.Len(t, status.Peers, 1)

	rec = get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}
