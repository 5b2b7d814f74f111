package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/execution-hub/commission-hub/internal/domain/negotiation"
	"github.com/execution-hub/commission-hub/internal/p2p/consensus"
	"github.com/execution-hub/commission-hub/internal/p2p/protocol"
	"github.com/execution-hub/commission-hub/internal/p2p/state"
)

// Node is the consensus surface the ledger API needs. *consensus.Node satisfies it.
type Node interface {
	Status(at time.Time) consensus.ClusterStatus
	IsLeader() bool
	Machine() *state.Machine
	ApplyTx(ctx context.Context, tx protocol.Tx) (*consensus.Receipt, error)
	AddVoter(ctx context.Context, peer consensus.Peer) error
	RemovePeer(ctx context.Context, nodeID string) error
}

// Server provides HTTP endpoints for a ledger node.
type Server struct {
	node   Node
	logger zerolog.Logger
	now    func() time.Time
}

func NewServer(node Node, logger zerolog.Logger) *Server {
	return &Server{
		node:   node,
		logger: logger.With().Str("component", "ledger-api").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Route("/v1/ledger", func(r chi.Router) {
		r.Post("/tx", s.submitTx)
		r.Get("/stats", s.stateStats)
		r.Get("/raft", s.raftStatus)
		r.Post("/raft/join", s.raftJoin)
		r.Post("/raft/remove", s.raftRemove)

		r.Get("/negotiations/{negotiationId}", s.getNegotiation)
		r.Get("/negotiations/{negotiationId}/events", s.listEvents)
		r.Get("/managers/{managerId}/negotiations", s.listBySubject)
	})

	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	st := s.node.Status(s.now())
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"nodeId":   st.NodeID,
		"state":    st.State,
		"leader":   st.Leader,
		"leaderId": st.LeaderID,
	})
}

// notLeader points the caller at the current leader.
func (s *Server) notLeader(w http.ResponseWriter, message string) {
	st := s.node.Status(s.now())
	respondError(w, http.StatusConflict, "NOT_LEADER", message, map[string]any{
		"leader":    st.Leader,
		"leader_id": st.LeaderID,
	})
}

func (s *Server) submitTx(w http.ResponseWriter, r *http.Request) {
	if !s.node.IsLeader() {
		s.notLeader(w, "submit to leader")
		return
	}
	var tx protocol.Tx
	if err := decodeBody(r, &tx); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error(), nil)
		return
	}
	receipt, err := s.node.ApplyTx(r.Context(), tx)
	if err != nil {
		if errors.Is(err, consensus.ErrNotLeader) {
			s.notLeader(w, err.Error())
			return
		}
		status, code := txErrorCode(err)
		s.logger.Debug().Err(err).Str("tx_id", tx.TxID).Str("op", string(tx.Op)).Msg("tx rejected")
		respondError(w, status, code, err.Error(), nil)
		return
	}
	status := "APPLIED"
	if receipt.Duplicate {
		status = "DUPLICATE"
	}
	respondJSON(w, http.StatusOK, txResponse{Receipt: receipt, Status: status})
}

type txResponse struct {
	*consensus.Receipt
	Status string `json:"status"`
}

func txErrorCode(err error) (int, string) {
	switch {
	case errors.Is(err, negotiation.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, negotiation.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, negotiation.ErrStaleState):
		return http.StatusConflict, "STALE_STATE"
	case errors.Is(err, negotiation.ErrConflictingOffer):
		return http.StatusConflict, "CONFLICTING_OFFER"
	case errors.Is(err, negotiation.ErrAlreadyFinalized):
		return http.StatusConflict, "ALREADY_FINALIZED"
	case errors.Is(err, negotiation.ErrNoCounterToRespondTo):
		return http.StatusConflict, "NO_COUNTER_TO_RESPOND_TO"
	case errors.Is(err, negotiation.ErrInvalidPercentage):
		return http.StatusBadRequest, "INVALID_PERCENTAGE"
	case errors.Is(err, negotiation.ErrInvalidAction):
		return http.StatusBadRequest, "INVALID_ACTION"
	}
	return http.StatusBadRequest, "TX_REJECTED"
}

func (s *Server) getNegotiation(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "negotiationId"))
	n, ok := s.node.Machine().GetNegotiation(id, s.now())
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "negotiation not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "negotiationId"))
	if _, ok := s.node.Machine().GetNegotiation(id, s.now()); !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "negotiation not found", nil)
		return
	}
	limit, offset := parseLimitOffset(r, 100, 500)
	events := s.node.Machine().ListEvents(id, limit, offset)
	respondJSON(w, http.StatusOK, map[string]any{
		"negotiation_id": id,
		"events":         events,
	})
}

func (s *Server) listBySubject(w http.ResponseWriter, r *http.Request) {
	managerID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "managerId")))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid managerId", nil)
		return
	}
	subject := negotiation.Subject{ManagerID: managerID}
	if raw := strings.TrimSpace(r.URL.Query().Get("service_id")); raw != "" {
		serviceID, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid service_id", nil)
			return
		}
		subject.ServiceID = &serviceID
	}
	limit, offset := parseLimitOffset(r, 100, 500)
	items := s.node.Machine().ListBySubject(subject, s.now(), limit, offset)
	respondJSON(w, http.StatusOK, map[string]any{
		"subject":      subject.Key(),
		"negotiations": items,
	})
}

func (s *Server) stateStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.node.Machine().StateStats(s.now()))
}

func (s *Server) raftStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.node.Status(s.now()))
}

func (s *Server) raftJoin(w http.ResponseWriter, r *http.Request) {
	if !s.node.IsLeader() {
		s.notLeader(w, "submit to leader")
		return
	}
	var req consensus.Peer
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error(), nil)
		return
	}
	if err := s.node.AddVoter(r.Context(), req); err != nil {
		if errors.Is(err, consensus.ErrNotLeader) {
			s.notLeader(w, err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "JOIN_FAILED", err.Error(), nil)
		return
	}
	s.logger.Info().Str("peer_id", req.NodeID).Str("peer_addr", req.RaftAddr).Msg("peer joined")
	respondJSON(w, http.StatusOK, map[string]any{"status": "OK"})
}

type raftRemoveRequest struct {
	NodeID string `json:"node_id"`
}

func (s *Server) raftRemove(w http.ResponseWriter, r *http.Request) {
	if !s.node.IsLeader() {
		s.notLeader(w, "submit to leader")
		return
	}
	var req raftRemoveRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error(), nil)
		return
	}
	if err := s.node.RemovePeer(r.Context(), req.NodeID); err != nil {
		if errors.Is(err, consensus.ErrNotLeader) {
			s.notLeader(w, err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "REMOVE_FAILED", err.Error(), nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "OK"})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			offset = parsed
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, message string, extra map[string]any) {
	out := map[string]any{
		"error":   code,
		"message": message,
	}
	for k, v := range extra {
		out[k] = v
	}
	respondJSON(w, status, out)
}
