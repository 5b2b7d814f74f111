package consensus

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/raft"

	"github.com/execution-hub/commission-hub/internal/p2p/state"
)

// Peer is one voting member of the ledger cluster.
type Peer struct {
	NodeID   string `json:"node_id"`
	RaftAddr string `json:"raft_addr"`
}

func (p Peer) normalized() (Peer, error) {
	p.NodeID = strings.TrimSpace(p.NodeID)
	p.RaftAddr = strings.TrimSpace(p.RaftAddr)
	if p.NodeID == "" || p.RaftAddr == "" {
		return p, ErrInvalidPeer
	}
	return p, nil
}

// ClusterStatus is one node's view of the cluster and of its ledger copy.
type ClusterStatus struct {
	NodeID       string            `json:"node_id"`
	RaftAddr     string            `json:"raft_addr"`
	State        string            `json:"state"`
	Leader       string            `json:"leader"`
	LeaderID     string            `json:"leader_id"`
	IsLeader     bool              `json:"is_leader"`
	AppliedIndex uint64            `json:"applied_index"`
	Peers        []Peer            `json:"peers"`
	Ledger       state.Stats       `json:"ledger"`
	Raft         map[string]string `json:"raft_stats,omitempty"`
}

func (n *Node) Machine() *state.Machine { return n.ledger.machine }

func (n *Node) IsLeader() bool { return n.raft.State() == raft.Leader }

func (n *Node) leaderAddr() string { return strings.TrimSpace(string(n.raft.Leader())) }

// Status reports the cluster and the ledger with lazy expiry applied at at.
func (n *Node) Status(at time.Time) ClusterStatus {
	addr, id := n.raft.LeaderWithID()
	peers, err := n.Peers()
	if err != nil {
		n.logger.Warn().Err(err).Msg("read raft configuration")
	}
	return ClusterStatus{
		NodeID:       n.cfg.NodeID,
		RaftAddr:     n.cfg.RaftAddr,
		State:        n.raft.State().String(),
		Leader:       strings.TrimSpace(string(addr)),
		LeaderID:     strings.TrimSpace(string(id)),
		IsLeader:     n.IsLeader(),
		AppliedIndex: n.raft.AppliedIndex(),
		Peers:        peers,
		Ledger:       n.ledger.machine.StateStats(at),
		Raft:         n.raft.Stats(),
	}
}

// Peers lists the voters of the current raft configuration.
func (n *Node) Peers() ([]Peer, error) {
	future := n.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, err
	}
	servers := future.Configuration().Servers
	out := make([]Peer, 0, len(servers))
	for _, srv := range servers {
		out = append(out, Peer{NodeID: string(srv.ID), RaftAddr: string(srv.Address)})
	}
	return out, nil
}

// AddVoter admits peer. A member that reuses its id or address under a
// different pairing is removed first; an identical member is a no-op.
func (n *Node) AddVoter(ctx context.Context, peer Peer) error {
	peer, err := peer.normalized()
	if err != nil {
		return err
	}
	if !n.IsLeader() {
		return ErrNotLeader
	}
	timeout := membershipTimeout(ctx)
	current, err := n.Peers()
	if err != nil {
		return err
	}
	for _, p := range current {
		if p == peer {
			return nil
		}
		if p.NodeID == peer.NodeID || p.RaftAddr == peer.RaftAddr {
			if err := n.raft.RemoveServer(raft.ServerID(p.NodeID), 0, timeout).Error(); err != nil {
				return leadershipErr(err)
			}
		}
	}
	if err := n.raft.AddVoter(raft.ServerID(peer.NodeID), raft.ServerAddress(peer.RaftAddr), 0, timeout).Error(); err != nil {
		return leadershipErr(err)
	}
	n.logger.Info().Str("peer_id", peer.NodeID).Str("peer_addr", peer.RaftAddr).Msg("voter added")
	return nil
}

// RemovePeer drops one member by node id.
func (n *Node) RemovePeer(ctx context.Context, nodeID string) error {
	nodeID = strings.TrimSpace(nodeID)
	if nodeID == "" {
		return ErrInvalidPeer
	}
	if !n.IsLeader() {
		return ErrNotLeader
	}
	if err := n.raft.RemoveServer(raft.ServerID(nodeID), 0, membershipTimeout(ctx)).Error(); err != nil {
		return leadershipErr(err)
	}
	n.logger.Info().Str("peer_id", nodeID).Msg("peer removed")
	return nil
}

func membershipTimeout(ctx context.Context) time.Duration {
	timeout, err := boundedTimeout(ctx, 10*time.Second)
	if err != nil {
		return time.Millisecond
	}
	return timeout
}
