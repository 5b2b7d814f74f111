package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
	"github.com/rs/zerolog"

	"github.com/execution-hub/commission-hub/internal/p2p/protocol"
	"github.com/execution-hub/commission-hub/internal/p2p/state"
)

var (
	// ErrNotLeader is returned for writes on a follower; retry on the leader.
	ErrNotLeader   = errors.New("ledger node is not the leader")
	ErrInvalidPeer = errors.New("peer requires node_id and raft_addr")
)

// Config describes one ledger node.
type Config struct {
	NodeID         string
	RaftAddr       string
	DataDir        string
	Bootstrap      bool
	SnapshotRetain int
	ApplyTimeout   time.Duration
	Logger         zerolog.Logger
}

func (c Config) normalized() (Config, error) {
	c.NodeID = strings.TrimSpace(c.NodeID)
	c.RaftAddr = strings.TrimSpace(c.RaftAddr)
	c.DataDir = strings.TrimSpace(c.DataDir)
	switch {
	case c.NodeID == "":
		return c, errors.New("node_id is required")
	case c.RaftAddr == "":
		return c, errors.New("raft_addr is required")
	case c.DataDir == "":
		return c, errors.New("data_dir is required")
	}
	if c.SnapshotRetain <= 0 {
		c.SnapshotRetain = 2
	}
	if c.ApplyTimeout <= 0 {
		c.ApplyTimeout = 5 * time.Second
	}
	return c, nil
}

// Node replicates signed negotiation txs through raft into a ledger machine.
type Node struct {
	cfg       Config
	logger    zerolog.Logger
	raft      *raft.Raft
	transport *raft.NetworkTransport
	ledger    *ledgerFSM
}

type stores struct {
	log       *raftboltdb.BoltStore
	stable    *raftboltdb.BoltStore
	snapshots raft.SnapshotStore
}

// openStores keeps the raft log, stable store and snapshots under DataDir.
// zerolog is the writer for raft's own output.
func openStores(cfg Config, logger zerolog.Logger) (*stores, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.bolt"))
	if err != nil {
		return nil, fmt.Errorf("open raft log: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.bolt"))
	if err != nil {
		return nil, fmt.Errorf("open raft stable store: %w", err)
	}
	snapshots, err := raft.NewFileSnapshotStore(cfg.DataDir, cfg.SnapshotRetain, logger)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	return &stores{log: logStore, stable: stableStore, snapshots: snapshots}, nil
}

// NewNode opens the node's stores and starts raft. With Bootstrap set and no
// prior state, the node forms a single-voter cluster.
func NewNode(cfg Config) (*Node, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger.With().Str("component", "ledger-raft").Str("node_id", cfg.NodeID).Logger()

	st, err := openStores(cfg, logger)
	if err != nil {
		return nil, err
	}
	transport, err := raft.NewTCPTransport(cfg.RaftAddr, nil, 3, 10*time.Second, logger)
	if err != nil {
		return nil, err
	}

	ledger := &ledgerFSM{machine: state.NewMachine(), logger: logger}
	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.LogOutput = logger
	r, err := raft.NewRaft(raftCfg, ledger, st.log, st.stable, st.snapshots, transport)
	if err != nil {
		return nil, err
	}

	n := &Node{cfg: cfg, logger: logger, raft: r, transport: transport, ledger: ledger}
	if cfg.Bootstrap {
		if err := n.bootstrap(st); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (n *Node) bootstrap(st *stores) error {
	hasState, err := raft.HasExistingState(st.log, st.stable, st.snapshots)
	if err != nil || hasState {
		return err
	}
	self := raft.Server{ID: raft.ServerID(n.cfg.NodeID), Address: raft.ServerAddress(n.cfg.RaftAddr)}
	err = n.raft.BootstrapCluster(raft.Configuration{Servers: []raft.Server{self}}).Error()
	if err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
		return err
	}
	n.logger.Info().Str("raft_addr", n.cfg.RaftAddr).Msg("bootstrapped ledger cluster")
	return nil
}

// ApplyTx replicates tx and returns the ledger's receipt. A ledger rejection
// is returned as the error, e.g. negotiation.ErrStaleState for an outdated
// expected_version.
func (n *Node) ApplyTx(ctx context.Context, tx protocol.Tx) (*Receipt, error) {
	if err := tx.Verify(); err != nil {
		return nil, err
	}
	if !n.IsLeader() {
		return nil, ErrNotLeader
	}
	timeout, err := boundedTimeout(ctx, n.cfg.ApplyTimeout)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}
	future := n.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		return nil, leadershipErr(err)
	}
	receipt, ok := future.Response().(*Receipt)
	if !ok {
		return nil, fmt.Errorf("unexpected ledger response %T", future.Response())
	}
	if receipt.Err != nil {
		return nil, receipt.Err
	}
	n.logger.Debug().
		Str("tx_id", receipt.TxID).
		Str("negotiation_id", receipt.NegotiationID).
		Int64("version", receipt.Version).
		Uint64("index", receipt.Index).
		Msg("tx committed")
	return receipt, nil
}

// boundedTimeout caps limit by the context deadline.
func boundedTimeout(ctx context.Context, limit time.Duration) (time.Duration, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return limit, nil
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return 0, context.DeadlineExceeded
	}
	return min(remaining, limit), nil
}

func leadershipErr(err error) error {
	if errors.Is(err, raft.ErrNotLeader) ||
		errors.Is(err, raft.ErrLeadershipLost) ||
		errors.Is(err, raft.ErrLeadershipTransferInProgress) {
		return fmt.Errorf("%w: %v", ErrNotLeader, err)
	}
	return err
}

// WaitForLeader polls until some node leads and returns its address.
func (n *Node) WaitForLeader(ctx context.Context, every time.Duration) (string, error) {
	if every <= 0 {
		every = 100 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if leader := n.leaderAddr(); leader != "" {
			return leader, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown stops raft and closes the transport.
func (n *Node) Shutdown() error {
	err := n.raft.Shutdown().Error()
	_ = n.transport.Close()
	return err
}
