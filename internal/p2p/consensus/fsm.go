package consensus

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"

	"github.com/execution-hub/commission-hub/internal/domain/negotiation"
	"github.com/execution-hub/commission-hub/internal/p2p/protocol"
	"github.com/execution-hub/commission-hub/internal/p2p/state"
)

// Receipt reports what one committed tx did to the ledger. The raft entry is
// committed even when the ledger rejects the tx; Err then carries the
// negotiation error and the record is unchanged.
type Receipt struct {
	TxID          string             `json:"tx_id"`
	Op            protocol.Operation `json:"op"`
	NegotiationID string             `json:"negotiation_id"`
	Index         uint64             `json:"index"`
	Duplicate     bool               `json:"duplicate"`
	Status        negotiation.Status `json:"negotiation_status,omitempty"`
	Version       int64              `json:"version"`
	Err           error              `json:"-"`
}

// ledgerFSM feeds committed raft entries into the negotiation machine.
type ledgerFSM struct {
	machine *state.Machine
	logger  zerolog.Logger
}

func (f *ledgerFSM) Apply(entry *raft.Log) interface{} {
	receipt := &Receipt{Index: entry.Index}
	var tx protocol.Tx
	if err := json.Unmarshal(entry.Data, &tx); err != nil {
		receipt.Err = fmt.Errorf("decode tx: %w", err)
		return receipt
	}
	receipt.TxID, receipt.Op, receipt.NegotiationID = tx.TxID, tx.Op, tx.NegotiationID
	receipt.Duplicate = f.machine.HasApplied(tx.TxID)

	if err := f.machine.ApplyTx(tx); err != nil {
		f.logger.Debug().Err(err).
			Str("tx_id", tx.TxID).
			Str("op", string(tx.Op)).
			Uint64("index", entry.Index).
			Msg("tx rejected by ledger")
		receipt.Err = err
		return receipt
	}
	if n, ok := f.machine.GetNegotiation(tx.NegotiationID, tx.Timestamp.UTC()); ok {
		receipt.Status, receipt.Version = n.Status, n.Version
	}
	return receipt
}

func (f *ledgerFSM) Snapshot() (raft.FSMSnapshot, error) {
	data, err := f.machine.Marshal()
	if err != nil {
		return nil, err
	}
	return ledgerSnapshot(data), nil
}

func (f *ledgerFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return f.machine.Unmarshal(data)
}

// ledgerSnapshot is the JSON-encoded machine state.
type ledgerSnapshot []byte

func (s ledgerSnapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(s); err != nil {
		_ = sink.Cancel()
		return err
	}
	return sink.Close()
}

func (ledgerSnapshot) Release() {}
