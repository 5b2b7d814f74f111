package protocol

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/execution-hub/commission-hub/internal/domain/negotiation"
)

// Operation defines supported ledger writes.
type Operation string

const (
	OpNegotiationCreate     Operation = "NEGOTIATION_CREATE"
	OpOfferUpdate           Operation = "OFFER_UPDATE"
	OpAdminRespond          Operation = "ADMIN_RESPOND"
	OpManagerRespond        Operation = "MANAGER_RESPOND"
	OpNegotiationDeactivate Operation = "NEGOTIATION_DEACTIVATE"
)

var validOps = map[Operation]struct{}{
	OpNegotiationCreate:     {},
	OpOfferUpdate:           {},
	OpAdminRespond:          {},
	OpManagerRespond:        {},
	OpNegotiationDeactivate: {},
}

// Tx is the signed, replicated command envelope.
type Tx struct {
	TxID          string          `json:"tx_id"`
	NegotiationID string          `json:"negotiation_id,omitempty"`
	Nonce         string          `json:"nonce"`
	Timestamp     time.Time       `json:"timestamp"`
	Actor         string          `json:"actor"`
	Op            Operation       `json:"op"`
	Payload       json.RawMessage `json:"payload"`
	PublicKey     string          `json:"public_key"` // base64 raw ed25519 public key
	Signature     string          `json:"signature"`  // base64 raw signature
}

type txSignable struct {
	TxID          string          `json:"tx_id"`
	NegotiationID string          `json:"negotiation_id,omitempty"`
	Nonce         string          `json:"nonce"`
	Timestamp     time.Time       `json:"timestamp"`
	Actor         string          `json:"actor"`
	Op            Operation       `json:"op"`
	Payload       json.RawMessage `json:"payload"`
	PublicKey     string          `json:"public_key"`
}

// CanonicalBytes returns the deterministic signing payload.
func (t Tx) CanonicalBytes() ([]byte, error) {
	signable := txSignable{
		TxID:          strings.TrimSpace(t.TxID),
		NegotiationID: strings.TrimSpace(t.NegotiationID),
		Nonce:         strings.TrimSpace(t.Nonce),
		Timestamp:     t.Timestamp.UTC(),
		Actor:         strings.TrimSpace(t.Actor),
		Op:            t.Op,
		Payload:       t.Payload,
		PublicKey:     strings.TrimSpace(t.PublicKey),
	}
	return json.Marshal(signable)
}

// ValidateBasic checks required immutable tx fields.
func (t Tx) ValidateBasic() error {
	if strings.TrimSpace(t.TxID) == "" {
		return errors.New("tx_id is required")
	}
	if strings.TrimSpace(t.Nonce) == "" {
		return errors.New("nonce is required")
	}
	if _, _, err := ParseActor(t.Actor); err != nil {
		return err
	}
	if t.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if _, ok := validOps[t.Op]; !ok {
		return fmt.Errorf("unsupported op: %s", t.Op)
	}
	if len(t.Payload) == 0 {
		return errors.New("payload is required")
	}
	if strings.TrimSpace(t.PublicKey) == "" {
		return errors.New("public_key is required")
	}
	if strings.TrimSpace(t.Signature) == "" {
		return errors.New("signature is required")
	}
	return nil
}

// Sign sets tx public key/signature for the given private key.
func (t *Tx) Sign(privateKey ed25519.PrivateKey) error {
	if len(privateKey) != ed25519.PrivateKeySize {
		return errors.New("invalid private key")
	}
	t.PublicKey = base64.StdEncoding.EncodeToString(privateKey.Public().(ed25519.PublicKey))
	payload, err := t.CanonicalBytes()
	if err != nil {
		return err
	}
	sig := ed25519.Sign(privateKey, payload)
	t.Signature = base64.StdEncoding.EncodeToString(sig)
	return nil
}

// Verify validates tx signature using included public key.
func (t Tx) Verify() error {
	if err := t.ValidateBasic(); err != nil {
		return err
	}
	pubRaw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(t.PublicKey))
	if err != nil {
		return fmt.Errorf("invalid public_key: %w", err)
	}
	if len(pubRaw) != ed25519.PublicKeySize {
		return errors.New("invalid public_key size")
	}
	sigRaw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(t.Signature))
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	if len(sigRaw) != ed25519.SignatureSize {
		return errors.New("invalid signature size")
	}
	payload, err := t.CanonicalBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pubRaw), payload, sigRaw) {
		return errors.New("signature verification failed")
	}
	return nil
}

// FormatActor renders the actor string a tx carries, e.g. "manager:<uuid>".
func FormatActor(role negotiation.ActorRole, id uuid.UUID) string {
	return string(role) + ":" + id.String()
}

// ParseActor splits a tx actor into its side and user id.
func ParseActor(raw string) (negotiation.ActorRole, uuid.UUID, error) {
	role, rawID, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return "", uuid.Nil, errors.New("actor must be <role>:<user id>")
	}
	r := negotiation.ActorRole(strings.ToLower(role))
	if r != negotiation.ActorRoleManager && r != negotiation.ActorRoleAdmin {
		return "", uuid.Nil, fmt.Errorf("unsupported actor role: %s", role)
	}
	id, err := uuid.Parse(rawID)
	if err != nil || id == uuid.Nil {
		return "", uuid.Nil, errors.New("actor user id must be a uuid")
	}
	return r, id, nil
}

// DecodePayload decodes operation payloads.
func DecodePayload[T any](raw json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

type NegotiationCreatePayload struct {
	NegotiationID string           `json:"negotiation_id"`
	ServiceID     *string          `json:"service_id,omitempty"`
	Percentage    decimal.Decimal  `json:"percentage"`
	Notes         *string          `json:"notes,omitempty"`
	ValidUntil    *time.Time       `json:"valid_until,omitempty"`
	MinOrderValue *decimal.Decimal `json:"min_order_value,omitempty"`
	MaxOrderValue *decimal.Decimal `json:"max_order_value,omitempty"`
	Condition     *string          `json:"condition,omitempty"`
}

type OfferUpdatePayload struct {
	NegotiationID   string          `json:"negotiation_id"`
	ExpectedVersion int64           `json:"expected_version"`
	Percentage      decimal.Decimal `json:"percentage"`
	Notes           *string         `json:"notes,omitempty"`
}

type AdminRespondPayload struct {
	NegotiationID     string           `json:"negotiation_id"`
	ExpectedVersion   int64            `json:"expected_version"`
	Action            string           `json:"action"`
	CounterPercentage *decimal.Decimal `json:"counter_percentage,omitempty"`
	Notes             *string          `json:"notes,omitempty"`
	ValidUntil        *time.Time       `json:"valid_until,omitempty"`
}

type ManagerRespondPayload struct {
	NegotiationID     string           `json:"negotiation_id"`
	ExpectedVersion   int64            `json:"expected_version"`
	Action            string           `json:"action"`
	CounterPercentage *decimal.Decimal `json:"counter_percentage,omitempty"`
	Notes             *string          `json:"notes,omitempty"`
}

type DeactivatePayload struct {
	NegotiationID   string `json:"negotiation_id"`
	ExpectedVersion int64  `json:"expected_version"`
	Reason          string `json:"reason,omitempty"`
}
