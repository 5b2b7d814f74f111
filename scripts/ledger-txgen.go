package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/execution-hub/commission-hub/internal/domain/negotiation"
	"github.com/execution-hub/commission-hub/internal/p2p/protocol"
)

type options struct {
	op         string
	role       string
	userID     string
	txID       string
	nonce      string
	timestamp  string
	privateKey string

	negotiationID   string
	expectedVersion int64
	serviceID       string
	percentage      string
	counter         string
	notes           string
	validUntil      string
	minOrderValue   string
	maxOrderValue   string
	condition       string
	action          string
	reason          string
}

func main() {
	var opt options

	flag.StringVar(&opt.op, "op", "", "operation: create|update|admin-respond|manager-respond|deactivate")
	flag.StringVar(&opt.role, "role", "manager", "actor role: manager|admin")
	flag.StringVar(&opt.userID, "user-id", "", "actor user uuid; random when empty")
	flag.StringVar(&opt.txID, "tx-id", "", "tx identifier; auto-generated when empty")
	flag.StringVar(&opt.nonce, "nonce", "", "nonce; auto-generated when empty")
	flag.StringVar(&opt.timestamp, "timestamp", "", "RFC3339 timestamp; default now UTC")
	flag.StringVar(&opt.privateKey, "private-key", "", "base64 private key (32-byte seed or 64-byte private key); default random")

	flag.StringVar(&opt.negotiationID, "negotiation-id", "", "negotiation uuid; generated for create when empty")
	flag.Int64Var(&opt.expectedVersion, "expected-version", 0, "version the change was prepared against")
	flag.StringVar(&opt.serviceID, "service-id", "", "service uuid for create; empty means global")
	flag.StringVar(&opt.percentage, "percentage", "", "offered percentage for create/update")
	flag.StringVar(&opt.counter, "counter", "", "counter percentage for respond with action=counter")
	flag.StringVar(&opt.notes, "notes", "", "free-text notes")
	flag.StringVar(&opt.validUntil, "valid-until", "", "RFC3339 end of validity window")
	flag.StringVar(&opt.minOrderValue, "min-order-value", "", "minimum order total for create")
	flag.StringVar(&opt.maxOrderValue, "max-order-value", "", "maximum order total for create")
	flag.StringVar(&opt.condition, "condition", "", "order condition expression for create")
	flag.StringVar(&opt.action, "action", "accept", "respond action: accept|reject|counter")
	flag.StringVar(&opt.reason, "reason", "", "deactivation reason")
	flag.Parse()

	op, err := parseOperation(opt.op)
	if err != nil {
		log.Fatal(err)
	}
	actor, err := buildActor(opt.role, opt.userID)
	if err != nil {
		log.Fatal(err)
	}
	if op == protocol.OpNegotiationCreate && strings.TrimSpace(opt.negotiationID) == "" {
		opt.negotiationID = uuid.NewString()
	}
	payload, err := buildPayload(op, opt)
	if err != nil {
		log.Fatal(err)
	}

	privateKey, err := loadPrivateKey(opt.privateKey)
	if err != nil {
		log.Fatal(err)
	}
	ts, err := parseTimestamp(opt.timestamp)
	if err != nil {
		log.Fatal(err)
	}

	txID := strings.TrimSpace(opt.txID)
	if txID == "" {
		txID = autoID("tx", ts)
	}
	nonce := strings.TrimSpace(opt.nonce)
	if nonce == "" {
		nonce = autoID("n", ts)
	}
	tx := protocol.Tx{
		TxID:          txID,
		NegotiationID: strings.TrimSpace(opt.negotiationID),
		Nonce:         nonce,
		Timestamp:     ts,
		Actor:         actor,
		Op:            op,
		Payload:       payload,
	}
	if err := tx.Sign(privateKey); err != nil {
		log.Fatal(err)
	}

	out, err := json.Marshal(tx)
	if err != nil {
		log.Fatal(err)
	}
	_, _ = os.Stdout.Write(out)
}

func parseOperation(raw string) (protocol.Operation, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "create", "negotiation-create":
		return protocol.OpNegotiationCreate, nil
	case "update", "offer-update":
		return protocol.OpOfferUpdate, nil
	case "admin-respond", "admin_respond":
		return protocol.OpAdminRespond, nil
	case "manager-respond", "manager_respond":
		return protocol.OpManagerRespond, nil
	case "deactivate":
		return protocol.OpNegotiationDeactivate, nil
	default:
		return "", fmt.Errorf("unsupported op: %q", raw)
	}
}

func buildActor(role, rawID string) (string, error) {
	id := uuid.New()
	if trimmed := strings.TrimSpace(rawID); trimmed != "" {
		parsed, err := uuid.Parse(trimmed)
		if err != nil {
			return "", fmt.Errorf("invalid user-id: %w", err)
		}
		id = parsed
	}
	actor := protocol.FormatActor(negotiation.ActorRole(strings.ToLower(strings.TrimSpace(role))), id)
	if _, _, err := protocol.ParseActor(actor); err != nil {
		return "", err
	}
	return actor, nil
}

func buildPayload(op protocol.Operation, opt options) (json.RawMessage, error) {
	id := strings.TrimSpace(opt.negotiationID)
	if id == "" {
		return nil, errors.New("negotiation-id is required")
	}
	notes := optionalString(opt.notes)

	switch op {
	case protocol.OpNegotiationCreate:
		pct, err := decimal.NewFromString(strings.TrimSpace(opt.percentage))
		if err != nil {
			return nil, fmt.Errorf("invalid percentage: %w", err)
		}
		validUntil, err := optionalTime(opt.validUntil)
		if err != nil {
			return nil, err
		}
		minValue, err := optionalDecimal(opt.minOrderValue, "min-order-value")
		if err != nil {
			return nil, err
		}
		maxValue, err := optionalDecimal(opt.maxOrderValue, "max-order-value")
		if err != nil {
			return nil, err
		}
		return json.Marshal(protocol.NegotiationCreatePayload{
			NegotiationID: id,
			ServiceID:     optionalString(opt.serviceID),
			Percentage:    pct,
			Notes:         notes,
			ValidUntil:    validUntil,
			MinOrderValue: minValue,
			MaxOrderValue: maxValue,
			Condition:     optionalString(opt.condition),
		})

	case protocol.OpOfferUpdate:
		pct, err := decimal.NewFromString(strings.TrimSpace(opt.percentage))
		if err != nil {
			return nil, fmt.Errorf("invalid percentage: %w", err)
		}
		return json.Marshal(protocol.OfferUpdatePayload{
			NegotiationID:   id,
			ExpectedVersion: opt.expectedVersion,
			Percentage:      pct,
			Notes:           notes,
		})

	case protocol.OpAdminRespond:
		counter, err := optionalDecimal(opt.counter, "counter")
		if err != nil {
			return nil, err
		}
		validUntil, err := optionalTime(opt.validUntil)
		if err != nil {
			return nil, err
		}
		return json.Marshal(protocol.AdminRespondPayload{
			NegotiationID:     id,
			ExpectedVersion:   opt.expectedVersion,
			Action:            opt.action,
			CounterPercentage: counter,
			Notes:             notes,
			ValidUntil:        validUntil,
		})

	case protocol.OpManagerRespond:
		counter, err := optionalDecimal(opt.counter, "counter")
		if err != nil {
			return nil, err
		}
		return json.Marshal(protocol.ManagerRespondPayload{
			NegotiationID:     id,
			ExpectedVersion:   opt.expectedVersion,
			Action:            opt.action,
			CounterPercentage: counter,
			Notes:             notes,
		})

	case protocol.OpNegotiationDeactivate:
		return json.Marshal(protocol.DeactivatePayload{
			NegotiationID:   id,
			ExpectedVersion: opt.expectedVersion,
			Reason:          strings.TrimSpace(opt.reason),
		})
	}
	return nil, fmt.Errorf("unsupported op: %s", op)
}

func optionalString(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func optionalDecimal(raw, fieldName string) (*decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", fieldName, err)
	}
	return &d, nil
}

func optionalTime(raw string) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid valid-until: %w", err)
	}
	utc := parsed.UTC()
	return &utc, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Now().UTC(), nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	return parsed.UTC(), nil
}

func loadPrivateKey(raw string) (ed25519.PrivateKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		_, key, err := ed25519.GenerateKey(rand.Reader)
		return key, err
	}
	decoded, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid private-key base64: %w", err)
	}
	switch len(decoded) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(decoded), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(decoded), nil
	default:
		return nil, fmt.Errorf("invalid private-key length: %d (expected 32 or 64 bytes)", len(decoded))
	}
}

func autoID(prefix string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", prefix, ts.UnixNano())
}
