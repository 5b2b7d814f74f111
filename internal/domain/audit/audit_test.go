package audit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuditLog(t *testing.T) {
	log, err := NewAuditLog(&AuditEntry{
		EntityType: EntityTypeNegotiation,
		EntityID:   "n-1",
		Action:     ActionAccept,
		Actor:      "user:admin",
	})
	require.NoError(t, err)
	assert.Equal(t, RiskLevelHigh, log.RiskLevel)
	assert.False(t, log.CreatedAt.IsZero())

	_, err = NewAuditLog(&AuditEntry{EntityType: EntityTypeNegotiation, Action: ActionAccept, Actor: "x"})
	assert.ErrorIs(t, err, ErrMissingEntity)
	_, err = NewAuditLog(&AuditEntry{EntityType: EntityTypeNegotiation, EntityID: "n", Actor: "x"})
	assert.ErrorIs(t, err, ErrMissingAction)
	_, err = NewAuditLog(&AuditEntry{EntityType: EntityTypeNegotiation, EntityID: "n", Action: ActionCreate})
	assert.ErrorIs(t, err, ErrMissingActor)
}

func TestSignAndVerify(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	log, err := NewAuditLog(&AuditEntry{
		EntityType: EntityTypeNegotiation,
		EntityID:   "n-1",
		Action:     ActionCounter,
		Actor:      "user:admin",
		NewValues:  json.RawMessage(`{"status":"negotiating"}`),
	})
	require.NoError(t, err)

	sig, err := SignAuditLog(log, key)
	require.NoError(t, err)
	log.Signature = sig

	ok, err := VerifyAuditLogSignature(log, key)
	require.NoError(t, err)
	assert.True(t, ok)

	log.NewValues = json.RawMessage(`{"status":"accepted"}`)
	ok, err = VerifyAuditLogSignature(log, key)
	require.NoError(t, err)
	assert.False(t, ok)

	log.Signature = nil
	ok, err = VerifyAuditLogSignature(log, key)
	require.NoError(t, err)
	assert.False(t, ok)
}
