package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/commission-hub/internal/domain/negotiation"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func offer(t *testing.T, managerID uuid.UUID, serviceID *uuid.UUID, validUntil *time.Time) *negotiation.Negotiation {
	t.Helper()
	n, err := negotiation.NewOffer(negotiation.OfferInput{
		Subject:    negotiation.Subject{ManagerID: managerID, ServiceID: serviceID},
		Percentage: decimal.NewFromInt(10),
		ValidUntil: validUntil,
	}, t0)
	require.NoError(t, err)
	return n
}

func TestNegotiationRepository_CreateEnforcesOneLivePerSubject(t *testing.T) {
	ctx := context.Background()
	repo := NewNegotiationRepository()
	managerID := uuid.New()
	serviceID := uuid.New()

	require.NoError(t, repo.Create(ctx, offer(t, managerID, &serviceID, nil)))
	assert.ErrorIs(t, repo.Create(ctx, offer(t, managerID, &serviceID, nil)), negotiation.ErrConflictingOffer)

	// Global and other-service subjects are independent.
	assert.NoError(t, repo.Create(ctx, offer(t, managerID, nil, nil)))
	other := uuid.New()
	assert.NoError(t, repo.Create(ctx, offer(t, managerID, &other, nil)))
}

func TestNegotiationRepository_UpdateChecksVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewNegotiationRepository()
	n := offer(t, uuid.New(), nil, nil)
	require.NoError(t, repo.Create(ctx, n))

	a, err := repo.GetByID(ctx, n.NegotiationID)
	require.NoError(t, err)
	b, err := repo.GetByID(ctx, n.NegotiationID)
	require.NoError(t, err)

	appended, err := a.AdminRespond(negotiation.AdminResponse{AdminID: uuid.New(), Action: negotiation.ResponseReject}, t0)
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, a, 0, appended))
	assert.Equal(t, int64(1), a.Version)

	appended, err = b.AdminRespond(negotiation.AdminResponse{AdminID: uuid.New(), Action: negotiation.ResponseAccept}, t0)
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Update(ctx, b, 0, appended), negotiation.ErrStaleState)

	stored, err := repo.GetByID(ctx, n.NegotiationID)
	require.NoError(t, err)
	assert.Equal(t, negotiation.StatusRejected, stored.Status)
	assert.Len(t, stored.History, 2)
}

func TestNegotiationRepository_ListUsesEffectiveStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewNegotiationRepository()
	managerID := uuid.New()
	until := t0.Add(time.Hour)
	s1, s2 := uuid.New(), uuid.New()

	require.NoError(t, repo.Create(ctx, offer(t, managerID, &s1, &until)))
	require.NoError(t, repo.Create(ctx, offer(t, managerID, &s2, nil)))

	expired := negotiation.StatusExpired
	items, err := repo.List(ctx, negotiation.Filter{ManagerID: &managerID, Status: &expired, Now: t0.Add(2 * time.Hour)}, 10, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, s1, *items[0].ServiceID)

	pending := negotiation.StatusPending
	items, err = repo.List(ctx, negotiation.Filter{ManagerID: &managerID, Status: &pending, Now: t0.Add(2 * time.Hour)}, 10, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, s2, *items[0].ServiceID)

	items, err = repo.List(ctx, negotiation.Filter{GlobalOnly: true}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestNegotiationRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewNegotiationRepository()
	n := offer(t, uuid.New(), nil, nil)
	require.NoError(t, repo.Create(ctx, n))

	n.Status = negotiation.StatusAccepted
	got, err := repo.GetByID(ctx, n.NegotiationID)
	require.NoError(t, err)
	assert.Equal(t, negotiation.StatusPending, got.Status)
}
