package negotiation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/commission-hub/internal/domain/catalog"
	catalogmocks "github.com/execution-hub/commission-hub/internal/domain/catalog/mocks"
	domain "github.com/execution-hub/commission-hub/internal/domain/negotiation"
	"github.com/execution-hub/commission-hub/internal/domain/user"
	"github.com/execution-hub/commission-hub/internal/infrastructure/memory"
)

func (f *fixture) agree(t *testing.T, in CreateOfferInput) *domain.Negotiation {
	t.Helper()
	n, err := f.svc.CreateOffer(context.Background(), f.manager, in)
	require.NoError(t, err)
	n, err = f.svc.AdminRespond(context.Background(), f.admin, n.NegotiationID, AdminRespondInput{Action: "accept"})
	require.NoError(t, err)
	return n
}

func (f *fixture) order(t *testing.T, serviceID uuid.UUID, total string) *catalog.Order {
	t.Helper()
	o := &catalog.Order{OrderID: uuid.New(), ServiceID: serviceID, Total: dec(total), Currency: "EUR", CreatedAt: *f.clock}
	require.NoError(t, f.orders.Create(context.Background(), o))
	return o
}

func TestResolve_ZeroWithoutAgreement(t *testing.T) {
	f := newFixture(t, nil)
	f.offer(t, &f.service.ServiceID, "10")

	res, err := f.svc.ResolveEffective(context.Background(), f.service.ServiceID)
	require.NoError(t, err)
	assert.True(t, res.Percentage.IsZero())
	assert.Equal(t, SourceNone, res.Source)
	assert.Nil(t, res.NegotiationID)
}

func TestResolve_ServiceBeatsGlobal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	global := f.agree(t, CreateOfferInput{Percentage: dec("5")})

	res, err := f.svc.ResolveEffective(ctx, f.service.ServiceID)
	require.NoError(t, err)
	assert.Equal(t, SourceManagerGlobal, res.Source)
	assert.Equal(t, global.NegotiationID, *res.NegotiationID)
	assert.True(t, res.Percentage.Equal(dec("5")))

	scoped := f.agree(t, CreateOfferInput{ServiceID: &f.service.ServiceID, Percentage: dec("15")})
	res, err = f.svc.ResolveEffective(ctx, f.service.ServiceID)
	require.NoError(t, err)
	assert.Equal(t, SourceServiceCache, res.Source)
	assert.Equal(t, scoped.NegotiationID, *res.NegotiationID)
	assert.True(t, res.Percentage.Equal(dec("15")))

	// Without the cache the service-scoped agreement still wins.
	require.NoError(t, f.services.SetCommission(ctx, f.service.ServiceID, nil))
	res, err = f.svc.ResolveEffective(ctx, f.service.ServiceID)
	require.NoError(t, err)
	assert.Equal(t, SourceService, res.Source)
	assert.True(t, res.Percentage.Equal(dec("15")))
}

func TestResolve_ExpiredAgreementIgnored(t *testing.T) {
	f := newFixture(t, nil)
	until := f.clock.Add(24 * time.Hour)
	f.agree(t, CreateOfferInput{ServiceID: &f.service.ServiceID, Percentage: dec("15"), ValidUntil: &until})

	f.advance(48 * time.Hour)
	pct, err := f.svc.ResolveEffectivePercentage(context.Background(), f.service.ServiceID)
	require.NoError(t, err)
	assert.True(t, pct.IsZero())
}

func TestResolve_UnknownService(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.ResolveEffectivePercentage(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolve_UsesServiceCache(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	from := now.Add(-time.Hour)
	svc := &catalog.Service{
		ServiceID: uuid.New(),
		ManagerID: uuid.New(),
		Commission: &catalog.CommissionCache{
			NegotiationID: uuid.New(),
			Percentage:    dec("11"),
			ValidFrom:     &from,
		},
	}
	services := new(catalogmocks.MockServiceRepository)
	services.On("GetByID", mock.Anything, svc.ServiceID).Return(svc, nil)

	s := NewService(memory.NewNegotiationRepository(), memory.NewTransactor(), services, new(catalogmocks.MockOrderRepository), nil, nil, zerolog.Nop()).
		WithClock(func() time.Time { return now })

	res, err := s.ResolveEffective(context.Background(), svc.ServiceID)
	require.NoError(t, err)
	assert.Equal(t, SourceServiceCache, res.Source)
	assert.True(t, res.Percentage.Equal(dec("11")))
	services.AssertExpectations(t)
}

func TestResolve_StaleCacheFallsThrough(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	until := now.Add(-time.Minute)
	svc := &catalog.Service{
		ServiceID: uuid.New(),
		ManagerID: uuid.New(),
		Commission: &catalog.CommissionCache{
			NegotiationID: uuid.New(),
			Percentage:    dec("11"),
			ValidUntil:    &until,
		},
	}
	services := new(catalogmocks.MockServiceRepository)
	services.On("GetByID", mock.Anything, svc.ServiceID).Return(svc, nil)

	s := NewService(memory.NewNegotiationRepository(), memory.NewTransactor(), services, new(catalogmocks.MockOrderRepository), nil, nil, zerolog.Nop()).
		WithClock(func() time.Time { return now })

	res, err := s.ResolveEffective(context.Background(), svc.ServiceID)
	require.NoError(t, err)
	assert.Equal(t, SourceNone, res.Source)
	assert.True(t, res.Percentage.IsZero())
}

func TestSettleOrder_BoundsAndCondition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	minTotal := dec("500")
	cond := "orderTotal < 5000"
	f.agree(t, CreateOfferInput{Percentage: dec("5")})
	f.agree(t, CreateOfferInput{ServiceID: &f.service.ServiceID, Percentage: dec("15"), MinOrderValue: &minTotal, Condition: &cond})

	cases := []struct {
		total      string
		source     Source
		commission string
		net        string
	}{
		{"1000", SourceServiceCache, "150", "850"},
		{"300", SourceManagerGlobal, "15", "285"},
		{"6000", SourceManagerGlobal, "300", "5700"},
	}
	for _, tc := range cases {
		o := f.order(t, f.service.ServiceID, tc.total)
		out, err := f.svc.SettleOrder(ctx, f.manager, o.OrderID)
		require.NoError(t, err, tc.total)
		assert.Equal(t, tc.source, out.Resolution.Source, tc.total)
		assert.True(t, out.Result.CommissionAmount.Equal(dec(tc.commission)), tc.total)
		assert.True(t, out.Result.NetAmount.Equal(dec(tc.net)), tc.total)
		assert.Equal(t, "EUR", out.Currency)
	}
}

func TestSettleOrder_Access(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	o := f.order(t, f.service.ServiceID, "100")

	out, err := f.svc.SettleOrder(ctx, f.admin, o.OrderID)
	require.NoError(t, err)
	assert.True(t, out.Result.CommissionAmount.IsZero())
	assert.True(t, out.Result.NetAmount.Equal(dec("100")))

	stranger := Actor{UserID: uuid.New(), Username: "manager2", Role: user.RoleManager}
	_, err = f.svc.SettleOrder(ctx, stranger, o.OrderID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.SettleOrder(ctx, f.admin, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestComputeSettlement(t *testing.T) {
	f := newFixture(t, nil)

	r, err := f.svc.ComputeSettlement(dec("999.99"), dec("12.5"))
	require.NoError(t, err)
	assert.True(t, r.CommissionAmount.Equal(dec("125.00")))
	assert.True(t, r.NetAmount.Equal(dec("874.99")))

	_, err = f.svc.ComputeSettlement(dec("100"), dec("120"))
	assert.ErrorIs(t, err, domain.ErrInvalidPercentage)

	_, err = f.svc.ComputeSettlement(dec("-1"), dec("10"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
