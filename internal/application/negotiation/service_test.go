package negotiation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	appAudit "github.com/execution-hub/commission-hub/internal/application/audit"
	"github.com/execution-hub/commission-hub/internal/domain/audit"
	"github.com/execution-hub/commission-hub/internal/domain/catalog"
	domain "github.com/execution-hub/commission-hub/internal/domain/negotiation"
	"github.com/execution-hub/commission-hub/internal/domain/notice"
	"github.com/execution-hub/commission-hub/internal/domain/notice/mocks"
	"github.com/execution-hub/commission-hub/internal/domain/user"
	"github.com/execution-hub/commission-hub/internal/infrastructure/memory"
)

type recordingAudit struct {
	mu      sync.Mutex
	changes []appAudit.NegotiationChange
}

func (r *recordingAudit) LogNegotiation(ctx context.Context, change appAudit.NegotiationChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

func (r *recordingAudit) actions() []audit.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Action, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.Action)
	}
	return out
}

func (r *recordingAudit) last() appAudit.NegotiationChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changes[len(r.changes)-1]
}

type fixture struct {
	svc      *Service
	repo     *memory.NegotiationRepository
	services *memory.ServiceRepository
	orders   *memory.OrderRepository
	audit    *recordingAudit
	clock    *time.Time
	manager  Actor
	admin    Actor
	service  *catalog.Service
}

func newFixture(t *testing.T, sink notice.Sink) *fixture {
	t.Helper()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	f := &fixture{
		repo:     memory.NewNegotiationRepository(),
		services: memory.NewServiceRepository(),
		orders:   memory.NewOrderRepository(),
		audit:    &recordingAudit{},
		clock:    &now,
		manager:  Actor{UserID: uuid.New(), Username: "manager1", Role: user.RoleManager},
		admin:    Actor{UserID: uuid.New(), Username: "admin1", Role: user.RoleAdmin},
	}
	f.svc = NewService(f.repo, memory.NewTransactor(f.repo, f.services), f.services, f.orders, sink, f.audit, zerolog.Nop()).
		WithClock(func() time.Time { return *f.clock })
	f.service = f.addService(t, f.manager.UserID)
	return f
}

func (f *fixture) addService(t *testing.T, managerID uuid.UUID) *catalog.Service {
	t.Helper()
	svc := &catalog.Service{ServiceID: uuid.New(), ManagerID: managerID, Name: "Deep cleaning", CreatedAt: *f.clock, UpdatedAt: *f.clock}
	require.NoError(t, f.services.Create(context.Background(), svc))
	return svc
}

func (f *fixture) advance(d time.Duration) {
	next := f.clock.Add(d)
	*f.clock = next
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func (f *fixture) offer(t *testing.T, serviceID *uuid.UUID, pct string) *domain.Negotiation {
	t.Helper()
	n, err := f.svc.CreateOffer(context.Background(), f.manager, CreateOfferInput{ServiceID: serviceID, Percentage: dec(pct)})
	require.NoError(t, err)
	return n
}

func TestCreateOffer_AcceptYieldsOfferedPercentage(t *testing.T) {
	ctx := context.Background()
	for _, p := range []string{"0", "7.25", "15", "100"} {
		f := newFixture(t, nil)
		n := f.offer(t, &f.service.ServiceID, p)
		assert.Equal(t, domain.StatusPending, n.Status)
		assert.Equal(t, domain.TypeManagerOffer, n.Type)

		n, err := f.svc.AdminRespond(ctx, f.admin, n.NegotiationID, AdminRespondInput{Action: "accept"})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusAccepted, n.Status)
		require.NotNil(t, n.FinalPercentage)
		assert.True(t, n.FinalPercentage.Equal(dec(p)), p)
	}
}

func TestCounterThenManagerAccept(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	n := f.offer(t, &f.service.ServiceID, "20")

	n, err := f.svc.AdminRespond(ctx, f.admin, n.NegotiationID, AdminRespondInput{Action: "counter", CounterPercentage: decPtr("12.5")})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNegotiating, n.Status)

	n, err = f.svc.ManagerRespond(ctx, f.manager, n.NegotiationID, ManagerRespondInput{Action: "accept"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, n.Status)
	assert.True(t, n.FinalPercentage.Equal(dec("12.5")))

	actions := []domain.Action{}
	for _, h := range n.History {
		actions = append(actions, h.Action)
	}
	assert.Equal(t, []domain.Action{domain.ActionOffer, domain.ActionCounter, domain.ActionManagerAcceptCounter}, actions)

	svc, err := f.services.GetByID(ctx, f.service.ServiceID)
	require.NoError(t, err)
	require.NotNil(t, svc.Commission)
	assert.Equal(t, n.NegotiationID, svc.Commission.NegotiationID)
	assert.True(t, svc.Commission.Percentage.Equal(dec("12.5")))
}

func TestManagerCounterResetsRound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	n := f.offer(t, nil, "20")

	_, err := f.svc.AdminRespond(ctx, f.admin, n.NegotiationID, AdminRespondInput{Action: "counter", CounterPercentage: decPtr("10")})
	require.NoError(t, err)
	n, err = f.svc.ManagerRespond(ctx, f.manager, n.NegotiationID, ManagerRespondInput{Action: "counter", CounterPercentage: decPtr("15")})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, n.Status)
	assert.Nil(t, n.CounterPercentage)
	assert.Nil(t, n.AdminID)
	assert.True(t, n.OfferedPercentage.Equal(dec("15")))

	stored, err := f.svc.Get(ctx, f.manager, n.NegotiationID)
	require.NoError(t, err)
	assert.Nil(t, stored.CounterPercentage)
	assert.Len(t, stored.History, 3)
}

func TestRejectedIsFinal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	n := f.offer(t, &f.service.ServiceID, "20")
	_, err := f.svc.AdminRespond(ctx, f.admin, n.NegotiationID, AdminRespondInput{Action: "reject"})
	require.NoError(t, err)

	_, err = f.svc.AdminRespond(ctx, f.admin, n.NegotiationID, AdminRespondInput{Action: "accept"})
	assert.ErrorIs(t, err, domain.ErrAlreadyFinalized)
	_, err = f.svc.ManagerRespond(ctx, f.manager, n.NegotiationID, ManagerRespondInput{Action: "accept"})
	assert.ErrorIs(t, err, domain.ErrAlreadyFinalized)

	stored, err := f.svc.Get(ctx, f.admin, n.NegotiationID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, stored.Status)
	assert.Len(t, stored.History, 2)
	assert.Equal(t, int64(1), stored.Version)
}

func TestCreateOffer_ConflictUntilRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	n := f.offer(t, &f.service.ServiceID, "20")

	_, err := f.svc.CreateOffer(ctx, f.manager, CreateOfferInput{ServiceID: &f.service.ServiceID, Percentage: dec("18")})
	assert.ErrorIs(t, err, domain.ErrConflictingOffer)

	_, err = f.svc.AdminRespond(ctx, f.admin, n.NegotiationID, AdminRespondInput{Action: "reject"})
	require.NoError(t, err)

	_, err = f.svc.CreateOffer(ctx, f.manager, CreateOfferInput{ServiceID: &f.service.ServiceID, Percentage: dec("18")})
	assert.NoError(t, err)
}

func TestCreateOffer_ReplacesLazilyExpiredRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	until := f.clock.Add(time.Hour)
	first, err := f.svc.CreateOffer(ctx, f.manager, CreateOfferInput{ServiceID: &f.service.ServiceID, Percentage: dec("20"), ValidUntil: &until})
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	got, err := f.svc.Get(ctx, f.manager, first.NegotiationID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, got.Status)

	_, err = f.svc.CreateOffer(ctx, f.manager, CreateOfferInput{ServiceID: &f.service.ServiceID, Percentage: dec("18")})
	require.NoError(t, err)

	stored, err := f.repo.GetByID(ctx, first.NegotiationID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, stored.Status)
	assert.Contains(t, f.audit.actions(), audit.ActionExpire)
}

func TestRoleAndOwnershipChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	n := f.offer(t, &f.service.ServiceID, "20")
	stranger := Actor{UserID: uuid.New(), Username: "manager2", Role: user.RoleManager}

	_, err := f.svc.CreateOffer(ctx, f.admin, CreateOfferInput{Percentage: dec("10")})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.CreateOffer(ctx, stranger, CreateOfferInput{ServiceID: &f.service.ServiceID, Percentage: dec("10")})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.AdminRespond(ctx, f.manager, n.NegotiationID, AdminRespondInput{Action: "accept"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.AdminRespond(ctx, f.admin, n.NegotiationID, AdminRespondInput{Action: "counter", CounterPercentage: decPtr("5")})
	require.NoError(t, err)
	_, err = f.svc.ManagerRespond(ctx, stranger, n.NegotiationID, ManagerRespondInput{Action: "accept"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.Get(ctx, stranger, n.NegotiationID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.List(ctx, stranger, ListFilter{ManagerID: &f.manager.UserID}, 10, 0)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestErrorsForMissingAndInvalid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.svc.AdminRespond(ctx, f.admin, uuid.New(), AdminRespondInput{Action: "accept"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	missing := uuid.New()
	_, err = f.svc.CreateOffer(ctx, f.manager, CreateOfferInput{ServiceID: &missing, Percentage: dec("10")})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.CreateOffer(ctx, f.manager, CreateOfferInput{Percentage: dec("101")})
	assert.ErrorIs(t, err, domain.ErrInvalidPercentage)

	n := f.offer(t, nil, "10")
	_, err = f.svc.AdminRespond(ctx, f.admin, n.NegotiationID, AdminRespondInput{Action: "approve"})
	assert.ErrorIs(t, err, domain.ErrInvalidAction)
	_, err = f.svc.AdminRespond(ctx, f.admin, n.NegotiationID, AdminRespondInput{Action: "counter", CounterPercentage: decPtr("0")})
	assert.ErrorIs(t, err, domain.ErrInvalidPercentage)
	_, err = f.svc.ManagerRespond(ctx, f.manager, n.NegotiationID, ManagerRespondInput{Action: "accept"})
	assert.ErrorIs(t, err, domain.ErrNoCounterToRespondTo)

	stored, err := f.repo.GetByID(ctx, n.NegotiationID)
	require.NoError(t, err)
	assert.Len(t, stored.History, 1)
	assert.Equal(t, int64(0), stored.Version)
}

func TestUpdateOffer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	n := f.offer(t, nil, "10")

	n, err := f.svc.UpdateOffer(ctx, f.manager, n.NegotiationID, dec("11"), nil)
	require.NoError(t, err)
	assert.True(t, n.OfferedPercentage.Equal(dec("11")))
	assert.Equal(t, domain.ActionOfferUpdated, n.History[len(n.History)-1].Action)

	_, err = f.svc.AdminRespond(ctx, f.admin, n.NegotiationID, AdminRespondInput{Action: "counter", CounterPercentage: decPtr("9")})
	require.NoError(t, err)
	_, err = f.svc.UpdateOffer(ctx, f.manager, n.NegotiationID, dec("12"), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidAction)
}

func TestDeactivateClearsServiceCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	n := f.offer(t, &f.service.ServiceID, "10")
	_, err := f.svc.AdminRespond(ctx, f.admin, n.NegotiationID, AdminRespondInput{Action: "accept"})
	require.NoError(t, err)

	pct, err := f.svc.ResolveEffectivePercentage(ctx, f.service.ServiceID)
	require.NoError(t, err)
	assert.True(t, pct.Equal(dec("10")))

	n, err = f.svc.Deactivate(ctx, f.admin, n.NegotiationID, "superseded")
	require.NoError(t, err)
	assert.False(t, n.IsActive)

	svc, err := f.services.GetByID(ctx, f.service.ServiceID)
	require.NoError(t, err)
	assert.Nil(t, svc.Commission)

	pct, err = f.svc.ResolveEffectivePercentage(ctx, f.service.ServiceID)
	require.NoError(t, err)
	assert.True(t, pct.IsZero())

	// Deactivated records free the subject.
	_, err = f.svc.CreateOffer(ctx, f.manager, CreateOfferInput{ServiceID: &f.service.ServiceID, Percentage: dec("9")})
	assert.NoError(t, err)

	// Idempotent.
	_, err = f.svc.Deactivate(ctx, f.admin, n.NegotiationID, "again")
	assert.NoError(t, err)
	assert.Equal(t, 1, countAction(f.audit.actions(), audit.ActionDeactivate))
}

func countAction(actions []audit.Action, want audit.Action) int {
	n := 0
	for _, a := range actions {
		if a == want {
			n++
		}
	}
	return n
}

func TestList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	other := f.addService(t, f.manager.UserID)
	f.offer(t, &f.service.ServiceID, "10")
	f.offer(t, &other.ServiceID, "11")

	otherManager := Actor{UserID: uuid.New(), Username: "manager2", Role: user.RoleManager}
	_, err := f.svc.CreateOffer(ctx, otherManager, CreateOfferInput{Percentage: dec("12")})
	require.NoError(t, err)

	mine, err := f.svc.List(ctx, f.manager, ListFilter{}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	all, err := f.svc.List(ctx, f.admin, ListFilter{}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byService, err := f.svc.List(ctx, f.admin, ListFilter{ServiceID: &other.ServiceID}, 10, 0)
	require.NoError(t, err)
	require.Len(t, byService, 1)
	assert.Equal(t, other.ServiceID, *byService[0].ServiceID)

	paged, err := f.svc.List(ctx, f.admin, ListFilter{}, 2, 2)
	require.NoError(t, err)
	assert.Len(t, paged, 1)
}

func TestNoticesAreFireAndForget(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	f := newFixture(t, sink)
	ctx := context.Background()

	var kinds []notice.Kind
	sink.EXPECT().Post(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, n *notice.Notice) error {
		kinds = append(kinds, n.Kind)
		assert.Equal(t, notice.ConversationKey(f.manager.UserID), n.ConversationKey)
		return errors.New("chat unavailable")
	}).Times(3)

	n := f.offer(t, &f.service.ServiceID, "10")
	_, err := f.svc.AdminRespond(ctx, f.admin, n.NegotiationID, AdminRespondInput{Action: "counter", CounterPercentage: decPtr("8")})
	require.NoError(t, err)
	n, err = f.svc.ManagerRespond(ctx, f.manager, n.NegotiationID, ManagerRespondInput{Action: "accept"})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusAccepted, n.Status)
	assert.Equal(t, []notice.Kind{notice.KindOffered, notice.KindCounter, notice.KindAccepted}, kinds)
}

// passthroughTx runs without serializing, like concurrent database
// transactions. Only the version check separates the writers.
type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// racingRepo holds every GetByID until both competing callers have loaded the record.
type racingRepo struct {
	*memory.NegotiationRepository
	loaded sync.WaitGroup
}

func (r *racingRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Negotiation, error) {
	n, err := r.NegotiationRepository.GetByID(ctx, id)
	r.loaded.Done()
	r.loaded.Wait()
	return n, err
}

func TestConcurrentAdminResponses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	n := f.offer(t, &f.service.ServiceID, "10")

	repo := &racingRepo{NegotiationRepository: f.repo}
	repo.loaded.Add(2)
	svc := NewService(repo, passthroughTx{}, f.services, f.orders, nil, nil, zerolog.Nop()).
		WithClock(func() time.Time { return *f.clock })

	inputs := []AdminRespondInput{
		{Action: "accept"},
		{Action: "counter", CounterPercentage: decPtr("7")},
	}
	errs := make([]error, len(inputs))
	var wg sync.WaitGroup
	for i, in := range inputs {
		wg.Add(1)
		go func(i int, in AdminRespondInput) {
			defer wg.Done()
			_, errs[i] = svc.AdminRespond(ctx, f.admin, n.NegotiationID, in)
		}(i, in)
	}
	wg.Wait()

	succeeded, stale := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrStaleState):
			stale++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, stale)

	stored, err := f.repo.GetByID(ctx, n.NegotiationID)
	require.NoError(t, err)
	assert.Len(t, stored.History, 2)
	assert.Equal(t, int64(1), stored.Version)
}

func TestConcurrentOffers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	const callers = 20
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateOffer(ctx, f.manager, CreateOfferInput{ServiceID: &f.service.ServiceID, Percentage: dec("10")})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrConflictingOffer):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)

	items, err := f.svc.List(ctx, f.admin, ListFilter{ServiceID: &f.service.ServiceID}, 50, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

// failingCreateRepo refuses every insert.
type failingCreateRepo struct {
	*memory.NegotiationRepository
}

func (failingCreateRepo) Create(context.Context, *domain.Negotiation) error {
	return errors.New("insert failed")
}

func TestCreateOffer_RetireRolledBackWhenInsertFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	until := f.clock.Add(time.Hour)
	first, err := f.svc.CreateOffer(ctx, f.manager, CreateOfferInput{ServiceID: &f.service.ServiceID, Percentage: dec("20"), ValidUntil: &until})
	require.NoError(t, err)
	f.advance(2 * time.Hour)

	repo := failingCreateRepo{NegotiationRepository: f.repo}
	svc := NewService(repo, memory.NewTransactor(f.repo, f.services), f.services, f.orders, nil, nil, zerolog.Nop()).
		WithClock(func() time.Time { return *f.clock })
	_, err = svc.CreateOffer(ctx, f.manager, CreateOfferInput{ServiceID: &f.service.ServiceID, Percentage: dec("18")})
	require.Error(t, err)

	stored, err := f.repo.GetByID(ctx, first.NegotiationID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Equal(t, int64(0), stored.Version)
}

// clearHookServices runs onClear just before a commission cache is cleared.
type clearHookServices struct {
	*memory.ServiceRepository
	onClear func()
}

func (r *clearHookServices) SetCommission(ctx context.Context, serviceID uuid.UUID, cache *catalog.CommissionCache) error {
	if cache == nil && r.onClear != nil {
		hook := r.onClear
		r.onClear = nil
		hook()
	}
	return r.ServiceRepository.SetCommission(ctx, serviceID, cache)
}

func TestDeactivateIsNeverSeenHalfApplied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	n := f.offer(t, &f.service.ServiceID, "15")
	_, err := f.svc.AdminRespond(ctx, f.admin, n.NegotiationID, AdminRespondInput{Action: "accept"})
	require.NoError(t, err)

	services := &clearHookServices{ServiceRepository: f.services}
	svc := NewService(f.repo, memory.NewTransactor(f.repo, f.services), services, f.orders, nil, nil, zerolog.Nop()).
		WithClock(func() time.Time { return *f.clock })

	results := make(chan *Resolution, 1)
	var early *Resolution
	services.onClear = func() {
		// The record is already deactivated but the cache still points at it.
		go func() {
			res, err := svc.ResolveEffective(context.Background(), f.service.ServiceID)
			if err != nil {
				res = nil
			}
			results <- res
		}()
		select {
		case early = <-results:
		case <-time.After(50 * time.Millisecond):
		}
	}

	_, err = svc.Deactivate(ctx, f.admin, n.NegotiationID, "superseded")
	require.NoError(t, err)
	require.Nil(t, early, "resolution completed while the deactivation was half applied")

	res := <-results
	require.NotNil(t, res)
	assert.Equal(t, SourceNone, res.Source)
	assert.True(t, res.Percentage.IsZero())
}

func TestTransitionsAreAuditedWithBeforeAndAfter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	n := f.offer(t, &f.service.ServiceID, "12")

	created := f.audit.last()
	assert.Equal(t, audit.ActionCreate, created.Action)
	assert.Nil(t, created.Before)
	assert.Equal(t, "MANAGER", created.Role)

	_, err := f.svc.AdminRespond(ctx, f.admin, n.NegotiationID, AdminRespondInput{Action: "counter", CounterPercentage: decPtr("9")})
	require.NoError(t, err)

	countered := f.audit.last()
	assert.Equal(t, audit.ActionCounter, countered.Action)
	assert.Equal(t, "user:admin1", countered.Actor)
	require.NotNil(t, countered.Before)
	assert.Equal(t, domain.StatusPending, countered.Before.Status)
	assert.Equal(t, int64(0), countered.Before.Version)
	assert.Equal(t, domain.StatusNegotiating, countered.After.Status)
	assert.Equal(t, int64(1), countered.After.Version)
}
