package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsync/internal/dailymetrics"
	"marketsync/internal/integrations"
	"marketsync/internal/lease"
	"marketsync/internal/shopee"
	"marketsync/internal/telemetry"
	"marketsync/internal/users"
)

type fakeIntegrations struct {
	integrations.Store
	mu       sync.Mutex
	integ    *integrations.Integration
	getErr   error
	statuses []integrations.Status
	marked   int
}

func (f *fakeIntegrations) Get(context.Context, string, string) (*integrations.Integration, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	c := *f.integ
	return &c, nil
}

func (f *fakeIntegrations) SetStatus(_ context.Context, _, _ string, s integrations.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, s)
	return nil
}

func (f *fakeIntegrations) MarkSynced(context.Context, string, string, time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked++
	return nil
}

type fakeTokens struct {
	scope shopee.ShopScope
	err   error
}

func (f *fakeTokens) EnsureValidToken(context.Context, *integrations.Integration) (shopee.ShopScope, error) {
	return f.scope, f.err
}

type fakeOrders struct {
	refs     []shopee.OrderRef
	err      error
	lookback time.Duration
}

func (f *fakeOrders) ListCompletedOrderIDs(_ context.Context, _ shopee.ShopScope, lookback time.Duration) ([]shopee.OrderRef, error) {
	f.lookback = lookback
	return f.refs, f.err
}

type fakeDetails struct {
	results []shopee.BatchResult
	err     error
}

func (f *fakeDetails) FetchDetails(context.Context, shopee.ShopScope, []shopee.OrderRef) ([]shopee.BatchResult, error) {
	return f.results, f.err
}

type fakeAlerts struct {
	sent []users.SyncFailure
}

func (f *fakeAlerts) NotifySyncFailure(_ context.Context, s users.SyncFailure) (bool, error) {
	f.sent = append(f.sent, s)
	return true, nil
}

type fakeObserver struct {
	runs []telemetry.RunStats
}

func (f *fakeObserver) ObserveRun(s telemetry.RunStats) { f.runs = append(f.runs, s) }

type memBuckets struct {
	mu   sync.Mutex
	rows map[string]dailymetrics.Bucket
	fail map[string]bool
}

func (m *memBuckets) Put(_ context.Context, b dailymetrics.Bucket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[b.Date] {
		return errors.New("write failed")
	}
	m.rows[b.Date] = b
	return nil
}

func (m *memBuckets) Get(_ context.Context, _, _, date string) (*dailymetrics.Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[date]
	if !ok {
		return nil, dailymetrics.ErrNotFound
	}
	return &b, nil
}

func (m *memBuckets) ListDay(context.Context, string) ([]dailymetrics.Bucket, error) {
	return nil, nil
}

type fixture struct {
	integ    *fakeIntegrations
	tokens   *fakeTokens
	orders   *fakeOrders
	details  *fakeDetails
	buckets  *memBuckets
	alerts   *fakeAlerts
	observer *fakeObserver
	locker   *lease.MemoryLocker
	orch     *Orchestrator
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func i64(v int64) *int64 { return &v }

func newFixture() *fixture {
	f := &fixture{
		integ: &fakeIntegrations{integ: &integrations.Integration{
			UserID: "u1", Platform: integrations.PlatformShopee, IsActive: true, SyncStatus: integrations.StatusConnected,
		}},
		tokens: &fakeTokens{scope: shopee.ShopScope{AccessToken: "tok", ShopID: 1}},
		orders: &fakeOrders{refs: []shopee.OrderRef{{OrderSN: "A"}, {OrderSN: "B"}, {OrderSN: "C"}}},
		details: &fakeDetails{results: []shopee.BatchResult{
			{Index: 0, Status: shopee.BatchFetched, OrderSNs: []string{"A", "B"}, Details: []shopee.OrderDetail{
				// 2024-05-01 10:00 UTC, paid next day
				{OrderSN: "A", CreateTime: 1714557600, PayTime: i64(1714644000), TotalAmount: dec("180"), EscrowAmount: dec("150")},
				{OrderSN: "B", CreateTime: 1714557600, TotalAmount: dec("20")},
			}},
			{Index: 1, Status: shopee.BatchSkipped, OrderSNs: []string{"C"}, Reason: "error_param"},
		}},
		buckets:  &memBuckets{rows: map[string]dailymetrics.Bucket{}, fail: map[string]bool{}},
		alerts:   &fakeAlerts{},
		observer: &fakeObserver{},
		locker:   lease.NewMemoryLocker(),
	}
	f.orch = New(Deps{
		Integrations: f.integ,
		Locker:       f.locker,
		Tokens:       f.tokens,
		Orders:       f.orders,
		Details:      f.details,
		Metrics:      dailymetrics.NewUpserter(f.buckets, f.integ, nil),
		Alerts:       f.alerts,
		Observer:     f.observer,
	}, Config{Lookback: 90 * 24 * time.Hour}, nil)
	f.orch.newID = func() string { return "run-1" }
	return f
}

func TestSync_Success(t *testing.T) {
	f := newFixture()

	sum, err := f.orch.Sync(context.Background(), "u1", Options{})
	require.NoError(t, err)

	assert.Equal(t, "run-1", sum.RunID)
	assert.Equal(t, 2, sum.SyncedDays)
	assert.Equal(t, 2, sum.OrdersProcessed)
	assert.Equal(t, 3, sum.OrdersFound)
	assert.Equal(t, 2, sum.BatchesTotal)
	assert.Equal(t, 1, sum.BatchesSkipped)
	assert.Equal(t, "Synced 2 days from 2 orders; 1 of 2 detail batches skipped", sum.Message)
	assert.Equal(t, 90*24*time.Hour, f.orders.lookback)

	paidDay := f.buckets.rows["2024-05-02"]
	assert.True(t, decimal.NewFromInt(150).Equal(paidDay.Faturamento))
	assert.True(t, decimal.NewFromInt(180).Equal(paidDay.VendasValor))
	assert.Equal(t, 1, paidDay.VendasQuantidade)

	createdDay := f.buckets.rows["2024-05-01"]
	assert.True(t, decimal.NewFromInt(20).Equal(createdDay.Faturamento))

	assert.Equal(t, 1, f.integ.marked)
	assert.Empty(t, f.alerts.sent)
	require.Len(t, f.observer.runs, 1)
	assert.Equal(t, telemetry.OutcomePartial, f.observer.runs[0].Outcome)

	t.Run("lease is released", func(t *testing.T) {
		l, err := f.locker.Acquire(context.Background(), lease.Key("u1", "shopee"), time.Minute)
		require.NoError(t, err)
		require.NoError(t, l.Release(context.Background()))
	})

	t.Run("rerun converges", func(t *testing.T) {
		before := f.buckets.rows
		snapshot := map[string]dailymetrics.Totals{}
		for k, v := range before {
			snapshot[k] = v.Totals
		}

		_, err := f.orch.Sync(context.Background(), "u1", Options{})
		require.NoError(t, err)
		for k, v := range f.buckets.rows {
			assert.True(t, snapshot[k].Faturamento.Equal(v.Faturamento), k)
			assert.True(t, snapshot[k].VendasValor.Equal(v.VendasValor), k)
			assert.Equal(t, snapshot[k].VendasQuantidade, v.VendasQuantidade, k)
		}
	})
}

func TestSync_LookbackOverrideIsCapped(t *testing.T) {
	f := newFixture()

	_, err := f.orch.Sync(context.Background(), "u1", Options{Lookback: 7 * 24 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, f.orders.lookback)

	_, err = f.orch.Sync(context.Background(), "u1", Options{Lookback: 400 * 24 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 90*24*time.Hour, f.orders.lookback)
}

func TestSync_LeaseHeld(t *testing.T) {
	f := newFixture()
	held, err := f.locker.Acquire(context.Background(), lease.Key("u1", "shopee"), time.Minute)
	require.NoError(t, err)
	defer held.Release(context.Background())

	_, err = f.orch.Sync(context.Background(), "u1", Options{})
	assert.ErrorIs(t, err, ErrInProgress)
	assert.ErrorIs(t, err, lease.ErrHeld)
	assert.Zero(t, f.integ.marked)
	require.Len(t, f.observer.runs, 1)
	assert.Equal(t, telemetry.OutcomeBusy, f.observer.runs[0].Outcome)
}

func TestSync_AuthFailure(t *testing.T) {
	f := newFixture()
	f.tokens.err = errors.Join(shopee.ErrAuth, errors.New("refresh token expired"))

	_, err := f.orch.Sync(context.Background(), "u1", Options{})
	assert.ErrorIs(t, err, shopee.ErrAuth)

	assert.Equal(t, []integrations.Status{integrations.StatusError}, f.integ.statuses)
	require.Len(t, f.alerts.sent, 1)
	assert.Equal(t, "run-1", f.alerts.sent[0].RunID)
	assert.Zero(t, f.integ.marked)
	assert.Empty(t, f.buckets.rows)
	assert.Equal(t, telemetry.OutcomeAuth, f.observer.runs[0].Outcome)
}

func TestSync_ParamErrorIsFatalWithoutStatusChange(t *testing.T) {
	f := newFixture()
	f.orders.err = &shopee.APIError{Code: "error_param", Message: "bad window"}

	_, err := f.orch.Sync(context.Background(), "u1", Options{})
	assert.ErrorIs(t, err, shopee.ErrParam)
	assert.Empty(t, f.integ.statuses)
	assert.Empty(t, f.alerts.sent)
	assert.Empty(t, f.buckets.rows)
}

func TestSync_AuthErrorDuringDetails(t *testing.T) {
	f := newFixture()
	f.details.err = &shopee.APIError{Code: "error_auth"}

	_, err := f.orch.Sync(context.Background(), "u1", Options{})
	assert.ErrorIs(t, err, shopee.ErrAuth)
	assert.Equal(t, []integrations.Status{integrations.StatusError}, f.integ.statuses)
}

func TestSync_InactiveIntegration(t *testing.T) {
	f := newFixture()
	f.integ.integ.IsActive = false

	_, err := f.orch.Sync(context.Background(), "u1", Options{})
	assert.ErrorIs(t, err, integrations.ErrInactive)
}

func TestSync_MissingIntegration(t *testing.T) {
	f := newFixture()
	f.integ.getErr = integrations.ErrNotFound

	_, err := f.orch.Sync(context.Background(), "u1", Options{})
	assert.ErrorIs(t, err, integrations.ErrNotFound)
}

func TestSync_FailedDayIsPartialSuccess(t *testing.T) {
	f := newFixture()
	f.buckets.fail["2024-05-01"] = true

	sum, err := f.orch.Sync(context.Background(), "u1", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SyncedDays)
	assert.Equal(t, []string{"2024-05-01"}, sum.FailedDays)
	assert.Contains(t, sum.Message, "1 days failed to save")
	assert.Equal(t, 1, f.integ.marked)
}

func TestSync_NoOrders(t *testing.T) {
	f := newFixture()
	f.orders.refs = nil
	f.details.results = nil

	sum, err := f.orch.Sync(context.Background(), "u1", Options{})
	require.NoError(t, err)
	assert.Equal(t, "Synced 0 days from 0 orders", sum.Message)
	assert.Equal(t, 1, f.integ.marked)
	assert.Equal(t, telemetry.OutcomeSuccess, f.observer.runs[0].Outcome)
}

func TestSync_PlatformOutageDuringRefreshLeavesStatus(t *testing.T) {
	f := newFixture()
	f.tokens.err = fmt.Errorf("refresh token: %w", &shopee.HTTPError{StatusCode: 503})

	_, err := f.orch.Sync(context.Background(), "u1", Options{})
	assert.ErrorIs(t, err, shopee.ErrRequestFailed)
	assert.NotErrorIs(t, err, shopee.ErrAuth)
	assert.Empty(t, f.integ.statuses)
	assert.Empty(t, f.alerts.sent)
	assert.Equal(t, telemetry.OutcomeFailed, f.observer.runs[0].Outcome)
}
