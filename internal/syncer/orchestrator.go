// Package syncer runs one marketplace sync for one user: lease, token,
// order discovery, detail fetch, aggregation and upsert.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketsync/internal/dailymetrics"
	"marketsync/internal/integrations"
	"marketsync/internal/lease"
	"marketsync/internal/logger"
	"marketsync/internal/shopee"
	"marketsync/internal/telemetry"
	"marketsync/internal/users"
)

// ErrInProgress is returned when another run holds the integration's lease.
var ErrInProgress = errors.New("syncer: a sync is already running for this integration")

type TokenSource interface {
	EnsureValidToken(ctx context.Context, integ *integrations.Integration) (shopee.ShopScope, error)
}

type OrderLister interface {
	ListCompletedOrderIDs(ctx context.Context, scope shopee.ShopScope, lookback time.Duration) ([]shopee.OrderRef, error)
}

type DetailFetcher interface {
	FetchDetails(ctx context.Context, scope shopee.ShopScope, refs []shopee.OrderRef) ([]shopee.BatchResult, error)
}

type MetricsWriter interface {
	Upsert(ctx context.Context, userID, platform string, totals map[string]dailymetrics.Totals) (dailymetrics.UpsertResult, error)
}

type Alerter interface {
	NotifySyncFailure(ctx context.Context, f users.SyncFailure) (bool, error)
}

type RunObserver interface {
	ObserveRun(s telemetry.RunStats)
}

// Deps are the collaborators of a run. Alerts and Observer are optional.
type Deps struct {
	Integrations integrations.Store
	Locker       lease.Locker
	Tokens       TokenSource
	Orders       OrderLister
	Details      DetailFetcher
	Metrics      MetricsWriter
	Alerts       Alerter
	Observer     RunObserver
}

type Config struct {
	Lookback    time.Duration
	MaxLookback time.Duration
	LeaseTTL    time.Duration
	Location    *time.Location
}

type Options struct {
	// Lookback overrides the configured window when positive.
	Lookback time.Duration
}

// Summary is returned to callers; it never carries order data.
type Summary struct {
	RunID           string   `json:"runId"`
	SyncedDays      int      `json:"syncedDays"`
	OrdersProcessed int      `json:"ordersProcessed"`
	OrdersFound     int      `json:"ordersFound"`
	BatchesTotal    int      `json:"batchesTotal"`
	BatchesSkipped  int      `json:"batchesSkipped"`
	FailedDays      []string `json:"failedDays,omitempty"`
	Message         string   `json:"message"`
}

type Orchestrator struct {
	deps   Deps
	cfg    Config
	now    func() time.Time
	newID  func() string
	logger *zap.Logger
}

func New(deps Deps, cfg Config, log *zap.Logger) *Orchestrator {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 90 * 24 * time.Hour
	}
	if cfg.MaxLookback <= 0 {
		cfg.MaxLookback = cfg.Lookback
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 15 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: log,
	}
}

// Sync runs one Shopee sync for userID. Skipped detail batches and failed
// day rows still produce a summary; auth failures mark the integration as
// errored and alert the user.
func (o *Orchestrator) Sync(ctx context.Context, userID string, opts Options) (*Summary, error) {
	platform := integrations.PlatformShopee
	runID := o.newID()
	start := o.now()

	log := o.logger.With(zap.String("platform", platform))
	ctx, log = logger.WithUserID(ctx, log, userID)
	ctx, log = logger.WithRunID(ctx, log, runID)

	stats := telemetry.RunStats{Platform: platform, Outcome: telemetry.OutcomeFailed}
	defer func() {
		stats.Duration = o.now().Sub(start)
		if o.deps.Observer != nil {
			o.deps.Observer.ObserveRun(stats)
		}
	}()

	held, err := o.deps.Locker.Acquire(ctx, lease.Key(userID, platform), o.cfg.LeaseTTL)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			stats.Outcome = telemetry.OutcomeBusy
			return nil, fmt.Errorf("%w: %w", ErrInProgress, err)
		}
		return nil, err
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("release lease", zap.Error(err))
		}
	}()

	integ, err := o.deps.Integrations.Get(ctx, userID, platform)
	if err != nil {
		return nil, err
	}
	if !integ.IsActive {
		return nil, fmt.Errorf("%w: %s/%s", integrations.ErrInactive, userID, platform)
	}

	lookback := o.lookback(opts)
	log.Info("sync started", zap.Duration("lookback", lookback))

	scope, err := o.deps.Tokens.EnsureValidToken(ctx, integ)
	if err != nil {
		return nil, o.fail(ctx, log, &stats, runID, integ, "token", err)
	}

	refs, err := o.deps.Orders.ListCompletedOrderIDs(ctx, scope, lookback)
	if err != nil {
		return nil, o.fail(ctx, log, &stats, runID, integ, "list orders", err)
	}

	results, err := o.deps.Details.FetchDetails(ctx, scope, refs)
	if err != nil {
		return nil, o.fail(ctx, log, &stats, runID, integ, "fetch order details", err)
	}
	batch := shopee.Stats(results)

	details := shopee.Details(results)
	orders := make([]dailymetrics.Order, 0, len(details))
	for _, d := range details {
		orders = append(orders, d.Order())
	}
	totals := dailymetrics.Aggregate(orders, o.cfg.Location)

	res, err := o.deps.Metrics.Upsert(ctx, userID, platform, totals)
	stats.BatchesFetched = batch.Fetched
	stats.BatchesSkipped = batch.Skipped
	stats.DaysUpserted = res.SyncedDays
	stats.DaysFailed = len(res.FailedDays)
	if err != nil {
		log.Error("sync failed", zap.String("stage", "upsert"), zap.Error(err))
		return nil, fmt.Errorf("upsert: %w", err)
	}

	sum := &Summary{
		RunID:           runID,
		SyncedDays:      res.SyncedDays,
		OrdersProcessed: len(orders),
		OrdersFound:     len(refs),
		BatchesTotal:    batch.Total,
		BatchesSkipped:  batch.Skipped,
		FailedDays:      res.FailedDays,
	}
	sum.Message = message(sum)

	stats.OrdersProcessed = sum.OrdersProcessed
	stats.Outcome = telemetry.OutcomeSuccess
	if sum.BatchesSkipped > 0 || len(sum.FailedDays) > 0 {
		stats.Outcome = telemetry.OutcomePartial
	}

	log.Info("sync finished",
		zap.Int("synced_days", sum.SyncedDays),
		zap.Int("orders_found", sum.OrdersFound),
		zap.Int("orders_processed", sum.OrdersProcessed),
		zap.Int("batches_skipped", sum.BatchesSkipped),
		zap.Strings("failed_days", sum.FailedDays),
		zap.Error(res.RowErr),
	)
	return sum, nil
}

func (o *Orchestrator) lookback(opts Options) time.Duration {
	lb := o.cfg.Lookback
	if opts.Lookback > 0 {
		lb = opts.Lookback
	}
	return min(lb, o.cfg.MaxLookback)
}

// fail logs a fatal stage error. Auth errors also flip the integration to
// error and alert the user; other failures leave the status untouched.
func (o *Orchestrator) fail(ctx context.Context, log *zap.Logger, stats *telemetry.RunStats, runID string, integ *integrations.Integration, stage string, err error) error {
	log.Error("sync failed", zap.String("stage", stage), zap.Error(err))

	if !errors.Is(err, shopee.ErrAuth) {
		return fmt.Errorf("%s: %w", stage, err)
	}
	stats.Outcome = telemetry.OutcomeAuth

	// the run may have been cut short by its own deadline; status must still land
	bg := context.WithoutCancel(ctx)
	if serr := o.deps.Integrations.SetStatus(bg, integ.UserID, integ.Platform, integrations.StatusError); serr != nil {
		log.Warn("set integration status", zap.Error(serr))
	}
	if o.deps.Alerts != nil {
		_, aerr := o.deps.Alerts.NotifySyncFailure(bg, users.SyncFailure{
			UserID:   integ.UserID,
			Platform: integ.Platform,
			RunID:    runID,
			Reason:   err.Error(),
			At:       o.now(),
		})
		if aerr != nil {
			log.Warn("send sync alert", zap.Error(aerr))
		}
	}
	return fmt.Errorf("%s: %w", stage, err)
}

func message(s *Summary) string {
	msg := fmt.Sprintf("Synced %d days from %d orders", s.SyncedDays, s.OrdersProcessed)
	if s.BatchesSkipped > 0 {
		msg += fmt.Sprintf("; %d of %d detail batches skipped", s.BatchesSkipped, s.BatchesTotal)
	}
	if n := len(s.FailedDays); n > 0 {
		msg += fmt.Sprintf("; %d days failed to save", n)
	}
	return msg
}
