package handlers

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"marketsync/internal/integrations"
	"marketsync/internal/logger"
	"marketsync/internal/syncer"
)

// ScheduledSync is the EventBridge target that syncs every active Shopee
// integration. One user's failure never stops the others.
type ScheduledSync struct {
	store       integrations.Store
	syncer      Syncer
	flush       Flusher
	concurrency int
	timeout     time.Duration
	logger      *zap.Logger
}

func NewScheduledSync(store integrations.Store, s Syncer, flush Flusher, concurrency int, timeout time.Duration, log *zap.Logger) *ScheduledSync {
	if concurrency <= 0 {
		concurrency = 4
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ScheduledSync{
		store:       store,
		syncer:      s,
		flush:       flush,
		concurrency: concurrency,
		timeout:     timeout,
		logger:      log,
	}
}

// ScheduledResult counts the outcome of one scheduled pass.
type ScheduledResult struct {
	Total  int `json:"total"`
	Synced int `json:"synced"`
	Busy   int `json:"busy"`
	Failed int `json:"failed"`
}

func (h *ScheduledSync) Handle(ctx context.Context, ev events.CloudWatchEvent) (ScheduledResult, error) {
	ctx, log := logger.WithLambdaRequest(ctx, h.logger)
	log = log.With(zap.String("event_id", ev.ID), zap.String("detail_type", ev.DetailType))
	if h.flush != nil {
		defer func() {
			if err := h.flush(context.WithoutCancel(ctx)); err != nil {
				log.Warn("flush metrics", zap.Error(err))
			}
		}()
	}

	active, err := h.store.ListActive(ctx, integrations.PlatformShopee)
	if err != nil {
		log.Error("list active integrations", zap.Error(err))
		return ScheduledResult{}, err
	}
	log.Info("scheduled sync started", zap.Int("integrations", len(active)))

	var synced, busy, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)
	for _, integ := range active {
		userID := integ.UserID
		g.Go(func() error {
			runCtx := gctx
			if h.timeout > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(gctx, h.timeout)
				defer cancel()
			}

			sum, err := h.syncer.Sync(runCtx, userID, syncer.Options{})
			switch {
			case err == nil:
				synced.Add(1)
				log.Debug("user synced", zap.String("user_id", userID), zap.String("message", sum.Message))
			case errors.Is(err, syncer.ErrInProgress):
				busy.Add(1)
				log.Info("sync already running", zap.String("user_id", userID))
			default:
				failed.Add(1)
				log.Warn("user sync failed", zap.String("user_id", userID), zap.Error(err))
			}
			// only parent cancellation stops the pass
			return nil
		})
	}
	_ = g.Wait()

	res := ScheduledResult{
		Total:  len(active),
		Synced: int(synced.Load()),
		Busy:   int(busy.Load()),
		Failed: int(failed.Load()),
	}
	log.Info("scheduled sync finished",
		zap.Int("total", res.Total),
		zap.Int("synced", res.Synced),
		zap.Int("busy", res.Busy),
		zap.Int("failed", res.Failed),
	)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}
