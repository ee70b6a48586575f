package shopee

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketsync/internal/retry"
)

// MaxDetailBatch is the most order_sn values one detail call accepts.
const MaxDetailBatch = 50

type BatchStatus string

const (
	BatchFetched BatchStatus = "fetched"
	BatchSkipped BatchStatus = "skipped"
)

// BatchResult is the outcome of one detail chunk: either fetched details or a
// skip reason.
type BatchResult struct {
	Index    int
	OrderSNs []string
	Status   BatchStatus
	Details  []OrderDetail
	Reason   string
}

func (r BatchResult) Fetched() bool { return r.Status == BatchFetched }

// BatchStats summarizes a slice of batch results.
type BatchStats struct {
	Total   int
	Fetched int
	Skipped int
}

func Stats(results []BatchResult) BatchStats {
	s := BatchStats{Total: len(results)}
	for _, r := range results {
		if r.Fetched() {
			s.Fetched++
		} else {
			s.Skipped++
		}
	}
	return s
}

// Details flattens the details of every fetched batch.
func Details(results []BatchResult) []OrderDetail {
	var out []OrderDetail
	for _, r := range results {
		if r.Fetched() {
			out = append(out, r.Details...)
		}
	}
	return out
}

type BatcherConfig struct {
	BatchSize    int
	RequestDelay time.Duration
}

// DetailBatcher fetches order details in fixed-size chunks. A chunk that fails
// is recorded as skipped and the remaining chunks are still fetched; only auth
// failures and cancellation abort.
type DetailBatcher struct {
	client *Client
	cfg    BatcherConfig
	retry  retry.Policy
	sleep  func(context.Context, time.Duration) error
	logger *zap.Logger
}

func NewDetailBatcher(client *Client, cfg BatcherConfig, policy retry.Policy, logger *zap.Logger) *DetailBatcher {
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxDetailBatch {
		cfg.BatchSize = MaxDetailBatch
	}
	if policy.Retryable == nil {
		policy.Retryable = IsRetryable
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DetailBatcher{
		client: client,
		cfg:    cfg,
		retry:  policy,
		sleep:  sleepContext,
		logger: logger,
	}
}

func (b *DetailBatcher) FetchDetails(ctx context.Context, scope ShopScope, refs []OrderRef) ([]BatchResult, error) {
	chunks := chunk(orderSNs(refs), b.cfg.BatchSize)
	results := make([]BatchResult, 0, len(chunks))

	for i, sns := range chunks {
		if i > 0 {
			if err := b.sleep(ctx, b.cfg.RequestDelay); err != nil {
				return results, err
			}
		}

		details, err := b.fetch(ctx, scope, sns)
		if err != nil {
			if errors.Is(err, ErrAuth) || ctx.Err() != nil {
				return results, err
			}
			b.logger.Warn("skipping order detail batch",
				zap.Int64("shop_id", scope.ShopID),
				zap.Int("batch", i),
				zap.Int("orders", len(sns)),
				zap.Error(err),
			)
			results = append(results, BatchResult{Index: i, OrderSNs: sns, Status: BatchSkipped, Reason: err.Error()})
			continue
		}
		results = append(results, BatchResult{Index: i, OrderSNs: sns, Status: BatchFetched, Details: details})
	}
	return results, nil
}

func (b *DetailBatcher) fetch(ctx context.Context, scope ShopScope, sns []string) ([]OrderDetail, error) {
	params := url.Values{}
	params.Set("order_sn_list", strings.Join(sns, ","))
	params.Set("response_optional_fields", detailOptionalFields)

	var out orderDetailResponse
	err := b.retry.Do(ctx, func() error {
		out = orderDetailResponse{}
		if err := b.client.Get(ctx, PathGetOrderDetail, &scope, params, &out); err != nil {
			return err
		}
		return out.Err()
	})
	if err != nil {
		return nil, err
	}
	return out.Response.OrderList, nil
}

func orderSNs(refs []OrderRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if r.OrderSN != "" {
			out = append(out, r.OrderSN)
		}
	}
	return out
}

func chunk(items []string, size int) [][]string {
	var out [][]string
	for len(items) > 0 {
		n := min(size, len(items))
		out = append(out, items[:n:n])
		items = items[n:]
	}
	return out
}
