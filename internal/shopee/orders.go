package shopee

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"marketsync/internal/retry"
)

type PaginatorConfig struct {
	PageSize     int
	SliceSpan    time.Duration
	RequestDelay time.Duration
}

// OrderPaginator walks a lookback window slice by slice, following the cursor
// within each slice, and yields completed order identifiers.
type OrderPaginator struct {
	client *Client
	cfg    PaginatorConfig
	retry  retry.Policy
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
	logger *zap.Logger
}

func NewOrderPaginator(client *Client, cfg PaginatorConfig, policy retry.Policy, logger *zap.Logger) *OrderPaginator {
	if cfg.PageSize <= 0 || cfg.PageSize > 100 {
		cfg.PageSize = 100
	}
	if cfg.SliceSpan <= 0 || cfg.SliceSpan > MaxWindowSpan {
		cfg.SliceSpan = MaxWindowSpan
	}
	if policy.Retryable == nil {
		policy.Retryable = IsRetryable
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderPaginator{
		client: client,
		cfg:    cfg,
		retry:  policy,
		now:    time.Now,
		sleep:  sleepContext,
		logger: logger,
	}
}

// CompletedOrders lazily yields the completed orders created in
// [now-lookback, now). Iteration stops at the first error, which is yielded
// with a zero OrderRef.
func (p *OrderPaginator) CompletedOrders(ctx context.Context, scope ShopScope, lookback time.Duration) iter.Seq2[OrderRef, error] {
	return func(yield func(OrderRef, error) bool) {
		end := p.now().Truncate(time.Second)
		calls := 0

		for _, w := range Windows(end, lookback, p.cfg.SliceSpan) {
			cursor := ""
			for page := 1; ; page++ {
				if calls > 0 {
					if err := p.sleep(ctx, p.cfg.RequestDelay); err != nil {
						yield(OrderRef{}, err)
						return
					}
				}
				calls++

				resp, err := p.fetchPage(ctx, scope, w, cursor)
				if err != nil {
					yield(OrderRef{}, fmt.Errorf("order list %s..%s page %d: %w",
						w.From.Format(time.RFC3339), w.To.Format(time.RFC3339), page, err))
					return
				}

				for _, ref := range resp.Response.OrderList {
					if !yield(ref, nil) {
						return
					}
				}

				if !resp.Response.More {
					break
				}
				if resp.Response.NextCursor == "" {
					yield(OrderRef{}, fmt.Errorf("%w: more=true without next_cursor", ErrInvalidResponse))
					return
				}
				cursor = resp.Response.NextCursor
			}

			p.logger.Debug("order list slice done",
				zap.Int64("shop_id", scope.ShopID),
				zap.Time("slice_from", w.From),
				zap.Time("slice_to", w.To),
			)
		}
	}
}

// ListCompletedOrderIDs drains CompletedOrders.
func (p *OrderPaginator) ListCompletedOrderIDs(ctx context.Context, scope ShopScope, lookback time.Duration) ([]OrderRef, error) {
	var refs []OrderRef
	for ref, err := range p.CompletedOrders(ctx, scope, lookback) {
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// fetchPage requests one page. time_to is sent as To-1s because the platform
// treats it as inclusive.
func (p *OrderPaginator) fetchPage(ctx context.Context, scope ShopScope, w TimeWindow, cursor string) (*orderListResponse, error) {
	params := url.Values{}
	params.Set("time_range_field", timeRangeCreateTime)
	params.Set("time_from", strconv.FormatInt(w.From.Unix(), 10))
	params.Set("time_to", strconv.FormatInt(w.To.Unix()-1, 10))
	params.Set("page_size", strconv.Itoa(p.cfg.PageSize))
	params.Set("order_status", OrderStatusCompleted)
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var out orderListResponse
	err := p.retry.Do(ctx, func() error {
		out = orderListResponse{}
		if err := p.client.Get(ctx, PathGetOrderList, &scope, params, &out); err != nil {
			return err
		}
		return out.Err()
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
