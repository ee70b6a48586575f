package shopee

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refs(n int) []OrderRef {
	out := make([]OrderRef, n)
	for i := range out {
		out[i] = OrderRef{OrderSN: fmt.Sprintf("SN%03d", i)}
	}
	return out
}

// detailServer echoes one detail per requested order_sn; failBatch selects
// which request (0-based) answers with errCode instead.
func detailServer(t *testing.T, failBatch int, errCode string, sizes *[]int) http.HandlerFunc {
	call := 0
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, detailOptionalFields, q.Get("response_optional_fields"))
		sns := strings.Split(q.Get("order_sn_list"), ",")
		*sizes = append(*sizes, len(sns))

		defer func() { call++ }()
		if call == failBatch {
			writeJSON(t, w, map[string]any{"error": errCode, "message": "boom"})
			return
		}

		list := make([]map[string]any, 0, len(sns))
		for _, sn := range sns {
			list = append(list, map[string]any{
				"order_sn":     sn,
				"order_status": "COMPLETED",
				"create_time":  1714557600,
				"total_amount": 10.5,
			})
		}
		writeJSON(t, w, map[string]any{"response": map[string]any{"order_list": list}})
	}
}

func newTestBatcher(c *Client) *DetailBatcher {
	b := NewDetailBatcher(c, BatcherConfig{}, fastRetry, nil)
	b.sleep = noSleep
	return b
}

func TestBatcher_ChunksOfFifty(t *testing.T) {
	var sizes []int
	c := newTestClient(t, detailServer(t, -1, "", &sizes))
	b := newTestBatcher(c)

	results, err := b.FetchDetails(context.Background(), ShopScope{AccessToken: "t", ShopID: 1}, refs(120))
	require.NoError(t, err)

	assert.Equal(t, []int{50, 50, 20}, sizes)
	assert.Equal(t, BatchStats{Total: 3, Fetched: 3}, Stats(results))
	details := Details(results)
	require.Len(t, details, 120)
	assert.Equal(t, "SN000", details[0].OrderSN)
	require.NotNil(t, details[0].TotalAmount)
	assert.Equal(t, "10.5", details[0].TotalAmount.String())
}

func TestBatcher_SkipsFailedBatch(t *testing.T) {
	var sizes []int
	c := newTestClient(t, detailServer(t, 1, "error_param", &sizes))
	b := newTestBatcher(c)

	results, err := b.FetchDetails(context.Background(), ShopScope{AccessToken: "t", ShopID: 1}, refs(120))
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Fetched())
	assert.Equal(t, BatchSkipped, results[1].Status)
	assert.Contains(t, results[1].Reason, "error_param")
	assert.Len(t, results[1].OrderSNs, 50)
	assert.Empty(t, results[1].Details)
	assert.True(t, results[2].Fetched())

	assert.Equal(t, BatchStats{Total: 3, Fetched: 2, Skipped: 1}, Stats(results))
	assert.Len(t, Details(results), 70)
}

func TestBatcher_AuthErrorAborts(t *testing.T) {
	var sizes []int
	c := newTestClient(t, detailServer(t, 1, "error_auth", &sizes))
	b := newTestBatcher(c)

	results, err := b.FetchDetails(context.Background(), ShopScope{AccessToken: "t", ShopID: 1}, refs(120))
	assert.ErrorIs(t, err, ErrAuth)
	assert.Len(t, results, 1)
	assert.Len(t, sizes, 2)
}

func TestBatcher_NoRefs(t *testing.T) {
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Error("no request expected")
	})
	results, err := newTestBatcher(c).FetchDetails(context.Background(), ShopScope{}, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChunk(t *testing.T) {
	assert.Nil(t, chunk(nil, 50))
	got := chunk([]string{"a", "b", "c"}, 2)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, got)
}

func TestOrderDetail_Order(t *testing.T) {
	zero := int64(0)
	d := OrderDetail{OrderSN: "A", CreateTime: 1714557600, PayTime: &zero}
	o := d.Order()
	assert.Nil(t, o.PaidAt)
	assert.Equal(t, int64(1714557600), o.CreatedAt.Unix())

	paid := int64(1714561200)
	d.PayTime = &paid
	o = d.Order()
	require.NotNil(t, o.PaidAt)
	assert.Equal(t, paid, o.PaidAt.Unix())
}
