package shopee

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketsync/internal/retry"
)

const (
	testPartnerID  int64 = 2001234
	testPartnerKey       = "test-partner-key"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := NewConfig(testPartnerID, testPartnerKey)
	cfg.BaseURL = srv.URL
	c, err := NewClient(cfg, nil, WithHTTPClient(srv.Client()), WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func noSleep(context.Context, time.Duration) error { return nil }

// fastRetry retries transient failures without waiting.
var fastRetry = retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
