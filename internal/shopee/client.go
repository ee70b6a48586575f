package shopee

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// ShopScope identifies the seller account a shop-scoped call acts on.
type ShopScope struct {
	AccessToken string
	ShopID      int64
}

// Client signs and issues partner API calls. It does not retry; callers apply
// their own retry.Policy around each call.
type Client struct {
	cfg    *Config
	http   *http.Client
	now    func() time.Time
	logger *zap.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

func NewClient(cfg *Config, logger *zap.Logger, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// PartnerID returns the configured partner id.
func (c *Client) PartnerID() int64 {
	return c.cfg.PartnerID
}

// Get issues a signed GET and decodes the JSON body into out.
func (c *Client) Get(ctx context.Context, path string, scope *ShopScope, params url.Values, out any) error {
	u := c.signedURL(path, scope, params)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrRequestFailed, err)
	}
	return c.do(req, path, out)
}

// Post issues a signed POST with a JSON body and decodes the JSON response into out.
func (c *Client) Post(ctx context.Context, path string, scope *ShopScope, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: marshal body: %v", ErrRequestFailed, err)
	}

	u := c.signedURL(path, scope, nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

// signedURL appends partner_id, timestamp and sign (plus access_token and
// shop_id for shop-scoped calls) to params.
func (c *Client) signedURL(path string, scope *ShopScope, params url.Values) string {
	q := url.Values{}
	for k, vs := range params {
		q[k] = append([]string(nil), vs...)
	}

	ts := c.now().Unix()
	q.Set("partner_id", strconv.FormatInt(c.cfg.PartnerID, 10))
	q.Set("timestamp", strconv.FormatInt(ts, 10))

	if scope != nil {
		q.Set("access_token", scope.AccessToken)
		q.Set("shop_id", strconv.FormatInt(scope.ShopID, 10))
		q.Set("sign", c.cfg.SignShop(path, ts, scope.AccessToken, scope.ShopID))
	} else {
		q.Set("sign", c.cfg.SignAuth(path, ts))
	}

	return c.cfg.BaseURL + path + "?" + q.Encode()
}

func (c *Client) do(req *http.Request, path string, out any) error {
	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRequestFailed, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %w", ErrRequestFailed, err)
	}

	c.logger.Debug("shopee call",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", c.now().Sub(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 512)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
