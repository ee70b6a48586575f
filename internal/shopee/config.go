package shopee

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

const (
	ProductionBaseURL = "https://partner.shopeemobileapi.com"
	SandboxBaseURL    = "https://partner.test-stable.shopeemobileapi.com"

	DefaultTimeout = 30 * time.Second
	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 10 << 20
)

// API paths. The signature covers the full path.
const (
	PathRefreshToken   = "/api/v2/auth/access_token/get"
	PathGetOrderList   = "/api/v2/order/get_order_list"
	PathGetOrderDetail = "/api/v2/order/get_order_detail"
)

// Config identifies the integrating application (the partner) to the platform.
type Config struct {
	PartnerID  int64
	PartnerKey string
	BaseURL    string
	Timeout    time.Duration
}

func NewConfig(partnerID int64, partnerKey string) *Config {
	return &Config{
		PartnerID:  partnerID,
		PartnerKey: partnerKey,
		BaseURL:    ProductionBaseURL,
		Timeout:    DefaultTimeout,
	}
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if c.PartnerID <= 0 {
		return ErrConfigMissingPartnerID
	}
	if strings.TrimSpace(c.PartnerKey) == "" {
		return ErrConfigMissingPartnerKey
	}
	if c.BaseURL == "" {
		c.BaseURL = ProductionBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return nil
}

// Sign returns the lowercase hex HMAC-SHA256 of partnerID+path+timestamp
// followed by any extra parts, keyed by partnerKey.
func Sign(partnerKey string, partnerID int64, path string, timestamp int64, extra ...string) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(partnerID, 10))
	b.WriteString(path)
	b.WriteString(strconv.FormatInt(timestamp, 10))
	for _, e := range extra {
		b.WriteString(e)
	}

	mac := hmac.New(sha256.New, []byte(partnerKey))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignAuth signs auth-scoped calls (token endpoints).
func (c *Config) SignAuth(path string, timestamp int64) string {
	return Sign(c.PartnerKey, c.PartnerID, path, timestamp)
}

// SignShop signs shop-scoped calls.
func (c *Config) SignShop(path string, timestamp int64, accessToken string, shopID int64) string {
	return Sign(c.PartnerKey, c.PartnerID, path, timestamp, accessToken, strconv.FormatInt(shopID, 10))
}
