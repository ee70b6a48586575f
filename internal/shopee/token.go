package shopee

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketsync/internal/integrations"
	"marketsync/internal/retry"
	"marketsync/internal/security"
)

// DefaultRefreshMargin is how long before expiry a token is refreshed.
const DefaultRefreshMargin = 600 * time.Second

const credentialsVersion = 1

// Credentials are the per-shop tokens stored, sealed, on the integration row.
type Credentials struct {
	Version      int    `json:"v"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ShopID       int64  `json:"shop_id"`
	ExpireIn     int64  `json:"expire_in"`   // seconds
	ObtainedAt   int64  `json:"obtained_at"` // unix seconds
}

func (c Credentials) Validate() error {
	switch {
	case c.Version != credentialsVersion:
		return fmt.Errorf("%w: v%d", ErrUnsupportedCredentials, c.Version)
	case strings.TrimSpace(c.AccessToken) == "":
		return fmt.Errorf("%w: missing access_token", ErrInvalidCredentials)
	case strings.TrimSpace(c.RefreshToken) == "":
		return fmt.Errorf("%w: missing refresh_token", ErrInvalidCredentials)
	case c.ShopID <= 0:
		return fmt.Errorf("%w: missing shop_id", ErrInvalidCredentials)
	}
	return nil
}

func (c Credentials) ExpiresAt() time.Time {
	return time.Unix(c.ObtainedAt+c.ExpireIn, 0)
}

// Fresh reports whether the access token is still usable at now with margin to spare.
func (c Credentials) Fresh(now time.Time, margin time.Duration) bool {
	return now.Before(c.ExpiresAt().Add(-margin))
}

func (c Credentials) Scope() ShopScope {
	return ShopScope{AccessToken: c.AccessToken, ShopID: c.ShopID}
}

// Vault seals credentials bound to the owning (user, platform).
type Vault struct {
	box *security.Box
}

func NewVault(box *security.Box) *Vault {
	return &Vault{box: box}
}

func (v *Vault) Seal(userID string, c Credentials) (string, error) {
	c.Version = credentialsVersion
	return v.box.SealJSON(c, aad(userID))
}

func (v *Vault) Open(userID, sealed string) (Credentials, error) {
	var c Credentials
	if strings.TrimSpace(sealed) == "" {
		return c, fmt.Errorf("%w: no credentials on record", ErrInvalidCredentials)
	}
	if err := v.box.OpenJSON(sealed, aad(userID), &c); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return c, c.Validate()
}

func aad(userID string) string {
	return "USER#" + userID + "|" + integrations.PlatformShopee
}

// CredentialStore persists re-sealed credentials after a refresh.
type CredentialStore interface {
	UpdateCredentials(ctx context.Context, userID, platform, sealed string) error
}

type TokenRefresher struct {
	client *Client
	vault  *Vault
	store  CredentialStore
	margin time.Duration
	retry  retry.Policy
	now    func() time.Time
	logger *zap.Logger
}

func NewTokenRefresher(client *Client, vault *Vault, store CredentialStore, margin time.Duration, policy retry.Policy, logger *zap.Logger) *TokenRefresher {
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}
	// refresh tokens rotate on use; only a call the platform rejected unprocessed is safe to repeat
	policy.Retryable = refreshRetryable
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenRefresher{
		client: client,
		vault:  vault,
		store:  store,
		margin: margin,
		retry:  policy,
		now:    time.Now,
		logger: logger,
	}
}

// EnsureValidToken returns the stored access token while it is fresh; otherwise
// it refreshes, persists the new credentials and returns the new token.
func (r *TokenRefresher) EnsureValidToken(ctx context.Context, integ *integrations.Integration) (ShopScope, error) {
	creds, err := r.vault.Open(integ.UserID, integ.CredentialsEnc)
	if err != nil {
		return ShopScope{}, fmt.Errorf("%w: %w", ErrAuth, err)
	}

	now := r.now()
	if creds.Fresh(now, r.margin) {
		return creds.Scope(), nil
	}

	r.logger.Info("refreshing access token",
		zap.String("user_id", integ.UserID),
		zap.Int64("shop_id", creds.ShopID),
		zap.Time("expires_at", creds.ExpiresAt()),
	)

	refreshed, err := r.refresh(ctx, creds)
	if err != nil {
		return ShopScope{}, err
	}
	refreshed.ObtainedAt = now.Unix()

	sealed, err := r.vault.Seal(integ.UserID, refreshed)
	if err != nil {
		return ShopScope{}, fmt.Errorf("seal refreshed credentials: %w", err)
	}
	if err := r.store.UpdateCredentials(ctx, integ.UserID, integ.Platform, sealed); err != nil {
		return ShopScope{}, fmt.Errorf("persist refreshed credentials: %w", err)
	}
	integ.CredentialsEnc = sealed

	return refreshed.Scope(), nil
}

func (r *TokenRefresher) refresh(ctx context.Context, creds Credentials) (Credentials, error) {
	body := refreshTokenRequest{
		RefreshToken: creds.RefreshToken,
		ShopID:       creds.ShopID,
		PartnerID:    r.client.PartnerID(),
	}

	var out refreshTokenResponse
	err := r.retry.Do(ctx, func() error {
		out = refreshTokenResponse{}
		if err := r.client.Post(ctx, PathRefreshToken, nil, body, &out); err != nil {
			return err
		}
		return out.Err()
	})
	if err != nil {
		if ctx.Err() != nil {
			return Credentials{}, ctx.Err()
		}
		// envelope errors reject the refresh token; transport and 5xx failures pass through
		var apiErr *APIError
		if errors.As(err, &apiErr) && !IsRetryable(err) {
			return Credentials{}, fmt.Errorf("%w: refresh token: %w", ErrAuth, err)
		}
		return Credentials{}, fmt.Errorf("refresh token: %w", err)
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return Credentials{}, fmt.Errorf("%w: refresh response without access_token", ErrAuth)
	}

	next := Credentials{
		Version:      credentialsVersion,
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ShopID:       creds.ShopID,
		ExpireIn:     out.ExpireIn,
	}
	// the platform rotates refresh tokens, but keep the old one if none came back
	if next.RefreshToken == "" {
		next.RefreshToken = creds.RefreshToken
	}
	return next, nil
}

func refreshRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
