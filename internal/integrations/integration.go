package integrations

import (
	"context"
	"errors"
	"time"
)

const PlatformShopee = "shopee"

type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusConnected, StatusDisconnected, StatusError:
		return true
	default:
		return false
	}
}

var (
	ErrNotFound      = errors.New("integrations: not found")
	ErrInactive      = errors.New("integrations: integration is not active")
	ErrInvalidStatus = errors.New("integrations: invalid sync status")
)

// Integration is one connected marketplace account of a user. CredentialsEnc is
// opaque here; only the platform package can open it.
type Integration struct {
	UserID         string
	Platform       string
	CredentialsEnc string
	IsActive       bool
	SyncStatus     Status
	LastSyncAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Store persists integrations keyed by (user, platform).
type Store interface {
	Get(ctx context.Context, userID, platform string) (*Integration, error)
	ListActive(ctx context.Context, platform string) ([]Integration, error)
	Save(ctx context.Context, integ *Integration) error
	UpdateCredentials(ctx context.Context, userID, platform, sealed string) error
	MarkSynced(ctx context.Context, userID, platform string, at time.Time) error
	SetStatus(ctx context.Context, userID, platform string, status Status) error
	Deactivate(ctx context.Context, userID, platform string) error
}
