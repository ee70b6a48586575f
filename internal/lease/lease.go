// Package lease gives one sync run exclusive ownership of a (user, platform)
// pair for a bounded time.
package lease

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrHeld is returned when another owner holds an unexpired lease on the key.
var ErrHeld = errors.New("lease: already held")

// Lease is a held lease. Release is safe to call more than once and never
// removes a lease that has since been taken by another owner.
type Lease interface {
	Key() string
	Owner() string
	Release(ctx context.Context) error
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Key names the lease of one integration.
func Key(userID, platform string) string {
	return platform + ":" + userID
}

func newOwner() string {
	return uuid.NewString()
}
