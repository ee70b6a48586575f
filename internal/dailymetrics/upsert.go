package dailymetrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("dailymetrics: bucket not found")

// Store writes buckets. Put replaces the three metric fields of an existing
// row and inserts the row otherwise.
type Store interface {
	Put(ctx context.Context, b Bucket) error
	Get(ctx context.Context, userID, platform, date string) (*Bucket, error)
	ListDay(ctx context.Context, date string) ([]Bucket, error)
}

// SyncMarker records a completed sync on the integration row.
type SyncMarker interface {
	MarkSynced(ctx context.Context, userID, platform string, at time.Time) error
}

// UpsertResult reports what an upsert pass wrote. RowErr combines the errors
// of the failed rows.
type UpsertResult struct {
	SyncedDays int
	FailedDays []string
	RowErr     error
}

type Upserter struct {
	store  Store
	marker SyncMarker
	now    func() time.Time
	logger *zap.Logger
}

func NewUpserter(store Store, marker SyncMarker, logger *zap.Logger) *Upserter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Upserter{store: store, marker: marker, now: time.Now, logger: logger}
}

// Upsert overwrites one row per day with the given totals, then marks the
// integration synced. A failing row does not stop the others. The returned
// error is set only when nothing could be written, the context ended, or the
// integration could not be marked.
func (u *Upserter) Upsert(ctx context.Context, userID, platform string, totals map[string]Totals) (UpsertResult, error) {
	var res UpsertResult
	now := u.now().UTC()

	buckets := Buckets(userID, platform, totals)
	for _, b := range buckets {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		b.UpdatedAt = now
		if err := u.store.Put(ctx, b); err != nil {
			u.logger.Warn("daily metric upsert failed",
				zap.String("user_id", userID),
				zap.String("platform", platform),
				zap.String("date", b.Date),
				zap.Error(err),
			)
			res.FailedDays = append(res.FailedDays, b.Date)
			res.RowErr = multierr.Append(res.RowErr, fmt.Errorf("%s: %w", b.Date, err))
			continue
		}
		res.SyncedDays++
	}

	if len(buckets) > 0 && res.SyncedDays == 0 {
		return res, fmt.Errorf("upsert daily metrics: every row failed: %w", res.RowErr)
	}

	if err := u.marker.MarkSynced(ctx, userID, platform, now); err != nil {
		return res, fmt.Errorf("mark integration synced: %w", err)
	}
	return res, nil
}
