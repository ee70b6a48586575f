package integrations

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupGormStore(t *testing.T) *GormStore {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	// every new connection would see a fresh in-memory database
	sqlDB.SetMaxOpenConns(1)

	s := NewGormStore(gdb)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestGormStore_SaveAndGet(t *testing.T) {
	s := setupGormStore(t)
	ctx := context.Background()

	integ := &Integration{UserID: "u1", Platform: PlatformShopee, CredentialsEnc: "sealed-1", IsActive: true, SyncStatus: StatusConnected}
	require.NoError(t, s.Save(ctx, integ))

	got, err := s.Get(ctx, "u1", PlatformShopee)
	require.NoError(t, err)
	assert.Equal(t, "sealed-1", got.CredentialsEnc)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.LastSyncAt)

	t.Run("save again replaces the row", func(t *testing.T) {
		integ.CredentialsEnc = "sealed-2"
		require.NoError(t, s.Save(ctx, integ))

		got, err := s.Get(ctx, "u1", PlatformShopee)
		require.NoError(t, err)
		assert.Equal(t, "sealed-2", got.CredentialsEnc)

		var count int64
		require.NoError(t, s.db.Model(&IntegrationModel{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})
}

func TestGormStore_GetMissing(t *testing.T) {
	s := setupGormStore(t)
	_, err := s.Get(context.Background(), "nobody", PlatformShopee)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormStore_ListActive(t *testing.T) {
	s := setupGormStore(t)
	ctx := context.Background()

	for _, uid := range []string{"u2", "u1", "u3"} {
		require.NoError(t, s.Save(ctx, &Integration{UserID: uid, Platform: PlatformShopee, CredentialsEnc: "x", IsActive: true, SyncStatus: StatusConnected}))
	}
	require.NoError(t, s.Deactivate(ctx, "u3", PlatformShopee))

	got, err := s.ListActive(ctx, PlatformShopee)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "u1", got[0].UserID)
	assert.Equal(t, "u2", got[1].UserID)
}

func TestGormStore_MarkSyncedAndStatus(t *testing.T) {
	s := setupGormStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, &Integration{UserID: "u1", Platform: PlatformShopee, CredentialsEnc: "x", IsActive: true, SyncStatus: StatusError}))

	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkSynced(ctx, "u1", PlatformShopee, at))

	got, err := s.Get(ctx, "u1", PlatformShopee)
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, got.SyncStatus)
	require.NotNil(t, got.LastSyncAt)
	assert.True(t, at.Equal(*got.LastSyncAt))

	require.NoError(t, s.SetStatus(ctx, "u1", PlatformShopee, StatusError))
	got, err = s.Get(ctx, "u1", PlatformShopee)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.SyncStatus)

	assert.ErrorIs(t, s.SetStatus(ctx, "u1", PlatformShopee, Status("bogus")), ErrInvalidStatus)
}

func TestGormStore_UpdateMissingRow(t *testing.T) {
	s := setupGormStore(t)
	err := s.UpdateCredentials(context.Background(), "ghost", PlatformShopee, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}
