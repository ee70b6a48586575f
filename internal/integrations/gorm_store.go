package integrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IntegrationModel is the relational row for one (user, platform) integration.
type IntegrationModel struct {
	ID             uint   `gorm:"primaryKey"`
	UserID         string `gorm:"size:128;not null;uniqueIndex:ux_integrations_user_platform"`
	Platform       string `gorm:"size:32;not null;uniqueIndex:ux_integrations_user_platform"`
	CredentialsEnc string `gorm:"type:text;not null"`
	IsActive       bool   `gorm:"not null;default:true;index"`
	SyncStatus     string `gorm:"size:16;not null"`
	LastSyncAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (IntegrationModel) TableName() string {
	return "integrations"
}

func (m *IntegrationModel) toDomain() *Integration {
	return &Integration{
		UserID:         m.UserID,
		Platform:       m.Platform,
		CredentialsEnc: m.CredentialsEnc,
		IsActive:       m.IsActive,
		SyncStatus:     Status(m.SyncStatus),
		LastSyncAt:     m.LastSyncAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// GormStore keeps integrations in Postgres.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

// Migrate creates the integrations table.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&IntegrationModel{})
}

func (s *GormStore) Get(ctx context.Context, userID, platform string) (*Integration, error) {
	var m IntegrationModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND platform = ?", userID, platform).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, userID, platform)
		}
		return nil, fmt.Errorf("get integration: %w", err)
	}
	return m.toDomain(), nil
}

func (s *GormStore) ListActive(ctx context.Context, platform string) ([]Integration, error) {
	var rows []IntegrationModel
	err := s.db.WithContext(ctx).
		Where("platform = ? AND is_active = ?", platform, true).
		Order("user_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}

	out := make([]Integration, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toDomain())
	}
	return out, nil
}

// Save inserts or replaces the row for (user, platform).
func (s *GormStore) Save(ctx context.Context, integ *Integration) error {
	now := s.now().UTC()
	if integ.CreatedAt.IsZero() {
		integ.CreatedAt = now
	}
	integ.UpdatedAt = now

	m := &IntegrationModel{
		UserID:         integ.UserID,
		Platform:       integ.Platform,
		CredentialsEnc: integ.CredentialsEnc,
		IsActive:       integ.IsActive,
		SyncStatus:     string(integ.SyncStatus),
		LastSyncAt:     integ.LastSyncAt,
		CreatedAt:      integ.CreatedAt,
		UpdatedAt:      integ.UpdatedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"credentials_enc",
			"is_active",
			"sync_status",
			"last_sync_at",
			"updated_at",
		}),
	}).Create(m).Error
	if err != nil {
		return fmt.Errorf("save integration: %w", err)
	}
	return nil
}

func (s *GormStore) UpdateCredentials(ctx context.Context, userID, platform, sealed string) error {
	return s.update(ctx, userID, platform, map[string]any{"credentials_enc": sealed})
}

func (s *GormStore) MarkSynced(ctx context.Context, userID, platform string, at time.Time) error {
	return s.update(ctx, userID, platform, map[string]any{
		"last_sync_at": at.UTC(),
		"sync_status":  string(StatusConnected),
	})
}

func (s *GormStore) SetStatus(ctx context.Context, userID, platform string, status Status) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.update(ctx, userID, platform, map[string]any{"sync_status": string(status)})
}

func (s *GormStore) Deactivate(ctx context.Context, userID, platform string) error {
	return s.update(ctx, userID, platform, map[string]any{
		"is_active":   false,
		"sync_status": string(StatusDisconnected),
	})
}

func (s *GormStore) update(ctx context.Context, userID, platform string, cols map[string]any) error {
	cols["updated_at"] = s.now().UTC()

	res := s.db.WithContext(ctx).
		Model(&IntegrationModel{}).
		Where("user_id = ? AND platform = ?", userID, platform).
		Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("update integration: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, userID, platform)
	}
	return nil
}

var _ Store = (*GormStore)(nil)
