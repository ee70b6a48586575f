package dailymetrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DailyMetricModel is the relational bucket row.
type DailyMetricModel struct {
	ID               uint            `gorm:"primaryKey"`
	UserID           string          `gorm:"size:128;not null;uniqueIndex:ux_daily_metrics_key"`
	Date             string          `gorm:"column:date;size:10;not null;uniqueIndex:ux_daily_metrics_key;index"`
	Platform         string          `gorm:"size:32;not null;uniqueIndex:ux_daily_metrics_key"`
	Faturamento      decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	VendasQuantidade int             `gorm:"not null"`
	VendasValor      decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (DailyMetricModel) TableName() string {
	return "daily_metrics"
}

func (m *DailyMetricModel) toBucket() Bucket {
	return Bucket{
		UserID:   m.UserID,
		Platform: m.Platform,
		Date:     m.Date,
		Totals: Totals{
			Faturamento:      m.Faturamento,
			VendasQuantidade: m.VendasQuantidade,
			VendasValor:      m.VendasValor,
		},
		UpdatedAt: m.UpdatedAt,
	}
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&DailyMetricModel{})
}

// Put inserts the row or overwrites its metric columns on conflict.
func (s *GormStore) Put(ctx context.Context, b Bucket) error {
	updatedAt := b.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	m := &DailyMetricModel{
		UserID:           b.UserID,
		Date:             b.Date,
		Platform:         b.Platform,
		Faturamento:      b.Faturamento,
		VendasQuantidade: b.VendasQuantidade,
		VendasValor:      b.VendasValor,
		CreatedAt:        updatedAt,
		UpdatedAt:        updatedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "date"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"faturamento",
			"vendas_quantidade",
			"vendas_valor",
			"updated_at",
		}),
	}).Create(m).Error
	if err != nil {
		return fmt.Errorf("upsert daily metric %s: %w", b.Date, err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, userID, platform, date string) (*Bucket, error) {
	var m DailyMetricModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND platform = ? AND date = ?", userID, platform, date).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s %s %s", ErrNotFound, userID, platform, date)
		}
		return nil, fmt.Errorf("get daily metric: %w", err)
	}
	b := m.toBucket()
	return &b, nil
}

func (s *GormStore) ListDay(ctx context.Context, date string) ([]Bucket, error) {
	var rows []DailyMetricModel
	err := s.db.WithContext(ctx).
		Where("date = ?", date).
		Order("user_id, platform").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list daily metrics %s: %w", date, err)
	}

	out := make([]Bucket, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toBucket())
	}
	return out, nil
}

var _ Store = (*GormStore)(nil)
