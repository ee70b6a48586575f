// Package etl exports synced daily metrics to the analytics bucket as
// Hive-partitioned Parquet and keeps the Athena partitions current.
package etl

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/zap"

	"marketsync/internal/dailymetrics"
	"marketsync/internal/logger"
)

// MetricRow matches the Glue table columns. Partition columns (dt, platform)
// live in the object key.
type MetricRow struct {
	UserID           string  `parquet:"name=user_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Platform         string  `parquet:"name=platform, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	MetricDate       string  `parquet:"name=metric_date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Faturamento      float64 `parquet:"name=faturamento, type=DOUBLE"`
	VendasQuantidade int64   `parquet:"name=vendas_quantidade, type=INT64"`
	VendasValor      float64 `parquet:"name=vendas_valor, type=DOUBLE"`
	UpdatedAt        string  `parquet:"name=updated_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func rowFromBucket(b dailymetrics.Bucket) MetricRow {
	return MetricRow{
		UserID:           b.UserID,
		Platform:         b.Platform,
		MetricDate:       b.Date,
		Faturamento:      b.Faturamento.InexactFloat64(),
		VendasQuantidade: int64(b.VendasQuantidade),
		VendasValor:      b.VendasValor.InexactFloat64(),
		UpdatedAt:        b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// S3API is the subset of the S3 client used by the export.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Partition is one dt/platform directory written by an export.
type Partition struct {
	Date     string
	Platform string
}

// Repairer refreshes table partitions after new objects land.
type Repairer interface {
	Repair(ctx context.Context, written []Partition) (RepairResult, error)
}

type ExportConfig struct {
	Bucket   string
	Prefix   string
	DaysBack int
	Location *time.Location
}

type ExportResult struct {
	Ok       bool   `json:"ok"`
	DaysBack int    `json:"days_back"`
	Rows     int    `json:"rows"`
	Objects  int    `json:"objects"`
	Bucket   string `json:"bucket"`
	Prefix   string `json:"prefix"`
	Repair   string `json:"repair,omitempty"`
}

// DailyMetricsExport is triggered by an EventBridge schedule. For each day in
// the window it writes one Parquet object per platform under
//
//	<prefix>dt=YYYY-MM-DD/platform=<platform>/part-<rand>.parquet
type DailyMetricsExport struct {
	store  dailymetrics.Store
	s3     S3API
	repair Repairer
	cfg    ExportConfig
	now    func() time.Time
	logger *zap.Logger
}

func NewDailyMetricsExport(store dailymetrics.Store, s3c S3API, repair Repairer, cfg ExportConfig, log *zap.Logger) (*DailyMetricsExport, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("etl: analytics bucket is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "daily_metrics/"
	}
	if cfg.DaysBack <= 0 || cfg.DaysBack > 90 {
		cfg.DaysBack = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DailyMetricsExport{
		store:  store,
		s3:     s3c,
		repair: repair,
		cfg:    cfg,
		now:    time.Now,
		logger: log,
	}, nil
}

func (h *DailyMetricsExport) Handle(ctx context.Context, _ events.CloudWatchEvent) (ExportResult, error) {
	ctx, log := logger.WithLambdaRequest(ctx, h.logger)

	res := ExportResult{
		Ok:       true,
		DaysBack: h.cfg.DaysBack,
		Bucket:   h.cfg.Bucket,
		Prefix:   h.cfg.Prefix,
	}

	var written []Partition
	today := h.now().In(h.cfg.Location)
	for i := 0; i < h.cfg.DaysBack; i++ {
		dt := today.AddDate(0, 0, -i).Format(dailymetrics.DateLayout)

		buckets, err := h.store.ListDay(ctx, dt)
		if err != nil {
			return ExportResult{Ok: false}, fmt.Errorf("list metrics dt=%s: %w", dt, err)
		}

		byPlatform := map[string][]MetricRow{}
		for _, b := range buckets {
			byPlatform[b.Platform] = append(byPlatform[b.Platform], rowFromBucket(b))
		}
		platforms := make([]string, 0, len(byPlatform))
		for p := range byPlatform {
			platforms = append(platforms, p)
		}
		sort.Strings(platforms)

		for _, platform := range platforms {
			rows := byPlatform[platform]
			key := fmt.Sprintf("%sdt=%s/platform=%s/part-%s.parquet",
				ensureTrailingSlash(h.cfg.Prefix), dt, platform, randHex(8))

			if err := h.putParquet(ctx, key, rows); err != nil {
				return ExportResult{Ok: false}, fmt.Errorf("write parquet dt=%s platform=%s: %w", dt, platform, err)
			}
			res.Rows += len(rows)
			res.Objects++
			written = append(written, Partition{Date: dt, Platform: platform})
			log.Debug("metrics exported", zap.String("dt", dt), zap.String("platform", platform), zap.Int("rows", len(rows)))
		}
	}

	if h.repair != nil && res.Objects > 0 {
		rr, err := h.repair.Repair(ctx, written)
		if err != nil {
			return ExportResult{Ok: false}, fmt.Errorf("repair partitions: %w", err)
		}
		res.Repair = rr.State
	}

	log.Info("daily metrics export finished",
		zap.Int("days_back", res.DaysBack),
		zap.Int("rows", res.Rows),
		zap.Int("objects", res.Objects),
	)
	return res, nil
}

func (h *DailyMetricsExport) putParquet(ctx context.Context, key string, rows []MetricRow) error {
	data, err := encodeParquet(rows)
	if err != nil {
		return err
	}

	_, err = h.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(h.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		ACL:         s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("s3 putobject: %w", err)
	}
	return nil
}

// encodeParquet writes rows to a scratch file (Lambda only has /tmp) and
// returns its bytes.
func encodeParquet(rows []MetricRow) ([]byte, error) {
	localPath := filepath.Join(os.TempDir(), "daily_metrics_"+randHex(8)+".parquet")
	defer func() { _ = os.Remove(localPath) }()

	fw, err := local.NewLocalFileWriter(localPath)
	if err != nil {
		return nil, fmt.Errorf("parquet file writer: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(MetricRow), 1)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("parquet writer: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.PageSize = 8 * 1024
	pw.CompressionType = 0

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return nil, fmt.Errorf("parquet write row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("parquet write stop: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("parquet close: %w", err)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("read parquet tmp: %w", err)
	}
	return data, nil
}

func ensureTrailingSlash(s string) string {
	if s == "" || strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}

func randHex(nBytes int) string {
	b := make([]byte, nBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
