// Package app wires configuration, AWS clients and stores into the handlers
// each Lambda entry point serves.
package app

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"marketsync/internal/config"
	"marketsync/internal/dailymetrics"
	"marketsync/internal/db"
	"marketsync/internal/etl"
	"marketsync/internal/integrations"
	"marketsync/internal/lease"
	"marketsync/internal/logger"
	"marketsync/internal/retry"
	"marketsync/internal/secrets"
	"marketsync/internal/security"
	"marketsync/internal/shopee"
	"marketsync/internal/syncer"
	"marketsync/internal/telemetry"
	"marketsync/internal/users"
)

// maxLookback bounds any requested window.
const maxLookback = 90 * 24 * time.Hour

// App holds the process-wide dependencies. Build it once per Lambda container.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	Location     *time.Location
	Integrations integrations.Store
	Metrics      dailymetrics.Store
	Recorder     *telemetry.Recorder

	aws     aws.Config
	ddb     *dynamodb.Client
	pusher  *telemetry.Pusher
	secrets *secrets.Resolver
	closers []func() error
}

// New loads configuration and opens the stores. component names the entry
// point in logs and in the Pushgateway grouping.
func New(ctx context.Context, component string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log = log.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env), zap.String("component", component))

	loc, err := time.LoadLocation(cfg.Sync.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", cfg.Sync.Timezone, err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	a := &App{
		Config:   cfg,
		Logger:   log,
		Location: loc,
		Recorder: telemetry.NewRecorder(cfg.Metrics.Namespace),
		aws:      awsCfg,
		ddb:      db.NewDynamoClient(awsCfg),
		pusher:   telemetry.NewPusher(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, pushGrouping(cfg.App.Env, component)),
		secrets:  secrets.NewResolver(ssm.NewFromConfig(awsCfg)),
	}

	if err := a.openStores(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// pushGrouping keys the Pushgateway group per container; AddContext replaces
// series within a group, so concurrent warm containers need distinct groups.
func pushGrouping(env, component string) map[string]string {
	return map[string]string{
		"env":       env,
		"component": component,
		"instance":  uuid.NewString(),
	}
}

func (a *App) openStores(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Store.Driver {
	case "postgres":
		gdb, err := db.OpenPostgres(cfg.Postgres)
		if err != nil {
			return err
		}
		if sqlDB, err := gdb.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}

		integ := integrations.NewGormStore(gdb)
		metrics := dailymetrics.NewGormStore(gdb)
		if err := integ.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate integrations: %w", err)
		}
		if err := metrics.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate daily metrics: %w", err)
		}
		a.Integrations, a.Metrics = integ, metrics

	default:
		integ, err := integrations.NewDynamoStore(a.ddb, cfg.DynamoDB.IntegrationsTable)
		if err != nil {
			return err
		}
		metrics, err := dailymetrics.NewDynamoStore(a.ddb, cfg.DynamoDB.DailyMetricsTable)
		if err != nil {
			return err
		}
		a.Integrations, a.Metrics = integ, metrics
	}
	a.Logger.Debug("stores ready", zap.String("driver", cfg.Store.Driver))
	return nil
}

// RetryPolicy builds the platform retry policy from config; retries are logged.
func (a *App) RetryPolicy() retry.Policy {
	rc := a.Config.Retry
	log := a.Logger
	return retry.Policy{
		MaxAttempts:     rc.MaxAttempts,
		InitialInterval: rc.InitialInterval,
		MaxInterval:     rc.MaxInterval,
		Multiplier:      rc.Multiplier,
		Jitter:          rc.Jitter,
		Retryable:       shopee.IsRetryable,
		OnRetry: func(err error, wait time.Duration) {
			log.Warn("retrying platform call", zap.Duration("wait", wait), zap.Error(err))
		},
	}
}

// Locker returns the lease backend named by lease.backend.
func (a *App) Locker() (lease.Locker, error) {
	switch a.Config.Lease.Backend {
	case "memory":
		return lease.NewMemoryLocker(), nil
	case "redis":
		rc := a.Config.Redis
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr(),
			Password: rc.Password,
			DB:       rc.DB,
		})
		a.closers = append(a.closers, client.Close)
		return lease.NewRedisLocker(client, ""), nil
	default:
		return lease.NewDynamoLocker(a.ddb, a.Config.DynamoDB.LocksTable)
	}
}

// Syncer builds the Shopee sync pipeline. It resolves the partner key and the
// credential key from SSM when parameters are configured.
func (a *App) Syncer(ctx context.Context) (*syncer.Orchestrator, error) {
	cfg := a.Config

	partnerKey, err := a.secrets.Value(ctx, cfg.Shopee.PartnerKey, cfg.Shopee.PartnerKeyParam)
	if err != nil {
		return nil, fmt.Errorf("resolve partner key: %w", err)
	}
	keyB64, err := a.secrets.Value(ctx, cfg.Security.TokenKeyB64, cfg.Security.TokenKeyParam)
	if err != nil {
		return nil, fmt.Errorf("resolve token key: %w", err)
	}
	key, err := security.LoadKeyFromBase64(keyB64)
	if err != nil {
		return nil, err
	}
	box, err := security.NewBox(key)
	if err != nil {
		return nil, err
	}

	client, err := shopee.NewClient(&shopee.Config{
		PartnerID:  cfg.Shopee.PartnerID,
		PartnerKey: partnerKey,
		BaseURL:    cfg.Shopee.BaseURL,
		Timeout:    cfg.Shopee.Timeout,
	}, a.Logger)
	if err != nil {
		return nil, err
	}

	locker, err := a.Locker()
	if err != nil {
		return nil, err
	}

	policy := a.RetryPolicy()
	deps := syncer.Deps{
		Integrations: a.Integrations,
		Locker:       locker,
		Tokens:       shopee.NewTokenRefresher(client, shopee.NewVault(box), a.Integrations, cfg.Sync.RefreshMargin, policy, a.Logger),
		Orders: shopee.NewOrderPaginator(client, shopee.PaginatorConfig{
			PageSize:     cfg.Sync.PageSize,
			SliceSpan:    cfg.Sync.SliceSpan,
			RequestDelay: cfg.Sync.RequestDelay,
		}, policy, a.Logger),
		Details: shopee.NewDetailBatcher(client, shopee.BatcherConfig{
			BatchSize:    cfg.Sync.DetailBatchSize,
			RequestDelay: cfg.Sync.RequestDelay,
		}, policy, a.Logger),
		Metrics:  dailymetrics.NewUpserter(a.Metrics, a.Integrations, a.Logger),
		Observer: a.Recorder,
	}
	if cfg.Alerts.Enabled {
		deps.Alerts = users.NewNotifier(a.ddb, sns.NewFromConfig(a.aws), cfg.DynamoDB.UsersTable, a.Logger)
	}

	return syncer.New(deps, syncer.Config{
		Lookback:    cfg.Sync.Lookback,
		MaxLookback: maxLookback,
		LeaseTTL:    cfg.Lease.TTL,
		Location:    a.Location,
	}, a.Logger), nil
}

// Export builds the daily metrics export. When the analytics table is
// configured, written partitions are registered in Glue or found by an Athena
// MSCK REPAIR, per athena.partitions.
func (a *App) Export() (*etl.DailyMetricsExport, error) {
	cfg := a.Config

	var repair etl.Repairer
	if cfg.Athena.Database != "" && cfg.Athena.Table != "" {
		var err error
		switch cfg.Athena.Partitions {
		case "msck":
			repair, err = etl.NewPartitionRepairer(athena.NewFromConfig(a.aws), etl.RepairConfig{
				Database:  cfg.Athena.Database,
				Table:     cfg.Athena.Table,
				Workgroup: cfg.Athena.Workgroup,
				Output:    cfg.Athena.Output,
			}, a.Logger)
		default:
			repair, err = etl.NewGlueRegistrar(glue.NewFromConfig(a.aws), cfg.Athena.Database, cfg.Athena.Table, a.Logger)
		}
		if err != nil {
			return nil, err
		}
	}

	return etl.NewDailyMetricsExport(a.Metrics, s3.NewFromConfig(a.aws), repair, etl.ExportConfig{
		Bucket:   cfg.ETL.Bucket,
		Prefix:   cfg.ETL.Prefix,
		DaysBack: cfg.ETL.DaysBack,
		Location: a.Location,
	}, a.Logger)
}

// Flush pushes run metrics when a Pushgateway is configured.
func (a *App) Flush(ctx context.Context) error {
	return a.pusher.Push(ctx, a.Recorder)
}

func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return err
}
