package etl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"go.uber.org/zap"
)

var ErrRepairTimeout = errors.New("etl: partition repair timed out")

// AthenaAPI is the subset of the Athena client used for partition repair.
type AthenaAPI interface {
	StartQueryExecution(ctx context.Context, in *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, in *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
}

type RepairConfig struct {
	Database  string
	Table     string
	Workgroup string
	// Output is the s3:// location for query results.
	Output string

	PollInterval time.Duration
	Timeout      time.Duration
}

type RepairResult struct {
	QueryID string `json:"query_id,omitempty"`
	State   string `json:"state,omitempty"`
	Created int    `json:"created,omitempty"`
}

// PartitionRepairer runs MSCK REPAIR TABLE so Athena sees new dt/platform
// partitions. It scans the whole table location and ignores the partition list.
type PartitionRepairer struct {
	ath    AthenaAPI
	cfg    RepairConfig
	sleep  func(context.Context, time.Duration) error
	logger *zap.Logger
}

func NewPartitionRepairer(ath AthenaAPI, cfg RepairConfig, log *zap.Logger) (*PartitionRepairer, error) {
	if cfg.Database == "" || cfg.Table == "" || cfg.Output == "" {
		return nil, errors.New("etl: athena database, table and output are required")
	}
	if !strings.HasPrefix(cfg.Output, "s3://") {
		return nil, errors.New("etl: athena output must start with s3://")
	}
	if cfg.Workgroup == "" {
		cfg.Workgroup = "primary"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PartitionRepairer{ath: ath, cfg: cfg, sleep: sleepCtx, logger: log}, nil
}

func (r *PartitionRepairer) Repair(ctx context.Context, _ []Partition) (RepairResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	startOut, err := r.ath.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString: aws.String(fmt.Sprintf("MSCK REPAIR TABLE %s;", r.cfg.Table)),
		QueryExecutionContext: &athenatypes.QueryExecutionContext{
			Database: aws.String(r.cfg.Database),
		},
		WorkGroup: aws.String(r.cfg.Workgroup),
		ResultConfiguration: &athenatypes.ResultConfiguration{
			OutputLocation: aws.String(r.cfg.Output),
		},
	})
	if err != nil {
		return RepairResult{}, fmt.Errorf("StartQueryExecution: %w", err)
	}

	qid := aws.ToString(startOut.QueryExecutionId)
	log := r.logger.With(zap.String("query_id", qid), zap.String("table", r.cfg.Table))
	log.Info("partition repair started")

	for {
		st, err := r.ath.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(qid),
		})
		if err != nil {
			if ctx.Err() != nil {
				return RepairResult{QueryID: qid, State: "TIMEOUT"}, fmt.Errorf("%w: qid=%s", ErrRepairTimeout, qid)
			}
			return RepairResult{QueryID: qid}, fmt.Errorf("GetQueryExecution: %w", err)
		}

		var state athenatypes.QueryExecutionState
		var reason string
		if st.QueryExecution != nil && st.QueryExecution.Status != nil {
			state = st.QueryExecution.Status.State
			reason = aws.ToString(st.QueryExecution.Status.StateChangeReason)
		}

		switch state {
		case athenatypes.QueryExecutionStateSucceeded:
			log.Info("partition repair succeeded")
			return RepairResult{QueryID: qid, State: string(state)}, nil
		case athenatypes.QueryExecutionStateFailed, athenatypes.QueryExecutionStateCancelled:
			return RepairResult{QueryID: qid, State: string(state)}, fmt.Errorf("repair %s: %s", state, reason)
		}

		if err := r.sleep(ctx, r.cfg.PollInterval); err != nil {
			return RepairResult{QueryID: qid, State: "TIMEOUT"}, fmt.Errorf("%w: qid=%s", ErrRepairTimeout, qid)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
