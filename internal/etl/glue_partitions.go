package etl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
	"go.uber.org/zap"
)

// glueBatchLimit is the BatchCreatePartition per-call maximum.
const glueBatchLimit = 100

// GlueAPI is the subset of the Glue client used to register partitions.
type GlueAPI interface {
	GetTable(ctx context.Context, params *glue.GetTableInput, optFns ...func(*glue.Options)) (*glue.GetTableOutput, error)
	BatchCreatePartition(ctx context.Context, params *glue.BatchCreatePartitionInput, optFns ...func(*glue.Options)) (*glue.BatchCreatePartitionOutput, error)
}

// GlueRegistrar adds the exported dt/platform partitions to the Glue catalog
// directly, reusing the table's storage descriptor.
type GlueRegistrar struct {
	glue     GlueAPI
	database string
	table    string
	logger   *zap.Logger
}

func NewGlueRegistrar(g GlueAPI, database, table string, log *zap.Logger) (*GlueRegistrar, error) {
	if strings.TrimSpace(database) == "" || strings.TrimSpace(table) == "" {
		return nil, errors.New("etl: glue database and table are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GlueRegistrar{glue: g, database: database, table: table, logger: log}, nil
}

func (r *GlueRegistrar) Repair(ctx context.Context, written []Partition) (RepairResult, error) {
	if len(written) == 0 {
		return RepairResult{State: "SUCCEEDED"}, nil
	}

	out, err := r.glue.GetTable(ctx, &glue.GetTableInput{
		DatabaseName: aws.String(r.database),
		Name:         aws.String(r.table),
	})
	if err != nil {
		return RepairResult{}, fmt.Errorf("glue GetTable %s.%s: %w", r.database, r.table, err)
	}
	if out.Table == nil || out.Table.StorageDescriptor == nil || aws.ToString(out.Table.StorageDescriptor.Location) == "" {
		return RepairResult{}, fmt.Errorf("glue table %s.%s has no storage location", r.database, r.table)
	}

	inputs, err := partitionInputs(out.Table, written)
	if err != nil {
		return RepairResult{}, err
	}

	res := RepairResult{State: "SUCCEEDED"}
	var failed []string
	for start := 0; start < len(inputs); start += glueBatchLimit {
		chunk := inputs[start:min(start+glueBatchLimit, len(inputs))]
		bout, err := r.glue.BatchCreatePartition(ctx, &glue.BatchCreatePartitionInput{
			DatabaseName:       aws.String(r.database),
			TableName:          aws.String(r.table),
			PartitionInputList: chunk,
		})
		if err != nil {
			return RepairResult{State: "FAILED", Created: res.Created}, fmt.Errorf("glue BatchCreatePartition: %w", err)
		}

		created := len(chunk)
		for _, pe := range bout.Errors {
			created--
			if pe.ErrorDetail != nil && aws.ToString(pe.ErrorDetail.ErrorCode) == "AlreadyExistsException" {
				continue
			}
			msg := "unknown"
			if pe.ErrorDetail != nil {
				msg = aws.ToString(pe.ErrorDetail.ErrorCode) + ": " + aws.ToString(pe.ErrorDetail.ErrorMessage)
			}
			failed = append(failed, strings.Join(pe.PartitionValues, "/")+" "+msg)
		}
		res.Created += created
	}

	r.logger.Info("partitions registered",
		zap.String("table", r.table),
		zap.Int("written", len(written)),
		zap.Int("created", res.Created),
	)
	if len(failed) > 0 {
		res.State = "FAILED"
		return res, fmt.Errorf("glue partitions not created: %s", strings.Join(failed, "; "))
	}
	return res, nil
}

// partitionInputs orders each partition's values by the table's partition keys.
func partitionInputs(tbl *gluetypes.Table, written []Partition) ([]gluetypes.PartitionInput, error) {
	base := ensureTrailingSlash(aws.ToString(tbl.StorageDescriptor.Location))

	inputs := make([]gluetypes.PartitionInput, 0, len(written))
	for _, p := range written {
		byKey := map[string]string{"dt": p.Date, "platform": p.Platform}

		values := make([]string, 0, len(tbl.PartitionKeys))
		var path strings.Builder
		path.WriteString(base)
		for _, k := range tbl.PartitionKeys {
			name := aws.ToString(k.Name)
			v, ok := byKey[name]
			if !ok {
				return nil, fmt.Errorf("glue table %s: unexpected partition key %q", aws.ToString(tbl.Name), name)
			}
			values = append(values, v)
			fmt.Fprintf(&path, "%s=%s/", name, v)
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("glue table %s is not partitioned", aws.ToString(tbl.Name))
		}

		sd := *tbl.StorageDescriptor
		sd.Location = aws.String(path.String())
		inputs = append(inputs, gluetypes.PartitionInput{
			Values:            values,
			StorageDescriptor: &sd,
		})
	}
	return inputs, nil
}
