package dailymetrics

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"marketsync/internal/db"
)

// DynamoStore keeps buckets as
// PK = USER#<userID>
// SK = METRIC#<platform>#<YYYY-MM-DD>
type DynamoStore struct {
	ddb   db.DynamoAPI
	table string
}

func NewDynamoStore(ddb db.DynamoAPI, table string) (*DynamoStore, error) {
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("DAILY_METRICS_TABLE not configured")
	}
	return &DynamoStore{ddb: ddb, table: table}, nil
}

func metricSK(platform, date string) string {
	return fmt.Sprintf("METRIC#%s#%s", platform, date)
}

// Put is a single UpdateItem SET, so the three metric values are replaced and
// never added to. CreatedAt survives overwrites.
func (s *DynamoStore) Put(ctx context.Context, b Bucket) error {
	updatedAt := b.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	ts := updatedAt.UTC().Format(time.RFC3339)

	_, err := s.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key:       db.Key(db.UserPK(b.UserID), metricSK(b.Platform, b.Date)),
		UpdateExpression: aws.String("SET UserID = :uid, Platform = :p, MetricDate = :d, " +
			"Faturamento = :f, VendasQuantidade = :q, VendasValor = :v, " +
			"UpdatedAt = :ts, CreatedAt = if_not_exists(CreatedAt, :ts)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":uid": db.S(b.UserID),
			":p":   db.S(b.Platform),
			":d":   db.S(b.Date),
			":f":   db.N(b.Faturamento.String()),
			":q":   db.N(strconv.Itoa(b.VendasQuantidade)),
			":v":   db.N(b.VendasValor.String()),
			":ts":  db.S(ts),
		},
	})
	if err != nil {
		return fmt.Errorf("update daily metric %s: %w", b.Date, err)
	}
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, userID, platform, date string) (*Bucket, error) {
	out, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       db.Key(db.UserPK(userID), metricSK(platform, date)),
	})
	if err != nil {
		return nil, fmt.Errorf("get daily metric: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("%w: %s %s %s", ErrNotFound, userID, platform, date)
	}
	return decodeBucket(out.Item)
}

// ListDay scans every bucket of one date across users and platforms.
func (s *DynamoStore) ListDay(ctx context.Context, date string) ([]Bucket, error) {
	var (
		out      []Bucket
		startKey map[string]ddbtypes.AttributeValue
	)
	for {
		page, err := s.ddb.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.table),
			ExclusiveStartKey: startKey,
			FilterExpression:  aws.String("#d = :d"),
			ExpressionAttributeNames: map[string]string{
				"#d": "MetricDate",
			},
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":d": db.S(date),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("scan daily metrics %s: %w", date, err)
		}

		for _, it := range page.Items {
			b, err := decodeBucket(it)
			if err != nil {
				return nil, err
			}
			out = append(out, *b)
		}

		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		startKey = page.LastEvaluatedKey
	}
	return out, nil
}

func decodeBucket(item map[string]ddbtypes.AttributeValue) (*Bucket, error) {
	b := &Bucket{
		UserID:   str(item, "UserID"),
		Platform: str(item, "Platform"),
		Date:     str(item, "MetricDate"),
	}

	var err error
	if b.Faturamento, err = dec(item, "Faturamento"); err != nil {
		return nil, err
	}
	if b.VendasValor, err = dec(item, "VendasValor"); err != nil {
		return nil, err
	}
	q, err := dec(item, "VendasQuantidade")
	if err != nil {
		return nil, err
	}
	b.VendasQuantidade = int(q.IntPart())

	if ts := str(item, "UpdatedAt"); ts != "" {
		b.UpdatedAt, _ = time.Parse(time.RFC3339, ts)
	}
	return b, nil
}

func str(item map[string]ddbtypes.AttributeValue, name string) string {
	if v, ok := item[name].(*ddbtypes.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func dec(item map[string]ddbtypes.AttributeValue, name string) (decimal.Decimal, error) {
	v, ok := item[name].(*ddbtypes.AttributeValueMemberN)
	if !ok {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v.Value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode %s: %w", name, err)
	}
	return d, nil
}

var _ Store = (*DynamoStore)(nil)
