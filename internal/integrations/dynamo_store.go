package integrations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"marketsync/internal/db"
)

// integrationItem mirrors the DynamoDB row.
// PK = USER#<userID>
// SK = INTEGRATION#<platform>
type integrationItem struct {
	PK             string `dynamodbav:"PK"`
	SK             string `dynamodbav:"SK"`
	UserID         string `dynamodbav:"UserID"`
	Platform       string `dynamodbav:"Platform"`
	CredentialsEnc string `dynamodbav:"CredentialsEnc"`
	IsActive       bool   `dynamodbav:"IsActive"`
	SyncStatus     string `dynamodbav:"SyncStatus"`
	LastSyncAt     string `dynamodbav:"LastSyncAt,omitempty"`
	CreatedAt      string `dynamodbav:"CreatedAt"`
	UpdatedAt      string `dynamodbav:"UpdatedAt"`
}

func integrationSK(platform string) string {
	return fmt.Sprintf("INTEGRATION#%s", platform)
}

func (it integrationItem) toDomain() *Integration {
	integ := &Integration{
		UserID:         it.UserID,
		Platform:       it.Platform,
		CredentialsEnc: it.CredentialsEnc,
		IsActive:       it.IsActive,
		SyncStatus:     Status(it.SyncStatus),
		CreatedAt:      parseTime(it.CreatedAt),
		UpdatedAt:      parseTime(it.UpdatedAt),
	}
	if it.LastSyncAt != "" {
		t := parseTime(it.LastSyncAt)
		integ.LastSyncAt = &t
	}
	return integ
}

func itemFromDomain(integ *Integration) integrationItem {
	it := integrationItem{
		PK:             db.UserPK(integ.UserID),
		SK:             integrationSK(integ.Platform),
		UserID:         integ.UserID,
		Platform:       integ.Platform,
		CredentialsEnc: integ.CredentialsEnc,
		IsActive:       integ.IsActive,
		SyncStatus:     string(integ.SyncStatus),
		CreatedAt:      formatTime(integ.CreatedAt),
		UpdatedAt:      formatTime(integ.UpdatedAt),
	}
	if integ.LastSyncAt != nil {
		it.LastSyncAt = formatTime(*integ.LastSyncAt)
	}
	return it
}

type DynamoStore struct {
	ddb   db.DynamoAPI
	table string
	now   func() time.Time
}

func NewDynamoStore(ddb db.DynamoAPI, table string) (*DynamoStore, error) {
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("INTEGRATIONS_TABLE not configured")
	}
	return &DynamoStore{ddb: ddb, table: table, now: time.Now}, nil
}

func (s *DynamoStore) Get(ctx context.Context, userID, platform string) (*Integration, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("missing user id")
	}

	out, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            db.Key(db.UserPK(userID), integrationSK(platform)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get integration: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, userID, platform)
	}

	var it integrationItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("decode integration: %w", err)
	}
	return it.toDomain(), nil
}

// ListActive scans for active rows of one platform.
func (s *DynamoStore) ListActive(ctx context.Context, platform string) ([]Integration, error) {
	var (
		out      []Integration
		startKey map[string]types.AttributeValue
	)
	for {
		page, err := s.ddb.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.table),
			ExclusiveStartKey: startKey,
			FilterExpression:  aws.String("#p = :p AND #a = :a"),
			ExpressionAttributeNames: map[string]string{
				"#p": "Platform",
				"#a": "IsActive",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":p": db.S(platform),
				":a": db.Bool(true),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("scan integrations: %w", err)
		}

		var items []integrationItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("decode integrations: %w", err)
		}
		for _, it := range items {
			out = append(out, *it.toDomain())
		}

		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		startKey = page.LastEvaluatedKey
	}
	return out, nil
}

func (s *DynamoStore) Save(ctx context.Context, integ *Integration) error {
	now := s.now().UTC()
	if integ.CreatedAt.IsZero() {
		integ.CreatedAt = now
	}
	integ.UpdatedAt = now

	item, err := attributevalue.MarshalMap(itemFromDomain(integ))
	if err != nil {
		return fmt.Errorf("encode integration: %w", err)
	}
	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put integration: %w", err)
	}
	return nil
}

func (s *DynamoStore) UpdateCredentials(ctx context.Context, userID, platform, sealed string) error {
	return s.update(ctx, userID, platform, "SET CredentialsEnc = :c, UpdatedAt = :u", map[string]types.AttributeValue{
		":c": db.S(sealed),
	})
}

func (s *DynamoStore) MarkSynced(ctx context.Context, userID, platform string, at time.Time) error {
	return s.update(ctx, userID, platform, "SET LastSyncAt = :t, SyncStatus = :s, UpdatedAt = :u", map[string]types.AttributeValue{
		":t": db.S(formatTime(at)),
		":s": db.S(string(StatusConnected)),
	})
}

func (s *DynamoStore) SetStatus(ctx context.Context, userID, platform string, status Status) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.update(ctx, userID, platform, "SET SyncStatus = :s, UpdatedAt = :u", map[string]types.AttributeValue{
		":s": db.S(string(status)),
	})
}

// Deactivate keeps the row and its history but stops syncing it.
func (s *DynamoStore) Deactivate(ctx context.Context, userID, platform string) error {
	return s.update(ctx, userID, platform, "SET IsActive = :a, SyncStatus = :s, UpdatedAt = :u", map[string]types.AttributeValue{
		":a": db.Bool(false),
		":s": db.S(string(StatusDisconnected)),
	})
}

// update only touches existing rows; UpdateItem would otherwise create one.
func (s *DynamoStore) update(ctx context.Context, userID, platform, expr string, vals map[string]types.AttributeValue) error {
	vals[":u"] = db.S(formatTime(s.now()))

	_, err := s.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       db.Key(db.UserPK(userID), integrationSK(platform)),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: vals,
	})
	if err != nil {
		if db.IsConditionFailed(err) {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, userID, platform)
		}
		return fmt.Errorf("update integration: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ Store = (*DynamoStore)(nil)
