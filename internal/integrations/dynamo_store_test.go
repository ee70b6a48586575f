package integrations

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsync/internal/db/dbtest"
)

func newTestDynamoStore(t *testing.T, fake *dbtest.FakeDynamo) *DynamoStore {
	t.Helper()
	s, err := NewDynamoStore(fake, "Integrations")
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestNewDynamoStore_RequiresTable(t *testing.T) {
	_, err := NewDynamoStore(&dbtest.FakeDynamo{}, " ")
	assert.Error(t, err)
}

func TestDynamoStore_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes the row", func(t *testing.T) {
		fake := &dbtest.FakeDynamo{
			GetItemFn: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
				return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
					"PK":             &types.AttributeValueMemberS{Value: "USER#u1"},
					"SK":             &types.AttributeValueMemberS{Value: "INTEGRATION#shopee"},
					"UserID":         &types.AttributeValueMemberS{Value: "u1"},
					"Platform":       &types.AttributeValueMemberS{Value: "shopee"},
					"CredentialsEnc": &types.AttributeValueMemberS{Value: "sealed"},
					"IsActive":       &types.AttributeValueMemberBOOL{Value: true},
					"SyncStatus":     &types.AttributeValueMemberS{Value: "connected"},
					"LastSyncAt":     &types.AttributeValueMemberS{Value: "2024-05-31T10:00:00Z"},
					"CreatedAt":      &types.AttributeValueMemberS{Value: "2024-01-01T00:00:00Z"},
					"UpdatedAt":      &types.AttributeValueMemberS{Value: "2024-05-31T10:00:00Z"},
				}}, nil
			},
		}
		s := newTestDynamoStore(t, fake)

		integ, err := s.Get(ctx, "u1", PlatformShopee)
		require.NoError(t, err)
		assert.Equal(t, "u1", integ.UserID)
		assert.Equal(t, "sealed", integ.CredentialsEnc)
		assert.True(t, integ.IsActive)
		assert.Equal(t, StatusConnected, integ.SyncStatus)
		require.NotNil(t, integ.LastSyncAt)
		assert.Equal(t, time.Date(2024, 5, 31, 10, 0, 0, 0, time.UTC), *integ.LastSyncAt)

		require.Len(t, fake.Gets, 1)
		assert.Equal(t, "Integrations", aws.ToString(fake.Gets[0].TableName))
		assert.Equal(t, "USER#u1", fake.Gets[0].Key["PK"].(*types.AttributeValueMemberS).Value)
		assert.Equal(t, "INTEGRATION#shopee", fake.Gets[0].Key["SK"].(*types.AttributeValueMemberS).Value)
	})

	t.Run("missing row is ErrNotFound", func(t *testing.T) {
		s := newTestDynamoStore(t, &dbtest.FakeDynamo{})
		_, err := s.Get(ctx, "u1", PlatformShopee)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDynamoStore_ListActive_FollowsPages(t *testing.T) {
	calls := 0
	fake := &dbtest.FakeDynamo{
		ScanFn: func(in *dynamodb.ScanInput) (*dynamodb.ScanOutput, error) {
			calls++
			row := func(uid string) map[string]types.AttributeValue {
				return map[string]types.AttributeValue{
					"UserID":   &types.AttributeValueMemberS{Value: uid},
					"Platform": &types.AttributeValueMemberS{Value: "shopee"},
					"IsActive": &types.AttributeValueMemberBOOL{Value: true},
				}
			}
			if calls == 1 {
				return &dynamodb.ScanOutput{
					Items:            []map[string]types.AttributeValue{row("u1")},
					LastEvaluatedKey: map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: "USER#u1"}},
				}, nil
			}
			return &dynamodb.ScanOutput{Items: []map[string]types.AttributeValue{row("u2")}}, nil
		},
	}
	s := newTestDynamoStore(t, fake)

	got, err := s.ListActive(context.Background(), PlatformShopee)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "u1", got[0].UserID)
	assert.Equal(t, "u2", got[1].UserID)
	require.Len(t, fake.Scans, 2)
	assert.NotNil(t, fake.Scans[1].ExclusiveStartKey)
}

func TestDynamoStore_Save(t *testing.T) {
	fake := &dbtest.FakeDynamo{}
	s := newTestDynamoStore(t, fake)

	integ := &Integration{UserID: "u1", Platform: PlatformShopee, CredentialsEnc: "sealed", IsActive: true, SyncStatus: StatusConnected}
	require.NoError(t, s.Save(context.Background(), integ))

	assert.False(t, integ.CreatedAt.IsZero())
	require.Len(t, fake.Puts, 1)
	item := fake.Puts[0].Item
	assert.Equal(t, "USER#u1", item["PK"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "INTEGRATION#shopee", item["SK"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "sealed", item["CredentialsEnc"].(*types.AttributeValueMemberS).Value)
	_, hasLastSync := item["LastSyncAt"]
	assert.False(t, hasLastSync)
}

func TestDynamoStore_MarkSynced(t *testing.T) {
	fake := &dbtest.FakeDynamo{}
	s := newTestDynamoStore(t, fake)

	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkSynced(context.Background(), "u1", PlatformShopee, at))

	require.Len(t, fake.Updates, 1)
	in := fake.Updates[0]
	assert.Equal(t, "attribute_exists(PK)", aws.ToString(in.ConditionExpression))
	assert.Contains(t, aws.ToString(in.UpdateExpression), "LastSyncAt = :t")
	assert.Equal(t, "2024-06-01T12:00:00Z", in.ExpressionAttributeValues[":t"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "connected", in.ExpressionAttributeValues[":s"].(*types.AttributeValueMemberS).Value)
}

func TestDynamoStore_UpdateMissingRow(t *testing.T) {
	fake := &dbtest.FakeDynamo{
		UpdateItemFn: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("nope")}
		},
	}
	s := newTestDynamoStore(t, fake)

	err := s.UpdateCredentials(context.Background(), "ghost", PlatformShopee, "sealed")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDynamoStore_SetStatusRejectsUnknown(t *testing.T) {
	fake := &dbtest.FakeDynamo{}
	s := newTestDynamoStore(t, fake)

	err := s.SetStatus(context.Background(), "u1", PlatformShopee, Status("paused"))
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.Empty(t, fake.Updates)
}

func TestDynamoStore_Deactivate(t *testing.T) {
	fake := &dbtest.FakeDynamo{}
	s := newTestDynamoStore(t, fake)

	require.NoError(t, s.Deactivate(context.Background(), "u1", PlatformShopee))
	require.Len(t, fake.Updates, 1)
	vals := fake.Updates[0].ExpressionAttributeValues
	assert.False(t, vals[":a"].(*types.AttributeValueMemberBOOL).Value)
	assert.Equal(t, "disconnected", vals[":s"].(*types.AttributeValueMemberS).Value)
}
