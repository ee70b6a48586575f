package lease

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"marketsync/internal/db"
)

// DynamoLocker claims a lease with a conditional PutItem on the SyncLocks
// table (PK = LOCK#<key>). ExpiresAt doubles as the table's TTL attribute, so
// abandoned leases are also reaped by DynamoDB.
type DynamoLocker struct {
	ddb   db.DynamoAPI
	table string
	now   func() time.Time
}

func NewDynamoLocker(ddb db.DynamoAPI, table string) (*DynamoLocker, error) {
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("SYNC_LOCKS_TABLE not configured")
	}
	return &DynamoLocker{ddb: ddb, table: table, now: time.Now}, nil
}

func lockKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": db.S(fmt.Sprintf("LOCK#%s", key)),
	}
}

func (l *DynamoLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	now := l.now().UTC()
	owner := newOwner()

	item := lockKey(key)
	item["Owner"] = db.S(owner)
	item["AcquiredAt"] = db.S(now.Format(time.RFC3339))
	item["ExpiresAt"] = db.N(strconv.FormatInt(now.Add(ttl).Unix(), 10))

	_, err := l.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR ExpiresAt < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": db.N(strconv.FormatInt(now.Unix(), 10)),
		},
	})
	if err != nil {
		if db.IsConditionFailed(err) {
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	return &dynamoLease{locker: l, key: key, owner: owner}, nil
}

type dynamoLease struct {
	locker *DynamoLocker
	key    string
	owner  string
}

func (d *dynamoLease) Key() string   { return d.key }
func (d *dynamoLease) Owner() string { return d.owner }

// Release deletes the lock row only while this lease still owns it.
func (d *dynamoLease) Release(ctx context.Context) error {
	_, err := d.locker.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(d.locker.table),
		Key:                 lockKey(d.key),
		ConditionExpression: aws.String("#o = :o"),
		ExpressionAttributeNames: map[string]string{
			"#o": "Owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":o": db.S(d.owner),
		},
	})
	if err != nil && !db.IsConditionFailed(err) {
		return fmt.Errorf("release lease %s: %w", d.key, err)
	}
	return nil
}

var _ Locker = (*DynamoLocker)(nil)
