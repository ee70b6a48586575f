package users

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"marketsync/internal/db"
)

// Publisher is the part of the SNS client the notifier uses.
type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

var _ Publisher = (*sns.Client)(nil)

// SyncFailure describes a sync that needs the user's attention.
type SyncFailure struct {
	UserID   string
	Platform string
	RunID    string
	Reason   string
	At       time.Time
}

// Notifier publishes sync alerts to the per-user topic stored in the Users
// table (PK = USER#<sub>, AlertsTopicArn). Users without a topic are skipped.
type Notifier struct {
	ddb    db.DynamoAPI
	sns    Publisher
	table  string
	logger *zap.Logger
}

func NewNotifier(ddb db.DynamoAPI, snsClient Publisher, usersTable string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{ddb: ddb, sns: snsClient, table: strings.TrimSpace(usersTable), logger: logger}
}

func (n *Notifier) GetAlertsTopicArn(ctx context.Context, sub string) (string, error) {
	if n.table == "" || strings.TrimSpace(sub) == "" {
		return "", nil
	}

	out, err := n.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(n.table),
		Key: map[string]types.AttributeValue{
			"PK": db.S(db.UserPK(sub)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("get user %s: %w", sub, err)
	}
	if out.Item == nil {
		return "", nil
	}

	if v, ok := out.Item["AlertsTopicArn"].(*types.AttributeValueMemberS); ok {
		return v.Value, nil
	}
	return "", nil
}

// NotifySyncFailure reports whether a message was published.
func (n *Notifier) NotifySyncFailure(ctx context.Context, f SyncFailure) (bool, error) {
	if n == nil {
		return false, nil
	}

	topicArn, err := n.GetAlertsTopicArn(ctx, f.UserID)
	if err != nil {
		return false, err
	}
	if topicArn == "" {
		n.logger.Debug("no alerts topic for user", zap.String("user_id", f.UserID))
		return false, nil
	}

	if f.At.IsZero() {
		f.At = time.Now().UTC()
	}
	payload, err := json.Marshal(map[string]string{
		"type":     "sync_failed",
		"platform": f.Platform,
		"run_id":   f.RunID,
		"reason":   f.Reason,
		"at":       f.At.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return false, err
	}

	_, err = n.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(topicArn),
		Subject:  aws.String(fmt.Sprintf("Sync needs attention (%s)", f.Platform)),
		Message:  aws.String(alertText(f) + "\n\n" + string(payload)),
	})
	if err != nil {
		return false, fmt.Errorf("publish alert: %w", err)
	}
	return true, nil
}

func alertText(f SyncFailure) string {
	return fmt.Sprintf("We could not sync your %s orders: %s. Reconnect the integration to resume syncing.",
		f.Platform, f.Reason)
}
