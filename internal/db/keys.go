package db

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func UserPK(userID string) string {
	return fmt.Sprintf("USER#%s", userID)
}

// Key builds a PK/SK primary key.
func Key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func S(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func N(v string) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: v}
}

func Bool(v bool) types.AttributeValue {
	return &types.AttributeValueMemberBOOL{Value: v}
}

// IsConditionFailed reports whether a conditional write was rejected.
func IsConditionFailed(err error) bool {
	var cfe *types.ConditionalCheckFailedException
	return errors.As(err, &cfe)
}
