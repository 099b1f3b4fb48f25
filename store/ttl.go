package store

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ExpiresAt returns the TTL attribute value for t, in epoch seconds.
func ExpiresAt(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}

// IsExpired reports whether the item's TTL attribute is at or before now.
// Items without the attribute never expire.
func IsExpired(item Item, attr string, now time.Time) bool {
	v, ok := item[attr].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return false
	}
	return ttl <= now.Unix()
}

// NotExpired filters out items whose TTL has passed. The sweeper deletes
// expired items asynchronously, often long after they expire, so reads
// must not rely on expired items being gone.
func NotExpired(attr string, now time.Time) expression.ConditionBuilder {
	name := expression.Name(attr)
	return expression.Or(
		expression.AttributeNotExists(name),
		name.GreaterThan(expression.Value(now.Unix())),
	)
}
