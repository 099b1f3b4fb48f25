package store

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item is a raw DynamoDB item.
type Item = map[string]types.AttributeValue

// Key identifies an item. Sort is ignored on tables without a sort key.
type Key struct {
	Partition string
	Sort      string
}

// Index describes a global secondary index and the attributes it projects
// as its keys. Items missing either attribute are absent from the index.
type Index struct {
	Name         string
	PartitionKey string
	SortKey      string
}

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

// DefaultClock returns the current UTC time.
func DefaultClock() time.Time {
	return time.Now().UTC()
}

type rangeOp int

const (
	rangeNone rangeOp = iota
	rangeEqual
	rangePrefix
	rangeAtLeast
	rangeAtMost
	rangeAbove
	rangeBelow
	rangeBetween
)

// Range is a sort key predicate. The zero value matches every sort key.
type Range struct {
	op     rangeOp
	lo, hi string
}

// Prefix matches sort keys beginning with p.
func Prefix(p string) Range { return Range{op: rangePrefix, lo: p} }

// Equal matches exactly one sort key.
func Equal(sk string) Range { return Range{op: rangeEqual, lo: sk} }

// AtLeast matches sort keys >= sk.
func AtLeast(sk string) Range { return Range{op: rangeAtLeast, lo: sk} }

// AtMost matches sort keys <= sk.
func AtMost(sk string) Range { return Range{op: rangeAtMost, lo: sk} }

// Above matches sort keys > sk.
func Above(sk string) Range { return Range{op: rangeAbove, lo: sk} }

// Below matches sort keys < sk.
func Below(sk string) Range { return Range{op: rangeBelow, lo: sk} }

// Between matches lo <= sort key <= hi.
func Between(lo, hi string) Range { return Range{op: rangeBetween, lo: lo, hi: hi} }

// IsZero reports whether r places no constraint on the sort key.
func (r Range) IsZero() bool { return r.op == rangeNone }

func (r Range) keyCondition(name string) expression.KeyConditionBuilder {
	k := expression.Key(name)
	switch r.op {
	case rangeEqual:
		return expression.KeyEqual(k, expression.Value(r.lo))
	case rangePrefix:
		return expression.KeyBeginsWith(k, r.lo)
	case rangeAtLeast:
		return expression.KeyGreaterThanEqual(k, expression.Value(r.lo))
	case rangeAtMost:
		return expression.KeyLessThanEqual(k, expression.Value(r.lo))
	case rangeAbove:
		return expression.KeyGreaterThan(k, expression.Value(r.lo))
	case rangeBelow:
		return expression.KeyLessThan(k, expression.Value(r.lo))
	default:
		return expression.KeyBetween(k, expression.Value(r.lo), expression.Value(r.hi))
	}
}

// Page is one page of query results. LastKey is nil when the query is exhausted.
type Page struct {
	Items   []Item
	LastKey Item
}
