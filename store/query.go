package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// CollectionQuery reads an item collection: every item sharing one
// partition key, ordered by sort key.
//
// With Descending and a Limit of N the query returns the lexicographically
// last N items. When child sort keys are time-sortable identifiers this
// approximates the N most recent children; it is not a true recency query.
//
// Filter is evaluated by DynamoDB after key selection and after Limit is
// applied, so every item in the key range is read and billed whether or not
// it passes. Prefer an index when one answers the same question.
type CollectionQuery struct {
	Partition  string
	Range      Range
	Limit      int32
	Descending bool
	Filter     expression.ConditionBuilder
	StartKey   Item

	// ConsistentRead requests a strongly consistent read.
	ConsistentRead bool

	// IncludeExpired disables the automatic TTL filter.
	IncludeExpired bool
}

// IndexQuery reads a global secondary index. Items that lack the index's
// key attributes are never returned.
type IndexQuery struct {
	Index      Index
	Partition  string
	Range      Range
	Limit      int32
	Descending bool
	Filter     expression.ConditionBuilder
	StartKey   Item

	// IncludeExpired disables the automatic TTL filter.
	IncludeExpired bool
}

// Query reads an item collection. A zero Limit pages through the whole
// collection; otherwise a single request is made and Page.LastKey carries
// the continuation key.
func (s *Store) Query(ctx context.Context, q CollectionQuery) (*Page, error) {
	if q.Partition == "" {
		return nil, fmt.Errorf("%w: query: empty partition key", ErrInvalidInput)
	}
	if !q.Range.IsZero() && s.config.SortKey == "" {
		return nil, fmt.Errorf("%w: query: table has no sort key", ErrInvalidInput)
	}
	return s.query(ctx, "query", queryParams{
		pkName:         s.config.PartitionKey,
		skName:         s.config.SortKey,
		partition:      q.Partition,
		rng:            q.Range,
		limit:          q.Limit,
		descending:     q.Descending,
		filter:         q.Filter,
		startKey:       q.StartKey,
		consistent:     q.ConsistentRead,
		includeExpired: q.IncludeExpired,
	})
}

// QueryIndex reads a global secondary index.
func (s *Store) QueryIndex(ctx context.Context, q IndexQuery) (*Page, error) {
	if q.Index.Name == "" || q.Index.PartitionKey == "" {
		return nil, fmt.Errorf("%w: query index: incomplete index definition", ErrInvalidInput)
	}
	if q.Partition == "" {
		return nil, fmt.Errorf("%w: query index %s: empty partition key", ErrInvalidInput, q.Index.Name)
	}
	if !q.Range.IsZero() && q.Index.SortKey == "" {
		return nil, fmt.Errorf("%w: query index %s: index has no sort key", ErrInvalidInput, q.Index.Name)
	}
	return s.query(ctx, "query_index", queryParams{
		index:          q.Index.Name,
		pkName:         q.Index.PartitionKey,
		skName:         q.Index.SortKey,
		partition:      q.Partition,
		rng:            q.Range,
		limit:          q.Limit,
		descending:     q.Descending,
		filter:         q.Filter,
		startKey:       q.StartKey,
		includeExpired: q.IncludeExpired,
	})
}

type queryParams struct {
	index          string
	pkName         string
	skName         string
	partition      string
	rng            Range
	limit          int32
	descending     bool
	filter         expression.ConditionBuilder
	startKey       Item
	consistent     bool
	includeExpired bool
}

func (s *Store) query(ctx context.Context, op string, p queryParams) (*Page, error) {
	start := time.Now()

	keyCond := expression.KeyEqual(expression.Key(p.pkName), expression.Value(p.partition))
	if !p.rng.IsZero() {
		keyCond = keyCond.And(p.rng.keyCondition(p.skName))
	}

	filter := p.filter
	if s.config.TTLAttribute != "" && !p.includeExpired {
		ttl := NotExpired(s.config.TTLAttribute, s.clock())
		if filter.IsSet() {
			filter = filter.And(ttl)
		} else {
			filter = ttl
		}
	}

	b := expression.NewBuilder().WithKeyCondition(keyCond)
	if filter.IsSet() {
		b = b.WithFilter(filter)
	}
	expr, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, op, err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.TableName),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(!p.descending),
		ExclusiveStartKey:         p.startKey,
	}
	if p.index != "" {
		input.IndexName = aws.String(p.index)
	} else if p.consistent {
		input.ConsistentRead = aws.Bool(true)
	}

	page := &Page{}
	if p.limit > 0 {
		input.Limit = aws.Int32(p.limit)
		out, err := s.client.Query(ctx, input)
		if err != nil {
			err = classify(op, err)
			s.observe(op, start, err)
			return nil, err
		}
		page.Items = out.Items
		page.LastKey = out.LastEvaluatedKey
		s.observe(op, start, nil)
		return page, nil
	}

	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			err = classify(op, err)
			s.observe(op, start, err)
			return nil, err
		}
		page.Items = append(page.Items, out.Items...)
	}
	s.observe(op, start, nil)
	return page, nil
}
