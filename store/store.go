package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Store provides single-table DynamoDB operations.
type Store struct {
	client  Client
	config  Config
	logger  *slog.Logger
	metrics *Metrics
	clock   Clock
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for retry and failure diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records per-operation outcomes and latency.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock sets the clock used for TTL checks.
func WithClock(c Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// New creates a new Store instance.
func New(client Client, config Config, opts ...Option) *Store {
	config.validate()
	s := &Store{
		client: client,
		config: config,
		logger: slog.Default(),
		clock:  DefaultClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the store's effective configuration.
func (s *Store) Config() Config { return s.config }

// Now returns the store clock's current time.
func (s *Store) Now() time.Time { return s.clock() }

// Key returns the DynamoDB key attributes for k.
func (s *Store) Key(k Key) Item {
	item := Item{
		s.config.PartitionKey: &types.AttributeValueMemberS{Value: k.Partition},
	}
	if s.config.SortKey != "" {
		item[s.config.SortKey] = &types.AttributeValueMemberS{Value: k.Sort}
	}
	return item
}

// KeyOf extracts the key of an item.
func (s *Store) KeyOf(item Item) Key {
	var k Key
	if v, ok := item[s.config.PartitionKey].(*types.AttributeValueMemberS); ok {
		k.Partition = v.Value
	}
	if s.config.SortKey != "" {
		if v, ok := item[s.config.SortKey].(*types.AttributeValueMemberS); ok {
			k.Sort = v.Value
		}
	}
	return k
}

// Get retrieves an item by key, returning ErrNotFound if it is missing or expired.
func (s *Store) Get(ctx context.Context, k Key) (Item, error) {
	return s.get(ctx, k, false)
}

// GetConsistent is Get with a strongly consistent read.
func (s *Store) GetConsistent(ctx context.Context, k Key) (Item, error) {
	return s.get(ctx, k, true)
}

func (s *Store) get(ctx context.Context, k Key, consistent bool) (Item, error) {
	start := time.Now()
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.TableName),
		Key:            s.Key(k),
		ConsistentRead: aws.Bool(consistent),
	})
	if err != nil {
		err = classify("get", err)
		s.observe("get", start, err)
		return nil, err
	}
	if result.Item == nil || s.expired(result.Item) {
		s.observe("get", start, ErrNotFound)
		return nil, ErrNotFound
	}
	s.observe("get", start, nil)
	return result.Item, nil
}

// Put writes a full item, replacing any existing item with the same key
// unless a condition says otherwise.
func (s *Store) Put(ctx context.Context, item Item, opts ...WriteOption) error {
	start := time.Now()
	w := newWriteOptions(opts)

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.config.TableName),
		Item:      item,
	}
	if cond, ok := s.condition(w); ok {
		expr, err := expression.NewBuilder().WithCondition(cond).Build()
		if err != nil {
			return fmt.Errorf("%w: put: %v", ErrInvalidInput, err)
		}
		input.ConditionExpression = expr.Condition()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	_, err := s.client.PutItem(ctx, input)
	err = classify("put", err)
	s.observe("put", start, err)
	return err
}

// Update applies an update expression and returns the updated attributes
// when ReturnNew is given.
func (s *Store) Update(ctx context.Context, k Key, update expression.UpdateBuilder, opts ...WriteOption) (Item, error) {
	start := time.Now()
	w := newWriteOptions(opts)

	b := expression.NewBuilder().WithUpdate(update)
	if cond, ok := s.condition(w); ok {
		b = b.WithCondition(cond)
	}
	expr, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("%w: update: %v", ErrInvalidInput, err)
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.config.TableName),
		Key:                       s.Key(k),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	if w.returnNew {
		input.ReturnValues = types.ReturnValueUpdatedNew
	}

	out, err := s.client.UpdateItem(ctx, input)
	err = classify("update", err)
	s.observe("update", start, err)
	if err != nil {
		return nil, err
	}
	return out.Attributes, nil
}

// Delete removes an item. Deleting a missing item succeeds unless a
// condition such as IfExists is given.
func (s *Store) Delete(ctx context.Context, k Key, opts ...WriteOption) error {
	start := time.Now()
	w := newWriteOptions(opts)

	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(s.config.TableName),
		Key:       s.Key(k),
	}
	if cond, ok := s.condition(w); ok {
		expr, err := expression.NewBuilder().WithCondition(cond).Build()
		if err != nil {
			return fmt.Errorf("%w: delete: %v", ErrInvalidInput, err)
		}
		input.ConditionExpression = expr.Condition()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	_, err := s.client.DeleteItem(ctx, input)
	err = classify("delete", err)
	s.observe("delete", start, err)
	return err
}

// Increment atomically adds delta to a numeric attribute of an existing item
// and returns the value after the increment. Concurrent callers never observe
// the same result. A missing item fails with ErrConditionFailed.
func (s *Store) Increment(ctx context.Context, k Key, attr string, delta int64) (int64, error) {
	update := expression.Add(expression.Name(attr), expression.Value(delta))
	out, err := s.Update(ctx, k, update, IfExists(), ReturnNew())
	if err != nil {
		return 0, err
	}
	n, ok := out[attr].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("singletable: increment: %s missing from response", attr)
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("singletable: increment: parse %s: %w", attr, err)
	}
	return v, nil
}

// WriteOption adds a precondition or response option to a write.
type WriteOption func(*writeOptions)

type writeOptions struct {
	mustNotExist bool
	mustExist    bool
	cond         *expression.ConditionBuilder
	returnNew    bool
}

func newWriteOptions(opts []WriteOption) writeOptions {
	var w writeOptions
	for _, opt := range opts {
		opt(&w)
	}
	return w
}

// IfNotExists requires that no item occupies the key yet.
func IfNotExists() WriteOption {
	return func(w *writeOptions) { w.mustNotExist = true }
}

// IfExists requires that an item already occupies the key.
func IfExists() WriteOption {
	return func(w *writeOptions) { w.mustExist = true }
}

// If adds a custom condition. Multiple conditions are combined with AND.
func If(cond expression.ConditionBuilder) WriteOption {
	return func(w *writeOptions) {
		if w.cond == nil {
			w.cond = &cond
			return
		}
		c := w.cond.And(cond)
		w.cond = &c
	}
}

// ReturnNew asks Update to return the updated attributes.
func ReturnNew() WriteOption {
	return func(w *writeOptions) { w.returnNew = true }
}

// condition combines the write's preconditions, reporting false when there are none.
func (s *Store) condition(w writeOptions) (expression.ConditionBuilder, bool) {
	var conds []expression.ConditionBuilder
	if w.mustNotExist {
		conds = append(conds, expression.AttributeNotExists(expression.Name(s.config.PartitionKey)))
	}
	if w.mustExist {
		conds = append(conds, expression.AttributeExists(expression.Name(s.config.PartitionKey)))
	}
	if w.cond != nil {
		conds = append(conds, *w.cond)
	}
	switch len(conds) {
	case 0:
		return expression.ConditionBuilder{}, false
	case 1:
		return conds[0], true
	default:
		return conds[0].And(conds[1], conds[2:]...), true
	}
}

func (s *Store) expired(item Item) bool {
	return s.config.TTLAttribute != "" && IsExpired(item, s.config.TTLAttribute, s.clock())
}

func (s *Store) observe(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.observe(op, time.Since(start), err)
	}
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrConditionFailed) {
		s.logger.Debug("dynamodb request failed",
			"op", op,
			"table", s.config.TableName,
			"error", err,
		)
	}
}
