package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// MaxTransactItems is the DynamoDB limit on operations per transaction.
const MaxTransactItems = 100

type opKind int

const (
	opPut opKind = iota
	opUpdate
	opDelete
	opCheck
)

// WriteOp is one operation of a transaction.
type WriteOp struct {
	kind   opKind
	item   Item
	key    Key
	update expression.UpdateBuilder
	opts   []WriteOption
}

// PutOp writes a full item inside a transaction.
func PutOp(item Item, opts ...WriteOption) WriteOp {
	return WriteOp{kind: opPut, item: item, opts: opts}
}

// UpdateOp applies an update expression inside a transaction.
func UpdateOp(k Key, update expression.UpdateBuilder, opts ...WriteOption) WriteOp {
	return WriteOp{kind: opUpdate, key: k, update: update, opts: opts}
}

// DeleteOp removes an item inside a transaction.
func DeleteOp(k Key, opts ...WriteOption) WriteOp {
	return WriteOp{kind: opDelete, key: k, opts: opts}
}

// CheckOp asserts a condition on an item without writing it.
func CheckOp(k Key, opts ...WriteOption) WriteOp {
	return WriteOp{kind: opCheck, key: k, opts: opts}
}

// Transact applies all operations or none of them. A failed precondition
// returns a *ConditionError naming the first failing operation.
func (s *Store) Transact(ctx context.Context, ops ...WriteOp) error {
	if len(ops) == 0 {
		return nil
	}
	if len(ops) > MaxTransactItems {
		return fmt.Errorf("%w: transaction has %d operations, limit is %d", ErrInvalidInput, len(ops), MaxTransactItems)
	}

	start := time.Now()
	items := make([]types.TransactWriteItem, 0, len(ops))
	for i, op := range ops {
		item, err := s.transactItem(op)
		if err != nil {
			return fmt.Errorf("%w: transaction operation %d: %v", ErrInvalidInput, i, err)
		}
		items = append(items, item)
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	err = classify("transact", err)
	s.observe("transact", start, err)
	return err
}

// CreateAll creates every item or none of them. Each item must not already
// exist; on conflict the returned *ConditionError's Index names the first
// item whose key was taken.
func (s *Store) CreateAll(ctx context.Context, items ...Item) error {
	ops := make([]WriteOp, len(items))
	for i, item := range items {
		ops[i] = PutOp(item, IfNotExists())
	}
	return s.Transact(ctx, ops...)
}

func (s *Store) transactItem(op WriteOp) (types.TransactWriteItem, error) {
	w := newWriteOptions(op.opts)
	cond, hasCond := s.condition(w)
	table := aws.String(s.config.TableName)

	var expr expression.Expression
	if hasCond || op.kind == opUpdate {
		b := expression.NewBuilder()
		if hasCond {
			b = b.WithCondition(cond)
		}
		if op.kind == opUpdate {
			b = b.WithUpdate(op.update)
		}
		var err error
		if expr, err = b.Build(); err != nil {
			return types.TransactWriteItem{}, err
		}
	}

	switch op.kind {
	case opPut:
		return types.TransactWriteItem{Put: &types.Put{
			TableName:                 table,
			Item:                      op.item,
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}}, nil
	case opUpdate:
		return types.TransactWriteItem{Update: &types.Update{
			TableName:                 table,
			Key:                       s.Key(op.key),
			UpdateExpression:          expr.Update(),
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}}, nil
	case opDelete:
		return types.TransactWriteItem{Delete: &types.Delete{
			TableName:                 table,
			Key:                       s.Key(op.key),
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}}, nil
	default:
		if !hasCond {
			return types.TransactWriteItem{}, fmt.Errorf("condition check without a condition")
		}
		return types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
			TableName:                 table,
			Key:                       s.Key(op.key),
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}}, nil
	}
}
