// Package memtable is an in-memory stand-in for DynamoDB used by tests.
//
// It implements the item and query calls the store issues, evaluating the
// condition, key condition, filter and update expressions they carry
// (including the output of the expression builder package). Secondary
// indexes are sparse: an item appears in an index only when it has the
// index's key attributes. Every call runs under one lock, so conditional
// writes and counters are linearizable the way DynamoDB makes them per item.
package memtable

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// Index defines a global secondary index.
type Index struct {
	Name         string
	PartitionKey string
	SortKey      string
}

// Schema defines a table's key attributes and indexes.
type Schema struct {
	Name         string
	PartitionKey string
	SortKey      string
	Indexes      []Index
}

// FaultFunc is consulted before every call; a non-nil error is returned
// to the caller without touching the table.
type FaultFunc func(op string) error

// DB holds any number of tables.
type DB struct {
	mu       sync.Mutex
	tables   map[string]*table
	fault    FaultFunc
	pageSize int
}

type table struct {
	schema Schema
	items  map[string]map[string]AV
}

// Option configures a DB.
type Option func(*DB)

// WithPageSize caps the items a Query examines per call when the request
// sets no Limit, so callers have to follow LastEvaluatedKey.
func WithPageSize(n int) Option {
	return func(db *DB) { db.pageSize = n }
}

// New creates a DB holding the given tables.
func New(schemas []Schema, opts ...Option) *DB {
	db := &DB{tables: make(map[string]*table)}
	for _, s := range schemas {
		db.tables[s.Name] = &table{schema: s, items: make(map[string]map[string]AV)}
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Fail installs fn as the fault hook; nil removes it.
func (db *DB) Fail(fn FaultFunc) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.fault = fn
}

// Items returns a copy of every item in the table, ordered by key.
func (db *DB) Items(tableName string) []map[string]AV {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tables[tableName]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]map[string]AV, len(keys))
	for i, k := range keys {
		out[i] = copyItem(t.items[k])
	}
	return out
}

func validationError(format string, args ...any) error {
	return &smithy.GenericAPIError{
		Code:    "ValidationException",
		Message: fmt.Sprintf(format, args...),
		Fault:   smithy.FaultClient,
	}
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

// begin takes the lock and resolves the table. The caller must unlock.
func (db *DB) begin(op, name string) (*table, error) {
	db.mu.Lock()
	if db.fault != nil {
		if err := db.fault(op); err != nil {
			db.mu.Unlock()
			return nil, err
		}
	}
	t, ok := db.tables[name]
	if !ok {
		db.mu.Unlock()
		return nil, &types.ResourceNotFoundException{Message: aws.String("Requested resource not found: " + name)}
	}
	return t, nil
}

func keyString(v AV) (string, bool) {
	switch k := v.(type) {
	case *types.AttributeValueMemberS:
		return "S" + k.Value, k.Value != ""
	case *types.AttributeValueMemberN:
		return "N" + k.Value, true
	case *types.AttributeValueMemberB:
		return "B" + string(k.Value), len(k.Value) > 0
	}
	return "", false
}

// primaryKey validates that key holds exactly the table's key attributes.
func (t *table) primaryKey(key map[string]AV, exact bool) (string, error) {
	pk, ok := keyString(key[t.schema.PartitionKey])
	if !ok {
		return "", validationError("missing or invalid key attribute %s", t.schema.PartitionKey)
	}
	id := pk
	want := 1
	if t.schema.SortKey != "" {
		sk, ok := keyString(key[t.schema.SortKey])
		if !ok {
			return "", validationError("missing or invalid key attribute %s", t.schema.SortKey)
		}
		id += "\x00" + sk
		want = 2
	}
	if exact && len(key) != want {
		return "", validationError("the provided key element does not match the schema")
	}
	return id, nil
}

func (t *table) keyOf(item map[string]AV) map[string]AV {
	k := map[string]AV{t.schema.PartitionKey: copyValue(item[t.schema.PartitionKey])}
	if t.schema.SortKey != "" {
		k[t.schema.SortKey] = copyValue(item[t.schema.SortKey])
	}
	return k
}

func checkCondition(expr *string, names map[string]string, values map[string]AV, item map[string]AV) (bool, error) {
	if aws.ToString(expr) == "" {
		return true, nil
	}
	c, err := parseCondition(*expr, names, values)
	if err != nil {
		return false, validationError("invalid ConditionExpression: %v", err)
	}
	return c.eval(item), nil
}

// GetItem implements the DynamoDB GetItem call.
func (db *DB) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	t, err := db.begin("GetItem", aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	defer db.mu.Unlock()

	id, err := t.primaryKey(in.Key, true)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: copyItem(t.items[id])}, nil
}

// PutItem implements the DynamoDB PutItem call.
func (db *DB) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	t, err := db.begin("PutItem", aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	defer db.mu.Unlock()

	id, err := t.primaryKey(in.Item, false)
	if err != nil {
		return nil, err
	}
	old := t.items[id]
	ok, err := checkCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, old)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	t.items[id] = copyItem(in.Item)

	out := &dynamodb.PutItemOutput{}
	if in.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = copyItem(old)
	}
	return out, nil
}

// UpdateItem implements the DynamoDB UpdateItem call. A missing item is
// created from the key, as DynamoDB does.
func (db *DB) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	t, err := db.begin("UpdateItem", aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	defer db.mu.Unlock()

	id, err := t.primaryKey(in.Key, true)
	if err != nil {
		return nil, err
	}
	old := t.items[id]
	ok, err := checkCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, old)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	updated, touched, err := t.update(old, in.Key, aws.ToString(in.UpdateExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	t.items[id] = updated

	out := &dynamodb.UpdateItemOutput{}
	switch in.ReturnValues {
	case types.ReturnValueAllNew:
		out.Attributes = copyItem(updated)
	case types.ReturnValueAllOld:
		out.Attributes = copyItem(old)
	case types.ReturnValueUpdatedNew:
		out.Attributes = pick(updated, touched)
	case types.ReturnValueUpdatedOld:
		out.Attributes = pick(old, touched)
	}
	return out, nil
}

func (t *table) update(old, key map[string]AV, expr string, names map[string]string, values map[string]AV) (map[string]AV, []string, error) {
	actions, err := parseUpdate(expr, names, values)
	if err != nil {
		return nil, nil, validationError("invalid UpdateExpression: %v", err)
	}
	for _, a := range actions {
		if a.p[0].name == t.schema.PartitionKey || a.p[0].name == t.schema.SortKey {
			return nil, nil, validationError("cannot update attribute %s: it is part of the key", a.p[0].name)
		}
	}
	base := old
	if base == nil {
		base = copyItem(key)
	}
	updated, touched, err := applyUpdate(base, actions)
	if err != nil {
		return nil, nil, validationError("%v", err)
	}
	return updated, touched, nil
}

func pick(item map[string]AV, names []string) map[string]AV {
	out := map[string]AV{}
	for _, n := range names {
		if v, ok := item[n]; ok {
			out[n] = copyValue(v)
		}
	}
	return out
}

// DeleteItem implements the DynamoDB DeleteItem call.
func (db *DB) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	t, err := db.begin("DeleteItem", aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	defer db.mu.Unlock()

	id, err := t.primaryKey(in.Key, true)
	if err != nil {
		return nil, err
	}
	old := t.items[id]
	ok, err := checkCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, old)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	delete(t.items, id)

	out := &dynamodb.DeleteItemOutput{}
	if in.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = copyItem(old)
	}
	return out, nil
}

// TransactWriteItems implements the DynamoDB TransactWriteItems call. Every
// condition is checked before anything is written; one failure cancels all.
func (db *DB) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.fault != nil {
		if err := db.fault("TransactWriteItems"); err != nil {
			return nil, err
		}
	}
	if len(in.TransactItems) == 0 || len(in.TransactItems) > 100 {
		return nil, validationError("transaction must contain between 1 and 100 items")
	}

	type pending struct {
		t       *table
		id      string
		cond    *string
		names   map[string]string
		values  map[string]AV
		apply   func(old map[string]AV) (map[string]AV, error)
		deletes bool
	}

	ops := make([]pending, len(in.TransactItems))
	seen := map[string]bool{}
	for i, ti := range in.TransactItems {
		var (
			name string
			p    pending
			key  map[string]AV
		)
		switch {
		case ti.Put != nil:
			name, key = aws.ToString(ti.Put.TableName), ti.Put.Item
			p.cond, p.names, p.values = ti.Put.ConditionExpression, ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues
			item := ti.Put.Item
			p.apply = func(map[string]AV) (map[string]AV, error) { return copyItem(item), nil }
		case ti.Update != nil:
			u := ti.Update
			name, key = aws.ToString(u.TableName), u.Key
			p.cond, p.names, p.values = u.ConditionExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues
			p.apply = func(old map[string]AV) (map[string]AV, error) {
				updated, _, err := p.t.update(old, u.Key, aws.ToString(u.UpdateExpression), u.ExpressionAttributeNames, u.ExpressionAttributeValues)
				return updated, err
			}
		case ti.Delete != nil:
			name, key = aws.ToString(ti.Delete.TableName), ti.Delete.Key
			p.cond, p.names, p.values = ti.Delete.ConditionExpression, ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues
			p.deletes = true
		case ti.ConditionCheck != nil:
			name, key = aws.ToString(ti.ConditionCheck.TableName), ti.ConditionCheck.Key
			p.cond, p.names, p.values = ti.ConditionCheck.ConditionExpression, ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues
		default:
			return nil, validationError("transaction item %d has no operation", i)
		}

		t, ok := db.tables[name]
		if !ok {
			return nil, &types.ResourceNotFoundException{Message: aws.String("Requested resource not found: " + name)}
		}
		id, err := t.primaryKey(key, ti.Put == nil)
		if err != nil {
			return nil, err
		}
		if seen[name+"\x01"+id] {
			return nil, validationError("transaction request cannot include multiple operations on one item")
		}
		seen[name+"\x01"+id] = true
		p.t, p.id = t, id
		ops[i] = p
	}

	reasons := make([]types.CancellationReason, len(ops))
	cancelled := false
	for i, p := range ops {
		ok, err := checkCondition(p.cond, p.names, p.values, p.t.items[p.id])
		if err != nil {
			return nil, err
		}
		if ok {
			reasons[i] = types.CancellationReason{Code: aws.String("None")}
			continue
		}
		cancelled = true
		reasons[i] = types.CancellationReason{
			Code:    aws.String("ConditionalCheckFailed"),
			Message: aws.String("The conditional request failed"),
		}
	}
	if cancelled {
		codes := make([]string, len(reasons))
		for i, r := range reasons {
			codes[i] = aws.ToString(r.Code)
		}
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled, please refer cancellation reasons for specific reasons [" + strings.Join(codes, ", ") + "]"),
			CancellationReasons: reasons,
		}
	}

	results := make([]map[string]AV, len(ops))
	for i, p := range ops {
		if p.apply == nil {
			continue
		}
		updated, err := p.apply(p.t.items[p.id])
		if err != nil {
			return nil, err
		}
		results[i] = updated
	}
	for i, p := range ops {
		switch {
		case p.deletes:
			delete(p.t.items, p.id)
		case p.apply != nil:
			p.t.items[p.id] = results[i]
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}
