package memtable

import (
	"context"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

type queryRow struct {
	item  map[string]AV
	order []AV
}

// Query implements the DynamoDB Query call against the table or one of its
// indexes. Limit bounds the items examined before the filter runs.
func (db *DB) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	t, err := db.begin("Query", aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	defer db.mu.Unlock()

	pkName, skName := t.schema.PartitionKey, t.schema.SortKey
	if name := aws.ToString(in.IndexName); name != "" {
		idx, ok := t.index(name)
		if !ok {
			return nil, validationError("the table does not have the specified index: %s", name)
		}
		pkName, skName = idx.PartitionKey, idx.SortKey
		if aws.ToBool(in.ConsistentRead) {
			return nil, validationError("consistent reads are not supported on global secondary indexes")
		}
	}

	if aws.ToString(in.KeyConditionExpression) == "" {
		return nil, validationError("KeyConditionExpression is required")
	}
	keyCond, err := parseCondition(*in.KeyConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, validationError("invalid KeyConditionExpression: %v", err)
	}
	var filter condition
	if aws.ToString(in.FilterExpression) != "" {
		if filter, err = parseCondition(*in.FilterExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues); err != nil {
			return nil, validationError("invalid FilterExpression: %v", err)
		}
	}

	orderNames := []string{skName, t.schema.PartitionKey, t.schema.SortKey}
	var rows []queryRow
	for _, item := range t.items {
		if _, ok := keyString(item[pkName]); !ok {
			continue
		}
		if skName != "" {
			if _, ok := keyString(item[skName]); !ok {
				continue
			}
		}
		if !keyCond.eval(item) {
			continue
		}
		rows = append(rows, queryRow{item: item, order: orderOf(item, orderNames)})
	}

	forward := in.ScanIndexForward == nil || *in.ScanIndexForward
	sort.Slice(rows, func(i, j int) bool {
		c := compareOrder(rows[i].order, rows[j].order)
		if forward {
			return c < 0
		}
		return c > 0
	})

	if len(in.ExclusiveStartKey) > 0 {
		start := orderOf(in.ExclusiveStartKey, orderNames)
		i := 0
		for i < len(rows) {
			c := compareOrder(rows[i].order, start)
			if forward && c > 0 || !forward && c < 0 {
				break
			}
			i++
		}
		rows = rows[i:]
	}

	limit := int(aws.ToInt32(in.Limit))
	if limit <= 0 {
		limit = db.pageSize
	}
	out := &dynamodb.QueryOutput{}
	if limit > 0 && len(rows) > limit {
		last := rows[limit-1].item
		lek := t.keyOf(last)
		if skName != t.schema.SortKey || pkName != t.schema.PartitionKey {
			lek[pkName] = copyValue(last[pkName])
			if skName != "" {
				lek[skName] = copyValue(last[skName])
			}
		}
		out.LastEvaluatedKey = lek
		rows = rows[:limit]
	}

	for _, r := range rows {
		if filter != nil && !filter.eval(r.item) {
			continue
		}
		out.Items = append(out.Items, copyItem(r.item))
	}
	out.Count = int32(len(out.Items))
	out.ScannedCount = int32(len(rows))
	return out, nil
}

func (t *table) index(name string) (Index, bool) {
	for _, idx := range t.schema.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return Index{}, false
}

func orderOf(item map[string]AV, names []string) []AV {
	out := make([]AV, len(names))
	for i, n := range names {
		if n != "" {
			out[i] = item[n]
		}
	}
	return out
}

// compareOrder sorts by index sort key, then by primary key, so that
// rows sharing an index key have a stable position for pagination.
func compareOrder(a, b []AV) int {
	for i := range a {
		if a[i] == nil || b[i] == nil {
			continue
		}
		if c, ok := compare(a[i], b[i]); ok && c != 0 {
			return c
		}
	}
	return 0
}
