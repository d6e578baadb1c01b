// Package dynamotest provides an in-memory DynamoDB for store tests.
//
// The fake understands the expression subset used by the stores in this
// module: conditions and filters built from comparisons, attribute_exists,
// attribute_not_exists, AND, OR, NOT and parentheses, and update expressions
// built from SET (with +, - and if_not_exists), ADD and REMOVE on top-level
// attributes. Tables have a single string or number hash key.
package dynamotest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

// Fake implements the DynamoDBAPI interface used by the stores.
type Fake struct {
	mu       sync.Mutex
	keys     map[string]string
	tables   map[string]map[string]item
	calls    map[string]int
	failures map[string]error
}

// New returns an empty fake with no tables.
func New() *Fake {
	return &Fake{
		keys:     map[string]string{},
		tables:   map[string]map[string]item{},
		calls:    map[string]int{},
		failures: map[string]error{},
	}
}

// CreateTable registers a table keyed by hashKey.
func (f *Fake) CreateTable(name, hashKey string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[name] = hashKey
	f.tables[name] = map[string]item{}
	return f
}

// Seed stores an item directly, bypassing conditions.
func (f *Fake) Seed(table string, it map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[table][keyString(it[f.keys[table]])] = clone(it)
}

// Item returns a copy of the stored item or nil.
func (f *Fake) Item(table, key string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.tables[table][key]
	if !ok {
		return nil
	}
	return clone(it)
}

// Len returns the number of items in table.
func (f *Fake) Len(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

// Calls returns how many times op (e.g. "PutItem") was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// FailNext makes the next call to op return err.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

func (f *Fake) begin(op string) error {
	f.calls[op]++
	if err, ok := f.failures[op]; ok {
		delete(f.failures, op)
		return err
	}
	return nil
}

func (f *Fake) table(name *string) (map[string]item, string, error) {
	if name == nil {
		return nil, "", fmt.Errorf("dynamotest: missing table name")
	}
	tbl, ok := f.tables[*name]
	if !ok {
		return nil, "", &types.ResourceNotFoundException{Message: aws.String("table not found: " + *name)}
	}
	return tbl, f.keys[*name], nil
}

func (f *Fake) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PutItem"); err != nil {
		return nil, err
	}
	tbl, hk, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k := keyString(in.Item[hk])
	if k == "" {
		return nil, fmt.Errorf("dynamotest: item missing hash key %s", hk)
	}
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, tbl[k])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	tbl[k] = clone(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetItem"); err != nil {
		return nil, err
	}
	tbl, hk, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	it, ok := tbl[keyString(in.Key[hk])]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(it)}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("UpdateItem"); err != nil {
		return nil, err
	}
	tbl, hk, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k := keyString(in.Key[hk])
	updated, err := update(tbl[k], in.Key, in.ConditionExpression, in.UpdateExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	tbl[k] = updated
	out := &dyn.UpdateItemOutput{}
	if in.ReturnValues == types.ReturnValueAllNew || in.ReturnValues == types.ReturnValueUpdatedNew {
		out.Attributes = clone(updated)
	}
	return out, nil
}

func (f *Fake) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("TransactWriteItems"); err != nil {
		return nil, err
	}

	type write struct {
		tbl map[string]item
		key string
		val item
		del bool
	}
	writes := make([]write, 0, len(in.TransactItems))
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	canceled := false

	for i, ti := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}
		switch {
		case ti.Put != nil:
			tbl, hk, err := f.table(ti.Put.TableName)
			if err != nil {
				return nil, err
			}
			k := keyString(ti.Put.Item[hk])
			ok, err := evalCondition(ti.Put.ConditionExpression, ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues, tbl[k])
			if err != nil {
				return nil, err
			}
			if !ok {
				canceled = true
				reasons[i] = types.CancellationReason{Code: aws.String("ConditionalCheckFailed")}
				continue
			}
			writes = append(writes, write{tbl: tbl, key: k, val: clone(ti.Put.Item)})
		case ti.Update != nil:
			tbl, hk, err := f.table(ti.Update.TableName)
			if err != nil {
				return nil, err
			}
			k := keyString(ti.Update.Key[hk])
			updated, err := update(tbl[k], ti.Update.Key, ti.Update.ConditionExpression, ti.Update.UpdateExpression, ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues)
			if err != nil {
				if isConditionFailed(err) {
					canceled = true
					reasons[i] = types.CancellationReason{Code: aws.String("ConditionalCheckFailed")}
					continue
				}
				return nil, err
			}
			writes = append(writes, write{tbl: tbl, key: k, val: updated})
		case ti.Delete != nil:
			tbl, hk, err := f.table(ti.Delete.TableName)
			if err != nil {
				return nil, err
			}
			k := keyString(ti.Delete.Key[hk])
			ok, err := evalCondition(ti.Delete.ConditionExpression, ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues, tbl[k])
			if err != nil {
				return nil, err
			}
			if !ok {
				canceled = true
				reasons[i] = types.CancellationReason{Code: aws.String("ConditionalCheckFailed")}
				continue
			}
			writes = append(writes, write{tbl: tbl, key: k, del: true})
		case ti.ConditionCheck != nil:
			tbl, hk, err := f.table(ti.ConditionCheck.TableName)
			if err != nil {
				return nil, err
			}
			k := keyString(ti.ConditionCheck.Key[hk])
			ok, err := evalCondition(ti.ConditionCheck.ConditionExpression, ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues, tbl[k])
			if err != nil {
				return nil, err
			}
			if !ok {
				canceled = true
				reasons[i] = types.CancellationReason{Code: aws.String("ConditionalCheckFailed")}
			}
		}
	}

	if canceled {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		if w.del {
			delete(w.tbl, w.key)
			continue
		}
		w.tbl[w.key] = w.val
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (f *Fake) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Scan"); err != nil {
		return nil, err
	}
	tbl, hk, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(tbl))
	for k := range tbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if in.ExclusiveStartKey != nil {
		after := keyString(in.ExclusiveStartKey[hk])
		start = sort.SearchStrings(keys, after)
		if start < len(keys) && keys[start] == after {
			start++
		}
	}

	out := &dyn.ScanOutput{}
	for i := start; i < len(keys); i++ {
		it := tbl[keys[i]]
		out.ScannedCount++
		ok, err := evalCondition(in.FilterExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, it)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Items = append(out.Items, clone(it))
			out.Count++
		}
		if in.Limit != nil && out.ScannedCount == *in.Limit {
			out.LastEvaluatedKey = map[string]types.AttributeValue{hk: it[hk]}
			break
		}
	}
	return out, nil
}

func update(existing, key item, cond, expr *string, names map[string]string, values map[string]types.AttributeValue) (item, error) {
	ok, err := evalCondition(cond, names, values, existing)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	next := clone(existing)
	if next == nil {
		next = clone(key)
	}
	if expr != nil {
		if err := applyUpdate(*expr, names, values, next); err != nil {
			return nil, err
		}
	}
	return next, nil
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func isConditionFailed(err error) bool {
	_, ok := err.(*types.ConditionalCheckFailedException)
	return ok
}

func keyString(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

func clone(in item) item {
	if in == nil {
		return nil
	}
	out := make(item, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
