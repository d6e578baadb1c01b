package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/imrishuroy/storefront-fulfillment/internal/aws"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Store encapsulates operations on the audit table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new audit Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// prepare assigns the id and timestamps once, before the entry leaves the
// caller, so redelivered copies collapse onto one row.
func (e *Entry) prepare(now time.Time) error {
	if e.EntryID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("new entry id: %w", err)
		}
		e.EntryID = id.String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now.UTC()
	}
	e.CreatedUnix = e.CreatedAt.Unix()
	return nil
}

// Append writes e if no entry with the same id exists. A replayed entry is
// not an error.
func (s *Store) Append(ctx context.Context, e Entry) error {
	if err := e.prepare(s.nowFunc()); err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(entry_id)"),
	})
	if err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException" {
			return nil
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// Query returns up to limit entries matching f, starting after cursor.
func (s *Store) Query(ctx context.Context, f Filter, limit int, cursor string) (*Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	filter, names, values := f.expression()
	var startKey map[string]types.AttributeValue
	if cursor != "" {
		startKey = map[string]types.AttributeValue{"entry_id": &types.AttributeValueMemberS{Value: cursor}}
	}

	var entries []Entry
	more := false
	for {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:                 &s.tableName,
			FilterExpression:          filter,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         startKey,
			Limit:                     int32Ptr(int32(limit)),
		})
		if err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		var batch []Entry
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal entries: %w", err)
		}
		entries = append(entries, batch...)
		startKey = out.LastEvaluatedKey

		if len(entries) > limit {
			entries = entries[:limit]
			more = true
			break
		}
		if len(entries) == limit {
			more = len(startKey) > 0
			break
		}
		if len(startKey) == 0 {
			break
		}
	}

	page := &Page{Entries: entries}
	if more && len(entries) > 0 {
		page.NextCursor = entries[len(entries)-1].EntryID
	}
	sort.SliceStable(page.Entries, func(i, j int) bool {
		return page.Entries[i].CreatedAt.After(page.Entries[j].CreatedAt)
	})
	return page, nil
}

// Summary counts actor's entries over the trailing windowDays.
func (s *Store) Summary(ctx context.Context, actor string, windowDays int) (*Summary, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	since := s.nowFunc().Add(-time.Duration(windowDays) * 24 * time.Hour).Unix()

	sum := &Summary{
		Actor:      actor,
		WindowDays: windowDays,
		ByAction:   map[Action]int{},
		ByCategory: map[Category]int{},
	}

	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:        &s.tableName,
			FilterExpression: awsString("#actor = :actor AND created_unix >= :since"),
			ExpressionAttributeNames: map[string]string{
				"#actor": "actor",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":actor": &types.AttributeValueMemberS{Value: actor},
				":since": &types.AttributeValueMemberN{Value: strconv.FormatInt(since, 10)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		var batch []Entry
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal entries: %w", err)
		}
		for i := range batch {
			e := batch[i]
			sum.Total++
			sum.ByAction[e.Action]++
			sum.ByCategory[e.Category]++
			if sum.LastActivity == nil || e.CreatedAt.After(*sum.LastActivity) {
				at := e.CreatedAt
				sum.LastActivity = &at
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return sum, nil
}

func (f Filter) expression() (*string, map[string]string, map[string]types.AttributeValue) {
	var clauses []string
	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	add := func(attr, v string) {
		if v == "" {
			return
		}
		clauses = append(clauses, fmt.Sprintf("#%s = :%s", attr, attr))
		names["#"+attr] = attr
		values[":"+attr] = &types.AttributeValueMemberS{Value: v}
	}
	add("actor", f.Actor)
	add("category", string(f.Category))
	add("action", string(f.Action))

	if len(clauses) == 0 {
		return nil, nil, nil
	}
	return awsString(strings.Join(clauses, " AND ")), names, values
}

func awsString(s string) *string { return &s }

func int32Ptr(v int32) *int32 { return &v }
