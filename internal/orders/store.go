package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/storefront-fulfillment/internal/aws"
)

var (
	// ErrVersionConflict means the order changed since it was read.
	ErrVersionConflict = errors.New("order version conflict")
	// ErrOrderExists is returned by Create for a taken order number.
	ErrOrderExists = errors.New("order already exists")
	// ErrWriteRejected means a write bundled with the order failed its condition.
	ErrWriteRejected = errors.New("bundled write rejected")
)

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create inserts a new order at version 1.
func (s *Store) Create(ctx context.Context, o *Order) error {
	now := s.nowFunc().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	o.Version = 1

	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(order_number)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return ErrOrderExists
		}
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

// Get fetches an order by order_number. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderNumber string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(orderNumber),
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// Save writes o if the stored version still equals o.Version, then bumps
// o.Version. Returns ErrVersionConflict if another writer got there first.
func (s *Store) Save(ctx context.Context, o *Order) error {
	put, err := s.versionedPut(o)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                 put.TableName,
		Item:                      put.Item,
		ConditionExpression:       put.ConditionExpression,
		ExpressionAttributeValues: put.ExpressionAttributeValues,
	})
	if err != nil {
		o.Version--
		if isConditionalFailure(err) {
			return ErrVersionConflict
		}
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

// SaveWithWrites is Save plus extra writes in one transaction. Either all
// of them land or none do.
func (s *Store) SaveWithWrites(ctx context.Context, o *Order, extra []types.TransactWriteItem) error {
	if len(extra) == 0 {
		return s.Save(ctx, o)
	}
	put, err := s.versionedPut(o)
	if err != nil {
		return err
	}
	items := append([]types.TransactWriteItem{{Put: put}}, extra...)

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return nil
	}
	o.Version--

	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for i, r := range tce.CancellationReasons {
			if r.Code == nil || *r.Code != "ConditionalCheckFailed" {
				continue
			}
			if i == 0 {
				return ErrVersionConflict
			}
			return fmt.Errorf("%w: item %d", ErrWriteRejected, i)
		}
		// cancelled for contention rather than a condition
		return ErrVersionConflict
	}
	return fmt.Errorf("transact write: %w", err)
}

func (s *Store) versionedPut(o *Order) (*types.Put, error) {
	expected := o.Version
	o.Version++
	o.UpdatedAt = s.nowFunc().UTC()

	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		o.Version--
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	return &types.Put{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("version = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		},
	}, nil
}

// ListForTracking returns every order with an accepted shipment that is
// neither delivered nor cancelled.
func (s *Store) ListForTracking(ctx context.Context) ([]Order, error) {
	var (
		result   []Order
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:        &s.tableName,
			FilterExpression: awsString("attribute_exists(transaction_id) AND order_status <> :delivered AND order_status <> :cancelled"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":delivered": &types.AttributeValueMemberS{Value: string(StatusDelivered)},
				":cancelled": &types.AttributeValueMemberS{Value: string(StatusCancelled)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan orders: %w", err)
		}
		var batch []Order
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		result = append(result, batch...)
		if len(out.LastEvaluatedKey) == 0 {
			return result, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func orderKey(orderNumber string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_number": &types.AttributeValueMemberS{Value: orderNumber},
	}
}

func isConditionalFailure(err error) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}

func awsString(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
