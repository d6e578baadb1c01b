// Package inventory reads products and builds the stock writes committed
// together with a payment approval.
package inventory

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-fulfillment/internal/aws"
)

// Product is the stock-relevant view of a row in the products table.
type Product struct {
	ProductID  string `dynamodbav:"product_id"` // PK
	Name       string `dynamodbav:"name"`
	Stock      int64  `dynamodbav:"stock"`
	TrackStock bool   `dynamodbav:"track_stock"`
}

// Line is an ordered quantity of one product.
type Line struct {
	ProductID string
	Quantity  int
}

// Store encapsulates operations on the products table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// Get fetches a product. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, productID string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}

// Put writes a product unconditionally.
func (s *Store) Put(ctx context.Context, p Product) error {
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("put product: %w", err)
	}
	return nil
}

// TrackedDecrements returns one stock decrement per distinct product with
// stock tracking enabled. Untracked and deleted products are skipped. The
// writes are meant to ride in the same transaction as the order update.
func (s *Store) TrackedDecrements(ctx context.Context, lines []Line) ([]types.TransactWriteItem, error) {
	qty := map[string]int{}
	var order []string
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		if _, seen := qty[l.ProductID]; !seen {
			order = append(order, l.ProductID)
		}
		qty[l.ProductID] += l.Quantity
	}

	writes := make([]types.TransactWriteItem, 0, len(order))
	for _, id := range order {
		p, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if p == nil || !p.TrackStock {
			continue
		}
		writes = append(writes, types.TransactWriteItem{
			Update: &types.Update{
				TableName: &s.tableName,
				Key: map[string]types.AttributeValue{
					"product_id": &types.AttributeValueMemberS{Value: id},
				},
				UpdateExpression:    awsString("ADD stock :neg"),
				ConditionExpression: awsString("attribute_exists(product_id)"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":neg": &types.AttributeValueMemberN{Value: strconv.Itoa(-qty[id])},
				},
			},
		})
	}
	return writes, nil
}

func awsString(s string) *string { return &s }
