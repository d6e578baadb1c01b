package ledger

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
	// ErrEventExists is returned by Insert when the event key is taken.
	ErrEventExists = errors.New("webhook event already stored")
	// ErrEventNotFound is returned by updates on a missing row.
	ErrEventNotFound = errors.New("webhook event not found")
)

// Store encapsulates operations on the webhook events table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewStore creates a new ledger Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// Insert writes e only if its key has never been seen. A delivery with a
// valid signature also replaces a row stored with an invalid one, so a
// forged delivery cannot take the slot of the genuine event.
func (s *Store) Insert(ctx context.Context, e *Event) error {
	e.EventKey = Key(e.Source, e.EventID)
	e.ReceivedUnix = e.ReceivedAt.Unix()
	if e.DeliveryCount == 0 {
		e.DeliveryCount = 1
	}
	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	in := &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(event_key)"),
	}
	if e.SignatureValid {
		in.ConditionExpression = awsString("attribute_not_exists(event_key) OR signature_valid = :invalid")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":invalid": &types.AttributeValueMemberBOOL{Value: false},
		}
	}
	_, err = s.client.PutItem(ctx, in)
	if err != nil {
		if isConditionFailed(err) {
			return ErrEventExists
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// Get returns the row for key, or nil if absent.
func (s *Store) Get(ctx context.Context, key string) (*Event, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            eventKey(key),
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var e Event
	if err := attributevalue.UnmarshalMap(out.Item, &e); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return &e, nil
}

// RecordRedelivery counts another delivery of an already stored event.
func (s *Store) RecordRedelivery(ctx context.Context, key string) error {
	return s.update(ctx, key, "ADD delivery_count :one", nil, map[string]types.AttributeValue{
		":one": &types.AttributeValueMemberN{Value: "1"},
	})
}

// MarkProcessed flags the row as successfully dispatched.
func (s *Store) MarkProcessed(ctx context.Context, key string, at time.Time) error {
	ts, err := attributevalue.Marshal(at.UTC())
	if err != nil {
		return fmt.Errorf("marshal time: %w", err)
	}
	return s.update(ctx, key, "SET is_success = :ok, processed_at = :at REMOVE error_message", nil,
		map[string]types.AttributeValue{
			":ok": &types.AttributeValueMemberBOOL{Value: true},
			":at": ts,
		})
}

// MarkFailed records a failed dispatch and bumps retry_count.
func (s *Store) MarkFailed(ctx context.Context, key, message string, at time.Time) error {
	ts, err := attributevalue.Marshal(at.UTC())
	if err != nil {
		return fmt.Errorf("marshal time: %w", err)
	}
	return s.update(ctx, key, "SET is_success = :ok, error_message = :msg, processed_at = :at ADD retry_count :one", nil,
		map[string]types.AttributeValue{
			":ok":  &types.AttributeValueMemberBOOL{Value: false},
			":msg": &types.AttributeValueMemberS{Value: message},
			":at":  ts,
			":one": &types.AttributeValueMemberN{Value: "1"},
		})
}

func (s *Store) update(ctx context.Context, key, expr string, names map[string]string, values map[string]types.AttributeValue) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       eventKey(key),
		UpdateExpression:          &expr,
		ConditionExpression:       awsString("attribute_exists(event_key)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrEventNotFound
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// ListSince returns rows received at or after since, optionally for one source.
func (s *Store) ListSince(ctx context.Context, source string, since time.Time) ([]Event, error) {
	filter := "received_unix >= :since"
	var names map[string]string
	values := map[string]types.AttributeValue{
		":since": &types.AttributeValueMemberN{Value: strconv.FormatInt(since.Unix(), 10)},
	}
	if source != "" {
		filter += " AND #source = :source"
		names = map[string]string{"#source": "source"}
		values[":source"] = &types.AttributeValueMemberS{Value: source}
	}

	var events []Event
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:                 &s.tableName,
			FilterExpression:          &filter,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan events: %w", err)
		}
		var batch []Event
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal events: %w", err)
		}
		events = append(events, batch...)
		if len(out.LastEvaluatedKey) == 0 {
			return events, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func eventKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"event_key": &types.AttributeValueMemberS{Value: key}}
}

func isConditionFailed(err error) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}

func awsString(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
