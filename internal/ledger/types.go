// Package ledger stores inbound provider webhooks exactly once per
// (source, event id) and dispatches them to the order services.
package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is one row of the webhook events table.
type Event struct {
	EventKey       string     `dynamodbav:"event_key" json:"event_key"` // PK, source#event_id
	Source         string     `dynamodbav:"source" json:"source"`
	EventID        string     `dynamodbav:"event_id" json:"event_id"`
	EventType      string     `dynamodbav:"event_type,omitempty" json:"event_type,omitempty"`
	OrderNumber    string     `dynamodbav:"order_number,omitempty" json:"order_number,omitempty"`
	Payload        string     `dynamodbav:"payload" json:"payload"`
	SignatureValid bool       `dynamodbav:"signature_valid" json:"signature_valid"`
	IsSuccess      bool       `dynamodbav:"is_success" json:"is_success"`
	ErrorMessage   string     `dynamodbav:"error_message,omitempty" json:"error_message,omitempty"`
	RetryCount     int        `dynamodbav:"retry_count" json:"retry_count"`
	DeliveryCount  int        `dynamodbav:"delivery_count" json:"delivery_count"`
	ReceivedAt     time.Time  `dynamodbav:"received_at" json:"received_at"`
	ReceivedUnix   int64      `dynamodbav:"received_unix" json:"-"`
	ProcessedAt    *time.Time `dynamodbav:"processed_at,omitempty" json:"processed_at,omitempty"`
}

// Key builds the dedup key for an event.
func Key(source, eventID string) string {
	return source + "#" + eventID
}

// Stats aggregates ledger rows over a trailing window.
type Stats struct {
	Source           string         `json:"source,omitempty"`
	WindowDays       int            `json:"window_days"`
	Total            int            `json:"total"`
	Succeeded        int            `json:"succeeded"`
	Failed           int            `json:"failed"`
	InvalidSignature int            `json:"invalid_signature"`
	Redeliveries     int            `json:"redeliveries"`
	ByType           map[string]int `json:"by_type"`
}

// Event types understood by the dispatcher.
const (
	TypePaymentConfirmed = "payment.confirmed"
	TypePaymentFailed    = "payment.failed"
	TypeTrackingUpdated  = "shipment.tracking_updated"
)

// Message is a parsed webhook body.
type Message interface {
	Type() string
	Order() string
}

type PaymentConfirmed struct {
	OrderNumber string
	Reference   string
}

type PaymentFailed struct {
	OrderNumber string
	Reason      string
}

// TrackingUpdated only signals a change; the status is pulled from the
// carrier when dispatched.
type TrackingUpdated struct {
	OrderNumber string
	StatusCode  string
}

// Unknown is any event type without a handler. It is stored and acknowledged.
type Unknown struct {
	EventType   string
	OrderNumber string
}

func (PaymentConfirmed) Type() string { return TypePaymentConfirmed }
func (m PaymentConfirmed) Order() string { return m.OrderNumber }
func (PaymentFailed) Type() string { return TypePaymentFailed }
func (m PaymentFailed) Order() string { return m.OrderNumber }
func (TrackingUpdated) Type() string { return TypeTrackingUpdated }
func (m TrackingUpdated) Order() string { return m.OrderNumber }
func (m Unknown) Type() string { return m.EventType }
func (m Unknown) Order() string { return m.OrderNumber }

type envelope struct {
	Type        string `json:"type"`
	OrderNumber string `json:"order_number"`
	Reference   string `json:"reference"`
	Reason      string `json:"reason"`
	StatusCode  string `json:"status_code"`
}

// Parse decodes a webhook body into its Message.
func Parse(payload []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("payload has no type")
	}

	switch env.Type {
	case TypePaymentConfirmed, TypePaymentFailed, TypeTrackingUpdated:
		if env.OrderNumber == "" {
			return nil, fmt.Errorf("%s payload has no order_number", env.Type)
		}
	}

	switch env.Type {
	case TypePaymentConfirmed:
		return PaymentConfirmed{OrderNumber: env.OrderNumber, Reference: env.Reference}, nil
	case TypePaymentFailed:
		return PaymentFailed{OrderNumber: env.OrderNumber, Reason: env.Reason}, nil
	case TypeTrackingUpdated:
		return TrackingUpdated{OrderNumber: env.OrderNumber, StatusCode: env.StatusCode}, nil
	default:
		return Unknown{EventType: env.Type, OrderNumber: env.OrderNumber}, nil
	}
}
