package audit

import "time"

// Action names a state-changing operation.
type Action string

const (
	ActionReceiptUploaded  Action = "RECEIPT_UPLOADED"
	ActionPaymentApproved  Action = "PAYMENT_APPROVED"
	ActionPaymentRejected  Action = "PAYMENT_REJECTED"
	ActionPaymentConfirmed Action = "PAYMENT_CONFIRMED"
	ActionPaymentFailed    Action = "PAYMENT_FAILED"
	ActionShipmentCreated  Action = "SHIPMENT_CREATED"
	ActionOfferAccepted    Action = "OFFER_ACCEPTED"
	ActionTrackingSynced   Action = "TRACKING_SYNCED"
	ActionWebhookReceived  Action = "WEBHOOK_RECEIVED"
	ActionWebhookRetried   Action = "WEBHOOK_RETRIED"
)

// Category groups actions.
type Category string

const (
	CategoryPayment  Category = "PAYMENT"
	CategoryShipping Category = "SHIPPING"
	CategoryWebhook  Category = "WEBHOOK"
)

// SystemActor is recorded for transitions driven by webhooks and the poller.
const SystemActor = "system"

// Entry is one immutable audit record in the audit table.
type Entry struct {
	EntryID     string            `dynamodbav:"entry_id" json:"entry_id"` // PK, UUIDv7
	Actor       string            `dynamodbav:"actor" json:"actor"`
	Action      Action            `dynamodbav:"action" json:"action"`
	Category    Category          `dynamodbav:"category" json:"category"`
	Description string            `dynamodbav:"description" json:"description"`
	Metadata    map[string]string `dynamodbav:"metadata,omitempty" json:"metadata,omitempty"`
	OrderNumber string            `dynamodbav:"order_number,omitempty" json:"order_number,omitempty"`
	CreatedAt   time.Time         `dynamodbav:"created_at" json:"created_at"`
	CreatedUnix int64             `dynamodbav:"created_unix" json:"-"`
}

// Filter narrows a Query. Empty fields match everything.
type Filter struct {
	Actor    string
	Category Category
	Action   Action
}

// Page is one page of query results, newest first.
type Page struct {
	Entries    []Entry `json:"entries"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

// Summary is an actor's activity over a trailing window.
type Summary struct {
	Actor        string           `json:"actor"`
	WindowDays   int              `json:"window_days"`
	Total        int              `json:"total"`
	ByAction     map[Action]int   `json:"by_action"`
	ByCategory   map[Category]int `json:"by_category"`
	LastActivity *time.Time       `json:"last_activity,omitempty"`
}
