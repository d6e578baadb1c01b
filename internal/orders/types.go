package orders

import (
	"time"

	"github.com/imrishuroy/storefront-fulfillment/internal/inventory"
)

type PaymentMethod string

const (
	PaymentCard           PaymentMethod = "CARD"
	PaymentBankTransfer   PaymentMethod = "BANK_TRANSFER"
	PaymentCashOnDelivery PaymentMethod = "CASH_ON_DELIVERY"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// Status is the fulfillment status of an order.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
)

// rank orders the forward path. CANCELLED is off the path.
var rank = map[Status]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusShipped:    2,
	StatusDelivered:  3,
}

// Address is the shipping address copied onto the order at checkout.
type Address struct {
	FullName   string `dynamodbav:"full_name" json:"full_name"`
	Phone      string `dynamodbav:"phone" json:"phone"`
	Email      string `dynamodbav:"email,omitempty" json:"email,omitempty"`
	Line1      string `dynamodbav:"line1" json:"line1"`
	Line2      string `dynamodbav:"line2,omitempty" json:"line2,omitempty"`
	District   string `dynamodbav:"district,omitempty" json:"district,omitempty"`
	City       string `dynamodbav:"city" json:"city"`
	PostalCode string `dynamodbav:"postal_code,omitempty" json:"postal_code,omitempty"`
	Country    string `dynamodbav:"country" json:"country"`
}

// Item is a snapshot of a product at purchase time.
type Item struct {
	ProductID string   `dynamodbav:"product_id" json:"product_id"`
	Name      string   `dynamodbav:"name" json:"name"`
	UnitPrice Money    `dynamodbav:"unit_price" json:"unit_price"`
	ImageURL  string   `dynamodbav:"image_url,omitempty" json:"image_url,omitempty"`
	Quantity  int      `dynamodbav:"quantity" json:"quantity"`
	WeightKg  *float64 `dynamodbav:"weight_kg,omitempty" json:"weight_kg,omitempty"`
}

// Receipt describes an uploaded bank-transfer receipt. The blob lives in S3.
type Receipt struct {
	Key         string    `dynamodbav:"key" json:"key"`
	FileName    string    `dynamodbav:"file_name" json:"file_name"`
	ContentType string    `dynamodbav:"content_type" json:"content_type"`
	Size        int64     `dynamodbav:"size" json:"size"`
	UploadedBy  string    `dynamodbav:"uploaded_by" json:"uploaded_by"`
	UploadedAt  time.Time `dynamodbav:"uploaded_at" json:"uploaded_at"`
}

// Approval records who decided a manual payment and when.
type Approval struct {
	By     string    `dynamodbav:"by" json:"by"`
	At     time.Time `dynamodbav:"at" json:"at"`
	Reason string    `dynamodbav:"reason,omitempty" json:"reason,omitempty"`
}

// Order represents the item stored in the Orders DynamoDB table.
type Order struct {
	OrderNumber     string        `dynamodbav:"order_number" json:"order_number"` // PK
	CustomerID      string        `dynamodbav:"customer_id,omitempty" json:"customer_id,omitempty"`
	PaymentMethod   PaymentMethod `dynamodbav:"payment_method" json:"payment_method"`
	PaymentStatus   PaymentStatus `dynamodbav:"payment_status" json:"payment_status"`
	OrderStatus     Status        `dynamodbav:"order_status" json:"order_status"`
	Items           []Item        `dynamodbav:"items" json:"items"`
	Subtotal        Money         `dynamodbav:"subtotal" json:"subtotal"`
	ShippingFee     Money         `dynamodbav:"shipping_fee" json:"shipping_fee"`
	Total           Money         `dynamodbav:"total" json:"total"`
	ShippingAddress Address       `dynamodbav:"shipping_address" json:"shipping_address"`

	Receipt          *Receipt  `dynamodbav:"receipt,omitempty" json:"receipt,omitempty"`
	PaymentApproval  *Approval `dynamodbav:"payment_approval,omitempty" json:"payment_approval,omitempty"`
	PaymentReference string    `dynamodbav:"payment_reference,omitempty" json:"payment_reference,omitempty"`
	StockCommitted   bool      `dynamodbav:"stock_committed" json:"stock_committed"`

	ShipmentID         string     `dynamodbav:"shipment_id,omitempty" json:"shipment_id,omitempty"`
	SenderAddressID    string     `dynamodbav:"sender_address_id,omitempty" json:"sender_address_id,omitempty"`
	OfferID            string     `dynamodbav:"offer_id,omitempty" json:"offer_id,omitempty"`
	TransactionID      string     `dynamodbav:"transaction_id,omitempty" json:"transaction_id,omitempty"`
	TrackingNumber     string     `dynamodbav:"tracking_number,omitempty" json:"tracking_number,omitempty"`
	Barcode            string     `dynamodbav:"barcode,omitempty" json:"barcode,omitempty"`
	LabelURL           string     `dynamodbav:"label_url,omitempty" json:"label_url,omitempty"`
	ResponsiveLabelURL string     `dynamodbav:"responsive_label_url,omitempty" json:"responsive_label_url,omitempty"`
	TrackingURL        string     `dynamodbav:"tracking_url,omitempty" json:"tracking_url,omitempty"`
	CarrierName        string     `dynamodbav:"carrier_name,omitempty" json:"carrier_name,omitempty"`
	ShippingCost       *Money     `dynamodbav:"shipping_cost,omitempty" json:"shipping_cost,omitempty"`
	ShipmentClaimedAt  *time.Time `dynamodbav:"shipment_claimed_at,omitempty" json:"shipment_claimed_at,omitempty"`
	OfferClaimID       string     `dynamodbav:"offer_claim_id,omitempty" json:"offer_claim_id,omitempty"`
	OfferClaimedAt     *time.Time `dynamodbav:"offer_claimed_at,omitempty" json:"offer_claimed_at,omitempty"`
	TrackingCode       string     `dynamodbav:"tracking_code,omitempty" json:"tracking_code,omitempty"`
	TrackingUpdatedAt  *time.Time `dynamodbav:"tracking_updated_at,omitempty" json:"tracking_updated_at,omitempty"`
	ShippedAt          *time.Time `dynamodbav:"shipped_at,omitempty" json:"shipped_at,omitempty"`
	DeliveredAt        *time.Time `dynamodbav:"delivered_at,omitempty" json:"delivered_at,omitempty"`

	Version   int64     `dynamodbav:"version" json:"version"`
	CreatedAt time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// Snapshot is the part of an order recorded before and after a transition.
type Snapshot struct {
	OrderStatus   Status        `json:"order_status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	ShipmentID    string        `json:"shipment_id,omitempty"`
	TransactionID string        `json:"transaction_id,omitempty"`
	TrackingCode  string        `json:"tracking_code,omitempty"`
}

func (o *Order) Snapshot() Snapshot {
	return Snapshot{
		OrderStatus:   o.OrderStatus,
		PaymentStatus: o.PaymentStatus,
		ShipmentID:    o.ShipmentID,
		TransactionID: o.TransactionID,
		TrackingCode:  o.TrackingCode,
	}
}

// Lines returns the ordered quantities per product.
func (o *Order) Lines() []inventory.Line {
	lines := make([]inventory.Line, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return lines
}

// Result is the outcome of a transition. Applied is false when the order
// was already in the target state and nothing was written.
type Result struct {
	Order   *Order
	Before  Snapshot
	Applied bool
}

// Acceptance carries the artifacts returned when a carrier offer is accepted.
type Acceptance struct {
	OfferID            string
	TransactionID      string
	TrackingNumber     string
	Barcode            string
	LabelURL           string
	ResponsiveLabelURL string
	TrackingURL        string
	CarrierName        string
	Cost               *Money
}

// TrackingSnapshot is one tracking reading from the carrier.
type TrackingSnapshot struct {
	Code      string
	UpdatedAt time.Time
}
