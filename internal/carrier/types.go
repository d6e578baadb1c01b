// Package carrier is the client for the external shipping carrier API.
package carrier

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status codes reported by the carrier's tracking endpoint.
const (
	TrackingPreTransit = "PRE_TRANSIT"
	TrackingInTransit  = "IN_TRANSIT"
	TrackingDelivered  = "DELIVERED"
	TrackingReturned   = "RETURNED"
	TrackingFailure    = "FAILURE"
)

type LabelFormat string

const (
	LabelPDF  LabelFormat = "pdf"
	LabelHTML LabelFormat = "html"
)

// Party is the recipient of a shipment.
type Party struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Email      string `json:"email,omitempty"`
	Address1   string `json:"address1"`
	Address2   string `json:"address2,omitempty"`
	District   string `json:"district,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"zip,omitempty"`
	Country    string `json:"country_code"`
}

// Parcel is the package description sent with a shipment request.
type Parcel struct {
	WeightKg     float64 `json:"weight"`
	MassUnit     string  `json:"mass_unit"`
	LengthCm     float64 `json:"length,omitempty"`
	WidthCm      float64 `json:"width,omitempty"`
	HeightCm     float64 `json:"height,omitempty"`
	DistanceUnit string  `json:"distance_unit,omitempty"`
}

type ShipmentRequest struct {
	SenderAddressID string `json:"sender_address_id"`
	Recipient       Party  `json:"recipient_address"`
	Parcel          Parcel `json:"parcel"`
	Reference       string `json:"order_reference"`
}

// Offer is one carrier quote for a shipment.
type Offer struct {
	OfferID     string          `json:"id"`
	CarrierName string          `json:"provider_name"`
	ServiceName string          `json:"service_name,omitempty"`
	Price       decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	EtaDays     int             `json:"estimated_days"`
}

// Acceptance is what the carrier returns once an offer is bought.
type Acceptance struct {
	TransactionID      string `json:"transaction_id"`
	TrackingNumber     string `json:"tracking_number"`
	Barcode            string `json:"barcode"`
	LabelURL           string `json:"label_url"`
	ResponsiveLabelURL string `json:"responsive_label_url"`
	TrackingURL        string `json:"tracking_url"`
	CarrierName        string `json:"provider_name,omitempty"`
}

type Tracking struct {
	StatusCode string    `json:"status_code"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// API is the carrier surface used by the shipping orchestrator.
type API interface {
	CreateShipment(ctx context.Context, req ShipmentRequest) (string, error)
	ListOffers(ctx context.Context, shipmentID string) ([]Offer, error)
	AcceptOffer(ctx context.Context, offerID string) (*Acceptance, error)
	GetTracking(ctx context.Context, shipmentID string) (*Tracking, error)
	DownloadLabel(ctx context.Context, url string, format LabelFormat) ([]byte, string, error)
}

// Error is a failed carrier call. Message and Detail come from the
// carrier's error body when it sends one.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("carrier %s: status %d: %s (%s)", e.Op, e.StatusCode, e.Message, e.Detail)
	}
	return fmt.Sprintf("carrier %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }
