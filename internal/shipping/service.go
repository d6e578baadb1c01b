// Package shipping orchestrates carrier shipments for paid orders: request,
// offers, acceptance, tracking and label download.
package shipping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
	"github.com/imrishuroy/storefront-fulfillment/internal/audit"
	"github.com/imrishuroy/storefront-fulfillment/internal/aws"
	"github.com/imrishuroy/storefront-fulfillment/internal/carrier"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
)

// DefaultItemWeightKg is used for items without a recorded weight.
const DefaultItemWeightKg = 0.5

// OrderService is the order state machine as seen by shipping.
type OrderService interface {
	Get(ctx context.Context, orderNumber string) (*orders.Order, error)
	ClaimShipment(ctx context.Context, orderNumber string) (*orders.Result, error)
	ReleaseShipment(ctx context.Context, orderNumber string) (*orders.Result, error)
	RecordShipment(ctx context.Context, orderNumber, shipmentID, senderAddressID string) (*orders.Result, error)
	ClaimOffer(ctx context.Context, orderNumber, offerID string) (*orders.Result, error)
	ReleaseOffer(ctx context.Context, orderNumber, offerID string) (*orders.Result, error)
	RecordAcceptance(ctx context.Context, orderNumber string, a orders.Acceptance) (*orders.Result, error)
	MarkShipped(ctx context.Context, orderNumber string, snap orders.TrackingSnapshot) (*orders.Result, error)
	MarkDelivered(ctx context.Context, orderNumber string, snap orders.TrackingSnapshot) (*orders.Result, error)
	RecordTracking(ctx context.Context, orderNumber string, snap orders.TrackingSnapshot, target orders.Status) (*orders.Result, error)
	ListForTracking(ctx context.Context) ([]orders.Order, error)
}

type Service struct {
	orders  OrderService
	carrier carrier.API
	audit   audit.Recorder
	counter aws.Counter
	logger  *slog.Logger
}

func NewService(o OrderService, c carrier.API, rec audit.Recorder, counter aws.Counter, logger *slog.Logger) *Service {
	if counter == nil {
		counter = aws.NopCounter{}
	}
	return &Service{orders: o, carrier: c, audit: rec, counter: counter, logger: logger}
}

// OfferList is a read-through of the carrier's offers for a shipment.
type OfferList struct {
	ShipmentID string          `json:"shipment_id"`
	State      State           `json:"state"`
	Offers     []carrier.Offer `json:"offers"`
	Cheapest   *carrier.Offer  `json:"cheapest,omitempty"`
}

// TrackingResult is the outcome of one tracking sync.
type TrackingResult struct {
	Order      *orders.Order `json:"order"`
	StatusCode string        `json:"status_code"`
	Mapped     orders.Status `json:"mapped_status,omitempty"`
	Changed    bool          `json:"changed"`
	State      State         `json:"state"`
}

// CreateShipment requests a carrier shipment for a paid order. The order is
// claimed before the carrier is called, so an order that already has a
// shipment id or a request in flight is refused without a carrier call.
func (s *Service) CreateShipment(ctx context.Context, orderNumber, senderAddressID, actor string) (*orders.Order, error) {
	const op = "shipping.CreateShipment"
	if strings.TrimSpace(senderAddressID) == "" {
		return nil, apperr.Validation(op, "sender address id is required")
	}

	o, err := s.orders.Get(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if err := o.CanRequestShipment(); err != nil {
		return nil, err
	}
	phone, err := carrier.NormalizePhone(o.ShippingAddress.Phone)
	if err != nil {
		return nil, apperr.Validation(op, "recipient phone: %v", err)
	}

	claim, err := s.orders.ClaimShipment(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	o = claim.Order
	addr := o.ShippingAddress
	req := carrier.ShipmentRequest{
		SenderAddressID: senderAddressID,
		Recipient: carrier.Party{
			Name:       addr.FullName,
			Phone:      phone,
			Email:      addr.Email,
			Address1:   addr.Line1,
			Address2:   addr.Line2,
			District:   addr.District,
			City:       addr.City,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
		},
		Parcel:    carrier.Parcel{WeightKg: ParcelWeight(o.Items), MassUnit: "kg"},
		Reference: o.OrderNumber,
	}

	shipmentID, err := s.carrier.CreateShipment(ctx, req)
	if err != nil {
		if _, rerr := s.orders.ReleaseShipment(ctx, orderNumber); rerr != nil {
			s.logger.ErrorContext(ctx, "failed to release shipment claim", "order_number", orderNumber, "error", rerr)
		}
		return nil, s.providerError(ctx, op, err)
	}

	res, err := s.orders.RecordShipment(ctx, orderNumber, shipmentID, senderAddressID)
	if err != nil {
		s.logger.ErrorContext(ctx, "carrier shipment not recorded",
			"order_number", orderNumber, "shipment_id", shipmentID, "error", err)
		return nil, err
	}

	meta := res.Metadata()
	meta["sender_address_id"] = senderAddressID
	meta["weight_kg"] = fmt.Sprintf("%.2f", req.Parcel.WeightKg)
	s.audit.Record(ctx, audit.Entry{
		Actor:       actor,
		Action:      audit.ActionShipmentCreated,
		Category:    audit.CategoryShipping,
		OrderNumber: orderNumber,
		Description: fmt.Sprintf("shipment %s requested for order %s", shipmentID, orderNumber),
		Metadata:    meta,
	})
	return res.Order, nil
}

// ListOffers returns the carrier's current offers and the cheapest one.
func (s *Service) ListOffers(ctx context.Context, shipmentID string) (*OfferList, error) {
	const op = "shipping.ListOffers"
	if strings.TrimSpace(shipmentID) == "" {
		return nil, apperr.Validation(op, "shipment id is required")
	}
	offers, err := s.carrier.ListOffers(ctx, shipmentID)
	if err != nil {
		return nil, s.providerError(ctx, op, err)
	}

	list := &OfferList{ShipmentID: shipmentID, State: StateRequested, Offers: offers}
	if len(offers) > 0 {
		list.State = StateOffersReceived
		list.Cheapest = Cheapest(offers)
	}
	return list, nil
}

// Cheapest returns the lowest priced offer, preferring the faster one on a tie.
func Cheapest(offers []carrier.Offer) *carrier.Offer {
	var best *carrier.Offer
	for i := range offers {
		o := &offers[i]
		if best == nil || o.Price.LessThan(best.Price) ||
			(o.Price.Equal(best.Price) && o.EtaDays < best.EtaDays) {
			best = o
		}
	}
	return best
}

// AcceptOffer buys offerID for the order. The order is claimed first, so a
// stored transaction id or another acceptance in flight refuses the call
// before the carrier is reached.
func (s *Service) AcceptOffer(ctx context.Context, orderNumber, offerID, actor string) (*orders.Order, error) {
	const op = "shipping.AcceptOffer"
	if strings.TrimSpace(offerID) == "" {
		return nil, apperr.Validation(op, "offer id is required")
	}

	claim, err := s.orders.ClaimOffer(ctx, orderNumber, offerID)
	if err != nil {
		return nil, err
	}
	cost := s.offerCost(ctx, claim.Order.ShipmentID, offerID)

	acc, err := s.carrier.AcceptOffer(ctx, offerID)
	if err != nil {
		if _, rerr := s.orders.ReleaseOffer(ctx, orderNumber, offerID); rerr != nil {
			s.logger.ErrorContext(ctx, "failed to release offer claim", "order_number", orderNumber, "offer_id", offerID, "error", rerr)
		}
		return nil, s.providerError(ctx, op, err)
	}

	res, err := s.orders.RecordAcceptance(ctx, orderNumber, orders.Acceptance{
		OfferID:            offerID,
		TransactionID:      acc.TransactionID,
		TrackingNumber:     acc.TrackingNumber,
		Barcode:            acc.Barcode,
		LabelURL:           acc.LabelURL,
		ResponsiveLabelURL: acc.ResponsiveLabelURL,
		TrackingURL:        acc.TrackingURL,
		CarrierName:        acc.CarrierName,
		Cost:               cost,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "accepted carrier offer not recorded",
			"order_number", orderNumber, "offer_id", offerID, "transaction_id", acc.TransactionID, "error", err)
		return nil, err
	}

	meta := res.Metadata()
	meta["offer_id"] = offerID
	meta["tracking_number"] = acc.TrackingNumber
	if cost != nil {
		meta["shipping_cost"] = cost.String()
	}
	s.audit.Record(ctx, audit.Entry{
		Actor:       actor,
		Action:      audit.ActionOfferAccepted,
		Category:    audit.CategoryShipping,
		OrderNumber: orderNumber,
		Description: fmt.Sprintf("offer %s accepted for order %s", offerID, orderNumber),
		Metadata:    meta,
	})
	return res.Order, nil
}

// offerCost looks up the quoted price of offerID. A failed lookup leaves the
// cost unset rather than blocking the purchase.
func (s *Service) offerCost(ctx context.Context, shipmentID, offerID string) *orders.Money {
	offers, err := s.carrier.ListOffers(ctx, shipmentID)
	if err != nil {
		s.logger.WarnContext(ctx, "offer price lookup failed", "shipment_id", shipmentID, "offer_id", offerID, "error", err)
		return nil
	}
	for _, o := range offers {
		if o.OfferID == offerID {
			return &orders.Money{Decimal: o.Price}
		}
	}
	s.logger.WarnContext(ctx, "accepted offer not in offer list", "shipment_id", shipmentID, "offer_id", offerID)
	return nil
}

// MapTrackingStatus maps a carrier status code to the order status it
// implies. Codes other than DELIVERED and IN_TRANSIT imply nothing.
func MapTrackingStatus(code string) orders.Status {
	switch strings.ToUpper(code) {
	case carrier.TrackingDelivered:
		return orders.StatusDelivered
	case carrier.TrackingInTransit:
		return orders.StatusShipped
	}
	return ""
}

// SyncTracking pulls the carrier's tracking status and applies it forward only.
func (s *Service) SyncTracking(ctx context.Context, orderNumber, actor string) (*TrackingResult, error) {
	const op = "shipping.SyncTracking"
	o, err := s.orders.Get(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if o.ShipmentID == "" {
		return nil, apperr.InvalidState(op, "order %s has no shipment", orderNumber)
	}

	tr, err := s.carrier.GetTracking(ctx, o.ShipmentID)
	if err != nil {
		return nil, s.providerError(ctx, op, err)
	}

	target := MapTrackingStatus(tr.StatusCode)
	if target == "" {
		s.logger.InfoContext(ctx, "unmapped carrier tracking status",
			"order_number", orderNumber, "shipment_id", o.ShipmentID, "status_code", tr.StatusCode)
	}

	snap := orders.TrackingSnapshot{Code: tr.StatusCode, UpdatedAt: tr.UpdatedAt}
	var res *orders.Result
	switch target {
	case orders.StatusShipped:
		res, err = s.orders.MarkShipped(ctx, orderNumber, snap)
	case orders.StatusDelivered:
		res, err = s.orders.MarkDelivered(ctx, orderNumber, snap)
	default:
		res, err = s.orders.RecordTracking(ctx, orderNumber, snap, "")
	}
	if err != nil {
		return nil, err
	}

	if res.Applied {
		meta := res.Metadata()
		meta["status_code"] = tr.StatusCode
		s.audit.Record(ctx, audit.Entry{
			Actor:       actor,
			Action:      audit.ActionTrackingSynced,
			Category:    audit.CategoryShipping,
			OrderNumber: orderNumber,
			Description: fmt.Sprintf("tracking %s for order %s", tr.StatusCode, orderNumber),
			Metadata:    meta,
		})
	}

	return &TrackingResult{
		Order:      res.Order,
		StatusCode: tr.StatusCode,
		Mapped:     target,
		Changed:    res.Before.OrderStatus != res.Order.OrderStatus,
		State:      StateOf(res.Order),
	}, nil
}

// DownloadLabel fetches the order's label. pdf uses the label URL, html the
// responsive one.
func (s *Service) DownloadLabel(ctx context.Context, orderNumber string, format carrier.LabelFormat) ([]byte, string, error) {
	const op = "shipping.DownloadLabel"
	o, err := s.orders.Get(ctx, orderNumber)
	if err != nil {
		return nil, "", err
	}

	var url string
	switch format {
	case carrier.LabelPDF:
		url = o.LabelURL
	case carrier.LabelHTML:
		url = o.ResponsiveLabelURL
	default:
		return nil, "", apperr.Validation(op, "unsupported label format %q", format)
	}
	if url == "" {
		return nil, "", apperr.NotFound(op, "order %s has no %s label", orderNumber, format)
	}

	body, contentType, err := s.carrier.DownloadLabel(ctx, url, format)
	if err != nil {
		return nil, "", s.providerError(ctx, op, err)
	}
	return body, contentType, nil
}

func (s *Service) ListForTracking(ctx context.Context) ([]orders.Order, error) {
	return s.orders.ListForTracking(ctx)
}

func (s *Service) providerError(ctx context.Context, op string, err error) error {
	s.counter.Incr(ctx, "CarrierCallFailed", map[string]string{"operation": op})
	s.logger.WarnContext(ctx, "carrier call failed", "op", op, "error", err)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Provider(op, "carrier call timed out", err)
	}
	var ce *carrier.Error
	if errors.As(err, &ce) {
		detail := ce.Message
		if ce.Detail != "" {
			detail += ": " + ce.Detail
		}
		e := apperr.Provider(op, detail, err)
		if ce.StatusCode != 0 {
			e = e.WithMeta("status_code", fmt.Sprint(ce.StatusCode))
		}
		return e
	}
	return apperr.Provider(op, err.Error(), err)
}

// ParcelWeight sums item weights, using DefaultItemWeightKg when unset.
func ParcelWeight(items []orders.Item) float64 {
	total := decimal.Zero
	for _, it := range items {
		w := DefaultItemWeightKg
		if it.WeightKg != nil && *it.WeightKg > 0 {
			w = *it.WeightKg
		}
		total = total.Add(decimal.NewFromFloat(w).Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	f, _ := total.Round(3).Float64()
	return f
}
