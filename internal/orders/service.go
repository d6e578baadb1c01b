package orders

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
	"github.com/imrishuroy/storefront-fulfillment/internal/inventory"
)

const maxAttempts = 3

// StockWriter builds the stock decrements committed with a payment.
type StockWriter interface {
	TrackedDecrements(ctx context.Context, lines []inventory.Line) ([]types.TransactWriteItem, error)
}

// Service owns every order status transition. Each transition re-reads the
// order, checks its guard and writes conditionally on the version it read.
type Service struct {
	store   *Store
	stock   StockWriter
	logger  *slog.Logger
	nowFunc func() time.Time
}

func NewService(store *Store, stock StockWriter, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		stock:   stock,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// mutation applies a transition to o in place. It returns false when o is
// already in the target state.
type mutation func(o *Order, now time.Time) (bool, error)

func (s *Service) apply(ctx context.Context, op, orderNumber string, fn mutation, commitStock bool) (*Result, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		o, err := s.store.Get(ctx, orderNumber)
		if err != nil {
			return nil, apperr.Internal(op, err)
		}
		if o == nil {
			return nil, apperr.NotFound(op, "order %s not found", orderNumber)
		}
		before := o.Snapshot()

		changed, err := fn(o, s.nowFunc().UTC())
		if err != nil {
			return nil, err
		}
		if !changed {
			return &Result{Order: o, Before: before}, nil
		}

		var extra []types.TransactWriteItem
		if commitStock && !o.StockCommitted {
			extra, err = s.stock.TrackedDecrements(ctx, o.Lines())
			if err != nil {
				return nil, apperr.Internal(op, err)
			}
			o.StockCommitted = true
		}

		err = s.store.SaveWithWrites(ctx, o, extra)
		switch {
		case err == nil:
			return &Result{Order: o, Before: before, Applied: true}, nil
		case errors.Is(err, ErrVersionConflict):
			s.logger.DebugContext(ctx, "order changed concurrently, retrying",
				"op", op, "order_number", orderNumber, "attempt", attempt)
			continue
		case errors.Is(err, ErrWriteRejected):
			return nil, apperr.InvalidState(op, "stock update rejected for order %s: %v", orderNumber, err)
		default:
			return nil, apperr.Internal(op, err)
		}
	}
	return nil, apperr.InvalidState(op, "order %s is being modified concurrently", orderNumber)
}

// Get returns an order or NotFound.
func (s *Service) Get(ctx context.Context, orderNumber string) (*Order, error) {
	o, err := s.store.Get(ctx, orderNumber)
	if err != nil {
		return nil, apperr.Internal("orders.Get", err)
	}
	if o == nil {
		return nil, apperr.NotFound("orders.Get", "order %s not found", orderNumber)
	}
	return o, nil
}

func (s *Service) ListForTracking(ctx context.Context) ([]Order, error) {
	list, err := s.store.ListForTracking(ctx)
	if err != nil {
		return nil, apperr.Internal("orders.ListForTracking", err)
	}
	return list, nil
}

// CanAttachReceipt reports whether a receipt may be uploaded for o.
func (o *Order) CanAttachReceipt() error {
	const op = "orders.AttachReceipt"
	if o.PaymentMethod != PaymentBankTransfer {
		return apperr.ErrWrongPaymentMethod.WithMeta("payment_method", string(o.PaymentMethod))
	}
	if o.PaymentStatus != PaymentPending || o.OrderStatus == StatusCancelled {
		return apperr.InvalidState(op, "payment is %s", o.PaymentStatus)
	}
	return nil
}

// AttachReceipt stores receipt metadata. Payment status is unchanged.
func (s *Service) AttachReceipt(ctx context.Context, orderNumber string, r Receipt) (*Result, error) {
	return s.apply(ctx, "orders.AttachReceipt", orderNumber, func(o *Order, now time.Time) (bool, error) {
		if err := o.CanAttachReceipt(); err != nil {
			return false, err
		}
		if r.UploadedAt.IsZero() {
			r.UploadedAt = now
		}
		o.Receipt = &r
		return true, nil
	}, false)
}

// ApprovePayment marks a bank-transfer order paid and commits its stock.
func (s *Service) ApprovePayment(ctx context.Context, orderNumber, approver string) (*Result, error) {
	const op = "orders.ApprovePayment"
	return s.apply(ctx, op, orderNumber, func(o *Order, now time.Time) (bool, error) {
		if o.PaymentStatus != PaymentPending || o.OrderStatus == StatusCancelled {
			return false, apperr.InvalidState(op, "payment already %s", o.PaymentStatus)
		}
		if o.PaymentMethod != PaymentBankTransfer {
			return false, apperr.ErrWrongPaymentMethod.WithMeta("payment_method", string(o.PaymentMethod))
		}
		if o.Receipt == nil {
			return false, apperr.ErrMissingReceipt
		}
		o.PaymentStatus = PaymentPaid
		o.OrderStatus = StatusProcessing
		o.PaymentApproval = &Approval{By: approver, At: now}
		return true, nil
	}, true)
}

// RejectPayment cancels a bank-transfer order. Stock is never touched.
func (s *Service) RejectPayment(ctx context.Context, orderNumber, approver, reason string) (*Result, error) {
	const op = "orders.RejectPayment"
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation(op, "rejection reason is required")
	}
	return s.apply(ctx, op, orderNumber, func(o *Order, now time.Time) (bool, error) {
		if o.PaymentStatus != PaymentPending || o.OrderStatus == StatusCancelled {
			return false, apperr.InvalidState(op, "payment already %s", o.PaymentStatus)
		}
		if o.PaymentMethod != PaymentBankTransfer {
			return false, apperr.ErrWrongPaymentMethod.WithMeta("payment_method", string(o.PaymentMethod))
		}
		o.PaymentStatus = PaymentFailed
		o.OrderStatus = StatusCancelled
		o.PaymentApproval = &Approval{By: approver, At: now, Reason: reason}
		return true, nil
	}, false)
}

// ConfirmPayment applies a provider payment confirmation. An order that is
// already paid is left untouched.
func (s *Service) ConfirmPayment(ctx context.Context, orderNumber, source, reference string) (*Result, error) {
	const op = "orders.ConfirmPayment"
	return s.apply(ctx, op, orderNumber, func(o *Order, now time.Time) (bool, error) {
		if o.PaymentStatus == PaymentPaid {
			return false, nil
		}
		if o.PaymentStatus != PaymentPending || o.OrderStatus == StatusCancelled {
			return false, apperr.InvalidState(op, "payment already %s", o.PaymentStatus)
		}
		o.PaymentStatus = PaymentPaid
		if o.OrderStatus == StatusPending {
			o.OrderStatus = StatusProcessing
		}
		o.PaymentReference = reference
		o.PaymentApproval = &Approval{By: source, At: now}
		return true, nil
	}, true)
}

// FailPayment applies a provider payment failure.
func (s *Service) FailPayment(ctx context.Context, orderNumber, source, reason string) (*Result, error) {
	const op = "orders.FailPayment"
	return s.apply(ctx, op, orderNumber, func(o *Order, now time.Time) (bool, error) {
		if o.PaymentStatus == PaymentFailed {
			return false, nil
		}
		if o.PaymentStatus != PaymentPending {
			return false, apperr.InvalidState(op, "payment already %s", o.PaymentStatus)
		}
		o.PaymentStatus = PaymentFailed
		o.OrderStatus = StatusCancelled
		o.PaymentApproval = &Approval{By: source, At: now, Reason: reason}
		return true, nil
	}, false)
}

// ClaimTTL bounds how long a claim blocks other callers. It outlives any
// carrier call, so a claim older than this belongs to a caller that died.
const ClaimTTL = 2 * time.Minute

func claimLive(at *time.Time, now time.Time) bool {
	return at != nil && now.Sub(*at) < ClaimTTL
}

// ClaimShipment reserves the order for one shipment request. The caller
// must follow with RecordShipment or ReleaseShipment.
func (s *Service) ClaimShipment(ctx context.Context, orderNumber string) (*Result, error) {
	const op = "orders.ClaimShipment"
	return s.apply(ctx, op, orderNumber, func(o *Order, now time.Time) (bool, error) {
		if err := o.CanRequestShipment(); err != nil {
			return false, err
		}
		if claimLive(o.ShipmentClaimedAt, now) {
			return false, apperr.InvalidState(op, "shipment request for order %s is in progress", orderNumber).
				WithReason(apperr.ReasonInProgress)
		}
		o.ShipmentClaimedAt = &now
		return true, nil
	}, false)
}

// ReleaseShipment drops a shipment claim after a failed carrier call.
func (s *Service) ReleaseShipment(ctx context.Context, orderNumber string) (*Result, error) {
	return s.apply(ctx, "orders.ReleaseShipment", orderNumber, func(o *Order, now time.Time) (bool, error) {
		if o.ShipmentClaimedAt == nil || o.ShipmentID != "" {
			return false, nil
		}
		o.ShipmentClaimedAt = nil
		return true, nil
	}, false)
}

// RecordShipment stores the carrier shipment id and clears the claim. A
// second shipment for the same order is refused with the existing id attached.
func (s *Service) RecordShipment(ctx context.Context, orderNumber, shipmentID, senderAddressID string) (*Result, error) {
	return s.apply(ctx, "orders.RecordShipment", orderNumber, func(o *Order, now time.Time) (bool, error) {
		if err := o.CanRequestShipment(); err != nil {
			return false, err
		}
		o.ShipmentID = shipmentID
		o.SenderAddressID = senderAddressID
		o.ShipmentClaimedAt = nil
		return true, nil
	}, false)
}

// CanRequestShipment reports whether a carrier shipment may be created for o.
func (o *Order) CanRequestShipment() error {
	const op = "orders.RecordShipment"
	if o.ShipmentID != "" {
		return apperr.ErrAlreadyRequested.WithMeta("shipment_id", o.ShipmentID)
	}
	if o.OrderStatus == StatusCancelled {
		return apperr.InvalidState(op, "order is cancelled")
	}
	if o.PaymentStatus != PaymentPaid && o.PaymentMethod != PaymentCashOnDelivery {
		return apperr.InvalidState(op, "payment is %s", o.PaymentStatus)
	}
	return nil
}

// CanAcceptOffer reports whether a carrier offer may be accepted for o.
func (o *Order) CanAcceptOffer() error {
	const op = "orders.RecordAcceptance"
	if o.TransactionID != "" {
		return apperr.ErrAlreadyAccepted.WithMeta("transaction_id", o.TransactionID)
	}
	if o.OrderStatus == StatusCancelled {
		return apperr.InvalidState(op, "order is cancelled")
	}
	if o.ShipmentID == "" {
		return apperr.InvalidState(op, "no shipment requested")
	}
	return nil
}

// ClaimOffer reserves the order for accepting offerID. The caller must
// follow with RecordAcceptance or ReleaseOffer.
func (s *Service) ClaimOffer(ctx context.Context, orderNumber, offerID string) (*Result, error) {
	const op = "orders.ClaimOffer"
	return s.apply(ctx, op, orderNumber, func(o *Order, now time.Time) (bool, error) {
		if err := o.CanAcceptOffer(); err != nil {
			return false, err
		}
		if claimLive(o.OfferClaimedAt, now) {
			return false, apperr.InvalidState(op, "offer %s is being accepted for order %s", o.OfferClaimID, orderNumber).
				WithReason(apperr.ReasonInProgress).
				WithMeta("offer_id", o.OfferClaimID)
		}
		o.OfferClaimID = offerID
		o.OfferClaimedAt = &now
		return true, nil
	}, false)
}

// ReleaseOffer drops the claim on offerID after a failed carrier call.
func (s *Service) ReleaseOffer(ctx context.Context, orderNumber, offerID string) (*Result, error) {
	return s.apply(ctx, "orders.ReleaseOffer", orderNumber, func(o *Order, now time.Time) (bool, error) {
		if o.OfferClaimID != offerID || o.TransactionID != "" {
			return false, nil
		}
		o.OfferClaimID = ""
		o.OfferClaimedAt = nil
		return true, nil
	}, false)
}

// RecordAcceptance stores the accepted offer's artifacts exactly once and
// moves a pending order to PROCESSING.
func (s *Service) RecordAcceptance(ctx context.Context, orderNumber string, a Acceptance) (*Result, error) {
	return s.apply(ctx, "orders.RecordAcceptance", orderNumber, func(o *Order, now time.Time) (bool, error) {
		if err := o.CanAcceptOffer(); err != nil {
			return false, err
		}
		o.OfferID = a.OfferID
		o.TransactionID = a.TransactionID
		o.TrackingNumber = a.TrackingNumber
		o.Barcode = a.Barcode
		o.LabelURL = a.LabelURL
		o.ResponsiveLabelURL = a.ResponsiveLabelURL
		o.TrackingURL = a.TrackingURL
		o.CarrierName = a.CarrierName
		o.ShippingCost = a.Cost
		o.OfferClaimID = ""
		o.OfferClaimedAt = nil
		if o.OrderStatus == StatusPending {
			o.OrderStatus = StatusProcessing
		}
		return true, nil
	}, false)
}

// MarkShipped records a tracking reading that moves the order to SHIPPED.
func (s *Service) MarkShipped(ctx context.Context, orderNumber string, snap TrackingSnapshot) (*Result, error) {
	return s.RecordTracking(ctx, orderNumber, snap, StatusShipped)
}

// MarkDelivered records a tracking reading that moves the order to DELIVERED.
func (s *Service) MarkDelivered(ctx context.Context, orderNumber string, snap TrackingSnapshot) (*Result, error) {
	return s.RecordTracking(ctx, orderNumber, snap, StatusDelivered)
}

// RecordTracking stores a tracking reading and advances the order toward
// target. Status only moves forward; a reading older than the stored one is
// ignored; an empty target records the code alone.
func (s *Service) RecordTracking(ctx context.Context, orderNumber string, snap TrackingSnapshot, target Status) (*Result, error) {
	return s.apply(ctx, "orders.RecordTracking", orderNumber, func(o *Order, now time.Time) (bool, error) {
		if o.TrackingUpdatedAt != nil && !snap.UpdatedAt.IsZero() && snap.UpdatedAt.Before(*o.TrackingUpdatedAt) {
			return false, nil
		}

		changed := false
		if snap.Code != "" && snap.Code != o.TrackingCode {
			o.TrackingCode = snap.Code
			changed = true
		}
		if !snap.UpdatedAt.IsZero() && (o.TrackingUpdatedAt == nil || !snap.UpdatedAt.Equal(*o.TrackingUpdatedAt)) {
			at := snap.UpdatedAt.UTC()
			o.TrackingUpdatedAt = &at
			changed = true
		}

		if target != "" && o.OrderStatus != StatusCancelled && rank[target] > rank[o.OrderStatus] {
			o.OrderStatus = target
			switch target {
			case StatusShipped:
				o.ShippedAt = &now
			case StatusDelivered:
				if o.ShippedAt == nil {
					o.ShippedAt = &now
				}
				o.DeliveredAt = &now
			}
			changed = true
		}
		return changed, nil
	}, false)
}
