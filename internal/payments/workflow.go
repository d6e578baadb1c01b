// Package payments is the manual bank-transfer review flow: receipt
// upload, approval and rejection.
package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
	"github.com/imrishuroy/storefront-fulfillment/internal/audit"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
)

// MaxReceiptBytes caps an uploaded receipt.
const MaxReceiptBytes = 5 << 20

// receiptExt lists the accepted receipt types and their stored extension.
var receiptExt = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"application/pdf": ".pdf",
}

// OrderService is the order state machine as seen by the workflow.
type OrderService interface {
	Get(ctx context.Context, orderNumber string) (*orders.Order, error)
	AttachReceipt(ctx context.Context, orderNumber string, r orders.Receipt) (*orders.Result, error)
	ApprovePayment(ctx context.Context, orderNumber, approver string) (*orders.Result, error)
	RejectPayment(ctx context.Context, orderNumber, approver, reason string) (*orders.Result, error)
}

type Workflow struct {
	orders OrderService
	blobs  BlobStore
	audit  audit.Recorder
	logger *slog.Logger
	urlTTL time.Duration
}

func NewWorkflow(o OrderService, blobs BlobStore, rec audit.Recorder, logger *slog.Logger) *Workflow {
	return &Workflow{orders: o, blobs: blobs, audit: rec, logger: logger, urlTTL: 15 * time.Minute}
}

// ReceiptUpload is one uploaded receipt file.
type ReceiptUpload struct {
	OrderNumber string
	Actor       string
	FileName    string
	Data        []byte
}

// SniffReceipt checks size and content type of a receipt and returns the
// detected MIME type.
func SniffReceipt(data []byte) (string, error) {
	const op = "payments.UploadReceipt"
	if len(data) == 0 {
		return "", apperr.Validation(op, "receipt is empty")
	}
	if len(data) > MaxReceiptBytes {
		return "", apperr.ErrPayloadTooLarge.WithMeta("limit_bytes", fmt.Sprint(MaxReceiptBytes))
	}
	mt := mimetype.Detect(data)
	for ct := range receiptExt {
		if mt.Is(ct) {
			return ct, nil
		}
	}
	return "", apperr.ErrUnsupportedMedia.WithMeta("content_type", mt.String())
}

// UploadReceipt stores the file and attaches it to the order. Payment
// status does not change.
func (w *Workflow) UploadReceipt(ctx context.Context, up ReceiptUpload) (*orders.Order, error) {
	contentType, err := SniffReceipt(up.Data)
	if err != nil {
		w.recordFailure(ctx, up.Actor, audit.ActionReceiptUploaded, up.OrderNumber, err)
		return nil, err
	}

	o, err := w.orders.Get(ctx, up.OrderNumber)
	if err != nil {
		return nil, err
	}
	if err := o.CanAttachReceipt(); err != nil {
		w.recordFailure(ctx, up.Actor, audit.ActionReceiptUploaded, up.OrderNumber, err)
		return nil, err
	}

	key := fmt.Sprintf("receipts/%s/%s%s", up.OrderNumber, uuid.NewString(), receiptExt[contentType])
	if err := w.blobs.Put(ctx, key, contentType, up.Data); err != nil {
		return nil, apperr.Internal("payments.UploadReceipt", err)
	}

	res, err := w.orders.AttachReceipt(ctx, up.OrderNumber, orders.Receipt{
		Key:         key,
		FileName:    up.FileName,
		ContentType: contentType,
		Size:        int64(len(up.Data)),
		UploadedBy:  up.Actor,
	})
	if err != nil {
		w.recordFailure(ctx, up.Actor, audit.ActionReceiptUploaded, up.OrderNumber, err)
		return nil, err
	}

	meta := res.Metadata()
	meta["receipt_key"] = key
	meta["content_type"] = contentType
	meta["size"] = fmt.Sprint(len(up.Data))
	w.audit.Record(ctx, audit.Entry{
		Actor:       up.Actor,
		Action:      audit.ActionReceiptUploaded,
		Category:    audit.CategoryPayment,
		OrderNumber: up.OrderNumber,
		Description: fmt.Sprintf("receipt %s uploaded for order %s", up.FileName, up.OrderNumber),
		Metadata:    meta,
	})
	return res.Order, nil
}

// Approve marks the order paid and commits stock.
func (w *Workflow) Approve(ctx context.Context, orderNumber, actor string) (*orders.Order, error) {
	res, err := w.orders.ApprovePayment(ctx, orderNumber, actor)
	if err != nil {
		w.recordFailure(ctx, actor, audit.ActionPaymentApproved, orderNumber, err)
		return nil, err
	}
	w.audit.Record(ctx, audit.Entry{
		Actor:       actor,
		Action:      audit.ActionPaymentApproved,
		Category:    audit.CategoryPayment,
		OrderNumber: orderNumber,
		Description: fmt.Sprintf("bank transfer for order %s approved", orderNumber),
		Metadata:    res.Metadata(),
	})
	return res.Order, nil
}

// Reject cancels the order with a reason.
func (w *Workflow) Reject(ctx context.Context, orderNumber, actor, reason string) (*orders.Order, error) {
	res, err := w.orders.RejectPayment(ctx, orderNumber, actor, reason)
	if err != nil {
		w.recordFailure(ctx, actor, audit.ActionPaymentRejected, orderNumber, err)
		return nil, err
	}
	meta := res.Metadata()
	meta["reason"] = reason
	w.audit.Record(ctx, audit.Entry{
		Actor:       actor,
		Action:      audit.ActionPaymentRejected,
		Category:    audit.CategoryPayment,
		OrderNumber: orderNumber,
		Description: fmt.Sprintf("bank transfer for order %s rejected: %s", orderNumber, reason),
		Metadata:    meta,
	})
	return res.Order, nil
}

// ReceiptURL returns a short-lived download URL for the order's receipt.
func (w *Workflow) ReceiptURL(ctx context.Context, orderNumber string) (string, error) {
	o, err := w.orders.Get(ctx, orderNumber)
	if err != nil {
		return "", err
	}
	if o.Receipt == nil {
		return "", apperr.NotFound("payments.ReceiptURL", "order %s has no receipt", orderNumber)
	}
	url, err := w.blobs.PresignGet(ctx, o.Receipt.Key, w.urlTTL)
	if err != nil {
		return "", apperr.Internal("payments.ReceiptURL", err)
	}
	return url, nil
}

// recordFailure audits a refused call. Missing orders are not audited.
func (w *Workflow) recordFailure(ctx context.Context, actor string, action audit.Action, orderNumber string, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindNotFound || kind == apperr.KindInternal {
		return
	}
	w.audit.Record(ctx, audit.Entry{
		Actor:       actor,
		Action:      action,
		Category:    audit.CategoryPayment,
		OrderNumber: orderNumber,
		Description: fmt.Sprintf("%s refused for order %s", action, orderNumber),
		Metadata: map[string]string{
			"outcome": "refused",
			"error":   err.Error(),
		},
	})
}
