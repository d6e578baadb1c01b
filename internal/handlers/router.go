package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
	"github.com/imrishuroy/storefront-fulfillment/internal/audit"
	"github.com/imrishuroy/storefront-fulfillment/internal/carrier"
	"github.com/imrishuroy/storefront-fulfillment/internal/ledger"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
	"github.com/imrishuroy/storefront-fulfillment/internal/payments"
	"github.com/imrishuroy/storefront-fulfillment/internal/shipping"
	"github.com/imrishuroy/storefront-fulfillment/internal/validation"
)

const (
	actorHeader = "X-Actor-Id"
	actorKey    = "actor"
)

type PaymentsAPI interface {
	UploadReceipt(ctx context.Context, up payments.ReceiptUpload) (*orders.Order, error)
	Approve(ctx context.Context, orderNumber, actor string) (*orders.Order, error)
	Reject(ctx context.Context, orderNumber, actor, reason string) (*orders.Order, error)
	ReceiptURL(ctx context.Context, orderNumber string) (string, error)
}

type ShippingAPI interface {
	CreateShipment(ctx context.Context, orderNumber, senderAddressID, actor string) (*orders.Order, error)
	ListOffers(ctx context.Context, shipmentID string) (*shipping.OfferList, error)
	AcceptOffer(ctx context.Context, orderNumber, offerID, actor string) (*orders.Order, error)
	SyncTracking(ctx context.Context, orderNumber, actor string) (*shipping.TrackingResult, error)
	DownloadLabel(ctx context.Context, orderNumber string, format carrier.LabelFormat) ([]byte, string, error)
}

type AuditAPI interface {
	Query(ctx context.Context, f audit.Filter, limit int, cursor string) (*audit.Page, error)
	Summary(ctx context.Context, actor string, windowDays int) (*audit.Summary, error)
}

type WebhooksAPI interface {
	Ingest(ctx context.Context, in ledger.Inbound) (*ledger.Event, ledger.Outcome, error)
	Retry(ctx context.Context, source, eventID, actor string) (*ledger.Event, error)
	Stats(ctx context.Context, source string, windowDays int) (*ledger.Stats, error)
}

// HandlerConfig groups dependencies for the HTTP API.
type HandlerConfig struct {
	Payments PaymentsAPI
	Shipping ShippingAPI
	Audit    AuditAPI
	Webhooks WebhooksAPI
	Logger   *slog.Logger
}

type handler struct {
	HandlerConfig
	v *validatorv10.Validate
}

// RegisterRoutes registers the webhook ingress and the admin API.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	h := &handler{HandlerConfig: cfg, v: validation.New()}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/webhooks/:source", h.ingestWebhook)

	admin := r.Group("/admin", requireActor())
	{
		admin.POST("/orders/:orderNumber/receipt", h.uploadReceipt)
		admin.GET("/orders/:orderNumber/receipt", h.receiptURL)
		admin.POST("/orders/:orderNumber/payment/approve", h.approvePayment)
		admin.POST("/orders/:orderNumber/payment/reject", h.rejectPayment)

		admin.POST("/orders/:orderNumber/shipment", h.createShipment)
		admin.POST("/orders/:orderNumber/shipment/accept", h.acceptOffer)
		admin.POST("/orders/:orderNumber/tracking/sync", h.syncTracking)
		admin.GET("/orders/:orderNumber/label", h.downloadLabel)
		admin.GET("/shipments/:shipmentId/offers", h.listOffers)

		admin.GET("/audit", h.queryAudit)
		admin.GET("/audit/summary", h.auditSummary)

		admin.GET("/webhooks/stats", h.webhookStats)
		admin.POST("/webhooks/events/:source/:eventId/retry", h.retryWebhook)
	}
}

// requireActor rejects admin calls that do not name the acting user.
func requireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetHeader(actorHeader)
		if actor == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_actor"})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func actorOf(c *gin.Context) string {
	return c.GetString(actorKey)
}

// orderNumber binds and validates the :orderNumber path segment.
func (h *handler) orderNumber(c *gin.Context) (string, bool) {
	var uri validation.OrderURI
	if err := validation.BindURI(c, &uri, h.v); err != nil {
		return "", false
	}
	return uri.OrderNumber, true
}

// writeError maps err onto a JSON error response. Internal failures are
// logged and returned without detail.
func (h *handler) writeError(c *gin.Context, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) || e.Kind == apperr.KindInternal {
		h.Logger.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   apperr.KindInternal,
			"message": "internal server error",
		})
		return
	}

	body := gin.H{"error": e.Kind, "message": e.Message}
	if e.Reason != "" {
		body["reason"] = e.Reason
	}
	if e.Detail != "" {
		body["detail"] = e.Detail
	}
	if len(e.Meta) > 0 {
		body["meta"] = e.Meta
	}
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), body)
}
