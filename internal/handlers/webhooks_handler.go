package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
	"github.com/imrishuroy/storefront-fulfillment/internal/ledger"
	"github.com/imrishuroy/storefront-fulfillment/internal/validation"
)

const maxWebhookBytes = 1 << 20

// ingestWebhook acknowledges every stored delivery, including duplicates and
// deliveries whose processing failed.
func (h *handler) ingestWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes+1))
	if err != nil {
		h.writeError(c, apperr.Validation("handlers.ingestWebhook", "read body: %v", err))
		return
	}
	if len(payload) > maxWebhookBytes {
		h.writeError(c, apperr.ErrPayloadTooLarge)
		return
	}

	_, outcome, err := h.Webhooks.Ingest(c.Request.Context(), ledger.Inbound{
		Source:    c.Param("source"),
		EventID:   c.GetHeader("X-Event-Id"),
		Signature: c.GetHeader("X-Signature"),
		Payload:   payload,
	})
	if err != nil && !errors.Is(err, apperr.ErrDuplicateEvent) {
		h.writeError(c, err)
		return
	}
	h.Logger.InfoContext(c.Request.Context(), "webhook acknowledged",
		"source", c.Param("source"), "event_id", c.GetHeader("X-Event-Id"), "outcome", outcome)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *handler) webhookStats(c *gin.Context) {
	var q validation.WebhookStatsQuery
	if err := validation.BindQuery(c, &q, h.v); err != nil {
		return
	}
	st, err := h.Webhooks.Stats(c.Request.Context(), q.Source, q.Days)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handler) retryWebhook(c *gin.Context) {
	var uri validation.WebhookURI
	if err := validation.BindURI(c, &uri, h.v); err != nil {
		return
	}
	e, err := h.Webhooks.Retry(c.Request.Context(), uri.Source, uri.EventID, actorOf(c))
	if err != nil {
		if e == nil || apperr.KindOf(err) == apperr.KindInternal {
			h.writeError(c, err)
			return
		}
		// the row was updated; report the dispatch failure alongside it
		c.JSON(apperr.HTTPStatus(err), gin.H{"event": e, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, e)
}
