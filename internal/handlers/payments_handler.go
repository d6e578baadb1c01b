package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
	"github.com/imrishuroy/storefront-fulfillment/internal/payments"
	"github.com/imrishuroy/storefront-fulfillment/internal/validation"
)

const receiptField = "receipt"

func (h *handler) uploadReceipt(c *gin.Context) {
	orderNumber, ok := h.orderNumber(c)
	if !ok {
		return
	}

	fh, err := c.FormFile(receiptField)
	if err != nil {
		h.writeError(c, apperr.Validation("handlers.uploadReceipt", "multipart field %q is required", receiptField))
		return
	}
	if fh.Size > payments.MaxReceiptBytes {
		h.writeError(c, apperr.ErrPayloadTooLarge)
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.writeError(c, apperr.Internal("handlers.uploadReceipt", err))
		return
	}
	defer f.Close()

	// one byte over the cap lets the workflow report the size
	data, err := io.ReadAll(io.LimitReader(f, payments.MaxReceiptBytes+1))
	if err != nil {
		h.writeError(c, apperr.Internal("handlers.uploadReceipt", err))
		return
	}

	o, err := h.Payments.UploadReceipt(c.Request.Context(), payments.ReceiptUpload{
		OrderNumber: orderNumber,
		Actor:       actorOf(c),
		FileName:    fh.Filename,
		Data:        data,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (h *handler) receiptURL(c *gin.Context) {
	orderNumber, ok := h.orderNumber(c)
	if !ok {
		return
	}
	url, err := h.Payments.ReceiptURL(c.Request.Context(), orderNumber)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *handler) approvePayment(c *gin.Context) {
	orderNumber, ok := h.orderNumber(c)
	if !ok {
		return
	}
	o, err := h.Payments.Approve(c.Request.Context(), orderNumber, actorOf(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *handler) rejectPayment(c *gin.Context) {
	orderNumber, ok := h.orderNumber(c)
	if !ok {
		return
	}
	var req validation.RejectPaymentRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	o, err := h.Payments.Reject(c.Request.Context(), orderNumber, actorOf(c), req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}
