package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
	"github.com/imrishuroy/storefront-fulfillment/internal/carrier"
	"github.com/imrishuroy/storefront-fulfillment/internal/validation"
)

func (h *handler) createShipment(c *gin.Context) {
	orderNumber, ok := h.orderNumber(c)
	if !ok {
		return
	}
	var req validation.CreateShipmentRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	o, err := h.Shipping.CreateShipment(c.Request.Context(), orderNumber, req.SenderAddressID, actorOf(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (h *handler) listOffers(c *gin.Context) {
	shipmentID := c.Param("shipmentId")
	if shipmentID == "" {
		h.writeError(c, apperr.Validation("handlers.listOffers", "shipment id is required"))
		return
	}
	list, err := h.Shipping.ListOffers(c.Request.Context(), shipmentID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) acceptOffer(c *gin.Context) {
	orderNumber, ok := h.orderNumber(c)
	if !ok {
		return
	}
	var req validation.AcceptOfferRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	o, err := h.Shipping.AcceptOffer(c.Request.Context(), orderNumber, req.OfferID, actorOf(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *handler) syncTracking(c *gin.Context) {
	orderNumber, ok := h.orderNumber(c)
	if !ok {
		return
	}
	res, err := h.Shipping.SyncTracking(c.Request.Context(), orderNumber, actorOf(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) downloadLabel(c *gin.Context) {
	orderNumber, ok := h.orderNumber(c)
	if !ok {
		return
	}
	var q validation.LabelQuery
	if err := validation.BindQuery(c, &q, h.v); err != nil {
		return
	}
	format := carrier.LabelFormat(q.Format)
	if format == "" {
		format = carrier.LabelPDF
	}
	body, contentType, err := h.Shipping.DownloadLabel(c.Request.Context(), orderNumber, format)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if format == carrier.LabelPDF {
		c.Header("Content-Disposition", `attachment; filename="label-`+orderNumber+`.pdf"`)
	}
	c.Data(http.StatusOK, contentType, body)
}
