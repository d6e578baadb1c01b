package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-fulfillment/internal/audit"
	"github.com/imrishuroy/storefront-fulfillment/internal/validation"
)

func (h *handler) queryAudit(c *gin.Context) {
	var q validation.AuditQuery
	if err := validation.BindQuery(c, &q, h.v); err != nil {
		return
	}
	page, err := h.Audit.Query(c.Request.Context(), audit.Filter{
		Actor:    q.Actor,
		Category: audit.Category(strings.ToUpper(q.Category)),
		Action:   audit.Action(q.Action),
	}, q.Limit, q.Cursor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *handler) auditSummary(c *gin.Context) {
	var q validation.AuditSummaryQuery
	if err := validation.BindQuery(c, &q, h.v); err != nil {
		return
	}
	sum, err := h.Audit.Summary(c.Request.Context(), q.Actor, q.Days)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}
