package validation

// OrderURI is the :orderNumber path segment of admin routes.
type OrderURI struct {
	OrderNumber string `uri:"orderNumber" validate:"required,order_number"`
}

// RejectPaymentRequest is the payload for POST /admin/orders/:orderNumber/payment/reject
type RejectPaymentRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// CreateShipmentRequest is the payload for POST /admin/orders/:orderNumber/shipment
type CreateShipmentRequest struct {
	SenderAddressID string `json:"sender_address_id" validate:"required"`
}

// AcceptOfferRequest is the payload for POST /admin/orders/:orderNumber/shipment/accept
type AcceptOfferRequest struct {
	OfferID string `json:"offer_id" validate:"required"`
}

// LabelQuery selects the label rendering.
type LabelQuery struct {
	Format string `form:"format" validate:"omitempty,oneof=pdf html"`
}

// AuditQuery filters GET /admin/audit
type AuditQuery struct {
	Actor    string `form:"actor" validate:"omitempty,max=128"`
	Category string `form:"category" validate:"omitempty,oneof=PAYMENT SHIPPING WEBHOOK payment shipping webhook"`
	Action   string `form:"action" validate:"omitempty,audit_action"`
	Limit    int    `form:"limit" validate:"min=0,max=200"`
	Cursor   string `form:"cursor"`
}

// AuditSummaryQuery is the query for GET /admin/audit/summary
type AuditSummaryQuery struct {
	Actor string `form:"actor" validate:"required,max=128"`
	Days  int    `form:"days" validate:"min=0,max=365"`
}

// WebhookStatsQuery is the query for GET /admin/webhooks/stats
type WebhookStatsQuery struct {
	Source string `form:"source" validate:"omitempty,max=64"`
	Days   int    `form:"days" validate:"min=0,max=90"`
}

// WebhookURI addresses a stored webhook event.
type WebhookURI struct {
	Source  string `uri:"source" validate:"required,max=64"`
	EventID string `uri:"eventId" validate:"required,max=256"`
}
