package orders

// Metadata flattens the before/after statuses for an audit entry.
func (r *Result) Metadata() map[string]string {
	after := r.Order.Snapshot()
	m := map[string]string{
		"order_status_before":   string(r.Before.OrderStatus),
		"order_status_after":    string(after.OrderStatus),
		"payment_status_before": string(r.Before.PaymentStatus),
		"payment_status_after":  string(after.PaymentStatus),
	}
	if after.ShipmentID != "" {
		m["shipment_id"] = after.ShipmentID
	}
	if after.TransactionID != "" {
		m["transaction_id"] = after.TransactionID
	}
	if after.TrackingCode != "" {
		m["tracking_code"] = after.TrackingCode
	}
	return m
}
