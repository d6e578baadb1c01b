package shipping

import (
	"github.com/imrishuroy/storefront-fulfillment/internal/carrier"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
)

// State is the carrier-side progress of an order, derived from its fields.
type State string

const (
	StateNoShipment     State = "NO_SHIPMENT"
	StateRequested      State = "REQUESTED"
	StateOffersReceived State = "OFFERS_RECEIVED"
	StateAccepted       State = "ACCEPTED"
	StateLabelReady     State = "LABEL_READY"
	StateInTransit      State = "IN_TRANSIT"
	StateDelivered      State = "DELIVERED"
)

// StateOf derives the shipment state. Offers are never stored, so
// OFFERS_RECEIVED only appears on an OfferList.
func StateOf(o *orders.Order) State {
	switch {
	case o.OrderStatus == orders.StatusDelivered:
		return StateDelivered
	case o.OrderStatus == orders.StatusShipped || o.TrackingCode == carrier.TrackingInTransit:
		return StateInTransit
	case o.TransactionID != "" && (o.LabelURL != "" || o.ResponsiveLabelURL != ""):
		return StateLabelReady
	case o.TransactionID != "":
		return StateAccepted
	case o.ShipmentID != "":
		return StateRequested
	}
	return StateNoShipment
}
