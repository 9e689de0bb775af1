package shipment

import (
	"errors"
	"time"
)

// ErrNoShipment is returned when a trade has no shipment rows to judge from.
var ErrNoShipment = errors.New("shipment: no shipment for trade")

// Shipment mirrors the shipments table. The dispute engine only reads it.
type Shipment struct {
	ID                string
	TradeID           string
	Carrier           string
	Status            string
	Active            bool
	EstimatedDelivery time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TrackingEvent is one movement record in a shipment's history.
type TrackingEvent struct {
	ID         string
	ShipmentID string
	Type       string
	Location   string
	OccurredAt time.Time
}

// MovementEventTypes are the tracking event types that count as carrier
// movement when deciding whether a shipment has gone quiet.
var MovementEventTypes = []string{
	"picked_up",
	"in_transit",
	"arrived_at_facility",
	"departed_facility",
}
