package event

import "strings"

// Exchange is the topic exchange all choreography events are published to.
// Each service binds its own durable queue to the routing keys it handles.
const Exchange = "events"

// routingKeys maps each known event type to its routing key. Unmapped types
// fall back to FallbackKey so they still route predictably instead of failing
// closed.
var routingKeys = map[string]string{
	TypeBookingCreated:             "booking.created",
	TypeBookingCancelled:           "booking.cancelled",
	TypeInventoryReserved:          "inventory.reserved",
	TypeInventoryReservationFailed: "inventory.reservation_failed",
	TypeReservationExpired:         "inventory.reservation_expired",
	TypePaymentSucceeded:           "payment.succeeded",
	TypePaymentFailed:              "payment.failed",
}

// RoutingKey returns the destination routing key for an event type.
func RoutingKey(eventType string) string {
	if key, ok := routingKeys[eventType]; ok {
		return key
	}
	return FallbackKey(eventType)
}

// FallbackKey is the deterministic default: the lower-cased event type name
// with any trailing "event" suffix stripped.
func FallbackKey(eventType string) string {
	key := strings.ToLower(strings.TrimSpace(eventType))
	key = strings.TrimSuffix(key, "event")
	return key
}
