package webhook

import (
	"strings"

	"go-freight/internal/events"
	"go-freight/internal/providers"
)

// canonicalType maps a provider-native event name onto the canonical event
// vocabulary downstream consumers understand. Unrecognized event families are
// ignored rather than guessed at.
func canonicalType(providerEvent string) (events.CanonicalType, providers.EntityType, bool) {
	name := strings.ToLower(providerEvent)
	switch {
	case strings.Contains(name, "location") || strings.Contains(name, "gps") || strings.Contains(name, "position"):
		return events.EventVehicleLocation, providers.EntityVehicles, true
	case strings.Contains(name, "hos") || strings.Contains(name, "duty") || strings.Contains(name, "log"):
		return events.EventDriverHOS, providers.EntityDrivers, true
	case strings.Contains(name, "load") || strings.Contains(name, "shipment") || strings.Contains(name, "214") || strings.Contains(name, "status"):
		return events.EventLoadStatus, providers.EntityLoads, true
	}
	return "", "", false
}
