package homeassistant

import (
	"strings"

	"github.com/daemonp/risco2mqtt/internal/types"
)

func getDeviceClass(name string, zoneType types.ZoneType, override string) string {
	if override != "" {
		return override
	}

	switch zoneType {
	case types.ZoneTypeFire:
		return "smoke"
	case types.ZoneTypeWater:
		return "moisture"
	case types.ZoneTypeGas:
		return "gas"
	case types.ZoneTypeCO:
		return "carbon_monoxide"
	case types.ZoneTypeTamper:
		return "tamper"
	case types.ZoneTypePanic:
		return "safety"
	}

	// Fall back to the zone label.
	name = strings.ToLower(name)
	if strings.Contains(name, "pir") || strings.Contains(name, "motion") {
		return "motion"
	}
	if strings.Contains(name, "door") {
		return "door"
	}
	if strings.Contains(name, "window") {
		return "window"
	}
	if strings.Contains(name, "smoke") || strings.Contains(name, "fire") {
		return "smoke"
	}
	if strings.Contains(name, "gas") {
		return "gas"
	}
	if strings.Contains(name, "water") || strings.Contains(name, "flood") {
		return "moisture"
	}

	return "motion"
}
