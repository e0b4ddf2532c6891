// Package units provides unit systems and conversion for displayed measures
package units

// Unit systems
const (
	Metric   = "metric"
	Imperial = "imperial"
)

// Measure kinds
const (
	Distance = "distance"
)

// ValidSystems contains all valid unit systems
var ValidSystems = []string{Metric, Imperial}

// Converter converts a value stored in base units (km for distances) into the
// given unit system.
type Converter func(system, kind string, value float64) float64

// IsValid checks if the given unit system is known
func IsValid(system string) bool {
	for _, s := range ValidSystems {
		if system == s {
			return true
		}
	}
	return false
}

// Convert converts a base-unit value into the target system.
// Distances are stored in kilometres.
func Convert(system, kind string, value float64) float64 {
	if kind != Distance {
		return value
	}
	switch system {
	case Imperial:
		return value * 0.621371 // km to miles
	default:
		return value
	}
}

// Label returns the unit symbol for a kind in a system
func Label(system, kind string) string {
	if kind != Distance {
		return ""
	}
	switch system {
	case Imperial:
		return "mi"
	default:
		return "km"
	}
}
