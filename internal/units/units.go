// Package units converts between the distance and speed units used when
// describing cab movement.
package units

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Speed units accepted on the command line.
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits lists every accepted speed unit.
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// earthRadius is the mean Earth radius in metres.
const earthRadius = 6371008.8

// IsValid reports whether unit is one of ValidUnits. Matching is case
// sensitive.
func IsValid(unit string) bool {
	return slices.Contains(ValidUnits, unit)
}

// Validate returns an error naming the accepted units when unit is not one
// of them.
func Validate(unit string) error {
	if IsValid(unit) {
		return nil
	}
	return fmt.Errorf("invalid speed unit %q, expected one of %s", unit, strings.Join(ValidUnits, ", "))
}

// ConvertSpeed converts metres per second to unit. Unknown units are
// returned unchanged.
func ConvertSpeed(speedMPS float64, unit string) float64 {
	switch unit {
	case MPH:
		return speedMPS * 2.2369362920544
	case KMPH, KPH:
		return speedMPS * 3.6
	}
	return speedMPS
}

// Distance returns the great-circle distance in metres between two points
// given in degrees.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	rLat1 := lat1 * math.Pi / 180
	rLat2 := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadius * math.Asin(math.Min(1, math.Sqrt(a)))
}

// Speed returns metres per second for covering metres in seconds. It is zero
// when no time has passed.
func Speed(metres, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return metres / seconds
}
