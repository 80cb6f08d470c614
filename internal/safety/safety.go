package safety

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"codeberg.org/fieldrobotics/agroctl/internal/telemetry"
)

// Limits are the operational bounds enforced before and during flight.
type Limits struct {
	MinSatellites   int
	MaxHDOP         float64
	MaxAltitude     float64
	MaxSpeed        float64
	GeofenceEnabled bool
	GeofenceLat     float64
	GeofenceLon     float64
	GeofenceRadius  float64
}

// Decision is the outcome of a safety check. Denials always carry a
// human-readable reason.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(format string, args ...interface{}) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// GeofenceDistance returns the great-circle distance in meters from the
// geofence center to the given coordinate.
func GeofenceDistance(limits Limits, lat, lon float64) float64 {
	center := orb.Point{limits.GeofenceLon, limits.GeofenceLat}
	point := orb.Point{lon, lat}

	return geo.DistanceHaversine(center, point)
}

// CheckGeofence verifies a coordinate lies inside the geofence circle.
// A disabled geofence allows everything; force bypasses the check.
func CheckGeofence(limits Limits, lat, lon float64, force bool) Decision {
	if force || !limits.GeofenceEnabled {
		return allow()
	}

	distance := GeofenceDistance(limits, lat, lon)
	if distance > limits.GeofenceRadius {
		return deny("position %.1fm from geofence center exceeds %.1fm radius", distance, limits.GeofenceRadius)
	}

	return allow()
}

// CheckArm gates arming on GPS quality: a 3D fix with enough
// satellites and acceptable dilution. The geofence applies to
// navigation targets, not to arming in place. Force skips the gate
// entirely.
func CheckArm(limits Limits, pos *telemetry.Position, force bool) Decision {
	if force {
		return allow()
	}
	if pos == nil {
		return deny("no position telemetry")
	}
	if !pos.Has3DFix() {
		return deny("no 3d gps fix (fix type %d)", pos.FixType)
	}
	if int(pos.Satellites) < limits.MinSatellites {
		return deny("%d satellites visible, %d required", pos.Satellites, limits.MinSatellites)
	}
	if pos.HDOP > limits.MaxHDOP {
		return deny("hdop %.2f exceeds limit %.2f", pos.HDOP, limits.MaxHDOP)
	}

	return allow()
}

// CheckTakeoff gates a takeoff request: the target altitude must be
// positive and under the ceiling, and the arm gate must pass. A
// non-positive altitude is denied even with force.
func CheckTakeoff(limits Limits, pos *telemetry.Position, altitude float64, force bool) Decision {
	if altitude <= 0 {
		return deny("takeoff altitude %.1fm must be positive", altitude)
	}
	if force {
		return allow()
	}
	if altitude > limits.MaxAltitude {
		return deny("takeoff altitude %.1fm exceeds limit %.1fm", altitude, limits.MaxAltitude)
	}

	return CheckArm(limits, pos, false)
}

// CheckAltitude verifies an altitude above home stays under the ceiling.
func CheckAltitude(limits Limits, altitude float64) Decision {
	if altitude > limits.MaxAltitude {
		return deny("altitude %.1fm exceeds limit %.1fm", altitude, limits.MaxAltitude)
	}

	return allow()
}

// CheckVelocity verifies a velocity component in m/s stays under the
// limit. The sign carries direction only, so the magnitude is what is
// checked.
func CheckVelocity(limits Limits, speed float64) Decision {
	if math.Abs(speed) > limits.MaxSpeed {
		return deny("speed %.1fm/s exceeds limit %.1fm/s", math.Abs(speed), limits.MaxSpeed)
	}

	return allow()
}

// CheckWaypoint gates one navigation target: inside the geofence and
// under the altitude ceiling. Malformed coordinates are denied even
// with force.
func CheckWaypoint(limits Limits, lat, lon, altitude float64, force bool) Decision {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return deny("coordinate (%.7f, %.7f) out of range", lat, lon)
	}
	if force {
		return allow()
	}
	if d := CheckAltitude(limits, altitude); !d.Allowed {
		return d
	}

	return CheckGeofence(limits, lat, lon, false)
}
