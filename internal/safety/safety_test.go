package safety_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/fieldrobotics/agroctl/internal/safety"
	"codeberg.org/fieldrobotics/agroctl/internal/telemetry"
)

func fieldLimits() safety.Limits {
	return safety.Limits{
		MinSatellites:   6,
		MaxHDOP:         2.0,
		MaxAltitude:     120,
		MaxSpeed:        5,
		GeofenceEnabled: true,
		GeofenceLat:     51.5,
		GeofenceLon:     -0.12,
		GeofenceRadius:  100,
	}
}

func goodPosition() *telemetry.Position {
	return &telemetry.Position{
		Lat:        515000000,
		Lon:        -1200000,
		HDOP:       1.2,
		Satellites: 8,
		FixType:    3,
	}
}

func TestGeofenceDistance(t *testing.T) {
	limits := fieldLimits()

	// Center to itself.
	assert.InDelta(t, 0, safety.GeofenceDistance(limits, 51.5, -0.12), 0.01)

	// 0.001 degrees of latitude is about 111 meters.
	d := safety.GeofenceDistance(limits, 51.501, -0.12)
	assert.InDelta(t, 111.3, d, 1.5)

	// Roughly a kilometer north.
	d = safety.GeofenceDistance(limits, 51.509, -0.12)
	assert.InDelta(t, 1001.7, d, 12)
}

func TestCheckGeofence(t *testing.T) {
	limits := fieldLimits()

	assert.True(t, safety.CheckGeofence(limits, 51.5, -0.12, false).Allowed)
	assert.True(t, safety.CheckGeofence(limits, 51.5005, -0.12, false).Allowed, "~55m north is inside")

	d := safety.CheckGeofence(limits, 51.502, -0.12, false)
	assert.False(t, d.Allowed, "~220m north is outside")
	assert.NotEmpty(t, d.Reason)

	assert.True(t, safety.CheckGeofence(limits, 51.502, -0.12, true).Allowed, "force bypasses the fence")

	limits.GeofenceEnabled = false
	assert.True(t, safety.CheckGeofence(limits, 0, 0, false).Allowed, "disabled geofence allows everything")
}

func TestCheckArm(t *testing.T) {
	limits := fieldLimits()

	assert.True(t, safety.CheckArm(limits, goodPosition(), false).Allowed)

	d := safety.CheckArm(limits, nil, false)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "no position")

	pos := goodPosition()
	pos.FixType = 2
	assert.False(t, safety.CheckArm(limits, pos, false).Allowed, "2D fix is not enough")
	assert.True(t, safety.CheckArm(limits, pos, true).Allowed, "force bypasses the gate")

	pos = goodPosition()
	pos.Satellites = 5
	d = safety.CheckArm(limits, pos, false)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "satellites")

	pos = goodPosition()
	pos.HDOP = 2.5
	d = safety.CheckArm(limits, pos, false)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "hdop")

	// The gate is GPS quality only; a good fix far outside the fence
	// still arms in place.
	pos = goodPosition()
	pos.Lat = 516000000 // ~11km north of the fence
	assert.True(t, safety.CheckArm(limits, pos, false).Allowed)
}

func TestCheckTakeoff(t *testing.T) {
	limits := fieldLimits()

	assert.True(t, safety.CheckTakeoff(limits, goodPosition(), 50, false).Allowed)
	assert.False(t, safety.CheckTakeoff(limits, goodPosition(), 0, false).Allowed)
	assert.False(t, safety.CheckTakeoff(limits, goodPosition(), -5, false).Allowed)
	assert.False(t, safety.CheckTakeoff(limits, goodPosition(), 121, false).Allowed)
	assert.True(t, safety.CheckTakeoff(limits, goodPosition(), 120, false).Allowed, "ceiling itself is allowed")

	assert.False(t, safety.CheckTakeoff(limits, nil, 50, false).Allowed, "arm gate applies to takeoff")
	assert.True(t, safety.CheckTakeoff(limits, nil, 121, true).Allowed, "force bypasses ceiling and arm gate")
	assert.False(t, safety.CheckTakeoff(limits, nil, 0, true).Allowed, "non-positive altitude denied even forced")
}

func TestCheckVelocity(t *testing.T) {
	limits := fieldLimits()

	assert.True(t, safety.CheckVelocity(limits, 4.9).Allowed)
	assert.True(t, safety.CheckVelocity(limits, 5.0).Allowed)
	assert.False(t, safety.CheckVelocity(limits, 5.1).Allowed)
	assert.True(t, safety.CheckVelocity(limits, -4.9).Allowed)
	assert.False(t, safety.CheckVelocity(limits, -5.1).Allowed, "magnitude is checked, not the signed value")
}

func TestCheckWaypoint(t *testing.T) {
	limits := fieldLimits()

	assert.True(t, safety.CheckWaypoint(limits, 51.5, -0.12, 30, false).Allowed)
	assert.False(t, safety.CheckWaypoint(limits, 51.5, -0.12, 150, false).Allowed, "altitude ceiling")
	assert.False(t, safety.CheckWaypoint(limits, 51.6, -0.12, 30, false).Allowed, "outside the fence")
	assert.True(t, safety.CheckWaypoint(limits, 51.6, -0.12, 30, true).Allowed, "force bypasses fence and ceiling")
	assert.False(t, safety.CheckWaypoint(limits, 95, -0.12, 30, false).Allowed, "latitude out of range")
	assert.False(t, safety.CheckWaypoint(limits, 95, -0.12, 30, true).Allowed, "malformed coordinate denied even forced")
}

func TestMonitorReportsViolationOncePerEpisode(t *testing.T) {
	cache := telemetry.NewCache()
	monitor := safety.NewMonitor(cache, fieldLimits())

	var violations []safety.Violation
	monitor.OnViolation(func(v safety.Violation) { violations = append(violations, v) })

	// Armed, far outside the fence.
	cache.SetHeartbeat(telemetry.Heartbeat{Timestamp: time.Now(), BaseMode: 0x80})
	cache.SetPosition(telemetry.Position{Lat: 516000000, Lon: -1200000, FixType: 3})

	monitor.Scan()
	monitor.Scan()
	require.Len(t, violations, 1, "repeat breaches report once per episode")
	assert.Equal(t, "geofence", violations[0].Kind)

	// Back inside: episode resets.
	cache.SetPosition(telemetry.Position{Lat: 515000000, Lon: -1200000, FixType: 3})
	monitor.Scan()

	// Out again: new episode reports.
	cache.SetPosition(telemetry.Position{Lat: 516000000, Lon: -1200000, FixType: 3})
	monitor.Scan()
	assert.Len(t, violations, 2)
}

func TestMonitorIgnoresDisarmedVehicle(t *testing.T) {
	cache := telemetry.NewCache()
	monitor := safety.NewMonitor(cache, fieldLimits())

	var violations []safety.Violation
	monitor.OnViolation(func(v safety.Violation) { violations = append(violations, v) })

	cache.SetHeartbeat(telemetry.Heartbeat{Timestamp: time.Now(), BaseMode: 0x01})
	cache.SetPosition(telemetry.Position{Lat: 516000000, Lon: -1200000, FixType: 3})

	monitor.Scan()
	assert.Empty(t, violations, "limits apply to armed vehicles only")
}

func TestMonitorDetectsSpeedAndAltitude(t *testing.T) {
	cache := telemetry.NewCache()
	monitor := safety.NewMonitor(cache, fieldLimits())

	var kinds []string
	monitor.OnViolation(func(v safety.Violation) { kinds = append(kinds, v.Kind) })

	cache.SetHeartbeat(telemetry.Heartbeat{Timestamp: time.Now(), BaseMode: 0x80})
	cache.SetPosition(telemetry.Position{
		Lat:         515000000,
		Lon:         -1200000,
		RelativeAlt: 130000, // 130m
		GroundSpeed: 800,    // 8 m/s
		FixType:     3,
	})

	monitor.Scan()
	assert.ElementsMatch(t, []string{"altitude", "velocity"}, kinds)
}
