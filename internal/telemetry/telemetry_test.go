package telemetry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/fieldrobotics/agroctl/internal/telemetry"
)

func armedHeartbeat(ts time.Time) telemetry.Heartbeat {
	return telemetry.Heartbeat{
		Timestamp:  ts,
		SystemID:   1,
		BaseMode:   0x80 | 0x01,
		CustomMode: 4,
	}
}

func TestCacheStoresLatestSnapshot(t *testing.T) {
	cache := telemetry.NewCache()

	_, ok := cache.Heartbeat()
	assert.False(t, ok, "empty cache should have no heartbeat")

	now := time.Now()
	cache.SetHeartbeat(armedHeartbeat(now))
	cache.SetHeartbeat(telemetry.Heartbeat{Timestamp: now.Add(time.Second), SystemID: 1, CustomMode: 5})

	hb, ok := cache.Heartbeat()
	require.True(t, ok)
	assert.Equal(t, uint32(5), hb.CustomMode, "latest write wins")

	cache.SetPosition(telemetry.Position{Timestamp: now, Lat: 515000000, Lon: -1200000})
	pos, ok := cache.Position()
	require.True(t, ok)
	assert.InDelta(t, 51.5, pos.Latitude(), 1e-9)
	assert.InDelta(t, -0.12, pos.Longitude(), 1e-9)
}

func TestCacheHeartbeatAge(t *testing.T) {
	cache := telemetry.NewCache()

	_, ok := cache.HeartbeatAge(time.Now())
	assert.False(t, ok, "no heartbeat seen yet")

	now := time.Now()
	cache.SetHeartbeat(armedHeartbeat(now))

	age, ok := cache.HeartbeatAge(now.Add(3 * time.Second))
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, age)
}

func TestCacheClearKeepsObservers(t *testing.T) {
	cache := telemetry.NewCache()

	var seen int
	cache.OnHeartbeat(func(telemetry.Heartbeat) { seen++ })

	cache.SetHeartbeat(armedHeartbeat(time.Now()))
	assert.Equal(t, 1, seen)

	cache.Clear()

	_, ok := cache.Heartbeat()
	assert.False(t, ok, "clear drops snapshots")
	_, ok = cache.HeartbeatAge(time.Now())
	assert.False(t, ok, "clear resets the liveness clock")

	cache.SetHeartbeat(armedHeartbeat(time.Now()))
	assert.Equal(t, 2, seen, "observers survive a clear")
}

func TestCacheObserversPerKind(t *testing.T) {
	cache := telemetry.NewCache()

	var positions []telemetry.Position
	cache.OnPosition(func(p telemetry.Position) { positions = append(positions, p) })

	cache.SetHeartbeat(armedHeartbeat(time.Now()))
	cache.SetAttitude(telemetry.Attitude{Roll: 0.1})
	assert.Empty(t, positions, "position observer must not fire for other kinds")

	cache.SetPosition(telemetry.Position{Lat: 1})
	require.Len(t, positions, 1)
	assert.Equal(t, int32(1), positions[0].Lat)
}

func TestHeartbeatArmedAndMode(t *testing.T) {
	hb := telemetry.Heartbeat{BaseMode: 0x80, CustomMode: 4}
	assert.True(t, hb.Armed())
	assert.Equal(t, "GUIDED", hb.Mode())

	hb = telemetry.Heartbeat{BaseMode: 0x01, CustomMode: 6}
	assert.False(t, hb.Armed())
	assert.Equal(t, "RTL", hb.Mode())

	hb = telemetry.Heartbeat{CustomMode: 42}
	assert.Equal(t, "UNKNOWN", hb.Mode())
}

func TestPositionAccessors(t *testing.T) {
	pos := telemetry.Position{
		Lat:         -353632621,
		Lon:         1491652374,
		Alt:         584000,
		RelativeAlt: 30000,
		GroundSpeed: 450,
		FixType:     3,
	}

	assert.InDelta(t, -35.3632621, pos.Latitude(), 1e-9)
	assert.InDelta(t, 149.1652374, pos.Longitude(), 1e-9)
	assert.InDelta(t, 584.0, pos.AltitudeM(), 1e-9)
	assert.InDelta(t, 30.0, pos.RelativeAltM(), 1e-9)
	assert.InDelta(t, 4.5, pos.GroundSpeedMS(), 1e-9)
	assert.True(t, pos.Has3DFix())

	pos.FixType = 2
	assert.False(t, pos.Has3DFix())
}

func TestDeriveFlightState(t *testing.T) {
	assert.Equal(t, telemetry.StateUnknown, telemetry.DeriveFlightState(nil, nil))

	disarmed := &telemetry.Heartbeat{BaseMode: 0x01}
	assert.Equal(t, telemetry.StateDisarmed, telemetry.DeriveFlightState(disarmed, nil))

	armed := &telemetry.Heartbeat{BaseMode: 0x80}
	assert.Equal(t, telemetry.StateArmed, telemetry.DeriveFlightState(armed, nil))

	ground := &telemetry.Position{RelativeAlt: 200}
	assert.Equal(t, telemetry.StateArmed, telemetry.DeriveFlightState(armed, ground))

	airborne := &telemetry.Position{RelativeAlt: 25000}
	assert.Equal(t, telemetry.StateAirborne, telemetry.DeriveFlightState(armed, airborne))

	emergency := &telemetry.Heartbeat{BaseMode: 0x80, SystemStatus: 6}
	assert.Equal(t, telemetry.StateEmergency, telemetry.DeriveFlightState(emergency, airborne))
}
