package telemetry

import "time"

const armedFlag = 0x80 // base-mode bit 7

// Heartbeat is the most recent decoded heartbeat frame.
type Heartbeat struct {
	Timestamp    time.Time
	SystemID     uint8
	ComponentID  uint8
	Type         uint8
	Autopilot    uint8
	BaseMode     uint8
	CustomMode   uint32
	SystemStatus uint8
	Version      uint8
}

// Armed reports whether the vehicle announces itself armed.
func (h Heartbeat) Armed() bool {
	return h.BaseMode&armedFlag != 0
}

// Mode decodes the custom mode into an ArduPilot-style mode name.
func (h Heartbeat) Mode() string {
	if name, ok := modeNames[h.CustomMode]; ok {
		return name
	}

	return "UNKNOWN"
}

var modeNames = map[uint32]string{
	0: "STABILIZE",
	1: "ACRO",
	2: "ALT_HOLD",
	3: "AUTO",
	4: "GUIDED",
	5: "LOITER",
	6: "RTL",
	7: "CIRCLE",
	9: "LAND",
}

// Position is the most recent decoded global position frame. Raw wire
// units are preserved; use the accessor methods for SI values.
type Position struct {
	Timestamp   time.Time
	Lat         int32 // degrees * 1e7
	Lon         int32 // degrees * 1e7
	Alt         int32 // mm above sea level
	RelativeAlt int32 // mm above ground
	HDOP        float64
	VDOP        float64
	GroundSpeed float64 // cm/s
	Course      float64 // degrees
	Satellites  uint8
	FixType     uint8 // 0-6, >=3 is a 3-D fix
}

func (p Position) Latitude() float64 {
	return float64(p.Lat) / 1e7
}

func (p Position) Longitude() float64 {
	return float64(p.Lon) / 1e7
}

func (p Position) AltitudeM() float64 {
	return float64(p.Alt) / 1000.0
}

func (p Position) RelativeAltM() float64 {
	return float64(p.RelativeAlt) / 1000.0
}

func (p Position) GroundSpeedMS() float64 {
	return p.GroundSpeed / 100.0
}

// Has3DFix reports whether the fix is usable for navigation.
func (p Position) Has3DFix() bool {
	return p.FixType >= 3
}

// Attitude is the most recent decoded attitude frame, in radians.
type Attitude struct {
	Timestamp  time.Time
	Roll       float64
	Pitch      float64
	Yaw        float64
	RollRate   float64
	PitchRate  float64
	YawRate    float64
}

// FlightState is a coarse vehicle state derived from telemetry. It is
// advisory only; the flight controller remains authoritative.
type FlightState uint8

const (
	StateUnknown FlightState = iota
	StateDisarmed
	StateArmed
	StateTakingOff
	StateAirborne
	StateLanding
	StateEmergency
)

func (s FlightState) String() string {
	switch s {
	case StateDisarmed:
		return "disarmed"
	case StateArmed:
		return "armed"
	case StateTakingOff:
		return "taking_off"
	case StateAirborne:
		return "airborne"
	case StateLanding:
		return "landing"
	case StateEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

const airborneAltM = 1.0

// MAV_STATE_EMERGENCY in the heartbeat system status field.
const statusEmergency = 6

// DeriveFlightState infers a coarse state from the latest heartbeat and
// position snapshots. Either may be nil.
func DeriveFlightState(hb *Heartbeat, pos *Position) FlightState {
	if hb == nil {
		return StateUnknown
	}
	if hb.SystemStatus == statusEmergency {
		return StateEmergency
	}
	if !hb.Armed() {
		return StateDisarmed
	}
	if pos == nil || pos.RelativeAltM() < airborneAltM {
		return StateArmed
	}

	return StateAirborne
}
