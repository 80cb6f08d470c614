package link

import (
	"encoding/binary"
	"math"
	"time"

	"codeberg.org/fieldrobotics/agroctl/internal/errors"
	"codeberg.org/fieldrobotics/agroctl/internal/telemetry"
)

// Wire framing, v1-compatible with the flight controller's dialect:
//
//	STX | payload len | seq | sysid | compid | msgid | payload | crc lo | crc hi
//
// The CRC is the X25 checksum of everything after STX, seeded with a
// per-message extra byte so both ends must agree on payload layout.
const (
	stx         = 0xFE
	headerLen   = 6
	checksumLen = 2
	maxPayload  = 255
)

// Message ids.
const (
	MsgHeartbeat      uint8 = 0
	MsgAttitude       uint8 = 30
	MsgGlobalPosition uint8 = 33
	MsgCommandLong    uint8 = 76
)

// Command ids carried by COMMAND_LONG.
const (
	CmdNavWaypoint        uint16 = 16
	CmdNavReturnToLaunch  uint16 = 20
	CmdNavLand            uint16 = 21
	CmdNavTakeoff         uint16 = 22
	CmdDoSetMode          uint16 = 176
	CmdDoChangeSpeed      uint16 = 178
	CmdDoSetHome          uint16 = 179
	CmdDoSetRelay         uint16 = 181
	CmdDoSetServo         uint16 = 183
	CmdComponentArmDisarm uint16 = 400
)

// Payload sizes.
const (
	heartbeatLen = 9
	attitudeLen  = 28
	positionLen  = 26
	commandLen   = 61
)

var crcExtra = map[uint8]byte{
	MsgHeartbeat:      50,
	MsgAttitude:       39,
	MsgGlobalPosition: 104,
	MsgCommandLong:    152,
}

var errFactory = errors.New()

// Frame is one decoded wire frame.
type Frame struct {
	Seq         uint8
	SystemID    uint8
	ComponentID uint8
	MsgID       uint8
	Payload     []byte
}

// Marshal serializes the frame with its checksum.
func (f Frame) Marshal() []byte {
	buf := make([]byte, 0, headerLen+len(f.Payload)+checksumLen)
	buf = append(buf, stx, byte(len(f.Payload)), f.Seq, f.SystemID, f.ComponentID, f.MsgID)
	buf = append(buf, f.Payload...)

	crc := x25(buf[1:], crcExtra[f.MsgID])
	buf = append(buf, byte(crc&0xFF), byte(crc>>8))

	return buf
}

// x25 computes the CRC-16/X25 over data, folding in the per-message
// extra byte last.
func x25(data []byte, extra byte) uint16 {
	crc := uint16(0xFFFF)
	update := func(b byte) {
		tmp := b ^ byte(crc&0xFF)
		tmp ^= tmp << 4
		crc = (crc >> 8) ^ (uint16(tmp) << 8) ^ (uint16(tmp) << 3) ^ (uint16(tmp) >> 4)
	}
	for _, b := range data {
		update(b)
	}
	update(extra)

	return crc
}

// Decoder reassembles frames from a byte stream. Partial reads are
// buffered; corrupt data is skipped one byte at a time until a valid
// frame resynchronizes the stream.
type Decoder struct {
	buf []byte
}

// Write appends raw bytes from the transport.
func (d *Decoder) Write(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next extracts the next complete, checksum-valid frame, or returns
// false when the buffer holds no complete frame.
func (d *Decoder) Next() (Frame, bool) {
	for {
		// Drop garbage before the next start byte.
		start := 0
		for start < len(d.buf) && d.buf[start] != stx {
			start++
		}
		d.buf = d.buf[start:]

		if len(d.buf) < headerLen+checksumLen {
			return Frame{}, false
		}

		payloadLen := int(d.buf[1])
		total := headerLen + payloadLen + checksumLen
		if len(d.buf) < total {
			return Frame{}, false
		}

		raw := d.buf[:total]
		msgID := raw[5]
		want := uint16(raw[total-2]) | uint16(raw[total-1])<<8
		if x25(raw[1:total-checksumLen], crcExtra[msgID]) != want {
			// Bad checksum: discard the start byte and resync.
			d.buf = d.buf[1:]
			continue
		}

		frame := Frame{
			Seq:         raw[2],
			SystemID:    raw[3],
			ComponentID: raw[4],
			MsgID:       msgID,
			Payload:     append([]byte(nil), raw[headerLen:total-checksumLen]...),
		}
		d.buf = d.buf[total:]

		return frame, true
	}
}

// CommandLong is a decoded command frame, used by tests and simulators
// standing in for the flight controller.
type CommandLong struct {
	TargetSystem    uint8
	TargetComponent uint8
	Command         uint16
	Confirmation    uint8
	Params          [7]float64
}

// NewCommandFrame builds a COMMAND_LONG frame. Params carry full 64-bit
// precision so scaled coordinates survive the round trip.
func NewCommandFrame(seq, sysID, compID, targetSys, targetComp uint8, command uint16, params [7]float64) Frame {
	payload := make([]byte, commandLen)
	for i, p := range params {
		binary.LittleEndian.PutUint64(payload[i*8:], math.Float64bits(p))
	}
	binary.LittleEndian.PutUint16(payload[56:], command)
	payload[58] = targetSys
	payload[59] = targetComp
	payload[60] = 0 // confirmation

	return Frame{Seq: seq, SystemID: sysID, ComponentID: compID, MsgID: MsgCommandLong, Payload: payload}
}

// DecodeCommand unpacks a COMMAND_LONG payload.
func DecodeCommand(f Frame) (CommandLong, error) {
	if f.MsgID != MsgCommandLong || len(f.Payload) != commandLen {
		return CommandLong{}, errFactory.WithData(errors.ErrBadFrame, f.MsgID)
	}

	cmd := CommandLong{}
	for i := range cmd.Params {
		cmd.Params[i] = math.Float64frombits(binary.LittleEndian.Uint64(f.Payload[i*8:]))
	}
	cmd.Command = binary.LittleEndian.Uint16(f.Payload[56:])
	cmd.TargetSystem = f.Payload[58]
	cmd.TargetComponent = f.Payload[59]
	cmd.Confirmation = f.Payload[60]

	return cmd, nil
}

// NewHeartbeatFrame builds a heartbeat frame announcing the given state.
func NewHeartbeatFrame(seq uint8, hb telemetry.Heartbeat) Frame {
	payload := make([]byte, heartbeatLen)
	binary.LittleEndian.PutUint32(payload[0:], hb.CustomMode)
	payload[4] = hb.Type
	payload[5] = hb.Autopilot
	payload[6] = hb.BaseMode
	payload[7] = hb.SystemStatus
	payload[8] = hb.Version

	return Frame{Seq: seq, SystemID: hb.SystemID, ComponentID: hb.ComponentID, MsgID: MsgHeartbeat, Payload: payload}
}

// DecodeHeartbeat unpacks a heartbeat payload. The source system and
// component ids come from the frame header.
func DecodeHeartbeat(f Frame, ts time.Time) (telemetry.Heartbeat, error) {
	if f.MsgID != MsgHeartbeat || len(f.Payload) != heartbeatLen {
		return telemetry.Heartbeat{}, errFactory.WithData(errors.ErrBadFrame, f.MsgID)
	}

	return telemetry.Heartbeat{
		Timestamp:    ts,
		SystemID:     f.SystemID,
		ComponentID:  f.ComponentID,
		CustomMode:   binary.LittleEndian.Uint32(f.Payload[0:]),
		Type:         f.Payload[4],
		Autopilot:    f.Payload[5],
		BaseMode:     f.Payload[6],
		SystemStatus: f.Payload[7],
		Version:      f.Payload[8],
	}, nil
}

// NewPositionFrame builds a global position frame from a snapshot.
func NewPositionFrame(seq uint8, pos telemetry.Position) Frame {
	payload := make([]byte, positionLen)
	binary.LittleEndian.PutUint32(payload[0:], uint32(pos.Lat))
	binary.LittleEndian.PutUint32(payload[4:], uint32(pos.Lon))
	binary.LittleEndian.PutUint32(payload[8:], uint32(pos.Alt))
	binary.LittleEndian.PutUint32(payload[12:], uint32(pos.RelativeAlt))
	binary.LittleEndian.PutUint16(payload[16:], uint16(math.Round(pos.HDOP*100)))
	binary.LittleEndian.PutUint16(payload[18:], uint16(math.Round(pos.VDOP*100)))
	binary.LittleEndian.PutUint16(payload[20:], uint16(math.Round(pos.GroundSpeed)))
	binary.LittleEndian.PutUint16(payload[22:], uint16(math.Round(pos.Course*100)))
	payload[24] = pos.Satellites
	payload[25] = pos.FixType

	return Frame{Seq: seq, MsgID: MsgGlobalPosition, Payload: payload}
}

// DecodePosition unpacks a global position payload.
func DecodePosition(f Frame, ts time.Time) (telemetry.Position, error) {
	if f.MsgID != MsgGlobalPosition || len(f.Payload) != positionLen {
		return telemetry.Position{}, errFactory.WithData(errors.ErrBadFrame, f.MsgID)
	}

	return telemetry.Position{
		Timestamp:   ts,
		Lat:         int32(binary.LittleEndian.Uint32(f.Payload[0:])),
		Lon:         int32(binary.LittleEndian.Uint32(f.Payload[4:])),
		Alt:         int32(binary.LittleEndian.Uint32(f.Payload[8:])),
		RelativeAlt: int32(binary.LittleEndian.Uint32(f.Payload[12:])),
		HDOP:        float64(binary.LittleEndian.Uint16(f.Payload[16:])) / 100.0,
		VDOP:        float64(binary.LittleEndian.Uint16(f.Payload[18:])) / 100.0,
		GroundSpeed: float64(binary.LittleEndian.Uint16(f.Payload[20:])),
		Course:      float64(binary.LittleEndian.Uint16(f.Payload[22:])) / 100.0,
		Satellites:  f.Payload[24],
		FixType:     f.Payload[25],
	}, nil
}

// NewAttitudeFrame builds an attitude frame from a snapshot.
func NewAttitudeFrame(seq uint8, att telemetry.Attitude) Frame {
	payload := make([]byte, attitudeLen)
	binary.LittleEndian.PutUint32(payload[0:], uint32(att.Timestamp.UnixMilli()))
	putFloat32 := func(off int, v float64) {
		binary.LittleEndian.PutUint32(payload[off:], math.Float32bits(float32(v)))
	}
	putFloat32(4, att.Roll)
	putFloat32(8, att.Pitch)
	putFloat32(12, att.Yaw)
	putFloat32(16, att.RollRate)
	putFloat32(20, att.PitchRate)
	putFloat32(24, att.YawRate)

	return Frame{Seq: seq, MsgID: MsgAttitude, Payload: payload}
}

// DecodeAttitude unpacks an attitude payload.
func DecodeAttitude(f Frame, ts time.Time) (telemetry.Attitude, error) {
	if f.MsgID != MsgAttitude || len(f.Payload) != attitudeLen {
		return telemetry.Attitude{}, errFactory.WithData(errors.ErrBadFrame, f.MsgID)
	}

	getFloat32 := func(off int) float64 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(f.Payload[off:])))
	}

	return telemetry.Attitude{
		Timestamp: ts,
		Roll:      getFloat32(4),
		Pitch:     getFloat32(8),
		Yaw:       getFloat32(12),
		RollRate:  getFloat32(16),
		PitchRate: getFloat32(20),
		YawRate:   getFloat32(24),
	}, nil
}

// Coordinate and altitude scaling for command parameters: degrees are
// carried as integral 1e7 fixed point, meters as millimeters.

func ScaleCoordinate(deg float64) float64 {
	return math.Round(deg * 1e7)
}

func UnscaleCoordinate(v float64) float64 {
	return v / 1e7
}

func ScaleAltitude(m float64) float64 {
	return math.Round(m * 1000)
}

func UnscaleAltitude(v float64) float64 {
	return v / 1000
}
