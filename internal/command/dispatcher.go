package command

import (
	"context"
	"strings"
	"sync"
	"time"

	"codeberg.org/fieldrobotics/agroctl/internal/errors"
	"codeberg.org/fieldrobotics/agroctl/internal/link"
	"codeberg.org/fieldrobotics/agroctl/internal/logger"
)

const defaultHistoryLimit = 50

// forceMagic is the autopilot's override value for param2 of
// COMPONENT_ARM_DISARM. It bypasses pre-arm and landed-state checks.
const forceMagic = 21196.0

var errFactory = errors.New()

// flightModes maps mode names to the autopilot's custom mode numbers.
var flightModes = map[string]uint32{
	"MANUAL":    0,
	"STABILIZE": 0,
	"AUTO":      3,
	"GUIDED":    4,
	"LOITER":    5,
	"RTL":       6,
	"LAND":      9,
}

// ModeNumber resolves a flight mode name, case-insensitively.
func ModeNumber(name string) (uint32, bool) {
	mode, ok := flightModes[strings.ToUpper(name)]
	return mode, ok
}

// Dispatcher turns high-level vehicle operations into command frames and
// keeps an audit trail of everything it dispatched. Every transmitted
// command lands in the bounded in-memory history and, when a recorder is
// attached, in persistent storage.
type Dispatcher struct {
	link     Link
	recorder Recorder
	clock    func() time.Time

	mu           sync.Mutex
	history      []Result
	historyLimit int
	seq          uint64
	stats        Statistics
}

// Option adjusts dispatcher construction.
type Option func(*Dispatcher)

// WithRecorder attaches persistent command storage.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithHistoryLimit bounds the in-memory history.
func WithHistoryLimit(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.historyLimit = n
		}
	}
}

// WithClock replaces the time source.
func WithClock(clock func() time.Time) Option {
	return func(d *Dispatcher) { d.clock = clock }
}

func NewDispatcher(l Link, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		link:         l,
		clock:        time.Now,
		historyLimit: defaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Send dispatches one command frame. Success means the frame was written
// to the transport; this dialect carries no acknowledgements, so vehicle
// acceptance is not awaited. Rejected commands were never transmitted.
func (d *Dispatcher) Send(ctx context.Context, name string, commandID uint16, params [7]float64) (Result, error) {
	start := d.clock()

	res := Result{
		CommandID: commandID,
		Name:      name,
		Params:    params,
		Timestamp: start,
	}

	switch {
	case ctx.Err() != nil:
		res.Outcome = OutcomeRejected
		res.Message = ctx.Err().Error()
	case !d.link.IsConnected():
		res.Outcome = OutcomeRejected
		res.Message = "link not connected"
	default:
		if err := d.link.SendCommand(commandID, params); err != nil {
			res.Outcome = OutcomeFailed
			res.Message = err.Error()
		} else {
			res.Outcome = OutcomeSuccess
		}
	}

	res.Duration = d.clock().Sub(start)
	d.record(&res)

	switch res.Outcome {
	case OutcomeSuccess:
		logger.Info().
			Str("command", name).
			Uint64("sequence", res.Sequence).
			Msg("command dispatched")
		return res, nil
	case OutcomeRejected:
		logger.Warn().Str("command", name).Str("reason", res.Message).Msg("command rejected")
		return res, errFactory.WithMessage(ErrLinkUnavailable, res.Message)
	default:
		logger.Error().Str("command", name).Str("reason", res.Message).Msg("command dispatch failed")
		return res, errFactory.WithMessage(ErrDispatchFailed, res.Message)
	}
}

// record assigns the sequence number, updates counters, appends to the
// bounded history and hands the result to the recorder.
func (d *Dispatcher) record(res *Result) {
	d.mu.Lock()
	d.seq++
	res.Sequence = d.seq

	switch res.Outcome {
	case OutcomeSuccess:
		d.stats.Sent++
		d.stats.Succeeded++
	case OutcomeFailed:
		d.stats.Sent++
		d.stats.Failed++
	case OutcomeRejected:
		d.stats.Rejected++
	}

	d.history = append(d.history, *res)
	if len(d.history) > d.historyLimit {
		d.history = d.history[len(d.history)-d.historyLimit:]
	}
	recorder := d.recorder
	d.mu.Unlock()

	if recorder != nil {
		if err := recorder.RecordCommand(*res); err != nil {
			logger.Error().Err(err).Str("command", res.Name).Msg("failed to persist command result")
		}
	}
}

// History returns up to limit results, most recent first. A limit of 0
// returns the whole retained history.
func (d *Dispatcher) History(limit int) []Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.history)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]Result, limit)
	for i := 0; i < limit; i++ {
		out[i] = d.history[n-1-i]
	}

	return out
}

// ClearHistory drops the in-memory history. Counters and persisted
// records are unaffected.
func (d *Dispatcher) ClearHistory() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = nil
}

// Statistics returns a copy of the cumulative counters.
func (d *Dispatcher) Statistics() Statistics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Arm requests motor arming. With force set, pre-arm checks on the
// vehicle are bypassed.
func (d *Dispatcher) Arm(ctx context.Context, force bool) (Result, error) {
	params := [7]float64{1}
	if force {
		params[1] = forceMagic
	}

	return d.Send(ctx, "ARM", link.CmdComponentArmDisarm, params)
}

// Disarm requests motor disarming. With force set, the vehicle disarms
// even when it believes it is airborne.
func (d *Dispatcher) Disarm(ctx context.Context, force bool) (Result, error) {
	params := [7]float64{0}
	if force {
		params[1] = forceMagic
	}

	return d.Send(ctx, "DISARM", link.CmdComponentArmDisarm, params)
}

// SetMode switches the flight mode by name. Unknown modes fail locally
// and are never transmitted or recorded.
func (d *Dispatcher) SetMode(ctx context.Context, mode string) (Result, error) {
	number, ok := ModeNumber(mode)
	if !ok {
		logger.Warn().Str("mode", mode).Msg("unknown flight mode")
		return Result{
			Name:      "SET_MODE",
			CommandID: link.CmdDoSetMode,
			Outcome:   OutcomeFailed,
			Message:   "unknown flight mode: " + mode,
			Timestamp: d.clock(),
		}, errFactory.WithData(ErrUnknownMode, mode)
	}

	// param1=1 selects custom mode numbering.
	return d.Send(ctx, "SET_MODE "+strings.ToUpper(mode), link.CmdDoSetMode, [7]float64{1, float64(number)})
}

// Takeoff commands a climb to the given altitude in meters above home.
func (d *Dispatcher) Takeoff(ctx context.Context, altitude float64) (Result, error) {
	if altitude <= 0 {
		return Result{}, errFactory.WithMessage(errors.ErrInvalidArgument, "takeoff altitude must be positive")
	}

	return d.Send(ctx, "TAKEOFF", link.CmdNavTakeoff, [7]float64{0, 0, 0, 0, 0, 0, altitude})
}

// Land commands a landing. Zero coordinates mean land at the current
// position.
func (d *Dispatcher) Land(ctx context.Context, lat, lon, altitude float64) (Result, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Result{}, errFactory.WithMessage(errors.ErrInvalidArgument, "coordinate out of range")
	}

	params := [7]float64{
		0, 0, 0, 0,
		link.ScaleCoordinate(lat),
		link.ScaleCoordinate(lon),
		link.ScaleAltitude(altitude),
	}

	return d.Send(ctx, "LAND", link.CmdNavLand, params)
}

// ReturnToLaunch commands a return to the launch point.
func (d *Dispatcher) ReturnToLaunch(ctx context.Context) (Result, error) {
	return d.Send(ctx, "RTL", link.CmdNavReturnToLaunch, [7]float64{})
}

// Goto commands navigation to a waypoint. Coordinates ride the wire as
// 1e7 fixed-point degrees and altitude as millimeters; hold is seconds
// to loiter on arrival and radius the acceptance radius in meters.
func (d *Dispatcher) Goto(ctx context.Context, lat, lon, altitude, hold, radius float64) (Result, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Result{}, errFactory.WithMessage(errors.ErrInvalidArgument, "coordinate out of range")
	}
	if hold < 0 || radius < 0 {
		return Result{}, errFactory.WithMessage(errors.ErrInvalidArgument, "hold time and acceptance radius must not be negative")
	}

	params := [7]float64{
		hold, radius, 0, 0,
		link.ScaleCoordinate(lat),
		link.ScaleCoordinate(lon),
		link.ScaleAltitude(altitude),
	}

	return d.Send(ctx, "GOTO", link.CmdNavWaypoint, params)
}

// ChangeSpeed sets the ground speed target in m/s.
func (d *Dispatcher) ChangeSpeed(ctx context.Context, speed float64) (Result, error) {
	if speed <= 0 {
		return Result{}, errFactory.WithMessage(errors.ErrInvalidArgument, "speed must be positive")
	}

	// param1=1 selects ground speed, param3=-1 keeps throttle unchanged.
	return d.Send(ctx, "CHANGE_SPEED", link.CmdDoChangeSpeed, [7]float64{1, speed, -1})
}

// SetServo drives a servo output to the given PWM value.
func (d *Dispatcher) SetServo(ctx context.Context, servo int, pwm int) (Result, error) {
	if servo < 1 || pwm < 800 || pwm > 2200 {
		return Result{}, errFactory.WithMessage(errors.ErrInvalidArgument, "servo number or pwm out of range")
	}

	return d.Send(ctx, "SET_SERVO", link.CmdDoSetServo, [7]float64{float64(servo), float64(pwm)})
}

// SetRelay switches a relay output on or off.
func (d *Dispatcher) SetRelay(ctx context.Context, relay int, on bool) (Result, error) {
	if relay < 0 {
		return Result{}, errFactory.WithMessage(errors.ErrInvalidArgument, "relay number out of range")
	}

	state := 0.0
	if on {
		state = 1.0
	}

	return d.Send(ctx, "SET_RELAY", link.CmdDoSetRelay, [7]float64{float64(relay), state})
}

// SetHome moves the home point to the given coordinates.
func (d *Dispatcher) SetHome(ctx context.Context, lat, lon, altitude float64) (Result, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Result{}, errFactory.WithMessage(errors.ErrInvalidArgument, "coordinate out of range")
	}

	params := [7]float64{
		0, 0, 0, 0,
		link.ScaleCoordinate(lat),
		link.ScaleCoordinate(lon),
		link.ScaleAltitude(altitude),
	}

	return d.Send(ctx, "SET_HOME", link.CmdDoSetHome, params)
}

// EmergencyStop force-disarms the motors immediately, regardless of
// flight state. Expect a hard landing when airborne.
func (d *Dispatcher) EmergencyStop(ctx context.Context) (Result, error) {
	return d.Send(ctx, "EMERGENCY_STOP", link.CmdComponentArmDisarm, [7]float64{0, forceMagic})
}

// MissionStart begins the mission stored on the vehicle by switching
// into autonomous mode.
func (d *Dispatcher) MissionStart(ctx context.Context) (Result, error) {
	return d.SetMode(ctx, "AUTO")
}

// MissionPause holds position until the mission is resumed.
func (d *Dispatcher) MissionPause(ctx context.Context) (Result, error) {
	return d.SetMode(ctx, "LOITER")
}

// MissionResume continues vehicle-side mission execution.
func (d *Dispatcher) MissionResume(ctx context.Context) (Result, error) {
	return d.SetMode(ctx, "AUTO")
}
