package link

import (
	"context"
	"io"
	"sync"
	"time"

	"codeberg.org/fieldrobotics/agroctl/internal/errors"
	"codeberg.org/fieldrobotics/agroctl/internal/logger"
	"codeberg.org/fieldrobotics/agroctl/internal/telemetry"
)

// State is the link lifecycle state.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "invalid"
	}
}

const (
	defaultMonitorInterval = time.Second
	pollInterval           = 100 * time.Millisecond
	readBufferSize         = 1024
)

// Config for the link supervisor.
type Config struct {
	Target           string
	BaudRate         int
	ConnectTimeout   time.Duration
	HeartbeatTimeout time.Duration
	SystemID         uint8
	ComponentID      uint8
}

// Status is a point-in-time summary of the link.
type Status struct {
	State           State
	Target          string
	TargetSystem    uint8
	TargetComponent uint8
	HeartbeatAge    time.Duration
	HasHeartbeat    bool
	Heartbeat       *telemetry.Heartbeat
	Position        *telemetry.Position
	Attitude        *telemetry.Attitude
}

// Supervisor owns the transport to the flight controller. It decodes
// incoming frames into the telemetry cache and watches heartbeat
// liveness. All writes to the wire go through SendCommand, so transport
// access is serialized here and nowhere else.
//
// Connect and Disconnect are lifecycle calls and must not race each
// other; the daemon invokes them from a single goroutine.
type Supervisor struct {
	cfg    Config
	cache  *telemetry.Cache
	clock  func() time.Time
	dialer Dialer

	monitorInterval time.Duration

	mu              sync.Mutex
	state           State
	transport       Transport
	cancel          context.CancelFunc
	targetSystem    uint8
	targetComponent uint8
	wg              sync.WaitGroup

	writeMu sync.Mutex
	seq     uint8
}

// Option adjusts supervisor construction, mainly for tests.
type Option func(*Supervisor)

// WithDialer replaces the transport dialer.
func WithDialer(d Dialer) Option {
	return func(s *Supervisor) { s.dialer = d }
}

// WithClock replaces the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Supervisor) { s.clock = clock }
}

// WithMonitorInterval changes the heartbeat monitor tick.
func WithMonitorInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.monitorInterval = d }
}

func New(cfg Config, cache *telemetry.Cache, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:             cfg,
		cache:           cache,
		clock:           time.Now,
		dialer:          dial,
		monitorInterval: defaultMonitorInterval,
		state:           StateDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Connect opens the transport and waits for the first heartbeat. It is
// idempotent: connecting while Connected is a no-op success. Only one
// attempt may be in flight at a time.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateConnected:
		s.mu.Unlock()
		logger.Warn().Msg("already connected to flight controller")
		return nil
	case StateConnecting:
		s.mu.Unlock()
		return errFactory.New(ErrConnectInFlight)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	logger.Info().Str("target", s.cfg.Target).Msg("connecting to flight controller")

	transport, err := s.dialer(s.cfg.Target, s.cfg.BaudRate, s.cfg.ConnectTimeout)
	if err != nil {
		s.setState(StateError)
		return err
	}

	hb, err := s.waitForHeartbeat(ctx, transport)
	if err != nil {
		transport.Close()
		s.setState(StateError)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.transport = transport
	s.cancel = cancel
	s.targetSystem = hb.SystemID
	s.targetComponent = hb.ComponentID
	s.state = StateConnected
	s.wg.Add(2)
	s.mu.Unlock()

	go s.monitorHeartbeat(runCtx)
	go s.pumpMessages(runCtx, transport)

	logger.Info().
		Uint8("system_id", hb.SystemID).
		Uint8("component_id", hb.ComponentID).
		Msg("connected to flight controller")

	return nil
}

// Disconnect cancels the background tasks, waits for them to exit,
// closes the transport and clears the telemetry cache. Always leaves
// the link Disconnected.
func (s *Supervisor) Disconnect() error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	transport := s.transport
	s.cancel = nil
	s.transport = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	var closeErr error
	if transport != nil {
		if err := transport.Close(); err != nil {
			closeErr = errFactory.Wrap(errors.ErrTransportClose, err)
		}
	}

	s.cache.Clear()
	s.setState(StateDisconnected)
	logger.Info().Msg("disconnected from flight controller")

	return closeErr
}

// IsConnected reports whether the link is up.
func (s *Supervisor) IsConnected() bool {
	return s.State() == StateConnected
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the link and the latest decoded frames.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	status := Status{
		State:           s.state,
		Target:          s.cfg.Target,
		TargetSystem:    s.targetSystem,
		TargetComponent: s.targetComponent,
	}
	s.mu.Unlock()

	if age, ok := s.cache.HeartbeatAge(s.clock()); ok {
		status.HeartbeatAge = age
		status.HasHeartbeat = true
	}
	if hb, ok := s.cache.Heartbeat(); ok {
		status.Heartbeat = &hb
	}
	if pos, ok := s.cache.Position(); ok {
		status.Position = &pos
	}
	if att, ok := s.cache.Attitude(); ok {
		status.Attitude = &att
	}

	return status
}

// SendCommand transmits one command frame to the learned target system.
// Success means the write completed; the vehicle's acceptance is never
// awaited here.
func (s *Supervisor) SendCommand(command uint16, params [7]float64) error {
	if !s.IsConnected() {
		return errFactory.New(ErrNotConnected)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	transport := s.transport
	targetSys := s.targetSystem
	targetComp := s.targetComponent
	s.mu.Unlock()

	if transport == nil {
		return errFactory.New(ErrNotConnected)
	}

	s.seq++
	frame := NewCommandFrame(s.seq, s.cfg.SystemID, s.cfg.ComponentID, targetSys, targetComp, command, params)

	if _, err := transport.Write(frame.Marshal()); err != nil {
		s.failSession("command write failed")
		return errFactory.Wrap(errors.ErrTransportWrite, err)
	}

	logger.Debug().Uint16("command", command).Msg("command frame sent")

	return nil
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// failSession marks the session broken. The transport stays open until
// Disconnect so the background tasks can drain and exit cleanly.
func (s *Supervisor) failSession(reason string) {
	s.mu.Lock()
	if s.state == StateConnected {
		s.state = StateError
	}
	s.mu.Unlock()

	logger.Warn().Str("reason", reason).Msg("link session failed")
}

// waitForHeartbeat reads from the transport until the first valid
// heartbeat frame decodes, or the connect timeout passes.
func (s *Supervisor) waitForHeartbeat(ctx context.Context, transport Transport) (telemetry.Heartbeat, error) {
	deadline := s.clock().Add(s.cfg.ConnectTimeout)
	decoder := &Decoder{}
	buf := make([]byte, readBufferSize)

	logger.Info().Msg("waiting for heartbeat")

	for {
		select {
		case <-ctx.Done():
			return telemetry.Heartbeat{}, errFactory.Wrap(ErrHeartbeatTimeout, ctx.Err())
		default:
		}

		if s.clock().After(deadline) {
			return telemetry.Heartbeat{}, errFactory.WithMessage(ErrHeartbeatTimeout, "no heartbeat within connect timeout")
		}

		transport.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := transport.Read(buf)
		if err != nil && !isTimeout(err) {
			return telemetry.Heartbeat{}, errFactory.Wrap(errors.ErrTransportRead, err)
		}
		if n > 0 {
			decoder.Write(buf[:n])
		}

		for {
			frame, ok := decoder.Next()
			if !ok {
				break
			}
			if frame.MsgID != MsgHeartbeat {
				continue
			}
			hb, err := DecodeHeartbeat(frame, s.clock())
			if err != nil {
				continue
			}
			s.cache.SetHeartbeat(hb)
			return hb, nil
		}
	}
}

// monitorHeartbeat checks heartbeat age every tick and fails the
// session when it exceeds the configured timeout. Heartbeat loss is
// terminal: the caller must Disconnect and Connect again.
func (s *Supervisor) monitorHeartbeat(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.State() != StateConnected {
				return
			}
			age, ok := s.cache.HeartbeatAge(s.clock())
			if ok && age > s.cfg.HeartbeatTimeout {
				logger.Warn().Dur("age", age).Msg("heartbeat timeout, connection lost")
				s.failSession("heartbeat lost")
				return
			}
		}
	}
}

// pumpMessages polls the transport, decodes complete frames and
// dispatches them into the telemetry cache.
func (s *Supervisor) pumpMessages(ctx context.Context, transport Transport) {
	defer s.wg.Done()

	decoder := &Decoder{}
	buf := make([]byte, readBufferSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if s.State() != StateConnected {
			return
		}

		transport.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := transport.Read(buf)
		if n > 0 {
			decoder.Write(buf[:n])
			for {
				frame, ok := decoder.Next()
				if !ok {
					break
				}
				s.dispatch(frame)
			}
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if err == io.EOF {
				s.failSession("transport closed by peer")
			} else {
				logger.Error().Err(err).Msg("transport read failed")
				s.failSession("transport read failed")
			}
			return
		}
	}
}

func (s *Supervisor) dispatch(frame Frame) {
	now := s.clock()

	switch frame.MsgID {
	case MsgHeartbeat:
		hb, err := DecodeHeartbeat(frame, now)
		if err != nil {
			logger.Debug().Err(err).Msg("dropping malformed heartbeat")
			return
		}
		s.cache.SetHeartbeat(hb)

	case MsgGlobalPosition:
		pos, err := DecodePosition(frame, now)
		if err != nil {
			logger.Debug().Err(err).Msg("dropping malformed position frame")
			return
		}
		s.cache.SetPosition(pos)

	case MsgAttitude:
		att, err := DecodeAttitude(frame, now)
		if err != nil {
			logger.Debug().Err(err).Msg("dropping malformed attitude frame")
			return
		}
		s.cache.SetAttitude(att)

	default:
		logger.Debug().Uint8("msg_id", frame.MsgID).Msg("ignoring unhandled frame kind")
	}
}
