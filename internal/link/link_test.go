package link_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/fieldrobotics/agroctl/internal/errors"
	"codeberg.org/fieldrobotics/agroctl/internal/link"
	"codeberg.org/fieldrobotics/agroctl/internal/telemetry"
)

type timeoutErr struct{}

func (timeoutErr) Error() string { return "i/o timeout" }
func (timeoutErr) Timeout() bool { return true }

// fakeTransport is an in-memory Transport. Reads drain the receive
// buffer or report a deadline expiry; writes accumulate for inspection.
type fakeTransport struct {
	mu       sync.Mutex
	rbuf     []byte
	wbuf     []byte
	writeErr error
	closed   bool
}

func (f *fakeTransport) push(frame link.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rbuf = append(f.rbuf, frame.Marshal()...)
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return 0, io.EOF
	}
	if len(f.rbuf) > 0 {
		n := copy(p, f.rbuf)
		f.rbuf = f.rbuf[n:]
		f.mu.Unlock()
		return n, nil
	}
	f.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	return 0, timeoutErr{}
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.wbuf = append(f.wbuf, p...)

	return len(p), nil
}

func (f *fakeTransport) setWriteErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

func (f *fakeTransport) written() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.wbuf...)
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) SetReadDeadline(time.Time) error { return nil }

func vehicleHeartbeat() link.Frame {
	return link.NewHeartbeatFrame(1, telemetry.Heartbeat{
		SystemID:    42,
		ComponentID: 200,
		BaseMode:    0x81,
		CustomMode:  5,
	})
}

func newSupervisor(ft *fakeTransport, cache *telemetry.Cache, hbTimeout time.Duration) *link.Supervisor {
	cfg := link.Config{
		Target:           "tcp:test:5760",
		ConnectTimeout:   2 * time.Second,
		HeartbeatTimeout: hbTimeout,
		SystemID:         255,
		ComponentID:      190,
	}
	dialer := func(string, int, time.Duration) (link.Transport, error) {
		return ft, nil
	}

	return link.New(cfg, cache,
		link.WithDialer(dialer),
		link.WithMonitorInterval(10*time.Millisecond))
}

func TestConnectLearnsTargetIDs(t *testing.T) {
	ft := &fakeTransport{}
	ft.push(vehicleHeartbeat())
	cache := telemetry.NewCache()
	sup := newSupervisor(ft, cache, time.Minute)

	require.NoError(t, sup.Connect(context.Background()))
	defer sup.Disconnect()

	assert.True(t, sup.IsConnected())

	status := sup.Status()
	assert.Equal(t, link.StateConnected, status.State)
	assert.Equal(t, uint8(42), status.TargetSystem)
	assert.Equal(t, uint8(200), status.TargetComponent)

	hb, ok := cache.Heartbeat()
	require.True(t, ok)
	assert.Equal(t, uint8(42), hb.SystemID)

	// Connecting again is a no-op success.
	require.NoError(t, sup.Connect(context.Background()))
}

func TestConnectTimesOutWithoutHeartbeat(t *testing.T) {
	ft := &fakeTransport{}
	cache := telemetry.NewCache()

	cfg := link.Config{
		Target:           "tcp:test:5760",
		ConnectTimeout:   100 * time.Millisecond,
		HeartbeatTimeout: time.Minute,
		SystemID:         255,
		ComponentID:      190,
	}
	sup := link.New(cfg, cache, link.WithDialer(func(string, int, time.Duration) (link.Transport, error) {
		return ft, nil
	}))

	err := sup.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, link.ErrHeartbeatTimeout, errors.CodeOf(err))
	assert.Equal(t, link.StateError, sup.State())
	assert.False(t, sup.IsConnected())
}

func TestDisconnectClearsSession(t *testing.T) {
	ft := &fakeTransport{}
	ft.push(vehicleHeartbeat())
	cache := telemetry.NewCache()
	sup := newSupervisor(ft, cache, time.Minute)

	require.NoError(t, sup.Connect(context.Background()))
	require.NoError(t, sup.Disconnect())

	assert.Equal(t, link.StateDisconnected, sup.State())
	_, ok := cache.Heartbeat()
	assert.False(t, ok, "disconnect clears the telemetry cache")

	// Disconnecting when already down is a no-op.
	require.NoError(t, sup.Disconnect())
}

func TestSendCommandWritesFrame(t *testing.T) {
	ft := &fakeTransport{}
	ft.push(vehicleHeartbeat())
	cache := telemetry.NewCache()
	sup := newSupervisor(ft, cache, time.Minute)

	require.NoError(t, sup.Connect(context.Background()))
	defer sup.Disconnect()

	require.NoError(t, sup.SendCommand(link.CmdDoSetMode, [7]float64{1, 4}))

	dec := &link.Decoder{}
	dec.Write(ft.written())
	frame, ok := dec.Next()
	require.True(t, ok, "a command frame must have been written")

	assert.Equal(t, uint8(255), frame.SystemID)
	assert.Equal(t, uint8(190), frame.ComponentID)

	cmd, err := link.DecodeCommand(frame)
	require.NoError(t, err)
	assert.Equal(t, link.CmdDoSetMode, cmd.Command)
	assert.Equal(t, uint8(42), cmd.TargetSystem)
	assert.Equal(t, uint8(200), cmd.TargetComponent)
	assert.InDelta(t, 4.0, cmd.Params[1], 1e-9)
}

func TestSendCommandWhenDisconnected(t *testing.T) {
	sup := newSupervisor(&fakeTransport{}, telemetry.NewCache(), time.Minute)

	err := sup.SendCommand(link.CmdNavLand, [7]float64{})
	require.Error(t, err)
	assert.Equal(t, link.ErrNotConnected, errors.CodeOf(err))
}

func TestSendCommandWriteFailureFailsSession(t *testing.T) {
	ft := &fakeTransport{}
	ft.push(vehicleHeartbeat())
	sup := newSupervisor(ft, telemetry.NewCache(), time.Minute)

	require.NoError(t, sup.Connect(context.Background()))
	defer sup.Disconnect()

	ft.setWriteErr(fmt.Errorf("broken pipe"))

	err := sup.SendCommand(link.CmdNavLand, [7]float64{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrTransportWrite, errors.CodeOf(err))
	assert.Equal(t, link.StateError, sup.State())
}

func TestHeartbeatLossFailsSession(t *testing.T) {
	ft := &fakeTransport{}
	ft.push(vehicleHeartbeat())
	cache := telemetry.NewCache()
	sup := newSupervisor(ft, cache, 50*time.Millisecond)

	require.NoError(t, sup.Connect(context.Background()))
	defer sup.Disconnect()

	require.Eventually(t, func() bool {
		return sup.State() == link.StateError
	}, time.Second, 10*time.Millisecond, "silence must fail the session")

	err := sup.SendCommand(link.CmdNavLand, [7]float64{})
	require.Error(t, err)
	assert.Equal(t, link.ErrNotConnected, errors.CodeOf(err))
}

func TestPumpDispatchesFramesToCache(t *testing.T) {
	ft := &fakeTransport{}
	ft.push(vehicleHeartbeat())
	cache := telemetry.NewCache()
	sup := newSupervisor(ft, cache, time.Minute)

	require.NoError(t, sup.Connect(context.Background()))
	defer sup.Disconnect()

	ft.push(link.NewPositionFrame(2, telemetry.Position{Lat: 515000000, Lon: -1200000, FixType: 3}))
	ft.push(link.NewAttitudeFrame(3, telemetry.Attitude{Roll: 0.25}))

	require.Eventually(t, func() bool {
		_, ok := cache.Position()
		return ok
	}, time.Second, 5*time.Millisecond)

	pos, _ := cache.Position()
	assert.InDelta(t, 51.5, pos.Latitude(), 1e-9)

	require.Eventually(t, func() bool {
		att, ok := cache.Attitude()
		return ok && att.Roll > 0.2
	}, time.Second, 5*time.Millisecond)
}
