package safety

import (
	"context"
	"sync"
	"time"

	"codeberg.org/fieldrobotics/agroctl/internal/logger"
	"codeberg.org/fieldrobotics/agroctl/internal/telemetry"
)

const defaultScanInterval = time.Second

// Violation is one detected breach of the operational limits.
type Violation struct {
	Kind      string
	Detail    string
	Timestamp time.Time
}

// Monitor periodically scans cached telemetry for limit breaches while
// the vehicle is armed. Repeats of the same breach are reported once per
// episode; a clean scan resets the episode.
type Monitor struct {
	cache    *telemetry.Cache
	limits   Limits
	interval time.Duration
	clock    func() time.Time

	mu        sync.Mutex
	callbacks []func(Violation)
	active    map[string]bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// MonitorOption adjusts monitor construction.
type MonitorOption func(*Monitor)

// WithScanInterval changes how often telemetry is scanned.
func WithScanInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.interval = d }
}

// WithMonitorClock replaces the time source.
func WithMonitorClock(clock func() time.Time) MonitorOption {
	return func(m *Monitor) { m.clock = clock }
}

func NewMonitor(cache *telemetry.Cache, limits Limits, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		cache:    cache,
		limits:   limits,
		interval: defaultScanInterval,
		clock:    time.Now,
		active:   map[string]bool{},
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// OnViolation registers a callback invoked on each new violation
// episode. Callbacks run on the monitor goroutine.
func (m *Monitor) OnViolation(cb func(Violation)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Start launches the scan loop. Stop tears it down.
func (m *Monitor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(runCtx)
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Scan()
		}
	}
}

// Scan runs one pass over the cached telemetry. Exported so the daemon
// can fold a scan into its own status tick.
func (m *Monitor) Scan() {
	hb, ok := m.cache.Heartbeat()
	if !ok || !hb.Armed() {
		m.clearEpisodes()
		return
	}

	pos, ok := m.cache.Position()
	if !ok {
		return
	}

	seen := map[string]bool{}

	if d := CheckGeofence(m.limits, pos.Latitude(), pos.Longitude(), false); !d.Allowed {
		seen["geofence"] = true
		m.report("geofence", d.Reason)
	}
	if d := CheckAltitude(m.limits, pos.RelativeAltM()); !d.Allowed {
		seen["altitude"] = true
		m.report("altitude", d.Reason)
	}
	if d := CheckVelocity(m.limits, pos.GroundSpeedMS()); !d.Allowed {
		seen["velocity"] = true
		m.report("velocity", d.Reason)
	}

	m.mu.Lock()
	for kind := range m.active {
		if !seen[kind] {
			delete(m.active, kind)
		}
	}
	m.mu.Unlock()
}

func (m *Monitor) report(kind, detail string) {
	m.mu.Lock()
	if m.active[kind] {
		m.mu.Unlock()
		return
	}
	m.active[kind] = true
	callbacks := m.callbacks
	m.mu.Unlock()

	logger.Warn().Str("kind", kind).Str("detail", detail).Msg("safety violation")

	v := Violation{Kind: kind, Detail: detail, Timestamp: m.clock()}
	for _, cb := range callbacks {
		cb(v)
	}
}

func (m *Monitor) clearEpisodes() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for kind := range m.active {
		delete(m.active, kind)
	}
}
