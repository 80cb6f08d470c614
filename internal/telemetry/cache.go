package telemetry

import (
	"sync"
	"time"
)

// Cache holds the latest decoded snapshot of each telemetry kind. The
// link's message pump is the only writer; every other component reads.
// Each kind is replaced independently, so a reader may observe a fresh
// position next to a stale attitude. That bounded staleness is accepted;
// the cache makes no cross-kind consistency promise.
//
// Observers are registered per kind and invoked synchronously on the
// pump goroutine after the snapshot is stored. Callbacks must return
// quickly and must not call back into the link.
type Cache struct {
	mu            sync.RWMutex
	heartbeat     *Heartbeat
	position      *Position
	attitude      *Attitude
	lastHeartbeat time.Time

	heartbeatObservers []func(Heartbeat)
	positionObservers  []func(Position)
	attitudeObservers  []func(Attitude)
}

func NewCache() *Cache {
	return &Cache{}
}

// SetHeartbeat stores the latest heartbeat and stamps the liveness clock.
func (c *Cache) SetHeartbeat(hb Heartbeat) {
	c.mu.Lock()
	c.heartbeat = &hb
	c.lastHeartbeat = hb.Timestamp
	observers := c.heartbeatObservers
	c.mu.Unlock()

	for _, observe := range observers {
		observe(hb)
	}
}

func (c *Cache) SetPosition(pos Position) {
	c.mu.Lock()
	c.position = &pos
	observers := c.positionObservers
	c.mu.Unlock()

	for _, observe := range observers {
		observe(pos)
	}
}

func (c *Cache) SetAttitude(att Attitude) {
	c.mu.Lock()
	c.attitude = &att
	observers := c.attitudeObservers
	c.mu.Unlock()

	for _, observe := range observers {
		observe(att)
	}
}

// Heartbeat returns a copy of the latest heartbeat, if any.
func (c *Cache) Heartbeat() (Heartbeat, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.heartbeat == nil {
		return Heartbeat{}, false
	}

	return *c.heartbeat, true
}

// Position returns a copy of the latest position, if any.
func (c *Cache) Position() (Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.position == nil {
		return Position{}, false
	}

	return *c.position, true
}

// Attitude returns a copy of the latest attitude, if any.
func (c *Cache) Attitude() (Attitude, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.attitude == nil {
		return Attitude{}, false
	}

	return *c.attitude, true
}

// HeartbeatAge returns the time since the last heartbeat was decoded.
// Returns false if no heartbeat has been seen.
func (c *Cache) HeartbeatAge(now time.Time) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.lastHeartbeat.IsZero() {
		return 0, false
	}

	return now.Sub(c.lastHeartbeat), true
}

// FlightState derives the coarse vehicle state from the cached snapshots.
func (c *Cache) FlightState() FlightState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return DeriveFlightState(c.heartbeat, c.position)
}

// Clear drops all snapshots. Called on disconnect; registered observers
// survive so a reconnect keeps existing subscriptions.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.heartbeat = nil
	c.position = nil
	c.attitude = nil
	c.lastHeartbeat = time.Time{}
}

// OnHeartbeat registers an observer for decoded heartbeat frames.
func (c *Cache) OnHeartbeat(observe func(Heartbeat)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heartbeatObservers = append(c.heartbeatObservers, observe)
}

// OnPosition registers an observer for decoded position frames.
func (c *Cache) OnPosition(observe func(Position)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positionObservers = append(c.positionObservers, observe)
}

// OnAttitude registers an observer for decoded attitude frames.
func (c *Cache) OnAttitude(observe func(Attitude)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attitudeObservers = append(c.attitudeObservers, observe)
}
