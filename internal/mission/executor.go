package mission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codeberg.org/fieldrobotics/agroctl/internal/command"
	"codeberg.org/fieldrobotics/agroctl/internal/logger"
	"codeberg.org/fieldrobotics/agroctl/internal/safety"
	"codeberg.org/fieldrobotics/agroctl/internal/telemetry"
)

// Status of mission execution.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusError     Status = "error"
)

// ExecutionState is a snapshot of the single execution slot.
type ExecutionState struct {
	Active          bool
	MissionID       string
	MissionName     string
	CurrentWaypoint int
	TotalWaypoints  int
	Status          Status
	Message         string
	StartedAt       time.Time
}

// Commander is the slice of the dispatcher the executor drives.
type Commander interface {
	SetMode(ctx context.Context, mode string) (command.Result, error)
	Arm(ctx context.Context, force bool) (command.Result, error)
	Goto(ctx context.Context, lat, lon, altitude, hold, radius float64) (command.Result, error)
	ReturnToLaunch(ctx context.Context) (command.Result, error)
	ChangeSpeed(ctx context.Context, speed float64) (command.Result, error)
}

// Settle delays give the autopilot time to act on a command before the
// next one goes out. This dialect has no acknowledgements, so pacing is
// time-based. Zero values skip the wait.
type Settle struct {
	Mode     time.Duration
	Arm      time.Duration
	Waypoint time.Duration
}

// Executor runs one mission at a time: switch to guided mode, arm if
// needed, then walk the waypoints. Execution holds the single slot until
// it completes, fails or is stopped.
type Executor struct {
	commander    Commander
	cache        *telemetry.Cache
	limits       safety.Limits
	settle       Settle
	maxWaypoints int

	mu     sync.Mutex
	state  ExecutionState
	cancel context.CancelFunc
	done   chan struct{}
}

func NewExecutor(c Commander, cache *telemetry.Cache, limits safety.Limits, settle Settle, maxWaypoints int) *Executor {
	return &Executor{
		commander:    c,
		cache:        cache,
		limits:       limits,
		settle:       settle,
		maxWaypoints: maxWaypoints,
		state:        ExecutionState{Status: StatusIdle},
	}
}

// State returns a snapshot of the execution slot.
func (e *Executor) State() ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsRunning reports whether the given plan currently holds the slot.
func (e *Executor) IsRunning(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Active && e.state.MissionID == id
}

// Execute validates and safety-checks the plan, claims the execution
// slot, runs the mode and arm sequence, then walks the waypoints on a
// background goroutine. Returns once the walk is underway.
func (e *Executor) Execute(ctx context.Context, plan *Plan) error {
	if err := plan.Validate(e.maxWaypoints); err != nil {
		return err
	}
	for i, wp := range plan.Waypoints {
		if d := safety.CheckWaypoint(e.limits, wp.Lat, wp.Lon, wp.Altitude, false); !d.Allowed {
			return errFactory.WithMessage(ErrPlanRejected, fmt.Sprintf("waypoint %d: %s", i, d.Reason))
		}
	}

	e.mu.Lock()
	if e.state.Active {
		e.mu.Unlock()
		return errFactory.WithData(ErrAlreadyExecuting, e.state.MissionID)
	}
	e.state = ExecutionState{
		Active:         true,
		MissionID:      plan.ID,
		MissionName:    plan.Name,
		TotalWaypoints: len(plan.Waypoints),
		Status:         StatusExecuting,
		StartedAt:      time.Now(),
	}
	e.mu.Unlock()

	logger.Info().
		Str("mission_id", plan.ID).
		Str("name", plan.Name).
		Int("waypoints", len(plan.Waypoints)).
		Float64("distance_m", plan.TotalDistance()).
		Msg("mission execution starting")

	if err := e.prepare(ctx, plan); err != nil {
		e.finish(StatusError, err.Error())
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	e.mu.Lock()
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	go e.run(runCtx, plan, done)

	return nil
}

// prepare switches to guided mode and arms when the vehicle is not
// already armed.
func (e *Executor) prepare(ctx context.Context, plan *Plan) error {
	if _, err := e.commander.SetMode(ctx, "GUIDED"); err != nil {
		return err
	}
	if err := sleepCtx(ctx, e.settle.Mode); err != nil {
		return err
	}

	hb, ok := e.cache.Heartbeat()
	if !ok || !hb.Armed() {
		var pos *telemetry.Position
		if p, ok := e.cache.Position(); ok {
			pos = &p
		}
		if d := safety.CheckArm(e.limits, pos, false); !d.Allowed {
			return errFactory.WithMessage(ErrPlanRejected, "arming denied: "+d.Reason)
		}
		if _, err := e.commander.Arm(ctx, false); err != nil {
			return err
		}
		if err := sleepCtx(ctx, e.settle.Arm); err != nil {
			return err
		}
	}

	if plan.Speed > 0 {
		if _, err := e.commander.ChangeSpeed(ctx, plan.Speed); err != nil {
			return err
		}
	}

	return nil
}

// run walks the waypoints. Cancellation leaves the status transition to
// Stop; every other exit path settles the slot here.
func (e *Executor) run(ctx context.Context, plan *Plan, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("mission_id", plan.ID).Msgf("mission executor panic: %v", r)
			e.finish(StatusError, fmt.Sprintf("executor panic: %v", r))
		}
	}()

	for i, wp := range plan.Waypoints {
		if ctx.Err() != nil {
			return
		}

		e.mu.Lock()
		e.state.CurrentWaypoint = i
		e.mu.Unlock()

		logger.Info().
			Str("mission_id", plan.ID).
			Int("waypoint", i).
			Float64("lat", wp.Lat).
			Float64("lon", wp.Lon).
			Msg("navigating to waypoint")

		// The vehicle-side hold rides in the frame; pacing between
		// waypoints stays time-based on our side.
		if _, err := e.commander.Goto(ctx, wp.Lat, wp.Lon, wp.Altitude, wp.Hold, wp.Radius); err != nil {
			e.finish(StatusError, fmt.Sprintf("waypoint %d: %s", i, err.Error()))
			return
		}

		if wp.PassThrough {
			continue
		}
		hold := wp.HoldDuration()
		if hold <= 0 {
			hold = e.settle.Waypoint
		}
		if err := sleepCtx(ctx, hold); err != nil {
			return
		}
	}

	switch plan.OnComplete {
	case CompleteRTL:
		if _, err := e.commander.ReturnToLaunch(ctx); err != nil {
			e.finish(StatusError, "return to launch: "+err.Error())
			return
		}
	default:
		if _, err := e.commander.SetMode(ctx, "LOITER"); err != nil {
			e.finish(StatusError, "loiter on completion: "+err.Error())
			return
		}
	}

	logger.Info().Str("mission_id", plan.ID).Msg("mission completed")
	e.finish(StatusCompleted, "")
}

// Stop cancels the walk, waits for the goroutine to exit and parks the
// vehicle in loiter.
func (e *Executor) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.state.Active {
		e.mu.Unlock()
		return errFactory.New(ErrNotExecuting)
	}
	cancel := e.cancel
	done := e.done
	e.cancel = nil
	e.done = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	// The walk may have finished on its own while we were stopping.
	e.mu.Lock()
	if !e.state.Active {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	if _, err := e.commander.SetMode(ctx, "LOITER"); err != nil {
		logger.Warn().Err(err).Msg("failed to park vehicle in loiter after stop")
	}

	e.finish(StatusStopped, "stopped by operator")
	logger.Info().Msg("mission execution stopped")

	return nil
}

func (e *Executor) finish(status Status, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Active = false
	e.state.Status = status
	e.state.Message = message
	e.cancel = nil
	e.done = nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
