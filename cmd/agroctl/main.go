package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/fieldrobotics/agroctl/internal/command"
	"codeberg.org/fieldrobotics/agroctl/internal/config"
	"codeberg.org/fieldrobotics/agroctl/internal/errors"
	"codeberg.org/fieldrobotics/agroctl/internal/flightlog"
	"codeberg.org/fieldrobotics/agroctl/internal/link"
	"codeberg.org/fieldrobotics/agroctl/internal/logger"
	"codeberg.org/fieldrobotics/agroctl/internal/mission"
	"codeberg.org/fieldrobotics/agroctl/internal/safety"
	"codeberg.org/fieldrobotics/agroctl/internal/telemetry"
)

const statusInterval = time.Second

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load(os.Args[1:])
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug().Msg("config loaded")
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	cache := telemetry.NewCache()
	supervisor := link.New(link.Config{
		Target:           cfg.Connection,
		BaudRate:         cfg.BaudRate,
		ConnectTimeout:   cfg.ConnectTimeoutDuration(),
		HeartbeatTimeout: cfg.HeartbeatTimeoutDuration(),
		SystemID:         uint8(cfg.SystemID),
		ComponentID:      uint8(cfg.ComponentID),
	}, cache)

	var recorder *flightlog.Repository
	dispatcherOpts := []command.Option{command.WithHistoryLimit(cfg.HistoryLimit)}
	if cfg.FlightLog {
		flCfg := flightlog.DefaultConfig()
		flCfg.DBPath = cfg.FlightLogDB
		flCfg.Enabled = true
		if err := flCfg.Validate(); err != nil {
			logger.Fatal().Err(err).Msg("invalid flight log configuration")
		}

		var err error
		recorder, err = flightlog.NewRepository(flCfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize flight log")
		}
		dispatcherOpts = append(dispatcherOpts, command.WithRecorder(recorder))
	}

	dispatcher := command.NewDispatcher(supervisor, dispatcherOpts...)

	limits := safety.Limits{
		MinSatellites:   cfg.MinSatellites,
		MaxHDOP:         cfg.MaxHDOP,
		MaxAltitude:     cfg.MaxAltitude,
		MaxSpeed:        cfg.MaxSpeed,
		GeofenceEnabled: cfg.GeofenceEnabled,
		GeofenceLat:     cfg.GeofenceLat,
		GeofenceLon:     cfg.GeofenceLon,
		GeofenceRadius:  cfg.GeofenceRadius,
	}

	monitor := safety.NewMonitor(cache, limits)

	settle := mission.Settle{
		Mode:     cfg.ModeSettleDuration(),
		Arm:      cfg.ArmSettleDuration(),
		Waypoint: cfg.WaypointHoldDuration(),
	}
	executor := mission.NewExecutor(dispatcher, cache, limits, settle, cfg.MaxWaypoints)

	store := mission.NewStore()
	store.Guard(executor.IsRunning)

	if cfg.AutoConnect {
		if err := supervisor.Connect(ctx); err != nil {
			logger.Error().Err(err).Msg("initial connection failed")
		}
	}

	monitor.Start(ctx)

	if cfg.MissionFile != "" {
		startMissionFromFile(ctx, store, executor, supervisor)
	}

	if err := loop(ctx, supervisor, executor, cache, recorder); err != nil {
		logger.Error().Err(err).Msg("error in main loop")
	}

	shutdown(executor, monitor, supervisor, recorder)
}

func startMissionFromFile(ctx context.Context, store *mission.Store, executor *mission.Executor, supervisor *link.Supervisor) {
	if !supervisor.IsConnected() {
		logger.Warn().Str("path", cfg.MissionFile).Msg("skipping mission file, link is down")
		return
	}

	plan, err := mission.Load(cfg.MissionFile)
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.MissionFile).Msg("failed to load mission plan")
		return
	}

	plan = store.Add(plan)
	if err := executor.Execute(ctx, plan); err != nil {
		logger.Error().Err(err).Str("mission_id", plan.ID).Msg("failed to start mission")
	}
}

func loop(ctx context.Context, supervisor *link.Supervisor, executor *mission.Executor, cache *telemetry.Cache, recorder *flightlog.Repository) error {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			logStatus(supervisor, executor, cache)
			if recorder != nil {
				recordTelemetry(cache, recorder)
			}
		}
	}
}

func logStatus(supervisor *link.Supervisor, executor *mission.Executor, cache *telemetry.Cache) {
	status := supervisor.Status()

	event := logger.Debug().
		Str("link", status.State.String()).
		Str("flight_state", cache.FlightState().String())

	if status.HasHeartbeat {
		event = event.Dur("heartbeat_age", status.HeartbeatAge)
	}
	if status.Heartbeat != nil {
		event = event.
			Str("mode", status.Heartbeat.Mode()).
			Bool("armed", status.Heartbeat.Armed())
	}
	if status.Position != nil {
		event = event.
			Float64("lat", status.Position.Latitude()).
			Float64("lon", status.Position.Longitude()).
			Float64("rel_alt", status.Position.RelativeAltM()).
			Float64("speed", status.Position.GroundSpeedMS()).
			Uint8("satellites", status.Position.Satellites)
	}

	if state := executor.State(); state.Active {
		event = event.
			Str("mission_id", state.MissionID).
			Int("waypoint", state.CurrentWaypoint).
			Int("waypoints", state.TotalWaypoints)
	}

	event.Msg("")
}

func recordTelemetry(cache *telemetry.Cache, recorder *flightlog.Repository) {
	pos, ok := cache.Position()
	if !ok {
		return
	}

	sample := flightlog.Sample{
		Timestamp:   pos.Timestamp,
		Lat:         pos.Latitude(),
		Lon:         pos.Longitude(),
		Altitude:    pos.AltitudeM(),
		RelativeAlt: pos.RelativeAltM(),
		GroundSpeed: pos.GroundSpeedMS(),
		HDOP:        pos.HDOP,
		Satellites:  pos.Satellites,
		FixType:     pos.FixType,
		FlightState: cache.FlightState(),
	}
	if hb, ok := cache.Heartbeat(); ok {
		sample.Armed = hb.Armed()
		sample.Mode = hb.Mode()
	}

	if err := recorder.RecordTelemetry(sample); err != nil {
		logger.Error().Err(err).Msg("failed to record telemetry sample")
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("received termination signal")
	cancel()
}

func shutdown(executor *mission.Executor, monitor *safety.Monitor, supervisor *link.Supervisor, recorder *flightlog.Repository) {
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := executor.Stop(stopCtx); err != nil && errors.CodeOf(err) != mission.ErrNotExecuting {
		logger.Error().Err(err).Msg("failed to stop mission execution")
	}

	monitor.Stop()

	if err := supervisor.Disconnect(); err != nil {
		logger.Error().Err(err).Msg("failed to disconnect link")
	}

	if recorder != nil {
		if err := recorder.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close flight log")
		}
	}

	logger.Info().Msg("exiting")
}
