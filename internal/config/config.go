package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/fieldrobotics/agroctl/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "info"

	defaultConnection       = "/dev/ttyUSB0"
	defaultBaudRate         = 57600
	defaultConnectTimeout   = 10
	defaultHeartbeatTimeout = 5
	defaultMinSatellites    = 6
	defaultMaxHDOP          = 2.0
	defaultMaxAltitude      = 120.0
	defaultMaxSpeed         = 5.0
	defaultGeofenceRadius   = 100.0
	defaultModeSettle       = 0.5
	defaultArmSettle        = 1.0
	defaultWaypointHold     = 10.0
	defaultMaxWaypoints     = 100
	defaultHistoryLimit     = 50
	defaultFlightLogDB      = "/var/lib/agroctl/flightlog.db"
)

// Config holds the full daemon configuration. Values load from
// agroctl.toml, AGROCTL_* environment variables and command line flags,
// in increasing order of precedence.
type Config struct {
	// Link
	Connection       string `mapstructure:"connection"`
	BaudRate         int    `mapstructure:"baud_rate"`
	ConnectTimeout   int    `mapstructure:"connect_timeout"`   // seconds
	HeartbeatTimeout int    `mapstructure:"heartbeat_timeout"` // seconds
	AutoConnect      bool   `mapstructure:"auto_connect"`
	SystemID         int    `mapstructure:"system_id"`
	ComponentID      int    `mapstructure:"component_id"`

	// Safety limits
	MinSatellites   int     `mapstructure:"min_satellites"`
	MaxHDOP         float64 `mapstructure:"max_hdop"`
	MaxAltitude     float64 `mapstructure:"max_altitude"` // meters
	MaxSpeed        float64 `mapstructure:"max_speed"`    // m/s
	GeofenceEnabled bool    `mapstructure:"geofence_enabled"`
	GeofenceLat     float64 `mapstructure:"geofence_lat"`
	GeofenceLon     float64 `mapstructure:"geofence_lon"`
	GeofenceRadius  float64 `mapstructure:"geofence_radius"` // meters

	// Mission
	ModeSettle   float64 `mapstructure:"mode_settle"`   // seconds
	ArmSettle    float64 `mapstructure:"arm_settle"`    // seconds
	WaypointHold float64 `mapstructure:"waypoint_hold"` // seconds
	MaxWaypoints int     `mapstructure:"max_waypoints"`
	MissionFile  string  `mapstructure:"mission_file"`

	// Dispatcher
	HistoryLimit int `mapstructure:"history_limit"`

	// Flight log
	FlightLog   bool   `mapstructure:"flight_log"`
	FlightLogDB string `mapstructure:"flight_log_db"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from defaults, file, environment and the
// given command line arguments. Call with os.Args[1:] from main.
func Load(args []string) (*Config, error) {
	errFactory := errors.New()

	flags := pflag.NewFlagSet("agroctl", pflag.ContinueOnError)
	flags.String("connection", defaultConnection, "Flight controller connection (serial device, tcp:host:port or udp:host:port)")
	flags.Int("baud-rate", defaultBaudRate, "Serial baud rate")
	flags.String("log-level", DefaultLogLevel, "Log level (debug, info, warn, error)")
	flags.String("mission-file", "", "Mission plan to execute after connecting")
	flags.Bool("auto-connect", true, "Connect to the flight controller on startup")
	if err := flags.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("agroctl")
	v.SetConfigType("toml")
	v.AddConfigPath("/etc")
	v.AddConfigPath(".")
	if path := os.Getenv("AGROCTL_CONFIG"); path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("AGROCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	// Flags the user actually set override file and environment values.
	flags.Visit(func(f *pflag.Flag) {
		v.Set(strings.ReplaceAll(f.Name, "-", "_"), f.Value.String())
	})

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("connection", defaultConnection)
	v.SetDefault("baud_rate", defaultBaudRate)
	v.SetDefault("connect_timeout", defaultConnectTimeout)
	v.SetDefault("heartbeat_timeout", defaultHeartbeatTimeout)
	v.SetDefault("auto_connect", true)
	v.SetDefault("system_id", 255)
	v.SetDefault("component_id", 190)
	v.SetDefault("min_satellites", defaultMinSatellites)
	v.SetDefault("max_hdop", defaultMaxHDOP)
	v.SetDefault("max_altitude", defaultMaxAltitude)
	v.SetDefault("max_speed", defaultMaxSpeed)
	v.SetDefault("geofence_enabled", true)
	v.SetDefault("geofence_lat", 0.0)
	v.SetDefault("geofence_lon", 0.0)
	v.SetDefault("geofence_radius", defaultGeofenceRadius)
	v.SetDefault("mode_settle", defaultModeSettle)
	v.SetDefault("arm_settle", defaultArmSettle)
	v.SetDefault("waypoint_hold", defaultWaypointHold)
	v.SetDefault("max_waypoints", defaultMaxWaypoints)
	v.SetDefault("mission_file", "")
	v.SetDefault("history_limit", defaultHistoryLimit)
	v.SetDefault("flight_log", false)
	v.SetDefault("flight_log_db", defaultFlightLogDB)
	v.SetDefault("log_level", DefaultLogLevel)
}

// Validate checks the loaded configuration for values the daemon cannot
// safely run with.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Connection == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "connection cannot be empty")
	}
	if !hasConnectionPrefix(c.Connection) {
		return errFactory.WithData(errors.ErrInvalidConfig, c.Connection)
	}
	if c.ConnectTimeout <= 0 || c.HeartbeatTimeout <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "timeouts must be positive")
	}
	if c.GeofenceEnabled && c.GeofenceRadius <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "geofence radius must be positive")
	}
	if c.MaxWaypoints <= 0 || c.HistoryLimit <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "limits must be positive")
	}
	if !validLogLevel(c.LogLevel) {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	return nil
}

func hasConnectionPrefix(conn string) bool {
	for _, prefix := range []string{"/dev/", "serial:", "tcp:", "udp:"} {
		if strings.HasPrefix(conn, prefix) {
			return true
		}
	}

	return false
}

func validLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}

// Duration helpers for the settle intervals, which are configured in
// fractional seconds.

func (c *Config) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

func (c *Config) HeartbeatTimeoutDuration() time.Duration {
	return time.Duration(c.HeartbeatTimeout) * time.Second
}

func (c *Config) ModeSettleDuration() time.Duration {
	return time.Duration(c.ModeSettle * float64(time.Second))
}

func (c *Config) ArmSettleDuration() time.Duration {
	return time.Duration(c.ArmSettle * float64(time.Second))
}

func (c *Config) WaypointHoldDuration() time.Duration {
	return time.Duration(c.WaypointHold * float64(time.Second))
}
