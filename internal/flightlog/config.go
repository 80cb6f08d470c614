package flightlog

import "codeberg.org/fieldrobotics/agroctl/internal/errors"

const (
	defaultDirPerm = 0o755
	defaultDBPath  = "/var/lib/agroctl/flightlog.db"

	defaultBatchSize    = 32
	defaultFlushSeconds = 5
)

type Config struct {
	DBPath       string
	BatchSize    int
	FlushSeconds int
	Enabled      bool
}

func DefaultConfig() Config {
	return Config{
		DBPath:       defaultDBPath,
		BatchSize:    defaultBatchSize,
		FlushSeconds: defaultFlushSeconds,
		Enabled:      false,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 0 || c.FlushSeconds < 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "batch size and flush interval must not be negative")
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
