package flightlog

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"codeberg.org/fieldrobotics/agroctl/internal/command"
	"codeberg.org/fieldrobotics/agroctl/internal/errors"
	"codeberg.org/fieldrobotics/agroctl/internal/logger"
	"codeberg.org/fieldrobotics/agroctl/internal/telemetry"
)

// Sample is one telemetry row in the flight log.
type Sample struct {
	Timestamp   time.Time
	Lat         float64
	Lon         float64
	Altitude    float64
	RelativeAlt float64
	GroundSpeed float64
	HDOP        float64
	Satellites  uint8
	FixType     uint8
	Armed       bool
	Mode        string
	FlightState telemetry.FlightState
}

// Repository persists the flight record in sqlite. Command results are
// written immediately so the audit trail survives a crash; telemetry
// samples are buffered and flushed in batches. It satisfies
// command.Recorder.
type Repository struct {
	db  *sql.DB
	cfg Config

	mu     sync.Mutex
	buffer []Sample

	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
}

var _ command.Recorder = (*Repository)(nil)

func NewRepository(cfg Config) (*Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if err := validateAndUpdateSchema(db, cfg.DBPath); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushSeconds <= 0 {
		cfg.FlushSeconds = defaultFlushSeconds
	}

	repo := &Repository{
		db:            db,
		cfg:           cfg,
		buffer:        make([]Sample, 0, cfg.BatchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
		flushTicker:   time.NewTicker(time.Duration(cfg.FlushSeconds) * time.Second),
	}
	go repo.flusher()

	logger.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Msg("flight log initialized")

	return repo, nil
}

// RecordCommand writes one dispatched command result synchronously.
func (r *Repository) RecordCommand(res command.Result) error {
	_, err := r.db.Exec(insertCommandSQL,
		int64(res.Sequence),
		res.Timestamp.UnixMilli(),
		int64(res.CommandID),
		res.Name,
		res.Outcome.String(),
		res.Message,
		res.Duration.Microseconds(),
		res.Params[0], res.Params[1], res.Params[2], res.Params[3],
		res.Params[4], res.Params[5], res.Params[6],
	)
	if err != nil {
		return errors.New().Wrap(ErrTransactionFailed, err)
	}

	return nil
}

// RecordTelemetry buffers one sample; a full buffer flushes inline.
func (r *Repository) RecordTelemetry(sample Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, sample)
	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

// Close flushes the remaining buffer, checkpoints the WAL and closes
// the database.
func (r *Repository) Close() error {
	close(r.shutdownChan)
	r.flushTicker.Stop()
	<-r.flushDoneChan

	errFactory := errors.New()

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}
	if err := r.db.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}

	logger.Info().Msg("flight log closed")

	return nil
}

func (r *Repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				logger.Error().Err(err).Msg("failed to flush telemetry batch")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				logger.Error().Err(err).Msg("failed to flush telemetry batch on shutdown")
			}
			r.mu.Unlock()
			return
		}
	}
}

// flush writes the buffered samples in one transaction. Callers hold
// the mutex.
func (r *Repository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertTelemetrySQL)
	if err != nil {
		if err := tx.Rollback(); err != nil {
			logger.Error().Err(err).Msg("failed to roll back telemetry batch")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, s := range r.buffer {
		if _, err := stmt.Exec(
			s.Timestamp.UnixMilli(),
			s.Lat, s.Lon, s.Altitude, s.RelativeAlt, s.GroundSpeed,
			s.HDOP, int64(s.Satellites), int64(s.FixType),
			int64(boolToInt(s.Armed)), s.Mode, s.FlightState.String(),
		); err != nil {
			if err := tx.Rollback(); err != nil {
				logger.Error().Err(err).Msg("failed to roll back telemetry batch")
			}
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	logger.Debug().Int("samples", len(r.buffer)).Msg("flushed telemetry batch")
	r.buffer = r.buffer[:0]

	return nil
}
