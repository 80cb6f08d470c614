package flightlog

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"codeberg.org/fieldrobotics/agroctl/internal/errors"
	"codeberg.org/fieldrobotics/agroctl/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS commands (
	       sequence     INTEGER PRIMARY KEY,
	       timestamp    INTEGER NOT NULL,
	       command_id   INTEGER NOT NULL,
	       name         TEXT NOT NULL,
	       outcome      TEXT NOT NULL,
	       message      TEXT NOT NULL DEFAULT '',
	       duration_us  INTEGER NOT NULL,
	       p1 REAL NOT NULL, p2 REAL NOT NULL, p3 REAL NOT NULL, p4 REAL NOT NULL,
	       p5 REAL NOT NULL, p6 REAL NOT NULL, p7 REAL NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS telemetry (
	       timestamp    INTEGER PRIMARY KEY,
	       lat          REAL NOT NULL,
	       lon          REAL NOT NULL,
	       altitude     REAL NOT NULL,
	       relative_alt REAL NOT NULL,
	       ground_speed REAL NOT NULL,
	       hdop         REAL NOT NULL,
	       satellites   INTEGER NOT NULL,
	       fix_type     INTEGER NOT NULL,
	       armed        INTEGER NOT NULL CHECK (armed IN (0, 1)),
	       mode         TEXT NOT NULL,
	       flight_state TEXT NOT NULL
	   );`

	insertCommandSQL = `
    INSERT INTO commands (
        sequence, timestamp, command_id, name, outcome, message, duration_us,
        p1, p2, p3, p4, p5, p6, p7
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertTelemetrySQL = `
    INSERT OR REPLACE INTO telemetry (
        timestamp, lat, lon, altitude, relative_alt, ground_speed,
        hdop, satellites, fix_type, armed, mode, flight_state
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// InitSchema creates the flight log schema at the current version.
func InitSchema(db *sql.DB) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logger.Debug().Err(err).Msg("failed to roll back schema transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	logger.Info().Int("version", SchemaVersion).Msg("flight log schema initialized")

	return nil
}

// GetSchemaVersion returns the stored schema version, 0 for a fresh
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := tableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	return version, nil
}

func tableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().Wrap(ErrSchemaValidationFailed, err)
	}

	return exists, nil
}

// validateAndUpdateSchema recreates the schema when the stored version
// differs from the current one. An existing database is backed up next
// to itself before its tables are dropped.
func validateAndUpdateSchema(db *sql.DB, dbPath string) error {
	errFactory := errors.New()

	version, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}
	if version == SchemaVersion {
		logger.Debug().Int("version", version).Msg("flight log schema is current")
		return nil
	}

	if version != 0 {
		stamp := time.Now().UTC().Format("20060102T150405Z")
		backupPath := filepath.Join(filepath.Dir(dbPath),
			fmt.Sprintf("flightlog_v%d_%s.db", version, stamp))

		// VACUUM INTO requires no active transaction.
		if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", backupPath)); err != nil {
			return errFactory.Wrap(ErrSchemaMigrationFailed, err)
		}
		logger.Info().Str("path", backupPath).Int("version", version).Msg("flight log backup created")

		if err := dropTables(db); err != nil {
			return err
		}
	}

	return InitSchema(db)
}

func dropTables(db *sql.DB) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logger.Debug().Err(err).Msg("failed to roll back drop tables")
			}
		}
	}()

	for _, table := range []string{"commands", "telemetry", "schema_versions"} {
		if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return errFactory.Wrap(ErrSchemaMigrationFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}
	committed = true

	return nil
}
