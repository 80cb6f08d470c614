package flightlog

import "codeberg.org/fieldrobotics/agroctl/internal/errors"

const (
	// Configuration errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("flightlog_invalid_db_path")

	// Schema errors
	ErrSchemaInitFailed       = errors.ErrorCode("flightlog_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("flightlog_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("flightlog_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("flightlog_transaction_failed")

	// Storage errors
	ErrStorageInit  = errors.ErrInitFailed
	ErrStorageClose = errors.ErrShutdownFailed
)
