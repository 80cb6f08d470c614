package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"
	ErrConflict        ErrorCode = "conflict"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrMissingConfig   ErrorCode = "missing_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Transport errors
	ErrTransportOpen  ErrorCode = "transport_open_failed"
	ErrTransportRead  ErrorCode = "transport_read_failed"
	ErrTransportWrite ErrorCode = "transport_write_failed"
	ErrTransportClose ErrorCode = "transport_close_failed"

	// Protocol errors
	ErrProtocolTimeout ErrorCode = "protocol_timeout"
	ErrBadFrame        ErrorCode = "malformed_frame"

	// Safety errors
	ErrSafetyViolation ErrorCode = "safety_violation"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Operation errors
	ErrOperationFailed  ErrorCode = "operation_failed"
	ErrTimeout          ErrorCode = "operation_timeout"
	ErrInvalidOperation ErrorCode = "invalid_operation"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:         "Internal error occurred",
	ErrInvalidArgument:  "Invalid argument provided",
	ErrUnavailable:      "Service unavailable",
	ErrConflict:         "Operation conflicts with current state",
	ErrInvalidConfig:    "Invalid configuration",
	ErrMissingConfig:    "Missing configuration",
	ErrBindFlags:        "Failed to bind flags",
	ErrReadConfig:       "Failed to read configuration",
	ErrInvalidLogLevel:  "Invalid log level",
	ErrTransportOpen:    "Failed to open transport",
	ErrTransportRead:    "Failed to read from transport",
	ErrTransportWrite:   "Failed to write to transport",
	ErrTransportClose:   "Failed to close transport",
	ErrProtocolTimeout:  "Protocol timed out",
	ErrBadFrame:         "Malformed protocol frame",
	ErrSafetyViolation:  "Safety check denied the operation",
	ErrInitFailed:       "Initialization failed",
	ErrShutdownFailed:   "Shutdown failed",
	ErrOperationFailed:  "Operation failed",
	ErrTimeout:          "Operation timed out",
	ErrInvalidOperation: "Invalid operation",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
