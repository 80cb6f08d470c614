package link

import "codeberg.org/fieldrobotics/agroctl/internal/errors"

const (
	// Lifecycle errors
	ErrNotConnected    = errors.ErrorCode("link_not_connected")
	ErrConnectInFlight = errors.ErrorCode("link_connect_in_flight")

	// Protocol errors
	ErrHeartbeatTimeout = errors.ErrorCode("link_heartbeat_timeout")
)
