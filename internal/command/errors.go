package command

import "codeberg.org/fieldrobotics/agroctl/internal/errors"

const (
	ErrUnknownMode     = errors.ErrorCode("command_unknown_mode")
	ErrDispatchFailed  = errors.ErrorCode("command_dispatch_failed")
	ErrLinkUnavailable = errors.ErrorCode("command_link_unavailable")
)
