package mission

import "codeberg.org/fieldrobotics/agroctl/internal/errors"

const (
	ErrInvalidPlan      = errors.ErrorCode("mission_invalid_plan")
	ErrPlanNotFound     = errors.ErrorCode("mission_plan_not_found")
	ErrAlreadyExecuting = errors.ErrorCode("mission_already_executing")
	ErrNotExecuting     = errors.ErrorCode("mission_not_executing")
	ErrPlanRejected     = errors.ErrorCode("mission_plan_rejected")
	ErrPlanLoadFailed   = errors.ErrorCode("mission_plan_load_failed")
)
