package errors

import "errors"

var (
	ErrDuplicateLogicalID = errors.New("logical id already declared")
	ErrUnknownLogicalID   = errors.New("logical id not declared")
	ErrInvalidSchedule    = errors.New("invalid schedule expression")
	ErrInvalidOptions     = errors.New("invalid task options")
	ErrStackNotFound      = errors.New("stack not found")
	ErrChangeSetFailed    = errors.New("change set failed")
	ErrTemplateTooLarge   = errors.New("template exceeds inline size limit and no template bucket is configured")
	ErrImageNotFound      = errors.New("image tag not found in repository")
	ErrPolicyViolation    = errors.New("template violates policy")
	ErrLockHeld           = errors.New("deploy lock held by another apply")
	ErrTaskNotFound       = errors.New("task not found in project")
)
