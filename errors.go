package stagequeue

import "errors"

var (
	// ErrUnknownStage is returned for a Stage outside the closed stage set
	ErrUnknownStage = errors.New("unknown stage")

	// ErrAlreadyEvaluated is returned when a project is configured, hooked or
	// evaluated after its evaluation finished
	ErrAlreadyEvaluated = errors.New("project is already evaluated")

	// ErrEvaluating is returned when a project is configured or evaluated
	// again while it is evaluating
	ErrEvaluating = errors.New("project is already being evaluated")

	// ErrResidualActions is the panic value when a drain leaves actions behind
	ErrResidualActions = errors.New("staged queue expected all queues to be empty after processing")

	// ErrQueueAborted is returned by ScheduleAt when the project finished
	// evaluating without draining the requested stage, so the action could
	// never run
	ErrQueueAborted = errors.New("staged queue aborted before reaching stage")

	// ErrUnknownPlugin is returned when applying an unregistered plugin id
	ErrUnknownPlugin = errors.New("plugin is not registered")

	// ErrNilAction is the panic value when a nil action is scheduled
	ErrNilAction = errors.New("action cannot be nil")

	// ErrQueueTypeMismatch is the panic value when the queue extension holds
	// another type
	ErrQueueTypeMismatch = errors.New("evaluation queue extension has an unexpected type")
)
