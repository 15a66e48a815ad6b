package graph

import "github.com/BaSui01/depflow/types"

// Sentinel errors. They match any error with the same code under errors.Is,
// so callers can test for a kind while the returned error names the tasks.
var (
	ErrDuplicateTask              = types.NewError(types.ErrDuplicateTask, "task already exists")
	ErrTaskNotFound               = types.NewError(types.ErrTaskNotFound, "task not found")
	ErrSelfLoop                   = types.NewError(types.ErrSelfLoop, "a task cannot depend on itself")
	ErrCycleDetected              = types.NewError(types.ErrCycleDetected, "dependency would create a cycle")
	ErrDependencyNotFound         = types.NewError(types.ErrDependencyNotFound, "dependency not found")
	ErrDependencyExists           = types.NewError(types.ErrDependencyExists, "dependency already exists")
	ErrMaxRelatedProjectsExceeded = types.NewError(types.ErrMaxRelatedProjectsExceeded, "too many related projects")
	ErrProjectConflict            = types.NewError(types.ErrProjectConflict, "project is already the primary project")
	ErrProjectNotAssociated       = types.NewError(types.ErrProjectNotAssociated, "project is not associated with the task")
	ErrTaskHasDependencies        = types.NewError(types.ErrTaskHasDependencies, "task still has dependencies")
	ErrStoreUnavailable           = types.NewError(types.ErrStoreUnavailable, "store unavailable")
	ErrCorruptState               = types.NewError(types.ErrCorruptState, "persisted graph is inconsistent")
)

func errTaskNotFound(id string) error {
	return types.Errorf(types.ErrTaskNotFound, "task %q not found", id)
}

func errInvalid(format string, args ...any) error {
	return types.Errorf(types.ErrInvalidRequest, format, args...)
}

func errCorrupt(format string, args ...any) *types.Error {
	return types.Errorf(types.ErrCorruptState, format, args...)
}
