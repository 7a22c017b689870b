package task

import (
	"fmt"
	"io/fs"
)

// NotFoundError reports a task path that does not exist.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task file not found: %s", e.Path)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// Is lets callers match with errors.Is(err, fs.ErrNotExist).
func (e *NotFoundError) Is(target error) bool { return target == fs.ErrNotExist }

// ParseError reports task content that is not a structured record.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse task %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError reports a task that parsed but cannot be dispatched.
type ValidationError struct {
	Field  string
	Reason string
	// Output holds diagnostics from an external validator, if one ran.
	Output string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid task: %s", e.Reason)
	}
	return fmt.Sprintf("invalid task: %s: %s", e.Field, e.Reason)
}
