package domain

import (
	"errors"
	"fmt"
)

// DefinitionNotFoundError reports a calculation or report reference that does not resolve.
type DefinitionNotFoundError struct {
	Kind string
	Key  string
}

func (e *DefinitionNotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Key)
}

// InvalidCalculationError is raised while constructing a calculation, never by the compiler.
type InvalidCalculationError struct {
	Name   string
	Reason string
}

func (e *InvalidCalculationError) Error() string {
	if e.Name == "" {
		return "invalid calculation: " + e.Reason
	}
	return fmt.Sprintf("invalid calculation %q: %s", e.Name, e.Reason)
}

// InvalidFilterError is raised while constructing filter criteria.
type InvalidFilterError struct {
	Reason string
}

func (e *InvalidFilterError) Error() string {
	return "invalid filter: " + e.Reason
}

// CompilationError marks a violated compiler invariant. It indicates a programming
// error in the caller and is never retried.
type CompilationError struct {
	Reason string
}

func (e *CompilationError) Error() string {
	return "compile report query: " + e.Reason
}

// ExecutionError wraps a database failure raised while running a compiled statement.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute report query: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// ErrExecutionInProgress is returned when the same report and cycle is already running.
var ErrExecutionInProgress = errors.New("report execution already in progress")

// IsNotFound reports whether err carries a DefinitionNotFoundError.
func IsNotFound(err error) bool {
	var target *DefinitionNotFoundError
	return errors.As(err, &target)
}
