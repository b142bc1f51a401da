// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrInstanceNotFound indicates a workflow instance was not found by the given identifier.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrInstanceAlreadyExists indicates an instance with the same identifier already exists.
	ErrInstanceAlreadyExists = errors.New("workflow instance already exists")

	// ErrSequenceConflict indicates a concurrent append to the same instance history.
	ErrSequenceConflict = errors.New("history sequence conflict")

	// ErrResultNotFound indicates no result row exists for the given keys.
	ErrResultNotFound = errors.New("result not found")
)

// InstanceError wraps instance and history errors with additional context.
type InstanceError struct {
	Op         string // Operation being performed (e.g., "Get", "Append")
	InstanceID string
	Err        error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("%s operation failed for instance %s: %v", e.Op, e.InstanceID, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

func (e *InstanceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewInstanceError creates a new instance error with context.
func NewInstanceError(op, instanceID string, err error) *InstanceError {
	return &InstanceError{
		Op:         op,
		InstanceID: instanceID,
		Err:        err,
	}
}

// ResultError wraps result store errors with the row identity.
type ResultError struct {
	Op           string
	PartitionKey string
	RowKey       string
	Err          error
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("%s operation failed for result %s/%s: %v", e.Op, e.PartitionKey, e.RowKey, e.Err)
}

func (e *ResultError) Unwrap() error {
	return e.Err
}

func (e *ResultError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewResultError creates a new result error with context.
func NewResultError(op, partitionKey, rowKey string, err error) *ResultError {
	return &ResultError{
		Op:           op,
		PartitionKey: partitionKey,
		RowKey:       rowKey,
		Err:          err,
	}
}

// IsInstanceNotFound checks if an error indicates an instance was not found.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsSequenceConflict checks if an error indicates a concurrent history append.
func IsSequenceConflict(err error) bool {
	return errors.Is(err, ErrSequenceConflict)
}

// IsResultNotFound checks if an error indicates a result row was not found.
func IsResultNotFound(err error) bool {
	return errors.Is(err, ErrResultNotFound)
}
