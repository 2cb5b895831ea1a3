package tree

import (
	"errors"
	"fmt"

	"github.com/roach88/resgraph/internal/ir"
)

// StateUpdateErrorCode categorizes rejected patches.
type StateUpdateErrorCode string

const (
	// ErrCodeInvalidTransition indicates a disallowed resource state transition.
	ErrCodeInvalidTransition StateUpdateErrorCode = "INVALID_TRANSITION"

	// ErrCodeOrphanResource indicates a referenced id with no resource in the
	// store or the patch.
	ErrCodeOrphanResource StateUpdateErrorCode = "ORPHAN_RESOURCE"

	// ErrCodeOrphanInput indicates a patched resource that is absent from the
	// store after the patch was applied.
	ErrCodeOrphanInput StateUpdateErrorCode = "ORPHAN_INPUT"
)

// StateUpdateError is returned by UpdateFromResourceData when a patch
// violates a store invariant. The store is permanently invalid afterwards.
type StateUpdateError struct {
	Code       StateUpdateErrorCode
	ResourceID ir.ResourceID
	Reason     string

	// Before and After are canonical JSON snapshots of the resource state
	// (fields omitted). Before is empty for resources not yet in the store.
	Before string
	After  string
}

// Error implements the error interface.
func (e *StateUpdateError) Error() string {
	switch e.Code {
	case ErrCodeInvalidTransition:
		return fmt.Sprintf("%s: unexpected resource state transition (%s): %s -> %s",
			e.Code, e.Reason, e.Before, e.After)
	default:
		return fmt.Sprintf("%s: %s %s", e.Code, e.Reason, e.ResourceID)
	}
}

func newTransitionError(reason string, before *ir.BasicResourceData, after ir.BasicResourceData) *StateUpdateError {
	e := &StateUpdateError{
		Code:       ErrCodeInvalidTransition,
		ResourceID: after.ID,
		Reason:     reason,
		After:      after.Describe(),
	}
	if before != nil {
		e.Before = before.Describe()
	} else {
		e.Before = "{}"
	}
	return e
}

func newOrphanError(code StateUpdateErrorCode, id ir.ResourceID) *StateUpdateError {
	reason := "orphan resource"
	if code == ErrCodeOrphanInput {
		reason = "orphan input resource"
	}
	return &StateUpdateError{Code: code, ResourceID: id, Reason: reason}
}

// InvalidTreeError is returned by every read and write on a store that has
// been invalidated.
type InvalidTreeError struct {
	Root    ir.ResourceID
	Message string
}

// Error implements the error interface.
func (e *InvalidTreeError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tree %s is in invalid state", e.Root)
	}
	return fmt.Sprintf("tree %s is in invalid state: %s", e.Root, e.Message)
}

// IsInvalidTree reports whether err means the store is permanently invalid,
// either because it was already invalid or because the failing update
// invalidated it. Uses errors.As to handle wrapped errors.
func IsInvalidTree(err error) bool {
	var ie *InvalidTreeError
	if errors.As(err, &ie) {
		return true
	}
	var se *StateUpdateError
	return errors.As(err, &se)
}

// IsStateUpdateError reports whether err is a rejected patch.
func IsStateUpdateError(err error) bool {
	var se *StateUpdateError
	return errors.As(err, &se)
}

// TraversalErrorCode categorizes accessor assertion failures.
type TraversalErrorCode string

const (
	ErrCodeFieldNotFound        TraversalErrorCode = "FIELD_NOT_FOUND"
	ErrCodeFieldTypeMismatch    TraversalErrorCode = "FIELD_TYPE_MISMATCH"
	ErrCodeFieldNotSet          TraversalErrorCode = "FIELD_NOT_SET"
	ErrCodeResourceNotFound     TraversalErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeResourceTypeMismatch TraversalErrorCode = "RESOURCE_TYPE_MISMATCH"
)

// TraversalError is a caller-requested assertion that did not hold. It is
// local to one accessor call and does not affect store validity.
type TraversalError struct {
	Code       TraversalErrorCode
	ResourceID ir.ResourceID
	Field      string
	Message    string
}

// Error implements the error interface.
func (e *TraversalError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (resource=%s, field=%s)", e.Code, e.Message, e.ResourceID, e.Field)
	}
	return fmt.Sprintf("%s: %s (resource=%s)", e.Code, e.Message, e.ResourceID)
}

// IsTraversalError reports whether err is an accessor assertion failure
// with the given code.
func IsTraversalError(err error, code TraversalErrorCode) bool {
	var te *TraversalError
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}

// ResourceError carries an error resource reached while resolving a node or
// traversing a field. Message is the error resource payload.
type ResourceError struct {
	// ErrorID is the id of the error resource.
	ErrorID ir.ResourceID

	// Source is the resource the error is attached to, Field is set when
	// the error was attached to a field of Source.
	Source ir.ResourceID
	Field  string

	Message string
}

// Error implements the error interface.
func (e *ResourceError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("error in field %q of %s: %s", e.Field, e.Source, e.Message)
	}
	return fmt.Sprintf("error in %s: %s", e.Source, e.Message)
}
