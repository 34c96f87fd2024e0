package models

import (
	"errors"
	"fmt"
)

// Kind closes the error taxonomy of spec.md §7, mapped to HTTP status by
// pkg/api's apierr layer.
type Kind int

const (
	KindNotFound Kind = iota
	KindConflict
	KindInvalid
	KindTransient
	KindFatal
)

// Error wraps an underlying cause with a taxonomy Kind and a component tag,
// the same role pkg/config/errors.go's ValidationError/LoadError play in
// the teacher: fmt.Errorf-wrapped, matched with errors.As.
type Error struct {
	Kind      Kind
	Component string
	ID        string
	Err       error
}

func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %v", e.Component, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Component, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NotFound(component, id string, err error) *Error {
	return &Error{Kind: KindNotFound, Component: component, ID: id, Err: err}
}

func Conflict(component, id string, err error) *Error {
	return &Error{Kind: KindConflict, Component: component, ID: id, Err: err}
}

func Invalid(component, id string, err error) *Error {
	return &Error{Kind: KindInvalid, Component: component, ID: id, Err: err}
}

func Transient(component, id string, err error) *Error {
	return &Error{Kind: KindTransient, Component: component, ID: id, Err: err}
}

func Fatal(component, id string, err error) *Error {
	return &Error{Kind: KindFatal, Component: component, ID: id, Err: err}
}

// KindOf extracts the taxonomy Kind from err, defaulting to KindFatal when
// err does not carry one (an unclassified error is treated as the least
// forgiving case, never silently surfaced as a 200).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// Sentinel errors referenced by component-specific wrapping above.
var (
	ErrCycleDetected       = errors.New("depends_on graph would contain a cycle")
	ErrCrossOutcomeDep     = errors.New("task dependency references a task in a different outcome")
	ErrClaimConflict       = errors.New("another worker claimed the task first")
	ErrNoTaskReady         = errors.New("no ready task for this outcome")
	ErrParallelNotAllowed  = errors.New("a running worker already exists for this outcome and parallel=false")
	ErrJobAlreadyQueued    = errors.New("a job for this (outcome_id, job_type) is already pending or running")
	ErrEscalationAnswered  = errors.New("escalation is not pending")
)
