package channel_archiver

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrProvider         = errors.New("provider error")
	ErrTranscode        = errors.New("transcode failed")
	ErrTranscodeTimeout = errors.New("transcode timed out")
	ErrConflict         = errors.New("conflict")
	ErrPersistence      = errors.New("persistence failed")
)

// ValidationError reports a schema violation in a record or in the persisted document.
type ValidationError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s: %s", e.Entity, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s: %s", e.Entity, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("no matching %s", e.Entity)
	}
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

type ProviderErrorKind string

const (
	ProviderErrorRestricted  ProviderErrorKind = "restricted"
	ProviderErrorInvalid     ProviderErrorKind = "invalid"
	ProviderErrorUnavailable ProviderErrorKind = "unavailable"
	ProviderErrorNetwork     ProviderErrorKind = "network"
)

// ProviderError is a classified failure reported by a MediaProvider.
type ProviderError struct {
	Kind ProviderErrorKind
	Op   string
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

// TranscodeError wraps a transcoder failure. A timeout is a TranscodeError whose Err is ErrTranscodeTimeout or
// context.DeadlineExceeded, and matches ErrTranscodeTimeout either way.
type TranscodeError struct {
	Output string
	Err    error
}

func (e *TranscodeError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("transcode: %v", e.Err)
	}
	return fmt.Sprintf("transcode: %v: %s", e.Err, e.Output)
}

func (e *TranscodeError) Unwrap() error {
	return e.Err
}

func (e *TranscodeError) Is(target error) bool {
	switch target {
	case ErrTranscode:
		return true
	case ErrTranscodeTimeout:
		return errors.Is(e.Err, context.DeadlineExceeded)
	default:
		return false
	}
}

// ConflictError is returned when an operation is refused because of a record's current state.
type ConflictError struct {
	UUID   string
	Reason string
}

func (e *ConflictError) Error() string {
	return e.Reason
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
