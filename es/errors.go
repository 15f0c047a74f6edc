package es

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingStreamID indicates an operation was called without a stream id.
	ErrMissingStreamID = errors.New("stream_id is a required value")

	// ErrNoEvents indicates an attempt to commit a changeset without events.
	ErrNoEvents = errors.New("no events to commit")

	// ErrVersionConflict indicates the stream's last changeset id did not match the expected one.
	ErrVersionConflict = errors.New("version conflict")

	// ErrStreamNotFound indicates the stream has never been committed to.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrInvalidRange indicates a range whose lower bound is above its upper bound.
	ErrInvalidRange = errors.New("invalid range")

	// ErrInvalidFilterType indicates a range bound that is not an integer.
	ErrInvalidFilterType = errors.New("filtering params have to be integer values")

	// ErrStorageUnavailable indicates the storage layer kept failing after all retries.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// VersionConflictError carries the expected and actual last changeset id of a rejected append.
// Actual is 0 when the stream has no changesets.
type VersionConflictError struct {
	StreamID string
	Expected int64
	Actual   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on stream %q: expected changeset %d, actual %d", e.StreamID, e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrVersionConflict) match.
func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// InvalidRangeError is returned when From > To.
type InvalidRangeError struct {
	From int64
	To   int64
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("the higher boundary cannot be lower than the lower boundary: %d(from) > %d(to)", e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidRange) match.
func (e *InvalidRangeError) Is(target error) bool {
	return target == ErrInvalidRange
}

// ValidateRange checks that both bounds, when present, satisfy from <= to.
func ValidateRange(from, to *int64) error {
	if from != nil && to != nil && *from > *to {
		return &InvalidRangeError{From: *from, To: *to}
	}
	return nil
}

// IsClientError reports whether err is a validation failure the caller must correct.
// These are detected before any write and never retried.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMissingStreamID) ||
		errors.Is(err, ErrNoEvents) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidFilterType)
}

// IsConflict reports whether err is a version conflict. The caller may re-read and retry.
func IsConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
