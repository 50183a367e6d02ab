// Package apperrors defines the error taxonomy shared by the pin, leaderboard,
// and transport layers.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthenticated indicates the request carried no resolvable principal.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrConflict indicates the request collided with existing state.
	ErrConflict = errors.New("conflict")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// NewValidationError constructs a ValidationError for the given field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// NewNotFoundError constructs a NotFoundError.
func NewNotFoundError(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// RateLimitedError reports a denied admission along with the wait until
// capacity frees up.
type RateLimitedError struct {
	RetryAfter time.Duration
	Limit      int
	Window     time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("Rate limit exceeded. Maximum %d pins allowed per %d minutes.",
		e.Limit, int(e.Window/time.Minute))
}

// RetryAfterSeconds rounds the retry hint up to whole seconds.
func (e *RateLimitedError) RetryAfterSeconds() int64 {
	seconds := int64(e.RetryAfter / time.Second)
	if e.RetryAfter%time.Second != 0 {
		seconds++
	}
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}
