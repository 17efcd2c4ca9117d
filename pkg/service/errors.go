package service

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")
	// ErrTransition matches every *TransitionError via errors.Is.
	ErrTransition = errors.New("illegal status transition")
	// ErrDelivery matches every *DeliveryError via errors.Is.
	ErrDelivery = errors.New("delivery failed")
)

// ValidationError reports input that was rejected before anything was written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func newValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TransitionError reports a status change the state machine does not allow.
// The entity is left unchanged.
type TransitionError struct {
	Entity string // "task", "workflow", "notification"
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move %s from %s to %s: %s", e.Entity, e.From, e.To, e.Reason)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrTransition
}

// DeliveryError is a failure reported by the delivery service for one channel.
// It is recorded on the notification rather than returned to the caller.
type DeliveryError struct {
	Channel string
	Reason  string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery failed: %s", e.Channel, e.Reason)
}

func (e *DeliveryError) Is(target error) bool {
	return target == ErrDelivery
}
