// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"time"
)

// ErrSequenceNotFound is a sentinel error
type ErrSequenceNotFound struct {
	SequenceID int
}

func (e *ErrSequenceNotFound) Error() string {
	return fmt.Sprintf("sequence with ID %d not found", e.SequenceID)
}

// Helper constructor
func NewSequenceNotFound(id int) error {
	return &ErrSequenceNotFound{SequenceID: id}
}

// ErrExecutionNotFound is a sentinel error
type ErrExecutionNotFound struct {
	ExecutionID string
}

func (e *ErrExecutionNotFound) Error() string {
	return fmt.Sprintf("execution %s not found", e.ExecutionID)
}

func NewExecutionNotFound(id string) error {
	return &ErrExecutionNotFound{ExecutionID: id}
}

// ErrDuplicateEnrollment is returned when a non-terminal execution already
// exists for the (tenant, sequence, contact) triple.
type ErrDuplicateEnrollment struct {
	SequenceID int
	ContactID  int
}

func (e *ErrDuplicateEnrollment) Error() string {
	return fmt.Sprintf("contact %d already enrolled in sequence %d", e.ContactID, e.SequenceID)
}

// RateLimitedError is backpressure, not a failure: the caller must not send
// and must reschedule to RetryAt.
type RateLimitedError struct {
	Platform string
	Action   string
	RetryAt  time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s/%s until %s", e.Platform, e.Action, e.RetryAt.Format(time.RFC3339))
}

// TransientGatewayError covers timeouts and 5xx responses; retried with
// backoff up to the attempt cap.
type TransientGatewayError struct {
	Op  string
	Err error
}

func (e *TransientGatewayError) Error() string {
	return fmt.Sprintf("transient gateway error during %s: %v", e.Op, e.Err)
}

func (e *TransientGatewayError) Unwrap() error { return e.Err }

// PermanentGatewayError covers invalid recipients, disconnected accounts and
// other non-retryable rejections; terminal for the execution.
type PermanentGatewayError struct {
	Op     string
	Reason string
}

func (e *PermanentGatewayError) Error() string {
	return fmt.Sprintf("permanent gateway error during %s: %s", e.Op, e.Reason)
}

// ConfigurationError signals a setup defect (e.g. missing tenant account);
// terminal and logged loudly.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

func IsTransient(err error) bool {
	var t *TransientGatewayError
	return errors.As(err, &t)
}

func IsPermanent(err error) bool {
	var p *PermanentGatewayError
	return errors.As(err, &p)
}

func IsConfiguration(err error) bool {
	var c *ConfigurationError
	return errors.As(err, &c)
}
