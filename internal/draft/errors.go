package draft

import (
	"errors"
	"fmt"
)

// ErrGenerationInFlight rejects a generation request while another pipeline
// call is outstanding. The caller observes a refusal; no backend call is made.
var ErrGenerationInFlight = errors.New("draft: generation already in flight")

// ValidationError is a locally detected precondition failure. It never
// reaches the text-generation backend and leaves all state unchanged.
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("draft: validation failed: %s", e.Reason)
}

// BackendError wraps a network or backend failure during a pipeline call.
type BackendError struct {
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("draft: backend call failed: %v", e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// ParseError indicates the backend responded but its structured output did
// not match the expected schema. The draft is never updated with partially
// typed data.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("draft: malformed backend output: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// PersistenceError marks a corrupt or unreadable durable snapshot. It is an
// expected, benign condition on fresh or foreign storage: logged, never
// surfaced to the author.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("draft: unreadable persisted snapshot: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ServiceError carries an operation.reason code alongside the cause so API
// handlers can surface stable identifiers.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
