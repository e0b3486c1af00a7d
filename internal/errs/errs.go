package errs

import (
	"errors"
	"fmt"
)

// TimeoutMessage is the error_message recorded when the runner forces a job
// to failed because its wall-clock deadline elapsed. The exact string is part
// of the operator contract: it distinguishes "ran too long" from "broke".
const TimeoutMessage = "job exceeded execution timeout"

// ValidationError rejects a job config before anything is persisted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid job config: " + e.Reason }

func Validationf(format string, v ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, v...)}
}

// NotFoundError reports an unknown resource id.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found: %s", e.Resource, e.ID) }

func NotFound(resource, id string) error { return &NotFoundError{Resource: resource, ID: id} }

// AuthorizationError reports an action attempted by a caller who is neither
// the job creator nor an admin.
type AuthorizationError struct {
	Caller string
	Action string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("caller %q is not allowed to %s", e.Caller, e.Action)
}

// InvalidStateError reports an illegal lifecycle transition.
type InvalidStateError struct {
	Current   string
	Attempted string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("illegal transition from %s to %s", e.Current, e.Attempted)
}

// TransientFetchError marks a per-document or per-source failure that the
// pipeline absorbs locally. It never escalates to job failure on its own.
type TransientFetchError struct {
	Source string
	Err    error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// FatalPipelineError aborts the whole job and carries the short message
// surfaced to the user. Detailed diagnostics stay in the logs.
type FatalPipelineError struct {
	Message string
}

func (e *FatalPipelineError) Error() string { return e.Message }

func Fatalf(format string, v ...interface{}) error {
	return &FatalPipelineError{Message: fmt.Sprintf(format, v...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAuthorization reports whether err is an AuthorizationError.
func IsAuthorization(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}

// IsInvalidState reports whether err is an InvalidStateError.
func IsInvalidState(err error) bool {
	var se *InvalidStateError
	return errors.As(err, &se)
}

// IsFatal reports whether err is a FatalPipelineError.
func IsFatal(err error) bool {
	var fe *FatalPipelineError
	return errors.As(err, &fe)
}
