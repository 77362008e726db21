// Package apperror defines the error taxonomy of the signing engine.
//
// Every error carries a Kind, which the delivery layer maps onto an HTTP
// status, and a stable Code that clients can switch on.
package apperror

import (
	"errors"
	"fmt"
)

// Kind groups errors by how callers should react to them.
type Kind string

const (
	KindValidation   Kind = "validation"   // bad or missing input
	KindPrecondition Kind = "precondition" // state does not allow the operation
	KindIntegrity    Kind = "integrity"    // referential integrity violation
	KindNotFound     Kind = "not_found"
	KindTransient    Kind = "transient" // retryable I/O failure
	KindWarning      Kind = "warning"   // non-fatal, logged only
)

// Coded is implemented by every error in this package.
type Coded interface {
	error
	Code() string
	Kind() Kind
}

// KindOf returns the Kind of the first Coded error in err's chain.
// Unknown errors are treated as transient.
func KindOf(err error) Kind {
	var coded Coded
	if errors.As(err, &coded) {
		return coded.Kind()
	}
	return KindTransient
}

// CodeOf returns the Code of the first Coded error in err's chain.
func CodeOf(err error) string {
	var coded Coded
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return "INTERNAL_ERROR"
}

// IsRetryable reports whether the operation may succeed when repeated.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

type ValidationError struct {
	Field  string
	Reason string
}

func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
func (e *ValidationError) Code() string { return "VALIDATION_ERROR" }
func (e *ValidationError) Kind() Kind   { return KindValidation }

type InvalidTokenError struct{}

func (e *InvalidTokenError) Error() string { return "signing link is invalid" }
func (e *InvalidTokenError) Code() string  { return "INVALID_TOKEN" }
func (e *InvalidTokenError) Kind() Kind    { return KindPrecondition }

type RequestExpiredError struct {
	RequestID string
}

func (e *RequestExpiredError) Error() string {
	return fmt.Sprintf("signature request %s has expired", e.RequestID)
}
func (e *RequestExpiredError) Code() string { return "REQUEST_EXPIRED" }
func (e *RequestExpiredError) Kind() Kind   { return KindPrecondition }

type AlreadySignedError struct {
	SignerID string
}

func (e *AlreadySignedError) Error() string {
	return fmt.Sprintf("signer %s has already signed", e.SignerID)
}
func (e *AlreadySignedError) Code() string { return "ALREADY_SIGNED" }
func (e *AlreadySignedError) Kind() Kind   { return KindPrecondition }

type SignerDeclinedError struct {
	SignerID string
}

func (e *SignerDeclinedError) Error() string {
	return fmt.Sprintf("signer %s has declined", e.SignerID)
}
func (e *SignerDeclinedError) Code() string { return "ALREADY_DECLINED" }
func (e *SignerDeclinedError) Kind() Kind   { return KindPrecondition }

// RequestClosedError is returned when the request status does not accept the operation,
// e.g. signing a draft or adding signers after dispatch.
type RequestClosedError struct {
	RequestID string
	Status    string
}

func (e *RequestClosedError) Error() string {
	return fmt.Sprintf("signature request %s is %s", e.RequestID, e.Status)
}
func (e *RequestClosedError) Code() string { return "REQUEST_CLOSED" }
func (e *RequestClosedError) Kind() Kind   { return KindPrecondition }

type OutOfOrderError struct {
	SignerID  string
	SignOrder int
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("signer %s (tier %d) must wait for earlier signers", e.SignerID, e.SignOrder)
}
func (e *OutOfOrderError) Code() string { return "OUT_OF_ORDER" }
func (e *OutOfOrderError) Kind() Kind   { return KindPrecondition }

type UnknownSignerError struct {
	SignerID string
}

func (e *UnknownSignerError) Error() string {
	return fmt.Sprintf("signer %s does not belong to this request", e.SignerID)
}
func (e *UnknownSignerError) Code() string { return "UNKNOWN_SIGNER" }
func (e *UnknownSignerError) Kind() Kind   { return KindIntegrity }

type DuplicateSignerError struct {
	Email string
}

func (e *DuplicateSignerError) Error() string {
	return fmt.Sprintf("signer %s is listed more than once", e.Email)
}
func (e *DuplicateSignerError) Code() string { return "DUPLICATE_SIGNER" }
func (e *DuplicateSignerError) Kind() Kind   { return KindIntegrity }

type MissingRequiredFieldError struct {
	FieldID string
	Label   string
}

func (e *MissingRequiredFieldError) Error() string {
	name := e.Label
	if name == "" {
		name = e.FieldID
	}
	return fmt.Sprintf("required field %q is missing", name)
}
func (e *MissingRequiredFieldError) Code() string { return "MISSING_REQUIRED_FIELD" }
func (e *MissingRequiredFieldError) Kind() Kind   { return KindValidation }

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}
func (e *NotFoundError) Code() string { return "NOT_FOUND" }
func (e *NotFoundError) Kind() Kind   { return KindNotFound }

type StorageTimeoutError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageTimeoutError) Error() string {
	return fmt.Sprintf("storage %s timed out for %s", e.Op, e.Path)
}
func (e *StorageTimeoutError) Unwrap() error { return e.Err }
func (e *StorageTimeoutError) Code() string  { return "STORAGE_TIMEOUT" }
func (e *StorageTimeoutError) Kind() Kind    { return KindTransient }

// RenderFailure describes a field that could not be drawn as submitted.
type RenderFailure struct {
	FieldID string
	Err     error
}

func (e *RenderFailure) Error() string {
	return fmt.Sprintf("failed to render field %s: %v", e.FieldID, e.Err)
}
func (e *RenderFailure) Unwrap() error { return e.Err }
func (e *RenderFailure) Code() string  { return "RENDER_FAILURE" }
func (e *RenderFailure) Kind() Kind    { return KindTransient }

// PropagationWarning is never returned to clients; completion stays the source of truth.
type PropagationWarning struct {
	RecordID string
	Err      error
}

func (e *PropagationWarning) Error() string {
	return fmt.Sprintf("failed to propagate status to record %s: %v", e.RecordID, e.Err)
}
func (e *PropagationWarning) Unwrap() error { return e.Err }
func (e *PropagationWarning) Code() string  { return "PROPAGATION_WARNING" }
func (e *PropagationWarning) Kind() Kind    { return KindWarning }
