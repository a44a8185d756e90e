package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for the enrollment and capacity domain.
var (
	ErrInvalidIdentity      = New("INVALID_IDENTITY", http.StatusBadRequest, "invalid identity document")
	ErrDuplicateIdentity    = New("DUPLICATE_IDENTITY", http.StatusConflict, "identity document already registered")
	ErrClassNotFound        = New("CLASS_NOT_FOUND", http.StatusNotFound, "class not found")
	ErrCandidateNotFound    = New("CANDIDATE_NOT_FOUND", http.StatusNotFound, "candidate not found")
	ErrStudentNotFound      = New("STUDENT_NOT_FOUND", http.StatusNotFound, "student not found")
	ErrNotEnrolled          = New("NOT_ENROLLED", http.StatusConflict, "student has no active enrollment in class")
	ErrNoSeatsAvailable     = New("NO_SEATS_AVAILABLE", http.StatusConflict, "class has no seats available")
	ErrAlreadyApproved      = New("ALREADY_APPROVED", http.StatusConflict, "candidate already approved")
	ErrIllegalTransition    = New("ILLEGAL_TRANSITION", http.StatusConflict, "illegal class status transition")
	ErrCannotDeleteApproved = New("CANNOT_DELETE_APPROVED", http.StatusConflict, "approved candidates cannot be deleted")

	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// HasCode reports whether the error carries the given domain code.
func HasCode(err error, code string) bool {
	e := FromError(err)
	return e != nil && e.Code == code
}
