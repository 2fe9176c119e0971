package util

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to API clients.
const (
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodeAlreadyAssigned      = "ALREADY_ASSIGNED"
	CodeEmptyMessage         = "EMPTY_MESSAGE"
	CodeTicketClosed         = "TICKET_CLOSED"
	CodeNotFound             = "NOT_FOUND"
	CodeTransportUnavailable = "TRANSPORT_UNAVAILABLE"
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeConflict             = "CONFLICT"
	CodeInternalError        = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

// NewInvalidTransition signals a status change with the wrong actor or a
// stale source state.
func NewInvalidTransition(from, to string) error {
	return NewDomainError(CodeInvalidTransition,
		fmt.Sprintf("cannot transition ticket from %s to %s", from, to),
		http.StatusConflict,
		map[string]any{"from": from, "to": to})
}

// NewAlreadyAssigned signals a lost claim race.
func NewAlreadyAssigned(ticketID string) error {
	return NewDomainError(CodeAlreadyAssigned,
		"ticket already assigned to another agent",
		http.StatusConflict,
		map[string]any{"ticket_id": ticketID})
}

// NewEmptyMessage rejects a blank chat message body.
func NewEmptyMessage() error {
	return NewDomainError(CodeEmptyMessage, "message body must not be empty", http.StatusBadRequest, nil)
}

// NewTicketClosed rejects writes against a closed ticket.
func NewTicketClosed(ticketID string) error {
	return NewDomainError(CodeTicketClosed,
		"ticket is closed and read-only",
		http.StatusConflict,
		map[string]any{"ticket_id": ticketID})
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

// NewTransportUnavailable wraps an event bus publish/subscribe failure.
// Callers treat it as degraded mode, never as a reason to roll back a
// committed write.
func NewTransportUnavailable(err error) error {
	return &DomainError{
		Code:       CodeTransportUnavailable,
		Message:    "event transport unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidationFailed, message, http.StatusBadRequest, details)
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternalError,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsCode reports whether err is a DomainError carrying the given code.
func IsCode(err error, code string) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Code == code
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:       CodeInternalError,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// MapError converts generic errors to DomainError.
func MapError(err error) error {
	return ToDomainError(err)
}
