package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for propagation and presentation.
type Kind string

const (
	Internal          Kind = "internal"
	Validation        Kind = "validation"
	NotFound          Kind = "not_found"
	NotAuthorized     Kind = "not_authorized"
	InvalidTransition Kind = "invalid_transition"
	Conflict          Kind = "conflict"
	Gateway           Kind = "gateway"
	Persistence       Kind = "persistence"
)

// Error is a classified application error. Domain packages declare sentinel
// values with New and wrap them with fmt.Errorf("%w: ...") to add detail.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a kind to an underlying error (typically from storage or the
// network) while keeping it reachable through errors.Is / errors.As.
func Wrap(kind Kind, code string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Code: code, Message: err.Error(), Err: err}
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in the chain, or Internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}

// CodeOf returns the code of the first *Error in the chain.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return "internal_error"
}

// Retryable reports whether repeating the same request unchanged may
// succeed. Only transient gateway and storage failures qualify.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Gateway, Persistence:
		return true
	}
	return false
}

// HTTPStatus maps an error kind to the response status used by the API.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case NotAuthorized:
		return http.StatusForbidden
	case InvalidTransition:
		return http.StatusUnprocessableEntity
	case Conflict:
		return http.StatusConflict
	case Gateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
