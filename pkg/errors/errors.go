package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code classifies an AppError for operators and for the ops API.
type Code string

const (
	CodeValidationError    Code = "VALIDATION_ERROR"
	CodeConfigError        Code = "CONFIG_ERROR"
	CodeInternalError      Code = "INTERNAL_ERROR"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeTimeout            Code = "TIMEOUT"
	CodeRouteNotFound      Code = "ROUTE_NOT_FOUND"
)

// HTTPStatus is the status the ops API answers with for c
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidationError:
		return http.StatusBadRequest
	case CodeRouteNotFound:
		return http.StatusNotFound
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// AppError is a classified error with optional details and a cause.
type AppError struct {
	Code    Code              `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any *AppError with the same Code, so errors.Is(err, New(CodeTimeout, ""))
// finds a timeout anywhere in the chain.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// WithDetail adds a detail and returns e
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string, 1)
	}
	e.Details[key] = value
	return e
}

// Wrap sets the cause and returns e
func (e *AppError) Wrap(err error) *AppError {
	e.Err = err
	return e
}

// New creates an AppError
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// ErrValidation is a payload or request that breaks a contract
func ErrValidation(message string) *AppError {
	return New(CodeValidationError, message)
}

// ErrConfig is a startup configuration problem
func ErrConfig(format string, args ...any) *AppError {
	return New(CodeConfigError, fmt.Sprintf(format, args...))
}

func ErrInternal() *AppError {
	return New(CodeInternalError, "an internal error occurred")
}

// ErrServiceUnavailable reports that component cannot serve yet
func ErrServiceUnavailable(component string) *AppError {
	return New(CodeServiceUnavailable, component+" is temporarily unavailable")
}

// ErrTimeout reports that operation did not finish in time
func ErrTimeout(operation string) *AppError {
	return New(CodeTimeout, operation+" timed out")
}

// AsAppError finds the first AppError in err's chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsAppError reports whether err's chain holds an AppError
func IsAppError(err error) bool {
	_, ok := AsAppError(err)
	return ok
}

// HasCode reports whether err's chain holds an AppError with code
func HasCode(err error, code Code) bool {
	return errors.Is(err, New(code, ""))
}
