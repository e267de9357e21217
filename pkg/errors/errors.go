package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInternal = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)

	ErrConnection       = NewError("CONNECTION_ERROR", "websocket connection failed", http.StatusBadGateway)
	ErrShutdownTimeout  = NewError("SHUTDOWN_TIMEOUT", "timed out waiting for close acknowledgment", http.StatusGatewayTimeout)
	ErrBrokerConnection = NewError("BROKER_CONNECTION_ERROR", "broker unreachable", http.StatusBadGateway)
	ErrAmountFormat     = NewError("AMOUNT_FORMAT_ERROR", "cannot derive number and unit", http.StatusUnprocessableEntity)
	ErrUnknownChain     = NewError("UNKNOWN_CHAIN", "chain identifier is not registered", http.StatusBadRequest)
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code      string
	Message   string
	Status    int
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
			msg = detailMsg
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Code so that errors.Is(err, ErrConnection) holds for any
// derived copy produced by WithCause/WithDetail.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return !fatalErr.IsFatal()
		}
	}
	return e.Code != ErrAmountFormat.Code && e.Code != ErrUnknownChain.Code
}

func (e *Error) IsFatal() bool {
	if e.retryable != nil {
		return !*e.retryable
	}

	if e.Cause != nil {
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return fatalErr.IsFatal()
		}
	}

	return e.Code == ErrAmountFormat.Code || e.Code == ErrUnknownChain.Code
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	err.Details = details
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

func hasCode(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsConnection(err error) bool {
	return hasCode(err, ErrConnection.Code)
}

func IsShutdownTimeout(err error) bool {
	return hasCode(err, ErrShutdownTimeout.Code)
}

func IsBrokerConnection(err error) bool {
	return hasCode(err, ErrBrokerConnection.Code)
}

func IsAmountFormat(err error) bool {
	return hasCode(err, ErrAmountFormat.Code)
}

func IsUnknownChain(err error) bool {
	return hasCode(err, ErrUnknownChain.Code)
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		// If it's not our error type, wrap it
		appErr = ErrInternal.WithCause(err)
	}

	response := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}

	if len(appErr.Details) > 0 {
		response["details"] = appErr.Details
	}

	return response
}
