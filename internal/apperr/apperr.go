package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an error for the caller.
type Code string

const (
	CodeConfigurationMissing   Code = "CONFIGURATION_MISSING"
	CodePermissionDenied       Code = "PERMISSION_DENIED"
	CodeExternalServiceFailure Code = "EXTERNAL_SERVICE_FAILURE"
	CodeNotFound               Code = "NOT_FOUND"
	CodeBadRequest             Code = "BAD_REQUEST"
	CodeValidation             Code = "VALIDATION_ERROR"
	CodeConflict               Code = "CONFLICT"
	CodeInternal               Code = "INTERNAL_ERROR"
)

// Reason names the concrete cause inside a code, e.g. which configuration
// is missing.
type Reason string

const (
	ReasonNoChannelConfigured     Reason = "NoChannelConfigured"
	ReasonShortenerNotConfigured  Reason = "ShortenerNotConfigured"
	ReasonInsufficientPermissions Reason = "InsufficientPermissions"
	ReasonLinkGenerationFailed    Reason = "LinkGenerationFailed"
	ReasonDeliveryFailed          Reason = "DeliveryFailed"
	ReasonGrantInProgress         Reason = "GrantInProgress"
	ReasonNotAdmin                Reason = "NotAdmin"
)

// AppError is a typed application error.
type AppError struct {
	Code    Code
	Reason  Reason
	Message string
	Details map[string]interface{}
	Cause   error
}

func (e *AppError) Error() string {
	prefix := string(e.Code)
	if e.Reason != "" {
		prefix = fmt.Sprintf("%s/%s", e.Code, e.Reason)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", prefix, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetail attaches diagnostic data.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithReason sets the reason and returns the same error.
func (e *AppError) WithReason(r Reason) *AppError {
	e.Reason = r
	return e
}

func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(err error, code Code, message string) *AppError {
	return &AppError{Code: code, Message: message, Cause: err}
}

func Wrapf(err error, code Code, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// As returns the outermost AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of err, or CodeInternal for unclassified errors.
func CodeOf(err error) Code {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeInternal
}

// ReasonOf returns the reason of err, if any.
func ReasonOf(err error) Reason {
	if appErr, ok := As(err); ok {
		return appErr.Reason
	}
	return ""
}

// Detail returns a detail value of err, if any.
func Detail(err error, key string) (interface{}, bool) {
	appErr, ok := As(err)
	if !ok || appErr.Details == nil {
		return nil, false
	}
	v, ok := appErr.Details[key]
	return v, ok
}

func IsPermissionDenied(err error) bool {
	return err != nil && CodeOf(err) == CodePermissionDenied
}

func IsBadRequest(err error) bool {
	return err != nil && CodeOf(err) == CodeBadRequest
}

func IsNotFound(err error) bool {
	return err != nil && CodeOf(err) == CodeNotFound
}

// Constructors for common errors

func NewConfigurationMissing(reason Reason, message string) *AppError {
	return New(CodeConfigurationMissing, message).WithReason(reason)
}

func NewPermissionDenied(reason Reason, message string) *AppError {
	return New(CodePermissionDenied, message).WithReason(reason)
}

func NewExternalFailure(operation string, err error) *AppError {
	return Wrap(err, CodeExternalServiceFailure, fmt.Sprintf("%s failed", operation)).
		WithDetail("operation", operation)
}

func NewValidation(field, reason string) *AppError {
	return New(CodeValidation, fmt.Sprintf("invalid %s: %s", field, reason)).
		WithDetail("field", field)
}
