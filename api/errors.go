// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-pipeline.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library. Structured errors built with
// NewError match these through errors.Is.
var (
	ErrOutOfRange        = errors.New("index out of range")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrChannelOperation  = errors.New("channel operation failed")
	ErrPipelineConfig    = errors.New("pipeline configuration error")
	ErrChannelClosed     = errors.New("channel is closed")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrNotSupported      = errors.New("operation not supported")
	ErrNotFound          = errors.New("resource not found")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeOutOfRange
	ErrCodeInvalidArgument
	ErrCodeChannelOperation
	ErrCodePipelineConfig
	ErrCodeClosed
	ErrCodeResourceExhausted
	ErrCodeNotSupported
	ErrCodeNotFound
	ErrCodeInternal
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                "ok",
	ErrCodeOutOfRange:        "out_of_range",
	ErrCodeInvalidArgument:   "invalid_argument",
	ErrCodeChannelOperation:  "channel_operation",
	ErrCodePipelineConfig:    "pipeline_config",
	ErrCodeClosed:            "closed",
	ErrCodeResourceExhausted: "resource_exhausted",
	ErrCodeNotSupported:      "not_supported",
	ErrCodeNotFound:          "not_found",
	ErrCodeInternal:          "internal",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// sentinel maps a code to the package level error it matches.
func (c ErrorCode) sentinel() error {
	switch c {
	case ErrCodeOutOfRange:
		return ErrOutOfRange
	case ErrCodeInvalidArgument:
		return ErrInvalidArgument
	case ErrCodeChannelOperation:
		return ErrChannelOperation
	case ErrCodePipelineConfig:
		return ErrPipelineConfig
	case ErrCodeClosed:
		return ErrChannelClosed
	case ErrCodeResourceExhausted:
		return ErrResourceExhausted
	case ErrCodeNotSupported:
		return ErrNotSupported
	case ErrCodeNotFound:
		return ErrNotFound
	}
	return nil
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if len(e.Context) > 0 {
		msg = fmt.Sprintf("%s (context: %+v)", msg, e.Context)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is the sentinel for e.Code.
func (e *Error) Is(target error) bool {
	if s := e.Code.sentinel(); s != nil && s == target {
		return true
	}
	if t, ok := target.(*Error); ok {
		return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
	}
	return false
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Errorf creates a structured error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithCause records the error that triggered e.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// CodeOf extracts the code of a structured error, ErrCodeInternal otherwise.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}
