package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// Error is a coded error. Message is what clients see; Err keeps the cause for errors.Is/As.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
	Stack   string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code.Message()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func build(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: msg,
		Err:     cause,
		Stack:   callers(4),
	}
}

// New creates an error carrying the code's default message.
func New(code ErrorCode) *Error {
	return build(code, code.Message(), nil)
}

// Newf creates an error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return build(code, fmt.Sprintf(format, args...), nil)
}

// Wrap attaches code to err. A coded err is copied with the new code so the original stays intact.
func Wrap(err error, code ErrorCode) *Error {
	if err == nil {
		return nil
	}
	var coded *Error
	if stdErrors.As(err, &coded) {
		cp := *coded
		cp.Code = code
		return &cp
	}
	return build(code, err.Error(), err)
}

// Wrapf attaches code and a formatted message to err.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return build(code, fmt.Sprintf(format, args...), err)
}

func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

func (e *Error) WithMessagef(format string, args ...interface{}) *Error {
	e.Message = fmt.Sprintf(format, args...)
	return e
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

// GetCode finds the code anywhere in err's chain.
// Context errors map to Canceled and Timeout; any other uncoded error is InternalServerError.
func GetCode(err error) ErrorCode {
	var coded *Error
	switch {
	case err == nil:
		return Success
	case stdErrors.As(err, &coded):
		return coded.Code
	case stdErrors.Is(err, context.Canceled):
		return Canceled
	case stdErrors.Is(err, context.DeadlineExceeded):
		return Timeout
	default:
		return InternalServerError
	}
}

// GetError returns the coded error in err's chain, wrapping err when there is none.
func GetError(err error) *Error {
	if err == nil {
		return nil
	}
	var coded *Error
	if stdErrors.As(err, &coded) {
		return coded
	}
	return Wrap(err, GetCode(err))
}

// Is reports whether err carries code.
func Is(err error, code ErrorCode) bool {
	var coded *Error
	return err != nil && stdErrors.As(err, &coded) && coded.Code == code
}

// ValidationError reports a rejected request field.
func ValidationError(field, reason string) *Error {
	return New(ValidationFailed).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

func callers(skip int) string {
	var pcs [10]uintptr
	n := runtime.Callers(skip, pcs[:])
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	var sb strings.Builder
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			fmt.Fprintf(&sb, "\n\t%s:%d %s", frame.File, frame.Line, frame.Function)
		}
		if !more {
			break
		}
	}
	return sb.String()
}
