// Package errors wraps pkg/errors and adds error codes, so that failures
// can be classified programmatically and carried across worker boundaries
// as JSON.
package errors

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// Code classifies an error. Callers match on codes with Is() rather than
// comparing error strings.
type Code string

const (
	ErrUncoded Code = "Uncoded"
)

// New returns a stack-annotated error carrying the given code.
func New(code Code, message string) error {
	return errors.WithStack(codedError{
		Code:    code,
		Message: message,
	})
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func Cause(err error) error {
	return errors.Cause(err)
}

func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Is is a variant of the Is() from `pkg/errors` which takes as its target
// an error Code instead of an error.
func Is(err error, target Code) bool {
	match := codedError{
		Code: target,
	}
	return errors.Is(err, match)
}

// CodeOf extracts the code from err, unwrapping as needed. Errors that
// never carried a code report ErrUncoded.
func CodeOf(err error) Code {
	var ce codedError
	if errors.As(err, &ce) && ce.Code != "" {
		return ce.Code
	}
	var cep *codedError
	if errors.As(err, &cep) && cep.Code != "" {
		return cep.Code
	}
	return ErrUncoded
}

func Unwrap(err error) error {
	return errors.Unwrap(err)
}

func WithMessage(err error, message string) error {
	return errors.WithMessage(err, message)
}

func WithMessagef(err error, format string, args ...interface{}) error {
	return errors.WithMessagef(err, format, args...)
}

func WithStack(err error) error {
	return errors.WithStack(err)
}

func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

func Wrapf(err error, fmt string, args ...interface{}) error {
	return errors.Wrapf(err, fmt, args...)
}

// codedError is the fundamental type used by this package to provide coded
// errors.
type codedError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Wrapped string `json:"wrapped,omitempty"`
}

func (ce codedError) Error() string {
	if ce.Wrapped != "" {
		return ce.Wrapped
	}
	return ce.Message
}

func (ce codedError) Is(err error) bool {
	if e, ok := err.(codedError); ok && ce.Code == e.Code {
		return true
	}
	return false
}

// MarshalJSON renders err as the json form of a codedError. If err's cause
// is not a codedError the object still has the codedError shape, with an
// empty `code`. An empty code is distinct from ErrUncoded: it means the
// error never went through this package at all.
func MarshalJSON(err error) string {
	cause := Cause(err)

	var out *codedError

	switch v := cause.(type) {
	case codedError:
		v.Wrapped = err.Error()
		out = &v
	default:
		out = &codedError{
			Message: cause.Error(),
			Wrapped: err.Error(),
		}
	}

	j, jerr := json.Marshal(out)
	if jerr != nil {
		return out.Error()
	}

	return string(j)
}

// UnmarshalJSON reads a codedError back from r. Bytes that don't parse as
// a codedError come back as a plain error holding the raw string, so a
// peer's failure is never lost to a decode problem.
func UnmarshalJSON(r io.Reader) error {
	b, _ := io.ReadAll(r)

	out := &codedError{}
	if err := json.Unmarshal(b, out); err != nil {
		return errors.New(string(b))
	}
	return out
}
