package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPaymentNotFound         = errors.New("payment not found")
	ErrWalletNotFound          = errors.New("wallet not found")
	ErrPreferredMethodNotFound = errors.New("preferred method not found")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrDuplicateEntity         = errors.New("duplicate entity")
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeNotFound      Code = "NOT_FOUND"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeDuplicate     Code = "DUPLICATE_ENTITY"
	CodeInternal      Code = "INTERNAL_ERROR"
)

// FieldError names the offending field (or concept) and why it was refused.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error is the typed error every core operation returns for expected failures.
// Anything that is not an *Error is treated as an internal failure.
type Error struct {
	code   Code
	fields []FieldError
	cause  error
}

func NewError(code Code, fields ...FieldError) *Error {
	return &Error{code: code, fields: fields}
}

func Validation(path, message string) *Error {
	return NewError(CodeValidation, FieldError{Path: path, Message: message})
}

func Conflict(path, message string) *Error {
	return NewError(CodeStateConflict, FieldError{Path: path, Message: message})
}

func NotFound(path, message string) *Error {
	return NewError(CodeNotFound, FieldError{Path: path, Message: message}).Wrap(ErrPaymentNotFound)
}

// Wrap attaches an underlying cause, keeping errors.Is working on sentinels.
func (e *Error) Wrap(cause error) *Error {
	if e == nil {
		return nil
	}
	e.cause = cause
	return e
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Fields() []FieldError {
	if e == nil {
		return nil
	}
	return e.fields
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	parts := make([]string, 0, len(e.fields))
	for _, f := range e.fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Path, f.Message))
	}
	return fmt.Sprintf("%s: %s", e.code, strings.Join(parts, "; "))
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// AsError extracts a typed *Error from the chain, or nil.
func AsError(err error) *Error {
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return nil
}

// Collector accumulates field errors so a constructor can report every
// violation at once.
type Collector struct {
	fields []FieldError
}

func (c *Collector) Add(path, message string) {
	c.fields = append(c.fields, FieldError{Path: path, Message: message})
}

func (c *Collector) Err() error {
	if len(c.fields) == 0 {
		return nil
	}
	return NewError(CodeValidation, c.fields...)
}
