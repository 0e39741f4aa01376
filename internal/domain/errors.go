package domain

import (
	"errors"
	"fmt"
)

// ErrCode is the stable, client-visible error taxonomy. Every rejected
// operation carries exactly one of these so callers can branch on kind
// (retry, resync, abandon) without parsing messages.
type ErrCode string

const (
	ErrUnauthorized ErrCode = "unauthorized"
	ErrCapacity     ErrCode = "capacity"
	ErrValidation   ErrCode = "validation"
	ErrReplay       ErrCode = "replay"
	ErrIntegrity    ErrCode = "integrity"
	ErrNotFound     ErrCode = "not_found"
	ErrExpired      ErrCode = "expired"
	ErrConflict     ErrCode = "conflict"
	ErrUnavailable  ErrCode = "unavailable"
)

type Error struct {
	Code    ErrCode `json:"code"`
	Message string  `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(code ErrCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func Errorf(code ErrCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the taxonomy code from any error chain, defaulting to
// ErrUnavailable for untyped failures (store hiccups are retryable).
func CodeOf(err error) ErrCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrUnavailable
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code ErrCode) bool {
	var de *Error
	return errors.As(err, &de) && de.Code == code
}
