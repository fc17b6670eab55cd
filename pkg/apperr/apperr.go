// Package apperr defines the error taxonomy shared by the ledger gateway, the
// domain client and the vote relayer. Every user-visible failure carries a
// machine-checkable Code in addition to its message.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-checkable failure reason.
type Code string

const (
	// Authorization failures (non-retryable, user facing).
	CodeSignatureInvalid Code = "SIGNATURE_INVALID"
	CodeChoiceInvalid    Code = "CHOICE_INVALID"
	CodeAlreadyVoted     Code = "ALREADY_VOTED"
	CodeNoPower          Code = "NO_POWER"
	CodeInvalidChain     Code = "INVALID_CHAIN"

	CodeInvalidRequest        Code = "INVALID_REQUEST"
	CodeNotFound              Code = "NOT_FOUND"
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeLedgerUnavailable     Code = "LEDGER_UNAVAILABLE"
	CodeLedgerRejected        Code = "LEDGER_REJECTED"
	CodeMetadataLookupFailed  Code = "METADATA_LOOKUP_FAILED"
	CodeOperationNotConfirmed Code = "OPERATION_NOT_CONFIRMED"
	CodeAccountRequired       Code = "ACCOUNT_REQUIRED"
	CodeInternal              Code = "INTERNAL"
)

// Error is the concrete error type carried across package boundaries.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so callers can write
// errors.Is(err, apperr.ErrAlreadyVoted) regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is checks.
var (
	ErrSignatureInvalid      = &Error{Code: CodeSignatureInvalid}
	ErrChoiceInvalid         = &Error{Code: CodeChoiceInvalid}
	ErrAlreadyVoted          = &Error{Code: CodeAlreadyVoted}
	ErrNoPower               = &Error{Code: CodeNoPower}
	ErrInvalidChain          = &Error{Code: CodeInvalidChain}
	ErrInvalidRequest        = &Error{Code: CodeInvalidRequest}
	ErrUnauthorized          = &Error{Code: CodeUnauthorized}
	ErrNotFound              = &Error{Code: CodeNotFound}
	ErrLedgerUnavailable     = &Error{Code: CodeLedgerUnavailable}
	ErrLedgerRejected        = &Error{Code: CodeLedgerRejected}
	ErrMetadataLookupFailed  = &Error{Code: CodeMetadataLookupFailed}
	ErrOperationNotConfirmed = &Error{Code: CodeOperationNotConfirmed}
	ErrAccountRequired       = &Error{Code: CodeAccountRequired}
)

// New returns an error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf is New with formatting.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to err. A nil err yields nil.
func Wrap(code Code, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the code of the outermost *Error in the chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns a message safe to show to users.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	switch CodeOf(err) {
	case CodeLedgerUnavailable:
		return "ledger unavailable"
	case CodeMetadataLookupFailed:
		return "token metadata lookup failed"
	case CodeLedgerRejected:
		return "transaction rejected by the ledger"
	case CodeOperationNotConfirmed:
		return "operation not confirmed"
	}
	return "internal error"
}

// HTTPStatus maps a code to the status the relayer answers with.
func HTTPStatus(code Code) int {
	switch code {
	case CodeSignatureInvalid, CodeChoiceInvalid, CodeNoPower, CodeInvalidChain:
		return http.StatusForbidden
	case CodeAlreadyVoted:
		return http.StatusConflict
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized, CodeAccountRequired:
		return http.StatusUnauthorized
	case CodeLedgerUnavailable, CodeMetadataLookupFailed:
		return http.StatusServiceUnavailable
	case CodeLedgerRejected:
		return http.StatusUnprocessableEntity
	case CodeOperationNotConfirmed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
