package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess       Code = 0
	CodeInternal      Code = 1
	CodeUsage         Code = 2
	CodeAuth          Code = 10
	CodeRateLimited   Code = 11
	CodeUnavailable   Code = 12
	CodeUnsupported   Code = 13
	CodeStale         Code = 14
	CodePartialStrict Code = 15
	CodeBlocked       Code = 16

	// Vault sequence failures.
	CodeSigner              Code = 20
	CodeUserRejected        Code = 21
	CodeInsufficientBalance Code = 22
	CodeApproval            Code = 23
	CodeAuthorization       Code = 24
	CodeReverted            Code = 25
	CodePending             Code = 26
	CodeDebtOverflow        Code = 27
	CodeInvalidRate         Code = 28
	CodePartialSuccess      Code = 29
	CodeIntegrity           Code = 30
)

// Error is a typed CLI error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Is reports whether the outermost typed error in err's chain carries code.
func Is(err error, code Code) bool {
	typed, ok := As(err)
	return ok && typed.Code == code
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}

// TypeName is the envelope error type for a code.
func TypeName(code Code) string {
	switch code {
	case CodeUsage:
		return "usage_error"
	case CodeAuth:
		return "auth_error"
	case CodeRateLimited:
		return "rate_limited"
	case CodeUnavailable:
		return "provider_unavailable"
	case CodeUnsupported:
		return "unsupported"
	case CodeStale:
		return "stale_data"
	case CodePartialStrict:
		return "partial_results"
	case CodeBlocked:
		return "command_blocked"
	case CodeSigner:
		return "signer_error"
	case CodeUserRejected:
		return "user_rejected"
	case CodeInsufficientBalance:
		return "insufficient_balance"
	case CodeApproval:
		return "approval_failed"
	case CodeAuthorization:
		return "authorization_required"
	case CodeReverted:
		return "reverted"
	case CodePending:
		return "confirmation_pending"
	case CodeDebtOverflow:
		return "debt_overflow"
	case CodeInvalidRate:
		return "invalid_rate"
	case CodePartialSuccess:
		return "partial_success"
	case CodeIntegrity:
		return "data_integrity"
	default:
		return "internal_error"
	}
}
