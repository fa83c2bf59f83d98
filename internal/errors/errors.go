package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess     Code = 0
	CodeInternal    Code = 1
	CodeUsage       Code = 2
	CodeAuth        Code = 10
	CodeRateLimited Code = 11
	CodeUnavailable Code = 12
	CodeUnsupported Code = 13
	CodeBlocked     Code = 16
	CodeLocked      Code = 17

	CodeTokenQuery       Code = 20
	CodeAllowanceQuery   Code = 21
	CodeFeeUnavailable   Code = 22
	CodeRouteUnavailable Code = 23
	CodeRouteBuild       Code = 24
	CodePermitSign       Code = 25
	CodeApprovalTx       Code = 26
	CodeApprovalReverted Code = 27
	CodeSwapTx           Code = 28
	CodeSwapReverted     Code = 29
	CodeReceiptTimeout   Code = 30
	CodeInvalidInput     Code = 31
	CodeUserCancelled    Code = 32
	CodeSigner           Code = 33
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

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	for err != nil {
		var target *Error
		if !errors.As(err, &target) {
			return false
		}
		if target.Code == code {
			return true
		}
		err = target.Cause
	}
	return false
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

// TxError ties a failure to a transaction that reached the network.
type TxError struct {
	Hash   string
	Status uint64
	Block  uint64
	Err    error
}

func (e *TxError) Error() string {
	msg := "tx " + e.Hash
	if e.Block > 0 {
		msg = fmt.Sprintf("%s (status %d, block %d)", msg, e.Status, e.Block)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *TxError) Unwrap() error { return e.Err }

// TxHash extracts the transaction hash from an error chain, if any.
func TxHash(err error) string {
	var txErr *TxError
	if errors.As(err, &txErr) {
		return txErr.Hash
	}
	return ""
}

// TypeName returns the envelope error type for a code.
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
	case CodeBlocked:
		return "command_blocked"
	case CodeLocked:
		return "run_locked"
	case CodeTokenQuery:
		return "token_query_error"
	case CodeAllowanceQuery:
		return "allowance_query_error"
	case CodeFeeUnavailable:
		return "fee_unavailable"
	case CodeRouteUnavailable:
		return "route_unavailable"
	case CodeRouteBuild:
		return "route_build_error"
	case CodePermitSign:
		return "permit_sign_error"
	case CodeApprovalTx:
		return "approval_tx_error"
	case CodeApprovalReverted:
		return "approval_reverted"
	case CodeSwapTx:
		return "swap_tx_error"
	case CodeSwapReverted:
		return "swap_reverted"
	case CodeReceiptTimeout:
		return "receipt_timeout"
	case CodeInvalidInput:
		return "invalid_input"
	case CodeUserCancelled:
		return "user_cancelled"
	case CodeSigner:
		return "signer_error"
	default:
		return "internal_error"
	}
}
