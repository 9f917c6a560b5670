package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess            Code = 0
	CodeInternal           Code = 1
	CodeUsage              Code = 2
	CodeAuth               Code = 10
	CodeRateLimited        Code = 11
	CodeUnavailable        Code = 12
	CodeUnsupported        Code = 13
	CodeNotFound           Code = 14
	CodeUnsupportedChain   Code = 15
	CodeWalletNotConnected Code = 16
)

// Error is a typed error that carries a stable error code.
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

// HasCode reports whether any typed error in err's chain carries code.
func HasCode(err error, code Code) bool {
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

// IsNotFound reports an authoritative "resource does not exist" answer.
func IsNotFound(err error) bool { return HasCode(err, CodeNotFound) }

func IsUnsupported(err error) bool { return HasCode(err, CodeUnsupported) }

func UnsupportedChain(chainID string) *Error {
	return New(CodeUnsupportedChain, fmt.Sprintf("unsupported chain: %s", chainID))
}

func WalletNotConnected() *Error {
	return New(CodeWalletNotConnected, "wallet not connected")
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
