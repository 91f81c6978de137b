// Package krace implements an offline analyzer for kernel data-race
// ledgers: it reconstructs the execution hierarchy, happens-before graph,
// lockset/transaction state, and per-address access history a running
// kernel's instrumented probe recorded, and reports racing memory
// accesses.
package krace

import (
	"errors"
	"fmt"
)

// Error represents a structured krace error with component context and a
// high-level category.
type Error struct {
	Op    string  // component that raised it: "ledger", "ctxt", "edge", "sync", "race", "mem"
	Code  ErrCode // high-level error category
	Msg   string  // human-readable message
	Inner error   // wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Inner != nil {
		msg = e.Inner.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("krace: %s: %s (%s)", e.Op, msg, e.Code)
	}
	return fmt.Sprintf("krace: %s (%s)", msg, e.Code)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports errors.Is comparison against a *Error with the same Code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// ErrCode is a high-level error category.
type ErrCode string

const (
	// ErrCodeProtocolViolation covers unexpected execution-model
	// transitions: exit without matching enter, function-hash mismatch on
	// exit, double registration of a fork slot. Always fatal.
	ErrCodeProtocolViolation ErrCode = "protocol violation"

	// ErrCodeIntegrityOverflow covers byte_cursor exceeding the
	// configured ledger cap. Always fatal.
	ErrCodeIntegrityOverflow ErrCode = "integrity overflow"

	// ErrCodeLookupFailure covers a hash resolving to no instruction.
	ErrCodeLookupFailure ErrCode = "lookup failure"

	// ErrCodeHBCycle covers a cycle discovered in the happens-before
	// graph.
	ErrCodeHBCycle ErrCode = "happens-before cycle"

	// ErrCodeTruncated covers a ledger ending mid-record.
	ErrCodeTruncated ErrCode = "truncated ledger"
)

// NewError creates a new structured error.
func NewError(op string, code ErrCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// WrapError wraps an existing error with krace component context,
// inferring its ErrCode where possible from well-known sentinel/typed
// errors raised by internal/ledger, internal/execmodel and
// internal/raceengine.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ke, ok := inner.(*Error); ok {
		return &Error{Op: op, Code: ke.Code, Msg: ke.Msg, Inner: ke.Inner}
	}
	return &Error{Op: op, Code: classify(inner), Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is (or wraps) a *Error with the given code.
func IsCode(err error, code ErrCode) bool {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Code == code
	}
	return false
}
