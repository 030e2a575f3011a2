package ffi

import (
	"errors"
	"fmt"
)

// Sentinel errors. The structured error types below unwrap to these.
var (
	ErrNativeSymbol          = errors.New("native symbol not found")
	ErrTooManyParameters     = errors.New("too many parameters")
	ErrArity                 = errors.New("wrong number of parameters")
	ErrTypeCoercion          = errors.New("type coercion failed")
	ErrUnknownTypeCode       = errors.New("unknown type code")
	ErrBufferBusy            = errors.New("buffer is lent to another native call")
	ErrConventionUnsupported = errors.New("calling convention not supported on this platform")
	ErrClosed                = errors.New("binding closed")
)

// NativeSymbolError reports a library or function that could not be resolved.
// Diagnostic is the loader's own message.
type NativeSymbolError struct {
	Library    string
	Symbol     string
	Diagnostic string
}

func (e *NativeSymbolError) Error() string {
	return e.Diagnostic
}

func (e *NativeSymbolError) Unwrap() error { return ErrNativeSymbol }

// TooManyParametersError reports an import list longer than the engine allows.
type TooManyParametersError struct {
	Got int
	Max int
}

func (e *TooManyParametersError) Error() string {
	return fmt.Sprintf("too many parameters: %d/%d", e.Got, e.Max)
}

func (e *TooManyParametersError) Unwrap() error { return ErrTooManyParameters }

// ArityError reports a call whose argument count differs from the binding's.
type ArityError struct {
	Expected int
	Got      int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("wrong number of parameters: expected %d, got %d", e.Expected, e.Got)
}

func (e *ArityError) Unwrap() error { return ErrArity }

// TypeCoercionError reports an argument that cannot be represented under its tag.
type TypeCoercionError struct {
	Index int
	Tag   Tag
	Value any
	Err   error
}

func (e *TypeCoercionError) Error() string {
	msg := fmt.Sprintf("argument %d: cannot convert %T to %s", e.Index, e.Value, e.Tag)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TypeCoercionError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrTypeCoercion, e.Err}
	}
	return []error{ErrTypeCoercion}
}

// UnknownCodeError reports a type code rejected by strict parsing. Index is the
// position in the import description, or -1 for the export code.
type UnknownCodeError struct {
	Code  string
	Index int
}

func (e *UnknownCodeError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("unknown export type code %q", e.Code)
	}
	return fmt.Sprintf("unknown import type code %q at position %d", e.Code, e.Index)
}

func (e *UnknownCodeError) Unwrap() error { return ErrUnknownTypeCode }
