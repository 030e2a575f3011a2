// Package miniffi calls native functions in dynamically loaded libraries
// without declaring their C signatures. Each argument and the return value
// are described by a one-character type code:
//
//	N, L  number   machine word, wrapping
//	P     pointer  address; strings and buffers are passed by address
//	I     integer  low 32 bits
//	B     bool     1 or 0
//	V     void     return value ignored (exports only)
//
// A typical use:
//
//	strlen, err := miniffi.New("libc.so.6", "strlen", miniffi.Packed("P"), "N")
//	n, err := strlen.Call("hello") // uint64(5)
package miniffi

import (
	"log/slog"
	"sync"

	"github.com/tinyrange/miniffi/internal/ffi"
)

// -----------------------------------------------------------------------------
// Type Aliases - These re-export types from internal/ffi
// -----------------------------------------------------------------------------

// Engine binds native functions and owns the calling convention adapter.
type Engine = ffi.Engine

// Binding is a resolved native function. It is immutable and safe for
// concurrent use.
type Binding = ffi.Binding

// Buffer is memory native code may write through.
type Buffer = ffi.Buffer

// Tag is a parsed type code.
type Tag = ffi.Tag

// Imports describes argument types: Packed or Codes.
type Imports = ffi.Imports

// Packed holds one type code per character, e.g. "NPI".
type Packed = ffi.Packed

// Codes holds one type code per element, e.g. Codes{"Pointer", "Number"}.
type Codes = ffi.Codes

// Option configures an Engine.
type Option = ffi.Option

// Loader opens libraries and resolves symbols.
type Loader = ffi.Loader

// Convention invokes a native function with marshaled words.
type Convention = ffi.Convention

// Outcome is the raw result of one native invocation.
type Outcome = ffi.Outcome

// Error types.
type (
	NativeSymbolError      = ffi.NativeSymbolError
	TooManyParametersError = ffi.TooManyParametersError
	ArityError             = ffi.ArityError
	TypeCoercionError      = ffi.TypeCoercionError
	UnknownCodeError       = ffi.UnknownCodeError
)

// Type tags.
const (
	Void    = ffi.Void
	Number  = ffi.Number
	Pointer = ffi.Pointer
	Integer = ffi.Integer
	Bool    = ffi.Bool
)

// Sentinel errors, for use with errors.Is.
var (
	ErrNativeSymbol          = ffi.ErrNativeSymbol
	ErrTooManyParameters     = ffi.ErrTooManyParameters
	ErrArity                 = ffi.ErrArity
	ErrTypeCoercion          = ffi.ErrTypeCoercion
	ErrUnknownTypeCode       = ffi.ErrUnknownTypeCode
	ErrBufferBusy            = ffi.ErrBufferBusy
	ErrConventionUnsupported = ffi.ErrConventionUnsupported
	ErrClosed                = ffi.ErrClosed
)

// -----------------------------------------------------------------------------
// Engine Options
// -----------------------------------------------------------------------------

// WithLoader replaces the host dynamic loader.
func WithLoader(l Loader) Option { return ffi.WithLoader(l) }

// WithConvention selects the adapter used for every call.
func WithConvention(c Convention) Option { return ffi.WithConvention(c) }

// WithFixedArity selects the fixed-arity adapter (at most 8 arguments).
func WithFixedArity() Option { return ffi.WithFixedArity() }

// WithStackPush selects the stack-push adapter (at most 32 arguments, amd64).
func WithStackPush() Option { return ffi.WithStackPush() }

// WithStrictTags rejects unknown type codes instead of dropping them.
func WithStrictTags() Option { return ffi.WithStrictTags() }

// WithAnsiFallback retries a failed "Name" lookup as "NameA".
func WithAnsiFallback(enabled bool) Option { return ffi.WithAnsiFallback(enabled) }

// WithLogger sets the logger for bind, unload and stack repair events.
func WithLogger(l *slog.Logger) Option { return ffi.WithLogger(l) }

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

// NewEngine returns an engine configured by opts.
func NewEngine(opts ...Option) (*Engine, error) {
	return ffi.NewEngine(opts...)
}

var defaultEngine = sync.OnceValues(func() (*Engine, error) {
	return ffi.NewEngine()
})

// Default returns the engine used by New, creating it on first use.
func Default() (*Engine, error) {
	return defaultEngine()
}

// New binds function in library using the default engine.
func New(library, function string, imports Imports, export string) (*Binding, error) {
	e, err := defaultEngine()
	if err != nil {
		return nil, err
	}
	return e.Bind(library, function, imports, export)
}

// NewBuffer allocates a zeroed buffer of size bytes.
func NewBuffer(size int) *Buffer { return ffi.NewBuffer(size) }

// BufferFromString copies s into a new NUL-terminated buffer.
func BufferFromString(s string) *Buffer { return ffi.BufferFromString(s) }

// ParseImports converts an import description into tags, dropping unknown codes.
func ParseImports(spec Imports) []Tag { return ffi.ParseImports(spec) }

// ParseExport converts a return type code; unknown codes mean Void.
func ParseExport(code string) Tag { return ffi.ParseExport(code) }
