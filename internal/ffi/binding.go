package ffi

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/tinyrange/miniffi/internal/trace"
)

// Binding is a resolved native function with its argument and return tags.
// Its shape never changes after Bind. A Binding may be called from several
// goroutines; it adds no locking around the native function itself.
type Binding struct {
	engine   *Engine
	library  string
	function string
	symbol   string
	source   string

	address uintptr
	imports []Tag
	export  Tag

	lib     *libraryRef
	cleanup runtime.Cleanup

	// mu is held shared by every in-flight call and exclusively by Close.
	mu     sync.RWMutex
	closed bool
}

// libraryRef is the part of a binding its cleanup may touch.
type libraryRef struct {
	loader Loader
	handle uintptr
	log    *slog.Logger
	name   string
}

func (l *libraryRef) unload() {
	if err := l.loader.Unload(l.handle); err != nil {
		l.log.Warn("unload native library", "library", l.name, "error", err)
		return
	}
	trace.Note(l.name, "unloaded")
	l.log.Debug("unloaded native library", "library", l.name)
}

// Bind loads library, resolves function in it and parses the type codes. On
// any failure the library is released before returning.
func (e *Engine) Bind(library, function string, imports Imports, export string) (*Binding, error) {
	handle, err := e.loader.Load(library)
	if err != nil {
		return nil, &NativeSymbolError{Library: library, Diagnostic: err.Error()}
	}
	lib := &libraryRef{loader: e.loader, handle: handle, log: e.log, name: library}

	b, err := e.bind(lib, library, function, imports, export)
	if err != nil {
		lib.unload()
		return nil, err
	}

	b.cleanup = runtime.AddCleanup(b, (*libraryRef).unload, lib)

	trace.Notef(b.source, "bound %s(%s) %s at %#x", b.symbol, FormatTags(b.imports), b.export, b.address)
	e.log.Debug("bound native function",
		"library", library,
		"function", b.symbol,
		"imports", FormatTags(b.imports),
		"export", b.export.String(),
		"address", fmt.Sprintf("%#x", b.address),
	)
	return b, nil
}

func (e *Engine) bind(lib *libraryRef, library, function string, imports Imports, export string) (*Binding, error) {
	symbol := function
	addr, err := e.loader.Resolve(lib.handle, symbol)
	if (err != nil || addr == 0) && e.ansiFallback {
		if a, aerr := e.loader.Resolve(lib.handle, function+"A"); aerr == nil && a != 0 {
			symbol, addr, err = function+"A", a, nil
		}
	}
	if err != nil {
		return nil, &NativeSymbolError{Library: library, Symbol: function, Diagnostic: err.Error()}
	}
	if addr == 0 {
		return nil, &NativeSymbolError{
			Library:    library,
			Symbol:     function,
			Diagnostic: fmt.Sprintf("%s: symbol %s resolved to a null address", library, function),
		}
	}

	var (
		tags []Tag
		ret  Tag
	)
	if e.strict {
		if tags, err = ParseImportsStrict(imports); err != nil {
			return nil, err
		}
		if ret, err = ParseExportStrict(export); err != nil {
			return nil, err
		}
	} else {
		tags = ParseImports(imports)
		ret = ParseExport(export)
	}

	if limit := e.conv.MaxArgs(); len(tags) > limit {
		return nil, &TooManyParametersError{Got: len(tags), Max: limit}
	}

	return &Binding{
		engine:   e,
		library:  library,
		function: function,
		symbol:   symbol,
		source:   library + "!" + symbol,
		address:  addr,
		imports:  tags,
		export:   ret,
		lib:      lib,
	}, nil
}

// Call marshals args under the import tags, invokes the function and
// coerces the result under the export tag. len(args) must equal the number
// of import tags.
func (b *Binding) Call(args ...any) (any, error) {
	frame := NewFrame(len(args))
	defer frame.Release()

	word, err := b.invoke(frame, args)
	if err != nil {
		return nil, err
	}
	// A Pointer result may point into the frame, so it is read before Release.
	return Coerce(b.export, word), nil
}

// CallWord is Call without result coercion. The returned word must not be
// dereferenced if it may point at memory marshaled for this call.
func (b *Binding) CallWord(args ...any) (uintptr, error) {
	frame := NewFrame(len(args))
	defer frame.Release()

	return b.invoke(frame, args)
}

func (b *Binding) invoke(frame *Frame, args []any) (uintptr, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, ErrClosed
	}
	if len(args) != len(b.imports) {
		return 0, &ArityError{Expected: len(b.imports), Got: len(args)}
	}

	for i, arg := range args {
		if _, err := frame.Marshal(b.imports[i], arg); err != nil {
			return 0, err
		}
	}

	start := time.Now()
	out, err := b.engine.conv.Invoke(b.address, frame.Words())
	elapsed := time.Since(start)
	if err != nil {
		return 0, fmt.Errorf("call %s: %w", b.source, err)
	}

	if out.Repaired {
		b.engine.log.Debug("restored stack pointer after native call",
			"function", b.source,
			"drift", out.Drift,
		)
	}
	if trace.Enabled() {
		words := frame.Words()
		traced := make([]uint64, len(words))
		for i, w := range words {
			traced[i] = uint64(w)
		}
		trace.RecordCall(b.source, trace.Call{
			Args:     traced,
			Result:   uint64(out.Word),
			Repaired: out.Repaired,
			Drift:    out.Drift,
			Elapsed:  elapsed,
		})
	}

	// The cleanup must not unload the library while the call is running.
	runtime.KeepAlive(b)
	return out.Word, nil
}

// Address returns the resolved entry point.
func (b *Binding) Address() uintptr { return b.address }

// Imports returns a copy of the argument tags.
func (b *Binding) Imports() []Tag { return append([]Tag(nil), b.imports...) }

// Export returns the return tag.
func (b *Binding) Export() Tag { return b.export }

// Library returns the library path the binding was created with.
func (b *Binding) Library() string { return b.library }

// Function returns the requested function name.
func (b *Binding) Function() string { return b.function }

// Symbol returns the name that actually resolved, which differs from
// Function when the ANSI fallback was used.
func (b *Binding) Symbol() string { return b.symbol }

func (b *Binding) String() string {
	return fmt.Sprintf("%s(%s) %s", b.source, FormatTags(b.imports), b.export)
}

// Close releases the library handle once every in-flight call has
// returned. It is safe to call more than once; calls made afterwards fail
// with ErrClosed.
func (b *Binding) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.cleanup.Stop()
	if err := b.lib.loader.Unload(b.lib.handle); err != nil {
		return fmt.Errorf("unload %s: %w", b.library, err)
	}
	trace.Note(b.source, "unloaded")
	b.engine.log.Debug("unloaded native library", "library", b.library)
	return nil
}
