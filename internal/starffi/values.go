package starffi

import (
	"fmt"
	"math/big"

	"go.starlark.net/starlark"

	"github.com/tinyrange/miniffi/internal/ffi"
)

// FunctionValue wraps an ffi.Binding for use in Starlark.
type FunctionValue struct {
	Binding *ffi.Binding
}

var (
	_ starlark.Value    = (*FunctionValue)(nil)
	_ starlark.Callable = (*FunctionValue)(nil)
	_ starlark.HasAttrs = (*FunctionValue)(nil)
)

func (f *FunctionValue) String() string        { return fmt.Sprintf("<native_function %s>", f.Binding) }
func (f *FunctionValue) Type() string          { return "native_function" }
func (f *FunctionValue) Freeze()               {}
func (f *FunctionValue) Truth() starlark.Bool  { return true }
func (f *FunctionValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: native_function") }
func (f *FunctionValue) Name() string          { return f.Binding.Function() }

func (f *FunctionValue) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", f.Name())
	}

	imports := f.Binding.Imports()
	converted := make([]any, len(args))
	for i, arg := range args {
		tag := ffi.Number
		if i < len(imports) {
			tag = imports[i]
		}
		v, err := fromStarlark(tag, arg)
		if err != nil {
			return nil, fmt.Errorf("%s: argument %d: %w", f.Name(), i, err)
		}
		converted[i] = v
	}

	result, err := f.Binding.Call(converted...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name(), err)
	}
	return toStarlark(result), nil
}

var functionAttrs = []string{"Call", "call", "close", "exports", "function", "imports", "library"}

func (f *FunctionValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "call", "Call":
		return starlark.NewBuiltin(name, functionCall).BindReceiver(f), nil
	case "close":
		return starlark.NewBuiltin(name, functionClose).BindReceiver(f), nil
	case "library":
		return starlark.String(f.Binding.Library()), nil
	case "function":
		return starlark.String(f.Binding.Function()), nil
	case "imports":
		return starlark.String(ffi.FormatTags(f.Binding.Imports())), nil
	case "exports":
		return starlark.String(string(f.Binding.Export().Code())), nil
	}
	return nil, nil
}

func (f *FunctionValue) AttrNames() []string { return functionAttrs }

func functionCall(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return fn.Receiver().(*FunctionValue).CallInternal(thread, args, kwargs)
}

func functionClose(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	if err := fn.Receiver().(*FunctionValue).Binding.Close(); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

// BufferValue wraps an ffi.Buffer that native code may write through.
type BufferValue struct {
	Buffer *ffi.Buffer
}

var (
	_ starlark.Value    = (*BufferValue)(nil)
	_ starlark.HasAttrs = (*BufferValue)(nil)
)

func (b *BufferValue) String() string        { return fmt.Sprintf("<buffer %d bytes>", b.Buffer.Len()) }
func (b *BufferValue) Type() string          { return "buffer" }
func (b *BufferValue) Freeze()               {}
func (b *BufferValue) Truth() starlark.Bool  { return true }
func (b *BufferValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: buffer") }

var bufferAttrs = []string{"bytes", "size", "text"}

func (b *BufferValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "text":
		return starlark.NewBuiltin(name, bufferText).BindReceiver(b), nil
	case "bytes":
		return starlark.NewBuiltin(name, bufferBytes).BindReceiver(b), nil
	case "size":
		return starlark.MakeInt(b.Buffer.Len()), nil
	}
	return nil, nil
}

func (b *BufferValue) AttrNames() []string { return bufferAttrs }

func bufferText(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.String(fn.Receiver().(*BufferValue).Buffer.String()), nil
}

func bufferBytes(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.Bytes(fn.Receiver().(*BufferValue).Buffer.Bytes()), nil
}

// fromStarlark converts a script value into the Go value marshaled under tag.
// Bool uses Starlark truth, not the engine's rule.
func fromStarlark(tag ffi.Tag, v starlark.Value) (any, error) {
	if tag == ffi.Bool {
		return bool(v.Truth()), nil
	}

	switch v := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(v), nil
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i, nil
		}
		return new(big.Int).Set(v.BigInt()), nil
	case starlark.Float:
		return float64(v), nil
	case starlark.String:
		return string(v), nil
	case starlark.Bytes:
		return []byte(string(v)), nil
	case *BufferValue:
		return v.Buffer, nil
	}
	return nil, fmt.Errorf("cannot pass %s to native code", v.Type())
}

func toStarlark(v any) starlark.Value {
	switch v := v.(type) {
	case uint64:
		return starlark.MakeUint64(v)
	case string:
		return starlark.String(v)
	case bool:
		return starlark.Bool(v)
	}
	return starlark.None
}

// importsFromStarlark accepts None, a packed string, or a list or tuple of codes.
func importsFromStarlark(v starlark.Value) (ffi.Imports, error) {
	switch v := v.(type) {
	case nil, starlark.NoneType:
		return nil, nil
	case starlark.String:
		return ffi.Packed(v), nil
	case starlark.Indexable:
		codes := make(ffi.Codes, v.Len())
		for i := range v.Len() {
			s, ok := starlark.AsString(v.Index(i))
			if !ok {
				return nil, fmt.Errorf("imports[%d]: want string, got %s", i, v.Index(i).Type())
			}
			codes[i] = s
		}
		return codes, nil
	}
	return nil, fmt.Errorf("imports: want string or list of strings, got %s", v.Type())
}
