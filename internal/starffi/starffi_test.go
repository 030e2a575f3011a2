package starffi

import (
	"bytes"
	"math/big"
	"strings"
	"testing"

	"go.starlark.net/starlark"

	"github.com/tinyrange/miniffi/internal/ffi"
	"github.com/tinyrange/miniffi/internal/ffi/ffitest"
)

const testLib = "libtest.so"

func newTestHost(t *testing.T) (*Host, *ffitest.Host, *bytes.Buffer) {
	t.Helper()
	fake := ffitest.New()
	fake.Define(testLib, "add", func(w []uintptr) uintptr { return w[0] + w[1] })
	fake.Define(testLib, "identity", func(w []uintptr) uintptr { return w[0] })
	fake.Define(testLib, "is_set", func(w []uintptr) uintptr { return w[0] })
	fake.Define(testLib, "fill", func(w []uintptr) uintptr {
		mem := ffitest.Bytes(w[0], int(w[1]))
		for i := range mem[:len(mem)-1] {
			mem[i] = 'z'
		}
		mem[len(mem)-1] = 0
		return 0
	})
	fake.Define(testLib, "MessageBoxA", func(w []uintptr) uintptr { return 1 })

	e, err := ffi.NewEngine(ffi.WithLoader(fake), ffi.WithConvention(fake), ffi.WithAnsiFallback(true))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	var out bytes.Buffer
	h := NewHost(e, &out)
	t.Cleanup(func() {
		h.Close()
		e.Close()
	})
	return h, fake, &out
}

func TestScriptCalls(t *testing.T) {
	h, _, out := newTestHost(t)

	globals, err := h.Exec("test.star", `
add = MiniFFI("libtest.so", "add", "NN", "N")
sum = add(3, 4)
via_call = add.call(1, 2)
via_Call = add.Call(5, 5)
echo = MiniFFI("libtest.so", "identity", ["Pointer"], "P")("hello")
flag = MiniFFI("libtest.so", "is_set", "B", "B")([1])
print(add.library, add.function, add.imports, add.exports)
`)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}

	checks := map[string]starlark.Value{
		"sum":      starlark.MakeInt(7),
		"via_call": starlark.MakeInt(3),
		"via_Call": starlark.MakeInt(10),
		"echo":     starlark.String("hello"),
		"flag":     starlark.True,
	}
	for name, want := range checks {
		got := globals[name]
		if eq, err := starlark.Equal(got, want); err != nil || !eq {
			t.Fatalf("%s=%v, want %v", name, got, want)
		}
	}

	if got := strings.TrimSpace(out.String()); got != "libtest.so add NN N" {
		t.Fatalf("print output=%q", got)
	}
}

func TestScriptBuffer(t *testing.T) {
	h, _, _ := newTestHost(t)

	globals, err := h.Exec("buffer.star", `
buf = buffer(6)
MiniFFI("libtest.so", "fill", "PN")(buf, buf.size)
text = buf.text()
size = buf.size
seed = buffer("abc").text()
`)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if got := globals["text"]; got != starlark.String("zzzzz") {
		t.Fatalf("text=%v", got)
	}
	if got := globals["seed"]; got != starlark.String("abc") {
		t.Fatalf("seed=%v", got)
	}
}

func TestScriptErrors(t *testing.T) {
	h, fake, _ := newTestHost(t)

	tests := []struct {
		src  string
		want string
	}{
		{`MiniFFI("libtest.so", "add", "NN", "N")(1)`, "wrong number of parameters: expected 2, got 1"},
		{`MiniFFI("libtest.so", "missing")`, "undefined symbol: missing"},
		{`MiniFFI("libtest.so", "add", "NNNNNNNNN")`, "too many parameters: 9/8"},
		{`MiniFFI("libtest.so", "add", "NN")(1, "x")`, "cannot convert string"},
		{`MiniFFI("libtest.so", "add", "NN")(1, {})`, "cannot pass dict"},
		{`MiniFFI("libtest.so", "add", 5)`, "imports: want string or list"},
		{`buffer(None)`, "want int, string or bytes"},
	}
	for _, tt := range tests {
		_, err := h.Exec("err.star", tt.src)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: got %v, want error containing %q", tt.src, err, tt.want)
		}
	}
	if fake.Calls() != 0 {
		t.Fatalf("native code reached on error paths")
	}
}

func TestWin32APIAlias(t *testing.T) {
	h, _, _ := newTestHost(t)
	globals, err := h.Exec("win.star", `r = Win32API("libtest.so", "MessageBox", "PPPN", "N")(None, "hi", "t", 0)`)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if eq, _ := starlark.Equal(globals["r"], starlark.MakeInt(1)); !eq {
		t.Fatalf("r=%v", globals["r"])
	}
}

func TestHostCloseReleasesBindings(t *testing.T) {
	h, fake, _ := newTestHost(t)
	if _, err := h.Exec("open.star", `
a = MiniFFI("libtest.so", "add", "NN", "N")
b = MiniFFI("libtest.so", "identity", "P", "P")
`); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if fake.OpenHandles() != 2 {
		t.Fatalf("OpenHandles=%d, want 2", fake.OpenHandles())
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if fake.OpenHandles() != 0 {
		t.Fatalf("OpenHandles=%d after Close", fake.OpenHandles())
	}
}

func TestScriptClose(t *testing.T) {
	h, _, _ := newTestHost(t)
	_, err := h.Exec("close.star", `
add = MiniFFI("libtest.so", "add", "NN", "N")
add.close()
add(1, 2)
`)
	if err == nil || !strings.Contains(err.Error(), ffi.ErrClosed.Error()) {
		t.Fatalf("got %v, want closed error", err)
	}
}

func TestFromStarlark(t *testing.T) {
	v, err := fromStarlark(ffi.Number, starlark.MakeUint64(1<<64-1))
	if err != nil {
		t.Fatalf("fromStarlark: %v", err)
	}
	if _, ok := v.(*big.Int); !ok {
		t.Fatalf("large int converted to %T, want *big.Int", v)
	}

	if v, _ := fromStarlark(ffi.Number, starlark.MakeInt(-3)); v != int64(-3) {
		t.Fatalf("small int converted to %#v", v)
	}
	if v, _ := fromStarlark(ffi.Bool, starlark.String("")); v != false {
		t.Fatalf("empty string truth=%v", v)
	}
	if v, _ := fromStarlark(ffi.Bool, starlark.NewList(nil)); v != false {
		t.Fatalf("empty list truth=%v", v)
	}
	if v, _ := fromStarlark(ffi.Pointer, starlark.None); v != nil {
		t.Fatalf("None converted to %#v", v)
	}
	if _, err := fromStarlark(ffi.Number, starlark.NewDict(0)); err == nil {
		t.Fatalf("expected error for dict")
	}
}

func TestImportsFromStarlark(t *testing.T) {
	spec, err := importsFromStarlark(starlark.Tuple{starlark.String("Pointer"), starlark.String("Number")})
	if err != nil {
		t.Fatalf("importsFromStarlark: %v", err)
	}
	if got := ffi.FormatTags(ffi.ParseImports(spec)); got != "PN" {
		t.Fatalf("tags=%s", got)
	}
	if spec, _ := importsFromStarlark(starlark.None); spec != nil {
		t.Fatalf("None gave %v", spec)
	}
	if _, err := importsFromStarlark(starlark.NewList([]starlark.Value{starlark.MakeInt(1)})); err == nil {
		t.Fatalf("expected error for non-string code")
	}
}
