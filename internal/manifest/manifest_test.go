package manifest

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tinyrange/miniffi/internal/ffi"
	"github.com/tinyrange/miniffi/internal/ffi/ffitest"
)

const sample = `version: 1
convention: fixed
strict: true
bindings:
  - name: add
    library: libtest.so
    function: add
    imports: NN
    exports: N
  - name: strlen
    library: libtest.so
    function: strlen
    imports: [Pointer]
    exports: N
  - name: beep
    library: libtest.so
    function: beep
`

func testHost() *ffitest.Host {
	h := ffitest.New()
	h.Define("libtest.so", "add", func(w []uintptr) uintptr { return w[0] + w[1] })
	h.Define("libtest.so", "strlen", func(w []uintptr) uintptr { return uintptr(ffitest.CStringLen(w[0])) })
	h.Define("libtest.so", "beep", func(w []uintptr) uintptr { return 1 })
	return h
}

func TestParse(t *testing.T) {
	m, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Convention != "fixed" || !m.Strict || len(m.Bindings) != 3 {
		t.Fatalf("got %+v", m)
	}
	if got := m.Bindings[0].Imports.String(); got != "NN" {
		t.Fatalf("packed imports=%q", got)
	}
	if got := m.Bindings[1].Imports.String(); got != "P" {
		t.Fatalf("list imports=%q", got)
	}
	if !m.Bindings[2].Imports.IsZero() || m.Bindings[2].Exports != "" {
		t.Fatalf("beep should have no imports and a void export")
	}
	if len(m.Options()) != 2 {
		t.Fatalf("Options()=%d entries, want 2", len(m.Options()))
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]string{
		"version":    "version: 2\nbindings: []\n",
		"convention": "convention: cdecl\nbindings: []\n",
		"no name":    "bindings:\n  - library: a\n    function: f\n",
		"duplicate":  "bindings:\n  - {name: f, library: a, function: f}\n  - {name: f, library: a, function: g}\n",
		"no library": "bindings:\n  - {name: f, function: f}\n",
		"imports":    "bindings:\n  - {name: f, library: a, function: f, imports: {a: b}}\n",
	}
	for name, doc := range tests {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	_, err := Parse([]byte("bindings:\n  - {library: a, function: f}\n  - {library: a, function: g}\n"))
	if err == nil {
		t.Fatalf("two unnamed bindings: expected error")
	}
	if strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("unnamed bindings reported as duplicates: %v", err)
	}
	if n := strings.Count(err.Error(), "missing name"); n != 2 {
		t.Fatalf("missing name reported %d times: %v", n, err)
	}

	m, err := Parse([]byte("bindings: []\n"))
	if err != nil {
		t.Fatalf("empty manifest: %v", err)
	}
	if m.Version != CurrentVersion {
		t.Fatalf("Version=%d", m.Version)
	}
}

func TestWriteAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bindings.yaml")
	want := Manifest{
		Convention: "stack",
		Bindings: []Entry{
			{Name: "a", Library: "liba.so", Function: "a", Imports: PackedImports("PN"), Exports: "I"},
			{Name: "b", Library: "liba.so", Function: "b", Imports: ListImports("Pointer", "Bool")},
		},
	}
	if err := Write(path, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Version != 1 || got.Convention != "stack" || len(got.Bindings) != 2 {
		t.Fatalf("got %+v", got)
	}
	if got.Bindings[0].Imports.String() != "PN" || got.Bindings[1].Imports.String() != "PB" {
		t.Fatalf("imports=%s,%s", got.Bindings[0].Imports, got.Bindings[1].Imports)
	}
	if got.Bindings[0].Exports != "I" {
		t.Fatalf("exports=%q", got.Bindings[0].Exports)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestBind(t *testing.T) {
	m, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	h := testHost()
	e, err := ffi.NewEngine(append(m.Options(), ffi.WithLoader(h), ffi.WithConvention(h))...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close()

	set, err := m.Bind(e)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if strings.Join(set.Names(), ",") != "add,strlen,beep" {
		t.Fatalf("Names()=%v", set.Names())
	}

	strlen, ok := set.Get("strlen")
	if !ok {
		t.Fatalf("strlen not bound")
	}
	if got, err := strlen.Call("four"); err != nil || got != uint64(4) {
		t.Fatalf("strlen(four)=%v, %v", got, err)
	}
	if _, ok := set.Get("nope"); ok {
		t.Fatalf("Get(nope) succeeded")
	}

	if err := set.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if h.OpenHandles() != 0 {
		t.Fatalf("OpenHandles=%d after Close", h.OpenHandles())
	}
}

func TestBindIsAllOrNothing(t *testing.T) {
	m := Manifest{
		Version: 1,
		Bindings: []Entry{
			{Name: "add", Library: "libtest.so", Function: "add", Imports: PackedImports("NN"), Exports: "N"},
			{Name: "gone", Library: "libtest.so", Function: "gone"},
		},
	}
	h := testHost()
	e, _ := ffi.NewEngine(ffi.WithLoader(h), ffi.WithConvention(h), ffi.WithAnsiFallback(false))
	defer e.Close()

	_, err := m.Bind(e)
	if !errors.Is(err, ffi.ErrNativeSymbol) {
		t.Fatalf("got %v, want ErrNativeSymbol", err)
	}
	if !strings.Contains(err.Error(), "bind gone") {
		t.Fatalf("error does not name the entry: %v", err)
	}
	if h.OpenHandles() != 0 {
		t.Fatalf("OpenHandles=%d after failed Bind", h.OpenHandles())
	}
}
