package ffi

import (
	"errors"
	"math"
	"math/big"
	"testing"
	"unsafe"
)

func marshalOne(t *testing.T, tag Tag, v any) uintptr {
	t.Helper()
	f := NewFrame(1)
	defer f.Release()
	w, err := f.Marshal(tag, v)
	if err != nil {
		t.Fatalf("Marshal(%v, %v): %v", tag, v, err)
	}
	return w
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		tag  Tag
		in   any
		want any
	}{
		{Number, 7, uint64(7)},
		{Number, uint8(255), uint64(255)},
		{Number, 3.9, uint64(3)},
		{Number, big.NewInt(42), uint64(42)},
		{Integer, 0x1_0000_0005, uint64(5)},
		{Integer, int32(-1), uint64(0xFFFFFFFF)},
		{Bool, true, true},
		{Bool, false, false},
		{Bool, 0, false},
		{Bool, "x", true},
		{Bool, nil, false},
	}
	for _, tt := range tests {
		got := Coerce(tt.tag, marshalOne(t, tt.tag, tt.in))
		if got != tt.want {
			t.Fatalf("coerce(%v, marshal(%v))=%v (%T), want %v", tt.tag, tt.in, got, got, tt.want)
		}
	}
}

func TestNumberWraps(t *testing.T) {
	if got := marshalOne(t, Number, -1); got != ^uintptr(0) {
		t.Fatalf("Number(-1)=%#x, want all ones", got)
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 80)
	huge.Add(huge, big.NewInt(9))
	if got := marshalOne(t, Number, huge); got != 9 {
		t.Fatalf("Number(2^80+9)=%d, want 9", got)
	}
	if got := marshalOne(t, Number, -2.7); got != ^uintptr(0)-1 {
		t.Fatalf("Number(-2.7)=%#x, want -2", got)
	}
}

func TestNumericTagRejectsNonNumbers(t *testing.T) {
	for _, v := range []any{nil, true, "12", []byte{1}, math.NaN(), math.Inf(1), struct{}{}} {
		f := NewFrame(1)
		_, err := f.Marshal(Number, v)
		f.Release()

		var coerceErr *TypeCoercionError
		if !errors.As(err, &coerceErr) {
			t.Fatalf("Marshal(Number, %#v): got %v, want TypeCoercionError", v, err)
		}
		if !errors.Is(err, ErrTypeCoercion) {
			t.Fatalf("Marshal(Number, %#v): error does not wrap ErrTypeCoercion", v)
		}
	}
}

func TestCoercionErrorIndex(t *testing.T) {
	f := NewFrame(2)
	defer f.Release()
	if _, err := f.Marshal(Number, 1); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	_, err := f.Marshal(Integer, "nope")
	var coerceErr *TypeCoercionError
	if !errors.As(err, &coerceErr) || coerceErr.Index != 1 || coerceErr.Tag != Integer {
		t.Fatalf("got %v", err)
	}
}

func TestPointerValues(t *testing.T) {
	f := NewFrame(4)
	defer f.Release()

	if w, _ := f.Marshal(Pointer, nil); w != 0 {
		t.Fatalf("nil pointer=%#x", w)
	}
	if w, _ := f.Marshal(Pointer, 0x1234); w != 0x1234 {
		t.Fatalf("integer pointer=%#x", w)
	}

	x := 5
	if w, _ := f.Marshal(Pointer, unsafe.Pointer(&x)); w != uintptr(unsafe.Pointer(&x)) {
		t.Fatalf("unsafe.Pointer not passed through")
	}

	w, err := f.Marshal(Pointer, "hello")
	if err != nil {
		t.Fatalf("Marshal(string): %v", err)
	}
	if got := CString(w); got != "hello" {
		t.Fatalf("CString=%q, want hello", got)
	}

	if _, err := f.Marshal(Pointer, 1.5); !errors.Is(err, ErrTypeCoercion) {
		t.Fatalf("float pointer: got %v", err)
	}
}

func TestPointerLendsBytes(t *testing.T) {
	data := []byte("abc\x00")
	f := NewFrame(1)
	w, err := f.Marshal(Pointer, data)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if w != uintptr(unsafe.Pointer(&data[0])) {
		t.Fatalf("[]byte was copied")
	}
	*(*byte)(unsafe.Pointer(w)) = 'X'
	f.Release()

	if string(data[:3]) != "Xbc" {
		t.Fatalf("write not visible: %q", data)
	}

	g := NewFrame(1)
	defer g.Release()
	if w, err := g.Marshal(Pointer, []byte{}); err != nil || w == 0 {
		t.Fatalf("empty slice: %#x, %v", w, err)
	}
}

func TestPointerZeroBuffer(t *testing.T) {
	var zero Buffer
	for _, v := range []any{new(Buffer), &zero} {
		f := NewFrame(1)
		w, err := f.Marshal(Pointer, v)
		if err != nil || w == 0 {
			t.Fatalf("zero buffer: %#x, %v", w, err)
		}
		if got := CString(w); got != "" {
			t.Fatalf("zero buffer reads %q", got)
		}
		f.Release()
	}
	if zero.Lent() {
		t.Fatalf("zero buffer still lent after Release")
	}
}

func TestReleaseScrubsPrivateCopies(t *testing.T) {
	f := NewFrame(1)
	w, err := f.Marshal(Pointer, "secret")
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	copied := unsafe.Slice((*byte)(unsafe.Pointer(w)), 7)
	f.Release()
	for i, c := range copied {
		if c != 0 {
			t.Fatalf("byte %d=%q after Release", i, c)
		}
	}
}

func TestBufferBorrowing(t *testing.T) {
	buf := BufferFromString("hi")

	f := NewFrame(2)
	if _, err := f.Marshal(Pointer, buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !buf.Lent() {
		t.Fatalf("buffer not marked lent")
	}
	// The same buffer twice in one call aliases, it does not conflict.
	if _, err := f.Marshal(Pointer, buf); err != nil {
		t.Fatalf("second Marshal in same frame: %v", err)
	}

	g := NewFrame(1)
	if _, err := g.Marshal(Pointer, buf); !errors.Is(err, ErrBufferBusy) {
		t.Fatalf("concurrent lend: got %v, want ErrBufferBusy", err)
	}
	g.Release()

	f.Release()
	if buf.Lent() {
		t.Fatalf("buffer still lent after Release")
	}

	h := NewFrame(1)
	defer h.Release()
	if _, err := h.Marshal(Pointer, buf); err != nil {
		t.Fatalf("lend after release: %v", err)
	}
}

func TestBufferString(t *testing.T) {
	b := NewBuffer(8)
	copy(b.Bytes(), "abc")
	if b.String() != "abc" || b.Len() != 8 {
		t.Fatalf("String=%q Len=%d", b.String(), b.Len())
	}
	if NewBuffer(0).Len() != 1 || BufferFromBytes(nil).Len() != 1 {
		t.Fatalf("empty buffers must still have an address")
	}
	if BufferFromBytes([]byte("xy")).String() != "xy" {
		t.Fatalf("BufferFromBytes lost data")
	}
}

func TestCoerce(t *testing.T) {
	if got := Coerce(Void, 99); got != uint64(0) {
		t.Fatalf("Void=%v", got)
	}
	if got := Coerce(Tag(42), 99); got != uint64(0) {
		t.Fatalf("unknown tag=%v", got)
	}
	if got := Coerce(Pointer, 0); got != "" {
		t.Fatalf("Pointer(0)=%q", got)
	}
	if got := Coerce(Bool, 2); got != true {
		t.Fatalf("Bool(2)=%v", got)
	}
}

func TestTruthy(t *testing.T) {
	type myInt int
	falsy := []any{nil, false, 0, uint(0), 0.0, "", []byte{}, big.NewInt(0), myInt(0), (*Buffer)(nil)}
	truthy := []any{true, 1, -1, 0.5, "0", []byte{0}, big.NewInt(3), myInt(2), NewBuffer(1), struct{}{}}
	for _, v := range falsy {
		if Truthy(v) {
			t.Fatalf("Truthy(%#v)=true", v)
		}
	}
	for _, v := range truthy {
		if !Truthy(v) {
			t.Fatalf("Truthy(%#v)=false", v)
		}
	}
}
