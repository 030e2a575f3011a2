package ffi

import (
	"errors"
	"math"
	"math/big"
	"math/bits"
	"reflect"
	"unsafe"
)

var (
	errNotNumeric = errors.New("value is not numeric")
	errNotFinite  = errors.New("value is not finite")
	errNotAddress = errors.New("value is not an address")
)

var wordMask = new(big.Int).SetUint64(math.MaxUint64 >> (64 - bits.UintSize))

// wordFromBig wraps n to the native word width using two's complement.
func wordFromBig(n *big.Int) uintptr {
	return uintptr(new(big.Int).And(n, wordMask).Uint64())
}

func wordFromFloat(f float64) (uintptr, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNotFinite
	}
	f = math.Trunc(f)
	if f >= math.MinInt64 && f < math.MaxInt64 {
		return uintptr(int64(f)), nil
	}
	n, _ := big.NewFloat(f).Int(nil)
	return wordFromBig(n), nil
}

// numericWord converts a numeric value to a native word, wrapping on overflow.
func numericWord(v any) (uintptr, error) {
	switch n := v.(type) {
	case int:
		return uintptr(n), nil
	case int8:
		return uintptr(n), nil
	case int16:
		return uintptr(n), nil
	case int32:
		return uintptr(n), nil
	case int64:
		return uintptr(n), nil
	case uint:
		return uintptr(n), nil
	case uint8:
		return uintptr(n), nil
	case uint16:
		return uintptr(n), nil
	case uint32:
		return uintptr(n), nil
	case uint64:
		return uintptr(n), nil
	case uintptr:
		return n, nil
	case float32:
		return wordFromFloat(float64(n))
	case float64:
		return wordFromFloat(n)
	case *big.Int:
		if n == nil {
			return 0, errNotNumeric
		}
		return wordFromBig(n), nil
	case nil, bool, string, []byte:
		return 0, errNotNumeric
	}

	// named numeric types
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uintptr(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return uintptr(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return wordFromFloat(rv.Float())
	}
	return 0, errNotNumeric
}

// addressWord converts a value that already is an address or an integer.
func addressWord(v any) (uintptr, error) {
	switch p := v.(type) {
	case unsafe.Pointer:
		return uintptr(p), nil
	case float32, float64:
		return 0, errNotAddress
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Float32 || rv.Kind() == reflect.Float64 {
		return 0, errNotAddress
	}
	w, err := numericWord(v)
	if err != nil {
		return 0, errNotAddress
	}
	return w, nil
}

// Truthy reports whether v counts as true: nil, false, numeric zero and empty
// strings or byte slices are false, everything else is true.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []byte:
		return len(t) > 0
	case *big.Int:
		return t != nil && t.Sign() != 0
	case *Buffer:
		return t != nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.String:
		return rv.Len() > 0
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}
