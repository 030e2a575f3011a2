//go:build ignore

// This file demonstrates every public API in the miniffi package.
// It is excluded from the build and serves as a reference and compile-time check.

package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/tinyrange/miniffi"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func libc() string {
	switch runtime.GOOS {
	case "darwin":
		return "/usr/lib/libSystem.B.dylib"
	case "windows":
		return "msvcrt.dll"
	default:
		return "libc.so.6"
	}
}

func run() error {
	// =========================================================================
	// New - bind with the default engine
	// =========================================================================
	strlen, err := miniffi.New(libc(), "strlen", miniffi.Packed("P"), "N")
	if err != nil {
		return fmt.Errorf("bind strlen: %w", err)
	}
	defer strlen.Close()

	n, err := strlen.Call("hello")
	if err != nil {
		return err
	}
	fmt.Println("strlen(hello) =", n)

	// =========================================================================
	// NewEngine - explicit convention, strict codes
	// =========================================================================
	engine, err := miniffi.NewEngine(miniffi.WithFixedArity(), miniffi.WithStrictTags())
	if err != nil {
		return err
	}
	defer engine.Close()
	fmt.Println("engine:", engine.Convention().Name(), "max args:", engine.MaxArgs())

	if _, err := engine.Bind(libc(), "strlen", miniffi.Packed("Q"), "N"); errors.Is(err, miniffi.ErrUnknownTypeCode) {
		fmt.Println("strict mode rejected Q:", err)
	}

	// =========================================================================
	// Buffers - native code writes into caller memory
	// =========================================================================
	strcpy, err := engine.Bind(libc(), "strcpy", miniffi.Codes{"Pointer", "Pointer"}, "P")
	if err != nil {
		return err
	}
	defer strcpy.Close()

	dst := miniffi.NewBuffer(32)
	copied, err := strcpy.Call(dst, "written by native code")
	if err != nil {
		return err
	}
	fmt.Printf("strcpy returned %q, buffer holds %q\n", copied, dst.String())

	// =========================================================================
	// Errors
	// =========================================================================
	_, err = strlen.Call("a", "b")
	var arity *miniffi.ArityError
	if errors.As(err, &arity) {
		fmt.Printf("arity: expected %d, got %d\n", arity.Expected, arity.Got)
	}

	_, err = engine.Bind(libc(), "strlen", miniffi.Packed("NNNNNNNNN"), "N")
	var tooMany *miniffi.TooManyParametersError
	if errors.As(err, &tooMany) {
		fmt.Println(tooMany)
	}

	_, err = miniffi.New("libmissing.so", "f", nil, "")
	var symErr *miniffi.NativeSymbolError
	if errors.As(err, &symErr) {
		fmt.Println("loader said:", symErr.Diagnostic)
	}

	// =========================================================================
	// Stack-push adapter (amd64 only)
	// =========================================================================
	stack, err := miniffi.NewEngine(miniffi.WithStackPush())
	if errors.Is(err, miniffi.ErrConventionUnsupported) {
		fmt.Println("stack-push adapter not available here")
		return nil
	} else if err != nil {
		return err
	}
	defer stack.Close()

	labs, err := stack.Bind(libc(), "labs", miniffi.Packed("N"), "N")
	if err != nil {
		return err
	}
	defer labs.Close()

	v, err := labs.Call(-42)
	if err != nil {
		return err
	}
	fmt.Println("labs(-42) =", v)

	return nil
}
