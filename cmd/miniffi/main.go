package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"strconv"
	"strings"

	slogmulti "github.com/samber/slog-multi"

	"github.com/tinyrange/miniffi/internal/ffi"
	"github.com/tinyrange/miniffi/internal/manifest"
	"github.com/tinyrange/miniffi/internal/starffi"
	"github.com/tinyrange/miniffi/internal/trace"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "miniffi: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	imports := flag.String("imports", "", "argument type codes, e.g. NPI")
	exports := flag.String("exports", "", "return type code (N, P, I, B or V)")
	convention := flag.String("convention", "", "calling convention adapter: fixed or stack (default per platform)")
	strict := flag.Bool("strict", false, "reject unknown type codes")
	manifestPath := flag.String("manifest", "", "YAML file declaring bindings")
	callName := flag.String("call", "", "name of the manifest binding to call")
	script := flag.String("script", "", "run a Starlark script")
	interactive := flag.Bool("repl", false, "start a Starlark REPL")
	tracePath := flag.String("trace", "", "record every native call to this file")
	debugLog := flag.Bool("debug", false, "enable debug logging")
	logFile := flag.String("log-file", "", "also write JSON logs to this file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `miniffi - call native library functions

USAGE:
  miniffi [flags] <library> <function> [args...]
  miniffi -manifest bindings.yaml -call <name> [args...]
  miniffi -script file.star
  miniffi -repl

ARGUMENTS:
  Arguments are parsed according to -imports:
    N, L, I   integer (decimal, 0x hex, 0o octal, 0b binary; negatives wrap)
    B         true/false or an integer
    P         a string (passed as a NUL-terminated copy), null, or
              buf:SIZE for a writable buffer printed after the call

FLAGS:
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	logger, closeLog, err := setupLogging(*debugLog, *logFile)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	if *tracePath != "" {
		if err := trace.OpenFile(*tracePath); err != nil {
			return fmt.Errorf("open trace: %w", err)
		}
		defer trace.Close()
	}

	var m *manifest.Manifest
	if *manifestPath != "" {
		loaded, err := manifest.Load(*manifestPath)
		if err != nil {
			return err
		}
		m = &loaded
	}

	var opts []ffi.Option
	if m != nil {
		opts = append(opts, m.Options()...)
	}
	switch *convention {
	case "":
	case "fixed":
		opts = append(opts, ffi.WithFixedArity())
	case "stack":
		opts = append(opts, ffi.WithStackPush())
	default:
		return fmt.Errorf("unknown convention %q", *convention)
	}
	if *strict {
		opts = append(opts, ffi.WithStrictTags())
	}
	opts = append(opts, ffi.WithLogger(logger))

	engine, err := ffi.NewEngine(opts...)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer engine.Close()

	switch {
	case *script != "":
		h := starffi.NewHost(engine, os.Stdout)
		defer h.Close()
		_, err := h.Exec(*script, nil)
		return err

	case *interactive:
		h := starffi.NewHost(engine, os.Stdout)
		defer h.Close()
		return h.REPL()

	case m != nil:
		set, err := m.Bind(engine)
		if err != nil {
			return err
		}
		defer set.Close()

		if *callName == "" {
			for _, name := range set.Names() {
				b, _ := set.Get(name)
				fmt.Printf("%s\t%s\n", name, b)
			}
			return nil
		}
		b, ok := set.Get(*callName)
		if !ok {
			return fmt.Errorf("manifest has no binding %q", *callName)
		}
		return callAndPrint(os.Stdout, b, flag.Args())
	}

	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(2)
	}

	b, err := engine.Bind(flag.Arg(0), flag.Arg(1), ffi.Packed(*imports), *exports)
	if err != nil {
		return err
	}
	defer b.Close()

	return callAndPrint(os.Stdout, b, flag.Args()[2:])
}

func setupLogging(debug bool, logFile string) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	}
	closeLog := func() {}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
		closeLog = func() { f.Close() }
	}

	return slog.New(slogmulti.Fanout(handlers...)), closeLog, nil
}

func callAndPrint(w io.Writer, b *ffi.Binding, raw []string) error {
	tags := b.Imports()
	if len(raw) != len(tags) {
		return &ffi.ArityError{Expected: len(tags), Got: len(raw)}
	}

	args := make([]any, len(raw))
	var buffers []*ffi.Buffer
	for i, s := range raw {
		v, err := parseArg(tags[i], s)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
		if buf, ok := v.(*ffi.Buffer); ok {
			buffers = append(buffers, buf)
		}
		args[i] = v
	}

	result, err := b.Call(args...)
	if err != nil {
		return err
	}

	if b.Export() != ffi.Void {
		switch r := result.(type) {
		case uint64:
			fmt.Fprintf(w, "%d (%#x)\n", r, r)
		default:
			fmt.Fprintln(w, r)
		}
	}
	for i, buf := range buffers {
		fmt.Fprintf(w, "buf%d: %q\n", i, buf.String())
	}
	return nil
}

var errBadNumber = errors.New("not a number")

func parseNumber(s string) (any, error) {
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return v, nil
	}
	if v, err := strconv.ParseUint(s, 0, 64); err == nil {
		return v, nil
	}
	if n, ok := new(big.Int).SetString(s, 0); ok {
		return n, nil
	}
	return nil, fmt.Errorf("%q: %w", s, errBadNumber)
}

func parseArg(tag ffi.Tag, s string) (any, error) {
	switch tag {
	case ffi.Pointer:
		if s == "null" {
			return nil, nil
		}
		if size, ok := strings.CutPrefix(s, "buf:"); ok {
			n, err := strconv.Atoi(size)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid buffer size %q", size)
			}
			return ffi.NewBuffer(n), nil
		}
		return s, nil
	case ffi.Bool:
		if v, err := strconv.ParseBool(s); err == nil {
			return v, nil
		}
		return parseNumber(s)
	default:
		return parseNumber(s)
	}
}
