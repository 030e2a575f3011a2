package ffi

import (
	"errors"
	"io"
	"log/slog"
	"runtime"
)

// Option configures an Engine.
type Option interface {
	IsOption()
}

// WithLoader replaces the host dynamic loader.
func WithLoader(l Loader) Option {
	return &loaderOption{l: l}
}

type loaderOption struct{ l Loader }

func (*loaderOption) IsOption()        {}
func (o *loaderOption) Loader() Loader { return o.l }

// WithConvention selects the adapter used for every call.
func WithConvention(c Convention) Option {
	return &conventionOption{c: c}
}

type conventionOption struct{ c Convention }

func (*conventionOption) IsOption()                {}
func (o *conventionOption) Convention() Convention { return o.c }

// WithFixedArity selects the fixed-arity adapter (at most 8 arguments).
func WithFixedArity() Option {
	return &strategyOption{name: "fixed"}
}

// WithStackPush selects the stack-push adapter (at most 32 arguments).
// NewEngine fails with ErrConventionUnsupported where it is unavailable.
func WithStackPush() Option {
	return &strategyOption{name: "stack"}
}

type strategyOption struct{ name string }

func (*strategyOption) IsOption()          {}
func (o *strategyOption) Strategy() string { return o.name }

// WithStrictTags rejects unrecognized type codes instead of dropping them.
func WithStrictTags() Option {
	return &strictOption{}
}

type strictOption struct{}

func (*strictOption) IsOption()        {}
func (*strictOption) StrictTags() bool { return true }

// WithAnsiFallback controls whether a failed lookup of "Name" is retried as
// "NameA". It is on by default on Windows and off elsewhere.
func WithAnsiFallback(enabled bool) Option {
	return &ansiOption{enabled: enabled}
}

type ansiOption struct{ enabled bool }

func (*ansiOption) IsOption()            {}
func (o *ansiOption) AnsiFallback() bool { return o.enabled }

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return &loggerOption{l: l}
}

type loggerOption struct{ l *slog.Logger }

func (*loggerOption) IsOption()              {}
func (o *loggerOption) Logger() *slog.Logger { return o.l }

type engineConfig struct {
	loader       Loader
	convention   Convention
	strategy     string
	strict       bool
	ansiFallback bool
	logger       *slog.Logger
}

func parseEngineOptions(opts []Option) engineConfig {
	cfg := engineConfig{
		ansiFallback: runtime.GOOS == "windows",
	}

	for _, opt := range opts {
		switch o := opt.(type) {
		case interface{ Loader() Loader }:
			cfg.loader = o.Loader()
		case interface{ Convention() Convention }:
			cfg.convention = o.Convention()
		case interface{ Strategy() string }:
			cfg.strategy = o.Strategy()
		case interface{ StrictTags() bool }:
			cfg.strict = o.StrictTags()
		case interface{ AnsiFallback() bool }:
			cfg.ansiFallback = o.AnsiFallback()
		case interface{ Logger() *slog.Logger }:
			cfg.logger = o.Logger()
		}
	}

	if cfg.loader == nil {
		cfg.loader = SystemLoader()
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return cfg
}

// Engine binds native functions and dispatches their calls through one
// Convention. It is safe for concurrent use.
type Engine struct {
	loader       Loader
	conv         Convention
	owned        io.Closer
	strict       bool
	ansiFallback bool
	log          *slog.Logger
}

// NewEngine returns an engine configured by opts. Without an explicit
// convention it uses the stack-push adapter on windows/amd64 and the
// fixed-arity adapter everywhere else.
func NewEngine(opts ...Option) (*Engine, error) {
	cfg := parseEngineOptions(opts)

	e := &Engine{
		loader:       cfg.loader,
		conv:         cfg.convention,
		strict:       cfg.strict,
		ansiFallback: cfg.ansiFallback,
		log:          cfg.logger,
	}

	if e.conv == nil {
		switch cfg.strategy {
		case "fixed":
			e.conv = FixedArity()
		case "stack":
			sp, err := StackPush()
			if err != nil {
				return nil, err
			}
			e.conv, e.owned = sp, sp
		default:
			e.conv = FixedArity()
			if runtime.GOOS == "windows" && runtime.GOARCH == "amd64" {
				if sp, err := StackPush(); err == nil {
					e.conv, e.owned = sp, sp
				}
			}
		}
	}

	e.log.Debug("ffi engine ready",
		"convention", e.conv.Name(),
		"max_args", e.conv.MaxArgs(),
		"strict", e.strict,
	)
	return e, nil
}

// MaxArgs returns the largest import count a binding may declare.
func (e *Engine) MaxArgs() int {
	return e.conv.MaxArgs()
}

// Convention returns the adapter every call goes through.
func (e *Engine) Convention() Convention {
	return e.conv
}

// Strict reports whether unknown type codes are rejected.
func (e *Engine) Strict() bool {
	return e.strict
}

// Close releases the adapter the engine created. Bindings made by the
// engine must be closed separately.
func (e *Engine) Close() error {
	if e.owned == nil {
		return nil
	}
	owned := e.owned
	e.owned = nil
	if err := owned.Close(); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}
