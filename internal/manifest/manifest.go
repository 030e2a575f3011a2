// Package manifest declares native bindings in a YAML file and binds them
// as one set.
package manifest

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/miniffi/internal/ffi"
)

const CurrentVersion = 1

// Manifest is the top-level YAML document.
type Manifest struct {
	Version    int    `yaml:"version"`
	Convention string `yaml:"convention,omitempty"`
	Strict     bool   `yaml:"strict,omitempty"`

	// AnsiFallback overrides the platform default when set.
	AnsiFallback *bool `yaml:"ansiFallback,omitempty"`

	Bindings []Entry `yaml:"bindings"`
}

// Entry declares one native function.
type Entry struct {
	Name     string     `yaml:"name"`
	Library  string     `yaml:"library"`
	Function string     `yaml:"function"`
	Imports  ImportSpec `yaml:"imports,omitempty"`
	Exports  string     `yaml:"exports,omitempty"`
}

// ImportSpec accepts either a packed string ("NPI") or a list of codes
// ([Number, Pointer, Integer]).
type ImportSpec struct {
	packed string
	codes  []string
	list   bool
}

// PackedImports returns an ImportSpec written as a string.
func PackedImports(s string) ImportSpec { return ImportSpec{packed: s} }

// ListImports returns an ImportSpec written as a sequence.
func ListImports(codes ...string) ImportSpec { return ImportSpec{codes: codes, list: true} }

func (s ImportSpec) IsZero() bool {
	return s.packed == "" && len(s.codes) == 0
}

// Imports converts the spec for ffi.
func (s ImportSpec) Imports() ffi.Imports {
	if s.list {
		return ffi.Codes(s.codes)
	}
	return ffi.Packed(s.packed)
}

func (s ImportSpec) String() string {
	return ffi.FormatTags(ffi.ParseImports(s.Imports()))
}

func (s *ImportSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*s = ImportSpec{}
			return nil
		}
		*s = ImportSpec{packed: node.Value}
		return nil
	case yaml.SequenceNode:
		var codes []string
		if err := node.Decode(&codes); err != nil {
			return fmt.Errorf("line %d: imports: %w", node.Line, err)
		}
		*s = ImportSpec{codes: codes, list: true}
		return nil
	default:
		return fmt.Errorf("line %d: imports must be a string or a list of codes", node.Line)
	}
}

func (s ImportSpec) MarshalYAML() (any, error) {
	if s.list {
		return s.codes, nil
	}
	return s.packed, nil
}

func (m *Manifest) normalize() {
	if m.Version == 0 {
		m.Version = CurrentVersion
	}
}

// Validate checks the manifest without loading anything.
func (m *Manifest) Validate() error {
	if m.Version != CurrentVersion {
		return fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	switch m.Convention {
	case "", "fixed", "stack":
	default:
		return fmt.Errorf("unknown convention %q (want fixed or stack)", m.Convention)
	}

	seen := make(map[string]bool, len(m.Bindings))
	var errs []error
	for i, b := range m.Bindings {
		switch {
		case b.Name == "":
			errs = append(errs, fmt.Errorf("binding %d: missing name", i))
		case seen[b.Name]:
			errs = append(errs, fmt.Errorf("binding %d: duplicate name %q", i, b.Name))
		}
		if b.Name != "" {
			seen[b.Name] = true
		}
		if b.Library == "" {
			errs = append(errs, fmt.Errorf("binding %q: missing library", b.Name))
		}
		if b.Function == "" {
			errs = append(errs, fmt.Errorf("binding %q: missing function", b.Name))
		}
	}
	return errors.Join(errs...)
}

// Parse decodes and validates a manifest.
func Parse(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	m.normalize()
	if err := m.Validate(); err != nil {
		return Manifest{}, fmt.Errorf("invalid manifest: %w", err)
	}
	return m, nil
}

// Load reads and parses the manifest at path.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Write encodes m to path.
func Write(path string, m Manifest) error {
	m.normalize()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(&m); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// Options returns the engine options the manifest asks for.
func (m Manifest) Options() []ffi.Option {
	var opts []ffi.Option
	switch m.Convention {
	case "fixed":
		opts = append(opts, ffi.WithFixedArity())
	case "stack":
		opts = append(opts, ffi.WithStackPush())
	}
	if m.Strict {
		opts = append(opts, ffi.WithStrictTags())
	}
	if m.AnsiFallback != nil {
		opts = append(opts, ffi.WithAnsiFallback(*m.AnsiFallback))
	}
	return opts
}

// Set is the bound functions of a manifest, by name.
type Set struct {
	names    []string
	bindings map[string]*ffi.Binding
}

// Bind binds every entry with e. If any entry fails, the ones already bound
// are closed and the error names the failing entry.
func (m Manifest) Bind(e *ffi.Engine) (*Set, error) {
	s := &Set{bindings: make(map[string]*ffi.Binding, len(m.Bindings))}
	for _, entry := range m.Bindings {
		b, err := e.Bind(entry.Library, entry.Function, entry.Imports.Imports(), entry.Exports)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("bind %s: %w", entry.Name, err)
		}
		s.names = append(s.names, entry.Name)
		s.bindings[entry.Name] = b
	}
	return s, nil
}

// Get returns the binding declared under name.
func (s *Set) Get(name string) (*ffi.Binding, bool) {
	b, ok := s.bindings[name]
	return b, ok
}

// Names returns the binding names in manifest order.
func (s *Set) Names() []string {
	return append([]string(nil), s.names...)
}

// Close closes every binding in the set.
func (s *Set) Close() error {
	var errs []error
	for _, name := range s.names {
		if err := s.bindings[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
