// Package ffi calls native functions by name, describing each argument and the
// return value with a one-character type code instead of a full C signature.
//
// A Binding pairs a resolved function address with its parsed codes. Calling
// it marshals every argument into a machine word, hands the words to a
// Convention adapter, and coerces the returned word back into a Go value.
package ffi

import (
	"fmt"
	"strings"
)

// Tag classifies how a value is represented as a native word.
type Tag uint8

const (
	Void Tag = iota
	Number
	Pointer
	Integer
	Bool
)

func (t Tag) String() string {
	switch t {
	case Void:
		return "void"
	case Number:
		return "number"
	case Pointer:
		return "pointer"
	case Integer:
		return "integer"
	case Bool:
		return "bool"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// Code returns the canonical one-character code for t.
func (t Tag) Code() byte {
	switch t {
	case Number:
		return 'N'
	case Pointer:
		return 'P'
	case Integer:
		return 'I'
	case Bool:
		return 'B'
	default:
		return 'V'
	}
}

// tagFromCode maps one code character. V is only meaningful for exports.
func tagFromCode(c byte, allowVoid bool) (Tag, bool) {
	switch c {
	case 'N', 'n', 'L', 'l':
		return Number, true
	case 'P', 'p':
		return Pointer, true
	case 'I', 'i':
		return Integer, true
	case 'B', 'b':
		return Bool, true
	case 'V', 'v':
		if allowVoid {
			return Void, true
		}
	}
	return Void, false
}

// Imports is an argument type description: either Packed or Codes.
type Imports interface {
	codes() []string
}

// Packed holds one type code per character, e.g. "NPI".
type Packed string

func (p Packed) codes() []string {
	out := make([]string, len(p))
	for i := range len(p) {
		out[i] = string(p[i])
	}
	return out
}

// Codes holds one type code per element; only the first character of each
// element is significant, so Codes{"Pointer", "Number"} equals Packed("PN").
type Codes []string

func (c Codes) codes() []string { return c }

// ParseImports converts an import description into tags. Unrecognized codes,
// including empty elements, are dropped, so the result may be shorter than
// the description.
func ParseImports(spec Imports) []Tag {
	if spec == nil {
		return nil
	}
	var tags []Tag
	for _, code := range spec.codes() {
		if code == "" {
			continue
		}
		if tag, ok := tagFromCode(code[0], false); ok {
			tags = append(tags, tag)
		}
	}
	return tags
}

// ParseImportsStrict is ParseImports that rejects unrecognized codes.
func ParseImportsStrict(spec Imports) ([]Tag, error) {
	if spec == nil {
		return nil, nil
	}
	var tags []Tag
	for i, code := range spec.codes() {
		if code == "" {
			return nil, &UnknownCodeError{Code: code, Index: i}
		}
		tag, ok := tagFromCode(code[0], false)
		if !ok {
			return nil, &UnknownCodeError{Code: code, Index: i}
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// ParseExport converts a return type code. An empty or unrecognized code
// means Void; callers expecting Void should ignore the call result.
func ParseExport(code string) Tag {
	if code == "" {
		return Void
	}
	tag, _ := tagFromCode(code[0], true)
	return tag
}

// ParseExportStrict is ParseExport that rejects unrecognized codes. The empty
// code is still Void.
func ParseExportStrict(code string) (Tag, error) {
	if code == "" {
		return Void, nil
	}
	tag, ok := tagFromCode(code[0], true)
	if !ok {
		return Void, &UnknownCodeError{Code: code, Index: -1}
	}
	return tag, nil
}

// FormatTags renders tags as a packed code string.
func FormatTags(tags []Tag) string {
	var sb strings.Builder
	for _, t := range tags {
		sb.WriteByte(t.Code())
	}
	return sb.String()
}
