package codec

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"unicode/utf8"
)

// Argument is an encoded remote call argument.
// The zero value is the empty argument (no argument file is passed).
type Argument struct {
	text []byte
}

// Bytes returns the rendered argument text.
func (a Argument) Bytes() []byte { return a.text }

// String returns the rendered argument text.
func (a Argument) String() string { return string(a.text) }

// IsEmpty reports whether the argument carries no record.
func (a Argument) IsEmpty() bool { return len(a.text) == 0 }

// Len returns the size of the rendered text in bytes.
func (a Argument) Len() int { return len(a.text) }

// ErrInvalidField is returned for malformed record fields.
var ErrInvalidField = errors.New("invalid record field")

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// value renders one field value.
type value interface {
	appendTo(dst []byte) []byte
	sizeHint() int
}

type field struct {
	name  string
	value value
}

// Record builds a single record argument:
//
//	(record { name = "x"; data = vec { 1;2;3 }; size = 3 })
//
// Builder methods record the first error; Argument reports it.
type Record struct {
	fields []field
	names  map[string]struct{}
	err    error
}

// NewRecord returns an empty record builder.
func NewRecord() *Record {
	return &Record{names: make(map[string]struct{})}
}

// Text adds a double-quoted text field.
func (r *Record) Text(name, v string) *Record {
	if !utf8.ValidString(v) {
		r.fail(fmt.Errorf("%w: %s: text is not valid UTF-8", ErrInvalidField, name))
		return r
	}
	return r.add(name, textValue(v))
}

// Nat adds an unannotated natural number field.
func (r *Record) Nat(name string, v uint64) *Record {
	return r.add(name, natValue{v: v})
}

// Nat64 adds a natural number field annotated as nat64.
func (r *Record) Nat64(name string, v uint64) *Record {
	return r.add(name, natValue{v: v, annotation: "nat64"})
}

// Bytes adds a vector of nat8 values, one decimal entry per byte.
func (r *Record) Bytes(name string, v []byte) *Record {
	return r.add(name, bytesValue(v))
}

// TextList adds a vector of text values.
func (r *Record) TextList(name string, v []string) *Record {
	for _, s := range v {
		if !utf8.ValidString(s) {
			r.fail(fmt.Errorf("%w: %s: text is not valid UTF-8", ErrInvalidField, name))
			return r
		}
	}
	return r.add(name, textListValue(v))
}

// Argument renders the record, or returns the first builder error.
func (r *Record) Argument() (Argument, error) {
	if r.err != nil {
		return Argument{}, r.err
	}

	size := len("(record {  })")
	for _, f := range r.fields {
		size += len(f.name) + len(" = ; ") + f.value.sizeHint()
	}

	buf := make([]byte, 0, size)
	buf = append(buf, "(record { "...)
	for i, f := range r.fields {
		if i > 0 {
			buf = append(buf, "; "...)
		}
		buf = append(buf, f.name...)
		buf = append(buf, " = "...)
		buf = f.value.appendTo(buf)
	}
	buf = append(buf, " })"...)

	return Argument{text: buf}, nil
}

func (r *Record) add(name string, v value) *Record {
	if r.err != nil {
		return r
	}
	if !identPattern.MatchString(name) {
		r.fail(fmt.Errorf("%w: %q is not an identifier", ErrInvalidField, name))
		return r
	}
	if _, dup := r.names[name]; dup {
		r.fail(fmt.Errorf("%w: duplicate field %q", ErrInvalidField, name))
		return r
	}
	r.names[name] = struct{}{}
	r.fields = append(r.fields, field{name: name, value: v})
	return r
}

func (r *Record) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

type textValue string

func (v textValue) appendTo(dst []byte) []byte { return appendQuoted(dst, string(v)) }
func (v textValue) sizeHint() int               { return len(v) + 2 }

type natValue struct {
	v          uint64
	annotation string
}

func (v natValue) appendTo(dst []byte) []byte {
	dst = strconv.AppendUint(dst, v.v, 10)
	if v.annotation != "" {
		dst = append(dst, " : "...)
		dst = append(dst, v.annotation...)
	}
	return dst
}

func (v natValue) sizeHint() int { return 20 + len(v.annotation) + 3 }

type bytesValue []byte

func (v bytesValue) appendTo(dst []byte) []byte {
	if len(v) == 0 {
		return append(dst, "vec {}"...)
	}
	dst = append(dst, "vec { "...)
	for i, b := range v {
		if i > 0 {
			dst = append(dst, ';')
		}
		dst = strconv.AppendUint(dst, uint64(b), 10)
	}
	return append(dst, " }"...)
}

// Up to three digits plus a separator per byte.
func (v bytesValue) sizeHint() int { return 4*len(v) + 8 }

type textListValue []string

func (v textListValue) appendTo(dst []byte) []byte {
	if len(v) == 0 {
		return append(dst, "vec {}"...)
	}
	dst = append(dst, "vec { "...)
	for i, s := range v {
		if i > 0 {
			dst = append(dst, ';')
		}
		dst = appendQuoted(dst, s)
	}
	return append(dst, " }"...)
}

func (v textListValue) sizeHint() int {
	n := 8
	for _, s := range v {
		n += len(s) + 3
	}
	return n
}

// appendQuoted appends s as a double-quoted text literal.
// Quotes, backslashes and control characters are escaped so that record
// delimiters inside s can never terminate the literal.
func appendQuoted(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for _, r := range s {
		switch r {
		case '"':
			dst = append(dst, `\"`...)
		case '\\':
			dst = append(dst, `\\`...)
		case '\n':
			dst = append(dst, `\n`...)
		case '\r':
			dst = append(dst, `\r`...)
		case '\t':
			dst = append(dst, `\t`...)
		default:
			if r < 0x20 || r == 0x7f {
				dst = append(dst, `\u{`...)
				dst = strconv.AppendInt(dst, int64(r), 16)
				dst = append(dst, '}')
				continue
			}
			dst = utf8.AppendRune(dst, r)
		}
	}
	return append(dst, '"')
}
