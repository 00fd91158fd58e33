// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package scanner

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldKind is the numeric type of one scanf-style conversion.
type FieldKind int

const (
	FieldFloat FieldKind = iota
	FieldInt
	FieldHex
	FieldChar
)

type fieldSpec struct {
	kind  FieldKind
	skip  bool
	width int
}

type token struct {
	literal string
	field   *fieldSpec
}

// Format is a compiled scanf-style format string (a subset: %f/%e/%g,
// %d, %x/%X, %c, with an optional field width and "%*" to match and
// discard without storing). Literal whitespace in the format matches any
// run of whitespace in the input, matching C scanf's convention.
type Format struct {
	raw       string
	tokens    []token
	numFields int
}

// ParseFormat compiles format.
func ParseFormat(format string) (*Format, error) {
	f := &Format{raw: format}
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			f.tokens = append(f.tokens, token{literal: lit.String()})
			lit.Reset()
		}
	}
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			lit.WriteByte(c)
			continue
		}
		i++
		if i >= len(format) {
			return nil, fmt.Errorf("scanner: dangling %%%%  in scanf format %q", format)
		}
		if format[i] == '%' {
			lit.WriteByte('%')
			continue
		}
		flush()

		spec := &fieldSpec{}
		if format[i] == '*' {
			spec.skip = true
			i++
		}
		widthStart := i
		for i < len(format) && format[i] >= '0' && format[i] <= '9' {
			i++
		}
		if i > widthStart {
			w, _ := strconv.Atoi(format[widthStart:i])
			spec.width = w
		}
		if i >= len(format) {
			return nil, fmt.Errorf("scanner: truncated conversion in scanf format %q", format)
		}
		switch format[i] {
		case 'f', 'e', 'g':
			spec.kind = FieldFloat
		case 'd':
			spec.kind = FieldInt
		case 'x', 'X':
			spec.kind = FieldHex
		case 'c':
			spec.kind = FieldChar
		default:
			return nil, fmt.Errorf("scanner: unsupported scanf conversion %%%c in %q", format[i], format)
		}
		f.tokens = append(f.tokens, token{field: spec})
		if !spec.skip {
			f.numFields++
		}
	}
	flush()
	return f, nil
}

// NumFields returns the number of non-skipped conversions in the format.
func (f *Format) NumFields() int { return f.numFields }

// Scan parses s against the compiled format, returning the values of every
// non-skipped conversion and how many fields were successfully parsed
// before the first mismatch. A partial match (n < NumFields()) is returned
// along with an error describing where matching stopped.
func (f *Format) Scan(s string) ([]float64, int, error) {
	vals := make([]float64, 0, f.numFields)
	pos := 0
	for _, tok := range f.tokens {
		if tok.field == nil {
			if strings.TrimSpace(tok.literal) == "" {
				for pos < len(s) && isSpace(s[pos]) {
					pos++
				}
				continue
			}
			if !strings.HasPrefix(s[pos:], tok.literal) {
				return vals, len(vals), fmt.Errorf("scanner: literal %q not found at offset %d", tok.literal, pos)
			}
			pos += len(tok.literal)
			continue
		}

		for pos < len(s) && isSpace(s[pos]) {
			pos++
		}
		start := pos
		end := len(s)
		if tok.field.width > 0 && start+tok.field.width < end {
			end = start + tok.field.width
		}

		var v float64
		var newPos int
		var err error
		switch tok.field.kind {
		case FieldFloat:
			v, newPos, err = scanFloat(s, start, end)
		case FieldInt:
			v, newPos, err = scanInt(s, start, end)
		case FieldHex:
			v, newPos, err = scanHex(s, start, end)
		case FieldChar:
			if start >= end {
				err = fmt.Errorf("scanner: no char at offset %d", start)
			} else {
				v = float64(s[start])
				newPos = start + 1
			}
		}
		if err != nil {
			return vals, len(vals), err
		}
		pos = newPos
		if !tok.field.skip {
			vals = append(vals, v)
		}
	}
	return vals, len(vals), nil
}

func scanFloat(s string, start, end int) (float64, int, error) {
	j := start
	if j < end && (s[j] == '+' || s[j] == '-') {
		j++
	}
	for j < end {
		c := s[j]
		if isDigit(c) || c == '.' {
			j++
			continue
		}
		if (c == 'e' || c == 'E') && j > start {
			j++
			if j < end && (s[j] == '+' || s[j] == '-') {
				j++
			}
			continue
		}
		break
	}
	if j == start {
		return 0, start, fmt.Errorf("scanner: no float at offset %d", start)
	}
	v, err := strconv.ParseFloat(s[start:j], 64)
	if err != nil {
		return 0, start, fmt.Errorf("scanner: parse float %q: %w", s[start:j], err)
	}
	return v, j, nil
}

func scanInt(s string, start, end int) (float64, int, error) {
	j := start
	if j < end && (s[j] == '+' || s[j] == '-') {
		j++
	}
	for j < end && isDigit(s[j]) {
		j++
	}
	if j == start {
		return 0, start, fmt.Errorf("scanner: no int at offset %d", start)
	}
	v, err := strconv.ParseInt(s[start:j], 10, 64)
	if err != nil {
		return 0, start, fmt.Errorf("scanner: parse int %q: %w", s[start:j], err)
	}
	return float64(v), j, nil
}

func scanHex(s string, start, end int) (float64, int, error) {
	j := start
	for j < end && isHexDigit(s[j]) {
		j++
	}
	if j == start {
		return 0, start, fmt.Errorf("scanner: no hex digits at offset %d", start)
	}
	v, err := strconv.ParseUint(s[start:j], 16, 64)
	if err != nil {
		return 0, start, fmt.Errorf("scanner: parse hex %q: %w", s[start:j], err)
	}
	return float64(v), j, nil
}

func isSpace(c byte) bool    { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }
func isDigit(c byte) bool    { return c >= '0' && c <= '9' }
func isHexDigit(c byte) bool { return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') }

// Multiplexer round-robins an incoming message across several compiled
// formats, each tied to a sample id, the way a single sensor with several
// message types tries each candidate format in turn until one parses.
type Multiplexer struct {
	formats []TaggedFormat
	next    int

	Failures uint64
	Partials uint64
}

// TaggedFormat binds a compiled Format to the sample id it produces.
type TaggedFormat struct {
	ID     uint32
	Format *Format
}

// NewMultiplexer builds a Multiplexer over formats, tried in round-robin
// order starting from the first.
func NewMultiplexer(formats []TaggedFormat) *Multiplexer {
	return &Multiplexer{formats: formats}
}

// Scan tries each format in turn, starting after whichever format
// succeeded last, and returns the first one that parses at least one
// field.
func (m *Multiplexer) Scan(s string) (id uint32, vals []float64, ok bool) {
	if len(m.formats) == 0 {
		return 0, nil, false
	}
	for try := 0; try < len(m.formats); try++ {
		tf := m.formats[m.next]
		m.next = (m.next + 1) % len(m.formats)
		v, n, err := tf.Format.Scan(s)
		if n > 0 {
			if n != tf.Format.NumFields() {
				m.Partials++
			}
			return tf.ID, v, true
		}
	}
	m.Failures++
	return 0, nil, false
}
