// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package syncrecord

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/niderr"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/sample"
)

// HeaderMeta is the keyed, quoted preamble of the sync record header: the
// project/aircraft/flight/software_version lines of §4.6.
type HeaderMeta struct {
	Project         string
	Aircraft        string
	Flight          string
	SoftwareVersion string
}

// WriteHeader renders meta and layouts as the textual header format: keyed
// quoted values, then the braces-delimited variables{} and rates{}
// sections, terminated by a lone '#'.
func WriteHeader(w io.Writer, meta HeaderMeta, layouts []*TagLayout) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "project %s\n", quote(meta.Project))
	fmt.Fprintf(bw, "aircraft %s\n", quote(meta.Aircraft))
	fmt.Fprintf(bw, "flight %s\n", quote(meta.Flight))
	fmt.Fprintf(bw, "software_version %s\n", quote(meta.SoftwareVersion))

	bw.WriteString("variables {\n")
	for _, l := range layouts {
		for _, v := range l.Tag.Variables {
			fmt.Fprintf(bw, "  %s %c %d %s %s", v.Name, v.VType.TypeLetter(), v.Length, quote(v.Units), quote(v.LongName))
			writeConverter(bw, v.Converter)
			fmt.Fprintf(bw, " %s ;\n", quote(v.ConvertedUnits))
		}
	}
	bw.WriteString("}\n")

	bw.WriteString("rates {\n")
	for _, l := range layouts {
		fmt.Fprintf(bw, "  %g", l.Tag.Rate)
		for _, v := range l.Tag.Variables {
			fmt.Fprintf(bw, " %s", v.Name)
		}
		bw.WriteString(" ;\n")
	}
	bw.WriteString("}\n#\n")
	return bw.Flush()
}

func writeConverter(bw *bufio.Writer, c sample.Converter) {
	switch conv := c.(type) {
	case sample.LinearConverter:
		fmt.Fprintf(bw, " linear %g %g", conv.Slope, conv.Intercept)
	case sample.PolyConverter:
		bw.WriteString(" poly")
		for _, coef := range conv.Coefs {
			fmt.Fprintf(bw, " %g", coef)
		}
	case sample.CalFileConverter:
		fmt.Fprintf(bw, " calfile %s", quote(conv.File.Path))
	}
}

func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// tokenizer splits the header text into words, quoted strings (content
// only, escapes resolved) and the structural tokens { } ; #.
type tokenizer struct {
	r   *bufio.Reader
	err error
}

func newTokenizer(r io.Reader) *tokenizer { return &tokenizer{r: bufio.NewReader(r)} }

func (t *tokenizer) next() (string, bool) {
	for {
		c, err := t.r.ReadByte()
		if err != nil {
			t.err = err
			return "", false
		}
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '{', '}', ';', '#':
			return string(c), true
		case '"':
			return t.readQuoted()
		default:
			return t.readWord(c)
		}
	}
}

func (t *tokenizer) readQuoted() (string, bool) {
	var b strings.Builder
	for {
		c, err := t.r.ReadByte()
		if err != nil {
			t.err = err
			return "", false
		}
		if c == '"' {
			return b.String(), true
		}
		if c == '\\' {
			esc, err := t.r.ReadByte()
			if err != nil {
				t.err = err
				return "", false
			}
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(esc)
			}
			continue
		}
		b.WriteByte(c)
	}
}

func (t *tokenizer) readWord(first byte) (string, bool) {
	var b strings.Builder
	b.WriteByte(first)
	for {
		c, err := t.r.ReadByte()
		if err != nil {
			return b.String(), true
		}
		switch c {
		case ' ', '\t', '\n', '\r', '{', '}', ';', '#':
			t.r.UnreadByte()
			return b.String(), true
		default:
			b.WriteByte(c)
		}
	}
}

// ParseHeader reads back a header written by WriteHeader, reconstructing
// HeaderMeta and every tag's TagLayout. Tags are identified only by the
// order variables{} groups them in; callers that need the original
// SampleTag.ID must supply it out of band (the textual header, matching
// the original design, does not carry numeric ids).
func ParseHeader(r io.Reader) (HeaderMeta, []*TagLayout, error) {
	tk := newTokenizer(r)
	var meta HeaderMeta
	varsByName := map[string]sample.Variable{}
	varOrder := []string{}

	for {
		tok, ok := tk.next()
		if !ok {
			return meta, nil, niderr.Wrap(niderr.KindParse, "syncrecord.ParseHeader", "unexpected EOF before rates section", tk.err)
		}
		switch tok {
		case "project":
			meta.Project, _ = tk.next()
		case "aircraft":
			meta.Aircraft, _ = tk.next()
		case "flight":
			meta.Flight, _ = tk.next()
		case "software_version":
			meta.SoftwareVersion, _ = tk.next()
		case "variables":
			if err := parseVariables(tk, varsByName, &varOrder); err != nil {
				return meta, nil, err
			}
		case "rates":
			layouts, err := parseRates(tk, varsByName)
			return meta, layouts, err
		default:
			return meta, nil, niderr.New(niderr.KindParse, "syncrecord.ParseHeader", fmt.Sprintf("unexpected token %q", tok))
		}
	}
}

func parseVariables(tk *tokenizer, out map[string]sample.Variable, order *[]string) error {
	tok, ok := tk.next()
	if !ok || tok != "{" {
		return niderr.New(niderr.KindParse, "syncrecord.parseVariables", "expected '{'")
	}
	for {
		tok, ok = tk.next()
		if !ok {
			return niderr.Wrap(niderr.KindParse, "syncrecord.parseVariables", "unexpected EOF", tk.err)
		}
		if tok == "}" {
			return nil
		}
		v := sample.Variable{Name: tok}
		typeLetter, _ := tk.next()
		v.VType = sample.ParseTypeLetter([]byte(typeLetter)[0])
		lengthTok, _ := tk.next()
		length, err := strconv.Atoi(lengthTok)
		if err != nil {
			return niderr.Wrap(niderr.KindParse, "syncrecord.parseVariables", "bad length "+lengthTok, err)
		}
		v.Length = length
		v.Units, _ = tk.next()
		v.LongName, _ = tk.next()

		next, more := tk.next()
		for more && next != ";" {
			var consumed bool
			switch next {
			case "linear":
				slopeTok, _ := tk.next()
				interceptTok, _ := tk.next()
				slope, _ := strconv.ParseFloat(slopeTok, 64)
				intercept, _ := strconv.ParseFloat(interceptTok, 64)
				v.Converter = sample.LinearConverter{Slope: slope, Intercept: intercept}
			case "poly":
				// Greedily consume coefficient tokens until one fails to
				// parse as a float; that token is converted_units. If ';'
				// (or EOF) comes first it is already consumed, so the
				// trailing tk.next() is skipped this iteration.
				var coefs []float64
				for {
					peek, ok := tk.next()
					if !ok || peek == ";" {
						next, more = peek, ok
						consumed = true
						break
					}
					c, err := strconv.ParseFloat(peek, 64)
					if err != nil {
						v.ConvertedUnits = peek
						break
					}
					coefs = append(coefs, c)
				}
				v.Converter = sample.PolyConverter{Coefs: coefs}
			case "calfile":
				fileTok, _ := tk.next()
				v.Converter = sample.CalFileConverter{File: &sample.CalFile{Path: fileTok}}
			default:
				v.ConvertedUnits = next
			}
			if consumed {
				continue
			}
			next, more = tk.next()
		}
		out[v.Name] = v
		*order = append(*order, v.Name)
	}
}

func parseRates(tk *tokenizer, vars map[string]sample.Variable) ([]*TagLayout, error) {
	tok, ok := tk.next()
	if !ok || tok != "{" {
		return nil, niderr.New(niderr.KindParse, "syncrecord.parseRates", "expected '{'")
	}
	var tags []*sample.SampleTag
	for {
		tok, ok = tk.next()
		if !ok {
			return nil, niderr.Wrap(niderr.KindParse, "syncrecord.parseRates", "unexpected EOF", tk.err)
		}
		if tok == "}" {
			break
		}
		rate, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, niderr.Wrap(niderr.KindParse, "syncrecord.parseRates", "bad rate "+tok, err)
		}
		tag := &sample.SampleTag{Rate: rate}
		for {
			name, _ := tk.next()
			if name == ";" || name == "" {
				break
			}
			v, ok := vars[name]
			if !ok {
				return nil, niderr.New(niderr.KindParse, "syncrecord.parseRates", "unknown variable "+name)
			}
			tag.Variables = append(tag.Variables, v)
		}
		tags = append(tags, tag)
	}
	// consume trailing '#'
	tk.next()
	layouts, _ := buildLayouts(tags)
	return layouts, nil
}
