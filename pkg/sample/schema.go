// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sample

import (
	"sort"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/nidtime"
)

// VarType classifies how a Variable's values should be treated by
// downstream consumers (e.g. a counter resets statistics differently from
// a continuous value).
type VarType int

const (
	VarContinuous VarType = iota
	VarCounter
	VarClock
	VarOther
)

// TypeLetter returns the sync-record header type letter for this VarType
// (n/c/t/o), per §4.6.
func (v VarType) TypeLetter() byte {
	switch v {
	case VarCounter:
		return 'c'
	case VarClock:
		return 't'
	case VarOther:
		return 'o'
	default:
		return 'n'
	}
}

// ParseTypeLetter is the inverse of TypeLetter.
func ParseTypeLetter(b byte) VarType {
	switch b {
	case 'c':
		return VarCounter
	case 't':
		return VarClock
	case 'o':
		return VarOther
	default:
		return VarContinuous
	}
}

// CalRow is one timestamped row of calibration coefficients: raw value is
// converted to engineering units by evaluating a polynomial with these
// coefficients, lowest order first.
type CalRow struct {
	Time  nidtime.UTime
	Coefs []float64
}

// CalFile is a timestamped, time-ordered sequence of coefficient rows. The
// converter advances through rows as sample times advance: CoefsAt returns
// the coefficients of the last row whose Time is <= t.
type CalFile struct {
	Path string
	Rows []CalRow
}

// Add inserts a row, keeping Rows sorted by Time.
func (c *CalFile) Add(row CalRow) {
	i := sort.Search(len(c.Rows), func(i int) bool { return c.Rows[i].Time > row.Time })
	c.Rows = append(c.Rows, CalRow{})
	copy(c.Rows[i+1:], c.Rows[i:])
	c.Rows[i] = row
}

// CoefsAt returns the coefficients in effect at time t, or nil if t is
// before the first row.
func (c *CalFile) CoefsAt(t nidtime.UTime) []float64 {
	i := sort.Search(len(c.Rows), func(i int) bool { return c.Rows[i].Time > t })
	if i == 0 {
		return nil
	}
	return c.Rows[i-1].Coefs
}

// Converter turns a raw value into engineering units. Linear and
// polynomial converters are pure functions of the raw value; a CalFile
// converter additionally depends on the sample's timetag.
type Converter interface {
	Convert(t nidtime.UTime, raw float64) float64
}

// LinearConverter applies value*slope + intercept.
type LinearConverter struct {
	Slope     float64
	Intercept float64
}

func (l LinearConverter) Convert(_ nidtime.UTime, raw float64) float64 {
	return raw*l.Slope + l.Intercept
}

// PolyConverter evaluates a fixed polynomial, lowest order first.
type PolyConverter struct {
	Coefs []float64
}

func (p PolyConverter) Convert(_ nidtime.UTime, raw float64) float64 {
	return evalPoly(p.Coefs, raw)
}

// CalFileConverter evaluates the polynomial in effect at the sample's
// timetag, advancing through the CalFile's rows as time advances.
type CalFileConverter struct {
	File *CalFile
}

func (c CalFileConverter) Convert(t nidtime.UTime, raw float64) float64 {
	coefs := c.File.CoefsAt(t)
	if coefs == nil {
		return raw
	}
	return evalPoly(coefs, raw)
}

func evalPoly(coefs []float64, x float64) float64 {
	if len(coefs) == 0 {
		return x
	}
	result := 0.0
	p := 1.0
	for _, c := range coefs {
		result += c * p
		p *= x
	}
	return result
}

// Variable describes one named quantity within a sample tag's payload.
type Variable struct {
	Name           string
	LongName       string
	Units          string
	ConvertedUnits string
	Length         int // scalar=1, or vector length
	VType          VarType
	Converter      Converter
}

// SampleTag is the schema descriptor for one id-stream: a nominal sample
// rate, an ordered list of variables, and an optional scanf format.
type SampleTag struct {
	ID          uint32
	Rate        float64 // samples/sec, possibly fractional
	Variables   []Variable
	ScanfFormat string
}

// VariableLength returns the total number of scalar values across all
// variables (the payload width of one sample on this tag).
func (t *SampleTag) VariableLength() int {
	n := 0
	for _, v := range t.Variables {
		n += v.Length
	}
	return n
}
