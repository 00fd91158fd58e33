// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sample

import (
	"encoding/binary"
	"math"
)

// Float64At reads the i'th float64 element. Only valid on a TypeFloat64
// sample.
func (s *Sample) Float64At(i int) float64 {
	off := i * 8
	bits := binary.LittleEndian.Uint64(s.data[off : off+8])
	return math.Float64frombits(bits)
}

// SetFloat64At writes the i'th float64 element. Only valid on a
// TypeFloat64 sample.
func (s *Sample) SetFloat64At(i int, v float64) {
	off := i * 8
	binary.LittleEndian.PutUint64(s.data[off:off+8], math.Float64bits(v))
}

// Float32At reads the i'th float32 element.
func (s *Sample) Float32At(i int) float32 {
	off := i * 4
	bits := binary.LittleEndian.Uint32(s.data[off : off+4])
	return math.Float32frombits(bits)
}

// SetFloat32At writes the i'th float32 element.
func (s *Sample) SetFloat32At(i int, v float32) {
	off := i * 4
	binary.LittleEndian.PutUint32(s.data[off:off+4], math.Float32bits(v))
}

// Int32At reads the i'th int32 element.
func (s *Sample) Int32At(i int) int32 {
	off := i * 4
	return int32(binary.LittleEndian.Uint32(s.data[off : off+4]))
}

// SetInt32At writes the i'th int32 element.
func (s *Sample) SetInt32At(i int, v int32) {
	off := i * 4
	binary.LittleEndian.PutUint32(s.data[off:off+4], uint32(v))
}

// FromFloat64Slice fills a TypeFloat64 sample's payload from vals.
func (s *Sample) FromFloat64Slice(vals []float64) {
	for i, v := range vals {
		s.SetFloat64At(i, v)
	}
}

// ToFloat64Slice returns a copy of the payload as a []float64. Only valid
// on a TypeFloat64 sample.
func (s *Sample) ToFloat64Slice() []float64 {
	out := make([]float64, s.length)
	for i := range out {
		out[i] = s.Float64At(i)
	}
	return out
}
