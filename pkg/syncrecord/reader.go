// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package syncrecord

import (
	"bytes"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/niderr"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/nidtime"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/sample"
)

// Reader inverts the sync record stream: it parses the header sample once,
// reconstructing each tag's TagLayout, then turns each record sample back
// into per-variable, per-slot values.
type Reader struct {
	meta    HeaderMeta
	layouts []*TagLayout
	byID    map[uint32]*TagLayout
}

// NewReader parses a header sample (the first sample of a sync record
// stream, id==SyncHeaderID) and returns a Reader ready to invert the
// records that follow it.
func NewReader(headerSample *sample.Sample) (*Reader, error) {
	if headerSample.ID() != SyncHeaderID {
		return nil, niderr.New(niderr.KindParse, "syncrecord.NewReader", "sample is not a sync header")
	}
	meta, layouts, err := ParseHeader(bytes.NewReader(headerSample.Bytes()))
	if err != nil {
		return nil, err
	}
	byID := make(map[uint32]*TagLayout, len(layouts))
	for _, l := range layouts {
		byID[l.Tag.ID] = l
	}
	return &Reader{meta: meta, layouts: layouts, byID: byID}, nil
}

// Meta returns the header's project/aircraft/flight/software_version
// fields.
func (r *Reader) Meta() HeaderMeta { return r.meta }

// Layouts returns every tag's reconstructed row layout, in header order.
func (r *Reader) Layouts() []*TagLayout { return r.layouts }

// Row is one tag's recovered second of data: the offset-microsecond value
// it was first seen at, and NSlots*VariableLength() values, NaN where no
// input arrived.
type Row struct {
	Layout     *TagLayout
	OffsetUsec nidtime.UTime
	Values     []float64 // NSlots*VariableLength(), slot-major
}

// Read inverts one sync record sample (id==SyncRecordID) into one Row per
// tag present in the header, in header order. It returns whole rows; it
// does not copy a single variable's values into a caller-supplied buffer.
// Row.VariableAt picks out one variable's value at one sub-second slot.
func (r *Reader) Read(rec *sample.Sample) ([]Row, error) {
	if rec.ID() != SyncRecordID {
		return nil, niderr.New(niderr.KindParse, "syncrecord.Read", "sample is not a sync record")
	}
	rows := make([]Row, len(r.layouts))
	for i, l := range r.layouts {
		row := Row{Layout: l}
		row.OffsetUsec = nidtime.UTime(rec.Float64At(l.RowOffset))
		width := l.Tag.VariableLength()
		row.Values = make([]float64, l.NSlots*width)
		comp := 0
		for vi, v := range l.Tag.Variables {
			for k := 0; k < l.NSlots; k++ {
				for c := 0; c < v.Length; c++ {
					row.Values[k*width+comp+c] = rec.Float64At(l.VarOffsets[vi] + v.Length*k + c)
				}
			}
			comp += v.Length
		}
		rows[i] = row
	}
	return rows, nil
}

// VariableAt returns variable varName's value at sub-second slot k within
// row (0-indexed; for a vector variable this is its first component).
func (row *Row) VariableAt(varName string, k int) (float64, bool) {
	width := row.Layout.Tag.VariableLength()
	comp := 0
	for _, v := range row.Layout.Tag.Variables {
		if v.Name == varName {
			return row.Values[k*width+comp], true
		}
		comp += v.Length
	}
	return 0, false
}
