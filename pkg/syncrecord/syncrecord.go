// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package syncrecord implements the one-second-wide, dense, row-per-variable
// sync record that carries every processed sample stream in a single
// self-describing record per second, plus the header format that describes
// its layout and the reader that inverts it.
//
// Grounded on the teacher's internal/memorystore tree-structured selector
// layout (a fixed per-metric slot computed once and reused every write) and
// its avroCheckpoint.go OCF encode/decode pattern for the optional binary
// alternative to the textual header format.
package syncrecord

import (
	"math"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/nidtime"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/sample"
)

// Fixed ids named in §4.6: one SyncHeaderID sample at connection start, one
// SyncRecordID sample per second thereafter.
const (
	SyncHeaderID uint32 = 1
	SyncRecordID uint32 = 2
)

// TagLayout is the fixed, connect-time-computed placement of one SampleTag's
// row within the sync record vector.
type TagLayout struct {
	Tag *sample.SampleTag

	// NSlots is ceil(Tag.Rate), the number of sub-second slots in this
	// row.
	NSlots int
	// RowOffset is the index of this row's offset-microsecond cell.
	RowOffset int
	// VarOffsets[i] is the base index of variable i's data block: its
	// k'th sub-second slot's first scalar lives at
	// VarOffsets[i] + k*Variables[i].Length.
	VarOffsets []int
	// RowLen is 1 + NSlots*Tag.VariableLength(), this row's total width.
	RowLen int
}

// usecPerSample returns the nominal spacing between sub-second samples for
// this tag, 1e6/Rate microseconds. Rate<=0 is treated as 1Hz.
func (l *TagLayout) usecPerSample() nidtime.UTime {
	rate := l.Tag.Rate
	if rate <= 0 {
		rate = 1
	}
	return nidtime.UTime(float64(nidtime.UsecsPerSec) / rate)
}

func ceilRate(rate float64) int {
	if rate <= 0 {
		return 1
	}
	n := int(rate)
	if float64(n) < rate {
		n++
	}
	return n
}

// buildLayouts computes TagLayout for every tag, in the given order,
// packing rows consecutively starting at index 0. This is the "per-sample
// offset into the sync record is fixed at connect time" step of §4.6.
func buildLayouts(tags []*sample.SampleTag) ([]*TagLayout, int) {
	layouts := make([]*TagLayout, len(tags))
	offset := 0
	for i, tag := range tags {
		nslots := ceilRate(tag.Rate)
		varOffsets := make([]int, len(tag.Variables))
		dataBase := offset + 1
		for vi, v := range tag.Variables {
			varOffsets[vi] = dataBase
			dataBase += v.Length * nslots
		}
		rowLen := 1 + nslots*tag.VariableLength()
		layouts[i] = &TagLayout{
			Tag:        tag,
			NSlots:     nslots,
			RowOffset:  offset,
			VarOffsets: varOffsets,
			RowLen:     rowLen,
		}
		offset += rowLen
	}
	return layouts, offset
}

// fillNaN sets every cell of a raw float64 slice to NaN, the documented
// fill value for a sub-second slot that received no input this second.
func fillNaN(vals []float64) {
	nan := math.NaN()
	for i := range vals {
		vals[i] = nan
	}
}
