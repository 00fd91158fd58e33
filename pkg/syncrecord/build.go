// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package syncrecord

import (
	"bytes"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/log"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/nidtime"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/sample"
)

// Stats are the per-connection observability counters named in §4.6.
type Stats struct {
	UnknownSampleType   uint64
	UnrecognizedSamples uint64
	BadEarlierTimes     uint64
	BadLaterTimes       uint64
}

// Builder assembles the dense one-second sync record from the stream of
// processed samples handed to Feed, emitting one SyncHeaderID sample at
// Connect and one SyncRecordID sample per elapsed second.
type Builder struct {
	meta    HeaderMeta
	layouts []*TagLayout
	byID    map[uint32]*TagLayout
	idxByID map[uint32]int
	total   int

	syncTime   nidtime.UTime
	haveSync   bool
	cur        *sample.Sample
	haveOffset []bool

	emit  func(*sample.Sample)
	stats Stats
}

// Connect builds a Builder for the given tags, each identified by its
// SampleTag.ID, and computes every tag's fixed row layout. emit receives
// the header sample (immediately) and every completed per-second record.
func Connect(meta HeaderMeta, tags []*sample.SampleTag, emit func(*sample.Sample)) *Builder {
	layouts, total := buildLayouts(tags)
	byID := make(map[uint32]*TagLayout, len(layouts))
	idxByID := make(map[uint32]int, len(layouts))
	for i, l := range layouts {
		byID[l.Tag.ID] = l
		idxByID[l.Tag.ID] = i
	}
	b := &Builder{
		meta:       meta,
		layouts:    layouts,
		byID:       byID,
		idxByID:    idxByID,
		total:      total,
		haveOffset: make([]bool, len(layouts)),
		emit:       emit,
	}
	if b.emit != nil {
		hdr := b.headerSample()
		b.emit(hdr)
		hdr.FreeReference()
	}
	return b
}

// Stats returns a snapshot of the observability counters.
func (b *Builder) Stats() Stats { return b.stats }

func (b *Builder) headerSample() *sample.Sample {
	var buf bytes.Buffer
	if err := WriteHeader(&buf, b.meta, b.layouts); err != nil {
		log.Errorf("[SYNCREC] building header: %v", err)
	}
	text := buf.Bytes()
	s := sample.Get(sample.TypeUByte, len(text))
	s.SetID(SyncHeaderID)
	s.SetTimeTag(nidtime.Now())
	copy(s.Bytes(), text)
	return s
}

// Feed routes one processed sample into its tag's row of the in-progress
// record, rolling the record over to a new second (emitting the finished
// one) whenever a sample's timetag has advanced past the current second.
//
// Feed assumes processed samples carry float64 engineering-unit payloads
// matching the tag's total variable width; anything else increments
// UnknownSampleType and is dropped, matching §7's "sample pipeline itself
// never throws out to its clients: it logs and drops".
func (b *Builder) Feed(s *sample.Sample) {
	idx, ok := b.idxByID[s.ID()]
	if !ok {
		b.stats.UnrecognizedSamples++
		return
	}
	layout := b.layouts[idx]
	tt := s.TimeTag()

	switch {
	case !b.haveSync:
		b.startRecord(tt.Floor(nidtime.UsecsPerSec))
	case tt >= b.syncTime+nidtime.UsecsPerSec:
		b.rollover(tt)
	case tt < b.syncTime:
		b.stats.BadEarlierTimes++
		return
	}

	if s.Type() != sample.TypeFloat64 || s.Length() != layout.Tag.VariableLength() {
		b.stats.UnknownSampleType++
		return
	}

	if !b.haveOffset[idx] {
		b.cur.SetFloat64At(layout.RowOffset, float64(tt-b.syncTime))
		b.haveOffset[idx] = true
	}

	usec := tt - b.syncTime
	timeIndex := clampTimeIndex(usec, layout.usecPerSample(), layout.NSlots)
	if usec >= nidtime.UsecsPerSec {
		b.stats.BadLaterTimes++
	}

	comp := 0
	for vi, v := range layout.Tag.Variables {
		base := layout.VarOffsets[vi] + v.Length*timeIndex
		for k := 0; k < v.Length; k++ {
			b.cur.SetFloat64At(base+k, s.Float64At(comp))
			comp++
		}
	}
}

func clampTimeIndex(usec, usecPerSample nidtime.UTime, nslots int) int {
	idx := int((usec + usecPerSample/2) / usecPerSample)
	if idx < 0 {
		return 0
	}
	if idx >= nslots {
		return nslots - 1
	}
	return idx
}

// startRecord allocates a fresh record sample, NaN-filled, for second
// syncTime.
func (b *Builder) startRecord(syncTime nidtime.UTime) {
	b.syncTime = syncTime
	b.haveSync = true
	b.cur = sample.Get(sample.TypeFloat64, b.total)
	b.cur.SetID(SyncRecordID)
	b.cur.SetTimeTag(syncTime)
	fill := make([]float64, b.total)
	fillNaN(fill)
	b.cur.FromFloat64Slice(fill)
	for i := range b.haveOffset {
		b.haveOffset[i] = false
	}
}

// rollover emits the in-progress record and starts a new one at the next
// second boundary, or — if tt has jumped ahead by more than one second —
// snaps directly to tt's second, matching §4.6's "advance syncTime by 1s
// (or snap to now - now mod 1s on a jump)".
func (b *Builder) rollover(tt nidtime.UTime) {
	b.emitCurrent()
	next := b.syncTime + nidtime.UsecsPerSec
	if tt >= next+nidtime.UsecsPerSec {
		next = tt.Floor(nidtime.UsecsPerSec)
	}
	b.startRecord(next)
}

func (b *Builder) emitCurrent() {
	if b.cur == nil {
		return
	}
	if b.emit != nil {
		b.emit(b.cur)
	}
	b.cur.FreeReference()
	b.cur = nil
}

// Flush emits whatever record is in progress, even if the second has not
// fully elapsed (e.g. on shutdown).
func (b *Builder) Flush() { b.emitCurrent() }
