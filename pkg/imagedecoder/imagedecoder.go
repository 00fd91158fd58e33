// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package imagedecoder reconstructs particles from 2D optical-array-probe
// image samples, slice by slice, and accumulates per-second acceptance
// histograms.
//
// Grounded on the teacher's internal/memorystore per-second accumulation
// pattern (a builder that rolls its accumulator over on a time boundary and
// hands the finished one to a callback) and pkg/resampler's windowed
// aggregation style, adapted here from time-series resampling to slice-by-
// slice particle accumulation.
package imagedecoder

import (
	"math/bits"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/nidtime"
)

// ProbeModel selects the diode count per slice: 32 or 64, per §4.7.
type ProbeModel int

const (
	Probe32 ProbeModel = iota
	Probe64
)

// NDiodes returns the number of diodes (and therefore bits) per slice.
func (m ProbeModel) NDiodes() int {
	if m == Probe64 {
		return 64
	}
	return 32
}

func (m ProbeModel) sliceBytes() int { return m.NDiodes() / 8 }

var (
	syncWord64   = []byte{0xAA, 0xAA, 0xAA}
	syncWord32   = []byte{0x55}
	overloadWord = []byte{0x55, 0x55, 0xAA}
)

// imageHeaderBytes is the type-tag word plus true-airspeed word preceding
// the 4096-byte image body in a raw 4104-byte sample.
const imageHeaderBytes = 8

// RawSampleBytes is the documented size of one 2D-probe raw sample.
const RawSampleBytes = imageHeaderBytes + 4096

// Config configures one Decoder.
type Config struct {
	Model ProbeModel
	// AreaRejectRatio is the acceptance-test threshold named in §4.7: a
	// particle is rejected if area/(pi/4*max(w,h)^2) <= AreaRejectRatio.
	AreaRejectRatio float64
	// SliceIntervalUsec is the time represented by one slice, used to
	// accumulate a particle's LiveTime and the second's dead-time
	// estimate.
	SliceIntervalUsec nidtime.UTime
}

// Second is one second's worth of accumulated acceptance histograms, named
// in §4.7: two histograms (1D indexed by height, length NDiodes; 2D also
// indexed by height, length 2*NDiodes, with an extra centre-in acceptance
// test), a dead-time estimate, and a records-per-second counter.
type Second struct {
	Size1D           []uint64
	Size2D           []uint64
	Accepted1D       uint64
	Rejected1D       uint64
	Accepted2D       uint64
	Rejected2D       uint64
	DeadTimeUsec     int64
	RecordsPerSecond uint64
}

// Decoder accumulates particles from a stream of raw image samples,
// finalizing one at each sync word and rolling the current Second over to
// emit whenever a sample's timetag crosses a one-second boundary.
type Decoder struct {
	cfg Config

	cur *Particle

	syncTime nidtime.UTime
	haveSync bool
	sec      Second

	emit func(Second)
}

// New builds a Decoder. emit receives each completed Second.
func New(cfg Config, emit func(Second)) *Decoder {
	return &Decoder{cfg: cfg, emit: emit, sec: newSecond(cfg.Model)}
}

func newSecond(model ProbeModel) Second {
	return Second{
		Size1D: make([]uint64, model.NDiodes()),
		Size2D: make([]uint64, 2*model.NDiodes()),
	}
}

// Feed decodes one raw image sample's slices, accumulating particles and
// histograms into the current second.
func (d *Decoder) Feed(tt nidtime.UTime, payload []byte) {
	switch {
	case !d.haveSync:
		d.startSecond(tt.Floor(nidtime.UsecsPerSec))
	case tt >= d.syncTime+nidtime.UsecsPerSec:
		d.rollover(tt)
	}
	d.sec.RecordsPerSecond++

	if len(payload) <= imageHeaderBytes {
		return
	}
	body := payload[imageHeaderBytes:]
	n := d.cfg.Model.sliceBytes()
	for i := 0; i+n <= len(body); i += n {
		chunk := body[i : i+n]
		switch {
		case matchesWord(chunk, syncWord(d.cfg.Model)):
			d.finalizeParticle()
			d.cur = &Particle{}
		case matchesWord(chunk, overloadWord):
			if d.cur != nil {
				d.cur.DofReject = true
			}
			d.sec.DeadTimeUsec += int64(d.cfg.SliceIntervalUsec)
		default:
			if d.cur != nil {
				d.cur.accumulate(chunk, d.cfg.Model.NDiodes(), d.cfg.SliceIntervalUsec)
			}
		}
	}
}

func syncWord(m ProbeModel) []byte {
	if m == Probe64 {
		return syncWord64
	}
	return syncWord32
}

func matchesWord(chunk, word []byte) bool {
	if len(chunk) < len(word) {
		return false
	}
	for i, b := range word {
		if chunk[i] != b {
			return false
		}
	}
	return true
}

func (d *Decoder) startSecond(t nidtime.UTime) {
	d.syncTime = t
	d.haveSync = true
	d.sec = newSecond(d.cfg.Model)
}

func (d *Decoder) rollover(tt nidtime.UTime) {
	d.finalizeParticle()
	if d.emit != nil {
		d.emit(d.sec)
	}
	next := d.syncTime + nidtime.UsecsPerSec
	if tt >= next+nidtime.UsecsPerSec {
		next = tt.Floor(nidtime.UsecsPerSec)
	}
	d.startSecond(next)
}

// Flush finalizes any in-progress particle and emits the current second,
// for end-of-stream shutdown.
func (d *Decoder) Flush() {
	d.finalizeParticle()
	if d.emit != nil {
		d.emit(d.sec)
	}
}

func (d *Decoder) finalizeParticle() {
	if d.cur == nil {
		return
	}
	p := d.cur
	d.cur = nil

	if p.accept1D(d.cfg.AreaRejectRatio) {
		d.sec.Accepted1D++
		bump(d.sec.Size1D, p.Height)
	} else {
		d.sec.Rejected1D++
	}
	if p.accept2D(d.cfg.AreaRejectRatio) {
		d.sec.Accepted2D++
		bump(d.sec.Size2D, p.Height)
	} else {
		d.sec.Rejected2D++
	}
}

func bump(hist []uint64, idx int) {
	if idx >= 0 && idx < len(hist) {
		hist[idx]++
	}
}

// popcount returns the number of set bits across buf.
func popcount(buf []byte) int {
	n := 0
	for _, b := range buf {
		n += bits.OnesCount8(b)
	}
	return n
}
