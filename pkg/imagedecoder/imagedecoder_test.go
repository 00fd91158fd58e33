// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package imagedecoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/nidtime"
)

// buildImage assembles a raw 2D-probe sample payload: an imageHeaderBytes
// header, a sync word starting a particle, nSlices data slices (each
// nBits/8 bytes, pre-complement so the wire bits are 1==not-shadowed), then
// padding so the body stays slice-aligned.
func buildImage(model ProbeModel, slices [][]byte) []byte {
	body := append([]byte{}, syncWord(model)...)
	n := model.sliceBytes()
	// pad the sync word itself out to a full slice width with 0xFF
	// (all-unshadowed) bytes so slice alignment is preserved.
	for len(body)%n != 0 {
		body = append(body, 0xFF)
	}
	for _, s := range slices {
		shadowComplemented := make([]byte, n)
		for i := range shadowComplemented {
			shadowComplemented[i] = 0xFF // default: all unshadowed (pre-complement)
		}
		copy(shadowComplemented, s)
		for i := range shadowComplemented {
			shadowComplemented[i] = ^shadowComplemented[i]
		}
		body = append(body, shadowComplemented...)
	}
	payload := make([]byte, imageHeaderBytes)
	return append(payload, body...)
}

// S6: a single 64-diode particle spanning 3 slices, no edge bits, 30 bits
// set total, max-set-bit-span (height) = 10. Expect both histograms'
// index-10 bucket incremented once.
func TestImageDecoderAcceptanceScenarioS6(t *testing.T) {
	// Shadowed diodes 2..11 (span 10, i.e. bits 2 through 11 inclusive),
	// avoiding bit 0 and bit 63 so no edge is touched. Spread 30 bits
	// across those 10 diode positions over 3 slices by repeating a
	// pattern; exact distribution doesn't matter, only total area and
	// overall span.
	slice := make([]byte, 8) // 64 bits
	// set bits for diode indices 2..11 (first two bytes cover bits 0-15)
	slice[0] = 0b00111111 // bits 2..7 set (6 bits)
	slice[1] = 0b11110000 // bits 8..11 set (4 bits) -> 10 bits per slice
	slices := [][]byte{slice, slice, slice} // 3 slices * 10 bits = 30 bits total

	var got []Second
	d := New(Config{Model: Probe64, AreaRejectRatio: 0.1, SliceIntervalUsec: 1000}, func(s Second) {
		got = append(got, s)
	})

	payload := buildImage(Probe64, slices)
	d.Feed(nidtime.UTime(5_000_000), payload)
	d.Flush()

	require.Len(t, got, 1)
	sec := got[0]
	assert.EqualValues(t, 1, sec.Size1D[10])
	assert.EqualValues(t, 1, sec.Size2D[10])
	assert.EqualValues(t, 1, sec.Accepted1D)
	assert.EqualValues(t, 1, sec.Accepted2D)
}

// Invariant 9: for a synthesized stream with P accepted particles of
// height h, size_dist_1D[h] == P, and accepted+rejected == total particles.
func TestImageDecoderHistogramConservation(t *testing.T) {
	goodSlice := make([]byte, 8)
	goodSlice[0] = 0b00111111
	goodSlice[1] = 0b11110000
	good := [][]byte{goodSlice, goodSlice, goodSlice} // height 10, area 30, width 3 -> accepted

	// A particle that touches the high edge (bit 0 of first byte), so it
	// is rejected by the 1D test's bare edgeTouch clause.
	edgeSlice := make([]byte, 8)
	edgeSlice[0] = 0b10000000
	edge := [][]byte{edgeSlice}

	var body []byte
	for _, particle := range [][][]byte{good, good, edge} {
		body = append(body, buildImage(Probe64, particle)[imageHeaderBytes:]...)
	}
	payload := append(make([]byte, imageHeaderBytes), body...)

	var got []Second
	d := New(Config{Model: Probe64, AreaRejectRatio: 0.1, SliceIntervalUsec: 1000}, func(s Second) {
		got = append(got, s)
	})
	d.Feed(nidtime.UTime(1_000_000), payload)
	d.Flush()

	require.Len(t, got, 1)
	sec := got[0]
	assert.EqualValues(t, 2, sec.Size1D[10])
	assert.EqualValues(t, 2, sec.Accepted1D)
	assert.EqualValues(t, 1, sec.Rejected1D)
	assert.EqualValues(t, 3, sec.Accepted1D+sec.Rejected1D)
}
