// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package imagedecoder

import (
	"math"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/nidtime"
)

// Particle accumulates across the slices of one detected particle, per §3:
// width (slices along the flight path), height (max shadowed diode span in
// any one slice), area (total shadowed bits), edgeTouch (low/high edge
// bitmask), liveTime (particle duration), and the dead-time-overlap flag
// dofReject.
type Particle struct {
	Width     int
	Height    int
	Area      int
	EdgeTouch byte
	LiveTime  nidtime.UTime
	DofReject bool
}

// accumulate folds one data slice into the particle: the raw bytes are bit-
// inverted first (the probe's diode bits are 1 == not shadowed), per §4.7.
func (p *Particle) accumulate(chunk []byte, nDiodes int, sliceInterval nidtime.UTime) {
	p.Width++
	p.LiveTime += sliceInterval

	shadow := make([]byte, len(chunk))
	for i, b := range chunk {
		shadow[i] = ^b
	}

	if shadow[0]&0x80 != 0 {
		p.EdgeTouch |= 0x0F
	}
	if shadow[len(shadow)-1]&0x01 != 0 {
		p.EdgeTouch |= 0xF0
	}

	p.Area += popcount(shadow)

	first, last, any := bitSpan(shadow, nDiodes)
	if any {
		span := last - first + 1
		if span > p.Height {
			p.Height = span
		}
	}
}

// bitSpan returns the index of the first and last set bit across buf
// (bit 0 is the MSB of the first byte), scanning only the first nDiodes
// bits, and whether any bit was set at all.
func bitSpan(buf []byte, nDiodes int) (first, last int, any bool) {
	first, last = -1, -1
	for i := 0; i < nDiodes; i++ {
		byteIdx, bitIdx := i/8, 7-(i%8)
		if byteIdx >= len(buf) {
			break
		}
		if buf[byteIdx]&(1<<uint(bitIdx)) == 0 {
			continue
		}
		if first == -1 {
			first = i
		}
		last = i
		any = true
	}
	return
}

// areaRatio is the acceptance-test denominator: pi/4 * max(width,height)^2.
func (p *Particle) areaRatio() float64 {
	maxDim := p.Width
	if p.Height > maxDim {
		maxDim = p.Height
	}
	return float64(p.Area) / (math.Pi / 4 * float64(maxDim*maxDim))
}

// accept1D applies the 1D-histogram acceptance test of §4.7: reject on
// dead-time overlap, any edge touch, zero height, the "stuck bit" case
// (height==1 with width>3), or a too-small area ratio.
func (p *Particle) accept1D(areaRejectRatio float64) bool {
	if p.DofReject || p.EdgeTouch != 0 || p.Height == 0 {
		return false
	}
	if p.Height == 1 && p.Width > 3 {
		return false
	}
	return p.areaRatio() > areaRejectRatio
}

// accept2D applies the 2D centre-in acceptance test: §4.7 reads "as above
// without the stuck-bit clause, and additionally reject if edgeTouch AND
// width>2*height" — read literally (cumulative, not a replacement for the
// bare edgeTouch clause it carries over from the 1D list); the extra
// conjunction is then a strict subset of the bare edgeTouch clause, but is
// kept explicit here to match the spec's wording rather than silently
// dropping it.
func (p *Particle) accept2D(areaRejectRatio float64) bool {
	if p.DofReject || p.EdgeTouch != 0 || p.Height == 0 {
		return false
	}
	if p.EdgeTouch != 0 && p.Width > 2*p.Height {
		return false
	}
	return p.areaRatio() > areaRejectRatio
}
