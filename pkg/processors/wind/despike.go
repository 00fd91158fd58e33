// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wind implements the sonic-anemometer derived-variable processing
// supplemented from ATIK_Sonic.cc: despiking, a documented shadow-correction
// passthrough, and wind U/V <-> speed/direction conversion.
package wind

import "sort"

// Despiker replaces an outlier value with the median of the last N values
// on its channel, a median-of-N window test grounded on ATIK_Sonic.cc's
// despike() step (invoked when the sensor config sets despike=true or
// names a spike-count output variable).
type Despiker struct {
	window    []float64
	threshold float64
	spikes    uint32
}

// NewDespiker builds a Despiker with the given window size (number of
// prior samples the median is computed over) and threshold (the raw
// distance from the window median beyond which a value counts as a
// spike).
func NewDespiker(windowSize int, threshold float64) *Despiker {
	if windowSize < 1 {
		windowSize = 1
	}
	return &Despiker{window: make([]float64, 0, windowSize), threshold: threshold}
}

// Filter returns v, or the window median in its place if v is a spike,
// then pushes the returned value into the window (so a replaced spike
// does not itself pollute the median the next sample is judged against).
func (d *Despiker) Filter(v float64) float64 {
	out := v
	if len(d.window) == cap(d.window) && cap(d.window) > 0 {
		med := median(d.window)
		if abs(v-med) > d.threshold {
			out = med
			d.spikes++
		}
	}
	d.push(out)
	return out
}

// Spikes returns the running count of replaced values, for the
// per-channel spike-count output variable ATIK_Sonic.cc supports.
func (d *Despiker) Spikes() uint32 { return d.spikes }

func (d *Despiker) push(v float64) {
	if len(d.window) < cap(d.window) {
		d.window = append(d.window, v)
		return
	}
	copy(d.window, d.window[1:])
	d.window[len(d.window)-1] = v
}

func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
