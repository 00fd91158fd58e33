// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wind

import (
	"github.com/ClusterCockpit/nidas-pipeline/pkg/pipeline"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/sample"
)

// Config configures one sonic anemometer's derived-variable processing,
// matching ATIK_Sonic's per-sensor parameters.
type Config struct {
	// RawID is the sample id this processor watches for raw U, V, W, T
	// (speed-of-sound-corrected temperature) values.
	RawID uint32
	// OutID is the sample id the derived output (U, V, W, T, speed, dir)
	// is published under.
	OutID uint32
	// DespikeWindow and DespikeThreshold configure Despiker for each of
	// the four input channels. DespikeWindow==0 disables despiking.
	DespikeWindow    int
	DespikeThreshold float64
	// SpeedIndex/DirIndex, if >= 0, request the derived speed/direction
	// be appended at these positions in the output sample (matching
	// ATIK_Sonic.cc's optional spd/dir output variables).
	SpeedIndex, DirIndex int
	OutLength            int
}

// NewProcessor builds a pipeline.ProcessFunc that despikes the four UVWT
// channels, applies the (currently no-op) shadow correction, and
// optionally appends derived speed/direction, matching ATIK_Sonic.cc's
// process() pipeline: despike -> shadowCorrect -> recompute speed/dir.
func NewProcessor(cfg Config) pipeline.ProcessFunc {
	despikers := make([]*Despiker, 4)
	if cfg.DespikeWindow > 0 {
		for i := range despikers {
			despikers[i] = NewDespiker(cfg.DespikeWindow, cfg.DespikeThreshold)
		}
	}

	return func(raw *sample.Sample) []*sample.Sample {
		if raw.ID() != cfg.RawID || raw.Type() != sample.TypeFloat64 || raw.Length() < 4 {
			return nil
		}

		uvwt := make([]float64, 4)
		for i := 0; i < 4; i++ {
			uvwt[i] = raw.Float64At(i)
			if despikers[i] != nil {
				uvwt[i] = despikers[i].Filter(uvwt[i])
			}
		}
		uvwt = TransducerShadowCorrection(uvwt)

		outLen := cfg.OutLength
		if outLen < 4 {
			outLen = 4
		}
		out := sample.Get(sample.TypeFloat64, outLen)
		out.SetID(cfg.OutID)
		out.SetTimeTag(raw.TimeTag())
		for i := 0; i < 4; i++ {
			out.SetFloat64At(i, uvwt[i])
		}
		if cfg.SpeedIndex >= 0 || cfg.DirIndex >= 0 {
			speed, dir := DeriveSpeedDir(uvwt[0], uvwt[1])
			if cfg.SpeedIndex >= 0 && cfg.SpeedIndex < outLen {
				out.SetFloat64At(cfg.SpeedIndex, speed)
			}
			if cfg.DirIndex >= 0 && cfg.DirIndex < outLen {
				out.SetFloat64At(cfg.DirIndex, dir)
			}
		}
		return []*sample.Sample{out}
	}
}
