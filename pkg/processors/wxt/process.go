// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wxt derives wind U/V components from a Vaisala WXT-style
// weather transmitter's mean speed/direction fields, grounded on
// WxtSensor.cc's process(): u = -spd*sin(dir), v = -spd*cos(dir).
package wxt

import (
	"github.com/ClusterCockpit/nidas-pipeline/pkg/pipeline"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/processors/wind"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/sample"
)

// Config configures one WXT sensor's U/V derivation, matching
// WxtSensor.cc's _speedDirId/_speedIndex/_dirIndex/_uvId/_uIndex/_vIndex
// fields.
type Config struct {
	// SpeedDirID is the sample id carrying the mean speed and direction
	// fields.
	SpeedDirID uint32
	// SpeedIndex, DirIndex locate Sm (mean speed) and Dm (mean
	// direction) within that sample's payload.
	SpeedIndex, DirIndex int
	// UVID is the sample id the derived U/V sample is published under.
	UVID uint32
	// UIndex, VIndex locate U and V within the output sample's payload.
	UIndex, VIndex int
	// UVLength is the output sample's total variable length (matching
	// WxtSensor.cc's _uvlen: the derived sample typically shares its
	// tag's full variable width, not just the two U/V slots).
	UVLength int
}

// NewProcessor builds a pipeline.ProcessFunc that derives U/V from a
// WXT sensor's speed/direction sample. Per Decided Open Question #2
// (WXT split speed/direction samples): this implementation assumes a
// single sample carries both Sm and Dm, as WxtSensor.cc's own scanf-based
// parsing does; if the configured sample doesn't have enough payload to
// cover both indices, no derived sample is emitted rather than guessing
// at a value.
func NewProcessor(cfg Config) pipeline.ProcessFunc {
	return func(raw *sample.Sample) []*sample.Sample {
		if raw.ID() != cfg.SpeedDirID || raw.Type() != sample.TypeFloat64 {
			return nil
		}
		n := raw.Length()
		if cfg.SpeedIndex < 0 || cfg.DirIndex < 0 || cfg.SpeedIndex >= n || cfg.DirIndex >= n {
			return nil
		}

		spd := raw.Float64At(cfg.SpeedIndex)
		dir := raw.Float64At(cfg.DirIndex)
		u, v := wind.DeriveUV(spd, dir)

		outLen := cfg.UVLength
		if outLen < 1 {
			outLen = n
		}
		out := sample.Get(sample.TypeFloat64, outLen)
		out.SetID(cfg.UVID)
		out.SetTimeTag(raw.TimeTag())
		if cfg.UIndex >= 0 && cfg.UIndex < outLen {
			out.SetFloat64At(cfg.UIndex, u)
		}
		if cfg.VIndex >= 0 && cfg.VIndex < outLen {
			out.SetFloat64At(cfg.VIndex, v)
		}
		return []*sample.Sample{out}
	}
}
