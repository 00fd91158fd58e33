// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/nidtime"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/sample"
)

func TestDespikerReplacesOutlierWithMedian(t *testing.T) {
	d := NewDespiker(3, 1.0)
	assert.Equal(t, 1.0, d.Filter(1.0))
	assert.Equal(t, 1.1, d.Filter(1.1))
	assert.Equal(t, 0.9, d.Filter(0.9))
	// window is now full [1.0, 1.1, 0.9], median 1.0; 50.0 is a spike
	assert.Equal(t, 1.0, d.Filter(50.0))
	assert.EqualValues(t, 1, d.Spikes())
}

func TestDeriveUVRoundTrip(t *testing.T) {
	u, v := DeriveUV(10.0, 90.0)
	speed, dir := DeriveSpeedDir(u, v)
	assert.InDelta(t, 10.0, speed, 1e-9)
	assert.InDelta(t, 90.0, dir, 1e-9)
}

func TestProcessorDerivesSpeedAndDir(t *testing.T) {
	cfg := Config{RawID: 1, OutID: 2, SpeedIndex: 4, DirIndex: 5, OutLength: 6}
	proc := NewProcessor(cfg)

	raw := sample.Get(sample.TypeFloat64, 4)
	raw.SetID(1)
	raw.SetTimeTag(nidtime.UTime(1000))
	u, v := DeriveUV(5.0, 180.0)
	raw.FromFloat64Slice([]float64{u, v, 0, 20})

	out := proc(raw)
	require.Len(t, out, 1)
	assert.Equal(t, uint32(2), out[0].ID())
	assert.InDelta(t, 5.0, out[0].Float64At(4), 1e-9)
	assert.InDelta(t, 180.0, out[0].Float64At(5), 1e-9)
}

func TestProcessorIgnoresOtherIDs(t *testing.T) {
	proc := NewProcessor(Config{RawID: 1, OutID: 2})
	raw := sample.Get(sample.TypeFloat64, 4)
	raw.SetID(99)
	assert.Empty(t, proc(raw))
}
