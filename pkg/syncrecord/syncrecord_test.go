// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package syncrecord

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/nidtime"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/sample"
)

func floatSample(id uint32, tt nidtime.UTime, vals ...float64) *sample.Sample {
	s := sample.Get(sample.TypeFloat64, len(vals))
	s.SetID(id)
	s.SetTimeTag(tt)
	s.FromFloat64Slice(vals)
	return s
}

// S5 from the end-to-end scenarios: T_A at 10Hz with one variable, T_B at
// 1Hz with two variables; ten values into T_A and one into T_B within a
// second must land at the right sub-second slots.
func TestSyncRecordBuildScenarioS5(t *testing.T) {
	const idA, idB uint32 = 10, 20
	tagA := &sample.SampleTag{ID: idA, Rate: 10, Variables: []sample.Variable{{Name: "A", Length: 1}}}
	tagB := &sample.SampleTag{ID: idB, Rate: 1, Variables: []sample.Variable{{Name: "B1", Length: 1}, {Name: "B2", Length: 1}}}

	var emitted []*sample.Sample
	b := Connect(HeaderMeta{Project: "TEST"}, []*sample.SampleTag{tagA, tagB}, func(s *sample.Sample) {
		s.HoldReference() // keep alive past Builder's own FreeReference, for later assertions
		emitted = append(emitted, s)
	})
	require.Len(t, emitted, 1) // header sample, emitted at Connect
	assert.Equal(t, SyncHeaderID, emitted[0].ID())

	base := nidtime.UTime(1_000_000_000) // arbitrary whole-second epoch
	for i := 0; i < 10; i++ {
		tt := base + nidtime.UTime(i)*100_000 // every 100ms -> 10Hz
		b.Feed(floatSample(idA, tt, float64(i)))
	}
	b.Feed(floatSample(idB, base, 42.0, 43.0))

	// Roll the record over by feeding a sample one second later.
	b.Feed(floatSample(idA, base+nidtime.UsecsPerSec, 99.0))

	require.Len(t, emitted, 2)
	rec := emitted[1]
	assert.Equal(t, SyncRecordID, rec.ID())

	layouts, _ := buildLayouts([]*sample.SampleTag{tagA, tagB})
	layoutA, layoutB := layouts[0], layouts[1]

	assert.Equal(t, float64(0), rec.Float64At(layoutA.RowOffset))
	for i := 0; i < 10; i++ {
		assert.Equal(t, float64(i), rec.Float64At(layoutA.VarOffsets[0]+i))
	}
	assert.Equal(t, float64(0), rec.Float64At(layoutB.RowOffset))
	assert.Equal(t, 42.0, rec.Float64At(layoutB.VarOffsets[0]))
	assert.Equal(t, 43.0, rec.Float64At(layoutB.VarOffsets[1]))

	b.Flush()
	require.Len(t, emitted, 3)
	assert.True(t, math.IsNaN(emitted[2].Float64At(layoutB.VarOffsets[0])))
}

// Invariant 8: a round trip through the header writer/parser and
// build/read recovers every variable's per-second vector at the correct
// sub-second slot, with NaN fill where no input arrived.
func TestSyncRecordRoundTrip(t *testing.T) {
	const idA uint32 = 1
	tagA := &sample.SampleTag{ID: idA, Rate: 4, Variables: []sample.Variable{{Name: "V", Length: 1, Units: "m/s", LongName: "velocity"}}}

	var emitted []*sample.Sample
	b := Connect(HeaderMeta{Project: "RT", Aircraft: "N1", Flight: "f1", SoftwareVersion: "1.0"},
		[]*sample.SampleTag{tagA}, func(s *sample.Sample) {
			s.HoldReference() // keep alive past Builder's own FreeReference, for later assertions
			emitted = append(emitted, s)
		})

	base := nidtime.UTime(2_000_000_000)
	b.Feed(floatSample(idA, base, 1.0))
	b.Feed(floatSample(idA, base+250_000, 2.0))
	// slot for +500ms deliberately skipped -> should read back as NaN
	b.Feed(floatSample(idA, base+750_000, 4.0))
	b.Flush()

	require.Len(t, emitted, 2)
	headerSample, recordSample := emitted[0], emitted[1]

	// Re-parse the header the way a fresh reader process would: from its
	// own serialized bytes, not the in-process layouts.
	var buf bytes.Buffer
	buf.Write(headerSample.Bytes())
	reparsed, err := NewReader(func() *sample.Sample {
		s := sample.Get(sample.TypeUByte, buf.Len())
		copy(s.Bytes(), buf.Bytes())
		s.SetID(SyncHeaderID)
		return s
	}())
	require.NoError(t, err)
	assert.Equal(t, "RT", reparsed.Meta().Project)

	rows, err := reparsed.Read(recordSample)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	v0, ok := rows[0].VariableAt("V", 0)
	require.True(t, ok)
	assert.Equal(t, 1.0, v0)
	v1, _ := rows[0].VariableAt("V", 1)
	assert.Equal(t, 2.0, v1)
	v2, _ := rows[0].VariableAt("V", 2)
	assert.True(t, math.IsNaN(v2))
	v3, _ := rows[0].VariableAt("V", 3)
	assert.Equal(t, 4.0, v3)
}
