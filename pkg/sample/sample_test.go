// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDRoundTrip(t *testing.T) {
	id := MakeID(12, 345, 6789)
	station, dsm, short := SplitID(id)
	assert.EqualValues(t, 12, station)
	assert.EqualValues(t, 345, dsm)
	assert.EqualValues(t, 6789, short)
}

func TestBucketRounding(t *testing.T) {
	assert.Equal(t, 0, bucketFor(1))
	assert.Equal(t, 3, bucketFor(8))
	assert.Equal(t, 4, bucketFor(9))
	assert.Equal(t, 10, bucketFor(1024))
}

// Invariant 1: exactly one FreeReference per HoldReference; the sample
// returns to its pool once the last holder releases.
func TestRefCountDistributeAndFree(t *testing.T) {
	pool := newPool()
	s := pool.Get(TypeFloat64, 4)
	require.EqualValues(t, 1, s.RefCount())

	const subscribers = 3
	for i := 0; i < subscribers-1; i++ {
		s.HoldReference()
	}
	require.EqualValues(t, subscribers, s.RefCount())

	for i := 0; i < subscribers; i++ {
		s.FreeReference()
	}

	// After release, a fresh Get of the same bucket recycles the same
	// backing object (sync.Pool is LIFO-ish for a single goroutine).
	s2 := pool.Get(TypeFloat64, 4)
	require.EqualValues(t, 1, s2.RefCount())
	assert.Equal(t, 0, s2.length*0) // no-op, keeps s2 used beyond RefCount
}

func TestFreeReferenceUnderflowPanics(t *testing.T) {
	pool := newPool()
	s := pool.Get(TypeByte, 1)
	s.FreeReference()
	assert.Panics(t, func() { s.FreeReference() })
}

func TestSetLengthRejectsOverCapacity(t *testing.T) {
	pool := newPool()
	s := pool.Get(TypeFloat32, 2) // rounds up to an 8-byte bucket
	err := s.SetLength(1000)
	assert.Error(t, err)
}

func TestFloat64Accessors(t *testing.T) {
	s := Get(TypeFloat64, 3)
	defer s.FreeReference()
	s.SetFloat64At(0, 1.5)
	s.SetFloat64At(1, -2.25)
	s.SetFloat64At(2, 0)
	assert.Equal(t, []float64{1.5, -2.25, 0}, s.ToFloat64Slice())
}

func TestCalFileCoefsAt(t *testing.T) {
	cf := &CalFile{}
	cf.Add(CalRow{Time: 100, Coefs: []float64{0, 1}})
	cf.Add(CalRow{Time: 300, Coefs: []float64{0, 2}})

	assert.Nil(t, cf.CoefsAt(50))
	assert.Equal(t, []float64{0, 1}, cf.CoefsAt(150))
	assert.Equal(t, []float64{0, 2}, cf.CoefsAt(300))
	assert.Equal(t, []float64{0, 2}, cf.CoefsAt(999))
}
