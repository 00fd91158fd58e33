// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sorter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/nidtime"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/sample"
)

func dummySample(t nidtime.UTime) *sample.Sample {
	s := sample.Get(sample.TypeByte, 4)
	s.SetTimeTag(t)
	return s
}

// S3 from the end-to-end scenarios: feed out-of-order timetags within the
// tolerated late-sample cache and expect a fully sorted flush with no
// badEarlierTimes penalty.
func TestSorterOrderingScenarioS3(t *testing.T) {
	var mu sync.Mutex
	var order []nidtime.UTime

	s := New(Config{
		Name:                "test",
		SorterLength:        500,
		LateSampleCacheSize: 1,
		HeapMax:             1 << 20,
		Policy:              PolicyDrop,
	}, func(samp *sample.Sample) {
		mu.Lock()
		order = append(order, samp.TimeTag())
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	for _, tt := range []nidtime.UTime{100, 200, 300, 1100, 250} {
		ok := s.Receive(dummySample(tt))
		require.True(t, ok)
	}

	s.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []nidtime.UTime{100, 200, 250, 300, 1100}, order)
	assert.EqualValues(t, 0, s.Stats().BadEarlierTimes)
}

// Invariant: every dropped sample increments exactly one counter; no
// sample both drops and is delivered.
func TestSorterDropPolicy(t *testing.T) {
	s := New(Config{
		Name:                "test",
		SorterLength:        10_000_000, // large enough that nothing ages out on its own
		LateSampleCacheSize: 5,
		HeapMax:             8, // two 4-byte samples fit, a third does not
		Policy:              PolicyDrop,
	}, func(*sample.Sample) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	ok1 := s.Receive(dummySample(1))
	assert.True(t, ok1)
	samp2 := dummySample(2)
	ok2 := s.Receive(samp2)
	assert.True(t, ok2) // 4+4=8 <= HeapMax, still fits

	samp3 := dummySample(3)
	ok3 := s.Receive(samp3)
	assert.False(t, ok3) // would exceed HeapMax
	assert.EqualValues(t, 1, s.Stats().DiscardedSamples)
	samp3.FreeReference() // rejected: caller owns the reference
}

// Invariant: for any input sequence that would exceed HeapMax, a blocking
// producer waits until bytes fall below HeapMax/2; no sample is dropped.
// SorterLength is set so large that the consumer never ages anything out
// on its own, isolating the block/unblock behavior from cut timing: the
// heap only drains when Flush runs, which is what releases the blocked
// producer.
func TestSorterBlockPolicyUnblocksOnDrain(t *testing.T) {
	s := New(Config{
		Name:                "test",
		SorterLength:        10_000_000,
		LateSampleCacheSize: 5,
		HeapMax:             8,
		Policy:              PolicyBlock,
	}, func(*sample.Sample) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.True(t, s.Receive(dummySample(100)))
	require.True(t, s.Receive(dummySample(200)))

	done := make(chan bool, 1)
	go func() {
		done <- s.Receive(dummySample(300))
	}()

	time.Sleep(50 * time.Millisecond)
	s.Flush()

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("blocking Receive never returned after Flush drained the heap")
	}
}

func TestSorterRealTimeGuardRejectsFutureSamples(t *testing.T) {
	s := New(Config{
		Name:          "test",
		HeapMax:       1 << 20,
		Policy:        PolicyDrop,
		RealTimeGuard: true,
	}, func(*sample.Sample) {})

	far := dummySample(nidtime.Now() + 10*nidtime.UsecsPerSec)
	ok := s.Receive(far)
	assert.False(t, ok)
	assert.EqualValues(t, 1, s.Stats().RealTimeFutureSamples)
	far.FreeReference()
}

func TestSorterInterruptUnblocksProducer(t *testing.T) {
	s := New(Config{
		Name:    "test",
		HeapMax: 4,
		Policy:  PolicyBlock,
	}, func(*sample.Sample) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.True(t, s.Receive(dummySample(1)))

	done := make(chan bool, 1)
	go func() {
		done <- s.Receive(dummySample(2))
	}()

	time.Sleep(50 * time.Millisecond)
	s.Interrupt()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Interrupt did not release the blocked producer")
	}
}
