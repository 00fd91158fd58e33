// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sorter implements the time-ordered sample multiset that absorbs
// out-of-order delivery from concurrent sensors: a threaded, single-consumer
// FIFO that guarantees non-decreasing output timetags within a configured
// sort window, subject to a tolerated late-sample cache.
package sorter

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/log"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/nidtime"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/sample"
)

// Policy governs what receive does when the heap would exceed HeapMax.
type Policy int

const (
	// PolicyDrop discards the incoming sample and counts it, for
	// real-time operation where falling behind must never block a
	// sensor's reader thread.
	PolicyDrop Policy = iota
	// PolicyBlock makes the producer wait until the heap has drained to
	// half of HeapMax, for replay/archive reading where no sample may be
	// lost.
	PolicyBlock
)

// Config configures one Sorter instance.
type Config struct {
	// Name tags this sorter's log lines ("raw", "processed", ...).
	Name string
	// SorterLength is the sort window: a sample is held until a sample
	// at least this far ahead of it (modulo the late-sample cache) has
	// arrived.
	SorterLength nidtime.UTime
	// LateSampleCacheSize tolerates this many of the most recent
	// samples arriving out of strict order without needing a wider sort
	// window: the cut time is computed from the N'th-from-last sample,
	// not the very last one.
	LateSampleCacheSize int
	// HeapMax is the byte high-watermark that triggers Policy.
	HeapMax int64
	Policy  Policy
	// RealTimeGuard rejects (and counts) samples timestamped more than
	// 2 seconds in the future. Disabled during archive replay, where
	// "now" has no relation to sample time.
	RealTimeGuard bool
}

// Stats are the counters named in the sorter's contract.
type Stats struct {
	DiscardedSamples      uint64
	RealTimeFutureSamples uint64
	BadEarlierTimes       uint64
}

// Sorter is a time-ordered multiset of held samples with one producer-side
// entry point (Receive, called concurrently by any number of sensors) and
// one consumer goroutine (started by Run) that ages samples out in
// non-decreasing timetag order and hands them to Distribute.
type Sorter struct {
	cfg        Config
	Distribute func(*sample.Sample)

	mu        sync.Mutex
	notEmpty  *sync.Cond
	notFull   *sync.Cond
	flushDone *sync.Cond

	items          []*sample.Sample // sorted ascending by TimeTag
	bytes         int64
	heapMax       int64
	interrupted   bool
	flushRequested bool
	lastCut       nidtime.UTime
	haveCut       bool

	discardedSamples      uint64
	realTimeFutureSamples uint64
	badEarlierTimes       uint64
}

// New builds a Sorter. Distribute is called once per aged-out sample, from
// the consumer goroutine started by Run; the Sorter releases the sample's
// reference immediately after Distribute returns.
func New(cfg Config, distribute func(*sample.Sample)) *Sorter {
	s := &Sorter{cfg: cfg, Distribute: distribute, heapMax: cfg.HeapMax}
	s.notEmpty = sync.NewCond(&s.mu)
	s.notFull = sync.NewCond(&s.mu)
	s.flushDone = sync.NewCond(&s.mu)
	return s
}

// Stats returns a snapshot of the sorter's counters.
func (s *Sorter) Stats() Stats {
	return Stats{
		DiscardedSamples:      atomic.LoadUint64(&s.discardedSamples),
		RealTimeFutureSamples: atomic.LoadUint64(&s.realTimeFutureSamples),
		BadEarlierTimes:       atomic.LoadUint64(&s.badEarlierTimes),
	}
}

// Receive inserts samp into the sorted multiset, applying the real-time
// guard and the heap-pressure policy. It returns false if samp was rejected
// (too far in the future, or dropped under heap pressure); on false the
// caller retains ownership of samp's reference and must free it.
func (s *Sorter) Receive(samp *sample.Sample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.interrupted {
		return false
	}

	if s.cfg.RealTimeGuard {
		if samp.TimeTag() > nidtime.Now()+2*nidtime.UsecsPerSec {
			atomic.AddUint64(&s.realTimeFutureSamples, 1)
			return false
		}
	}

	nbytes := int64(samp.ByteLength())
	if s.bytes+nbytes > s.heapMax {
		switch s.cfg.Policy {
		case PolicyDrop:
			atomic.AddUint64(&s.discardedSamples, 1)
			s.notFull.Broadcast() // heap-exceeded: wake anyone watching for room
			return false
		case PolicyBlock:
			for s.bytes > s.heapMax/2 && !s.interrupted {
				s.notFull.Wait()
			}
			if s.interrupted {
				return false
			}
		}
	}

	if s.haveCut && samp.TimeTag() < s.lastCut {
		atomic.AddUint64(&s.badEarlierTimes, 1)
	}

	samp.HoldReference()
	s.insert(samp)
	s.bytes += nbytes
	s.notEmpty.Broadcast()
	return true
}

// insert places samp into items, keeping the slice sorted by TimeTag.
func (s *Sorter) insert(samp *sample.Sample) {
	i := sort.Search(len(s.items), func(i int) bool { return s.items[i].TimeTag() > samp.TimeTag() })
	s.items = append(s.items, nil)
	copy(s.items[i+1:], s.items[i:])
	s.items[i] = samp
}

// Run drives the consumer loop until ctx is cancelled or Interrupt is
// called. It blocks the calling goroutine; callers typically do `go
// sorter.Run(ctx)`.
func (s *Sorter) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.Interrupt()
	}()

	for {
		s.mu.Lock()
		for len(s.items) == 0 && !s.flushRequested && !s.interrupted {
			s.notEmpty.Wait()
		}
		if s.flushRequested {
			toEmit := s.items
			s.items = nil
			s.bytes = 0
			s.flushRequested = false
			s.notFull.Broadcast()
			s.mu.Unlock()
			s.emit(toEmit)
			// Signal flushDone only after Distribute has run for every
			// flushed sample, so Flush's caller can rely on completion.
			s.mu.Lock()
			s.flushDone.Broadcast()
			s.mu.Unlock()
			continue
		}
		if s.interrupted {
			s.mu.Unlock()
			return
		}

		n := s.cfg.LateSampleCacheSize
		if len(s.items) <= n {
			// not enough samples yet to determine a safe cut time
			s.notEmpty.Wait()
			s.mu.Unlock()
			continue
		}
		tLatest := s.items[len(s.items)-1-n].TimeTag()
		tCut := tLatest - s.cfg.SorterLength

		cutIdx := sort.Search(len(s.items), func(i int) bool { return s.items[i].TimeTag() >= tCut })
		if cutIdx == 0 {
			if s.bytes >= s.heapMax {
				s.heapMax += s.heapMax / 2
				log.Notef("[SORTER:%s] heap full with nothing to cut, growing heapMax to %d", s.cfg.Name, s.heapMax)
			}
			s.notEmpty.Wait()
			s.mu.Unlock()
			continue
		}

		toEmit := append([]*sample.Sample(nil), s.items[:cutIdx]...)
		var removed int64
		for _, samp := range toEmit {
			removed += int64(samp.ByteLength())
		}
		s.items = append(s.items[:0], s.items[cutIdx:]...)
		s.bytes -= removed
		s.lastCut = tCut
		s.haveCut = true
		s.notFull.Broadcast()
		s.mu.Unlock()

		s.emit(toEmit)
	}
}

func (s *Sorter) emit(samples []*sample.Sample) {
	for _, samp := range samples {
		if s.Distribute != nil {
			s.Distribute(samp)
		}
		samp.FreeReference()
	}
}

// Flush extracts every currently held sample, in timetag order, hands each
// to Distribute, and blocks until that has completed.
func (s *Sorter) Flush() {
	s.mu.Lock()
	s.flushRequested = true
	s.notEmpty.Broadcast()
	for s.flushRequested {
		s.flushDone.Wait()
	}
	s.mu.Unlock()
}

// Interrupt stops the consumer loop and releases any producer blocked on
// heap pressure. Idempotent.
func (s *Sorter) Interrupt() {
	s.mu.Lock()
	s.interrupted = true
	s.notEmpty.Broadcast()
	s.notFull.Broadcast()
	s.flushDone.Broadcast()
	s.mu.Unlock()
}

// Len returns the number of samples currently held (for tests/diagnostics).
func (s *Sorter) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
