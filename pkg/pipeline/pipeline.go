// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pipeline wires two sorter.Sorter stages into the sample
// pipeline: a "raw" stage that buffers bytes directly from sensors, and a
// "processed" stage that buffers the engineering-units output of each
// sensor's process step. Samples aged out of the raw stage are routed
// through process() and fed into the processed stage.
package pipeline

import (
	"context"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/log"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/sample"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/sorter"
)

// ProcessFunc converts one raw sample into zero or more processed samples
// in engineering units (a sensor may derive additional variables, e.g.
// wind U/V from speed and direction, or emit nothing for a sample it does
// not recognize). Returned samples are handed to Pipeline with their
// reference already held by the caller's convention: Pipeline takes
// ownership of that reference, and the sample is recycled once the
// processed sorter has aged it out.
type ProcessFunc func(raw *sample.Sample) []*sample.Sample

// Config configures a Pipeline.
type Config struct {
	Raw       sorter.Config
	Processed sorter.Config
	// Process converts raw samples to processed ones. Required.
	Process ProcessFunc
	// OnProcessed receives each processed sample once it ages out of the
	// processed stage, before Pipeline releases its reference.
	OnProcessed func(*sample.Sample)
	// OnRaw optionally receives each raw sample as it ages out of the raw
	// stage (e.g. to hand it to a raw archive writer), before process()
	// runs on it. Optional.
	OnRaw func(*sample.Sample)
}

// Pipeline is the two-stage raw -> process() -> processed sorter chain.
type Pipeline struct {
	cfg       Config
	Raw       *sorter.Sorter
	Processed *sorter.Sorter
}

// New builds a Pipeline. Call Run to start both sorters' consumer
// goroutines.
func New(cfg Config) *Pipeline {
	p := &Pipeline{cfg: cfg}
	p.Processed = sorter.New(cfg.Processed, func(s *sample.Sample) {
		if cfg.OnProcessed != nil {
			cfg.OnProcessed(s)
		}
	})
	p.Raw = sorter.New(cfg.Raw, func(raw *sample.Sample) {
		if cfg.OnRaw != nil {
			cfg.OnRaw(raw)
		}
		p.route(raw)
	})
	return p
}

// route runs process() on a raw sample aged out of the raw stage and
// submits every derived sample to the processed stage, then releases the
// reference Process handed over. An accepted sample stays alive on the
// processed sorter's own reference until it is aged out; a derived sample
// the processed sorter rejects (future timetag, heap pressure under drop
// policy) is recycled here, matching the sample lifecycle rule that the
// caller of a failed receive owns the release.
func (p *Pipeline) route(raw *sample.Sample) {
	derived := p.cfg.Process(raw)
	for _, d := range derived {
		if !p.Processed.Receive(d) {
			log.Warnf("[PIPELINE] processed stage rejected sample id=%#x tt=%d", d.ID(), d.TimeTag())
		}
		d.FreeReference()
	}
}

// Receive submits a raw sample into the pipeline's raw stage.
func (p *Pipeline) Receive(raw *sample.Sample) bool {
	return p.Raw.Receive(raw)
}

// Run starts both sorter consumer loops; it returns once ctx is cancelled
// and both have drained their interrupt.
func (p *Pipeline) Run(ctx context.Context) {
	done := make(chan struct{}, 2)
	go func() { p.Raw.Run(ctx); done <- struct{}{} }()
	go func() { p.Processed.Run(ctx); done <- struct{}{} }()
	<-done
	<-done
}

// Flush drains both stages in the documented order: processed first (so
// anything already routed there is delivered), then raw (which may route
// more samples into the now-drained processed stage — so Flush drains
// processed a second time after raw to catch them).
func (p *Pipeline) Flush() {
	p.Processed.Flush()
	p.Raw.Flush()
	p.Processed.Flush()
}

// Interrupt stops both stages' consumer loops.
func (p *Pipeline) Interrupt() {
	p.Raw.Interrupt()
	p.Processed.Interrupt()
}
