// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command nidas-pipeline wires the sensor handler, sample pipeline, and
// status service together from a JSON configuration file: component init
// -> run loop -> signal-triggered shutdown, matching the shape of the
// teacher's cmd/cc-backend entry point.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/gops/agent"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/iochannel"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/log"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/nidtime"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/pipeline"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/sample"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/scanner"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/sensorhandler"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/service"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/sorter"
)

func main() {
	var configFile string
	var enableGops bool
	flag.StringVar(&configFile, "config", "./nidas-pipeline.json", "Path to the pipeline configuration file")
	flag.BoolVar(&enableGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.Parse()

	cfg, err := loadProgramConfig(configFile)
	if err != nil {
		log.Critf("[MAIN] loading config %s: %v", configFile, err)
	}
	if enableGops {
		cfg.Gops = true
	}

	if cfg.Gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Errorf("[MAIN] gops/agent.Listen failed: %v", err)
		}
	}

	rawCfg, err := sorter.LoadConfig(cfg.RawSorter)
	if err != nil {
		log.Critf("[MAIN] raw sorter config: %v", err)
	}
	processedCfg, err := sorter.LoadConfig(cfg.ProcessedSorter)
	if err != nil {
		log.Critf("[MAIN] processed sorter config: %v", err)
	}

	pl := pipeline.New(pipeline.Config{
		Raw:       rawCfg,
		Processed: processedCfg,
		Process:   identityProcess,
		OnProcessed: func(s *sample.Sample) {
			s.FreeReference()
		},
	})

	handler := sensorhandler.New(sensorhandler.Config{
		OnData:    makeOnData(cfg.Sensors, pl),
		OnTimeout: func(name string, stats sensorhandler.Stats) { log.Notef("[MAIN] sensor %s timed out", name) },
		OnClosed:  func(name string) { log.Notef("[MAIN] sensor %s closed", name) },
	})

	for _, sc := range cfg.Sensors {
		sc := sc
		handler.Add(&sensorhandler.Sensor{
			Name:            sc.Name,
			Open:            func(ctx context.Context) (io.ReadCloser, error) { return dialSensor(sc.Address) },
			TimeoutMsecs:    sc.TimeoutMsecs,
			ReopenOnFailure: sc.ReopenOnFailure,
			UsecsPerByte:    sc.UsecsPerByte(),
		})
	}

	var svc *service.Service
	if cfg.ServiceAddr != "" {
		svc = service.New(service.Config{Addr: cfg.ServiceAddr})
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() { defer wg.Done(); pl.Run(ctx) }()

	wg.Add(1)
	go func() { defer wg.Done(); handler.Run(ctx) }()

	if svc != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Run(ctx); err != nil {
				log.Errorf("[MAIN] status service: %v", err)
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Notef("[MAIN] shutting down")

	cancel()
	pl.Flush()
	wg.Wait()
}

// identityProcess is the default Process step when no per-sensor
// derivation processors are configured: raw bytes are already the
// engineering-units payload.
func identityProcess(raw *sample.Sample) []*sample.Sample {
	raw.HoldReference()
	return []*sample.Sample{raw}
}

// makeOnData returns a sensorhandler.Config.OnData callback that scans
// each sensor's byte stream with its configured Scanner and submits one
// raw Sample per completed message to the pipeline.
func makeOnData(sensors []SensorConfig, pl *pipeline.Pipeline) func(string, []byte, nidtime.UTime, float64) {
	scanners := make(map[string]*scanner.Scanner)
	ids := make(map[string]uint32)
	for _, sc := range sensors {
		scCfg, err := scanner.LoadConfig(sc.Scanner)
		if err != nil {
			log.Critf("[MAIN] sensor %s scanner config: %v", sc.Name, err)
		}
		sr, err := scanner.New(scCfg)
		if err != nil {
			log.Critf("[MAIN] sensor %s scanner: %v", sc.Name, err)
		}
		scanners[sc.Name] = sr
		ids[sc.Name] = sc.ID
	}

	return func(name string, data []byte, t nidtime.UTime, usecsPerByte float64) {
		sr, ok := scanners[name]
		if !ok {
			return
		}
		for _, msg := range sr.Feed(data, t, usecsPerByte) {
			s := sample.Get(sample.TypeUByte, len(msg.Data))
			s.SetID(ids[name])
			s.SetTimeTag(msg.Time)
			copy(s.Bytes(), msg.Data)
			if !pl.Receive(s) {
				log.Warnf("[MAIN] raw stage rejected sample from sensor %s", name)
				s.FreeReference()
			}
		}
	}
}

// dialSensor opens a Channel for addr, dispatching on its scheme prefix.
func dialSensor(addr string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(addr, "tcp://"):
		return iochannel.DialTCP(strings.TrimPrefix(addr, "tcp://"), 5*time.Second)
	case strings.HasPrefix(addr, "unix://"):
		return iochannel.DialUnix(strings.TrimPrefix(addr, "unix://"), 5*time.Second)
	case strings.HasPrefix(addr, "udp://"):
		return iochannel.DialUDP(strings.TrimPrefix(addr, "udp://"))
	default:
		return iochannel.DialTCP(addr, 5*time.Second)
	}
}
