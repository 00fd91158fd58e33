// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sensorhandler multiplexes reads across any number of open
// sensors, with per-sensor timeout detection, reopen-on-failure, and
// periodic statistics, the way §4.4's single-thread epoll loop does. Go
// has no idiomatic epoll handle to reach for, so the multiplexing itself
// is expressed the Go way instead: one goroutine per open sensor blocks
// in Read and fans its result into a single events channel that a lone
// dispatcher goroutine drains — functionally one readiness loop, built
// from goroutines and channels rather than a raw poll set. Each open or
// reopen attempt runs on a short-lived goroutine of its own so the
// dispatcher never blocks on Open.
package sensorhandler

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/iochannel"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/log"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/nidtime"
)

// Sensor describes one data source the handler owns.
type Sensor struct {
	Name string
	// Open returns a fresh, already-connected reader. Called on the
	// opener goroutine, never on the dispatcher.
	Open func(ctx context.Context) (io.ReadCloser, error)
	// TimeoutMsecs is the max quiet interval before a timeout fires; 0
	// disables timeout detection for this sensor.
	TimeoutMsecs int64
	// ReopenOnFailure schedules a reopen (via the opener goroutine)
	// rather than leaving the sensor closed after an IO error.
	ReopenOnFailure bool
	// UsecsPerByte estimates a serial sensor's inter-character arrival
	// time (derived from its baud rate), used to back-date a Read's
	// timestamp to when its first byte actually arrived: §4.1's
	// getSystemTime() - bytes-in-buffer*usecsPerChar. Zero means the
	// sensor's framing makes this unknowable (e.g. already-framed
	// network input), so every byte in a chunk gets the same timestamp.
	UsecsPerByte float64
}

// Stats are the periodic per-sensor throughput counters.
type Stats struct {
	SamplesRead         uint64
	BytesRead           uint64
	SamplesPerSec       float64
	BytesPerSec         float64
	ConsecutiveTimeouts int
	LifetimeTimeouts    int
}

type sensorState struct {
	sensor *Sensor
	rc     io.ReadCloser
	cancel context.CancelFunc

	lastDataTime nidtime.UTime
	stats        Stats
	prevSamples  uint64
	prevBytes    uint64

	reopening bool
	closed    bool
}

type dataEvent struct {
	name         string
	data         []byte
	t            nidtime.UTime
	usecsPerByte float64
	err          error
}

type openResult struct {
	name string
	rc   io.ReadCloser
	err  error
}

// Config configures a Handler.
type Config struct {
	// StatsInterval is how often calcStatistics runs across all sensors.
	// Zero defaults to 5 seconds, matching the handler's default.
	StatsInterval time.Duration
	// SensorCheckInterval is how often sensors are scanned for timeouts.
	// Zero defaults to 1 second.
	SensorCheckInterval time.Duration
	// StatsRateLimit caps how many sensors' calcStatistics run per
	// second, spreading the work across StatsInterval instead of
	// bursting every sensor at once when the set is large. Zero means
	// unlimited.
	StatsRateLimit rate.Limit

	// OnData is called once per successful read, with the bytes read, the
	// back-dated first-byte arrival time, and the sensor's configured
	// UsecsPerByte (for interpolating a per-byte timetag across the
	// chunk, e.g. via scanner.Scanner.Feed).
	OnData func(name string, data []byte, t nidtime.UTime, usecsPerByte float64)
	// OnTimeout is called each time a sensor's quiet interval is
	// exceeded.
	OnTimeout func(name string, stats Stats)
	// OnClosed is called when a sensor is closed (failure without
	// reopen, or explicit Remove).
	OnClosed func(name string)
}

// Handler is the I/O multiplexer: a single dispatcher goroutine (started
// by Run) that owns all sensor state, fed by one reader goroutine per
// open sensor and by a short-lived goroutine per Open request that
// performs the blocking Open call off the dispatcher's critical path;
// there is no single long-lived opener goroutine.
type Handler struct {
	cfg Config

	mu       sync.Mutex
	sensors  map[string]*sensorState

	events  chan dataEvent
	opened  chan openResult
	addCh   chan *Sensor
	removeCh chan string

	statsLimiter *rate.Limiter
}

// New builds a Handler. Call Run to start the dispatcher loop.
func New(cfg Config) *Handler {
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 5 * time.Second
	}
	if cfg.SensorCheckInterval <= 0 {
		cfg.SensorCheckInterval = time.Second
	}
	var limiter *rate.Limiter
	if cfg.StatsRateLimit > 0 {
		limiter = rate.NewLimiter(cfg.StatsRateLimit, 1)
	}
	return &Handler{
		cfg:          cfg,
		sensors:      make(map[string]*sensorState),
		events:       make(chan dataEvent, 64),
		opened:       make(chan openResult, 16),
		addCh:        make(chan *Sensor, 16),
		removeCh:     make(chan string, 16),
		statsLimiter: limiter,
	}
}

// Add schedules a sensor to be opened and multiplexed. Non-blocking: the
// actual open happens on the opener goroutine.
func (h *Handler) Add(s *Sensor) { h.addCh <- s }

// Remove closes and forgets a sensor by name. Non-blocking.
func (h *Handler) Remove(name string) { h.removeCh <- name }

// SensorStats returns a snapshot of one sensor's statistics.
func (h *Handler) SensorStats(name string) (Stats, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.sensors[name]
	if !ok {
		return Stats{}, false
	}
	return st.stats, true
}

// Run drives the dispatcher loop until ctx is cancelled. It blocks the
// calling goroutine.
func (h *Handler) Run(ctx context.Context) {
	statsTicker := time.NewTicker(h.cfg.StatsInterval)
	defer statsTicker.Stop()
	checkTicker := time.NewTicker(h.cfg.SensorCheckInterval)
	defer checkTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case s := <-h.addCh:
			h.mu.Lock()
			h.sensors[s.Name] = &sensorState{sensor: s}
			h.mu.Unlock()
			h.requestOpen(ctx, s, 0)

		case name := <-h.removeCh:
			h.closeSensor(name, true)

		case res := <-h.opened:
			h.handleOpened(ctx, res)

		case ev := <-h.events:
			h.handleEvent(ev)

		case <-statsTicker.C:
			go h.runStatsPass()

		case <-checkTicker.C:
			h.checkTimeouts()
		}
	}
}

// requestOpen runs s.Open on its own goroutine, off the dispatcher's
// critical path, waiting delay first if a previous attempt failed. This
// is the background-connect task of §9: the connect side backs off
// rather than busy-looping against a host that keeps refusing or timing
// out.
func (h *Handler) requestOpen(ctx context.Context, s *Sensor, delay time.Duration) {
	if delay > 0 {
		log.Notef("[SENSORHANDLER] reopening %s in %s", s.Name, delay)
	}
	go func() {
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
		rc, err := s.Open(ctx)
		select {
		case h.opened <- openResult{name: s.Name, rc: rc, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (h *Handler) handleOpened(ctx context.Context, res openResult) {
	h.mu.Lock()
	st, ok := h.sensors[res.name]
	if !ok {
		h.mu.Unlock()
		if res.rc != nil {
			res.rc.Close()
		}
		return
	}
	st.reopening = false
	if res.err != nil {
		h.mu.Unlock()
		log.Errorf("[SENSORHANDLER] open %s failed: %v", res.name, res.err)
		if st.sensor.ReopenOnFailure {
			h.requestOpen(ctx, st.sensor, iochannel.BackoffFor(res.err))
		}
		return
	}
	st.rc = res.rc
	st.closed = false
	st.lastDataTime = nidtime.Now()
	readerCtx, cancel := context.WithCancel(ctx)
	st.cancel = cancel
	h.mu.Unlock()

	go h.readLoop(readerCtx, st.sensor, res.rc)
}

// readLoop blocks in Read until EOF/error/cancellation, fanning each
// successful read (and the terminal error) into the shared events
// channel. This is the reader-goroutine side of the multiplexer: Go's
// runtime scheduler is the "epoll set", not anything this package has to
// build itself.
//
// §4.1's Timing requirement defines a chunk's first-byte arrival time as
// getSystemTime() minus bytes-in-buffer*usecsPerChar: Read only returns
// once the last byte of the chunk has arrived, so the timestamp taken
// here is back-dated by (n-1)*UsecsPerByte before being handed to the
// scanner.
func (h *Handler) readLoop(ctx context.Context, s *Sensor, rc io.ReadCloser) {
	buf := make([]byte, 4096)
	for {
		n, err := rc.Read(buf)
		lastByteTime := nidtime.Now()
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			tFirstByte := lastByteTime
			if s.UsecsPerByte > 0 && n > 1 {
				tFirstByte -= nidtime.UTime(float64(n-1) * s.UsecsPerByte)
			}
			select {
			case h.events <- dataEvent{name: s.Name, data: data, t: tFirstByte, usecsPerByte: s.UsecsPerByte}:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			select {
			case h.events <- dataEvent{name: s.Name, err: err, t: lastByteTime}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (h *Handler) handleEvent(ev dataEvent) {
	h.mu.Lock()
	st, ok := h.sensors[ev.name]
	if !ok {
		h.mu.Unlock()
		return
	}

	if ev.err != nil {
		reopen := st.sensor.ReopenOnFailure
		sensor := st.sensor
		h.mu.Unlock()
		if ev.err == io.EOF {
			log.Notef("[SENSORHANDLER] %s: EOF", ev.name)
		} else {
			log.Errorf("[SENSORHANDLER] %s: read error: %v", ev.name, ev.err)
		}
		h.closeSensor(ev.name, !reopen)
		if reopen {
			// The stream itself failing (EOF, connection reset, ...) isn't
			// one of §6's named connect-error classes, so the first
			// reopen attempt runs immediately; if the resulting Open call
			// itself fails, handleOpened applies the classified backoff
			// before trying again.
			h.requestOpen(context.Background(), sensor, 0)
		}
		return
	}

	st.lastDataTime = ev.t
	st.stats.ConsecutiveTimeouts = 0
	st.stats.SamplesRead++
	st.stats.BytesRead += uint64(len(ev.data))
	onData := h.cfg.OnData
	h.mu.Unlock()

	if onData != nil {
		onData(ev.name, ev.data, ev.t, ev.usecsPerByte)
	}
}

// closeSensor cancels the sensor's reader goroutine (if any), closes its
// reader, and — if remove is true — forgets it entirely; otherwise it
// stays known (for a pending reopen) but with rc cleared.
func (h *Handler) closeSensor(name string, remove bool) {
	h.mu.Lock()
	st, ok := h.sensors[name]
	if !ok {
		h.mu.Unlock()
		return
	}
	if st.cancel != nil {
		st.cancel()
		st.cancel = nil
	}
	rc := st.rc
	st.rc = nil
	st.closed = true
	if remove {
		delete(h.sensors, name)
	}
	h.mu.Unlock()

	if rc != nil {
		rc.Close()
	}
	if remove && h.cfg.OnClosed != nil {
		h.cfg.OnClosed(name)
	}
}

func (h *Handler) checkTimeouts() {
	now := nidtime.Now()
	type fired struct {
		name  string
		stats Stats
	}
	var firedList []fired

	h.mu.Lock()
	for name, st := range h.sensors {
		if st.sensor.TimeoutMsecs <= 0 || st.closed {
			continue
		}
		elapsedMs := int64(now-st.lastDataTime) / int64(nidtime.UsecsPerMsec)
		if elapsedMs > st.sensor.TimeoutMsecs {
			st.stats.ConsecutiveTimeouts++
			st.stats.LifetimeTimeouts++
			firedList = append(firedList, fired{name: name, stats: st.stats})
		}
	}
	h.mu.Unlock()

	for _, f := range firedList {
		log.Notef("[SENSORHANDLER] %s: timeout (consecutive=%d lifetime=%d)",
			f.name, f.stats.ConsecutiveTimeouts, f.stats.LifetimeTimeouts)
		if h.cfg.OnTimeout != nil {
			h.cfg.OnTimeout(f.name, f.stats)
		}
	}
}

// runStatsPass computes samples/bytes-per-second for every known sensor,
// pacing the work with statsLimiter so a set of thousands of sensors
// does not all get recomputed in the same instant.
func (h *Handler) runStatsPass() {
	h.mu.Lock()
	names := make([]string, 0, len(h.sensors))
	for name := range h.sensors {
		names = append(names, name)
	}
	h.mu.Unlock()

	interval := h.cfg.StatsInterval.Seconds()
	for _, name := range names {
		if h.statsLimiter != nil {
			h.statsLimiter.Wait(context.Background())
		}
		h.mu.Lock()
		st, ok := h.sensors[name]
		if ok {
			deltaSamples := st.stats.SamplesRead - st.prevSamples
			deltaBytes := st.stats.BytesRead - st.prevBytes
			st.prevSamples = st.stats.SamplesRead
			st.prevBytes = st.stats.BytesRead
			if interval > 0 {
				st.stats.SamplesPerSec = float64(deltaSamples) / interval
				st.stats.BytesPerSec = float64(deltaBytes) / interval
			}
		}
		h.mu.Unlock()
	}
}

// shutdown closes every known sensor. Called once, from Run, when ctx is
// cancelled.
func (h *Handler) shutdown() {
	h.mu.Lock()
	names := make([]string, 0, len(h.sensors))
	for name := range h.sensors {
		names = append(names, name)
	}
	h.mu.Unlock()
	for _, name := range names {
		h.closeSensor(name, true)
	}
}
