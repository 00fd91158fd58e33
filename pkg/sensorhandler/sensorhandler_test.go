// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sensorhandler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/nidtime"
)

// fakeReader delivers a fixed sequence of reads, then blocks until
// closed, at which point it returns the given terminal error.
type fakeReader struct {
	mu       sync.Mutex
	chunks   [][]byte
	closed   chan struct{}
	closeErr error
}

func newFakeReader(closeErr error, chunks ...[]byte) *fakeReader {
	return &fakeReader{chunks: chunks, closed: make(chan struct{}), closeErr: closeErr}
}

func (f *fakeReader) Read(p []byte) (int, error) {
	f.mu.Lock()
	if len(f.chunks) > 0 {
		c := f.chunks[0]
		f.chunks = f.chunks[1:]
		f.mu.Unlock()
		n := copy(p, c)
		return n, nil
	}
	f.mu.Unlock()
	<-f.closed
	return 0, f.closeErr
}

func (f *fakeReader) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func TestHandlerDeliversData(t *testing.T) {
	fr := newFakeReader(io.EOF, []byte("hello"), []byte("world"))

	var mu sync.Mutex
	var received [][]byte
	gotAll := make(chan struct{})

	h := New(Config{
		OnData: func(name string, data []byte, t nidtime.UTime, usecsPerByte float64) {
			mu.Lock()
			received = append(received, append([]byte(nil), data...))
			if len(received) == 2 {
				close(gotAll)
			}
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	h.Add(&Sensor{
		Name: "s1",
		Open: func(ctx context.Context) (io.ReadCloser, error) { return fr, nil },
	})

	select {
	case <-gotAll:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for both chunks")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, "hello", string(received[0]))
	assert.Equal(t, "world", string(received[1]))
}

func TestHandlerReopensOnFailure(t *testing.T) {
	var mu sync.Mutex
	opens := 0
	openedTwice := make(chan struct{})

	h := New(Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	h.Add(&Sensor{
		Name:            "s1",
		ReopenOnFailure: true,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			mu.Lock()
			opens++
			n := opens
			mu.Unlock()
			fr := newFakeReader(errors.New("broken"))
			if n == 1 {
				// First open's reader fails immediately, forcing a reopen.
				fr.Close()
			} else if n == 2 {
				close(openedTwice)
			}
			return fr, nil
		},
	})

	select {
	case <-openedTwice:
	case <-time.After(2 * time.Second):
		t.Fatal("sensor was not reopened after failure")
	}
}

func TestHandlerFiresTimeout(t *testing.T) {
	fired := make(chan Stats, 1)

	h := New(Config{
		SensorCheckInterval: 10 * time.Millisecond,
		OnTimeout: func(name string, stats Stats) {
			select {
			case fired <- stats:
			default:
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	fr := newFakeReader(io.EOF)
	h.Add(&Sensor{
		Name:         "s1",
		TimeoutMsecs: 20,
		Open:         func(ctx context.Context) (io.ReadCloser, error) { return fr, nil },
	})

	select {
	case stats := <-fired:
		assert.GreaterOrEqual(t, stats.ConsecutiveTimeouts, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}
}

func TestHandlerRemoveClosesSensor(t *testing.T) {
	fr := newFakeReader(io.EOF)
	closedCh := make(chan struct{})

	h := New(Config{
		OnClosed: func(name string) { close(closedCh) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	h.Add(&Sensor{
		Name: "s1",
		Open: func(ctx context.Context) (io.ReadCloser, error) { return fr, nil },
	})

	// Give the dispatcher a moment to open the sensor before removing it.
	time.Sleep(50 * time.Millisecond)
	h.Remove("s1")

	select {
	case <-closedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClosed was never called")
	}

	_, ok := h.SensorStats("s1")
	assert.False(t, ok)
}
