// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package iochannel

import (
	"encoding/hex"
	"io"
	"sync"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/log"
)

// esc is the escape byte recognized by the remote-serial tap protocol,
// matching rserial's client-side convention: ESC a / ESC h switch the
// connection's display mode, and a doubled ESC ESC is unescaped to a
// literal 0x1b byte forwarded to the sensor.
const esc = 0x1b

// OutputMode selects how bytes read back from the sensor are rendered
// to the remote client.
type OutputMode int

const (
	ModeASCII OutputMode = iota
	ModeHex
)

// RemoteSerialConn is the server side of the rserial escape-sequence
// protocol: it sits between one remote client connection and one open
// sensor, demultiplexing the client's escape commands from the bytes to
// forward to the sensor, and rendering bytes coming back from the
// sensor in the client's currently selected OutputMode.
type RemoteSerialConn struct {
	client Channel
	sensor io.Writer

	mu        sync.Mutex
	mode      OutputMode
	lastWasEsc bool
}

// NewRemoteSerialConn builds a tap between client and sensor. mode is
// the connection's initial display mode.
func NewRemoteSerialConn(client Channel, sensor io.Writer, mode OutputMode) *RemoteSerialConn {
	return &RemoteSerialConn{client: client, sensor: sensor, mode: mode}
}

// HandleClientInput reads one chunk of bytes already received from the
// client and applies the escape-sequence state machine, forwarding
// everything that isn't part of an escape sequence to the sensor. It
// mirrors rserial.cc's run() loop body, one buffer at a time instead of
// a blocking read-from-stdin loop, so a caller's own I/O loop drives it.
func (r *RemoteSerialConn) HandleClientInput(buf []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	iout := 0
	for i := 0; i < len(buf); i++ {
		c := buf[i]
		if r.lastWasEsc {
			switch c {
			case 'a':
				r.mode = ModeASCII
				iout = i + 1
			case 'h':
				r.mode = ModeHex
				iout = i + 1
			default:
				// ESC ESC forwards one literal ESC to the sensor; any
				// other escaped byte is forwarded as ESC followed by c.
				out := []byte{esc, c}
				if c == esc {
					out = out[:1]
				}
				if _, err := r.sensor.Write(out); err != nil {
					return err
				}
				iout = i + 1
			}
			r.lastWasEsc = false
			continue
		}
		if c == esc {
			if i > iout {
				if _, err := r.sensor.Write(buf[iout:i]); err != nil {
					return err
				}
			}
			iout = i + 1
			r.lastWasEsc = true
		}
	}
	if iout < len(buf) {
		if _, err := r.sensor.Write(buf[iout:]); err != nil {
			return err
		}
	}
	return nil
}

// ForwardSensorData renders data read from the sensor in the
// connection's current OutputMode and writes it to the client.
func (r *RemoteSerialConn) ForwardSensorData(data []byte) error {
	r.mu.Lock()
	mode := r.mode
	r.mu.Unlock()

	var out []byte
	switch mode {
	case ModeHex:
		out = []byte(hex.EncodeToString(data) + "\n")
	default:
		out = data
	}
	if _, err := r.client.Write(out); err != nil {
		log.Warnf("[IOCHANNEL] remoteserial %s: write to client failed: %v", r.client.Name(), err)
		return err
	}
	return nil
}

// Mode returns the connection's current display mode.
func (r *RemoteSerialConn) Mode() OutputMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}
