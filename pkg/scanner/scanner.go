// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scanner turns a raw byte stream from a sensor into discrete
// messages by locating a configured separator, either at the beginning
// (BOM) or end (EOM) of each message, with either a fixed or
// separator-delimited message length.
package scanner

import (
	"fmt"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/nidtime"
)

const defaultMaxMessageSize = 8192

// Config describes one message-separator configuration, normally read
// straight out of a sensor's configuration document.
type Config struct {
	// Separator is the escaped separator string, e.g. "\r\n" or "\x02".
	// UnescapeSeparator is applied once, at New.
	Separator string
	// AtEOM is true when Separator marks the end of a message; false
	// means it marks the beginning of the next one.
	AtEOM bool
	// MessageLength is the fixed message length in bytes, or 0 for a
	// variable length message delimited purely by the separator.
	MessageLength int
	// NullTerminated appends a trailing NUL byte to each completed
	// message, for scanf-style text parsing downstream.
	NullTerminated bool
	// MaxMessageSize caps how large a message is allowed to grow before
	// it is force-flushed and counted as an overflow. Zero uses 8192.
	MaxMessageSize int
}

// Message is one complete, separator-delimited message together with the
// timetag of its first byte.
type Message struct {
	Data []byte
	Time nidtime.UTime
}

// Scanner holds the running state of the BOM/EOM separator search across
// successive calls to Feed; a sensor's byte stream arrives in arbitrarily
// chopped reads, so that state must survive between calls.
type Scanner struct {
	cfg     Config
	sep     []byte
	maxSize int

	out    []byte
	outLen int
	sepCnt int

	bomTime    nidtime.UTime
	pendingBOM nidtime.UTime

	overflows uint64
}

// New builds a Scanner from cfg, unescaping cfg.Separator.
func New(cfg Config) (*Scanner, error) {
	sep, err := UnescapeSeparator(cfg.Separator)
	if err != nil {
		return nil, err
	}
	if len(sep) == 0 {
		return nil, fmt.Errorf("scanner: empty message separator")
	}
	if cfg.NullTerminated && !endsInCROrLF(sep) {
		cfg.NullTerminated = false
	}
	maxSize := cfg.MaxMessageSize
	if maxSize <= 0 {
		maxSize = defaultMaxMessageSize
	}
	return &Scanner{
		cfg:     cfg,
		sep:     []byte(sep),
		maxSize: maxSize,
	}, nil
}

// endsInCROrLF reports whether sep terminates with a carriage return or
// line feed, the only case where appending a trailing NUL for downstream
// scanf-style parsing makes sense.
func endsInCROrLF(sep []byte) bool {
	if len(sep) == 0 {
		return false
	}
	last := sep[len(sep)-1]
	return last == '\r' || last == '\n'
}

// OverflowCount returns the number of times an in-progress message reached
// MaxMessageSize before a separator was found and was force-flushed.
func (s *Scanner) OverflowCount() uint64 { return s.overflows }

// Feed scans data, a contiguous chunk of bytes read from the sensor whose
// first byte arrived at tFirstByte, and returns every message completed
// during this call. usecsPerByte estimates the inter-arrival time of bytes
// within the chunk, used to interpolate a per-byte timetag the way a serial
// byte stream's characters trickle in at roughly the line's bit rate.
func (s *Scanner) Feed(data []byte, tFirstByte nidtime.UTime, usecsPerByte float64) []Message {
	var msgs []Message
	for i, c := range data {
		t := tFirstByte + nidtime.UTime(float64(i)*usecsPerByte)
		if s.cfg.AtEOM {
			s.stepEOM(c, t, &msgs)
		} else {
			s.stepBOM(c, t, &msgs)
		}
	}
	return msgs
}

func (s *Scanner) appendByte(c byte) {
	s.out = append(s.out[:s.outLen], c)
	s.outLen++
}

func (s *Scanner) appendBytes(b []byte) {
	s.out = append(s.out[:s.outLen], b...)
	s.outLen += len(b)
}

func (s *Scanner) emit() Message {
	data := make([]byte, s.outLen, s.outLen+1)
	copy(data, s.out[:s.outLen])
	if s.cfg.NullTerminated {
		data = append(data, 0)
	}
	s.outLen = 0
	return Message{Data: data, Time: s.bomTime}
}

// stepEOM advances the separator-at-end-of-message state machine by one
// byte. The message is complete the instant the trailing bytes match the
// separator (fixed length: only once MessageLength bytes have accumulated;
// variable length: as soon as the separator matches, wherever it falls).
func (s *Scanner) stepEOM(c byte, t nidtime.UTime, out *[]Message) {
	if s.outLen == 0 {
		s.bomTime = t
	}
	if s.outLen >= s.maxSize {
		s.overflows++
		*out = append(*out, s.emit())
		s.sepCnt = 0
		s.bomTime = t
	}
	s.appendByte(c)

	checking := s.cfg.MessageLength == 0 || s.outLen >= s.cfg.MessageLength
	if checking {
		switch {
		case c == s.sep[s.sepCnt]:
			s.sepCnt++
		case c == s.sep[0]:
			s.sepCnt = 1
		default:
			s.sepCnt = 0
		}
	}
	if s.sepCnt == len(s.sep) {
		*out = append(*out, s.emit())
		s.sepCnt = 0
	}
}

// stepBOM advances the separator-at-beginning-of-message state machine by
// one byte. A full separator match completes and emits whatever message was
// accumulating before it (if any), then becomes the first bytes of the
// next message.
func (s *Scanner) stepBOM(c byte, t nidtime.UTime, out *[]Message) {
	for {
		if s.sepCnt < len(s.sep) {
			if c == s.sep[s.sepCnt] {
				if s.sepCnt == 0 {
					s.pendingBOM = t
				}
				s.sepCnt++
				if s.sepCnt == len(s.sep) {
					if s.outLen > 0 {
						*out = append(*out, s.emit())
					}
					s.bomTime = s.pendingBOM
					s.appendBytes(s.sep)
				}
				return
			}
			if s.sepCnt > 0 {
				// partial separator match failed; the partial bytes were
				// real data after all.
				s.appendBytes(s.sep[:s.sepCnt])
				s.sepCnt = 0
				continue
			}
			if s.outLen == 0 {
				s.bomTime = t
			}
			if s.outLen >= s.maxSize {
				s.overflows++
				*out = append(*out, s.emit())
			}
			s.appendByte(c)
			return
		}

		// sepCnt == len(sep): filling the message body after a confirmed
		// separator match.
		if s.outLen >= s.maxSize {
			s.overflows++
			*out = append(*out, s.emit())
			s.sepCnt = 0
			continue
		}
		if s.cfg.MessageLength == 0 {
			if c == s.sep[0] {
				s.sepCnt = 0
				continue
			}
			s.appendByte(c)
			return
		}
		s.appendByte(c)
		if s.outLen == s.cfg.MessageLength {
			s.sepCnt = 0
		}
		return
	}
}
