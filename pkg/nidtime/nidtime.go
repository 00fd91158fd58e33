// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package nidtime implements the microsecond-resolution timetag used
// throughout the sample pipeline: a signed 64-bit count of microseconds
// since the Unix epoch, UTC.
package nidtime

import (
	"fmt"
	"time"
)

// UTime is microseconds since the Unix epoch (UTC). All sample timetags,
// sorter cut times, and sync-record second boundaries are UTime values.
type UTime int64

const (
	UsecsPerMsec  UTime = 1000
	UsecsPerSec   UTime = 1_000_000
	UsecsPerMin   UTime = 60 * UsecsPerSec
	UsecsPerHour  UTime = 60 * UsecsPerMin
	UsecsPerDay   UTime = 24 * UsecsPerHour
)

// Now returns the current time as a UTime.
func Now() UTime {
	return FromTime(time.Now())
}

// FromTime converts a time.Time to a UTime, truncating to microsecond
// resolution.
func FromTime(t time.Time) UTime {
	return UTime(t.UnixMicro())
}

// ToTime converts a UTime back to a time.Time (UTC).
func (t UTime) ToTime() time.Time {
	return time.UnixMicro(int64(t)).UTC()
}

// Ceiling returns the smallest UTime that is a multiple of period and is
// >= t. period must be positive.
func (t UTime) Ceiling(period UTime) UTime {
	if period <= 0 {
		return t
	}
	rem := t % period
	if rem == 0 {
		return t
	}
	if t >= 0 {
		return t + (period - rem)
	}
	return t - rem
}

// Floor returns the largest UTime that is a multiple of period and is <= t.
func (t UTime) Floor(period UTime) UTime {
	if period <= 0 {
		return t
	}
	rem := t % period
	if rem == 0 {
		return t
	}
	if t >= 0 {
		return t - rem
	}
	return t - rem - period
}

// Format renders the timetag as an RFC3339-with-microseconds UTC string,
// the conventional NIDAS log/archive format.
func (t UTime) Format() string {
	tm := t.ToTime()
	return fmt.Sprintf("%s.%06dZ", tm.Format("2006-01-02T15:04:05"), tm.Nanosecond()/1000)
}

// Parse parses a timetag previously produced by Format.
func Parse(s string) (UTime, error) {
	tm, err := time.Parse("2006-01-02T15:04:05.000000Z", s)
	if err != nil {
		return 0, fmt.Errorf("nidtime: parse %q: %w", s, err)
	}
	return FromTime(tm), nil
}

// Add returns t + d, where d is a time.Duration converted to microseconds.
func (t UTime) Add(d time.Duration) UTime {
	return t + UTime(d.Microseconds())
}

// Sub returns the difference t - other as a time.Duration.
func (t UTime) Sub(other UTime) time.Duration {
	return time.Duration(int64(t-other)) * time.Microsecond
}
