// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnescapeSeparatorRoundTrip(t *testing.T) {
	got, err := UnescapeSeparator(`\r\n`)
	require.NoError(t, err)
	assert.Equal(t, "\r\n", got)
	assert.Equal(t, `\r\n`, EscapeSeparator(got))

	got, err = UnescapeSeparator(`\x02`)
	require.NoError(t, err)
	assert.Equal(t, "\x02", got)

	got, err = UnescapeSeparator(`\061`)
	require.NoError(t, err)
	assert.Equal(t, "1", got) // octal 061 == '1' (0x31)
}

func TestEOMVariableLength(t *testing.T) {
	s, err := New(Config{Separator: `\r\n`, AtEOM: true})
	require.NoError(t, err)

	msgs := s.Feed([]byte("AAA\r\nBBB\r\nCC"), 0, 1)
	require.Len(t, msgs, 2)
	assert.Equal(t, "AAA\r\n", string(msgs[0].Data))
	assert.Equal(t, "BBB\r\n", string(msgs[1].Data))

	// the trailing "CC" with no terminator stays buffered
	msgs = s.Feed([]byte("C\r\n"), 20, 1)
	require.Len(t, msgs, 1)
	assert.Equal(t, "CCC\r\n", string(msgs[0].Data))
}

func TestEOMFixedLength(t *testing.T) {
	s, err := New(Config{Separator: `\n`, AtEOM: true, MessageLength: 3})
	require.NoError(t, err)

	msgs := s.Feed([]byte("abc\ndef\n"), 0, 1)
	require.Len(t, msgs, 2)
	assert.Equal(t, "abc\n", string(msgs[0].Data))
	assert.Equal(t, "def\n", string(msgs[1].Data))
}

func TestBOMVariableLength(t *testing.T) {
	s, err := New(Config{Separator: `\x02`, AtEOM: false})
	require.NoError(t, err)

	// each message starts at a separator and is emitted when the next
	// separator arrives; the trailing "BBB" waits for the next Feed.
	msgs := s.Feed([]byte("\x02AAA\x02BBB"), 0, 1)
	require.Len(t, msgs, 1)
	assert.Equal(t, "\x02AAA", string(msgs[0].Data))

	msgs = s.Feed([]byte("\x02"), 10, 1)
	require.Len(t, msgs, 1)
	assert.Equal(t, "\x02BBB", string(msgs[0].Data))
}

func TestOverflowCounted(t *testing.T) {
	s, err := New(Config{Separator: `\n`, AtEOM: true, MaxMessageSize: 4})
	require.NoError(t, err)

	msgs := s.Feed([]byte("abcdefgh"), 0, 1)
	assert.NotEmpty(t, msgs)
	assert.Greater(t, s.OverflowCount(), uint64(0))
}

func TestNullTerminated(t *testing.T) {
	s, err := New(Config{Separator: `\n`, AtEOM: true, NullTerminated: true})
	require.NoError(t, err)
	msgs := s.Feed([]byte("hi\n"), 0, 1)
	require.Len(t, msgs, 1)
	assert.Equal(t, byte(0), msgs[0].Data[len(msgs[0].Data)-1])
}

func TestScanfFormat(t *testing.T) {
	f, err := ParseFormat("T=%f,P=%f RH=%d")
	require.NoError(t, err)
	assert.Equal(t, 3, f.NumFields())

	vals, n, err := f.Scan("T=23.5,P=1013.2 RH=55")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []float64{23.5, 1013.2, 55}, vals)
}

func TestScanfPartialMatch(t *testing.T) {
	f, err := ParseFormat("%f,%f,%f")
	require.NoError(t, err)
	vals, n, err := f.Scan("1.0,2.0,")
	assert.Error(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []float64{1.0, 2.0}, vals)
}

func TestScanfSkipField(t *testing.T) {
	f, err := ParseFormat("%*d %f")
	require.NoError(t, err)
	assert.Equal(t, 1, f.NumFields())
	vals, n, err := f.Scan("99 3.5")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []float64{3.5}, vals)
}

func TestMultiplexerRoundRobin(t *testing.T) {
	f1, _ := ParseFormat("A,%f")
	f2, _ := ParseFormat("B,%f")
	m := NewMultiplexer([]TaggedFormat{{ID: 1, Format: f1}, {ID: 2, Format: f2}})

	id, vals, ok := m.Scan("B,5.0")
	require.True(t, ok)
	assert.EqualValues(t, 2, id)
	assert.Equal(t, []float64{5.0}, vals)

	id, vals, ok = m.Scan("A,6.0")
	require.True(t, ok)
	assert.EqualValues(t, 1, id)
	assert.Equal(t, []float64{6.0}, vals)

	_, _, ok = m.Scan("nonsense")
	assert.False(t, ok)
	assert.EqualValues(t, 1, m.Failures)
}
