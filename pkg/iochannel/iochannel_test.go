// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package iochannel

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPDialAndAccept(t *testing.T) {
	ln, err := ListenTCP("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		buf := make([]byte, 5)
		n, err := conn.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(buf[:n]))
		conn.Close()
		close(serverDone)
	}()

	client, err := DialTCP(ln.Addr().String(), time.Second)
	require.NoError(t, err)
	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)
	client.Close()

	select {
	case <-serverDone:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive data")
	}
}

func TestUnixDialAndAccept(t *testing.T) {
	path := t.TempDir() + "/nidas.sock"
	ln, err := ListenUnix(path)
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		buf := make([]byte, 3)
		n, _ := conn.Read(buf)
		assert.Equal(t, "abc", string(buf[:n]))
		close(serverDone)
	}()

	client, err := DialUnix(path, time.Second)
	require.NoError(t, err)
	_, err = client.Write([]byte("abc"))
	require.NoError(t, err)

	select {
	case <-serverDone:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive data")
	}
}

// fakeChannel captures writes for remote-serial tests.
type fakeChannel struct {
	writes [][]byte
}

func (f *fakeChannel) Read(p []byte) (int, error)  { return 0, nil }
func (f *fakeChannel) Write(p []byte) (int, error) { f.writes = append(f.writes, append([]byte(nil), p...)); return len(p), nil }
func (f *fakeChannel) Close() error                { return nil }
func (f *fakeChannel) Name() string                { return "fake" }

func TestRemoteSerialPassesPlainBytes(t *testing.T) {
	var sensor bytes.Buffer
	client := &fakeChannel{}
	rs := NewRemoteSerialConn(client, &sensor, ModeASCII)

	require.NoError(t, rs.HandleClientInput([]byte("plain data")))
	assert.Equal(t, "plain data", sensor.String())
}

func TestRemoteSerialSwitchesModeOnEscape(t *testing.T) {
	var sensor bytes.Buffer
	client := &fakeChannel{}
	rs := NewRemoteSerialConn(client, &sensor, ModeASCII)

	require.NoError(t, rs.HandleClientInput([]byte{'a', 'b', esc, 'h'}))
	assert.Equal(t, "ab", sensor.String())
	assert.Equal(t, ModeHex, rs.Mode())
}

func TestRemoteSerialDoubleEscForwardsLiteral(t *testing.T) {
	var sensor bytes.Buffer
	client := &fakeChannel{}
	rs := NewRemoteSerialConn(client, &sensor, ModeASCII)

	require.NoError(t, rs.HandleClientInput([]byte{'x', esc, esc, 'y'}))
	assert.Equal(t, []byte{'x', esc, 'y'}, sensor.Bytes())
	assert.Equal(t, ModeASCII, rs.Mode())
}

func TestRemoteSerialForwardsHexToClient(t *testing.T) {
	client := &fakeChannel{}
	rs := NewRemoteSerialConn(client, &bytes.Buffer{}, ModeHex)

	require.NoError(t, rs.ForwardSensorData([]byte{0xde, 0xad}))
	require.Len(t, client.writes, 1)
	assert.Equal(t, "dead\n", string(client.writes[0]))
}
