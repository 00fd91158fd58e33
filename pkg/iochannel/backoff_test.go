// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package iochannel

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffForUnknownHost(t *testing.T) {
	err := &net.DNSError{Err: "no such host", Name: "nosuch.invalid", IsNotFound: true}
	assert.Equal(t, 30*time.Second, BackoffFor(err))
}

func TestBackoffForConnectionRefused(t *testing.T) {
	err := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	assert.Equal(t, 10*time.Second, BackoffFor(err))
}

func TestBackoffForUnclassifiedErrorIsImmediate(t *testing.T) {
	err := errors.New("some other failure")
	assert.Equal(t, time.Duration(0), BackoffFor(err))
}

func TestBackoffForNilIsZero(t *testing.T) {
	assert.Equal(t, time.Duration(0), BackoffFor(nil))
}

func TestBackoffForWrappedErrno(t *testing.T) {
	err := fmt.Errorf("connect: %w", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.EHOSTUNREACH})
	assert.Equal(t, 10*time.Second, BackoffFor(err))
}
