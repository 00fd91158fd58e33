// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package iochannel

import (
	"errors"
	"net"
	"syscall"
	"time"
)

// BackoffFor classifies a connect error the way §6 requires: 30s after an
// unknown-host (DNS resolution) failure, 10s after ECONNREFUSED,
// ENETUNREACH, ETIMEDOUT, or EHOSTUNREACH, and no added delay for anything
// else, so an unclassified error retries immediately rather than silently
// inheriting a policy §6 never named for it.
func BackoffFor(err error) time.Duration {
	if err == nil {
		return 0
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return 30 * time.Second
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ENETUNREACH, syscall.ETIMEDOUT, syscall.EHOSTUNREACH:
			return 10 * time.Second
		}
	}
	return 0
}
