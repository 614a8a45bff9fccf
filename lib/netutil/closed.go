// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies socket errors seen by modelsync
// transports: a probe connection ending normally, and a discovery
// broadcast with no network to go to.
package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal end of a probe
// connection: EOF, a closed connection, a broken pipe or a reset. The
// endpoint logs these at debug level when a client goes away mid-read
// or mid-write.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	return isErrno(err, syscall.EPIPE, syscall.ECONNRESET)
}

// IsUnreachable reports whether a datagram send failed because the
// host has no route for it, as with a broadcast on a machine whose
// interfaces are all down.
func IsUnreachable(err error) bool {
	return isErrno(err, syscall.ENETUNREACH, syscall.EHOSTUNREACH, syscall.EADDRNOTAVAIL, syscall.ENETDOWN)
}

func isErrno(err error, candidates ...syscall.Errno) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	for _, candidate := range candidates {
		if errno == candidate {
			return true
		}
	}
	return false
}
