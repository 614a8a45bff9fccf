// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"net"
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

// SocketPair returns two connected Unix stream sockets. Unlike
// net.Pipe, writes are buffered by the kernel, so two peers that both
// write while dispatching do not deadlock. Both ends are closed when
// the test completes.
func SocketPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	conns := make([]net.Conn, 2)
	for i, fd := range fds {
		file := os.NewFile(uintptr(fd), "socketpair")
		conn, err := net.FileConn(file)
		file.Close()
		if err != nil {
			t.Fatalf("socketpair conn: %v", err)
		}
		conns[i] = conn
		t.Cleanup(func() { conn.Close() })
	}
	return conns[0], conns[1]
}
