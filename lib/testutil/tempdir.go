// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for modelsync packages.
//
// Helpers call t.Fatalf on failure rather than returning errors, since
// test setup failures are not recoverable.
package testutil

import (
	"os"
	"testing"
)

// SocketDir creates a temporary directory for Unix domain sockets.
//
// sun_path is limited to 108 bytes and t.TempDir() paths can exceed
// it, so the directory is created directly in /tmp. It is removed
// when the test completes.
func SocketDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "modelsync-test-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(directory)
	})
	return directory
}
