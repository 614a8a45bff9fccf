// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	saved := GitDirty
	t.Cleanup(func() { GitDirty = saved })

	GitDirty = "true"
	info := Info()
	if !strings.Contains(info, Version) || !strings.Contains(info, "-dirty") {
		t.Errorf("Info() = %q, want version and dirty marker", info)
	}
	if !strings.Contains(info, "protocol 3") {
		t.Errorf("Info() = %q, want protocol version", info)
	}
	if !strings.HasPrefix(Full(), info) {
		t.Errorf("Full() does not start with Info()")
	}
}
