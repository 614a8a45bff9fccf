// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func TestExitCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("connection refused"), ExitFailure},
		{"usage", Usagef("--model is required"), ExitUsage},
		{"wrapped usage", fmt.Errorf("dump: %w", Usagef("unexpected argument: %s", "x")), ExitUsage},
	}
	for _, test := range tests {
		if got := ExitCode(test.err); got != test.want {
			t.Errorf("ExitCode(%s) = %d, want %d", test.name, got, test.want)
		}
	}
}

func TestReport(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	report(&out, errors.New("connection refused"))
	if got, want := out.String(), "error: connection refused\n"; got != want {
		t.Errorf("report = %q, want %q", got, want)
	}

	out.Reset()
	report(&out, Usagef("--model is required"))
	if got, want := out.String(), "error: --model is required\nrun with --help for usage\n"; got != want {
		t.Errorf("report = %q, want %q", got, want)
	}
}
