// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds what the modelsync binaries share around
// main: log level parsing, the logger and the exit path.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Exit codes. A usage error (bad flags, a missing --model) exits 2 so
// scripts can tell it apart from a probe that could not be reached.
const (
	ExitFailure = 1
	ExitUsage   = 2
)

// UsageError marks an error in how a binary was invoked.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string { return e.Message }

// Usagef returns a *UsageError with a formatted message.
func Usagef(format string, args ...any) error {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// ExitCode returns the exit status for an error returned by run.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var usage *UsageError
	if errors.As(err, &usage) {
		return ExitUsage
	}
	return ExitFailure
}

// Fatal writes "error: err" to stderr and exits with ExitCode(err).
// Binaries call it from main, where the structured logger may not
// exist yet.
func Fatal(err error) {
	report(os.Stderr, err)
	os.Exit(ExitCode(err))
}

func report(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %v\n", err)
	var usage *UsageError
	if errors.As(err, &usage) {
		fmt.Fprintf(w, "run with --help for usage\n")
	}
}
