// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", 0, true},
	}
	for _, test := range tests {
		got, err := ParseLevel(test.name)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", test.name, err, test.wantErr)
			continue
		}
		if got != test.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", test.name, got, test.want)
		}
	}
}

func TestNewHandler(t *testing.T) {
	t.Parallel()
	var buffer bytes.Buffer
	logger := slog.New(newHandler(&buffer, false, slog.LevelInfo))
	logger.Debug("hidden")
	logger.Info("shown", "object", "tree")

	var record map[string]any
	if err := json.Unmarshal(buffer.Bytes(), &record); err != nil {
		t.Fatalf("piped output is not one JSON record: %v (%q)", err, buffer.String())
	}
	if record["msg"] != "shown" || record["object"] != "tree" {
		t.Errorf("record = %v, want msg=shown object=tree", record)
	}

	buffer.Reset()
	slog.New(newHandler(&buffer, true, slog.LevelInfo)).Info("shown")
	if !strings.Contains(buffer.String(), "msg=shown") {
		t.Errorf("terminal output = %q, want text format", buffer.String())
	}
}
