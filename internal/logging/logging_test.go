package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBuildWritesJSONToStdoutAndFile(t *testing.T) {
	var stdout bytes.Buffer
	file := filepath.Join(t.TempDir(), "indexer.log")

	logger, closer, err := build(&stdout, Options{Level: "warn", File: file})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	logger.Info("dropped")
	logger.Warn("kept", "token", "syrupUSDC")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &line); err != nil {
		t.Fatalf("stdout is not one JSON line: %v\n%s", err, stdout.String())
	}
	if line["msg"] != "kept" || line["token"] != "syrupUSDC" {
		t.Errorf("unexpected record: %v", line)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"kept"`) || strings.Contains(string(data), "dropped") {
		t.Errorf("log file content:\n%s", data)
	}
}

func TestBuildRejectsUnknownLevel(t *testing.T) {
	if _, _, err := build(&bytes.Buffer{}, Options{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}
