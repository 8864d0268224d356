package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aschepis/backscratcher/mnemo/config"
	"github.com/aschepis/backscratcher/mnemo/memory"
)

func TestChatCommandsWithoutModel(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("\n/help\n/bogus\n/quit\nnever read\n")
	if err := chat(context.Background(), nil, "alice", in, &out); err != nil {
		t.Fatalf("chat: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "/memories") {
		t.Errorf("help not printed: %q", got)
	}
	if !strings.Contains(got, "unknown command /bogus") {
		t.Errorf("unknown command not reported: %q", got)
	}
}

func TestFormatRecord(t *testing.T) {
	r := memory.Record{Text: "Lives in Osaka", Categories: []string{"location", "personal"}, CreatedAt: "2026-01-02 03:04"}
	want := "[2026-01-02 03:04] Lives in Osaka (Categories: location, personal)"
	if got := formatRecord(r); got != want {
		t.Fatalf("formatRecord = %q, want %q", got, want)
	}
}

func TestInitConfigWritesLoadableDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := initConfig(path); err != nil {
		t.Fatalf("initConfig: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := config.Default()
	if cfg.Store.Backend != want.Store.Backend || cfg.Memory.Limit != want.Memory.Limit {
		t.Errorf("loaded config = %+v, want defaults", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestInitConfigKeepsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("store:\n  backend: qdrant\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := initConfig(path); err == nil {
		t.Fatal("initConfig should refuse to overwrite")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "qdrant") {
		t.Errorf("existing file was changed: %q", data)
	}
}
