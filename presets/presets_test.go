package presets

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetectDebianDirNullBackend(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "debian"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	p, err := Detect(dir, "null")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if p.BuildCommand != presetDebBuildCommand {
		t.Errorf("BuildCommand = %q, want %q", p.BuildCommand, presetDebBuildCommand)
	}
	if p.TestbedInit != "" {
		t.Errorf("TestbedInit = %q, want empty for the null backend", p.TestbedInit)
	}
}

func TestDetectDebianDirNonNullBackendAddsInit(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "debian"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	p, err := Detect(dir, "schroot")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if p.TestbedInit == "" {
		t.Error("expected a non-empty testbed_init for a non-null backend")
	}
}

func TestDetectRejectsUnrecognizedTree(t *testing.T) {
	dir := t.TempDir()
	if _, err := Detect(dir, "null"); err == nil {
		t.Error("expected an error for a directory without debian/")
	}
}
