package diffrun

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestRunIdenticalDirectories(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFile(t, a, "artifact", "same\n")
	writeFile(t, b, "artifact", "same\n")

	res, err := Run(a, b, false, nil, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Identical {
		t.Errorf("Identical = false, want true:\n%s", res.Output)
	}
}

func TestRunDifferingDirectories(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFile(t, a, "artifact", "one\n")
	writeFile(t, b, "artifact", "two\n")

	res, err := Run(a, b, false, nil, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Identical {
		t.Error("Identical = true, want false")
	}
	if res.Output == "" {
		t.Error("expected non-empty diff output")
	}
}

func TestRunWritesOutputFile(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFile(t, a, "artifact", "one\n")
	writeFile(t, b, "artifact", "two\n")

	out := filepath.Join(t.TempDir(), "nested", "diffoscope.out")
	if _, err := Run(a, b, false, nil, out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output file not written: %v", err)
	}
}
