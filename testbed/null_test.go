package testbed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestNullDriverLifecycle(t *testing.T) {
	ctx := context.Background()
	d, err := New("null")
	if err != nil {
		t.Fatalf("New(null): %v", err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	scratch, err := d.Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if scratch == "" {
		t.Fatal("Open returned an empty scratch path")
	}

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "hello.txt"), []byte("hi\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	dst := filepath.Join(scratch, "copied")
	if err := d.Copydown(ctx, src+string(filepath.Separator), dst+string(filepath.Separator)); err != nil {
		t.Fatalf("Copydown: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "hello.txt")); err != nil {
		t.Errorf("copied file missing: %v", err)
	}

	res, err := d.Execute(ctx, []string{"true"}, nil, KindShort)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}

	if _, err := d.CheckExec(ctx, []string{"false"}, nil, KindShort); err == nil {
		t.Error("CheckExec should fail a nonzero exit")
	}

	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := os.Stat(scratch); !os.IsNotExist(err) {
		t.Errorf("scratch dir %q survived Stop", scratch)
	}
}

func TestNewUnknownBackend(t *testing.T) {
	if _, err := New("definitely-not-a-real-backend"); err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
}
